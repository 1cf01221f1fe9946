// Command publish_storm connects to a running postoffice cluster as an
// extra worker, subscribes to a glob pattern, and fires a burst of
// publishes at matching channels to demonstrate cluster-wide fan-out.
// Usage:
//
//	go run ./demo/publish_storm -socket /tmp/postoffice-sock-1234 -pattern "orders.*" -count 100
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/lineCode/postoffice/internal/cluster"
	"github.com/lineCode/postoffice/internal/postoffice"
)

func main() {
	socketPath := flag.String("socket", "", "cluster Unix-domain socket path (required)")
	pattern := flag.String("pattern", "orders.*", "glob pattern to subscribe on")
	count := flag.Int("count", 100, "number of messages to publish")
	scope := flag.String("scope", "cluster", `publish scope: "cluster", "process", "siblings", or "root"`)
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintln(os.Stderr, "usage: publish_storm -socket <path> [-pattern glob] [-count N] [-scope cluster|process|siblings|root]")
		os.Exit(1)
	}

	sc, err := parseScope(*scope)
	if err != nil {
		log.Fatal(err)
	}

	cfg := postoffice.DefaultConfig()
	cfg.NodeName = "publish-storm"
	po := postoffice.New(cfg)
	defer po.Stop()

	worker, err := cluster.Dial(po, *socketPath)
	if err != nil {
		log.Fatalf("dial %s: %v", *socketPath, err)
	}
	go worker.Run()

	var received atomic.Int64
	sub, err := po.Subscribe(postoffice.SubscribeArgs{
		Channel: []byte(*pattern),
		MatchFn: postoffice.Glob,
		Callback: func(msg *postoffice.MessageView) {
			received.Add(1)
		},
	})
	if err != nil {
		log.Fatalf("subscribe %s: %v", *pattern, err)
	}
	defer po.Unsubscribe(sub)

	// Give the subscribe a moment to propagate to the root before firing,
	// so early publishes in the storm aren't missed.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	for i := 0; i < *count; i++ {
		channel := fmt.Sprintf("orders.%d", i%10)
		payload := fmt.Sprintf(`{"seq":%d}`, i)
		if err := po.Publish(sc, 0, channel, payload); err != nil {
			log.Printf("publish %d failed: %v", i, err)
		}
	}

	// Let deferred deliveries drain before reporting.
	time.Sleep(500 * time.Millisecond)
	fmt.Printf("published %d messages matching %q in %s, received %d locally\n",
		*count, *pattern, time.Since(start), received.Load())
}

func parseScope(s string) (postoffice.Scope, error) {
	switch s {
	case "cluster":
		return postoffice.ScopeCluster, nil
	case "process":
		return postoffice.ScopeProcess, nil
	case "siblings":
		return postoffice.ScopeSiblings, nil
	case "root":
		return postoffice.ScopeRoot, nil
	default:
		return 0, fmt.Errorf("unknown scope %q", s)
	}
}
