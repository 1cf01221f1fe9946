// Command postoffice runs either the cluster root or a worker, depending
// on -mode. The root binds the cluster's Unix-domain socket and spawns
// -workers copies of this same binary with -mode=worker; each worker
// dials back in and joins the pub/sub bus. Either role may additionally
// bridge to a Postgres LISTEN/NOTIFY channel via -postgres-dsn.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/lineCode/postoffice/internal/cluster"
	"github.com/lineCode/postoffice/internal/engines/postgres"
	"github.com/lineCode/postoffice/internal/hklog"
	"github.com/lineCode/postoffice/internal/postoffice"
	"github.com/lineCode/postoffice/internal/process"
	"github.com/lineCode/postoffice/internal/tracing"

	_ "go.uber.org/automaxprocs"
)

func main() {
	mode := flag.String("mode", "root", `process role: "root" or "worker"`)
	socketPath := flag.String("socket", "", "cluster Unix-domain socket path (root: generated if empty; worker: required)")
	socketDir := flag.String("socket-dir", "", "directory for the root's generated socket file, overrides $TMPDIR")
	name := flag.String("name", "", "process name for the registry/logs")
	workers := flag.Int("workers", 0, "number of workers the root spawns (0 = use the built-in default)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "optional path to also write logs to")
	pgDSN := flag.String("postgres-dsn", "", "optional Postgres DSN; when set, attaches a LISTEN/NOTIFY engine whose notifications are re-published to this process's local subscribers (outbound NOTIFY only happens through Postoffice.PublishToEngine)")
	flag.Parse()

	hklog.Init(*logLevel, *logFile)

	var err error
	switch *mode {
	case "root":
		err = runRoot(*socketPath, *socketDir, *name, *workers, *pgDSN)
	case "worker":
		err = runWorker(*socketPath, *name, *pgDSN)
	default:
		err = fmt.Errorf("unknown -mode %q, want \"root\" or \"worker\"", *mode)
	}
	if err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

var log = hklog.For("main")

func runRoot(socketPath, socketDir, name string, workerCount int, pgDSN string) error {
	if name == "" {
		name = "postoffice-root"
	}
	if socketPath == "" {
		socketPath = cluster.SocketPath(socketDir, os.Getpid())
	}

	cfg := postoffice.DefaultConfig()
	cfg.NodeName = name
	if workerCount > 0 {
		cfg.WorkerCount = workerCount
	}

	po := postoffice.New(cfg)

	if pgDSN != "" {
		pgEngine, err := attachPostgresEngine(po, pgDSN)
		if err != nil {
			return fmt.Errorf("postgres engine: %w", err)
		}
		defer pgEngine.Close(context.Background())
	}

	root := cluster.NewRoot(po, socketPath)
	if err := root.Listen(); err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	go root.Serve()
	log.Info("root listening", "socket", socketPath, "workers", cfg.WorkerCount)

	registry := process.NewRegistry()
	eventLog, err := process.NewEventLog(1000, "")
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	registry.SetEventLog(eventLog)
	hklog.SetEventLogEmitter(eventLog)
	hklog.AddEventLogHandler()

	spawner, err := process.NewSpawner(registry, socketPath)
	if err != nil {
		return fmt.Errorf("spawner: %w", err)
	}
	if _, err := spawner.RegisterRoot(name); err != nil {
		return fmt.Errorf("register root: %w", err)
	}

	sigRouter := process.NewSignalRouter(registry)
	supervisor := process.NewSupervisor(registry, sigRouter, process.DefaultSupervisorConfig())

	var watch func(sp *process.Spawned)
	watch = func(sp *process.Spawned) {
		go func() {
			waitErr := sp.Cmd.Wait()
			exitCode := 0
			if waitErr != nil {
				if ee, ok := waitErr.(*exec.ExitError); ok {
					exitCode = ee.ExitCode()
				} else {
					exitCode = -1
				}
			}
			sigRouter.NotifyParent(sp.Process.PID, exitCode)
			supervisor.HandleWorkerExit(sp.Process.PID, exitCode)
		}()
	}
	supervisor.OnRestart(func(proc *process.Process) error {
		sp, err := spawner.Spawn(process.SpawnRequest{Name: proc.Name})
		if err != nil {
			return err
		}
		watch(sp)
		return nil
	})

	for i := 0; i < cfg.WorkerCount; i++ {
		sp, err := spawner.Spawn(process.SpawnRequest{Name: fmt.Sprintf("worker-%d", i+1)})
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", i+1, err)
		}
		watch(sp)
	}

	shutdown, err := tracing.Setup(sessionTimestamp(), "root")
	if err != nil {
		log.Warn("tracing setup failed, continuing without it", "err", err)
		shutdown = func(context.Context) {}
	}
	defer shutdown(context.Background())

	waitForShutdownSignal()
	log.Info("shutting down")
	_ = po.SignalChildren()
	_ = root.Close()
	po.Stop()
	return nil
}

func runWorker(socketPath, name, pgDSN string) error {
	if socketPath == "" {
		return fmt.Errorf("worker mode requires -socket")
	}
	if name == "" {
		name = fmt.Sprintf("worker-%d", os.Getpid())
	}

	cfg := postoffice.DefaultConfig()
	cfg.NodeName = name
	po := postoffice.New(cfg)

	if pgDSN != "" {
		pgEngine, err := attachPostgresEngine(po, pgDSN)
		if err != nil {
			return fmt.Errorf("postgres engine: %w", err)
		}
		defer pgEngine.Close(context.Background())
	}

	worker, err := cluster.Dial(po, socketPath)
	if err != nil {
		return fmt.Errorf("dial root at %s: %w", socketPath, err)
	}
	worker.OnParentCrash(func() {
		log.Error("root connection lost, exiting")
	})
	go worker.Run()
	log.Info("worker connected", "socket", socketPath, "name", name)

	shutdown, err := tracing.Setup(sessionTimestamp(), "worker")
	if err != nil {
		log.Warn("tracing setup failed, continuing without it", "err", err)
		shutdown = func(context.Context) {}
	}
	defer shutdown(context.Background())

	waitForShutdownSignal()
	log.Info("shutting down")
	po.Stop()
	return nil
}

// attachPostgresEngine connects to dsn and attaches the resulting
// postgres.Engine to po. Notifications arriving on the engine's channel
// are re-published to po's local subscribers; ordinary Publish calls do
// not reach the engine, only Postoffice.PublishToEngine does.
func attachPostgresEngine(po *postoffice.Postoffice, dsn string) (*postgres.Engine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng, err := postgres.New(ctx, po, uint64(os.Getpid()), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, err
	}
	if err := po.AttachEngine(eng); err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}
	return eng, nil
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func sessionTimestamp() string {
	return time.Now().Format("20060102-150405")
}
