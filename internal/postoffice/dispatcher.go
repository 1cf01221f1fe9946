package postoffice

import "sort"

// ClusterSender is the narrow interface the dispatcher needs from the
// cluster link (C8/C9) to avoid an import cycle between internal/postoffice
// and internal/cluster: the cluster package depends on postoffice's types,
// so postoffice can only depend on an interface it defines itself.
type ClusterSender interface {
	// Send frames and transmits msg according to scope. Implementations
	// decide FORWARD vs JSON framing from msg.Encoding().
	Send(scope Scope, msg *Message) error
	// SendSub/SendUnsub forward subscribe/unsubscribe intent upstream to
	// the root (worker side only; a no-op on the root itself).
	SendSub(isPattern bool, id []byte) error
	SendUnsub(isPattern bool, id []byte) error
	// IsRoot reports whether this process is the cluster root.
	IsRoot() bool
	// SendShutdown broadcasts a SHUTDOWN frame to every worker. Only
	// meaningful when IsRoot(); a no-op on the worker side.
	SendShutdown() error
}

// Subscribe registers a new subscription per args (§4.1). Exactly one of
// args.Filter (non-zero) or args.Channel (non-empty) must be set.
func (p *Postoffice) Subscribe(args SubscribeArgs) (*Subscription, error) {
	if args.Callback == nil || (args.Filter == 0 && len(args.Channel) == 0) {
		if args.OnUnsubscribe != nil {
			args.OnUnsubscribe(args.UData1, args.UData2)
		}
		return nil, ErrInvalidFilter
	}
	if args.Filter != 0 && len(args.Channel) > 0 {
		if args.OnUnsubscribe != nil {
			args.OnUnsubscribe(args.UData1, args.UData2)
		}
		return nil, ErrInvalidFilter
	}
	if args.Filter != 0 && args.MatchFn != nil {
		if args.OnUnsubscribe != nil {
			args.OnUnsubscribe(args.UData1, args.UData2)
		}
		return nil, ErrInvalidFilter
	}

	sub := &Subscription{
		handle:        p.nextHandle.Add(1),
		callback:      args.Callback,
		onUnsubscribe: args.OnUnsubscribe,
		udata1:        args.UData1,
		udata2:        args.UData2,
	}
	sub.ref.Store(1)

	insert := func(ch *Channel) {
		sub.channel = ch
		ch.subs[sub.handle] = sub
	}

	var ch *Channel
	var created bool

	switch {
	case args.Filter != 0:
		ch, created = p.filters.getOrCreate(args.Filter, func() *Channel {
			return &Channel{isFilter: true, filter: args.Filter, subs: make(map[uint64]*Subscription)}
		}, insert)
	case args.MatchFn != nil:
		key := string(args.Channel)
		mf := args.MatchFn
		ch, created = p.patterns.getOrCreate(key, func() *Channel {
			return &Channel{id: key, isPattern: true, matchFn: mf, subs: make(map[uint64]*Subscription)}
		}, insert)
	default:
		key := string(args.Channel)
		ch, created = p.pubsub.getOrCreate(key, func() *Channel {
			return &Channel{id: key, subs: make(map[uint64]*Subscription)}
		}, insert)
	}

	// Forward subscribe intent upstream only when this subscription
	// created the channel: the root only needs to know the channel
	// exists, not how many local subscribers it has.
	if created && !ch.isFilter && p.cluster != nil {
		_ = p.cluster.SendSub(ch.isPattern, ch.Identity())
	}

	p.subsByHandle.Store(sub.handle, sub)
	return sub, nil
}

// Unsubscribe drops the external reference held by sub's handle (§4.1).
// If the channel's subscription table becomes empty, the channel is
// destroyed under the collection lock and pubsub_on_channel_destroy fires.
func (p *Postoffice) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	ch := sub.channel

	ch.mu.Lock()
	if _, ok := ch.subs[sub.handle]; !ok {
		ch.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	delete(ch.subs, sub.handle)
	empty := len(ch.subs) == 0
	ch.mu.Unlock()

	p.subsByHandle.Delete(sub.handle)
	sub.release()

	if empty {
		switch {
		case ch.isFilter:
			p.filters.removeIfEmpty(ch.filter, ch)
		case ch.isPattern:
			p.patterns.removeIfEmpty(ch.id, ch)
			if p.cluster != nil {
				_ = p.cluster.SendUnsub(true, ch.Identity())
			}
		default:
			p.pubsub.removeIfEmpty(ch.id, ch)
			if p.cluster != nil {
				_ = p.cluster.SendUnsub(false, ch.Identity())
			}
		}
	}
	return nil
}

// SubscriptionChannel returns the borrowed channel/pattern identity a
// subscription belongs to.
func (p *Postoffice) SubscriptionChannel(sub *Subscription) []byte {
	return sub.channel.Identity()
}

// Publish normalizes channel/payload exactly once and fans the resulting
// message out according to scope (§4.2).
func (p *Postoffice) Publish(scope Scope, filter int64, channel, payload any) error {
	msg, err := normalize(filter, channel, payload)
	if err != nil {
		return err
	}
	return p.publishMessage(scope, msg)
}

// PublishToEngine delivers directly to a single engine, bypassing the
// built-in scopes. filter must be 0 (§4.3).
func (p *Postoffice) PublishToEngine(e Engine, channel, payload any) error {
	msg, err := normalize(0, channel, payload)
	if err != nil {
		return err
	}
	if msg.filter != 0 {
		return ErrInvalidFilter
	}
	view := &MessageView{Message: msg}
	e.Publish(msg.channel, view)
	return nil
}

func (p *Postoffice) publishMessage(scope Scope, msg *Message) error {
	local := scope == ScopeCluster || scope == ScopeProcess || (scope == ScopeRoot && p.isRoot())

	if p.cluster != nil {
		switch scope {
		case ScopeCluster, ScopeSiblings:
			_ = p.cluster.Send(scope, msg)
		case ScopeRoot:
			if !p.isRoot() {
				_ = p.cluster.Send(scope, msg)
			}
		}
	}

	if local {
		p.dispatchLocal(msg)
	} else {
		msg.release()
	}
	return nil
}

func (p *Postoffice) isRoot() bool {
	return p.cluster == nil || p.cluster.IsRoot()
}

// dispatchLocal implements §4.2's Local dispatch: filter channels look up
// `filters` only; pub/sub channels look up `pubsub` by exact match and
// then iterate `patterns`. The initial envelope reference is released
// once all deliveries have been enqueued.
func (p *Postoffice) dispatchLocal(msg *Message) {
	if msg.filter != 0 {
		if ch, ok := p.filters.lookup(msg.filter); ok {
			p.scheduleChannel(ch, msg)
		}
		msg.release()
		return
	}

	p.metadata.invoke(msg)

	channelKey := string(msg.channel)
	if ch, ok := p.pubsub.lookup(channelKey); ok {
		p.scheduleChannel(ch, msg)
	}
	for _, ch := range p.patterns.snapshot() {
		if ch.matchFn(ch.id, channelKey) {
			p.scheduleChannel(ch, msg)
		}
	}
	msg.release()
}

// scheduleChannel enqueues deliver(S, msg) for every subscription on ch,
// in list order, per the enqueue-order guarantee in §5.
func (p *Postoffice) scheduleChannel(ch *Channel, msg *Message) {
	ch.mu.RLock()
	subs := make([]*Subscription, 0, len(ch.subs))
	for _, s := range ch.subs {
		subs = append(subs, s)
	}
	ch.mu.RUnlock()
	// Handles grow with every Subscribe, so sorting by handle restores
	// the order the subscriptions were added in.
	sort.Slice(subs, func(i, j int) bool { return subs[i].handle < subs[j].handle })

	for _, s := range subs {
		s.retain()
		msg.retain()
		p.deliver(s, msg)
	}
}

// deliver implements the delivery task (§4.2 "Delivery task deliver(S, msg)").
func (p *Postoffice) deliver(s *Subscription, msg *Message) {
	p.tasks.defer_(func() {
		p.runDelivery(s, msg)
	})
}

func (p *Postoffice) runDelivery(s *Subscription, msg *Message) {
	if !s.mu.TryLock() {
		// Contended: re-defer the same task rather than spin or block.
		p.deliver(s, msg)
		return
	}
	defer s.mu.Unlock()

	view := &MessageView{
		Message: msg,
		udata1:  s.udata1,
		udata2:  s.udata2,
		sub:     s,
	}
	s.callback(view)

	if view.deferred.Load() {
		view.deferred.Store(false)
		p.deliver(s, msg)
		return
	}
	s.release()
	msg.release()
}
