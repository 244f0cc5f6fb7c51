// Package client implements the privacy-preserving publish/subscribe
// relay client. Outgoing messages are spread over a random subset of
// write relays on a randomly delayed schedule; subscriptions are widened
// with dummy identifiers and diffused across read relays so no single
// relay operator learns the full interest set; inbound streams are
// reconciled back into the clean event stream the caller asked for.
//
// Construct one T per application context with New; there is no ambient
// global instance.
package client

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/qu"
	"github.com/mixnetlabs/obscuratr/pkg/relay"
	"github.com/mixnetlabs/obscuratr/pkg/secrand"
	"github.com/mixnetlabs/obscuratr/pkg/slog"
	"github.com/mixnetlabs/obscuratr/pkg/timestamp"
)

var log, chk = slog.New(os.Stderr)

// T is the client. All operations on one T share its relay registry and
// status map; exactly one queue worker dispatches its outgoing messages.
type T struct {
	ctx    context.T
	cancel context.F

	cfgMx sync.RWMutex
	cfg   Config

	reg   *relay.Registry
	dial  relay.Dialer
	conns *xsync.MapOf[string, relay.I]
	// dialMx serializes dialing so two publishes racing on a cold relay
	// don't open two connections
	dialMx sync.Mutex

	subs *xsync.MapOf[string, *subscription]

	qMx        sync.Mutex
	qItems     []*queuedMessage
	qWake      qu.C
	quit       qu.C
	processing atomic.Bool
	closed     atomic.Bool
}

// New returns a client using the given transport dialer. A nil cfg means
// defaults. The client lives until Close or until c is canceled.
func New(c context.T, dial relay.Dialer, cfg *Config) *T {
	ctx, cancel := context.Cancel(c)
	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}
	cl := &T{
		ctx:    ctx,
		cancel: cancel,
		cfg:    conf,
		reg:    relay.NewRegistry(),
		dial:   dial,
		conns:  xsync.NewMapOf[relay.I](),
		subs:   xsync.NewMapOf[*subscription](),
		qWake:  qu.Ts(1),
		quit:   qu.T(),
	}
	go cl.queueWorker()
	return cl
}

// AddRelay registers a relay endpoint with its capability flags.
func (cl *T) AddRelay(url string, read, write bool) bool {
	_, ok := cl.reg.Add(url, read, write)
	return ok
}

// RemoveRelay drops an endpoint and closes its connection if one is
// open. Active subscriptions on other relays are unaffected.
func (cl *T) RemoveRelay(url string) {
	cl.reg.Remove(url)
	if rl, ok := cl.conns.LoadAndDelete(url); ok {
		chk.D(rl.Close())
	}
}

// Registry exposes the relay registry for inspection.
func (cl *T) Registry() *relay.Registry { return cl.reg }

// RelayStatuses returns a status snapshot per configured relay.
func (cl *T) RelayStatuses() []relay.Snapshot {
	return cl.reg.Snapshots()
}

// PublishOption adjusts one publish call.
type PublishOption func(*queuedMessage)

// WithRelays overrides relay selection with an explicit list.
func WithRelays(urls ...string) PublishOption {
	return func(m *queuedMessage) { m.relays = urls }
}

// WithPriority sets the queue priority.
func WithPriority(p Priority) PublishOption {
	return func(m *queuedMessage) { m.priority = p }
}

// WithCritical marks the message critical, enforcing the configured
// minimum relay fan-out.
func WithCritical() PublishOption {
	return func(m *queuedMessage) { m.critical = true }
}

// Publish queues the event for privacy-scheduled dispatch and returns a
// channel that resolves with the per-relay results once the message has
// been processed (or rejected).
func (cl *T) Publish(ev *event.T, opts ...PublishOption) <-chan Outcome {
	msg := cl.newMessage(ev, opts...)
	if !cl.enqueue(msg) {
		msg.done <- Outcome{Err: ErrClosed}
	}
	return msg.done
}

// PublishUrgent queues the event at the front of the queue with no
// dispatch delay and the critical minimum fan-out.
func (cl *T) PublishUrgent(ev *event.T, opts ...PublishOption) <-chan Outcome {
	opts = append([]PublishOption{
		WithPriority(PriorityHigh), WithCritical(),
	}, opts...)
	return cl.Publish(ev, opts...)
}

// PublishImmediate skips the queue but keeps relay mixing and
// inter-relay jitter.
func (cl *T) PublishImmediate(c context.T, ev *event.T, opts ...PublishOption) []Result {
	msg := cl.newMessage(ev, opts...)
	return cl.publishTo(c, ev, msg.relays, true)
}

// PublishDirect bypasses every privacy measure: no selection beyond the
// given list (all write relays when empty) and no jitter. For callers
// that know what they are doing.
func (cl *T) PublishDirect(c context.T, ev *event.T, urls ...string) []Result {
	if len(urls) == 0 {
		urls = cl.reg.WriteURLs()
	}
	return cl.publishTo(c, ev, urls, false)
}

func (cl *T) newMessage(ev *event.T, opts ...PublishOption) *queuedMessage {
	msg := &queuedMessage{
		ev:       ev,
		priority: PriorityNormal,
		enqueued: timestamp.Now(),
		done:     make(chan Outcome, 1),
	}
	for _, opt := range opts {
		opt(msg)
	}
	cfg := cl.Config()
	minimum := 0
	if msg.critical {
		minimum = cfg.Mixing.MinRelaysCritical
	}
	msg.relays = cl.selectRelays(cfg.Mixing.SelectCount, minimum, msg.relays)
	return msg
}

// Subscribe opens an obfuscated subscription: onEvent receives each
// matching event exactly once, onEose fires exactly once when all
// relays have exhausted their stored events. The returned id is used
// with Unsubscribe.
func (cl *T) Subscribe(ff filters.T, onEvent func(*event.T), onEose func()) (string, error) {
	if cl.closed.Load() {
		return "", ErrClosed
	}

	cfg := cl.Config().Obfuscation
	urls := cl.reg.ReadURLs()
	id := secrand.SubID()

	ctx, cancel := context.Cancel(cl.ctx)
	s := &subscription{
		id:           id,
		original:     ff.Clone(),
		obfuscated:   cfg.Enabled,
		simpleEose:   !cfg.Enabled,
		dummyAuthors: map[string]struct{}{},
		dummyIDs:     map[string]struct{}{},
		streams:      map[string]string{},
		seen:         xsync.NewMapOf[struct{}](),
		onEvent:      onEvent,
		onEose:       onEose,
		ctx:          ctx,
		cancel:       cancel,
	}

	var perRelay map[string]filters.T
	if cfg.Enabled {
		avoid := realIdentifiers(ff)
		if cfg.DummyInjection {
			s.dummyAuthors = generateDummies(cfg.DummyAuthors, avoid)
			s.dummyIDs = generateDummies(cfg.DummyIDs, avoid)
		}
		perRelay = buildRelayFilters(cfg, urls, ff, s.dummyAuthors, s.dummyIDs)
	} else {
		merged := filters.T{filters.Merge(ff...)}
		perRelay = make(map[string]filters.T, len(urls))
		for _, url := range urls {
			perRelay[url] = merged.Clone()
		}
	}

	type stream struct {
		url string
		rs  *relay.Subscription
	}
	var opened []stream
	for url, fl := range perRelay {
		rl, err := cl.ensureRelay(cl.ctx, url)
		if err != nil {
			log.D.F("subscribe: skipping %s: %v", url, err)
			continue
		}
		streamID := id + ":" + secrand.SubID()
		rs, err := rl.Subscribe(ctx, streamID, fl)
		if err != nil {
			log.D.F("subscribe: %s refused stream: %v", url, err)
			continue
		}
		s.streams[url] = streamID
		opened = append(opened, stream{url, rs})
	}

	// the aggregate end-marker counts against the whole stream set, so
	// the count must be final before any consumer can report; a fast
	// relay EOSEing against a partial count would fire the aggregate
	// early
	s.relayCount = int32(len(opened))
	for _, o := range opened {
		go cl.consume(s, o.url, o.rs)
	}

	cl.subs.Store(id, s)

	if s.relayCount == 0 {
		// nothing to wait for; the stored-events phase is trivially over
		s.fireEose()
	}
	return id, nil
}

// consume drains one per-relay stream, reconciling events into the
// subscriber callback and feeding the EOSE aggregation. A stream dying
// without an EOSE counts as exhausted so the aggregate can't hang on a
// dead relay.
func (cl *T) consume(s *subscription, url string, rs *relay.Subscription) {
	eosed := false
	markOnce := func() {
		if !eosed {
			eosed = true
			s.markEose()
		}
	}
	for {
		select {
		case ev := <-rs.Events:
			if ev == nil {
				markOnce()
				return
			}
			if st := cl.reg.Status(url); st != nil {
				st.MarkReceived()
			}
			s.deliver(ev)
		case <-rs.EndOfStoredEvents.Wait():
			markOnce()
		case <-rs.Done.Wait():
			markOnce()
			return
		case <-s.ctx.Done():
			markOnce()
			return
		}
	}
}

// Unsubscribe closes every per-relay stream of the subscription and
// discards its dummy sets. Other subscriptions sharing relay
// connections are unaffected.
func (cl *T) Unsubscribe(id string) {
	s, ok := cl.subs.LoadAndDelete(id)
	if !ok {
		return
	}
	s.cancel()
	for url, streamID := range s.streams {
		if rl, ok := cl.conns.Load(url); ok {
			chk.T(rl.Unsubscribe(cl.ctx, streamID))
		}
	}
}

// UnsubscribeAll closes every open subscription.
func (cl *T) UnsubscribeAll() {
	cl.subs.Range(func(id string, _ *subscription) bool {
		cl.Unsubscribe(id)
		return true
	})
}

// Query is the one-shot variant: it subscribes, collects matching
// events until every relay reports end of stored events or the timeout
// lapses, then unsubscribes. All supplied filters are honored, merged
// the same way Subscribe merges them.
func (cl *T) Query(c context.T, ff filters.T, timeout time.Duration) ([]*event.T, error) {
	var mx sync.Mutex
	var events []*event.T
	done := qu.Ts(1)

	id, err := cl.Subscribe(ff,
		func(ev *event.T) {
			mx.Lock()
			events = append(events, ev)
			mx.Unlock()
		},
		func() { done.Signal() },
	)
	if err != nil {
		return nil, err
	}
	defer cl.Unsubscribe(id)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done.Wait():
	case <-t.C:
	case <-c.Done():
	case <-cl.quit.Wait():
	}

	mx.Lock()
	defer mx.Unlock()
	return events, nil
}

// sleep blocks for d unless the context is canceled or the client shuts
// down first; it reports whether the full duration elapsed.
func (cl *T) sleep(c context.T, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.Done():
		return false
	case <-cl.quit.Wait():
		return false
	}
}

// Close terminates the queue worker, rejects everything still queued,
// closes all subscriptions and drops every relay connection.
func (cl *T) Close() {
	if !cl.closed.CompareAndSwap(false, true) {
		return
	}
	cl.quit.Q()
	cl.UnsubscribeAll()
	cl.ClearQueue()
	cl.cancel()
	cl.conns.Range(func(url string, rl relay.I) bool {
		chk.D(rl.Close())
		cl.conns.Delete(url)
		return true
	})
}
