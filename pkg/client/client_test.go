package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/relay"
)

// fakeRelay is an in-memory transport for exercising the client without
// a network.
type fakeRelay struct {
	url     string
	notices chan string

	// subscribeGate, when set, blocks Subscribe until the gate closes,
	// like a relay that is slow to acknowledge a REQ
	subscribeGate chan struct{}

	mx             sync.Mutex
	published      []*event.T
	streams        map[string]*relay.Subscription
	filters        map[string]filters.T
	subscribeCalls int
	connected      bool
	closed         bool
	panicPublish   bool
	refuse         bool
}

func (f *fakeRelay) URL() string { return f.url }

func (f *fakeRelay) Publish(_ context.T, ev *event.T) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.panicPublish {
		panic("transport wedged")
	}
	if f.refuse {
		return errors.New("blocked: not accepting events")
	}
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeRelay) Subscribe(_ context.T, id string, ff filters.T) (*relay.Subscription, error) {
	f.mx.Lock()
	f.subscribeCalls++
	gate := f.subscribeGate
	refuse := f.refuse
	f.mx.Unlock()
	if gate != nil {
		<-gate
	}
	if refuse {
		return nil, errors.New("blocked: not accepting subscriptions")
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	rs := relay.NewSubscription(id, f.url)
	f.streams[id] = rs
	f.filters[id] = ff
	return rs, nil
}

func (f *fakeRelay) Unsubscribe(_ context.T, id string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if rs, ok := f.streams[id]; ok {
		rs.Done.Q()
		delete(f.streams, id)
	}
	return nil
}

func (f *fakeRelay) Notices() <-chan string { return f.notices }

func (f *fakeRelay) IsConnected() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.connected
}

func (f *fakeRelay) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.connected = false
	for _, rs := range f.streams {
		rs.Done.Q()
	}
	f.streams = map[string]*relay.Subscription{}
	if !f.closed {
		f.closed = true
		close(f.notices)
	}
	return nil
}

// notice emits one out-of-stream NOTICE, like a relay complaining about
// rate limits.
func (f *fakeRelay) notice(msg string) {
	f.notices <- msg
}

// pushAll delivers one event on every open stream, like a relay fanning
// a stored event out to each matching subscription.
func (f *fakeRelay) pushAll(ev *event.T) {
	f.mx.Lock()
	streams := make([]*relay.Subscription, 0, len(f.streams))
	for _, rs := range f.streams {
		streams = append(streams, rs)
	}
	f.mx.Unlock()
	for _, rs := range streams {
		select {
		case rs.Events <- ev:
		case <-rs.Done.Wait():
		}
	}
}

func (f *fakeRelay) eoseAll() {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, rs := range f.streams {
		rs.EndOfStoredEvents.Signal()
	}
}

func (f *fakeRelay) streamFilters() (out []filters.T) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for _, ff := range f.filters {
		out = append(out, ff)
	}
	return
}

func (f *fakeRelay) publishedCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.published)
}

func (f *fakeRelay) setPanicPublish(on bool) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.panicPublish = on
}

func (f *fakeRelay) streamCount() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.streams)
}

func (f *fakeRelay) subscribeAttempts() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.subscribeCalls
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeNetwork struct {
	relays map[string]*fakeRelay
}

func newFakeNetwork(urls ...string) *fakeNetwork {
	n := &fakeNetwork{relays: map[string]*fakeRelay{}}
	for _, u := range urls {
		n.relays[u] = &fakeRelay{
			url:     u,
			notices: make(chan string, 8),
			streams: map[string]*relay.Subscription{},
			filters: map[string]filters.T{},
		}
	}
	return n
}

func (n *fakeNetwork) dialer() relay.Dialer {
	return func(_ context.T, url string) (relay.I, error) {
		f, ok := n.relays[url]
		if !ok {
			return nil, errors.New("unknown relay " + url)
		}
		f.mx.Lock()
		f.connected = true
		f.mx.Unlock()
		return f, nil
	}
}

func newSubscribedClient(t *testing.T, cfg *Config, n *fakeNetwork) *T {
	t.Helper()
	cl := newTestClient(t, cfg)
	cl.dial = n.dialer()
	for url := range n.relays {
		cl.AddRelay(url, true, true)
	}
	return cl
}

func TestSubscribeDeliversOnceAcrossRelays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	n := newFakeNetwork(
		"wss://r1.example.com", "wss://r2.example.com", "wss://r3.example.com",
	)
	cl := newSubscribedClient(t, &cfg, n)

	events := make(chan *event.T, 16)
	eose := make(chan struct{}, 16)
	id, err := cl.Subscribe(
		filters.T{{Authors: []string{"aaaa"}}},
		func(ev *event.T) { events <- ev },
		func() { eose <- struct{}{} },
	)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cl.Unsubscribe(id)

	ev := &event.T{
		ID:     "dead00000000000000000000000000000000000000000000000000000000beef",
		PubKey: "aaaa",
		Kind:   event.KindTextNote,
	}
	for _, fr := range n.relays {
		fr.pushAll(ev)
	}

	select {
	case got := <-events:
		if got.ID != ev.ID {
			t.Fatalf("delivered wrong event %s", got.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
	select {
	case got := <-events:
		t.Fatalf("event %s delivered twice", got.ID)
	case <-time.After(200 * time.Millisecond):
	}

	for _, fr := range n.relays {
		fr.eoseAll()
	}
	select {
	case <-eose:
	case <-time.After(3 * time.Second):
		t.Fatal("aggregate end of stored events never fired")
	}
	select {
	case <-eose:
		t.Fatal("aggregate end of stored events fired twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeStripsDummyTraffic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Obfuscation.Diffusion = false
	n := newFakeNetwork("wss://r1.example.com", "wss://r2.example.com")
	cl := newSubscribedClient(t, &cfg, n)

	events := make(chan *event.T, 16)
	id, err := cl.Subscribe(
		filters.T{{Authors: []string{"aaaa"}}},
		func(ev *event.T) { events <- ev },
		nil,
	)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cl.Unsubscribe(id)

	s, ok := cl.subs.Load(id)
	if !ok {
		t.Fatal("subscription not registered")
	}
	var dummy string
	for d := range s.dummyAuthors {
		dummy = d
		break
	}
	if dummy == "" {
		t.Fatal("no dummy authors were generated")
	}

	// a relay answering for the dummy author must never reach the caller
	for _, fr := range n.relays {
		fr.pushAll(&event.T{ID: "d1", PubKey: dummy, Kind: event.KindTextNote})
	}
	// an event outside the original filters, even if a widened relay
	// filter matched it, must not either
	for _, fr := range n.relays {
		fr.pushAll(&event.T{ID: "d2", PubKey: "bbbb", Kind: event.KindTextNote})
	}
	for _, fr := range n.relays {
		fr.pushAll(&event.T{ID: "d3", PubKey: "aaaa", Kind: event.KindTextNote})
	}

	select {
	case got := <-events:
		if got.ID != "d3" {
			t.Fatalf("leaked event %s to the caller", got.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("real event never delivered")
	}
}

func TestSubscribeNoRelaysFiresEoseImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cl := newTestClient(t, &cfg)
	cl.dial = newFakeNetwork().dialer()

	eose := make(chan struct{}, 1)
	id, err := cl.Subscribe(filters.T{{Authors: []string{"aaaa"}}},
		nil, func() { eose <- struct{}{} })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cl.Unsubscribe(id)

	select {
	case <-eose:
	case <-time.After(time.Second):
		t.Fatal("no relays means the stored-events phase is already over")
	}
}

func TestQueryCollectsUntilEose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Obfuscation.Diffusion = false
	n := newFakeNetwork("wss://r1.example.com", "wss://r2.example.com")
	cl := newSubscribedClient(t, &cfg, n)

	stored := []*event.T{
		{ID: "q1", PubKey: "aaaa", Kind: event.KindTextNote},
		{ID: "q2", PubKey: "aaaa", Kind: event.KindTextNote},
	}
	go func() {
		// let the streams open, then serve stored events and finish
		time.Sleep(100 * time.Millisecond)
		for _, fr := range n.relays {
			for _, ev := range stored {
				fr.pushAll(ev)
			}
			fr.eoseAll()
		}
	}()

	events, err := cl.Query(context.Bg(),
		filters.T{{Authors: []string{"aaaa"}}}, 5*time.Second)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != len(stored) {
		t.Fatalf("expected %d events, got %d", len(stored), len(events))
	}
}

func TestPublishDirectSkipsSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	n := newFakeNetwork(
		"wss://r1.example.com", "wss://r2.example.com", "wss://r3.example.com",
	)
	cl := newSubscribedClient(t, &cfg, n)

	results := cl.PublishDirect(context.Bg(),
		&event.T{ID: "direct", Kind: event.KindTextNote})
	if len(results) != 3 {
		t.Fatalf("direct publish must hit every write relay, got %d", len(results))
	}
	for _, fr := range n.relays {
		if fr.publishedCount() != 1 {
			t.Errorf("relay %s received %d events, want 1", fr.url, fr.publishedCount())
		}
	}
}

func TestPublishReportsPartialFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Mixing.Enabled = false
	n := newFakeNetwork("wss://good.example.com", "wss://bad.example.com")
	n.relays["wss://bad.example.com"].refuse = true
	cl := newSubscribedClient(t, &cfg, n)

	out := waitOutcome(t, cl.Publish(&event.T{ID: "p1", Kind: event.KindTextNote}))
	if out.Err != nil {
		t.Fatalf("outcome error: %v", out.Err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out.Results))
	}
	var okCount, failCount int
	for _, r := range out.Results {
		if r.OK {
			okCount++
		} else if r.Err != nil {
			failCount++
		}
	}
	if okCount != 1 || failCount != 1 {
		t.Fatalf("expected one success and one failure, got %d/%d",
			okCount, failCount)
	}
}

func TestPublishAfterCloseRejected(t *testing.T) {
	cl := New(context.Bg(), newFakeNetwork().dialer(), nil)
	cl.Close()
	out := waitOutcome(t, cl.Publish(&event.T{ID: "late", Kind: event.KindTextNote}))
	if !errors.Is(out.Err, ErrClosed) {
		t.Fatalf("publish after close returned %v, want ErrClosed", out.Err)
	}
	if _, err := cl.Subscribe(filters.T{{}}, nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close returned %v, want ErrClosed", err)
	}
}

// A relay exhausting its stored events while another relay is still
// opening its stream must not fire the aggregate end-marker early: the
// count of streams is final before any of them is consumed.
func TestEoseWaitsForSlowOpeningStreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Obfuscation.Diffusion = false
	n := newFakeNetwork("wss://r1.example.com", "wss://r2.example.com")
	gates := map[string]chan struct{}{}
	for url, fr := range n.relays {
		g := make(chan struct{})
		fr.subscribeGate = g
		gates[url] = g
	}
	cl := newSubscribedClient(t, &cfg, n)

	eose := make(chan struct{}, 4)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		if _, err := cl.Subscribe(filters.T{{Authors: []string{"aaaa"}}},
			nil, func() { eose <- struct{}{} }); err != nil {
			t.Errorf("subscribe failed: %v", err)
		}
	}()

	// whichever relay the opening loop reaches first is held at its gate
	var first *fakeRelay
	waitUntil(t, "a relay held opening its stream", func() bool {
		for _, fr := range n.relays {
			if fr.subscribeAttempts() == 1 && fr.streamCount() == 0 {
				first = fr
				return true
			}
		}
		return false
	})
	close(gates[first.url])
	waitUntil(t, "the first stream to open", func() bool {
		return first.streamCount() == 1
	})
	var second *fakeRelay
	for _, fr := range n.relays {
		if fr != first {
			second = fr
		}
	}
	waitUntil(t, "the second relay held opening its stream", func() bool {
		return second.subscribeAttempts() == 1
	})

	// one of two streams is open and done; the aggregate must hold
	first.eoseAll()
	select {
	case <-eose:
		t.Fatal("aggregate fired with a stream still opening")
	case <-time.After(300 * time.Millisecond):
	}

	close(gates[second.url])
	select {
	case <-subDone:
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe never returned")
	}
	second.eoseAll()

	select {
	case <-eose:
	case <-time.After(3 * time.Second):
		t.Fatal("aggregate never fired after all relays reported")
	}
	select {
	case <-eose:
		t.Fatal("aggregate fired twice")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNoticesCountedPerRelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Mixing.Enabled = false
	n := newFakeNetwork("wss://r1.example.com")
	cl := newSubscribedClient(t, &cfg, n)

	// dial the relay through a publish, then have it complain
	out := waitOutcome(t, cl.Publish(&event.T{ID: "n1", Kind: event.KindTextNote}))
	if out.Err != nil {
		t.Fatalf("publish failed: %v", out.Err)
	}
	n.relays["wss://r1.example.com"].notice("rate limited")

	waitUntil(t, "the notice counter", func() bool {
		snaps := cl.RelayStatuses()
		return len(snaps) == 1 && snaps[0].Notices == 1
	})
}

func TestRelayStatusCounters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timing.Enabled = false
	cfg.Mixing.Enabled = false
	n := newFakeNetwork("wss://r1.example.com")
	cl := newSubscribedClient(t, &cfg, n)

	out := waitOutcome(t, cl.Publish(&event.T{ID: "s1", Kind: event.KindTextNote}))
	if out.Err != nil {
		t.Fatalf("publish failed: %v", out.Err)
	}

	snaps := cl.RelayStatuses()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 status snapshot, got %d", len(snaps))
	}
	if snaps[0].Sent != 1 {
		t.Errorf("sent counter is %d, want 1", snaps[0].Sent)
	}
}
