// Package ws is the websocket transport collaborator: it implements the
// relay.I contract over a NIP-01 websocket connection. The privacy client
// above it never touches wire framing.
package ws

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/puzpuzpuz/xsync/v2"

	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/envelope"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/normalize"
	"github.com/mixnetlabs/obscuratr/pkg/relay"
	"github.com/mixnetlabs/obscuratr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const pingInterval = 29 * time.Second

// Relay is a live websocket connection to one relay.
type Relay struct {
	closeMutex sync.Mutex

	url           string
	RequestHeader http.Header // e.g. for origin header

	Connection *Connection

	connectionContext       context.T // canceled when the connection closes
	connectionContextCancel context.F
	ConnectionError         error

	subscriptions *xsync.MapOf[string, *relay.Subscription]
	okCallbacks   *xsync.MapOf[string, func(bool, string)]
	writeQueue    chan writeRequest
	notices       chan string
}

var _ relay.I = (*Relay)(nil)

type writeRequest struct {
	msg    []byte
	answer chan error
}

// Dial connects to the relay URL. Once connected, canceling c has no
// effect; call Close to tear the connection down. Dial is a relay.Dialer.
func Dial(c context.T, url string) (relay.I, error) {
	r := NewRelay(context.Bg(), url)
	if e := r.Connect(c); e != nil {
		return nil, e
	}
	return r, nil
}

// NewRelay returns an unconnected relay handle. The connection will be
// closed when the context is canceled.
func NewRelay(c context.T, url string) *Relay {
	ctx, cancel := context.Cancel(c)
	return &Relay{
		url:                     normalize.URL(url),
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		subscriptions:           xsync.NewMapOf[*relay.Subscription](),
		okCallbacks:             xsync.NewMapOf[func(bool, string)](),
		writeQueue:              make(chan writeRequest),
		notices:                 make(chan string, 32),
	}
}

func (r *Relay) URL() string { return r.url }

// Notices returns the relay's out-of-stream NOTICE messages.
func (r *Relay) Notices() <-chan string { return r.notices }

// IsConnected returns true if the connection to this relay seems to be
// active.
func (r *Relay) IsConnected() bool { return r.connectionContext.Err() == nil }

// Connect tries to establish the websocket connection to r.url. If the
// context expires before the connection is complete, an error is
// returned; once connected, context expiration has no effect.
func (r *Relay) Connect(c context.T) error {
	if r.url == "" {
		return fmt.Errorf("invalid relay URL '%s'", r.url)
	}

	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}

	conn, e := NewConnection(c, r.url, r.RequestHeader)
	if e != nil {
		return fmt.Errorf("error opening websocket to '%s': %w", r.url, e)
	}
	r.Connection = conn

	ticker := time.NewTicker(pingInterval)

	go func() {
		<-r.connectionContext.Done()
		ticker.Stop()
		// close all streams when the connection closes
		r.subscriptions.Range(func(_ string, sub *relay.Subscription) bool {
			sub.Done.Q()
			return true
		})
		close(r.notices)
	}()

	// all writes go through this queue so we don't do mutex spaghetti
	go func() {
		for {
			select {
			case <-ticker.C:
				e := wsutil.WriteClientMessage(r.Connection.Conn, ws.OpPing, nil)
				if e != nil {
					log.E.F("{%s} error writing ping: %v; closing websocket", r.url, e)
					chk.D(r.Close()) // this should trigger a context cancelation
					return
				}
			case wr := <-r.writeQueue:
				if e := r.Connection.WriteMessage(wr.msg); e != nil {
					wr.answer <- e
				}
				close(wr.answer)
			case <-r.connectionContext.Done():
				return
			}
		}
	}()

	// general message reader loop
	go func() {
		buf := new(bytes.Buffer)
		for {
			buf.Reset()
			if e := conn.ReadMessage(r.connectionContext, buf); e != nil {
				r.ConnectionError = e
				chk.D(r.Close())
				break
			}

			message := buf.Bytes()
			log.T.F("{%s} %v", r.url, string(message))
			env := envelope.ParseMessage(message)
			if env == nil {
				continue
			}

			switch env := env.(type) {
			case *envelope.Notice:
				log.D.F("NOTICE from %s: '%s'", r.url, string(*env))
				select {
				case r.notices <- string(*env):
				default:
					// notices are advisory; drop rather than stall reads
				}
			case *envelope.Event:
				if env.SubscriptionID == "" {
					continue
				}
				sub, ok := r.subscriptions.Load(env.SubscriptionID)
				if !ok {
					log.D.F("{%s} no subscription with id '%s'", r.url, env.SubscriptionID)
					continue
				}
				ev := env.T
				select {
				case sub.Events <- &ev:
				case <-sub.Done.Wait():
				case <-r.connectionContext.Done():
				}
			case *envelope.Eose:
				if sub, ok := r.subscriptions.Load(string(*env)); ok {
					sub.EndOfStoredEvents.Signal()
				}
			case *envelope.OK:
				if okCallback, exist := r.okCallbacks.Load(env.EventID); exist {
					okCallback(env.OK, env.Reason)
				} else {
					log.D.F("{%s} got an unexpected OK message for event %s", r.url, env.EventID)
				}
			}
		}
	}()

	return nil
}

// Write queues a message to be sent to the relay.
func (r *Relay) Write(msg []byte) <-chan error {
	ch := make(chan error)
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.connectionContext.Done():
		go func() { ch <- fmt.Errorf("connection closed") }()
	}
	return ch
}

// Publish sends an "EVENT" command to the relay and waits for an OK
// response.
func (r *Relay) Publish(c context.T, ev *event.T) error {
	var e error
	var cancel context.F

	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		c, cancel = context.TimeoutCause(c, 7*time.Second,
			fmt.Errorf("given up waiting for an OK"))
		defer cancel()
	} else {
		// otherwise make it cancellable so we can stop upon receiving an OK
		c, cancel = context.Cancel(c)
		defer cancel()
	}

	// listen for an OK callback
	gotOk := false
	r.okCallbacks.Store(ev.ID, func(ok bool, reason string) {
		gotOk = true
		if !ok {
			e = fmt.Errorf("msg: %s", reason)
		}
		cancel()
	})
	defer r.okCallbacks.Delete(ev.ID)

	envb, _ := envelope.Event{T: *ev}.MarshalJSON()
	log.T.F("{%s} sending %v", r.url, string(envb))
	if e := <-r.Write(envb); e != nil {
		return e
	}

	for {
		select {
		case <-c.Done():
			// called when we get an OK or the context was canceled
			if gotOk {
				return e
			}
			return c.Err()
		case <-r.connectionContext.Done():
			// this is caused when we lose connectivity
			return e
		}
	}
}

// Subscribe sends a "REQ" command to the relay. Incoming matching events
// arrive on the returned Subscription.
func (r *Relay) Subscribe(c context.T, id string, ff filters.T) (*relay.Subscription, error) {
	if r.Connection == nil {
		return nil, fmt.Errorf("not connected to %s", r.url)
	}

	sub := relay.NewSubscription(id, r.url)
	r.subscriptions.Store(id, sub)

	reqb, _ := envelope.Req{SubscriptionID: id, Filters: ff}.MarshalJSON()
	log.T.F("{%s} sending %v", r.url, string(reqb))
	if e := <-r.Write(reqb); e != nil {
		r.subscriptions.Delete(id)
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w", ff, r.url, e)
	}

	return sub, nil
}

// Unsubscribe sends a "CLOSE" command for the stream and releases it.
func (r *Relay) Unsubscribe(c context.T, id string) error {
	sub, ok := r.subscriptions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("no subscription with id '%s' at %s", id, r.url)
	}
	sub.Done.Q()
	closeb, _ := envelope.Close(id).MarshalJSON()
	log.T.F("{%s} sending %v", r.url, string(closeb))
	return <-r.Write(closeb)
}

func (r *Relay) Close() error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()

	if r.connectionContextCancel == nil {
		return fmt.Errorf("relay not connected")
	}

	r.connectionContextCancel()
	r.connectionContextCancel = nil
	if r.Connection == nil {
		return nil
	}
	return r.Connection.Close()
}
