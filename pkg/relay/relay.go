// Package relay holds the configured relay set, the live per-relay status
// records, and the contract a transport implementation must satisfy for
// the privacy client to drive it.
//
// Relays are independent, mutually untrusted servers. Everything in this
// package treats them as potentially adversarial observers: status is
// bookkeeping for the operator of this client, never information shared
// with a relay.
package relay

import (
	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/qu"
)

// Endpoint describes one configured relay. Immutable once added.
type Endpoint struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// I is the transport contract: a connected relay able to accept events
// and serve subscription streams. Implementations own wire framing;
// nothing above this interface knows about websockets.
type I interface {
	// URL returns the normalized relay URL.
	URL() string
	// Publish sends the event and waits for the relay to acknowledge it.
	Publish(c context.T, ev *event.T) error
	// Subscribe opens a stream with the given relay-side id and filters.
	Subscribe(c context.T, id string, ff filters.T) (*Subscription, error)
	// Unsubscribe closes the stream with the given id.
	Unsubscribe(c context.T, id string) error
	// Notices returns the NOTICE messages the relay sends outside any
	// stream. The channel is closed when the connection goes away.
	Notices() <-chan string
	// IsConnected reports whether the connection still looks alive.
	IsConnected() bool
	// Close tears the connection down along with all its streams.
	Close() error
}

// Dialer connects to a relay URL. The client uses it to open transports
// lazily, one per relay.
type Dialer func(c context.T, url string) (I, error)

// Subscription is one per-relay event stream. Events arrive on Events
// until the stream ends; EndOfStoredEvents is signalled once when the
// relay reports it has no more stored matches; Done is closed when the
// stream is finished for any reason.
type Subscription struct {
	ID                string
	Relay             string
	Events            chan *event.T
	EndOfStoredEvents qu.C
	Done              qu.C
}

func NewSubscription(id, url string) *Subscription {
	return &Subscription{
		ID:                id,
		Relay:             url,
		Events:            make(chan *event.T),
		EndOfStoredEvents: qu.Ts(1),
		Done:              qu.T(),
	}
}
