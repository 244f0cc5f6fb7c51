package relay

import (
	"sync"

	"github.com/mixnetlabs/obscuratr/pkg/timestamp"
)

// Status is the mutable per-endpoint record. The queued publish path and
// the immediate/bypass path may touch the same entry concurrently, so
// every entry carries its own lock; updates serialize per relay.
type Status struct {
	mx            sync.Mutex
	connected     bool
	inProgress    bool
	lastError     error
	lastConnected timestamp.T
	sent          int64
	received      int64
	notices       int64
}

// Snapshot is an immutable copy of a Status for external observers.
type Snapshot struct {
	URL           string      `json:"url"`
	Connected     bool        `json:"connected"`
	InProgress    bool        `json:"in_progress"`
	LastError     string      `json:"last_error,omitempty"`
	LastConnected timestamp.T `json:"last_connected,omitempty"`
	Sent          int64       `json:"sent"`
	Received      int64       `json:"received"`
	Notices       int64       `json:"notices"`
}

// MarkInProgress flags that a send to this relay has started or finished.
func (s *Status) MarkInProgress(in bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.inProgress = in
}

// MarkSent records a successful send: the sent counter goes up and the
// relay is considered connected as of now.
func (s *Status) MarkSent() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sent++
	s.connected = true
	s.lastError = nil
	s.lastConnected = timestamp.Now()
}

// MarkFailed records a failed send along with its error.
func (s *Status) MarkFailed(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.connected = false
	s.lastError = err
}

// MarkReceived records one event received from this relay.
func (s *Status) MarkReceived() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.received++
	s.connected = true
	s.lastConnected = timestamp.Now()
}

// MarkNotice counts a NOTICE from this relay.
func (s *Status) MarkNotice() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.notices++
}

func (s *Status) Snapshot(url string) Snapshot {
	s.mx.Lock()
	defer s.mx.Unlock()
	snap := Snapshot{
		URL:           url,
		Connected:     s.connected,
		InProgress:    s.inProgress,
		LastConnected: s.lastConnected,
		Sent:          s.sent,
		Received:      s.received,
		Notices:       s.notices,
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
	}
	return snap
}
