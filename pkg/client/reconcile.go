package client

import (
	"github.com/mixnetlabs/obscuratr/pkg/event"
)

// accept is the pure discard/forward decision for one inbound event:
// anything authored by a dummy identifier or carrying a dummy object id
// is dropped, and an obfuscated subscription re-matches against the
// caller's original filters so relay-side filter widening never leaks to
// the application. Safe to call concurrently.
func (s *subscription) accept(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if _, dummy := s.dummyAuthors[ev.PubKey]; dummy {
		return false
	}
	if _, dummy := s.dummyIDs[ev.ID]; dummy {
		return false
	}
	if !s.obfuscated {
		// simple mode passes everything the merged filter matched
		return true
	}
	// forwarded iff at least one original filter matches
	return s.original.Match(ev)
}

// deliver forwards an accepted event exactly once across all per-relay
// streams, serializing the caller's callback.
func (s *subscription) deliver(ev *event.T) {
	if !s.accept(ev) {
		return
	}
	if _, seen := s.seen.LoadOrStore(ev.ID, struct{}{}); seen {
		return
	}
	s.deliverMx.Lock()
	defer s.deliverMx.Unlock()
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
