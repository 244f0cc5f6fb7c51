package client

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filter"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
	"github.com/mixnetlabs/obscuratr/pkg/secrand"
)

// subscription is the client-side bookkeeping for one Subscribe call:
// the caller's original filters for local re-matching, the dummy sets to
// strip, the relay to stream-id mapping, and the end-of-stored-events
// aggregation state.
type subscription struct {
	id         string
	original   filters.T
	obfuscated bool
	simpleEose bool // fire the aggregate EOSE on the first relay signal

	dummyAuthors map[string]struct{}
	dummyIDs     map[string]struct{}

	streams    map[string]string // relay url -> relay-side stream id
	relayCount int32

	eoseCount atomic.Int32
	eoseFired atomic.Bool

	seen *xsync.MapOf[string, struct{}]

	deliverMx sync.Mutex
	onEvent   func(*event.T)
	onEose    func()

	ctx    context.T
	cancel context.F
}

// filterClass is the dominant selector of a filter, deciding which
// identifier dimension gets obscured.
type filterClass int

const (
	classOther filterClass = iota
	classAuthors
	classIDs
	classPartyTag
)

// classify picks the dominant selector: authors win over ids, ids over
// followed-party tags. Kind/time-range-only filters carry no
// identity-linkable content and pass through unmodified; that fail-open
// choice keeps plain queries available even when nothing about them can
// be obscured.
func classify(f filter.T) filterClass {
	switch {
	case len(f.Authors) > 0:
		return classAuthors
	case len(f.IDs) > 0:
		return classIDs
	case len(f.Tags["p"]) > 0:
		return classPartyTag
	default:
		return classOther
	}
}

// generateDummies draws count fresh identifiers from the full identifier
// space. The space is wide enough that collisions with real identifiers
// are statistically impossible, but an exact collision is rejected
// anyway so the disjointness invariant holds literally.
func generateDummies(count int, avoid map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, count)
	for len(out) < count {
		id := secrand.Hex32()
		if _, taken := avoid[id]; taken {
			continue
		}
		if _, taken := out[id]; taken {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// realIdentifiers collects every author and object identifier named by
// the original filters, so dummies can be drawn disjoint from them.
func realIdentifiers(ff filters.T) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range ff {
		for _, a := range f.Authors {
			out[a] = struct{}{}
		}
		for _, id := range f.IDs {
			out[id] = struct{}{}
		}
		for _, p := range f.Tags["p"] {
			out[p] = struct{}{}
		}
	}
	return out
}

// buildRelayFilters produces each relay's filter variant. For every
// classified filter the combined element set (real plus matching dummy
// set) is either diffused across the relays with guaranteed overlap, or
// replicated whole; unclassified filters replicate verbatim. A relay
// whose diffusion bucket came out empty simply doesn't get that filter.
func buildRelayFilters(cfg ObfuscationConfig, urls []string, ff filters.T,
	dummyAuthors, dummyIDs map[string]struct{}) map[string]filters.T {

	perRelay := make(map[string]filters.T, len(urls))

	addVariant := func(url string, f filter.T) {
		perRelay[url] = append(perRelay[url], f)
	}

	for _, f := range ff {
		class := classify(f)
		if class == classOther {
			for _, url := range urls {
				addVariant(url, f.Clone())
			}
			continue
		}

		var elements []string
		var dummies map[string]struct{}
		switch class {
		case classAuthors:
			elements, dummies = f.Authors, dummyAuthors
		case classIDs:
			elements, dummies = f.IDs, dummyIDs
		case classPartyTag:
			elements, dummies = f.Tags["p"], dummyAuthors
		}

		combined := make([]string, 0, len(elements)+len(dummies))
		combined = append(combined, elements...)
		for d := range dummies {
			combined = append(combined, d)
		}

		withElements := func(f filter.T, els []string) filter.T {
			c := f.Clone()
			switch class {
			case classAuthors:
				c.Authors = els
			case classIDs:
				c.IDs = els
			case classPartyTag:
				if c.Tags == nil {
					c.Tags = make(filter.TagMap)
				}
				c.Tags["p"] = els
			}
			return c
		}

		if cfg.Diffusion && len(urls) > 1 {
			buckets := Distribute(combined, len(urls),
				cfg.DiffusionRatio, cfg.MinRelaysPerElement)
			for i, url := range urls {
				if len(buckets[i]) == 0 {
					continue
				}
				addVariant(url, withElements(f, buckets[i]))
			}
		} else {
			for _, url := range urls {
				addVariant(url, withElements(f, combined))
			}
		}
	}

	return perRelay
}

// markEose records one relay's end-of-stored-events (or the death of its
// stream). The aggregate callback fires exactly once: in simple mode on
// the first signal, otherwise only after every relay has reported.
func (s *subscription) markEose() {
	n := s.eoseCount.Add(1)
	if n > s.relayCount {
		// a stream both EOSEd and died; don't count it twice past the cap
		s.eoseCount.Store(s.relayCount)
		return
	}
	if s.simpleEose || n == s.relayCount {
		s.fireEose()
	}
}

func (s *subscription) fireEose() {
	if s.eoseFired.CompareAndSwap(false, true) {
		if s.onEose != nil {
			s.onEose()
		}
	}
}
