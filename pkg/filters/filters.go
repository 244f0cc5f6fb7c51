package filters

import (
	"encoding/json"

	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/filter"
)

type T []filter.T

func (eff T) String() string {
	j, _ := json.Marshal(eff)
	return string(j)
}

// Match reports whether the event matches at least one of the filters.
func (eff T) Match(evt *event.T) bool {
	for _, f := range eff {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the filter list.
func (eff T) Clone() T {
	clone := make(T, len(eff))
	for i := range eff {
		clone[i] = eff[i].Clone()
	}
	return clone
}

// Merge folds every filter into one combined filter that matches a
// superset of what the originals match together: element lists are
// unioned, with a dimension left unconstrained as soon as any filter
// leaves it unconstrained; the since bound is the earliest, the until
// bound the latest, the limit the largest.
func Merge(eff ...filter.T) (merged filter.T) {
	if len(eff) == 0 {
		return
	}
	merged = eff[0].Clone()
	for _, f := range eff[1:] {
		merged.IDs = unionOrAny(merged.IDs, f.IDs)
		merged.Authors = unionOrAny(merged.Authors, f.Authors)
		merged.Kinds = unionOrAny(merged.Kinds, f.Kinds)
		if len(f.Tags) == 0 {
			merged.Tags = nil
		} else if merged.Tags != nil {
			for k := range merged.Tags {
				if v, ok := f.Tags[k]; ok {
					merged.Tags[k] = union(merged.Tags[k], v)
				} else {
					delete(merged.Tags, k)
				}
			}
			if len(merged.Tags) == 0 {
				merged.Tags = nil
			}
		}
		if f.Since == nil || merged.Since == nil {
			merged.Since = nil
		} else if *f.Since < *merged.Since {
			since := *f.Since
			merged.Since = &since
		}
		if f.Until == nil || merged.Until == nil {
			merged.Until = nil
		} else if *f.Until > *merged.Until {
			until := *f.Until
			merged.Until = &until
		}
		if f.Limit > merged.Limit {
			merged.Limit = f.Limit
		}
	}
	return
}

// unionOrAny treats a nil list as "match anything", which wins over any
// explicit list when merging.
func unionOrAny[E comparable](as, bs []E) []E {
	if as == nil || bs == nil {
		return nil
	}
	return union(as, bs)
}

func union[E comparable](as, bs []E) []E {
	if bs == nil {
		return as
	}
	out := as
	for _, b := range bs {
		found := false
		for _, a := range out {
			if a == b {
				found = true
				break
			}
		}
		if !found {
			out = append(out, b)
		}
	}
	return out
}
