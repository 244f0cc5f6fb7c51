package client

import (
	"testing"

	"github.com/mixnetlabs/obscuratr/pkg/filter"
	"github.com/mixnetlabs/obscuratr/pkg/filters"
)

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		f    filter.T
		want filterClass
	}{
		{"authors", filter.T{Authors: []string{"a"}}, classAuthors},
		{"ids", filter.T{IDs: []string{"i"}}, classIDs},
		{"party tag", filter.T{Tags: filter.TagMap{"p": {"p1"}}}, classPartyTag},
		{"kinds only", filter.T{Kinds: []int{1}}, classOther},
		{"authors beat ids", filter.T{
			Authors: []string{"a"}, IDs: []string{"i"},
		}, classAuthors},
		{"ids beat party tags", filter.T{
			IDs: []string{"i"}, Tags: filter.TagMap{"p": {"p1"}},
		}, classIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.f); got != tt.want {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateDummiesDisjoint(t *testing.T) {
	avoid := map[string]struct{}{
		"e9142f724955c5854de36324dab0434f97b15ec6b33464d56ebe491e3f559d1b": {},
	}
	dummies := generateDummies(10, avoid)
	if len(dummies) != 10 {
		t.Fatalf("expected 10 dummies, got %d", len(dummies))
	}
	for d := range dummies {
		if len(d) != 64 {
			t.Errorf("dummy %s is not identifier width", d)
		}
		if _, real := avoid[d]; real {
			t.Errorf("dummy %s collides with a real identifier", d)
		}
	}
}

func TestBuildRelayFiltersDiffusionCoverage(t *testing.T) {
	cfg := DefaultConfig().Obfuscation
	urls := []string{
		"wss://r1.example.com", "wss://r2.example.com", "wss://r3.example.com",
	}
	real := []string{"author1", "author2"}
	ff := filters.T{{Authors: real}}
	dummies := generateDummies(cfg.DummyAuthors, nil)

	perRelay := buildRelayFilters(cfg, urls, ff, dummies, nil)

	counts := map[string]int{}
	for url, fl := range perRelay {
		if len(fl) != 1 {
			t.Fatalf("relay %s got %d filters, want 1", url, len(fl))
		}
		for _, a := range fl[0].Authors {
			counts[a]++
		}
	}
	for _, a := range real {
		if counts[a] < cfg.MinRelaysPerElement {
			t.Errorf("author %s reaches %d relays, want at least %d",
				a, counts[a], cfg.MinRelaysPerElement)
		}
	}
}

func TestBuildRelayFiltersDummiesMixedIn(t *testing.T) {
	cfg := DefaultConfig().Obfuscation
	cfg.Diffusion = false
	urls := []string{"wss://r1.example.com", "wss://r2.example.com"}
	ff := filters.T{{Authors: []string{"author1"}}}
	dummies := generateDummies(3, nil)

	perRelay := buildRelayFilters(cfg, urls, ff, dummies, nil)
	for url, fl := range perRelay {
		got := map[string]struct{}{}
		for _, a := range fl[0].Authors {
			got[a] = struct{}{}
		}
		if _, ok := got["author1"]; !ok {
			t.Errorf("relay %s filter lost the real author", url)
		}
		for d := range dummies {
			if _, ok := got[d]; !ok {
				t.Errorf("relay %s filter is missing dummy %s", url, d)
			}
		}
	}
}

func TestBuildRelayFiltersOtherReplicatedVerbatim(t *testing.T) {
	cfg := DefaultConfig().Obfuscation
	urls := []string{"wss://r1.example.com", "wss://r2.example.com"}
	orig := filter.T{Kinds: []int{1, 7}, Limit: 20}
	perRelay := buildRelayFilters(cfg, urls, filters.T{orig},
		generateDummies(3, nil), generateDummies(3, nil))

	if len(perRelay) != len(urls) {
		t.Fatalf("expected %d relay variants, got %d", len(urls), len(perRelay))
	}
	for url, fl := range perRelay {
		if len(fl) != 1 || !filter.Equal(fl[0], orig) {
			t.Errorf("relay %s got a modified kind-only filter: %v", url, fl)
		}
	}
}

func TestBuildRelayFiltersIDsDimension(t *testing.T) {
	cfg := DefaultConfig().Obfuscation
	cfg.Diffusion = false
	urls := []string{"wss://r1.example.com"}
	ff := filters.T{{IDs: []string{"id1"}}}
	dummyIDs := generateDummies(2, nil)

	perRelay := buildRelayFilters(cfg, urls, ff, generateDummies(2, nil), dummyIDs)
	fl := perRelay[urls[0]]
	if len(fl) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(fl))
	}
	if len(fl[0].Authors) != 0 {
		t.Errorf("id filter must not grow an authors list: %v", fl[0].Authors)
	}
	if len(fl[0].IDs) != 3 {
		t.Errorf("expected real id plus 2 dummies, got %v", fl[0].IDs)
	}
}

func TestMarkEoseAggregation(t *testing.T) {
	fired := 0
	s := &subscription{relayCount: 3, onEose: func() { fired++ }}
	s.markEose()
	s.markEose()
	if fired != 0 {
		t.Fatal("aggregate fired before every relay reported")
	}
	s.markEose()
	if fired != 1 {
		t.Fatalf("aggregate fired %d times, want 1", fired)
	}
	// a relay reporting again past the cap must not re-fire
	s.markEose()
	if fired != 1 {
		t.Fatalf("aggregate re-fired, total %d", fired)
	}
}

func TestMarkEoseSimpleMode(t *testing.T) {
	fired := 0
	s := &subscription{relayCount: 3, simpleEose: true, onEose: func() { fired++ }}
	s.markEose()
	if fired != 1 {
		t.Fatalf("simple mode must fire on the first report, fired %d", fired)
	}
	s.markEose()
	s.markEose()
	if fired != 1 {
		t.Fatalf("aggregate fired %d times, want 1", fired)
	}
}
