package client

import (
	"github.com/mixnetlabs/obscuratr/pkg/secrand"
)

// selectRelays picks the write relays for one outgoing message. An
// explicit relay list always wins; with mixing disabled, or fewer write
// relays than requested, every write relay is used; otherwise a
// cryptographically shuffled subset of size max(requested, minimum) is
// taken. An empty write relay set yields an empty result; the publisher
// reports that downstream rather than erroring here.
func (cl *T) selectRelays(requested, minimum int, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}

	urls := cl.reg.WriteURLs()
	cfg := cl.Config()
	if !cfg.Mixing.Enabled {
		return urls
	}

	if len(urls) <= requested {
		return urls
	}

	count := requested
	if minimum > count {
		count = minimum
	}
	if count > len(urls) {
		count = len(urls)
	}

	secrand.Shuffle(len(urls), func(i, j int) {
		urls[i], urls[j] = urls[j], urls[i]
	})
	return urls[:count]
}
