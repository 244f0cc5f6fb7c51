package relay

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/mixnetlabs/obscuratr/pkg/normalize"
)

// Registry owns the configured relay endpoints and their status records.
// One status record per endpoint, same lifetime. Removal is rare and
// administrative; the hot paths only add and update.
type Registry struct {
	endpoints *xsync.MapOf[string, *Endpoint]
	statuses  *xsync.MapOf[string, *Status]
}

func NewRegistry() *Registry {
	return &Registry{
		endpoints: xsync.NewMapOf[*Endpoint](),
		statuses:  xsync.NewMapOf[*Status](),
	}
}

// Add registers an endpoint, normalizing its URL. Re-adding an existing
// URL updates the capability flags but keeps the status record and its
// counters.
func (r *Registry) Add(url string, read, write bool) (ep *Endpoint, ok bool) {
	nm := normalize.URL(url)
	if nm == "" {
		return nil, false
	}
	ep = &Endpoint{URL: nm, Read: read, Write: write}
	r.endpoints.Store(nm, ep)
	r.statuses.LoadOrStore(nm, &Status{})
	return ep, true
}

// Remove drops an endpoint and its status record.
func (r *Registry) Remove(url string) {
	nm := normalize.URL(url)
	r.endpoints.Delete(nm)
	r.statuses.Delete(nm)
}

func (r *Registry) Get(url string) (*Endpoint, bool) {
	return r.endpoints.Load(normalize.URL(url))
}

// Status returns the status record for the endpoint, or nil if the
// endpoint is unknown.
func (r *Registry) Status(url string) *Status {
	st, _ := r.statuses.Load(normalize.URL(url))
	return st
}

// ReadURLs returns the read-capable relay URLs, sorted for stable
// iteration.
func (r *Registry) ReadURLs() (urls []string) {
	r.endpoints.Range(func(_ string, ep *Endpoint) bool {
		if ep.Read {
			urls = append(urls, ep.URL)
		}
		return true
	})
	sort.Strings(urls)
	return
}

// WriteURLs returns the write-capable relay URLs, sorted for stable
// iteration.
func (r *Registry) WriteURLs() (urls []string) {
	r.endpoints.Range(func(_ string, ep *Endpoint) bool {
		if ep.Write {
			urls = append(urls, ep.URL)
		}
		return true
	})
	sort.Strings(urls)
	return
}

// Snapshots returns a status snapshot per endpoint.
func (r *Registry) Snapshots() (out []Snapshot) {
	r.endpoints.Range(func(url string, _ *Endpoint) bool {
		if st, ok := r.statuses.Load(url); ok {
			out = append(out, st.Snapshot(url))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return
}

// Len returns the number of configured endpoints.
func (r *Registry) Len() int {
	return r.endpoints.Size()
}
