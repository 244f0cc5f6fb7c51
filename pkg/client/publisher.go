package client

import (
	"fmt"

	"github.com/mixnetlabs/obscuratr/pkg/context"
	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/relay"
	"github.com/mixnetlabs/obscuratr/pkg/secrand"
)

// Result is one relay's outcome for a single published event.
type Result struct {
	Relay string `json:"relay"`
	OK    bool   `json:"ok"`
	Err   error  `json:"-"`
}

// Outcome resolves a queued publish: the per-relay results, or an error
// when the publish step itself failed or the message was discarded
// before dispatch.
type Outcome struct {
	Results []Result
	Err     error
}

// publishTo fans one event out to the given relays strictly in order,
// never concurrently. All relays receiving a publish at the same instant
// is a strong timing-correlation signal, so when jitter is on, every
// send after the first waits a random inter-relay delay. One relay
// failing never aborts the rest; the result list always has one entry
// per requested relay.
func (cl *T) publishTo(c context.T, ev *event.T, urls []string, jitter bool) []Result {
	cfg := cl.Config()
	results := make([]Result, 0, len(urls))
	for i, url := range urls {
		if i > 0 && jitter && cfg.Timing.Enabled {
			if !cl.sleep(c, secrand.Duration(
				cfg.Timing.MinRelayDelay, cfg.Timing.MaxRelayDelay)) {
				// shutting down; report the remainder as not sent
				for _, rest := range urls[i:] {
					results = append(results, Result{
						Relay: rest, Err: ErrClosed,
					})
				}
				return results
			}
		}
		results = append(results, cl.publishOne(c, ev, url))
	}
	return results
}

func (cl *T) publishOne(c context.T, ev *event.T, url string) Result {
	st := cl.reg.Status(url)
	if st != nil {
		st.MarkInProgress(true)
		defer st.MarkInProgress(false)
	}

	rl, err := cl.ensureRelay(c, url)
	if err == nil {
		err = rl.Publish(c, ev)
	}

	if err != nil {
		log.D.F("publish to %s failed: %v", url, err)
		if st != nil {
			st.MarkFailed(err)
		}
		return Result{Relay: url, Err: err}
	}

	log.T.F("published %s to %s", ev.ID, url)
	if st != nil {
		st.MarkSent()
	}
	return Result{Relay: url, OK: true}
}

// safePublish is the worker-boundary wrapper: a panicking transport
// becomes an Outcome error instead of taking the queue worker down.
func (cl *T) safePublish(c context.T, ev *event.T, urls []string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Err: fmt.Errorf("publish failed: %v", r)}
		}
	}()
	return Outcome{Results: cl.publishTo(c, ev, urls, true)}
}

// ensureRelay returns a live transport for the url, dialing one if
// needed.
func (cl *T) ensureRelay(c context.T, url string) (relay.I, error) {
	if rl, ok := cl.conns.Load(url); ok && rl.IsConnected() {
		return rl, nil
	}
	cl.dialMx.Lock()
	defer cl.dialMx.Unlock()
	// somebody else may have connected while we waited
	if rl, ok := cl.conns.Load(url); ok && rl.IsConnected() {
		return rl, nil
	}
	rl, err := cl.dial(c, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	cl.conns.Store(url, rl)
	go cl.watchNotices(url, rl)
	return rl, nil
}

// watchNotices counts the connection's NOTICE messages against the
// relay's status record, one watcher per live connection.
func (cl *T) watchNotices(url string, rl relay.I) {
	for {
		select {
		case n, ok := <-rl.Notices():
			if !ok {
				return
			}
			log.D.F("notice from %s: %s", url, n)
			if st := cl.reg.Status(url); st != nil {
				st.MarkNotice()
			}
		case <-cl.ctx.Done():
			return
		}
	}
}
