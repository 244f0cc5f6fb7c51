package client

import (
	"errors"

	"github.com/mixnetlabs/obscuratr/pkg/event"
	"github.com/mixnetlabs/obscuratr/pkg/secrand"
	"github.com/mixnetlabs/obscuratr/pkg/timestamp"
)

// Priority orders queued messages. High priority messages jump the queue
// and skip the dispatch delay; low priority messages draw from the full
// delay range; normal sits in between.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var (
	ErrQueueCleared = errors.New("queue cleared")
	ErrClosed       = errors.New("client closed")
)

type queuedMessage struct {
	ev       *event.T
	relays   []string
	priority Priority
	critical bool
	enqueued timestamp.T
	done     chan Outcome
}

// enqueue adds a message to the outgoing queue; high priority goes to
// the front, everything else to the back. Reports false when the client
// is closed. The closed check happens under the queue lock: a racing
// Close either rejects the message here or finds it in the queue and
// drains it in ClearQueue, so its completion handle always resolves.
func (cl *T) enqueue(msg *queuedMessage) bool {
	cl.qMx.Lock()
	if cl.closed.Load() {
		cl.qMx.Unlock()
		return false
	}
	if msg.priority == PriorityHigh {
		cl.qItems = append([]*queuedMessage{msg}, cl.qItems...)
	} else {
		cl.qItems = append(cl.qItems, msg)
	}
	cl.qMx.Unlock()
	cl.qWake.Signal()
	return true
}

func (cl *T) dequeue() *queuedMessage {
	cl.qMx.Lock()
	defer cl.qMx.Unlock()
	if len(cl.qItems) == 0 {
		return nil
	}
	msg := cl.qItems[0]
	cl.qItems = cl.qItems[1:]
	return msg
}

// QueueLen returns the number of messages waiting for dispatch.
func (cl *T) QueueLen() int {
	cl.qMx.Lock()
	defer cl.qMx.Unlock()
	return len(cl.qItems)
}

// Processing reports whether the worker is mid-publish.
func (cl *T) Processing() bool {
	return cl.processing.Load()
}

// ClearQueue atomically removes every not-yet-started message and
// rejects it. A message currently mid-publish is unaffected.
func (cl *T) ClearQueue() {
	cl.qMx.Lock()
	items := cl.qItems
	cl.qItems = nil
	cl.qMx.Unlock()
	for _, msg := range items {
		msg.done <- Outcome{Err: ErrQueueCleared}
	}
}

// queueWorker is the single sequential dispatcher. One worker per client
// so that timing jitter is meaningful and not defeated by concurrent
// bursts; it suspends only at the dispatch delay, the inter-relay
// jitter, and the inter-message gap.
func (cl *T) queueWorker() {
	for {
		msg := cl.dequeue()
		if msg == nil {
			select {
			case <-cl.qWake.Wait():
				continue
			case <-cl.quit.Wait():
				return
			}
		}

		cl.processing.Store(true)
		cfg := cl.Config()

		if cfg.Timing.Enabled && msg.priority != PriorityHigh {
			max := cfg.Timing.MaxQueueDelay
			if msg.priority == PriorityNormal {
				max /= 2
			}
			if !cl.sleep(cl.ctx, secrand.Duration(cfg.Timing.MinQueueDelay, max)) {
				msg.done <- Outcome{Err: ErrClosed}
				cl.processing.Store(false)
				return
			}
		}

		msg.done <- cl.safePublish(cl.ctx, msg.ev, msg.relays)
		cl.processing.Store(false)

		if cl.QueueLen() > 0 && cfg.Timing.Enabled {
			if !cl.sleep(cl.ctx, secrand.Duration(
				cfg.Timing.MinMessageGap, cfg.Timing.MaxMessageGap)) {
				return
			}
		}
	}
}

