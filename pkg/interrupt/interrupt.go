// Package interrupt collects shutdown handlers and runs them in LIFO order
// when an interrupt signal or an internal shutdown request arrives.
package interrupt

import (
	"os"
	"os/signal"
	"sync"

	"github.com/mixnetlabs/obscuratr/pkg/qu"
	"github.com/mixnetlabs/obscuratr/pkg/slog"
)

var log, _ = slog.New(os.Stderr)

type HandlerWithSource struct {
	Source string
	Fn     func()
}

var (
	// ShutdownRequestChan is a channel that can receive shutdown requests
	ShutdownRequestChan = qu.T()

	// HandlersDone is closed after all interrupt handlers run the first
	// time an interrupt is signaled.
	HandlersDone = qu.T()

	mx       sync.Mutex
	started  bool
	handlers []HandlerWithSource

	// signals is the list of signals that cause the interrupt
	signals = []os.Signal{os.Interrupt}
)

// AddHandler registers a function to run on interrupt, starting the
// listener on first use.
func AddHandler(fn func()) {
	mx.Lock()
	defer mx.Unlock()
	handlers = append(handlers, HandlerWithSource{
		Source: slog.GetLoc(2),
		Fn:     fn,
	})
	if !started {
		started = true
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, signals...)
		go listen(ch)
	}
}

// Request triggers the shutdown sequence without an OS signal.
func Request() {
	ShutdownRequestChan.Q()
}

func listen(ch chan os.Signal) {
	select {
	case sig := <-ch:
		log.D.Ln("received signal", sig)
	case <-ShutdownRequestChan.Wait():
		log.D.Ln("received shutdown request")
	}
	invokeCallbacks()
}

func invokeCallbacks() {
	mx.Lock()
	defer mx.Unlock()
	// run handlers in LIFO order
	for i := len(handlers) - 1; i >= 0; i-- {
		log.D.Ln("running interrupt callback", i, handlers[i].Source)
		handlers[i].Fn()
	}
	log.D.Ln("interrupt handlers finished")
	HandlersDone.Q()
}
