// Package qu provides bare empty-struct channels for signalling, with
// helpers that make non-blocking signal and close operations safe to call
// from multiple goroutines.
package qu

// C is your basic empty struct signalling channel
type C chan struct{}

// T creates an unbuffered chan struct{} for trigger and quit signalling
// (momentary and breaker switches)
func T() C {
	return make(C)
}

// Ts creates a buffered chan struct{} which is specifically intended for
// signalling without blocking, generally one is the size of buffer to be
// used
func Ts(n int) C {
	return make(C, n)
}

// Q closes the channel, which usually is the signal to the receivers to
// shut down, breaker switch style
func (c C) Q() {
	select {
	case <-c:
		// already closed
	default:
		close(c)
	}
}

// Signal sends a momentary signal without blocking if there is either no
// listener or no buffer space left, in which case the signal is already
// pending and nothing is lost by dropping this one
func (c C) Signal() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Wait returns the receive side for use in select statements
func (c C) Wait() <-chan struct{} {
	return c
}
