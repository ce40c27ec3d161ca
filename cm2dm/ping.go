package cm2dm

import "time"

// A PingGate is the rendezvous between a blocking liveness check and the
// asynchronous ping reply. It behaves as a counting semaphore with a single
// slot.
type PingGate struct {
	ch chan struct{}
}

// NewPingGate creates an empty PingGate.
func NewPingGate() *PingGate {
	return &PingGate{ch: make(chan struct{}, 1)}
}

// Reset discards any reply that arrived before the check started.
func (g *PingGate) Reset() {
	select {
	case <-g.ch:
	default:
	}
}

// Signal records a ping reply. Extra signals beyond the single slot are
// dropped.
func (g *PingGate) Signal() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a reply arrives or the timeout expires, and reports
// whether the peer answered. The timeout bounds the only blocking operation
// in the protocol core, so the caller's command handler always returns.
func (g *PingGate) Wait(timeout time.Duration) bool {
	select {
	case <-g.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
