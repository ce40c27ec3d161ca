// Package events provides the flag mechanism connecting interrupt-style
// producers to a main-loop consumer: producers set bits from any goroutine,
// the loop wakes and drains them with test-and-clear semantics.
package events

import "sync/atomic"

// A Mask accumulates posted event bits until the consumer takes them.
type Mask struct {
	bits atomic.Uint32
	wake chan struct{}
}

// NewMask creates an empty Mask.
func NewMask() *Mask {
	return &Mask{wake: make(chan struct{}, 1)}
}

// Post sets the given bits and wakes the consumer.
func (m *Mask) Post(bits uint32) {
	m.bits.Or(bits)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Take atomically clears and returns all accumulated bits.
func (m *Mask) Take() uint32 {
	return m.bits.Swap(0)
}

// Pending returns the accumulated bits without clearing them.
func (m *Mask) Pending() uint32 {
	return m.bits.Load()
}

// Wake returns the channel the consumer blocks on. One token is queued per
// batch of posts; after waking, the consumer drains with Take.
func (m *Mask) Wake() <-chan struct{} {
	return m.wake
}
