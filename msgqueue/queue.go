package msgqueue

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrQueueFull is returned when a push would exceed the ring capacity. The
// caller decides whether to drop the record or retry later.
var ErrQueueFull = errors.New("message queue full")

// ErrBadChannel is returned for a channel index outside [0, NumChannels).
var ErrBadChannel = errors.New("invalid message queue channel")

// ring is a single-producer single-consumer queue of fixed capacity. The
// read and write pointers increase monotonically modulo pointerWrap, so
// occupancy is (wptr - rptr) mod pointerWrap and never exceeds QueueCapacity.
//
// The producer stores the payload before advancing the write pointer and the
// consumer loads the write pointer before reading the payload, so the
// consumer can never observe an advanced pointer ahead of its payload.
type ring[T any] struct {
	entries [QueueCapacity]T
	wptr    atomic.Uint32
	rptr    atomic.Uint32
}

func ringOccupancy(wptr, rptr uint32) uint32 {
	return (wptr - rptr + pointerWrap) % pointerWrap
}

func (r *ring[T]) push(v T) error {
	wptr := r.wptr.Load()
	rptr := r.rptr.Load()

	if ringOccupancy(wptr, rptr) >= QueueCapacity {
		return ErrQueueFull
	}

	r.entries[wptr%QueueCapacity] = v
	r.wptr.Store((wptr + 1) % pointerWrap)

	return nil
}

func (r *ring[T]) pop() (T, bool) {
	var zero T

	wptr := r.wptr.Load()
	rptr := r.rptr.Load()

	if ringOccupancy(wptr, rptr) == 0 {
		return zero, false
	}

	v := r.entries[rptr%QueueCapacity]
	r.rptr.Store((rptr + 1) % pointerWrap)

	return v, true
}

func (r *ring[T]) size() int {
	return int(ringOccupancy(r.wptr.Load(), r.rptr.Load()))
}

// A Queue is the set of request and response rings for all channels. The
// transport produces requests and consumes responses; the dispatch loop
// consumes requests and produces responses. Each ring has exactly one
// producer and one consumer, so no locking is needed beyond the atomic
// pointer updates.
type Queue struct {
	name      string
	requests  [NumChannels]ring[Request]
	responses [NumChannels]ring[Response]
}

// NewQueue creates a Queue with empty rings on every channel.
func NewQueue(name string) *Queue {
	return &Queue{name: name}
}

// Name returns the name of the queue.
func (q *Queue) Name() string {
	return q.name
}

// PushRequest appends a request on the given channel.
func (q *Queue) PushRequest(channel int, req *Request) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}

	return q.requests[channel].push(*req)
}

// PopRequest removes the oldest request on the given channel. The second
// return value is false if the channel is empty or invalid.
func (q *Queue) PopRequest(channel int) (Request, bool) {
	if channel < 0 || channel >= NumChannels {
		return Request{}, false
	}

	return q.requests[channel].pop()
}

// PushResponse appends a response on the given channel.
func (q *Queue) PushResponse(channel int, rsp *Response) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}

	return q.responses[channel].push(*rsp)
}

// PopResponse removes the oldest response on the given channel.
func (q *Queue) PopResponse(channel int) (Response, bool) {
	if channel < 0 || channel >= NumChannels {
		return Response{}, false
	}

	return q.responses[channel].pop()
}

// RequestCount returns the number of requests waiting on the given channel.
func (q *Queue) RequestCount(channel int) int {
	return q.requests[channel].size()
}

// ResponseCount returns the number of responses waiting on the given channel.
func (q *Queue) ResponseCount(channel int) int {
	return q.responses[channel].size()
}
