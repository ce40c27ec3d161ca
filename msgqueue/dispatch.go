package msgqueue

import (
	"log"
	"time"
)

// A Handler processes one request and fills in one response. The returned
// status byte is stored in Response.Data[0]. Handlers may touch subsystem
// state but must never push or pop queue entries themselves.
type Handler func(req *Request, rsp *Response) uint8

// An Observer is notified after each dispatched request, for tracing.
type Observer func(channel int, req *Request, rsp *Response, d time.Duration)

// A Dispatcher routes requests to handlers by command code. Handlers are
// registered once during initialization; registration after the dispatch
// loop has started is a programming error.
type Dispatcher struct {
	name     string
	queue    *Queue
	handlers [256]Handler
	observer Observer
	started  bool
}

// NewDispatcher creates a Dispatcher serving the given queue.
func NewDispatcher(name string, queue *Queue) *Dispatcher {
	return &Dispatcher{
		name:  name,
		queue: queue,
	}
}

// WithObserver sets the per-request trace callback. The observer runs on the
// dispatch context.
func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o

	return d
}

// Name returns the name of the dispatcher.
func (d *Dispatcher) Name() string {
	return d.name
}

// Register binds a handler to a command code. At most one handler may be
// registered per code; a duplicate registration is a configuration error and
// panics at init time.
func (d *Dispatcher) Register(code uint8, h Handler) {
	if d.started {
		log.Panicf("%s: registering handler 0x%02x after dispatch started",
			d.name, code)
	}

	if d.handlers[code] != nil {
		log.Panicf("%s: duplicate handler for command 0x%02x", d.name, code)
	}

	d.handlers[code] = h
}

// Dispatch runs the handler for one request. Requests with no registered
// handler produce a byte-for-byte zero response.
func (d *Dispatcher) Dispatch(req *Request) Response {
	d.started = true

	rsp := Response{}

	h := d.handlers[req.Code()]
	if h == nil {
		return rsp
	}

	status := h(req, &rsp)
	rsp.Data[0] = (rsp.Data[0] &^ 0xFF) | uint32(status)

	return rsp
}

// ProcessAll drains every channel, dispatching each pending request and
// pushing its response. Responses are delivered best-effort: if the host is
// not draining the response ring, the response is dropped.
func (d *Dispatcher) ProcessAll() {
	for channel := 0; channel < NumChannels; channel++ {
		for {
			req, ok := d.queue.PopRequest(channel)
			if !ok {
				break
			}

			start := time.Now()
			rsp := d.Dispatch(&req)

			if d.observer != nil {
				d.observer(channel, &req, &rsp, time.Since(start))
			}

			_ = d.queue.PushResponse(channel, &rsp)
		}
	}
}
