package cm2dm

import (
	"sync"
	"time"
)

// A Watchdog is the auto-reset timer the die-management domain arms on behalf
// of its peer. If the peer's telemetry heartbeat stops moving before the
// timeout expires, the expiry callback fires the same reset path as an
// explicit reset request. This is the one fatal outcome that escapes normal
// error recovery.
type Watchdog struct {
	mu sync.Mutex

	timeout time.Duration
	timer   *time.Timer

	heartbeat      uint32
	heartbeatValid bool

	onExpire func()
}

// NewWatchdog creates a disarmed Watchdog. onExpire runs on the timer
// goroutine when the timeout lapses.
func NewWatchdog(onExpire func()) *Watchdog {
	return &Watchdog{onExpire: onExpire}
}

// SetTimeout arms the watchdog with the given timeout, restarting it if it
// was already armed. A zero timeout disarms it.
func (w *Watchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.timeout = d

	w.stopLocked()

	if d != 0 {
		w.timer = time.AfterFunc(d, w.onExpire)
	}
}

// Heartbeat feeds the watchdog with the peer's heartbeat counter. The timer
// restarts only when the value actually changed; an unchanged heartbeat is
// not proof of liveness.
func (w *Watchdog) Heartbeat(v uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.heartbeatValid && w.heartbeat == v {
		return
	}

	w.heartbeat = v
	w.heartbeatValid = true

	if w.timeout != 0 {
		w.stopLocked()
		w.timer = time.AfterFunc(w.timeout, w.onExpire)
	}
}

// Stop disarms the watchdog without clearing the configured timeout.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the watchdog is counting down.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.timer != nil
}
