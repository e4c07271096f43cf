package telemetry

import (
	"sync"
	"time"
)

// Watchdog flag names registered by the attitude module.
const (
	WDGSensors  = "sensors"
	WDGAttitude = "attitude"
)

// Watchdog tracks per-task liveness flags. Each loop strokes its flag once
// per revolution; a supervisor polls Expired to detect a stalled loop.
type Watchdog struct {
	mu    sync.Mutex
	flags map[string]time.Time

	now func() time.Time
}

func NewWatchdog() *Watchdog {
	return &Watchdog{
		flags: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Register adds a flag. Registering twice is a no-op so restarts are safe.
func (w *Watchdog) Register(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.flags[name]; !ok {
		w.flags[name] = w.now()
	}
}

// Stroke marks the flag alive. Unregistered names are ignored.
func (w *Watchdog) Stroke(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.flags[name]; ok {
		w.flags[name] = w.now()
	}
}

// LastStroke reports when the flag was last stroked.
func (w *Watchdog) LastStroke(name string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.flags[name]
	return t, ok
}

// Expired reports whether the flag has gone longer than timeout without a
// stroke. Unregistered flags are expired.
func (w *Watchdog) Expired(name string, timeout time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.flags[name]
	if !ok {
		return true
	}
	return w.now().Sub(t) > timeout
}
