// Package idle implements the output idle timer that ends a session once
// input is exhausted and the target has gone quiet.
package idle

import (
	"sync"
	"time"
)

// Timer fires once when no activity has been recorded for its timeout.
// It starts disarmed; activity only moves the deadline once it is armed.
type Timer struct {
	mu         sync.Mutex
	timeout    time.Duration
	timer      *time.Timer
	armed      bool
	fired      bool
	generation uint64
	done       chan struct{}
}

// NewTimer creates a disarmed timer. A zero timeout disables it: Arm has
// no effect and C never fires.
func NewTimer(timeout time.Duration) *Timer {
	return &Timer{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// C is closed when the timer fires.
func (t *Timer) C() <-chan struct{} {
	return t.done
}

// Arm starts the countdown from now. Arming an armed timer restarts it.
func (t *Timer) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timeout <= 0 || t.fired {
		return
	}
	t.armed = true
	t.restart()
}

// Touch records activity: if the timer is armed, the countdown restarts.
func (t *Timer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed && !t.fired {
		t.restart()
	}
}

// Stop disarms the timer without firing it.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.armed = false
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Armed reports whether the countdown is running.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Fired reports whether the timer has fired.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// restart must be called with mu held.
func (t *Timer) restart() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A restart raced with this callback.
	if gen != t.generation || !t.armed || t.fired {
		return
	}
	t.fired = true
	t.armed = false
	t.timer = nil
	close(t.done)
}
