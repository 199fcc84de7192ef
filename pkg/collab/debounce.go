package collab

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once the window has
// passed without another Trigger (trailing edge).
type Debouncer struct {
	window time.Duration

	mu    sync.Mutex
	fn    func()
	timer *time.Timer
	seq   uint64
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

func (d *Debouncer) Trigger(fn func()) {
	if d == nil || fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
	d.seq++
	seq := d.seq
	d.stopTimerLocked()
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
}

// Flush runs the pending function now, on the calling goroutine.
func (d *Debouncer) Flush() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	fn := d.takeLocked()
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Cancel drops the pending function, if any.
func (d *Debouncer) Cancel() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeLocked() != nil
}

func (d *Debouncer) Pending() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq {
		d.mu.Unlock()
		return
	}
	fn := d.takeLocked()
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *Debouncer) takeLocked() func() {
	fn := d.fn
	d.fn = nil
	d.seq++
	d.stopTimerLocked()
	return fn
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
