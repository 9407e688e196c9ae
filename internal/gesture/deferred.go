// Package gesture interprets pointer input on the calendar: click
// disambiguation and the popover overlays anchored to pointer positions.
package gesture

import (
	"sync"
	"time"
)

// Timer is a stoppable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock uses time.AfterFunc; tests
// inject a manual one.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

// Handle identifies a task scheduled on a Deferred arena.
type Handle uint64

// Deferred is an arena of cancellable delayed tasks. Handles are only
// meaningful to the arena that issued them, so components never cancel
// each other's timers.
type Deferred struct {
	mu    sync.Mutex
	clock Clock
	next  Handle
	tasks map[Handle]Timer
}

// NewDeferred creates an arena on clock (nil means the real clock).
func NewDeferred(clock Clock) *Deferred {
	if clock == nil {
		clock = RealClock()
	}
	return &Deferred{
		clock: clock,
		tasks: make(map[Handle]Timer),
	}
}

// Schedule runs fn after delay unless the returned handle is cancelled first.
func (d *Deferred) Schedule(delay time.Duration, fn func()) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	h := d.next
	d.tasks[h] = d.clock.AfterFunc(delay, func() {
		d.mu.Lock()
		_, live := d.tasks[h]
		delete(d.tasks, h)
		d.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

// Cancel stops the task. It reports whether the task was still pending.
func (d *Deferred) Cancel(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[h]
	if !ok {
		return false
	}
	delete(d.tasks, h)
	t.Stop()
	return true
}

// CancelAll stops every pending task.
func (d *Deferred) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, t := range d.tasks {
		t.Stop()
		delete(d.tasks, h)
	}
}

// Pending returns the number of tasks not yet run or cancelled.
func (d *Deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}
