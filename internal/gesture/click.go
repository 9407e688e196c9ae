package gesture

import (
	"sync"
	"time"
)

// DefaultClickWindow is how long a click waits for a possible second click.
const DefaultClickWindow = 200 * time.Millisecond

// ClickDisambiguator separates single clicks from double clicks on events.
//
// The pointer layer reports a native double click as click, click,
// dblclick. A click only acts after the window passes with no further
// click; a double click cancels the pending click and acts immediately.
type ClickDisambiguator struct {
	mu      sync.Mutex
	tasks   *Deferred
	window  time.Duration
	pending Handle
	armed   bool

	onSingle func(eventID string)
	onDouble func(eventID string)
}

// NewClickDisambiguator builds a disambiguator with its own timer arena.
func NewClickDisambiguator(window time.Duration, clock Clock, onSingle, onDouble func(eventID string)) *ClickDisambiguator {
	if window <= 0 {
		window = DefaultClickWindow
	}
	if onSingle == nil {
		onSingle = func(string) {}
	}
	if onDouble == nil {
		onDouble = func(string) {}
	}
	return &ClickDisambiguator{
		tasks:    NewDeferred(clock),
		window:   window,
		onSingle: onSingle,
		onDouble: onDouble,
	}
}

// Click schedules the single-click action, replacing any pending one.
func (c *ClickDisambiguator) Click(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.armed {
		c.tasks.Cancel(c.pending)
	}
	var h Handle
	h = c.tasks.Schedule(c.window, func() {
		c.mu.Lock()
		current := c.armed && c.pending == h
		if current {
			c.armed = false
		}
		c.mu.Unlock()
		if current {
			c.onSingle(eventID)
		}
	})
	c.pending = h
	c.armed = true
}

// DoubleClick cancels any pending single click and runs the double-click
// action right away.
func (c *ClickDisambiguator) DoubleClick(eventID string) {
	c.mu.Lock()
	if c.armed {
		c.tasks.Cancel(c.pending)
		c.armed = false
	}
	c.mu.Unlock()

	c.onDouble(eventID)
}

// Pending reports whether a single-click action is waiting to fire.
func (c *ClickDisambiguator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Close drops any pending action.
func (c *ClickDisambiguator) Close() {
	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()
	c.tasks.CancelAll()
}
