// Package tz converts between stored UTC instants and the company's work
// timezone wall clock.
//
// All conversions are pure functions of (instant, zone). The only state is
// a memo of the viewer/work offset diff for the currently configured work
// zone, valid until either zone's next offset transition.
package tz

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DayLayout is the day key format used by grouping and URLs.
	DayLayout = "2006-01-02"
	// wallClockLayout is the naive drop-target format (no offset).
	wallClockLayout = "2006-01-02T15:04"
)

// Converter maps instants into and out of the work timezone.
type Converter struct {
	mu     sync.Mutex
	work   *time.Location
	viewer *time.Location
	now    func() time.Time

	memo *diffMemo
}

type diffMemo struct {
	zone    string
	minutes int
	// valid covers [from, until); a zero until means no further transition.
	from  time.Time
	until time.Time
}

// Option customizes a Converter.
type Option func(*Converter)

// WithClock overrides the source of "now".
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// WithViewer sets the viewer zone used by WallClockDiffMinutes.
func WithViewer(loc *time.Location) Option {
	return func(c *Converter) {
		if loc != nil {
			c.viewer = loc
		}
	}
}

// New builds a Converter for the named work zone. viewerTZ may be empty
// to use the host's local zone.
func New(workTZ, viewerTZ string, opts ...Option) (*Converter, error) {
	work, err := LoadLocation(workTZ)
	if err != nil {
		return nil, err
	}
	viewer := time.Local
	if viewerTZ != "" {
		if viewer, err = LoadLocation(viewerTZ); err != nil {
			return nil, err
		}
	}
	return NewWithLocation(work, append([]Option{WithViewer(viewer)}, opts...)...), nil
}

// NewWithLocation builds a Converter from an already resolved location.
func NewWithLocation(work *time.Location, opts ...Option) *Converter {
	if work == nil {
		work = time.UTC
	}
	c := &Converter{
		work:   work,
		viewer: time.Local,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LoadLocation resolves an IANA zone name.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tz: empty timezone name")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("tz: load %q: %w", name, err)
	}
	return loc, nil
}

// Work returns the configured work zone.
func (c *Converter) Work() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.work
}

// Viewer returns the dispatcher's own zone.
func (c *Converter) Viewer() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

// SetWork switches the work zone and drops the offset memo.
func (c *Converter) SetWork(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.work = loc
	c.memo = nil
	c.mu.Unlock()
}

// ToWork returns utc expressed on the work zone wall clock. The instant
// is unchanged.
func (c *Converter) ToWork(utc time.Time) time.Time {
	return utc.In(c.Work())
}

// FromWork is the inverse of ToWork.
func (c *Converter) FromWork(wall time.Time) time.Time {
	return wall.UTC()
}

// WallClock builds the instant for a work-zone wall-clock reading.
func (c *Converter) WallClock(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, c.Work())
}

// Now returns the current instant on the work zone wall clock.
func (c *Converter) Now() time.Time {
	c.mu.Lock()
	now := c.now
	c.mu.Unlock()
	return c.ToWork(now())
}

// DayKey returns the work-zone calendar date of t.
func (c *Converter) DayKey(t time.Time) string {
	return c.ToWork(t).Format(DayLayout)
}

// DayStart returns midnight (work zone) of the day containing t.
func (c *Converter) DayStart(t time.Time) time.Time {
	w := c.ToWork(t)
	return time.Date(w.Year(), w.Month(), w.Day(), 0, 0, 0, 0, w.Location())
}

// ParseDay parses a YYYY-MM-DD key as midnight in the work zone.
func (c *Converter) ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, strings.TrimSpace(s), c.Work())
	if err != nil {
		return time.Time{}, fmt.Errorf("tz: parse day %q: %w", s, err)
	}
	return t, nil
}

// ParseWallClock parses a drop target. RFC3339 values carry their own
// offset; naive "2006-01-02T15:04[:05]" values are read on the work zone
// wall clock.
func (c *Converter) ParseWallClock(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return c.ToWork(t), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", wallClockLayout} {
		if t, err := time.ParseInLocation(layout, raw, c.Work()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("tz: cannot parse time %q", raw)
}

// WallClockDiffMinutes returns how many minutes the work zone wall clock
// is ahead of the viewer's at instant at. The value is memoized until the
// next offset transition of either zone.
func (c *Converter) WallClockDiffMinutes(at time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m := c.memo; m != nil && m.zone == c.work.String() && !at.Before(m.from) &&
		(m.until.IsZero() || at.Before(m.until)) {
		return m.minutes
	}

	_, workOff := at.In(c.work).Zone()
	_, viewerOff := at.In(c.viewer).Zone()

	wStart, wEnd := at.In(c.work).ZoneBounds()
	vStart, vEnd := at.In(c.viewer).ZoneBounds()

	c.memo = &diffMemo{
		zone:    c.work.String(),
		minutes: (workOff - viewerOff) / 60,
		from:    laterOf(wStart, vStart),
		until:   earlierNonZero(wEnd, vEnd),
	}
	return c.memo.minutes
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierNonZero(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case a.Before(b):
		return a
	default:
		return b
	}
}

// HourFraction returns the work-zone hour of t as a fraction (09:30 → 9.5).
func (c *Converter) HourFraction(t time.Time) float64 {
	w := c.ToWork(t)
	return float64(w.Hour()) + float64(w.Minute())/60 + float64(w.Second())/3600
}
