package gesture_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/gesture"
	"fieldcal/internal/gesture/gesturetest"
	"fieldcal/internal/model"
)

type recorder struct {
	clock   *gesturetest.Clock
	singles []string
	at      []time.Duration
	doubles []string
}

func newDisambiguator(t *testing.T) (*gesture.ClickDisambiguator, *recorder) {
	t.Helper()
	r := &recorder{clock: gesturetest.NewClock()}
	c := gesture.NewClickDisambiguator(gesture.DefaultClickWindow, r.clock,
		func(id string) {
			r.singles = append(r.singles, id)
			r.at = append(r.at, r.clock.Now())
		},
		func(id string) { r.doubles = append(r.doubles, id) },
	)
	return c, r
}

func TestLoneClickFiresAfterWindow(t *testing.T) {
	c, r := newDisambiguator(t)

	c.Click("ev-1")
	r.clock.Advance(199 * time.Millisecond)
	assert.Empty(t, r.singles)
	assert.True(t, c.Pending())

	r.clock.Advance(time.Millisecond)
	require.Equal(t, []string{"ev-1"}, r.singles)
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, r.at)
	assert.False(t, c.Pending())

	r.clock.Advance(time.Second)
	assert.Len(t, r.singles, 1, "fires exactly once")
}

func TestDoubleClickSuppressesSingle(t *testing.T) {
	c, r := newDisambiguator(t)

	// Native double click at 0ms / 50ms: click, click, dblclick.
	c.Click("ev-1")
	r.clock.Advance(50 * time.Millisecond)
	c.Click("ev-1")
	c.DoubleClick("ev-1")

	assert.Equal(t, []string{"ev-1"}, r.doubles, "double action is immediate")
	r.clock.Advance(time.Second)
	assert.Empty(t, r.singles)
}

func TestSecondClickRestartsWindow(t *testing.T) {
	c, r := newDisambiguator(t)

	c.Click("ev-1")
	r.clock.Advance(150 * time.Millisecond)
	c.Click("ev-2")
	r.clock.Advance(150 * time.Millisecond)
	assert.Empty(t, r.singles)

	r.clock.Advance(50 * time.Millisecond)
	assert.Equal(t, []string{"ev-2"}, r.singles, "only the latest click acts")
	assert.Equal(t, []time.Duration{350 * time.Millisecond}, r.at)
}

func TestCloseDropsPendingClick(t *testing.T) {
	c, r := newDisambiguator(t)
	c.Click("ev-1")
	c.Close()
	r.clock.Advance(time.Second)
	assert.Empty(t, r.singles)
}

func TestDeferredArenasAreIndependent(t *testing.T) {
	clock := gesturetest.NewClock()
	a := gesture.NewDeferred(clock)
	b := gesture.NewDeferred(clock)

	var fired []string
	ha := a.Schedule(10*time.Millisecond, func() { fired = append(fired, "a") })
	b.Schedule(10*time.Millisecond, func() { fired = append(fired, "b") })

	// Handle values collide across arenas; cancelling in b must not touch a.
	assert.True(t, b.Cancel(ha))
	clock.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.False(t, a.Cancel(ha), "already ran")
	assert.Zero(t, a.Pending())
}

func TestDeferredRealClock(t *testing.T) {
	d := gesture.NewDeferred(nil)
	done := make(chan struct{})
	d.Schedule(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	h := d.Schedule(time.Hour, func() { t.Error("cancelled task ran") })
	assert.True(t, d.Cancel(h))
	assert.Zero(t, d.Pending())
}

func TestOverlaysAreIndependent(t *testing.T) {
	o := gesture.NewOverlays()
	slot := gesture.SlotPayload{
		Start: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC),
	}

	o.Open(gesture.Point{X: 10, Y: 20}, slot)
	o.Open(gesture.Point{X: 300, Y: 40}, gesture.DetailPayload{AppointmentID: "a1"})

	assert.Len(t, o.OpenOverlays(), 2)
	assert.Equal(t, "a1", o.Selected())

	o.Close(gesture.OverlaySlotCreate)
	assert.False(t, o.Get(gesture.OverlaySlotCreate).Open)
	assert.True(t, o.Get(gesture.OverlayAppointmentDetail).Open, "closing one leaves the other")
	assert.Equal(t, "a1", o.Selected())

	o.Close(gesture.OverlayAppointmentDetail)
	assert.Empty(t, o.Selected(), "closing detail clears highlight")
	assert.Empty(t, o.OpenOverlays())
}

func TestOverlayReopenMovesAnchor(t *testing.T) {
	o := gesture.NewOverlays()
	o.Open(gesture.Point{X: 1, Y: 1}, gesture.DetailPayload{AppointmentID: "a1"})
	o.Open(gesture.Point{X: 5, Y: 6}, gesture.DetailPayload{AppointmentID: "a2"})

	ov := o.Get(gesture.OverlayAppointmentDetail)
	assert.Equal(t, gesture.Point{X: 5, Y: 6}, ov.Anchor)
	assert.Equal(t, gesture.DetailPayload{AppointmentID: "a2"}, ov.Payload)
	assert.Equal(t, "a2", o.Selected())
}

func TestOverlaySelectClosesAndReturnsPayload(t *testing.T) {
	o := gesture.NewOverlays()
	hidden := []model.CalendarEvent{{ID: "x"}}
	o.Open(gesture.Point{}, gesture.OverflowPayload{DayKey: "2025-06-02", Events: hidden})

	p, ok := o.Select(gesture.OverlayOverflowList)
	require.True(t, ok)
	assert.Equal(t, "2025-06-02", p.(gesture.OverflowPayload).DayKey)
	assert.False(t, o.Get(gesture.OverlayOverflowList).Open)

	_, ok = o.Select(gesture.OverlayOverflowList)
	assert.False(t, ok)
	assert.Equal(t, "overflow_list", gesture.OverlayOverflowList.String())
}
