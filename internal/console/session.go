// Package console is the controller a host UI embeds: it routes pointer
// gestures on the calendar through click disambiguation, the popovers and
// the drag rescheduler, all over one event store.
package console

import (
	"context"
	"sync"
	"time"

	"fieldcal/internal/calendar"
	"fieldcal/internal/gesture"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/reschedule"
	"fieldcal/internal/tz"
)

// View selects how events are arranged.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

// ParseView maps a query value to a View; unknown values mean month.
func ParseView(s string) View {
	switch View(s) {
	case ViewWeek, ViewDay:
		return View(s)
	default:
		return ViewMonth
	}
}

// Config wires a Session.
type Config struct {
	Store       *calendar.Store
	Converter   *tz.Converter
	Rescheduler *reschedule.Rescheduler

	// ClickWindow defaults to gesture.DefaultClickWindow.
	ClickWindow time.Duration
	// Clock drives the click timers; nil uses the real clock.
	Clock gesture.Clock
	// Navigate receives the job id of a double-clicked appointment.
	Navigate func(jobID string)
}

// Session is one dispatcher's interactive state.
type Session struct {
	store    *calendar.Store
	conv     *tz.Converter
	resched  *reschedule.Rescheduler
	overlays *gesture.Overlays
	clicks   *gesture.ClickDisambiguator
	navigate func(jobID string)

	mu      sync.Mutex
	anchors map[string]gesture.Point
}

// NewSession builds a Session. Call Close to drop pending click timers.
func NewSession(cfg Config) *Session {
	s := &Session{
		store:    cfg.Store,
		conv:     cfg.Converter,
		resched:  cfg.Rescheduler,
		overlays: gesture.NewOverlays(),
		navigate: cfg.Navigate,
		anchors:  make(map[string]gesture.Point),
	}
	if s.navigate == nil {
		s.navigate = func(string) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = gesture.RealClock()
	}
	s.clicks = gesture.NewClickDisambiguator(cfg.ClickWindow, clock, s.openDetail, s.openJob)
	return s
}

// Overlays exposes the popover state for rendering.
func (s *Session) Overlays() *gesture.Overlays { return s.overlays }

// ClickEvent reports a single click on an appointment at anchor. The
// detail popover opens once the click window passes without a double click.
func (s *Session) ClickEvent(eventID string, anchor gesture.Point) {
	s.mu.Lock()
	s.anchors[eventID] = anchor
	s.mu.Unlock()
	s.clicks.Click(eventID)
}

// DoubleClickEvent opens the appointment's job.
func (s *Session) DoubleClickEvent(eventID string) {
	s.clicks.DoubleClick(eventID)
}

// ClickSlot offers creating an appointment in an empty grid slot.
func (s *Session) ClickSlot(start, end time.Time, technicianID string, anchor gesture.Point) {
	s.overlays.Open(anchor, gesture.SlotPayload{
		Start:        s.conv.ToWork(start),
		End:          s.conv.ToWork(end),
		TechnicianID: technicianID,
	})
}

// ClickOverflow lists the events hidden behind a day's "+N more" marker.
// It reports false when the day has no overflow.
func (s *Session) ClickOverflow(dayKey string, anchor gesture.Point) bool {
	day, err := s.conv.ParseDay(dayKey)
	if err != nil {
		return false
	}
	events := s.store.Range(day, day.AddDate(0, 0, 1))
	for _, ev := range calendar.GroupOverflow(events, s.conv.Work()) {
		if ev.IsOverflow() && ev.Resource.Overflow.DayKey == dayKey {
			s.overlays.Open(anchor, gesture.OverflowPayload{DayKey: dayKey, Events: ev.Resource.Overflow.Hidden})
			return true
		}
	}
	return false
}

// Drop starts a drag reschedule. The detail popover for the moved
// appointment is closed since its times changed.
func (s *Session) Drop(ctx context.Context, eventID string, proposedStart time.Time) (reschedule.DragState, error) {
	drag, err := s.resched.Drop(ctx, reschedule.DropRequest{AppointmentID: eventID, ProposedStart: proposedStart})
	if err != nil {
		return drag, err
	}
	if s.overlays.Selected() == eventID {
		s.overlays.Close(gesture.OverlayAppointmentDetail)
	}
	return drag, nil
}

// Resolve answers the confirmation prompt of a drag.
func (s *Session) Resolve(ctx context.Context, token string, d reschedule.Decision) (reschedule.Outcome, error) {
	return s.resched.Resolve(ctx, token, d)
}

// Drag returns the unresolved drag for token.
func (s *Session) Drag(token string) (reschedule.DragState, bool) {
	return s.resched.Get(token)
}

// Events returns the events overlapping [from, to) arranged for view.
// Month views bucket dense days into overflow markers.
func (s *Session) Events(view View, from, to time.Time) []model.CalendarEvent {
	events := s.store.Range(from, to)
	if view == ViewMonth {
		return calendar.GroupOverflow(events, s.conv.Work())
	}
	return events
}

// Close cancels pending click timers.
func (s *Session) Close() {
	s.clicks.Close()
}

func (s *Session) openDetail(eventID string) {
	if _, ok := s.store.Get(eventID); !ok {
		appLog.Debug("console: click on vanished event", "event", eventID)
		return
	}
	s.mu.Lock()
	anchor := s.anchors[eventID]
	delete(s.anchors, eventID)
	s.mu.Unlock()
	s.overlays.Open(anchor, gesture.DetailPayload{AppointmentID: eventID})
}

func (s *Session) openJob(eventID string) {
	s.mu.Lock()
	delete(s.anchors, eventID)
	s.mu.Unlock()

	ev, ok := s.store.Get(eventID)
	if !ok {
		return
	}
	appLog.Debug("console: open job", "event", eventID, "job", ev.Resource.JobID)
	s.navigate(ev.Resource.JobID)
}
