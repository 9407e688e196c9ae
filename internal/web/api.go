package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldcal/internal/calendar"
	"fieldcal/internal/console"
	"fieldcal/internal/gesture"
	"fieldcal/internal/ics"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/refresh"
	"fieldcal/internal/reschedule"
)

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	View            console.View `json:"view"`
	RangeStart      time.Time    `json:"range_start"`
	RangeEnd        time.Time    `json:"range_end"`
	DisplayTimeZone string       `json:"display_timezone"`
	ViewerTimeZone  string       `json:"viewer_timezone"`

	// ViewerOffsetMinutes is work wall clock minus viewer wall clock, now.
	ViewerOffsetMinutes int                       `json:"viewer_offset_minutes"`
	Events              []model.CalendarEvent     `json:"events"`
	Styles              map[string]calendar.Style `json:"styles"`
}

// viewRange returns the [start, end) window of view around day. Weeks
// start on Sunday.
func viewRange(view console.View, day time.Time) (time.Time, time.Time) {
	switch view {
	case console.ViewDay:
		return day, day.AddDate(0, 0, 1)
	case console.ViewWeek:
		start := day.AddDate(0, 0, -int(day.Weekday()))
		return start, start.AddDate(0, 0, 7)
	default:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return start, start.AddDate(0, 1, 0)
	}
}

// requestDay parses ?date=YYYY-MM-DD, defaulting to today in the work zone.
func (s *Server) requestDay(r *http.Request) (time.Time, error) {
	if v := r.URL.Query().Get("date"); v != "" {
		return s.deps.Converter.ParseDay(v)
	}
	return s.deps.Converter.DayStart(s.deps.Converter.Now()), nil
}

// handleEvents returns events for a month, week or day view.
//
// GET /api/events?view=month|week|day&date=2025-06-02
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	day, err := s.requestDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view := console.ParseView(r.URL.Query().Get("view"))
	from, to := viewRange(view, day)

	conv := s.deps.Converter
	events := s.deps.Session.Events(view, from, to)
	styles := make(map[string]calendar.Style, len(events))
	for _, ev := range events {
		styles[ev.ID] = calendar.StyleOf(ev)
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		View:                view,
		RangeStart:          from,
		RangeEnd:            to,
		DisplayTimeZone:     conv.Work().String(),
		ViewerTimeZone:      conv.Viewer().String(),
		ViewerOffsetMinutes: conv.WallClockDiffMinutes(conv.Now()),
		Events:              events,
		Styles:              styles,
	})
}

// handleEventsICS exports the stored events in [date - backfill, date + days).
//
// GET /api/events.ics?date=2025-06-02&days=7&backfill=1
func (s *Server) handleEventsICS(w http.ResponseWriter, r *http.Request) {
	day, err := s.requestDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	events := s.deps.Store.Range(day.AddDate(0, 0, -backfill), day.AddDate(0, 0, days))
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="fieldcal.ics"`)
	if err := ics.Export(w, "fieldcal", events, s.deps.Store.Technicians(), time.Now()); err != nil {
		appLog.Error("ics export failed", err)
	}
}

// handleResourceDay returns the pixel layout of one day per technician.
func (s *Server) handleResourceDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.requestDay(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.resourceDay(day))
}

func (s *Server) resourceDay(day time.Time) calendar.DayView {
	events := s.deps.Store.Range(day, day.AddDate(0, 0, 1))
	return s.deps.Layout.ResourceDay(events, s.deps.Store.Technicians(), day)
}

type summaryResponse struct {
	Counts  map[model.Status]int `json:"counts"`
	Total   int                  `json:"total"`
	Version uint64               `json:"version"`
	Refresh *refresh.Status      `json:"refresh,omitempty"`
}

// handleSummary returns per-status counts for dashboard widgets.
func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	counts := s.deps.Store.Summary()
	resp := summaryResponse{Counts: counts, Version: s.deps.Store.Version()}
	for _, n := range counts {
		resp.Total += n
	}
	if s.deps.Refresher != nil {
		st := s.deps.Refresher.Status()
		resp.Refresh = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOverflow opens the overflow list for a day's "+N more" marker.
func (s *Server) handleOverflow(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	anchor := gesture.Point{}
	if !s.deps.Session.ClickOverflow(day, anchor) {
		writeError(w, http.StatusNotFound, "no overflow on "+day)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Overlays().Get(gesture.OverlayOverflowList))
}

func (s *Server) handleNotices(w http.ResponseWriter, _ *http.Request) {
	notices := s.deps.Inbox.Drain()
	if notices == nil {
		notices = []reschedule.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	if err := s.deps.Refresher.RunOnce(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Refresher.Status())
}

type dropRequest struct {
	AppointmentID string `json:"appointment_id"`
	// Start is RFC3339, or a naive "2006-01-02T15:04" read on the work clock.
	Start string `json:"start"`
}

type dropResponse struct {
	Token string       `json:"token"`
	State string       `json:"state"`
	From  model.Window `json:"from"`
	To    model.Window `json:"to"`
}

// handleDrop applies a drag optimistically and returns the confirmation
// prompt. The client answers it via /api/reschedule/{token}/decision.
func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	var req dropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}
	start, err := s.deps.Converter.ParseWallClock(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drag, err := s.deps.Session.Drop(r.Context(), req.AppointmentID, start)
	if err != nil {
		writeError(w, rescheduleStatus(err), err.Error())
		return
	}
	p := drag.Prompt()
	writeJSON(w, http.StatusAccepted, dropResponse{
		Token: drag.Token,
		State: drag.State.String(),
		From:  p.From,
		To:    p.To,
	})
}

// handleDrag reports a drag that is still awaiting its decision.
func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	drag, ok := s.deps.Session.Drag(token)
	if !ok {
		writeError(w, http.StatusNotFound, reschedule.ErrUnknownDrag.Error())
		return
	}
	p := drag.Prompt()
	writeJSON(w, http.StatusOK, dropResponse{
		Token: drag.Token,
		State: drag.State.String(),
		From:  p.From,
		To:    p.To,
	})
}

type decisionRequest struct {
	// Action is "confirm" or "dismiss".
	Action         string `json:"action"`
	NotifyCustomer bool   `json:"notify_customer"`
}

type outcomeResponse struct {
	Outcome       string        `json:"outcome"`
	AppointmentID string        `json:"appointment_id"`
	Window        *model.Window `json:"window,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var d reschedule.Decision
	switch strings.ToLower(req.Action) {
	case "confirm":
		d = reschedule.Notify(req.NotifyCustomer)
	case "dismiss":
		d = reschedule.Dismiss()
	default:
		writeError(w, http.StatusBadRequest, `action must be "confirm" or "dismiss"`)
		return
	}

	out, err := s.deps.Session.Resolve(r.Context(), chi.URLParam(r, "token"), d)
	if err != nil {
		writeError(w, rescheduleStatus(err), err.Error())
		return
	}
	resp := outcomeResponse{
		Outcome:       out.Kind.String(),
		AppointmentID: out.AppointmentID,
		Reason:        out.Reason,
	}
	if out.Kind == reschedule.Committed {
		resp.Window = &out.Window
	}
	writeJSON(w, http.StatusOK, resp)
}

func rescheduleStatus(err error) int {
	switch {
	case errors.Is(err, reschedule.ErrUnknownEvent), errors.Is(err, reschedule.ErrUnknownDrag):
		return http.StatusNotFound
	case errors.Is(err, reschedule.ErrDragInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
