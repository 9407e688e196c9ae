// Package calendar turns appointment records into renderable events and
// arranges them for the month and resource-day views.
package calendar

import (
	"sort"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/tz"
)

// DefaultColor is used when an appointment has no (known) primary technician.
const DefaultColor = "#64748b"

// AssignColors returns a copy of techs with colors assigned by list
// position. Colors are stable as long as the list order is stable.
func AssignColors(techs []model.Technician, palette []string) []model.Technician {
	out := make([]model.Technician, len(techs))
	for i, t := range techs {
		out[i] = t
		if len(palette) == 0 {
			out[i].Color = DefaultColor
			continue
		}
		out[i].Color = palette[i%len(palette)]
	}
	return out
}

// Projector maps appointments to CalendarEvents in the work timezone.
type Projector struct {
	conv    *tz.Converter
	palette []string
}

// NewProjector constructs a Projector.
func NewProjector(conv *tz.Converter, palette []string) *Projector {
	return &Projector{conv: conv, palette: palette}
}

// Palette returns the technician color list.
func (p *Projector) Palette() []string {
	return append([]string(nil), p.palette...)
}

// Project builds one CalendarEvent per well-formed appointment. Records
// missing required fields are skipped, not reported. The result is
// ordered by start, then id.
func (p *Projector) Project(appts []model.Appointment, techs []model.Technician) []model.CalendarEvent {
	colored := AssignColors(techs, p.palette)
	colorByTech := make(map[string]string, len(colored))
	for _, t := range colored {
		colorByTech[t.ID] = t.Color
	}

	events := make([]model.CalendarEvent, 0, len(appts))
	skipped := 0
	for _, a := range appts {
		if !wellFormed(a) {
			skipped++
			appLog.Debug("projector: skipping malformed appointment", "id", a.ID, "job_id", a.JobID)
			continue
		}

		color := DefaultColor
		if c, ok := colorByTech[a.PrimaryTechnician()]; ok {
			color = c
		}

		events = append(events, model.CalendarEvent{
			ID:    a.ID,
			Title: titleFor(a),
			Start: p.conv.ToWork(a.ScheduledStart),
			End:   p.conv.ToWork(a.ScheduledEnd),
			Resource: model.Resource{
				AppointmentID: a.ID,
				JobID:         a.JobID,
				Status:        a.Status,
				TechnicianIDs: append([]string(nil), a.TechnicianIDs...),
				Color:         color,
			},
		})
	}

	sortEvents(events)
	if skipped > 0 {
		appLog.Info("projector: skipped malformed appointments", "skipped", skipped, "projected", len(events))
	}
	return events
}

func wellFormed(a model.Appointment) bool {
	if a.ID == "" || a.JobID == "" {
		return false
	}
	if a.ScheduledStart.IsZero() || a.ScheduledEnd.IsZero() {
		return false
	}
	if !a.ScheduledEnd.After(a.ScheduledStart) {
		return false
	}
	return a.Status.Valid()
}

func titleFor(a model.Appointment) string {
	if a.Title != "" {
		return a.Title
	}
	return "Job #" + a.JobID
}

func sortEvents(events []model.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
}
