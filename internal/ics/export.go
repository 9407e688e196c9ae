package ics

import (
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"fieldcal/internal/model"
)

const productID = "-//fieldcal//appointments//EN"

// Export writes events as an iCalendar feed. Overflow buckets are expanded
// back into the events they hide. Technician ids that look like e-mail
// addresses become ATTENDEEs so the feed round-trips through ParseFeed.
func Export(w io.Writer, name string, events []model.CalendarEvent, techs []model.Technician, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	names := make(map[string]string, len(techs))
	for _, t := range techs {
		names[t.ID] = t.Name
	}

	for _, ev := range flatten(events) {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(ev.Start.UTC())
		ve.SetEndAt(ev.End.UTC())
		ve.SetSummary(ev.Title)
		ve.SetProperty(propJobID, ev.Resource.JobID)
		ve.SetProperty(propStatus, string(ev.Resource.Status))
		if ev.Resource.Status == model.StatusCancelled {
			ve.SetProperty(ical.ComponentPropertyStatus, "CANCELLED")
		}
		for _, id := range ev.Resource.TechnicianIDs {
			if !strings.Contains(id, "@") {
				continue
			}
			var params []ical.PropertyParameter
			if n := names[id]; n != "" {
				params = append(params, &ical.KeyValues{Key: "CN", Value: []string{n}})
			}
			ve.AddAttendee("mailto:"+id, params...)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func flatten(events []model.CalendarEvent) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsOverflow() {
			out = append(out, ev.Resource.Overflow.Hidden...)
			continue
		}
		out = append(out, ev)
	}
	return out
}
