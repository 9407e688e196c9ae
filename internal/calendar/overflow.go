package calendar

import (
	"fmt"
	"sort"
	"time"

	"fieldcal/internal/model"
	"fieldcal/internal/tz"
)

// MaxVisiblePerDay is the number of events a month-view day shows before
// collapsing the rest into one overflow bucket.
const MaxVisiblePerDay = 3

// GroupOverflow arranges events for the month view. Events are grouped
// by the calendar day of their start in loc; each day keeps its first
// MaxVisiblePerDay events (ascending start) and, when there are more,
// gets a single "+N more" bucket pinned to the first hidden event's start.
// Output is ordered by day, then by start.
func GroupOverflow(events []model.CalendarEvent, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.UTC
	}

	byDay := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		if ev.IsOverflow() {
			continue
		}
		key := ev.Start.In(loc).Format(tz.DayLayout)
		byDay[key] = append(byDay[key], ev)
	}

	days := make([]string, 0, len(byDay))
	for k := range byDay {
		days = append(days, k)
	}
	sort.Strings(days)

	out := make([]model.CalendarEvent, 0, len(events))
	for _, day := range days {
		dayEvents := byDay[day]
		sortEvents(dayEvents)

		if len(dayEvents) <= MaxVisiblePerDay {
			out = append(out, dayEvents...)
			continue
		}

		out = append(out, dayEvents[:MaxVisiblePerDay]...)
		hidden := append([]model.CalendarEvent(nil), dayEvents[MaxVisiblePerDay:]...)
		out = append(out, overflowBucket(day, hidden))
	}
	return out
}

func overflowBucket(day string, hidden []model.CalendarEvent) model.CalendarEvent {
	pin := hidden[0].Start
	return model.CalendarEvent{
		ID:    "overflow:" + day,
		Title: fmt.Sprintf("+%d more", len(hidden)),
		Start: pin,
		End:   pin,
		Resource: model.Resource{
			Overflow: &model.Overflow{
				DayKey: day,
				Count:  len(hidden),
				Hidden: hidden,
			},
		},
	}
}
