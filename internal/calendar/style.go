package calendar

import (
	"fmt"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// Style is the visual treatment of an event box.
type Style struct {
	Background  string  `json:"background"`
	Border      string  `json:"border"`
	Opacity     float64 `json:"opacity"`
	Strike      bool    `json:"strike"`
	StatusLabel string  `json:"status_label"`
}

// StyleFor returns the style for an event with the given status and
// resolved technician color. Every Status must have a case here; the
// default branch only catches values that bypassed validation and renders
// them neutrally.
func StyleFor(status model.Status, color string) Style {
	s := Style{Background: color, Border: color, Opacity: 1}
	switch status {
	case model.StatusScheduled:
		s.StatusLabel = "Scheduled"
	case model.StatusDispatched:
		s.StatusLabel = "Dispatched"
		s.Border = "#1e293b"
	case model.StatusInProgress:
		s.StatusLabel = "In progress"
		s.Border = "#f59e0b"
	case model.StatusCompleted:
		s.StatusLabel = "Completed"
		s.Opacity = 0.6
	case model.StatusOnHold:
		s.StatusLabel = "On hold"
		s.Background = "#e5e7eb"
	case model.StatusCancelled:
		s.StatusLabel = "Cancelled"
		s.Opacity = 0.4
		s.Strike = true
	default:
		appLog.Error("calendar: no style for status", fmt.Errorf("unknown status %q", status))
		return fallbackStyle(status)
	}
	return s
}

func fallbackStyle(status model.Status) Style {
	return Style{Background: "#e5e7eb", Border: "#9ca3af", Opacity: 1, StatusLabel: string(status)}
}

// OverflowStyle is used for "+N more" buckets.
func OverflowStyle() Style {
	return Style{Background: "transparent", Border: "transparent", Opacity: 1, StatusLabel: "More"}
}

// StyleOf picks the style for any event, overflow buckets included.
func StyleOf(ev model.CalendarEvent) Style {
	if ev.IsOverflow() {
		return OverflowStyle()
	}
	return StyleFor(ev.Resource.Status, ev.Resource.Color)
}
