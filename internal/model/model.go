package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a field-service appointment.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusDispatched Status = "DISPATCHED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusOnHold     Status = "ON_HOLD"
	StatusCancelled  Status = "CANCELLED"
)

// AllStatuses lists every Status in display order.
var AllStatuses = []Status{
	StatusScheduled,
	StatusDispatched,
	StatusInProgress,
	StatusCompleted,
	StatusOnHold,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus normalizes a status name ("in progress", "in_progress",
// "IN-PROGRESS" ...) into a Status. ok is false for unknown names.
func ParseStatus(v string) (Status, bool) {
	n := strings.ToUpper(strings.TrimSpace(v))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	s := Status(n)
	return s, s.Valid()
}

// Appointment is the externally owned source record. Only the two
// scheduled timestamps can be proposed for change by this engine.
type Appointment struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`

	// TechnicianIDs is ordered; the first entry is the primary technician.
	TechnicianIDs []string `json:"technician_ids"`

	// ScheduledStart / ScheduledEnd are UTC instants.
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
}

// Duration returns ScheduledEnd - ScheduledStart.
func (a Appointment) Duration() time.Duration {
	return a.ScheduledEnd.Sub(a.ScheduledStart)
}

// PrimaryTechnician returns the first assigned technician id, or "".
func (a Appointment) PrimaryTechnician() string {
	if len(a.TechnicianIDs) == 0 {
		return ""
	}
	return a.TechnicianIDs[0]
}

// Technician is a field technician shown as a column in the resource view.
type Technician struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Color is assigned positionally from the configured palette.
	Color string `json:"color,omitempty"`
}

// Window is a start/end pair used when proposing or confirming a time change.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overflow is the payload of a synthetic "+N more" entry in month views.
type Overflow struct {
	DayKey string          `json:"day_key"`
	Count  int             `json:"count"`
	Hidden []CalendarEvent `json:"hidden"`
}

// Resource carries the originating appointment data for a CalendarEvent.
type Resource struct {
	AppointmentID string   `json:"appointment_id"`
	JobID         string   `json:"job_id"`
	Status        Status   `json:"status"`
	TechnicianIDs []string `json:"technician_ids"`
	Color         string   `json:"color"`

	// Overflow is non-nil only for overflow buckets.
	Overflow *Overflow `json:"overflow,omitempty"`
}

// CalendarEvent is the renderable projection of an Appointment.
// Start / End are in the configured work timezone.
type CalendarEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Resource Resource  `json:"resource"`
}

// IsOverflow reports whether e is a synthetic overflow bucket.
func (e CalendarEvent) IsOverflow() bool {
	return e.Resource.Overflow != nil
}

// Duration returns End - Start.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}
