// Package source defines the data-access collaborators the calendar
// engine consumes and ships the implementations used by the service.
package source

import (
	"context"
	"errors"
	"time"

	"fieldcal/internal/model"
)

var (
	// ErrNotFound is returned when persisting a reschedule for an unknown appointment.
	ErrNotFound = errors.New("source: appointment not found")
	// ErrReadOnly is returned by sources that cannot persist changes.
	ErrReadOnly = errors.New("source: read-only source")
)

// Range is the visible date window [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Overlaps reports whether [start, end) intersects the range.
func (r Range) Overlaps(start, end time.Time) bool {
	return end.After(r.From) && start.Before(r.To)
}

// Snapshot is the result of one fetch.
type Snapshot struct {
	Appointments []model.Appointment
	Technicians  []model.Technician
}

// Source fetches appointments for a visible window.
type Source interface {
	FetchAppointments(ctx context.Context, r Range) (Snapshot, error)
}

// Persister commits a reschedule and returns the server's canonical window.
type Persister interface {
	PersistReschedule(ctx context.Context, appointmentID string, w model.Window, notifyCustomer bool) (model.Window, error)
}

// ReadOnly is a Persister that rejects every change.
type ReadOnly struct{}

func (ReadOnly) PersistReschedule(context.Context, string, model.Window, bool) (model.Window, error) {
	return model.Window{}, ErrReadOnly
}
