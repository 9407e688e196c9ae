package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldcal/internal/model"
)

// NotifyRecord is one persisted reschedule as seen by a Memory source.
type NotifyRecord struct {
	AppointmentID  string
	Window         model.Window
	NotifyCustomer bool
}

// Memory is an in-process Source and Persister. It backs demo mode and
// tests. Persisted times are canonicalized to whole UTC seconds, like the
// dispatch API's unix-second timestamps.
type Memory struct {
	mu       sync.Mutex
	appts    []model.Appointment
	techs    []model.Technician
	history  []NotifyRecord
	failNext error
}

// NewMemory returns a Memory source holding copies of appts and techs.
func NewMemory(appts []model.Appointment, techs []model.Technician) *Memory {
	m := &Memory{}
	m.Replace(appts, techs)
	return m
}

// Replace swaps the stored records.
func (m *Memory) Replace(appts []model.Appointment, techs []model.Technician) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts = make([]model.Appointment, len(appts))
	for i, a := range appts {
		a.TechnicianIDs = append([]string(nil), a.TechnicianIDs...)
		m.appts[i] = a
	}
	m.techs = append([]model.Technician(nil), techs...)
}

// FailNext makes the next PersistReschedule return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// FetchAppointments implements Source.
func (m *Memory) FetchAppointments(ctx context.Context, r Range) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Snapshot{
		Appointments: make([]model.Appointment, 0, len(m.appts)),
		Technicians:  append([]model.Technician(nil), m.techs...),
	}
	for _, a := range m.appts {
		if r.Overlaps(a.ScheduledStart, a.ScheduledEnd) {
			a.TechnicianIDs = append([]string(nil), a.TechnicianIDs...)
			out.Appointments = append(out.Appointments, a)
		}
	}
	return out, nil
}

// PersistReschedule implements Persister.
func (m *Memory) PersistReschedule(ctx context.Context, id string, w model.Window, notify bool) (model.Window, error) {
	if err := ctx.Err(); err != nil {
		return model.Window{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNext; err != nil {
		m.failNext = nil
		return model.Window{}, err
	}
	if !w.End.After(w.Start) {
		return model.Window{}, fmt.Errorf("source: invalid window %s - %s", w.Start, w.End)
	}

	canonical := model.Window{
		Start: w.Start.UTC().Truncate(time.Second),
		End:   w.End.UTC().Truncate(time.Second),
	}
	for i := range m.appts {
		if m.appts[i].ID != id {
			continue
		}
		m.appts[i].ScheduledStart = canonical.Start
		m.appts[i].ScheduledEnd = canonical.End
		m.history = append(m.history, NotifyRecord{AppointmentID: id, Window: canonical, NotifyCustomer: notify})
		return canonical, nil
	}
	return model.Window{}, ErrNotFound
}

// History returns every successful persist in order.
func (m *Memory) History() []NotifyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]NotifyRecord(nil), m.history...)
}

// Demo builds a week of sample appointments starting on the work-zone day
// containing now, for running the service without a backend.
func Demo(now time.Time, loc *time.Location) *Memory {
	techs := []model.Technician{
		{ID: "tech-1", Name: "Ana Ruiz"},
		{ID: "tech-2", Name: "Ben Okafor"},
		{ID: "tech-3", Name: "Chen Li"},
	}
	statuses := []model.Status{
		model.StatusScheduled, model.StatusDispatched, model.StatusInProgress,
		model.StatusCompleted, model.StatusOnHold, model.StatusCancelled,
	}

	n := now.In(loc)
	day0 := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)

	var appts []model.Appointment
	seq := 0
	for d := 0; d < 7; d++ {
		day := day0.AddDate(0, 0, d)
		// Busy Mondays exercise the month-view overflow.
		perDay := 3
		if day.Weekday() == time.Monday {
			perDay = 6
		}
		for i := 0; i < perDay; i++ {
			seq++
			start := day.Add(time.Duration(8+i*2) * time.Hour)
			tech := techs[seq%len(techs)].ID
			appts = append(appts, model.Appointment{
				ID:             fmt.Sprintf("apt-%03d", seq),
				JobID:          fmt.Sprintf("job-%03d", seq),
				Title:          fmt.Sprintf("Service call %d", seq),
				Status:         statuses[seq%len(statuses)],
				TechnicianIDs:  []string{tech},
				ScheduledStart: start.UTC(),
				ScheduledEnd:   start.Add(time.Duration(60+30*(i%3)) * time.Minute).UTC(),
			})
		}
	}
	return NewMemory(appts, techs)
}
