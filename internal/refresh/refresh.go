// Package refresh keeps the calendar store in sync with the appointment
// source on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fieldcal/internal/calendar"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/metrics"
	"fieldcal/internal/source"
	"fieldcal/internal/tz"
)

// Config wires a Refresher.
type Config struct {
	Source    source.Source
	Projector *calendar.Projector
	Store     *calendar.Store
	Converter *tz.Converter
	Metrics   *metrics.CalendarMetrics

	// BackfillDays / HorizonDays bound the fetched window around today.
	BackfillDays int
	HorizonDays  int
}

// Status describes the last refresh.
type Status struct {
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Events    int       `json:"events"`
	Runs      int       `json:"runs"`
}

// Refresher fetches appointments, projects them and rebuilds the store. A
// failed run leaves the last good data in place.
type Refresher struct {
	cfg Config

	runMu sync.Mutex

	mu     sync.Mutex
	status Status
	cron   *cron.Cron
}

// New creates a Refresher.
func New(cfg Config) *Refresher {
	if cfg.BackfillDays < 0 {
		cfg.BackfillDays = 0
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 35
	}
	return &Refresher{cfg: cfg}
}

// Window returns the fetch range for the current day in the work zone.
func (r *Refresher) Window() source.Range {
	today := r.cfg.Converter.DayStart(r.cfg.Converter.Now())
	return source.Range{
		From: today.AddDate(0, 0, -r.cfg.BackfillDays),
		To:   today.AddDate(0, 0, r.cfg.HorizonDays+1),
	}
}

// RunOnce performs one refresh. Concurrent calls are serialized.
func (r *Refresher) RunOnce(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	began := time.Now()
	window := r.Window()
	err := r.run(ctx, window)
	r.cfg.Metrics.ObserveRefresh(err == nil, time.Since(began).Seconds())

	r.mu.Lock()
	r.status.LastRun = began
	r.status.Runs++
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.status.Events = len(r.cfg.Store.Snapshot())
	r.mu.Unlock()

	if err != nil {
		appLog.Error("refresh failed; keeping last good data", err,
			"from", window.From.Format(time.RFC3339), "to", window.To.Format(time.RFC3339))
		return err
	}
	return nil
}

func (r *Refresher) run(ctx context.Context, window source.Range) error {
	snap, err := r.cfg.Source.FetchAppointments(ctx, window)
	if err != nil {
		return fmt.Errorf("refresh: fetch: %w", err)
	}
	events := r.cfg.Projector.Project(snap.Appointments, snap.Technicians)
	techs := calendar.AssignColors(snap.Technicians, r.palette())

	ch, err := r.cfg.Store.Dispatch(calendar.Rebuild{Events: events, Technicians: techs})
	if err != nil {
		return fmt.Errorf("refresh: rebuild: %w", err)
	}
	r.cfg.Metrics.SetEvents(ch.Count)
	appLog.Info("refresh completed", "appointments", len(snap.Appointments), "events", ch.Count, "version", ch.Version)
	return nil
}

func (r *Refresher) palette() []string {
	return r.cfg.Projector.Palette()
}

// Status returns the last refresh status.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ValidateSpec reports whether spec is a usable 5-field cron expression.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start runs RunOnce on spec, evaluated in the work zone, until Stop or
// ctx is done. Overlapping runs are skipped.
func (r *Refresher) Start(ctx context.Context, spec string) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	r.mu.Lock()
	if r.cron != nil {
		r.mu.Unlock()
		return errors.New("refresh: already started")
	}
	c := cron.New(
		cron.WithLocation(r.cfg.Converter.Work()),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() { _ = r.RunOnce(ctx) }); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresh: schedule: %w", err)
	}
	r.cron = c
	r.mu.Unlock()

	c.Start()
	appLog.Info("refresh scheduler started", "schedule", spec)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}
