// Package reschedule implements drag-to-reschedule: the moved appointment
// is patched into the calendar store immediately, then the user confirms
// (optionally notifying the customer) or dismisses, and the change is
// either persisted or rolled back.
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldcal/internal/calendar"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/metrics"
	"fieldcal/internal/model"
	"fieldcal/internal/source"
	"fieldcal/internal/tz"
)

var (
	// ErrUnknownEvent is returned by Drop when the appointment is not in the store.
	ErrUnknownEvent = errors.New("reschedule: unknown event")
	// ErrUnknownDrag is returned by Resolve for tokens it never issued or already finished.
	ErrUnknownDrag = errors.New("reschedule: unknown drag")
	// ErrDragInFlight is returned when the appointment already has a drag
	// awaiting confirmation or persistence.
	ErrDragInFlight = errors.New("reschedule: drag already in flight")
	// ErrNoDecision is returned by Resolve for a zero Decision. The drag
	// stays pending.
	ErrNoDecision = errors.New("reschedule: no decision given")
)

// State is the position of a drag in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateDragging
	StateAwaitingConfirmation
	StateCommitting
	StateRollingBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateCommitting:
		return "committing"
	case StateRollingBack:
		return "rolling_back"
	default:
		return "unknown"
	}
}

// DropRequest is a drop of an appointment onto a new start time.
type DropRequest struct {
	AppointmentID string
	ProposedStart time.Time
}

// DragState is one drag from drop to outcome.
type DragState struct {
	Token         string
	AppointmentID string
	JobID         string
	OriginalStart time.Time
	OriginalEnd   time.Time
	ProposedStart time.Time
	ProposedEnd   time.Time
	State         State
}

// Prompt returns what the confirmation dialog shows for d.
func (d DragState) Prompt() Prompt {
	return Prompt{
		Token:         d.Token,
		AppointmentID: d.AppointmentID,
		JobID:         d.JobID,
		From:          model.Window{Start: d.OriginalStart, End: d.OriginalEnd},
		To:            model.Window{Start: d.ProposedStart, End: d.ProposedEnd},
	}
}

// Prompt is the confirmation request for a drag.
type Prompt struct {
	Token         string
	AppointmentID string
	JobID         string
	From          model.Window
	To            model.Window
}

type decisionKind int

const (
	decisionNone decisionKind = iota
	decisionNotify
	decisionDismiss
)

// Decision is the user's answer to a Prompt. Build one with Notify or
// Dismiss; the zero value carries no answer and is rejected by Resolve.
type Decision struct {
	kind   decisionKind
	notify bool
}

// Notify confirms the move; customer controls the customer notification.
func Notify(customer bool) Decision { return Decision{kind: decisionNotify, notify: customer} }

// Dismiss declines the move.
func Dismiss() Decision { return Decision{kind: decisionDismiss} }

func (d Decision) Valid() bool          { return d.kind != decisionNone }
func (d Decision) Dismissed() bool      { return d.kind == decisionDismiss }
func (d Decision) NotifyCustomer() bool { return d.kind == decisionNotify && d.notify }

// OutcomeKind tags how a drag ended.
type OutcomeKind int

const (
	Committed OutcomeKind = iota + 1
	Declined
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Committed:
		return metrics.OutcomeCommitted
	case Declined:
		return metrics.OutcomeDeclined
	case Failed:
		return metrics.OutcomeFailed
	default:
		return "unknown"
	}
}

// Outcome is the result of a resolved drag. Window is the committed window
// in the work zone when Kind is Committed; Reason is set when Kind is Failed.
type Outcome struct {
	Kind          OutcomeKind
	AppointmentID string
	Window        model.Window
	Reason        string
}

// Confirmer asks the user to confirm a drag.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (Decision, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, p Prompt) (Decision, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, p Prompt) (Decision, error) { return f(ctx, p) }

// Option configures a Rescheduler.
type Option func(*Rescheduler)

// WithNotifier routes user notices to n.
func WithNotifier(n Notifier) Option {
	return func(r *Rescheduler) { r.notifier = n }
}

// WithMetrics records outcomes and persist latency.
func WithMetrics(m *metrics.CalendarMetrics) Option {
	return func(r *Rescheduler) { r.metrics = m }
}

// Rescheduler runs drags against a calendar store. Drags are serialized per
// appointment; drags of different appointments proceed independently.
type Rescheduler struct {
	store     *calendar.Store
	conv      *tz.Converter
	persister source.Persister
	notifier  Notifier
	metrics   *metrics.CalendarMetrics

	mu     sync.Mutex
	drags  map[string]*DragState
	byAppt map[string]string
}

// New creates a Rescheduler.
func New(store *calendar.Store, conv *tz.Converter, persister source.Persister, opts ...Option) *Rescheduler {
	r := &Rescheduler{
		store:     store,
		conv:      conv,
		persister: persister,
		notifier:  LogNotifier{},
		drags:     make(map[string]*DragState),
		byAppt:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drop applies the optimistic move and returns the drag awaiting
// confirmation. The end is derived from the original duration.
func (r *Rescheduler) Drop(ctx context.Context, req DropRequest) (DragState, error) {
	ev, ok := r.store.Get(req.AppointmentID)
	if !ok || ev.IsOverflow() {
		return DragState{}, fmt.Errorf("%w: %s", ErrUnknownEvent, req.AppointmentID)
	}
	if req.ProposedStart.IsZero() {
		return DragState{}, errors.New("reschedule: proposed start is zero")
	}

	start := r.conv.ToWork(req.ProposedStart)
	drag := &DragState{
		Token:         uuid.NewString(),
		AppointmentID: ev.ID,
		JobID:         ev.Resource.JobID,
		OriginalStart: ev.Start,
		OriginalEnd:   ev.End,
		ProposedStart: start,
		ProposedEnd:   start.Add(ev.End.Sub(ev.Start)),
		State:         StateDragging,
	}

	r.mu.Lock()
	if _, busy := r.byAppt[ev.ID]; busy {
		r.mu.Unlock()
		return DragState{}, fmt.Errorf("%w: %s", ErrDragInFlight, ev.ID)
	}
	r.drags[drag.Token] = drag
	r.byAppt[ev.ID] = drag.Token
	r.mu.Unlock()

	if _, err := r.store.Dispatch(calendar.Patch{ID: ev.ID, Start: drag.ProposedStart, End: drag.ProposedEnd}); err != nil {
		r.finish(drag.Token)
		return DragState{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.ID)
	}

	r.mu.Lock()
	drag.State = StateAwaitingConfirmation
	out := *drag
	r.mu.Unlock()
	r.metrics.SetPendingDrags(r.pendingCount())

	appLog.Debug("reschedule: drop applied",
		"appointment", ev.ID, "token", drag.Token,
		"from", drag.OriginalStart.Format(time.RFC3339), "to", drag.ProposedStart.Format(time.RFC3339))
	return out, nil
}

// Resolve completes the drag identified by token.
func (r *Rescheduler) Resolve(ctx context.Context, token string, d Decision) (Outcome, error) {
	if !d.Valid() {
		return Outcome{}, ErrNoDecision
	}
	r.mu.Lock()
	drag, ok := r.drags[token]
	if !ok {
		r.mu.Unlock()
		return Outcome{}, ErrUnknownDrag
	}
	if drag.State != StateAwaitingConfirmation {
		r.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrDragInFlight, drag.AppointmentID)
	}
	if d.Dismissed() {
		drag.State = StateRollingBack
	} else {
		drag.State = StateCommitting
	}
	snap := *drag
	r.mu.Unlock()

	defer r.finish(token)

	if d.Dismissed() {
		r.rollback(snap)
		r.notifier.Info("Reschedule cancelled")
		return r.outcome(Outcome{Kind: Declined, AppointmentID: snap.AppointmentID}), nil
	}

	proposed := model.Window{Start: r.conv.FromWork(snap.ProposedStart), End: r.conv.FromWork(snap.ProposedEnd)}
	began := time.Now()
	saved, err := r.persister.PersistReschedule(ctx, snap.AppointmentID, proposed, d.NotifyCustomer())
	r.metrics.ObservePersistLatency(time.Since(began).Seconds())

	if err != nil {
		r.setState(token, StateRollingBack)
		r.rollback(snap)
		appLog.Error("reschedule: persist failed", err, "appointment", snap.AppointmentID)
		r.notifier.Error("Failed to reschedule appointment: " + err.Error())
		return r.outcome(Outcome{Kind: Failed, AppointmentID: snap.AppointmentID, Reason: err.Error()}), nil
	}

	if saved.End.After(saved.Start) {
		saved = model.Window{Start: r.conv.ToWork(saved.Start), End: r.conv.ToWork(saved.End)}
	} else {
		saved = model.Window{Start: snap.ProposedStart, End: snap.ProposedEnd}
	}
	if _, err := r.store.Dispatch(calendar.Patch{ID: snap.AppointmentID, Start: saved.Start, End: saved.End}); err != nil {
		appLog.Debug("reschedule: committed event left the store", "appointment", snap.AppointmentID)
	}

	msg := "Appointment rescheduled"
	if d.NotifyCustomer() {
		msg += "; customer notified"
	}
	r.notifier.Info(msg)
	appLog.Info("reschedule: committed", "appointment", snap.AppointmentID,
		"start", saved.Start.Format(time.RFC3339), "notify", d.NotifyCustomer())
	return r.outcome(Outcome{Kind: Committed, AppointmentID: snap.AppointmentID, Window: saved}), nil
}

// Reschedule drops req and blocks on c for the decision. The optimistic
// patch is visible in the store before c is called. A canceled ctx, a
// confirmer error or a zero Decision counts as a dismissal.
func (r *Rescheduler) Reschedule(ctx context.Context, req DropRequest, c Confirmer) (Outcome, error) {
	drag, err := r.Drop(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	d, err := c.Confirm(ctx, drag.Prompt())
	if err != nil || ctx.Err() != nil {
		if err != nil {
			appLog.Error("reschedule: confirmation aborted", err, "appointment", drag.AppointmentID)
		}
		d = Dismiss()
	}
	if !d.Valid() {
		appLog.Debug("reschedule: confirmer gave no decision", "appointment", drag.AppointmentID)
		d = Dismiss()
	}
	return r.Resolve(ctx, drag.Token, d)
}

// Get returns the drag for token while it is unresolved.
func (r *Rescheduler) Get(token string) (DragState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drags[token]
	if !ok {
		return DragState{}, false
	}
	return *d, true
}

// Pending lists unresolved drags.
func (r *Rescheduler) Pending() []DragState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DragState, 0, len(r.drags))
	for _, d := range r.drags {
		out = append(out, *d)
	}
	return out
}

func (r *Rescheduler) rollback(d DragState) {
	_, err := r.store.Dispatch(calendar.Patch{ID: d.AppointmentID, Start: d.OriginalStart, End: d.OriginalEnd})
	if err != nil {
		// A rebuild dropped the event; the fresh data already stands.
		appLog.Debug("reschedule: rollback target gone", "appointment", d.AppointmentID)
	}
}

func (r *Rescheduler) setState(token string, s State) {
	r.mu.Lock()
	if d, ok := r.drags[token]; ok {
		d.State = s
	}
	r.mu.Unlock()
}

func (r *Rescheduler) finish(token string) {
	r.mu.Lock()
	if d, ok := r.drags[token]; ok {
		delete(r.byAppt, d.AppointmentID)
		delete(r.drags, token)
	}
	n := len(r.drags)
	r.mu.Unlock()
	r.metrics.SetPendingDrags(n)
}

func (r *Rescheduler) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drags)
}

func (r *Rescheduler) outcome(o Outcome) Outcome {
	r.metrics.ObserveReschedule(o.Kind.String())
	return o
}
