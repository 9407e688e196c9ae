package reschedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/calendar"
	"fieldcal/internal/metrics"
	"fieldcal/internal/model"
	"fieldcal/internal/source"
	"fieldcal/internal/tz"
)

type fixture struct {
	conv   *tz.Converter
	store  *calendar.Store
	mem    *source.Memory
	inbox  *Inbox
	r      *Rescheduler
	start  time.Time // 09:00 work time on 2025-06-02
	techID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conv, err := tz.New("America/Chicago", "UTC")
	require.NoError(t, err)

	start := conv.WallClock(2025, time.June, 2, 9, 0)
	appts := []model.Appointment{
		{ID: "a1", JobID: "J-1", Status: model.StatusScheduled, TechnicianIDs: []string{"t1"},
			ScheduledStart: start.UTC(), ScheduledEnd: start.Add(time.Hour).UTC()},
		{ID: "a2", JobID: "J-2", Status: model.StatusDispatched, TechnicianIDs: []string{"t1"},
			ScheduledStart: start.Add(3 * time.Hour).UTC(), ScheduledEnd: start.Add(5*time.Hour + 30*time.Minute).UTC()},
	}
	techs := []model.Technician{{ID: "t1", Name: "Ana"}}

	store := calendar.NewStore()
	events := calendar.NewProjector(conv, nil).Project(appts, techs)
	_, err = store.Dispatch(calendar.Rebuild{Events: events, Technicians: techs})
	require.NoError(t, err)

	mem := source.NewMemory(appts, techs)
	inbox := NewInbox(0)
	return &fixture{
		conv:   conv,
		store:  store,
		mem:    mem,
		inbox:  inbox,
		r:      New(store, conv, mem, WithNotifier(inbox)),
		start:  start,
		techID: "t1",
	}
}

func (f *fixture) event(t *testing.T, id string) model.CalendarEvent {
	t.Helper()
	ev, ok := f.store.Get(id)
	require.True(t, ok)
	return ev
}

func TestDropAppliesOptimisticPatch(t *testing.T) {
	f := newFixture(t)

	drag, err := f.r.Drop(context.Background(), DropRequest{AppointmentID: "a2", ProposedStart: f.start.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, drag.State)
	assert.NotEmpty(t, drag.Token)
	assert.Equal(t, "J-2", drag.JobID)
	assert.Equal(t, 2*time.Hour+30*time.Minute, drag.ProposedEnd.Sub(drag.ProposedStart), "duration preserved")

	ev := f.event(t, "a2")
	assert.True(t, ev.Start.Equal(f.start.Add(-time.Hour)))
	assert.Equal(t, 2*time.Hour+30*time.Minute, ev.Duration())
	assert.Equal(t, f.conv.Work(), ev.Start.Location())

	p := drag.Prompt()
	assert.True(t, p.From.Start.Equal(f.start.Add(3*time.Hour)))
	assert.True(t, p.To.Start.Equal(f.start.Add(-time.Hour)))
	assert.Len(t, f.r.Pending(), 1)
}

func TestDropErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Drop(ctx, DropRequest{AppointmentID: "nope", ProposedStart: f.start})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = f.r.Drop(ctx, DropRequest{AppointmentID: "a1"})
	assert.Error(t, err)

	_, err = f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(2 * time.Hour)})
	assert.ErrorIs(t, err, ErrDragInFlight, "same appointment is serialized")

	_, err = f.r.Drop(ctx, DropRequest{AppointmentID: "a2", ProposedStart: f.start.Add(6 * time.Hour)})
	assert.NoError(t, err, "other appointments are independent")

	_, err = f.r.Resolve(ctx, "not-a-token", Dismiss())
	assert.ErrorIs(t, err, ErrUnknownDrag)
}

func TestDismissRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.event(t, "a1")

	drag, err := f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(4 * time.Hour)})
	require.NoError(t, err)

	out, err := f.r.Resolve(ctx, drag.Token, Dismiss())
	require.NoError(t, err)
	assert.Equal(t, Declined, out.Kind)

	after := f.event(t, "a1")
	assert.True(t, after.Start.Equal(before.Start))
	assert.True(t, after.End.Equal(before.End))
	assert.Empty(t, f.mem.History(), "nothing persisted")
	assert.Equal(t, []Notice{{Level: LevelInfo, Message: "Reschedule cancelled"}}, f.inbox.Drain())

	_, err = f.r.Resolve(ctx, drag.Token, Dismiss())
	assert.ErrorIs(t, err, ErrUnknownDrag, "token is single use")

	_, err = f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(time.Hour)})
	assert.NoError(t, err, "appointment is free again")
}

func TestPersistFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.event(t, "a1")

	f.mem.FailNext(errors.New("technician unavailable"))
	drag, err := f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(4 * time.Hour)})
	require.NoError(t, err)

	out, err := f.r.Resolve(ctx, drag.Token, Notify(true))
	require.NoError(t, err)
	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, "technician unavailable", out.Reason)

	after := f.event(t, "a1")
	assert.True(t, after.Start.Equal(before.Start))
	assert.True(t, after.End.Equal(before.End))

	notices := f.inbox.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, LevelError, notices[0].Level)
	assert.Contains(t, notices[0].Message, "technician unavailable")
}

func TestConfirmMorningToAfternoon(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	f.r = New(f.store, f.conv, f.mem, WithNotifier(f.inbox), WithMetrics(metrics.NewCalendarMetrics(reg)))

	afternoon := f.conv.WallClock(2025, time.June, 2, 14, 0)
	var seen model.CalendarEvent
	out, err := f.r.Reschedule(context.Background(), DropRequest{AppointmentID: "a1", ProposedStart: afternoon},
		ConfirmerFunc(func(ctx context.Context, p Prompt) (Decision, error) {
			seen = f.event(t, "a1")
			assert.True(t, p.From.Start.Equal(f.start))
			assert.True(t, p.To.Start.Equal(afternoon))
			return Notify(false), nil
		}))
	require.NoError(t, err)

	assert.True(t, seen.Start.Equal(afternoon), "optimistic patch happens before the prompt")

	assert.Equal(t, Committed, out.Kind)
	assert.True(t, out.Window.Start.Equal(afternoon))
	assert.True(t, out.Window.End.Equal(afternoon.Add(time.Hour)))

	hist := f.mem.History()
	require.Len(t, hist, 1)
	assert.Equal(t, "a1", hist[0].AppointmentID)
	assert.False(t, hist[0].NotifyCustomer)
	// 14:00 CDT is 19:00 UTC.
	assert.Equal(t, time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC), hist[0].Window.Start)
	assert.Equal(t, time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC), hist[0].Window.End)

	ev := f.event(t, "a1")
	assert.Equal(t, "14:00", ev.Start.Format("15:04"))
	assert.Equal(t, "15:00", ev.End.Format("15:04"))
	assert.Empty(t, f.r.Pending())
}

func TestCanceledConfirmationDismisses(t *testing.T) {
	f := newFixture(t)
	before := f.event(t, "a1")

	ctx, cancel := context.WithCancel(context.Background())
	out, err := f.r.Reschedule(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(2 * time.Hour)},
		ConfirmerFunc(func(ctx context.Context, p Prompt) (Decision, error) {
			cancel()
			<-ctx.Done()
			return Decision{}, ctx.Err()
		}))
	require.NoError(t, err)
	assert.Equal(t, Declined, out.Kind)
	assert.True(t, f.event(t, "a1").Start.Equal(before.Start))
}

func TestRebuildDuringPendingDragLastWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	drag, err := f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(2 * time.Hour)})
	require.NoError(t, err)

	// Refresh removes the event entirely while the prompt is open.
	_, err = f.store.Dispatch(calendar.Rebuild{})
	require.NoError(t, err)

	out, err := f.r.Resolve(ctx, drag.Token, Notify(false))
	require.NoError(t, err)
	assert.Equal(t, Committed, out.Kind)
	_, ok := f.store.Get("a1")
	assert.False(t, ok)
}

func TestConcurrentDragsOnDifferentAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i, id := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			out, err := f.r.Reschedule(ctx, DropRequest{AppointmentID: id, ProposedStart: f.start.Add(8 * time.Hour)},
				ConfirmerFunc(func(context.Context, Prompt) (Decision, error) { return Notify(true), nil }))
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, id)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.Equal(t, Committed, out.Kind)
	}
	assert.Len(t, f.mem.History(), 2)
}

func TestZeroDecisionNeverCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.event(t, "a1")

	drag, err := f.r.Drop(ctx, DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(5 * time.Hour)})
	require.NoError(t, err)

	_, err = f.r.Resolve(ctx, drag.Token, Decision{})
	assert.ErrorIs(t, err, ErrNoDecision)
	pending, ok := f.r.Get(drag.Token)
	require.True(t, ok, "drag stays open for a real answer")
	assert.Equal(t, StateAwaitingConfirmation, pending.State)

	out, err := f.r.Resolve(ctx, drag.Token, Dismiss())
	require.NoError(t, err)
	assert.Equal(t, Declined, out.Kind)
	assert.True(t, f.event(t, "a1").Start.Equal(before.Start))
	assert.Empty(t, f.mem.History())
}

func TestConfirmerWithoutAnswerDismisses(t *testing.T) {
	f := newFixture(t)
	before := f.event(t, "a1")

	out, err := f.r.Reschedule(context.Background(), DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(5 * time.Hour)},
		ConfirmerFunc(func(context.Context, Prompt) (Decision, error) { return Decision{}, nil }))
	require.NoError(t, err)
	assert.Equal(t, Declined, out.Kind)
	ev := f.event(t, "a1")
	assert.True(t, ev.Start.Equal(before.Start))
	assert.True(t, ev.End.Equal(before.End))
	assert.Empty(t, f.mem.History(), "nothing persisted")
}

// adjustingPersister answers with a window of its own choosing.
type adjustingPersister struct {
	reply func(w model.Window) model.Window
}

func (p adjustingPersister) PersistReschedule(_ context.Context, _ string, w model.Window, _ bool) (model.Window, error) {
	return p.reply(w), nil
}

func TestCommitUsesServerWindow(t *testing.T) {
	cases := []struct {
		name      string
		reply     func(w model.Window) model.Window
		wantStart time.Duration // offset from fixture start
		wantEnd   time.Duration
	}{
		{
			name: "server shifts the visit",
			reply: func(w model.Window) model.Window {
				return model.Window{Start: w.Start.Add(7 * time.Minute), End: w.End.Add(7 * time.Minute)}
			},
			wantStart: 5*time.Hour + 7*time.Minute,
			wantEnd:   6*time.Hour + 7*time.Minute,
		},
		{
			name:      "zero window keeps proposal",
			reply:     func(model.Window) model.Window { return model.Window{} },
			wantStart: 5 * time.Hour,
			wantEnd:   6 * time.Hour,
		},
		{
			name: "inverted window keeps proposal",
			reply: func(w model.Window) model.Window {
				return model.Window{Start: w.End, End: w.Start}
			},
			wantStart: 5 * time.Hour,
			wantEnd:   6 * time.Hour,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := New(f.store, f.conv, adjustingPersister{reply: tc.reply}, WithNotifier(f.inbox))

			out, err := r.Reschedule(context.Background(), DropRequest{AppointmentID: "a1", ProposedStart: f.start.Add(5 * time.Hour)},
				ConfirmerFunc(func(context.Context, Prompt) (Decision, error) { return Notify(false), nil }))
			require.NoError(t, err)
			require.Equal(t, Committed, out.Kind)

			wantStart, wantEnd := f.start.Add(tc.wantStart), f.start.Add(tc.wantEnd)
			assert.True(t, out.Window.Start.Equal(wantStart), "outcome start %s", out.Window.Start)
			assert.True(t, out.Window.End.Equal(wantEnd), "outcome end %s", out.Window.End)
			assert.Equal(t, f.conv.Work(), out.Window.Start.Location())

			ev := f.event(t, "a1")
			assert.True(t, ev.Start.Equal(wantStart), "event start %s", ev.Start)
			assert.True(t, ev.End.Equal(wantEnd), "event end %s", ev.End)
		})
	}
}

func TestDecisionValues(t *testing.T) {
	assert.False(t, Decision{}.Valid())
	assert.False(t, Decision{}.Dismissed())
	assert.False(t, Decision{}.NotifyCustomer())
	assert.True(t, Notify(false).Valid())
	assert.True(t, Dismiss().Dismissed())
	assert.False(t, Dismiss().NotifyCustomer())
	assert.True(t, Notify(true).NotifyCustomer())
	assert.False(t, Notify(false).Dismissed())
	assert.Equal(t, "awaiting_confirmation", StateAwaitingConfirmation.String())
	assert.Equal(t, "declined", Declined.String())
}
