package calendar

import (
	"errors"
	"sync"
	"time"

	"fieldcal/internal/model"
)

// ErrEventNotFound is returned when a patch targets an unknown event id.
var ErrEventNotFound = errors.New("calendar: event not found")

// ChangeKind tells subscribers what kind of write happened.
type ChangeKind int

const (
	ChangeRebuilt ChangeKind = iota + 1
	ChangePatched
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRebuilt:
		return "rebuilt"
	case ChangePatched:
		return "patched"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every successful Dispatch.
type Change struct {
	Kind    ChangeKind
	EventID string // set for patches
	Version uint64
	Count   int
}

// Update is a write to the Store. The only implementations are Rebuild
// and Patch.
type Update interface {
	apply(s *Store) (Change, error)
}

// Rebuild replaces the whole collection (a data refresh).
type Rebuild struct {
	Events      []model.CalendarEvent
	Technicians []model.Technician
}

// Patch moves a single event to a new start/end. Last writer wins.
type Patch struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Store is the shared event collection. All writes go through Dispatch.
type Store struct {
	mu      sync.RWMutex
	events  []model.CalendarEvent
	index   map[string]int
	techs   []model.Technician
	version uint64

	subMu   sync.Mutex
	nextSub int
	subs    map[int]func(Change)
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		index: make(map[string]int),
		subs:  make(map[int]func(Change)),
	}
}

// Dispatch applies u and notifies subscribers.
func (s *Store) Dispatch(u Update) (Change, error) {
	s.mu.Lock()
	ch, err := u.apply(s)
	if err == nil {
		s.version++
		ch.Version = s.version
		ch.Count = len(s.events)
	}
	s.mu.Unlock()

	if err != nil {
		return Change{}, err
	}
	s.notify(ch)
	return ch, nil
}

func (r Rebuild) apply(s *Store) (Change, error) {
	events := make([]model.CalendarEvent, len(r.Events))
	copy(events, r.Events)
	sortEvents(events)

	s.events = events
	s.techs = append([]model.Technician(nil), r.Technicians...)
	s.reindex()
	return Change{Kind: ChangeRebuilt}, nil
}

func (p Patch) apply(s *Store) (Change, error) {
	i, ok := s.index[p.ID]
	if !ok {
		return Change{}, ErrEventNotFound
	}
	s.events[i].Start = p.Start
	s.events[i].End = p.End
	sortEvents(s.events)
	s.reindex()
	return Change{Kind: ChangePatched, EventID: p.ID}, nil
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.events))
	for i, ev := range s.events {
		s.index[ev.ID] = i
	}
}

// Subscribe registers fn for change notifications. The returned func
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ch Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// Snapshot returns a copy of all events ordered by start.
func (s *Store) Snapshot() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Range returns events overlapping [from, to).
func (s *Store) Range(from, to time.Time) []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, 0)
	for _, ev := range s.events {
		if ev.End.After(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.CalendarEvent{}, false
	}
	return s.events[i], true
}

// Technicians returns the technician list of the last rebuild.
func (s *Store) Technicians() []model.Technician {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Technician(nil), s.techs...)
}

// Version increases by one on every successful Dispatch.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Summary counts events per status, with every status present.
func (s *Store) Summary() map[model.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Status]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		out[st] = 0
	}
	for _, ev := range s.events {
		out[ev.Resource.Status]++
	}
	return out
}
