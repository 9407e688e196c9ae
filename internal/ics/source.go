package ics

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
	"fieldcal/internal/source"
)

// Source serves appointments from one or more ICS feeds. It is read-only;
// pair it with a separate Persister for reschedules.
type Source struct {
	feeds   []Feed
	fetcher *Fetcher
	maxOcc  int
}

// SourceOption customizes a Source.
type SourceOption func(*Source)

// WithMaxOccurrences caps the occurrences expanded per recurring visit.
// n <= 0 keeps the default cap.
func WithMaxOccurrences(n int) SourceOption {
	return func(s *Source) { s.maxOcc = n }
}

// NewSource builds a Source over feeds, caching bodies under cacheDir.
func NewSource(feeds []Feed, cacheDir string, opts ...SourceOption) *Source {
	s := &Source{
		feeds:   feeds,
		fetcher: NewFetcher(cacheDir),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAppointments implements source.Source. A feed that fails to fetch
// or parse is logged and skipped; the call fails only when no feed could
// be read, so a broken feed never empties the calendar.
func (s *Source) FetchAppointments(ctx context.Context, r source.Range) (source.Snapshot, error) {
	if len(s.feeds) == 0 {
		return source.Snapshot{}, errors.New("ics: no feeds configured")
	}

	payloads, errs := s.fetcher.FetchAll(ctx, s.feeds)
	if len(payloads) == 0 {
		return source.Snapshot{}, fmt.Errorf("ics: all feeds failed: %w", errors.Join(errs...))
	}

	var (
		visits []Visit
		parsed int
	)
	for _, p := range payloads {
		vs, err := ParseFeed(p.Feed, p.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "feed", p.Feed.ID, "from_cache", p.FromCache)
			errs = append(errs, fmt.Errorf("ics: parse feed %s: %w", p.Feed.ID, err))
			continue
		}
		parsed++
		visits = append(visits, vs...)
	}
	if parsed == 0 {
		return source.Snapshot{}, fmt.Errorf("ics: no feed could be parsed: %w", errors.Join(errs...))
	}

	res, err := Expand(visits, r.From, r.To, s.maxOcc)
	if err != nil {
		return source.Snapshot{}, err
	}

	snap := source.Snapshot{
		Appointments: dedupe(res.Appointments),
		Technicians:  mergeTechnicians(visits),
	}
	appLog.Info("ics source fetched",
		"feeds", parsed, "visits", len(visits), "appointments", len(snap.Appointments))
	return snap, nil
}

// dedupe drops repeated appointment ids; a visit published on two feeds
// keeps its first copy.
func dedupe(in []model.Appointment) []model.Appointment {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, a := range in {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}

// mergeTechnicians lists attendees in order of first appearance across
// visits sorted by start, so column order is stable between refreshes.
func mergeTechnicians(visits []Visit) []model.Technician {
	ordered := make([]Visit, len(visits))
	copy(ordered, visits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start.Equal(ordered[j].Start) {
			return ordered[i].UID < ordered[j].UID
		}
		return ordered[i].Start.Before(ordered[j].Start)
	})

	seen := make(map[string]struct{})
	var out []model.Technician
	for _, v := range ordered {
		for _, t := range v.Technicians {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
