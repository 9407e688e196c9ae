package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldcal/internal/model"
	"fieldcal/internal/source"
)

const feedBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly-1
SUMMARY:Filter swap
DTSTART;TZID=America/Chicago:20250602T090000
DTEND;TZID=America/Chicago:20250602T100000
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=America/Chicago:20250609T090000
X-FIELDCAL-JOB-ID:J-100
X-FIELDCAL-STATUS:DISPATCHED
ATTENDEE;CN=Ana Ruiz:mailto:Ana@Example.com
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
RECURRENCE-ID;TZID=America/Chicago:20250616T090000
DTSTART;TZID=America/Chicago:20250616T130000
DTEND;TZID=America/Chicago:20250616T140000
SUMMARY:Filter swap (moved)
END:VEVENT
BEGIN:VEVENT
UID:single-1
SUMMARY:Install
DTSTART:20250603T150000Z
DTEND:20250603T170000Z
STATUS:CANCELLED
ATTENDEE;CN=Bo Chen:mailto:bo@example.com
END:VEVENT
BEGIN:VEVENT
UID:broken
DTSTART:20250603T150000Z
DTEND:20250603T140000Z
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var (
	june   = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	july   = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	testFd = Feed{ID: "crew", URL: "https://calendar.example.com/secret/feed.ics"}
)

func TestParseFeed(t *testing.T) {
	visits, err := ParseFeed(testFd, crlf(feedBody))
	require.NoError(t, err)
	require.Len(t, visits, 3, "broken VEVENT is skipped")

	v := visits[0]
	assert.Equal(t, "weekly-1", v.UID)
	assert.Equal(t, "J-100", v.JobID)
	assert.Equal(t, model.StatusDispatched, v.Status)
	require.Len(t, v.Technicians, 1)
	assert.Equal(t, "ana@example.com", v.Technicians[0].ID)
	assert.Equal(t, "Ana Ruiz", v.Technicians[0].Name)
	assert.Len(t, v.ExDates, 1)
	assert.False(t, v.IsOverride())

	assert.True(t, visits[1].IsOverride())
	assert.Equal(t, "weekly-1", visits[1].JobID, "job id falls back to UID")

	assert.Equal(t, model.StatusCancelled, visits[2].Status)

	_, err = ParseFeed(testFd, nil)
	assert.Error(t, err)
}

func TestExpandRecurringVisits(t *testing.T) {
	visits, err := ParseFeed(testFd, crlf(feedBody))
	require.NoError(t, err)

	res, err := Expand(visits, june, july, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Truncated)

	byID := make(map[string]model.Appointment)
	for _, a := range res.Appointments {
		byID[a.ID] = a
	}
	require.Len(t, byID, 4)

	first, ok := byID["weekly-1@20250602T140000Z"]
	require.True(t, ok)
	assert.Equal(t, time.Hour, first.Duration())
	assert.Equal(t, []string{"ana@example.com"}, first.TechnicianIDs)

	_, excluded := byID["weekly-1@20250609T140000Z"]
	assert.False(t, excluded, "EXDATE removes the occurrence")

	moved, ok := byID["weekly-1@20250616T140000Z"]
	require.True(t, ok, "override keeps the occurrence id")
	assert.Equal(t, time.Date(2025, 6, 16, 18, 0, 0, 0, time.UTC), moved.ScheduledStart)
	assert.Equal(t, "Filter swap (moved)", moved.Title)

	_, ok = byID["single-1"]
	assert.True(t, ok)

	_, err = Expand(visits, july, june, 0)
	assert.Error(t, err)
}

func TestExpandCapsSeries(t *testing.T) {
	visits, err := ParseFeed(testFd, crlf(feedBody))
	require.NoError(t, err)

	res, err := Expand(visits, june, july, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly-1"}, res.Truncated)
}

func TestFetcherRevalidatesAndFallsBack(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(feedBody))
	}))

	f := NewFetcher(t.TempDir())
	feed := Feed{ID: "crew", URL: srv.URL + "/feed.ics"}
	ctx := context.Background()

	p, err := f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.False(t, p.FromCache)

	p, err = f.Fetch(ctx, feed)
	require.NoError(t, err)
	assert.True(t, p.FromCache)
	assert.Equal(t, int32(1), notModified.Load())
	assert.Equal(t, crlf(feedBody), p.Body)

	srv.Close()
	p, err = f.Fetch(ctx, feed)
	require.NoError(t, err, "stale body served when origin is down")
	assert.True(t, p.FromCache)
	assert.Equal(t, int32(2), hits.Load())

	_, err = f.Fetch(ctx, Feed{ID: "none", URL: srv.URL + "/other.ics"})
	assert.Error(t, err, "no cache to fall back on")
}

func TestSourceMergesFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down.ics" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(crlf(feedBody))
	}))
	defer srv.Close()

	s := NewSource([]Feed{
		{ID: "a", URL: srv.URL + "/a.ics"},
		{ID: "b", URL: srv.URL + "/b.ics"},
		{ID: "down", URL: srv.URL + "/down.ics"},
	}, t.TempDir())

	snap, err := s.FetchAppointments(context.Background(), source.Range{From: june, To: july})
	require.NoError(t, err)
	assert.Len(t, snap.Appointments, 4, "same feed twice is de-duplicated")
	require.Len(t, snap.Technicians, 2)
	assert.Equal(t, "ana@example.com", snap.Technicians[0].ID)
	assert.Equal(t, "bo@example.com", snap.Technicians[1].ID)

	empty := NewSource(nil, t.TempDir())
	_, err = empty.FetchAppointments(context.Background(), source.Range{From: june, To: july})
	assert.Error(t, err)
}

func TestSourceSkipsUnparsableFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blank.ics" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(crlf(feedBody))
	}))
	defer srv.Close()
	rng := source.Range{From: june, To: july}

	s := NewSource([]Feed{
		{ID: "crew", URL: srv.URL + "/crew.ics"},
		{ID: "blank", URL: srv.URL + "/blank.ics"},
	}, t.TempDir())
	snap, err := s.FetchAppointments(context.Background(), rng)
	require.NoError(t, err)
	assert.Len(t, snap.Appointments, 4)

	onlyBlank := NewSource([]Feed{{ID: "blank", URL: srv.URL + "/blank.ics"}}, t.TempDir())
	_, err = onlyBlank.FetchAppointments(context.Background(), rng)
	require.Error(t, err, "a lone broken feed must not look like an empty schedule")
	assert.Contains(t, err.Error(), "blank")
}

func TestSourceOccurrenceCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlf(feedBody))
	}))
	defer srv.Close()

	s := NewSource([]Feed{{ID: "crew", URL: srv.URL + "/crew.ics"}}, t.TempDir(), WithMaxOccurrences(1))
	snap, err := s.FetchAppointments(context.Background(), source.Range{From: june, To: july})
	require.NoError(t, err)

	ids := make([]string, 0, len(snap.Appointments))
	for _, a := range snap.Appointments {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"weekly-1@20250602T140000Z", "single-1"}, ids)
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	hidden := model.CalendarEvent{
		ID: "a2", Title: "Hidden", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour),
		Resource: model.Resource{AppointmentID: "a2", JobID: "J-2", Status: model.StatusOnHold},
	}
	events := []model.CalendarEvent{
		{
			ID: "a1", Title: "Install", Start: start, End: start.Add(time.Hour),
			Resource: model.Resource{AppointmentID: "a1", JobID: "J-1", Status: model.StatusCancelled,
				TechnicianIDs: []string{"ana@example.com", "t-2"}},
		},
		{
			ID: "overflow:2025-06-02", Title: "+1 more", Start: hidden.Start, End: hidden.Start,
			Resource: model.Resource{Overflow: &model.Overflow{DayKey: "2025-06-02", Count: 1, Hidden: []model.CalendarEvent{hidden}}},
		},
	}

	var buf bytes.Buffer
	err := Export(&buf, "Crew", events, []model.Technician{{ID: "ana@example.com", Name: "Ana Ruiz"}}, start)
	require.NoError(t, err)

	visits, err := ParseFeed(Feed{ID: "export"}, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, visits, 2)

	assert.Equal(t, "a1", visits[0].UID)
	assert.Equal(t, "J-1", visits[0].JobID)
	assert.Equal(t, model.StatusCancelled, visits[0].Status)
	require.Len(t, visits[0].Technicians, 1, "non-address ids are not exported")
	assert.Equal(t, "Ana Ruiz", visits[0].Technicians[0].Name)
	assert.True(t, visits[0].Start.Equal(start))

	assert.Equal(t, "a2", visits[1].UID)
	assert.Equal(t, model.StatusOnHold, visits[1].Status)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL(testFd.URL))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
