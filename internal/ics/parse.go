package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// Custom VEVENT properties a dispatch system can set on exported feeds.
const (
	propJobID  = "X-FIELDCAL-JOB-ID"
	propStatus = "X-FIELDCAL-STATUS"
)

// Visit is a VEVENT read as a field-service appointment, before
// recurrence expansion.
type Visit struct {
	FeedID string

	UID   string
	JobID string
	Title string

	Status      model.Status
	Technicians []model.Technician

	Start time.Time
	End   time.Time

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides of one occurrence
}

// IsOverride reports whether v replaces a single occurrence of a series.
func (v Visit) IsOverride() bool {
	return v.Recurrence != nil
}

// ParseFeed parses an ICS payload into visits. Broken VEVENTs are logged
// and skipped.
func ParseFeed(feed Feed, body []byte) ([]Visit, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
		return nil, err
	}

	visits := make([]Visit, 0)
	for _, ve := range cal.Events() {
		v, perr := parseVisit(feed, ve)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "feed", feed.ID)
			continue
		}
		visits = append(visits, v)
	}

	appLog.Debug("ics parse completed", "feed", feed.ID, "visits", len(visits))
	return visits, nil
}

func parseVisit(feed Feed, ve *ical.VEvent) (Visit, error) {
	v := Visit{FeedID: feed.ID}

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return v, errors.New("missing UID")
	}
	v.UID = uid
	v.Title = propValue(ve, ical.ComponentPropertySummary)

	v.JobID = propValue(ve, propJobID)
	if v.JobID == "" {
		v.JobID = uid
	}
	v.Status = visitStatus(propValue(ve, propStatus), propValue(ve, ical.ComponentPropertyStatus))

	start, err := ve.GetStartAt()
	if err != nil {
		return v, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return v, err
	}
	// Keep the event's own zone so RRULE steps follow its DST rules.
	v.Start = start
	v.End = end
	if !v.End.After(v.Start) {
		return v, errors.New("DTEND not after DTSTART")
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if t, ok := attendeeTechnician(p); ok {
			v.Technicians = append(v.Technicians, t)
		}
	}

	v.RawRRule = propValue(ve, ical.ComponentPropertyRrule)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, paramTZ(p)); err == nil {
				v.ExDates = append(v.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, paramTZ(p)); err == nil {
			v.Recurrence = &t
		}
	}
	return v, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func paramTZ(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// visitStatus prefers the explicit dispatch status and falls back to the
// iCalendar STATUS of the event.
func visitStatus(custom, icsStatus string) model.Status {
	if st, ok := model.ParseStatus(custom); ok {
		return st
	}
	switch strings.ToUpper(icsStatus) {
	case "CANCELLED":
		return model.StatusCancelled
	case "TENTATIVE":
		return model.StatusOnHold
	default:
		return model.StatusScheduled
	}
}

// attendeeTechnician maps "ATTENDEE;CN=Ana Ruiz:mailto:ana@example.com"
// to a technician keyed by the lowercased address.
func attendeeTechnician(p *ical.IANAProperty) (model.Technician, bool) {
	addr := strings.TrimSpace(p.Value)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = addr[7:]
	}
	addr = strings.ToLower(addr)
	if addr == "" {
		return model.Technician{}, false
	}
	name := addr
	if p.ICalParameters != nil {
		if cn, ok := p.ICalParameters["CN"]; ok && len(cn) > 0 && cn[0] != "" {
			name = cn[0]
		}
	}
	return model.Technician{ID: addr, Name: name}, true
}

// parseICSTime parses DATE / DATE-TIME values used by EXDATE and
// RECURRENCE-ID. Floating times are read in tzid, or UTC when unset.
func parseICSTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := time.UTC
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
