package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandResult is the appointment list built from a set of visits.
type ExpandResult struct {
	Appointments []model.Appointment
	// Truncated lists UIDs of series that hit the occurrence cap.
	Truncated []string
}

// Expand turns visits into appointments overlapping [from, to). Recurring
// visits (RRULE) produce one appointment per occurrence with id
// "<UID>@<start UTC>", minus EXDATEs, with RECURRENCE-ID overrides
// replacing their occurrence. maxPerSeries <= 0 uses the default cap.
func Expand(visits []Visit, from, to time.Time, maxPerSeries int) (ExpandResult, error) {
	var res ExpandResult
	if to.Before(from) {
		return res, errors.New("ics: range end before start")
	}
	if maxPerSeries <= 0 {
		maxPerSeries = defaultMaxOccurrences
	}

	overrides := make(map[string][]Visit)
	series := make([]Visit, 0, len(visits))
	for _, v := range visits {
		if v.IsOverride() {
			overrides[v.UID] = append(overrides[v.UID], v)
			continue
		}
		series = append(series, v)
	}

	for _, v := range series {
		if v.RawRRule == "" {
			if overlaps(v.Start, v.End, from, to) {
				res.Appointments = append(res.Appointments, toAppointment(v, v.UID))
			}
			continue
		}

		appts, capped := expandSeries(v, overrides[v.UID], from, to, maxPerSeries)
		res.Appointments = append(res.Appointments, appts...)
		if capped {
			res.Truncated = append(res.Truncated, v.UID)
			appLog.Error("ics expand: occurrence cap reached", errors.New("max occurrences reached"),
				"uid", v.UID, "cap", maxPerSeries)
		}
	}
	return res, nil
}

func expandSeries(v Visit, overrides []Visit, from, to time.Time, maxN int) ([]model.Appointment, bool) {
	r, err := rrule.StrToRRule(v.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", v.UID, "rrule", v.RawRRule)
		return nil, false
	}
	r.DTStart(v.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range v.ExDates {
		set.ExDate(ex)
	}

	dur := v.End.Sub(v.Start)
	// Widen by one duration so occurrences that started before `from`
	// but are still running are included.
	starts := set.Between(from.Add(-dur), to, true)
	capped := false
	if len(starts) > maxN {
		starts = starts[:maxN]
		capped = true
	}

	out := make([]model.Appointment, 0, len(starts))
	for _, s := range starts {
		occ := v
		occ.Start = s
		occ.End = s.Add(dur)
		id := v.UID + "@" + s.UTC().Format("20060102T150405Z")

		if o, ok := overrideFor(occ.Start, overrides); ok {
			o.RawRRule = ""
			occ = o
		}
		if overlaps(occ.Start, occ.End, from, to) {
			out = append(out, toAppointment(occ, id))
		}
	}
	return out, capped
}

func overrideFor(start time.Time, overrides []Visit) (Visit, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return Visit{}, false
}

func toAppointment(v Visit, id string) model.Appointment {
	techIDs := make([]string, 0, len(v.Technicians))
	for _, t := range v.Technicians {
		techIDs = append(techIDs, t.ID)
	}
	return model.Appointment{
		ID:             id,
		JobID:          v.JobID,
		Title:          v.Title,
		Status:         v.Status,
		TechnicianIDs:  techIDs,
		ScheduledStart: v.Start.UTC(),
		ScheduledEnd:   v.End.UTC(),
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aEnd.After(bStart) && aStart.Before(bEnd)
}
