package calendar

import (
	"math"
	"time"

	"fieldcal/internal/model"
	"fieldcal/internal/tz"
)

// UnassignedColumnID is the column used for events without a known technician.
const UnassignedColumnID = ""

// Grid is the resource/day grid geometry. StartHour is the first displayed
// hour (0-23); EndHour is exclusive and may exceed 24.
type Grid struct {
	StartHour      int
	EndHour        int
	RowHeight      float64
	MinEventHeight float64
	Gap            float64
	ColumnWidth    float64
}

// Box is the pixel-space placement of one event in one column.
type Box struct {
	EventID  string         `json:"event_id"`
	Column   int            `json:"column"`
	Top      float64        `json:"top"`
	Left     float64        `json:"left"`
	Height   float64        `json:"height"`
	Width    float64        `json:"width"`
	Title    string         `json:"title"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Style    Style          `json:"style"`
	Resource model.Resource `json:"resource"`
}

// Column is one technician lane of the resource view.
type Column struct {
	Index        int    `json:"index"`
	TechnicianID string `json:"technician_id"`
	Name         string `json:"name"`
	Color        string `json:"color"`
}

// NowLine is the "current time" indicator.
type NowLine struct {
	Top  float64   `json:"top"`
	Time time.Time `json:"time"`
}

// DayView is the computed resource-day layout.
type DayView struct {
	Day     string   `json:"day"`
	Hours   []int    `json:"hours"`
	Columns []Column `json:"columns"`
	Boxes   []Box    `json:"boxes"`
	Now     *NowLine `json:"now,omitempty"`
	Height  float64  `json:"height"`
}

// Layout places events on a Grid using work-zone wall-clock hours.
type Layout struct {
	grid Grid
	conv *tz.Converter
}

// NewLayout constructs a Layout.
func NewLayout(grid Grid, conv *tz.Converter) *Layout {
	return &Layout{grid: grid, conv: conv}
}

// Grid returns the grid geometry.
func (l *Layout) Grid() Grid {
	return l.grid
}

// hoursFromGridStart wraps hours before the grid start past midnight, so
// a grid starting at 06:00 puts 02:00 at hour 20.
func (l *Layout) hoursFromGridStart(t time.Time) float64 {
	h := l.conv.HourFraction(t) - float64(l.grid.StartHour)
	if h < 0 {
		h += 24
	}
	return h
}

// Place returns top and height for an event spanning [start, end).
func (l *Layout) Place(start, end time.Time) (top, height float64) {
	top = math.Max(0, l.hoursFromGridStart(start)*l.grid.RowHeight)
	durationHours := end.Sub(start).Hours()
	height = math.Max(l.grid.MinEventHeight, durationHours*l.grid.RowHeight-l.grid.Gap)
	return top, height
}

// NowIndicator positions the current-time line for day. ok is false when
// day is not today in the work zone or the current hour is outside the
// grid's displayed range.
func (l *Layout) NowIndicator(day time.Time) (NowLine, bool) {
	now := l.conv.Now()
	if l.conv.DayKey(now) != l.conv.DayKey(day) {
		return NowLine{}, false
	}
	h := l.hoursFromGridStart(now)
	if h >= float64(l.grid.EndHour-l.grid.StartHour) {
		return NowLine{}, false
	}
	return NowLine{Top: math.Max(0, h*l.grid.RowHeight), Time: now}, true
}

// ResourceDay lays out the events that start on day. Technicians become
// columns in list order; events without a known technician go to a
// trailing Unassigned column. An event with several technicians is
// placed once per technician column.
func (l *Layout) ResourceDay(events []model.CalendarEvent, techs []model.Technician, day time.Time) DayView {
	dayKey := l.conv.DayKey(day)
	view := DayView{
		Day:    dayKey,
		Height: float64(l.grid.EndHour-l.grid.StartHour) * l.grid.RowHeight,
	}
	for h := l.grid.StartHour; h < l.grid.EndHour; h++ {
		view.Hours = append(view.Hours, h%24)
	}

	colByTech := make(map[string]int, len(techs))
	for i, t := range techs {
		colByTech[t.ID] = i
		view.Columns = append(view.Columns, Column{Index: i, TechnicianID: t.ID, Name: t.Name, Color: t.Color})
	}
	unassigned := -1

	for _, ev := range events {
		if ev.IsOverflow() || l.conv.DayKey(ev.Start) != dayKey {
			continue
		}

		cols := make([]int, 0, len(ev.Resource.TechnicianIDs))
		for _, id := range ev.Resource.TechnicianIDs {
			if c, ok := colByTech[id]; ok {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			if unassigned < 0 {
				unassigned = len(view.Columns)
				view.Columns = append(view.Columns, Column{
					Index:        unassigned,
					TechnicianID: UnassignedColumnID,
					Name:         "Unassigned",
					Color:        DefaultColor,
				})
			}
			cols = append(cols, unassigned)
		}

		top, height := l.Place(ev.Start, ev.End)
		for _, c := range cols {
			view.Boxes = append(view.Boxes, Box{
				EventID:  ev.ID,
				Column:   c,
				Top:      top,
				Left:     float64(c) * l.grid.ColumnWidth,
				Height:   height,
				Width:    l.grid.ColumnWidth,
				Title:    ev.Title,
				Start:    ev.Start,
				End:      ev.End,
				Style:    StyleOf(ev),
				Resource: ev.Resource,
			})
		}
	}

	if now, ok := l.NowIndicator(day); ok {
		view.Now = &now
	}
	return view
}
