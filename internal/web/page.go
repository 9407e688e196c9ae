package web

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"fieldcal/internal/calendar"
	appLog "fieldcal/internal/log"
)

//go:embed templates/calendar.html
var templateFS embed.FS

var pageTmpl = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"px": func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "px" },
}).ParseFS(templateFS, "templates/calendar.html"))

type pageData struct {
	View        calendar.DayView
	Timezone    string
	Width       float64
	ColumnWidth float64
	Hours       []hourRow
}

type hourRow struct {
	Label string
	Top   float64
}

// handleCalendarPage renders the resource-day grid as static HTML. The root
// element carries data-ready="true" for the headless capture.
//
// GET /calendar?date=2025-06-02
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	day, err := s.requestDay(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := s.resourceDay(day)
	grid := s.deps.Layout.Grid()
	data := pageData{
		View:        view,
		Timezone:    s.deps.Converter.Work().String(),
		Width:       float64(len(view.Columns)) * grid.ColumnWidth,
		ColumnWidth: grid.ColumnWidth,
	}
	for i, h := range view.Hours {
		data.Hours = append(data.Hours, hourRow{
			Label: hourLabel(h),
			Top:   float64(i) * grid.RowHeight,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		appLog.Error("calendar page render failed", err)
	}
}

func hourLabel(h int) string {
	h %= 24
	suffix := "am"
	if h >= 12 {
		suffix = "pm"
	}
	if h%12 == 0 {
		return "12" + suffix
	}
	return strconv.Itoa(h%12) + suffix
}
