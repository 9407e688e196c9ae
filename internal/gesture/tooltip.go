package gesture

import (
	"sync"
	"time"

	"fieldcal/internal/model"
)

// OverlayKind names one of the independent popovers.
type OverlayKind int

const (
	OverlaySlotCreate OverlayKind = iota + 1
	OverlayAppointmentDetail
	OverlayOverflowList
)

func (k OverlayKind) String() string {
	switch k {
	case OverlaySlotCreate:
		return "slot_create"
	case OverlayAppointmentDetail:
		return "appointment_detail"
	case OverlayOverflowList:
		return "overflow_list"
	default:
		return "unknown"
	}
}

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Payload is what an overlay displays. Implementations: SlotPayload,
// DetailPayload, OverflowPayload.
type Payload interface {
	Kind() OverlayKind
}

// SlotPayload offers "create appointment here".
type SlotPayload struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TechnicianID string    `json:"technician_id,omitempty"`
}

func (SlotPayload) Kind() OverlayKind { return OverlaySlotCreate }

// DetailPayload shows one appointment.
type DetailPayload struct {
	AppointmentID string `json:"appointment_id"`
}

func (DetailPayload) Kind() OverlayKind { return OverlayAppointmentDetail }

// OverflowPayload lists the events hidden behind a "+N more" marker.
type OverflowPayload struct {
	DayKey string                `json:"day_key"`
	Events []model.CalendarEvent `json:"events"`
}

func (OverflowPayload) Kind() OverlayKind { return OverlayOverflowList }

// Overlay is the state of one popover.
type Overlay struct {
	Kind    OverlayKind `json:"kind"`
	Open    bool        `json:"open"`
	Anchor  Point       `json:"anchor"`
	Payload Payload     `json:"payload,omitempty"`
}

// Overlays tracks each popover independently: opening one never touches
// another, and each is closed on its own.
type Overlays struct {
	mu       sync.Mutex
	byKind   map[OverlayKind]Overlay
	selected string
}

// NewOverlays returns a set with every overlay closed.
func NewOverlays() *Overlays {
	return &Overlays{byKind: make(map[OverlayKind]Overlay)}
}

// Open shows the overlay for p's kind at anchor, replacing that kind's
// previous payload. Opening a detail overlay highlights its appointment.
func (o *Overlays) Open(anchor Point, p Payload) {
	o.mu.Lock()
	defer o.mu.Unlock()

	k := p.Kind()
	o.byKind[k] = Overlay{Kind: k, Open: true, Anchor: anchor, Payload: p}
	if d, ok := p.(DetailPayload); ok {
		o.selected = d.AppointmentID
	}
}

// Close hides the overlay and clears the transient selection it showed.
func (o *Overlays) Close(k OverlayKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked(k)
}

func (o *Overlays) closeLocked(k OverlayKind) {
	delete(o.byKind, k)
	if k == OverlayAppointmentDetail {
		o.selected = ""
	}
}

// Select takes the overlay's action: it returns the payload and closes
// the overlay. ok is false if the overlay was not open.
func (o *Overlays) Select(k OverlayKind) (Payload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ov, ok := o.byKind[k]
	if !ok || !ov.Open {
		return nil, false
	}
	o.closeLocked(k)
	return ov.Payload, true
}

// Get returns the current state of overlay k.
func (o *Overlays) Get(k OverlayKind) Overlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ov, ok := o.byKind[k]; ok {
		return ov
	}
	return Overlay{Kind: k}
}

// OpenOverlays returns every open overlay ordered by kind.
func (o *Overlays) OpenOverlays() []Overlay {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Overlay, 0, len(o.byKind))
	for _, k := range []OverlayKind{OverlaySlotCreate, OverlayAppointmentDetail, OverlayOverflowList} {
		if ov, ok := o.byKind[k]; ok {
			out = append(out, ov)
		}
	}
	return out
}

// Selected returns the highlighted appointment id, or "".
func (o *Overlays) Selected() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}
