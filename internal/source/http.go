package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "fieldcal/internal/log"
	"fieldcal/internal/model"
)

// HTTPClient talks to the host's dispatch API. Timestamps on the wire are
// unix seconds (UTC).
//
//	GET  {base}/appointments?from=<unix>&to=<unix>
//	POST {base}/appointments/{id}/reschedule
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient constructs a client. token is sent as a bearer token when set.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type appointmentDTO struct {
	ID             string   `json:"id"`
	JobID          string   `json:"job_id"`
	Title          string   `json:"title,omitempty"`
	Status         string   `json:"status"`
	TechnicianIDs  []string `json:"technician_ids"`
	ScheduledStart int64    `json:"scheduled_start"`
	ScheduledEnd   int64    `json:"scheduled_end"`
}

type technicianDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fetchResponse struct {
	Appointments []appointmentDTO `json:"appointments"`
	Technicians  []technicianDTO  `json:"technicians"`
}

type rescheduleRequest struct {
	Start          int64 `json:"start"`
	End            int64 `json:"end"`
	NotifyCustomer bool  `json:"notify_customer"`
}

type rescheduleResponse struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type apiError struct {
	Error string `json:"error"`
}

// FetchAppointments implements Source.
func (c *HTTPClient) FetchAppointments(ctx context.Context, r Range) (Snapshot, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(r.From.Unix(), 10))
	q.Set("to", strconv.FormatInt(r.To.Unix(), 10))

	var resp fetchResponse
	if err := c.do(ctx, http.MethodGet, "/appointments?"+q.Encode(), nil, &resp); err != nil {
		return Snapshot{}, fmt.Errorf("source: fetch appointments: %w", err)
	}

	out := Snapshot{
		Appointments: make([]model.Appointment, 0, len(resp.Appointments)),
		Technicians:  make([]model.Technician, 0, len(resp.Technicians)),
	}
	for _, d := range resp.Appointments {
		st, ok := model.ParseStatus(d.Status)
		if !ok {
			// Leave it invalid; the projector skips it.
			st = model.Status(d.Status)
		}
		a := model.Appointment{
			ID:            d.ID,
			JobID:         d.JobID,
			Title:         d.Title,
			Status:        st,
			TechnicianIDs: d.TechnicianIDs,
		}
		if d.ScheduledStart > 0 {
			a.ScheduledStart = time.Unix(d.ScheduledStart, 0).UTC()
		}
		if d.ScheduledEnd > 0 {
			a.ScheduledEnd = time.Unix(d.ScheduledEnd, 0).UTC()
		}
		out.Appointments = append(out.Appointments, a)
	}
	for _, t := range resp.Technicians {
		out.Technicians = append(out.Technicians, model.Technician{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

// PersistReschedule implements Persister.
func (c *HTTPClient) PersistReschedule(ctx context.Context, id string, w model.Window, notify bool) (model.Window, error) {
	if id == "" {
		return model.Window{}, errors.New("source: empty appointment id")
	}
	body := rescheduleRequest{
		Start:          w.Start.Unix(),
		End:            w.End.Unix(),
		NotifyCustomer: notify,
	}
	var resp rescheduleResponse
	path := "/appointments/" + url.PathEscape(id) + "/reschedule"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return model.Window{}, fmt.Errorf("source: persist reschedule %s: %w", id, err)
	}
	return model.Window{
		Start: time.Unix(resp.Start, 0).UTC(),
		End:   time.Unix(resp.End, 0).UTC(),
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, ae.Error)
		}
		return errors.New(resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		appLog.Error("source: decode response failed", err, "method", method, "status", resp.StatusCode)
		return err
	}
	return nil
}
