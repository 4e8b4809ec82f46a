package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gmsas95/pillminder/internal/dashboard"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/prescriptions"
)

// Client talks to a running pillminder server. The store is single-process,
// so every command other than serve goes through the HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

type ScheduleFailure struct {
	SlotKey string `json:"slotKey"`
	Error   string `json:"error"`
}

type TodayResponse struct {
	Date   string                `json:"date"`
	Groups []prescriptions.Group `json:"groups"`
}

type AddResponse struct {
	Prescription   models.Prescription `json:"prescription"`
	ScheduleErrors []ScheduleFailure   `json:"scheduleErrors"`
}

type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Scheduler bool   `json:"scheduler"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach pillminder at %s (is `pillminder serve` running?): %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Fields: e.Fields}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &h)
	return h, err
}

func (c *Client) Today(ctx context.Context) (TodayResponse, error) {
	var out TodayResponse
	err := c.do(ctx, http.MethodGet, "/api/schedule/today", nil, &out)
	return out, err
}

func (c *Client) Dashboard(ctx context.Context) (dashboard.Report, error) {
	var out dashboard.Report
	err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, &out)
	return out, err
}

func (c *Client) Prescriptions(ctx context.Context) ([]models.Prescription, error) {
	var out struct {
		Prescriptions []models.Prescription `json:"prescriptions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/prescriptions", nil, &out)
	return out.Prescriptions, err
}

func (c *Client) Add(ctx context.Context, meds []models.Medicine) (AddResponse, error) {
	var out AddResponse
	err := c.do(ctx, http.MethodPost, "/api/prescriptions", map[string]any{"medicines": meds}, &out)
	return out, err
}

// ParseDraft asks the server to turn a free-text line into a medicine draft.
func (c *Client) ParseDraft(ctx context.Context, text string) (models.Medicine, error) {
	var out struct {
		Draft models.Medicine `json:"draft"`
	}
	err := c.do(ctx, http.MethodPost, "/api/prescriptions/parse", map[string]string{"text": text}, &out)
	return out.Draft, err
}

func (c *Client) Delete(ctx context.Context, prescriptionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/prescriptions/"+url.PathEscape(prescriptionID), nil, nil)
}

func (c *Client) Act(ctx context.Context, medicineID, hhmm string, kind escalation.Kind) (escalation.Outcome, error) {
	var out escalation.Outcome
	err := c.do(ctx, http.MethodPost, "/api/doses", map[string]string{
		"medicineId": medicineID,
		"time":       hhmm,
		"action":     string(kind),
	}, &out)
	return out, err
}
