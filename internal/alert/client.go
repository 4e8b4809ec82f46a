// Package alert delivers caretaker alerts and hosts the relay that turns them
// into email.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/errors"
)

// Alert is the wire body of POST /send-alert.
type Alert struct {
	UserEmail      string `json:"userEmail" validate:"required,email"`
	CaretakerEmail string `json:"caretakerEmail" validate:"required,email"`
	MedicineName   string `json:"medicineName" validate:"required"`
}

// Result is the relay's answer.
type Result struct {
	Status    string `json:"status"`
	Simulated bool   `json:"simulated,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Sender delivers an alert. The escalation controller depends on this.
type Sender interface {
	Send(ctx context.Context, a Alert) (Result, error)
}

// Client posts alerts to the relay behind a circuit breaker.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[Result]
	logger     *zap.Logger
}

func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        "caretaker-alert",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Alert circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Send posts the alert. Success requires a 2xx answer with status "sent".
func (c *Client) Send(ctx context.Context, a Alert) (Result, error) {
	return c.breaker.Execute(func() (Result, error) {
		return c.post(ctx, a)
	})
}

func (c *Client) post(ctx context.Context, a Alert) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(a)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/send-alert", bytes.NewReader(body))
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeAlertFailed, "failed to build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeAlertFailed, "alert relay unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeAlertFailed, "failed to read alert response")
	}

	var res Result
	_ = json.Unmarshal(raw, &res)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, errors.New(errors.CodeAlertFailed, fmt.Sprintf("alert relay returned %d", resp.StatusCode))
	}
	if res.Status != "sent" {
		return res, errors.New(errors.CodeAlertFailed, fmt.Sprintf("alert relay answered status %q", res.Status))
	}
	return res, nil
}
