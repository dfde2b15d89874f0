// Package sheets is the client for the spreadsheet-backed remote store:
// an opaque HTTP endpoint accepting one JSON record per POST and serving
// dashboard/task/session reads over GET. Delivery runs through a bounded
// retry loop with exponential backoff; a separate best-effort mode exists
// for telemetry so error reporting can never cause retry storms.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/runnerr0/nobletrack/internal/metrics"
	"github.com/runnerr0/nobletrack/internal/record"
	"github.com/runnerr0/nobletrack/internal/sign"
)

// Retry policy for ResilientSend.
const (
	MaxAttempts = 6 // one initial try plus five retries
	retryBase   = 500 * time.Millisecond
	retryCap    = 30 * time.Second
	retryJitter = 250 * time.Millisecond
)

// ErrNoEndpoint is returned when no remote endpoint is configured even
// after a config reload.
var ErrNoEndpoint = errors.New("remote endpoint not configured")

// RemoteError is a non-2xx JSON error response from the remote store.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote store error (status %d): %s", e.Status, e.Message)
}

// ConfigSource supplies the client's live configuration. The endpoint and
// secret are re-read on every send so a config update takes effect without
// rebuilding the client.
type ConfigSource interface {
	EndpointURL() string
	SharedSecret() string
	TelemetryEnabled() bool
	ReloadConfig() error
}

// Client talks to the remote store.
type Client struct {
	source  ConfigSource
	httpc   *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics

	// Injectable for tests.
	now       func() time.Time
	retryBase time.Duration
	jitter    func() time.Duration
}

// New creates a Client. metrics may be nil.
func New(source ConfigSource, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		source:    source,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		log:       logger.With("component", "sheets"),
		metrics:   m,
		now:       time.Now,
		retryBase: retryBase,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(retryJitter)))
		},
	}
}

// BaseDelay returns the deterministic part of the backoff before retry
// attempt n (0-based): base doubled per attempt, capped at 30s. Jitter is
// added on top, so base delays are non-decreasing across attempts.
func BaseDelay(attempt int) time.Duration {
	d := retryBase << uint(attempt)
	if d > retryCap || d <= 0 {
		return retryCap
	}
	return d
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.retryBase << uint(attempt)
	if d > retryCap || d <= 0 {
		d = retryCap
	}
	return d + c.jitter()
}

// SetRetryBase overrides the backoff base and disables jitter. Exists so
// tests exercising the retry path do not wait out the real schedule.
func (c *Client) SetRetryBase(d time.Duration) {
	c.retryBase = d
	c.jitter = func() time.Duration { return 0 }
}

// Send delivers one payload: resolves the endpoint (reloading config once
// if it is missing), signs, POSTs, and decodes the JSON response. On
// success with telemetry enabled it emits a best-effort perf record for
// non-telemetry payloads.
func (c *Client) Send(ctx context.Context, payload map[string]any) (map[string]any, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	signed := sign.New(c.source.SharedSecret()).Sign(payload, c.now())
	body, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	started := c.now()
	res, err := c.post(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	if typ, _ := payload["type"].(string); typ != "telemetry" && c.source.TelemetryEnabled() {
		c.BestEffort(map[string]any{
			"type":  "telemetry",
			"level": "perf",
			"op":    typ,
			"ms":    c.now().Sub(started).Milliseconds(),
			"ts":    c.now().UTC().Format(time.RFC3339),
		})
	}
	return res, nil
}

func (c *Client) endpoint() (string, error) {
	endpoint := c.source.EndpointURL()
	if endpoint != "" {
		return endpoint, nil
	}
	// One automatic config-reload retry before giving up.
	if err := c.source.ReloadConfig(); err != nil {
		c.log.Warn("config reload failed", "error", err)
	}
	if endpoint = c.source.EndpointURL(); endpoint != "" {
		return endpoint, nil
	}
	return "", ErrNoEndpoint
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting record: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeRemoteError(resp.StatusCode, data)
	}

	var res map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return res, nil
}

func decodeRemoteError(status int, data []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	return &RemoteError{Status: status, Message: body.Message}
}

// ResilientSend delivers one payload with up to MaxAttempts tries and
// exponential backoff between them. The final attempt's error surfaces to
// the caller, who decides whether the failure is fatal to its operation.
func (c *Client) ResilientSend(ctx context.Context, payload map[string]any) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		c.metrics.SendAttempted(attempt > 0)

		res, err := c.Send(ctx, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == MaxAttempts-1 {
			break
		}
		delay := c.backoff(attempt)
		c.log.Debug("send failed, backing off",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.metrics.SendFailed()
			return nil, ctx.Err()
		}
	}
	c.metrics.SendFailed()
	return nil, fmt.Errorf("send exhausted %d attempts: %w", MaxAttempts, lastErr)
}

// BestEffort delivers a payload asynchronously with no retry and no error
// surfaced. Used for telemetry only.
func (c *Client) BestEffort(payload map[string]any) {
	endpoint := c.source.EndpointURL()
	if endpoint == "" {
		return
	}
	signed := sign.New(c.source.SharedSecret()).Sign(payload, c.now())
	body, err := json.Marshal(signed)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.post(ctx, endpoint, body); err != nil {
			c.log.Debug("best-effort send dropped", "error", err)
		}
	}()
}

// FetchDashboard retrieves the aggregate dashboard object for a user.
func (c *Client) FetchDashboard(ctx context.Context, user string) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, url.Values{"user": {user}, "mode": {"dashboard"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchTasks retrieves the remote task list.
func (c *Client) FetchTasks(ctx context.Context) ([]record.Task, error) {
	var out []record.Task
	if err := c.get(ctx, url.Values{"mode": {"tasks"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSessions retrieves the session list for a user.
func (c *Client) FetchSessions(ctx context.Context, user string) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.get(ctx, url.Values{"user": {user}, "mode": {"sessions"}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, query url.Values, out any) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", query.Get("mode"), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRemoteError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", query.Get("mode"), err)
	}
	return nil
}
