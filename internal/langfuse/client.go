// Package langfuse is a minimal client for the Langfuse public API: batch
// event ingestion, score submission, and the health/auth check.
//
// Events are buffered in memory and sent as one batch by Flush. Callers
// own flush timing; the client never sends on its own.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ingestionPath = "/api/public/ingestion"
	scoresPath    = "/api/public/scores"
	healthPath    = "/api/public/health"

	defaultTimeout = 30 * time.Second

	// maxPending caps the event buffer. Events past the cap are dropped
	// with a log line rather than growing without bound during a backend
	// outage.
	maxPending = 1000
)

// Config holds client construction parameters.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to one Langfuse project.
type Client struct {
	httpClient *http.Client
	host       string
	publicKey  string
	secretKey  string
	logger     *zap.Logger

	mu      sync.Mutex
	pending []event
}

// NewClient creates a client. Both keys are required; Host defaults to
// Langfuse Cloud when empty.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("langfuse credentials missing: public and secret key are required")
	}
	host := cfg.Host
	if host == "" {
		host = "https://cloud.langfuse.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		host:       host,
		publicKey:  cfg.PublicKey,
		secretKey:  cfg.SecretKey,
		logger:     logger.Named("langfuse"),
	}, nil
}

// AuthCheck verifies credentials against the health endpoint.
func (c *Client) AuthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+healthPath, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("auth check failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// NewTrace creates a trace and queues its creation event.
func (c *Client) NewTrace(opts ...TraceOption) *Trace {
	t := &Trace{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		client:    c,
	}
	for _, opt := range opts {
		opt(t)
	}
	c.enqueue(eventTraceCreate, t)
	return t
}

// Flush flushes the client that owns this trace.
func (t *Trace) Flush(ctx context.Context) error {
	return t.client.Flush(ctx)
}

// Update sets the trace input and output and queues an update. The
// ingestion API merges events sharing a trace id, so an update is a
// trace-create carrying the same id.
func (t *Trace) Update(input, output any) {
	t.Input = input
	t.Output = output
	t.client.enqueue(eventTraceCreate, t)
}

// Span records one completed span on the trace.
func (t *Trace) Span(name string, input, output any) *Observation {
	now := time.Now().UTC()
	o := &Observation{
		ID:        uuid.NewString(),
		TraceID:   t.ID,
		Name:      name,
		Type:      ObservationSpan,
		Input:     input,
		Output:    output,
		StartTime: now,
		EndTime:   &now,
		client:    t.client,
	}
	t.client.enqueue(eventSpanCreate, o)
	return o
}

// StartGeneration records the start of one model call on the trace.
func (t *Trace) StartGeneration(name, model string, input any) *Observation {
	o := &Observation{
		ID:        uuid.NewString(),
		TraceID:   t.ID,
		Name:      name,
		Type:      ObservationGeneration,
		Input:     input,
		Model:     model,
		StartTime: time.Now().UTC(),
		client:    t.client,
	}
	t.client.enqueue(eventGenerationCreate, o)
	return o
}

// End completes the observation with its output and, for generations,
// token usage.
func (o *Observation) End(output any, usage *Usage) {
	now := time.Now().UTC()
	o.Output = output
	o.EndTime = &now
	o.Usage = usage
	if o.Type == ObservationGeneration {
		o.client.enqueue(eventGenerationUpdate, o)
	} else {
		o.client.enqueue(eventSpanUpdate, o)
	}
}

// Fail completes the observation with an error level and message.
func (o *Observation) Fail(statusMessage string) {
	now := time.Now().UTC()
	o.EndTime = &now
	o.Level = "ERROR"
	o.StatusMessage = statusMessage
	if o.Type == ObservationGeneration {
		o.client.enqueue(eventGenerationUpdate, o)
	} else {
		o.client.enqueue(eventSpanUpdate, o)
	}
}

// enqueue buffers one ingestion event. The body is serialized immediately
// so later mutation of the trace or observation cannot affect an event
// already queued.
func (c *Client) enqueue(eventType string, body any) {
	encoded, err := json.Marshal(body)
	if err != nil {
		c.logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= maxPending {
		c.logger.Warn("event buffer full, dropping event", zap.String("type", eventType))
		return
	}
	c.pending = append(c.pending, event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Body:      encoded,
	})
}

// Pending returns the number of buffered events.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush sends all buffered events as one ingestion batch. The buffer is
// cleared regardless of outcome; failed batches are not retried.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := c.post(ctx, ingestionPath, ingestionPayload{Batch: batch}); err != nil {
		return fmt.Errorf("ingestion of %d events failed: %w", len(batch), err)
	}
	return nil
}

// SubmitScore posts one feedback score.
func (c *Client) SubmitScore(ctx context.Context, score Score) error {
	if err := c.post(ctx, scoresPath, score); err != nil {
		return fmt.Errorf("score submission failed: %w", err)
	}
	return nil
}

// post sends a JSON body with basic auth and treats any non-2xx status as
// an error. The ingestion API answers 207 on partial success, which still
// counts as accepted here.
func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
