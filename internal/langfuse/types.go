package langfuse

import (
	"encoding/json"
	"time"
)

// Observation types understood by the Langfuse ingestion API.
const (
	ObservationSpan       = "SPAN"
	ObservationGeneration = "GENERATION"
)

// Ingestion event types.
const (
	eventTraceCreate      = "trace-create"
	eventSpanCreate       = "span-create"
	eventSpanUpdate       = "span-update"
	eventGenerationCreate = "generation-create"
	eventGenerationUpdate = "generation-update"
)

// Trace is one backend-side trace, spanning a single conversation turn.
type Trace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	client *Client
}

// Observation is a child record of a trace: one span or one generation.
type Observation struct {
	ID            string     `json:"id"`
	TraceID       string     `json:"traceId"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Input         any        `json:"input,omitempty"`
	Output        any        `json:"output,omitempty"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Level         string     `json:"level,omitempty"`
	StatusMessage string     `json:"statusMessage,omitempty"`

	// Generation-only fields.
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`

	client *Client
}

// Usage holds token counts for one generation.
type Usage struct {
	Input  int    `json:"input,omitempty"`
	Output int    `json:"output,omitempty"`
	Total  int    `json:"total,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// Score is a feedback score attached to a trace.
type Score struct {
	TraceID  string  `json:"traceId"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	DataType string  `json:"dataType,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

// event is one entry in an ingestion batch. Body is pre-serialized at
// enqueue time.
type event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// ingestionPayload is the batch ingestion request body.
type ingestionPayload struct {
	Batch []event `json:"batch"`
}

// TraceOption configures a new trace.
type TraceOption func(*Trace)

// WithName sets the trace name.
func WithName(name string) TraceOption {
	return func(t *Trace) { t.Name = name }
}

// WithUserID sets the end-user identifier.
func WithUserID(userID string) TraceOption {
	return func(t *Trace) { t.UserID = userID }
}

// WithSessionID sets the session identifier.
func WithSessionID(sessionID string) TraceOption {
	return func(t *Trace) { t.SessionID = sessionID }
}

// WithInput sets the trace input.
func WithInput(input any) TraceOption {
	return func(t *Trace) { t.Input = input }
}

// WithTags sets the trace tags.
func WithTags(tags ...string) TraceOption {
	return func(t *Trace) { t.Tags = tags }
}
