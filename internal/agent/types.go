// Package agent defines the host-facing contract of the conversational
// pipeline: the per-turn conversation context, the payloads the lifecycle
// hooks receive, and the callback sink the model-invocation layer drives.
package agent

import (
	"context"

	"github.com/fyrsmithlabs/tracebridge/internal/langfuse"
)

// TokenUsage holds token counts reported for one model call.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// LLMCallback receives model-invocation events for one turn. Registered
// callbacks are invoked sequentially by the model layer.
type LLMCallback interface {
	LLMStart(ctx context.Context, model, prompt string)
	LLMEnd(ctx context.Context, output string, usage TokenUsage)
	LLMError(ctx context.Context, err error)
}

// TraceHandler is an LLMCallback that records model calls onto a backend
// trace. The trace materializes lazily on the first model call.
type TraceHandler interface {
	LLMCallback

	// Trace returns the handler's trace, or nil when no model call has
	// happened yet in this turn.
	Trace() *langfuse.Trace

	// Flush sends whatever the handler has recorded so far.
	Flush(ctx context.Context) error
}

// Reply is the mutable short-circuit reply payload handed to the fast-reply
// hook points. A nil Reply or empty Output means no short-circuit fired.
type Reply struct {
	Output string
}

// Message is the outgoing message record handed to the finalization hook
// just before the reply is returned to the caller.
type Message struct {
	Content string `json:"content"`

	// TraceID carries the turn's trace identifier for client-side
	// correlation. Absent when the turn produced no trace or ended on the
	// pre-agent short-circuit path.
	TraceID string `json:"trace_id,omitempty"`
}

// TurnTrace is the tracing state attached to one turn. Every field is
// ephemeral: each termination path must leave the struct zero so nothing
// leaks into a later turn reusing the context object.
type TurnTrace struct {
	// Handler is the callback handler registered for this turn, nil when
	// none was armed.
	Handler TraceHandler

	// Injected marks that handler injection was already attempted this
	// turn, whether or not it succeeded. Guards re-entrant hook firing.
	Injected bool

	// FastReplyTrace is the explicit trace constructed on a short-circuit
	// path when no handler trace existed.
	FastReplyTrace *langfuse.Trace

	// Client is the secondary client used to construct FastReplyTrace.
	Client *langfuse.Client
}

// Reset clears all ephemeral tracing state.
func (t *TurnTrace) Reset() {
	*t = TurnTrace{}
}

// Empty reports whether no tracing state remains on the turn.
func (t *TurnTrace) Empty() bool {
	return t.Handler == nil && !t.Injected && t.FastReplyTrace == nil && t.Client == nil
}

// Turn is the conversation context: one instance per in-flight user turn.
// Hook invocations for a single turn are sequential; distinct turns may
// run concurrently, each with its own Turn.
type Turn struct {
	UserID    string
	SessionID string

	// UserInput is the original user message text for this turn.
	UserInput string

	// Trace holds the connector's per-turn state.
	Trace TurnTrace

	callbacks []LLMCallback
}

// AddCallback registers a callback with the turn's model-invocation layer.
func (t *Turn) AddCallback(cb LLMCallback) {
	t.callbacks = append(t.callbacks, cb)
}

// RemoveCallback detaches one callback instance, compared by identity.
func (t *Turn) RemoveCallback(cb LLMCallback) {
	kept := t.callbacks[:0]
	for _, c := range t.callbacks {
		if c != cb {
			kept = append(kept, c)
		}
	}
	t.callbacks = kept
}

// Callbacks returns the registered callbacks in registration order.
func (t *Turn) Callbacks() []LLMCallback {
	return t.callbacks
}

// EmitLLMStart fans a model-call start out to all registered callbacks.
// Called by the model-invocation layer.
func (t *Turn) EmitLLMStart(ctx context.Context, model, prompt string) {
	for _, cb := range t.callbacks {
		cb.LLMStart(ctx, model, prompt)
	}
}

// EmitLLMEnd fans a model-call completion out to all registered callbacks.
func (t *Turn) EmitLLMEnd(ctx context.Context, output string, usage TokenUsage) {
	for _, cb := range t.callbacks {
		cb.LLMEnd(ctx, output, usage)
	}
}

// EmitLLMError fans a model-call failure out to all registered callbacks.
func (t *Turn) EmitLLMError(ctx context.Context, err error) {
	for _, cb := range t.callbacks {
		cb.LLMError(ctx, err)
	}
}
