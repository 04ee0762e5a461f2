package tracing

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/agent"
	"github.com/fyrsmithlabs/tracebridge/internal/langfuse"
)

// Handler records model calls onto a Langfuse trace. It is registered as a
// callback on the turn's model-invocation layer and owns its trace for the
// duration of the turn: the trace materializes lazily on the first model
// call, and each call becomes one generation with token usage.
type Handler struct {
	client    *langfuse.Client
	userID    string
	sessionID string
	logger    *zap.Logger

	mu    sync.Mutex
	trace *langfuse.Trace
	gen   *langfuse.Observation
}

// NewHandler creates a handler bound to one turn's user and session.
func NewHandler(client *langfuse.Client, userID, sessionID string, logger *zap.Logger) *Handler {
	return &Handler{
		client:    client,
		userID:    userID,
		sessionID: sessionID,
		logger:    logger.Named("handler"),
	}
}

// Trace returns the handler's trace, nil until the first model call.
func (h *Handler) Trace() *langfuse.Trace {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trace
}

// Flush sends everything recorded so far.
func (h *Handler) Flush(ctx context.Context) error {
	return h.client.Flush(ctx)
}

// LLMStart begins a generation, creating the trace on first invocation.
func (h *Handler) LLMStart(ctx context.Context, model, prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.trace == nil {
		h.trace = h.client.NewTrace(
			langfuse.WithName(traceNameTurn),
			langfuse.WithUserID(h.userID),
			langfuse.WithSessionID(h.sessionID),
			langfuse.WithInput(prompt),
		)
	}
	if h.gen != nil {
		// Previous generation never completed; close it out before
		// starting the next.
		h.gen.Fail("superseded by a new model call")
	}
	h.gen = h.trace.StartGeneration(generationName, model, prompt)
}

// LLMEnd completes the in-flight generation with output and usage.
func (h *Handler) LLMEnd(ctx context.Context, output string, usage agent.TokenUsage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.gen == nil {
		h.logger.Warn("model completion with no open generation")
		return
	}
	h.gen.End(output, &langfuse.Usage{
		Input:  usage.Prompt,
		Output: usage.Completion,
		Total:  usage.Total,
		Unit:   "TOKENS",
	})
	h.gen = nil
}

// LLMError completes the in-flight generation as failed.
func (h *Handler) LLMError(ctx context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.gen == nil {
		return
	}
	h.gen.Fail(err.Error())
	h.gen = nil
}

var _ agent.TraceHandler = (*Handler)(nil)
