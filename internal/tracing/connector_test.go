package tracing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/agent"
	"github.com/fyrsmithlabs/tracebridge/internal/config"
	"github.com/fyrsmithlabs/tracebridge/internal/hooks"
)

// ingested is one event received by the fake backend.
type ingested struct {
	Type string
	Body map[string]any
}

// fakeBackend is an in-memory Langfuse standing in for the real one.
type fakeBackend struct {
	srv *httptest.Server

	mu     sync.Mutex
	events []ingested
	scores []map[string]any
	status int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{status: http.StatusOK}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fb.mu.Lock()
		defer fb.mu.Unlock()

		switch r.URL.Path {
		case "/api/public/ingestion":
			var payload struct {
				Batch []struct {
					Type string         `json:"type"`
					Body map[string]any `json:"body"`
				} `json:"batch"`
			}
			_ = json.Unmarshal(body, &payload)
			for _, e := range payload.Batch {
				fb.events = append(fb.events, ingested{Type: e.Type, Body: e.Body})
			}
		case "/api/public/scores":
			var score map[string]any
			_ = json.Unmarshal(body, &score)
			fb.scores = append(fb.scores, score)
		}
		w.WriteHeader(fb.status)
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) setStatus(code int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.status = code
}

// traceIDs returns the distinct trace ids across all trace-create events.
func (fb *fakeBackend) traceIDs() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, e := range fb.events {
		if e.Type != "trace-create" {
			continue
		}
		id, _ := e.Body["id"].(string)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (fb *fakeBackend) eventsOfType(eventType string) []ingested {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []ingested
	for _, e := range fb.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testTracingConfig(host string, enabled bool) config.TracingConfig {
	return config.TracingConfig{
		Enabled:      enabled,
		PublicKey:    "pk-test",
		SecretKey:    "sk-test",
		Host:         host,
		FlushTimeout: 5 * time.Second,
	}
}

func newTestConnector(t *testing.T, fb *fakeBackend, enabled bool) *Connector {
	t.Helper()
	f := NewFactory(testTracingConfig(fb.srv.URL, enabled), zap.NewNop())
	return NewConnector(f, zap.NewNop())
}

func newTurn() *agent.Turn {
	return &agent.Turn{
		UserID:    "user-1",
		SessionID: "session-1",
		UserInput: "what is the weather",
	}
}

func TestNormalPath(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	prefix := c.PromptPrefix(ctx, "You are helpful.", turn)
	assert.Equal(t, "You are helpful.", prefix)
	require.NotNil(t, turn.Trace.Handler)
	assert.True(t, turn.Trace.Injected)
	require.Len(t, turn.Callbacks(), 1)

	// Trace materializes lazily inside the handler on first model call.
	assert.Nil(t, turn.Trace.Handler.Trace())
	turn.EmitLLMStart(ctx, "gpt-4o", "prompt text")
	turn.EmitLLMEnd(ctx, "model answer", agent.TokenUsage{Prompt: 12, Completion: 7, Total: 19})
	require.NotNil(t, turn.Trace.Handler.Trace())

	msg := &agent.Message{Content: "model answer"}
	msg = c.BeforeSendMessage(ctx, msg, turn)

	// Outgoing reply carries the trace id on the normal path.
	assert.NotEmpty(t, msg.TraceID)
	assert.Equal(t, "model answer", msg.Content)

	// Full cleanup: no ephemeral field survives the turn.
	assert.True(t, turn.Trace.Empty())
	assert.Empty(t, turn.Callbacks())

	// Exactly one trace, updated with user input and final output.
	assert.Len(t, fb.traceIDs(), 1)
	creates := fb.eventsOfType("trace-create")
	last := creates[len(creates)-1]
	assert.Equal(t, "what is the weather", last.Body["input"])
	assert.Equal(t, "model answer", last.Body["output"])

	gens := fb.eventsOfType("generation-create")
	require.Len(t, gens, 1)
	assert.Equal(t, "gpt-4o", gens[0].Body["model"])
}

func TestPromptPrefix_Idempotent(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	c.PromptPrefix(ctx, "p", turn)
	first := turn.Trace.Handler
	c.PromptPrefix(ctx, "p", turn)

	assert.Same(t, first.(*Handler), turn.Trace.Handler.(*Handler))
	assert.Len(t, turn.Callbacks(), 1, "re-entrant hook firing must not re-register the handler")
}

func TestPromptPrefix_DisabledTracing(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, false)
	turn := newTurn()

	prefix := c.PromptPrefix(context.Background(), "p", turn)
	assert.Equal(t, "p", prefix)
	assert.True(t, turn.Trace.Empty(), "disabled tracing must not touch the turn")
	assert.Empty(t, turn.Callbacks())
}

func TestFastReply_PreAgentShortCircuit(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	reply := c.FastReply(ctx, &agent.Reply{Output: "cached answer"}, turn)
	require.NotNil(t, reply)
	assert.Equal(t, "cached answer", reply.Output)

	// This path terminates the turn: cleanup happens inline.
	assert.True(t, turn.Trace.Empty())

	// Exactly one trace with one span, flushed synchronously.
	assert.Len(t, fb.traceIDs(), 1)
	spans := fb.eventsOfType("span-create")
	require.Len(t, spans, 1)
	assert.Equal(t, "fast-reply", spans[0].Body["name"])
	assert.Equal(t, "what is the weather", spans[0].Body["input"])
	assert.Equal(t, "cached answer", spans[0].Body["output"])
}

func TestFastReply_NoOutputStillCleansUp(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	turn := newTurn()
	turn.Trace.Injected = true // leftover state from a confused pipeline

	c.FastReply(context.Background(), &agent.Reply{}, turn)
	assert.True(t, turn.Trace.Empty())
	assert.Empty(t, fb.traceIDs())
}

func TestAgentFastReply_ThenFinalization(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	c.AgentFastReply(ctx, &agent.Reply{Output: "plugin answer"}, turn)

	// Not a cleanup point: the finalization hook still runs downstream.
	assert.False(t, turn.Trace.Empty())
	require.NotNil(t, turn.Trace.FastReplyTrace)
	fastID := turn.Trace.FastReplyTrace.ID

	msg := c.BeforeSendMessage(ctx, &agent.Message{Content: "plugin answer"}, turn)
	assert.Equal(t, fastID, msg.TraceID)
	assert.True(t, turn.Trace.Empty())

	// Same trace throughout the turn.
	assert.Len(t, fb.traceIDs(), 1)
	spans := fb.eventsOfType("span-create")
	require.Len(t, spans, 1)
	assert.Equal(t, "agent-fast-reply", spans[0].Body["name"])
}

func TestAgentFastReply_ReusesHandlerTrace(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	// Model was invoked earlier in the turn: the handler owns a trace.
	c.PromptPrefix(ctx, "p", turn)
	turn.EmitLLMStart(ctx, "gpt-4o", "prompt")
	turn.EmitLLMEnd(ctx, "partial", agent.TokenUsage{Total: 5})
	handlerTraceID := turn.Trace.Handler.Trace().ID

	c.AgentFastReply(ctx, &agent.Reply{Output: "plugin answer"}, turn)

	// The handler-internal trace wins; no explicit fast-reply trace.
	assert.Nil(t, turn.Trace.FastReplyTrace)
	spans := fb.eventsOfType("span-create")
	require.Len(t, spans, 1)
	assert.Equal(t, handlerTraceID, spans[0].Body["traceId"])
	assert.Len(t, fb.traceIDs(), 1)
}

func TestBeforeSendMessage_NoTraceLeavesMessageUntouched(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	turn := newTurn()
	turn.Trace.Injected = true

	msg := c.BeforeSendMessage(context.Background(), &agent.Message{Content: "plain"}, turn)
	assert.Empty(t, msg.TraceID)
	assert.Equal(t, "plain", msg.Content)
	assert.True(t, turn.Trace.Empty())
}

func TestBeforeSendMessage_BackendFailureDoesNotAlterReply(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	c.PromptPrefix(ctx, "p", turn)
	turn.EmitLLMStart(ctx, "gpt-4o", "prompt")
	turn.EmitLLMEnd(ctx, "answer", agent.TokenUsage{})

	fb.setStatus(http.StatusInternalServerError)

	msg := c.BeforeSendMessage(ctx, &agent.Message{Content: "answer"}, turn)
	assert.Equal(t, "answer", msg.Content)
	// The trace id is known locally even when the flush fails.
	assert.NotEmpty(t, msg.TraceID)
	assert.True(t, turn.Trace.Empty())
}

func TestShutdown_FlushesLeftoverHandler(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()
	turn := newTurn()

	c.PromptPrefix(ctx, "p", turn)
	turn.EmitLLMStart(ctx, "gpt-4o", "prompt")
	turn.EmitLLMEnd(ctx, "answer", agent.TokenUsage{})

	// No termination hook ran; shutdown is the safeguard.
	c.Shutdown(ctx, turn)
	assert.NotEmpty(t, fb.traceIDs())

	// Shutdown with a clean turn is a no-op.
	c.Shutdown(ctx, newTurn())
}

func TestRegister_WiresAllFiveHooks(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	r := hooks.NewRegistry(zap.NewNop())
	c.Register(r)
	ctx := context.Background()
	turn := newTurn()

	e := &hooks.Event{Turn: turn, Prefix: "p"}
	r.Execute(ctx, hooks.AgentPromptPrefix, e)
	require.NotNil(t, turn.Trace.Handler)

	turn.EmitLLMStart(ctx, "gpt-4o", "prompt")
	turn.EmitLLMEnd(ctx, "answer", agent.TokenUsage{})

	e = &hooks.Event{Turn: turn, Message: &agent.Message{Content: "answer"}}
	r.Execute(ctx, hooks.BeforeSendMessage, e)
	assert.NotEmpty(t, e.Message.TraceID)
	assert.True(t, turn.Trace.Empty())

	r.Execute(ctx, hooks.Shutdown, &hooks.Event{Turn: turn})
}

func TestConcurrentTurnsDoNotInterfere(t *testing.T) {
	fb := newFakeBackend(t)
	c := newTestConnector(t, fb, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn := newTurn()
			c.PromptPrefix(ctx, "p", turn)
			turn.EmitLLMStart(ctx, "gpt-4o", "prompt")
			turn.EmitLLMEnd(ctx, "answer", agent.TokenUsage{})
			msg := c.BeforeSendMessage(ctx, &agent.Message{Content: "answer"}, turn)
			assert.NotEmpty(t, msg.TraceID)
			assert.True(t, turn.Trace.Empty())
		}()
	}
	wg.Wait()

	// One trace per turn, no sharing.
	assert.Len(t, fb.traceIDs(), 8)
}
