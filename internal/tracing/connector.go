// Package tracing attaches Langfuse instrumentation to the conversational
// pipeline through lifecycle hooks.
//
// The per-turn state machine, observed through agent.TurnTrace:
//
//	NO_TRACE -> HANDLER_ARMED -> TRACE_ACTIVE -> FINALIZED / DISCARDED
//
// A turn ends on exactly one of three paths: the normal model-invocation
// path (finalized by BeforeSendMessage), the agent-level short-circuit
// (AgentFastReply, later finalized by BeforeSendMessage), or the pre-agent
// short-circuit (FastReply, which must clean up inline because
// BeforeSendMessage never runs on that path). Every path must leave the
// turn's TurnTrace zero.
//
// Backend failures inside any transition are logged and swallowed: tracing
// degrades to absent for that span or turn, the conversational reply is
// never affected.
package tracing

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/agent"
	"github.com/fyrsmithlabs/tracebridge/internal/hooks"
	"github.com/fyrsmithlabs/tracebridge/internal/langfuse"
)

const (
	traceNameTurn      = "conversation-turn"
	traceNameFastReply = "fast-reply"
	generationName     = "llm-call"

	spanAgentFastReply = "agent-fast-reply"
	spanFastReply      = "fast-reply"

	// hookPriorityLast places the connector after all other registrants
	// at each extension point, so plugins that rewrite the payload run
	// before it is recorded.
	hookPriorityLast = 100
)

// Connector implements the five lifecycle hooks.
type Connector struct {
	factory *Factory
	logger  *zap.Logger
}

// NewConnector creates a connector using the factory's configuration.
func NewConnector(factory *Factory, logger *zap.Logger) *Connector {
	return &Connector{
		factory: factory,
		logger:  logger.Named("connector"),
	}
}

// Register wires the connector into the host's hook registry.
func (c *Connector) Register(r *hooks.Registry) {
	r.Register(hooks.AgentPromptPrefix, hookPriorityLast, func(ctx context.Context, e *hooks.Event) {
		e.Prefix = c.PromptPrefix(ctx, e.Prefix, e.Turn)
	})
	r.Register(hooks.AgentFastReply, hookPriorityLast, func(ctx context.Context, e *hooks.Event) {
		e.Reply = c.AgentFastReply(ctx, e.Reply, e.Turn)
	})
	r.Register(hooks.FastReply, hookPriorityLast, func(ctx context.Context, e *hooks.Event) {
		e.Reply = c.FastReply(ctx, e.Reply, e.Turn)
	})
	r.Register(hooks.BeforeSendMessage, hookPriorityLast, func(ctx context.Context, e *hooks.Event) {
		e.Message = c.BeforeSendMessage(ctx, e.Message, e.Turn)
	})
	r.Register(hooks.Shutdown, hookPriorityLast, func(ctx context.Context, e *hooks.Event) {
		c.Shutdown(ctx, e.Turn)
	})
}

// PromptPrefix arms the turn's handler right before the first model call.
// The injected flag is set even when arming fails, so this transition
// fires at most once per turn no matter how often the pipeline re-enters
// the hook point.
func (c *Connector) PromptPrefix(ctx context.Context, prefix string, turn *agent.Turn) string {
	if turn == nil || !c.factory.Enabled() || turn.Trace.Injected {
		return prefix
	}
	defer func() { turn.Trace.Injected = true }()

	client := c.factory.AcquireClient(ctx)
	if client == nil {
		return prefix
	}

	h := NewHandler(client, turn.UserID, turn.SessionID, c.logger)
	turn.AddCallback(h)
	turn.Trace.Handler = h

	c.logger.Debug("handler armed",
		zap.String("user_id", turn.UserID),
		zap.String("session_id", turn.SessionID),
	)
	return prefix
}

// AgentFastReply records the agent-level short-circuit reply. This path
// terminates the turn's tracing work, so the resolved trace is flushed
// synchronously; no later hook is guaranteed to do it. The turn state is
// deliberately not cleared: BeforeSendMessage still runs downstream on
// this path and needs it.
func (c *Connector) AgentFastReply(ctx context.Context, reply *agent.Reply, turn *agent.Turn) *agent.Reply {
	if turn == nil || !c.factory.Enabled() || reply == nil || reply.Output == "" {
		return reply
	}

	tr := c.resolveOrCreateTrace(ctx, turn)
	if tr == nil {
		return reply
	}
	tr.Span(spanAgentFastReply, turn.UserInput, reply.Output)
	c.flush(ctx, tr)
	return reply
}

// FastReply records the pre-agent short-circuit reply and cleans the turn
// up inline: BeforeSendMessage never runs on this path, so nobody else
// will. No trace identifier is attached to the reply for the same reason.
func (c *Connector) FastReply(ctx context.Context, reply *agent.Reply, turn *agent.Turn) *agent.Reply {
	if turn == nil {
		return reply
	}
	defer c.cleanup(turn)

	if !c.factory.Enabled() || reply == nil || reply.Output == "" {
		return reply
	}

	tr := c.resolveOrCreateTrace(ctx, turn)
	if tr == nil {
		return reply
	}
	tr.Span(spanFastReply, turn.UserInput, reply.Output)
	c.flush(ctx, tr)
	return reply
}

// BeforeSendMessage finalizes the turn's trace with the original user
// input and the final reply, attaches the trace id to the outgoing
// message, and always clears the turn state, update or no update.
func (c *Connector) BeforeSendMessage(ctx context.Context, msg *agent.Message, turn *agent.Turn) *agent.Message {
	if turn == nil {
		return msg
	}
	defer c.cleanup(turn)

	if msg == nil {
		return msg
	}

	tr := c.activeTrace(turn)
	if tr == nil {
		return msg
	}

	tr.Update(turn.UserInput, msg.Content)
	msg.TraceID = tr.ID
	c.flush(ctx, tr)
	return msg
}

// Shutdown is a best-effort flush of whatever handler remains attached to
// the turn. Termination paths normally leave none.
func (c *Connector) Shutdown(ctx context.Context, turn *agent.Turn) {
	if turn == nil || turn.Trace.Handler == nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, flushTimeout(c.factory.cfg))
	defer cancel()
	if err := turn.Trace.Handler.Flush(fctx); err != nil {
		c.logger.Error("handler flush on shutdown failed", zap.Error(err))
		return
	}
	c.logger.Info("handler flushed on shutdown")
}

// activeTrace resolves the turn's trace without creating one. A
// handler-internal trace wins over a stored fast-reply trace: it reflects
// a true model invocation.
func (c *Connector) activeTrace(turn *agent.Turn) *langfuse.Trace {
	if h := turn.Trace.Handler; h != nil {
		if tr := h.Trace(); tr != nil {
			return tr
		}
	}
	return turn.Trace.FastReplyTrace
}

// resolveOrCreateTrace resolves the turn's trace for a short-circuit path,
// constructing an explicit fast-reply trace when neither the handler nor a
// previous short-circuit produced one. The handler's client is reused when
// present; only a freshly acquired client is stored on the turn.
func (c *Connector) resolveOrCreateTrace(ctx context.Context, turn *agent.Turn) *langfuse.Trace {
	if tr := c.activeTrace(turn); tr != nil {
		return tr
	}

	var client *langfuse.Client
	if h, ok := turn.Trace.Handler.(*Handler); ok && h != nil {
		client = h.client
	}
	if client == nil {
		client = turn.Trace.Client
	}
	if client == nil {
		client = c.factory.AcquireClient(ctx)
		if client == nil {
			return nil
		}
		turn.Trace.Client = client
	}

	tr := client.NewTrace(
		langfuse.WithName(traceNameFastReply),
		langfuse.WithUserID(turn.UserID),
		langfuse.WithSessionID(turn.SessionID),
		langfuse.WithInput(turn.UserInput),
	)
	turn.Trace.FastReplyTrace = tr
	return tr
}

// cleanup detaches the handler from the model-invocation layer and clears
// every ephemeral field. Every termination path funnels through here.
func (c *Connector) cleanup(turn *agent.Turn) {
	if h := turn.Trace.Handler; h != nil {
		turn.RemoveCallback(h)
	}
	turn.Trace.Reset()
}

// flush sends the trace's buffered events, bounded by the configured
// flush timeout. Failures are logged and swallowed.
func (c *Connector) flush(ctx context.Context, tr *langfuse.Trace) {
	fctx, cancel := context.WithTimeout(ctx, flushTimeout(c.factory.cfg))
	defer cancel()
	if err := tr.Flush(fctx); err != nil {
		c.logger.Error("trace flush failed", zap.Error(err))
	}
}
