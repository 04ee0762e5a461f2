// Package hooks provides the lifecycle hook registry the conversational
// host drives. Hooks receive a mutable Event and run in priority order;
// a misbehaving hook never breaks the pipeline.
package hooks

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/agent"
)

// Type identifies one of the fixed pipeline extension points.
type Type string

const (
	// AgentPromptPrefix fires once per turn, before the first model call.
	AgentPromptPrefix Type = "agent_prompt_prefix"

	// AgentFastReply fires when a plugin produces an immediate reply after
	// memory recall but before model invocation.
	AgentFastReply Type = "agent_fast_reply"

	// FastReply fires earliest, bypassing recall, agent, and model
	// entirely. The finalization hook never runs on this path.
	FastReply Type = "fast_reply"

	// BeforeSendMessage fires immediately before the reply is returned to
	// the caller, on every path except FastReply.
	BeforeSendMessage Type = "before_send_message"

	// Shutdown fires when the host shuts down.
	Shutdown Type = "shutdown"
)

// Event is the mutable payload threaded through the handlers of one hook
// invocation. Which fields are set depends on the hook type.
type Event struct {
	Turn    *agent.Turn
	Prefix  string
	Reply   *agent.Reply
	Message *agent.Message
}

// Handler processes one hook invocation, mutating the event in place.
type Handler func(ctx context.Context, e *Event)

type registration struct {
	priority int
	fn       Handler
}

// Registry manages lifecycle hooks.
type Registry struct {
	logger   *zap.Logger
	handlers map[Type][]registration
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("hooks"),
		handlers: make(map[Type][]registration),
	}
}

// Register adds a handler for a hook type. Lower priorities run first;
// handlers sharing a priority run in registration order.
func (r *Registry) Register(t Type, priority int, fn Handler) {
	regs := append(r.handlers[t], registration{priority: priority, fn: fn})
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority < regs[j].priority
	})
	r.handlers[t] = regs
}

// Execute runs all handlers for the hook type against the event. A handler
// panic is logged and the remaining handlers still run: the host treats a
// hook that fails to return its payload as a defect, so the registry
// guarantees the event survives every invocation.
func (r *Registry) Execute(ctx context.Context, t Type, e *Event) {
	for _, reg := range r.handlers[t] {
		r.run(ctx, t, reg.fn, e)
	}
}

func (r *Registry) run(ctx context.Context, t Type, fn Handler, e *Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("hook handler panicked",
				zap.String("hook", string(t)),
				zap.Any("panic", rec),
			)
		}
	}()
	fn(ctx, e)
}
