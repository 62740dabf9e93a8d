package server

import (
	"context"

	"github.com/agentmesh/agentmesh/a2a"
)

// CallContext carries per-call server state derived from the transport:
// requested protocol extensions and the authenticated principal, if any.
type CallContext struct {
	// Extension URIs the caller asked to activate via X-A2A-Extensions.
	RequestedExtensions []string
	// Authenticated caller identity, empty when the server runs unauthenticated.
	Principal string
}

type callContextKey struct{}

// WithCallContext attaches a CallContext to ctx.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom extracts the CallContext from ctx, if present.
func CallContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey{}).(*CallContext)
	return cc
}

// RequestContext is the normalized form of one inbound message-send handed to
// the agent executor. It is immutable once built.
type RequestContext struct {
	// The triggering user message.
	UserMessage a2a.Message
	// Identifier of the task the execution belongs to.
	TaskID string
	// Identifier of the context grouping related tasks.
	ContextID string
	// Existing task record when the message continues a task, nil otherwise.
	Task *a2a.Task
	// Tasks referenced by the message that were found in the store.
	ReferenceTasks []*a2a.Task
	// Per-call server context, nil when the transport provided none.
	Call *CallContext
}

// AgentExecutor is the business logic that drives a task. The core invokes it
// through this narrow interface and never mutates executor state.
//
// Execute publishes events to the bus as work progresses and returns when the
// execution attempt ends; a terminal status-update with final=true (or a
// message event) is expected before returning. Cancel requests cancellation
// of an in-flight task; the executor is expected to eventually publish a
// canceled status-update with final=true.
type AgentExecutor interface {
	Execute(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error
	Cancel(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error
}
