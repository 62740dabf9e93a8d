package client

import (
	"context"
	"net/http"
)

// CallInfo describes one outbound call as seen by interceptors.
type CallInfo struct {
	// Protocol method name, e.g. "message/send".
	Method string
	// The request parameters; interceptors must treat them as read-only.
	Params any
	// Headers that will be sent with the HTTP request. Interceptors may add
	// or replace entries (e.g. authorization).
	Headers http.Header
}

// Interceptor hooks into every client call. Before runs ahead of the HTTP
// request and may enrich the context or abort the call; After observes the
// outcome.
type Interceptor interface {
	Before(ctx context.Context, call *CallInfo) (context.Context, error)
	After(ctx context.Context, call *CallInfo, result any, err error)
}

// InterceptorFunc adapts a function to the Interceptor interface with a
// no-op After.
type InterceptorFunc func(ctx context.Context, call *CallInfo) (context.Context, error)

// Before implements Interceptor.
func (f InterceptorFunc) Before(ctx context.Context, call *CallInfo) (context.Context, error) {
	return f(ctx, call)
}

// After implements Interceptor.
func (f InterceptorFunc) After(ctx context.Context, call *CallInfo, result any, err error) {}

// runBefore threads the context through the interceptor chain.
func runBefore(ctx context.Context, interceptors []Interceptor, call *CallInfo) (context.Context, error) {
	for _, i := range interceptors {
		next, err := i.Before(ctx, call)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

// runAfter notifies the chain in reverse order.
func runAfter(ctx context.Context, interceptors []Interceptor, call *CallInfo, result any, err error) {
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptors[i].After(ctx, call, result, err)
	}
}
