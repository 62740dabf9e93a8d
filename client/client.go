// Package client implements the caller side of the A2A protocol: agent card
// discovery, transport selection, blocking and streaming sends, resubscribe
// with reconnection, and push notification configuration.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/agentmesh/agentmesh/a2a"
)

// binding is one concrete transport variant (JSON-RPC or HTTP+JSON).
type binding interface {
	sendMessage(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (a2a.Event, error)
	sendMessageStream(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (<-chan StreamEvent, error)
	getTask(ctx context.Context, params *a2a.TaskQueryParams, headers http.Header) (*a2a.Task, error)
	cancelTask(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (*a2a.Task, error)
	resubscribe(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (<-chan StreamEvent, error)
	setPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig, headers http.Header) (*a2a.TaskPushNotificationConfig, error)
	getPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams, headers http.Header) (*a2a.TaskPushNotificationConfig, error)
	listPushConfigs(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams, headers http.Header) ([]*a2a.TaskPushNotificationConfig, error)
	deletePushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams, headers http.Header) error
	extendedCard(ctx context.Context, headers http.Header) (*a2a.AgentCard, error)
}

// Client talks to one A2A agent. The zero value is not usable; construct
// with New.
type Client struct {
	logger       *zap.Logger
	httpClient   *http.Client
	baseURL      string
	headers      http.Header
	interceptors []Interceptor

	preferredTransport string
	pollInterval       time.Duration

	mu      sync.RWMutex
	card    *a2a.AgentCard
	binding binding
}

// New creates a client for the agent at baseURL. The agent card is fetched
// lazily on first use (or explicitly via FetchAgentCard) and decides which
// transport variant the client speaks.
func New(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	c := &Client{
		logger:       zap.NewNop(),
		httpClient:   http.DefaultClient,
		baseURL:      baseURL,
		headers:      make(http.Header),
		pollInterval: time.Second,
	}
	for _, option := range options {
		option(c)
	}
	c.logger.Debug("A2A client created", zap.String("baseURL", baseURL))
	return c, nil
}

// FetchAgentCard retrieves the agent card and (re)selects the transport.
func (c *Client) FetchAgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	card, err := FetchAgentCard(ctx, c.baseURL, c.httpClient, c.logger)
	if err != nil {
		return nil, err
	}
	endpoint, transport, err := selectTransport(card, c.preferredTransport)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.card = card
	switch transport {
	case a2a.TransportHTTPJSON:
		c.binding = newRESTBinding(c.logger, endpoint, c.httpClient)
	default:
		c.binding = newJSONRPCBinding(c.logger, endpoint, c.httpClient)
	}
	c.logger.Info("Selected transport",
		zap.String("transport", transport), zap.String("endpoint", endpoint))
	return card.Clone(), nil
}

// GetAgentCard returns the cached card, fetching it if needed.
func (c *Client) GetAgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	c.mu.RLock()
	card := c.card
	c.mu.RUnlock()
	if card != nil {
		return card.Clone(), nil
	}
	return c.FetchAgentCard(ctx)
}

func (c *Client) transport(ctx context.Context) (binding, error) {
	c.mu.RLock()
	b := c.binding
	c.mu.RUnlock()
	if b != nil {
		return b, nil
	}
	if _, err := c.FetchAgentCard(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.binding, nil
}

// call wraps one unary operation with the interceptor chain.
func call[T any](ctx context.Context, c *Client, method string, params any, fn func(ctx context.Context, headers http.Header) (T, error)) (T, error) {
	var zero T
	info := &CallInfo{Method: method, Params: params, Headers: c.headers.Clone()}
	if info.Headers == nil {
		info.Headers = make(http.Header)
	}
	ctx, err := runBefore(ctx, c.interceptors, info)
	if err != nil {
		return zero, err
	}
	result, err := fn(ctx, info.Headers)
	runAfter(ctx, c.interceptors, info, result, err)
	return result, err
}

// SendMessage sends a message and returns the final Task or Message. The
// server blocks until completion unless the configuration requests otherwise.
func (c *Client) SendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.Event, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodMessageSend, params, func(ctx context.Context, headers http.Header) (a2a.Event, error) {
		return b.sendMessage(ctx, params, headers)
	})
}

// SendMessageStream sends a message and streams execution events. The server
// must advertise the streaming capability.
func (c *Client) SendMessageStream(ctx context.Context, params *a2a.MessageSendParams) (<-chan StreamEvent, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	if card, err := c.GetAgentCard(ctx); err == nil && !card.Capabilities.Streaming {
		return nil, a2a.NewUnsupportedOperationError("agent does not support streaming")
	}
	return call(ctx, c, a2a.MethodMessageStream, params, func(ctx context.Context, headers http.Header) (<-chan StreamEvent, error) {
		return b.sendMessageStream(ctx, params, headers)
	})
}

// GetTask fetches the current task snapshot.
func (c *Client) GetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodTasksGet, params, func(ctx context.Context, headers http.Header) (*a2a.Task, error) {
		return b.getTask(ctx, params, headers)
	})
}

// CancelTask requests cancellation of a running task.
func (c *Client) CancelTask(ctx context.Context, params *a2a.TaskIDParams) (*a2a.Task, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodTasksCancel, params, func(ctx context.Context, headers http.Header) (*a2a.Task, error) {
		return b.cancelTask(ctx, params, headers)
	})
}

// Resubscribe reopens the event stream of an in-progress task. The first
// item is the current task snapshot.
func (c *Client) Resubscribe(ctx context.Context, params *a2a.TaskIDParams) (<-chan StreamEvent, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodTasksResubscribe, params, func(ctx context.Context, headers http.Header) (<-chan StreamEvent, error) {
		return b.resubscribe(ctx, params, headers)
	})
}

// SetPushConfig registers a push notification endpoint for a task.
func (c *Client) SetPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodPushConfigSet, params, func(ctx context.Context, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
		return b.setPushConfig(ctx, params, headers)
	})
}

// GetPushConfig fetches one push notification configuration.
func (c *Client) GetPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodPushConfigGet, params, func(ctx context.Context, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
		return b.getPushConfig(ctx, params, headers)
	})
}

// ListPushConfigs lists the push notification configurations of a task.
func (c *Client) ListPushConfigs(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams) ([]*a2a.TaskPushNotificationConfig, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodPushConfigList, params, func(ctx context.Context, headers http.Header) ([]*a2a.TaskPushNotificationConfig, error) {
		return b.listPushConfigs(ctx, params, headers)
	})
}

// DeletePushConfig removes one push notification configuration.
func (c *Client) DeletePushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams) error {
	b, err := c.transport(ctx)
	if err != nil {
		return err
	}
	_, err = call(ctx, c, a2a.MethodPushConfigDelete, params, func(ctx context.Context, headers http.Header) (struct{}, error) {
		return struct{}{}, b.deletePushConfig(ctx, params, headers)
	})
	return err
}

// GetAuthenticatedExtendedCard fetches the extended agent card.
func (c *Client) GetAuthenticatedExtendedCard(ctx context.Context) (*a2a.AgentCard, error) {
	b, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, a2a.MethodAgentExtendedCard, nil, func(ctx context.Context, headers http.Header) (*a2a.AgentCard, error) {
		return b.extendedCard(ctx, headers)
	})
}

// WaitForCompletion polls tasks/get until the task reaches a terminal state
// or ctx ends. It is the polling alternative to a blocking send.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string) (*a2a.Task, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, &a2a.TaskQueryParams{ID: taskID})
		if err != nil {
			return nil, err
		}
		if task.Status.State.IsTerminal() {
			return task, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WatchTask streams a task's events, resubscribing with exponential backoff
// whenever the stream drops before a terminal event. The watch ends at a
// terminal state, a message event, or context cancellation.
func (c *Client) WatchTask(ctx context.Context, taskID string) (<-chan StreamEvent, error) {
	events, err := c.Resubscribe(ctx, &a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 10)
	go func() {
		defer close(out)
		strategy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		for {
			finished := c.relayWatch(ctx, events, out)
			if finished {
				return
			}
			// Stream dropped mid-task; wait and resubscribe.
			delay := strategy.NextBackOff()
			if delay == backoff.Stop {
				return
			}
			c.logger.Debug("Stream dropped, resubscribing", zap.String("taskID", taskID), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			next, err := c.Resubscribe(ctx, &a2a.TaskIDParams{ID: taskID})
			if err != nil {
				select {
				case out <- StreamEvent{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			strategy.Reset()
			events = next
		}
	}()
	return out, nil
}

// relayWatch forwards one resubscribe stream; it reports true when the watch
// is complete (terminal event, message, or consumer gone).
func (c *Client) relayWatch(ctx context.Context, events <-chan StreamEvent, out chan<- StreamEvent) bool {
	for item := range events {
		if item.Err != nil {
			// Delivery of the error is informational; the watch reconnects.
			c.logger.Debug("Stream error during watch", zap.Error(item.Err))
			return false
		}
		select {
		case out <- item:
		case <-ctx.Done():
			return true
		}
		switch ev := item.Event.(type) {
		case *a2a.Message:
			return true
		case *a2a.Task:
			if ev.Status.State.IsTerminal() {
				return true
			}
		case *a2a.TaskStatusUpdateEvent:
			if ev.Final {
				return true
			}
		}
	}
	return ctx.Err() != nil
}

// decodeErrorBody tries to interpret an HTTP error payload as a protocol
// error object (bare or wrapped in a JSON-RPC envelope).
func decodeErrorBody(payload []byte) *a2a.Error {
	var envelope a2a.JSONRPCResponse
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}
	var protoErr a2a.Error
	if err := json.Unmarshal(payload, &protoErr); err == nil && protoErr.Code != 0 {
		return &protoErr
	}
	return nil
}
