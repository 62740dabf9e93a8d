package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// jsonrpcBinding speaks the JSON-RPC transport variant.
type jsonrpcBinding struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

var _ binding = (*jsonrpcBinding)(nil)

func newJSONRPCBinding(logger *zap.Logger, url string, httpClient *http.Client) *jsonrpcBinding {
	return &jsonrpcBinding{logger: logger.Named("jsonrpc"), url: url, httpClient: httpClient}
}

func (b *jsonrpcBinding) marshalRequest(method string, params any) ([]byte, error) {
	var paramsRaw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		paramsRaw = data
	}
	req := a2a.JSONRPCRequest{
		JSONRPC: a2a.JSONRPCVersion,
		Method:  method,
		Params:  paramsRaw,
		ID:      uuid.NewString(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON-RPC request for %s: %w", method, err)
	}
	return data, nil
}

// call performs one synchronous JSON-RPC round trip, decoding the result
// into out when non-nil.
func (b *jsonrpcBinding) call(ctx context.Context, method string, params any, headers http.Header, out any) error {
	logger := b.logger.With(zap.String("method", method))

	reqBytes, err := b.marshalRequest(method, params)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request for %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	logger.Debug("Sending request")
	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request for %s failed: %w", method, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		if protoErr := decodeErrorBody(payload); protoErr != nil {
			return protoErr
		}
		return fmt.Errorf("HTTP error %d for %s: %s", httpResp.StatusCode, method, string(payload))
	}

	var envelope a2a.JSONRPCResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode JSON-RPC response for %s: %w", method, err)
	}
	if envelope.JSONRPC != a2a.JSONRPCVersion {
		return fmt.Errorf("invalid JSON-RPC version in response: %s", envelope.JSONRPC)
	}
	if envelope.Error != nil {
		logger.Debug("Received JSON-RPC error",
			zap.Int("code", envelope.Error.Code), zap.String("message", envelope.Error.Message))
		return envelope.Error
	}
	if out != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result for %s: %w", method, err)
		}
	}
	return nil
}

// stream performs one streaming JSON-RPC call. Each SSE data line is a
// success envelope whose result is one event; an "error" record ends the
// stream with its error envelope.
func (b *jsonrpcBinding) stream(ctx context.Context, method string, params any, headers http.Header) (<-chan StreamEvent, error) {
	logger := b.logger.With(zap.String("method", method))

	reqBytes, err := b.marshalRequest(method, params)
	if err != nil {
		return nil, err
	}
	resp, err := streamRequest(ctx, b.httpClient, b.url, reqBytes, headers)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 10)
	go func() {
		defer close(out)
		for frame := range readSSE(ctx, resp.Body, logger) {
			item := b.decodeFrame(frame)
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if item.Err != nil {
				return
			}
		}
	}()
	return out, nil
}

func (b *jsonrpcBinding) decodeFrame(frame sseFrame) StreamEvent {
	if frame.event == "stream-error" {
		return StreamEvent{Err: fmt.Errorf("SSE stream read error: %s", frame.data)}
	}
	var envelope a2a.JSONRPCResponse
	if err := json.Unmarshal(frame.data, &envelope); err != nil {
		return StreamEvent{Err: fmt.Errorf("failed to parse SSE envelope: %w", err)}
	}
	if envelope.Error != nil {
		return StreamEvent{Err: envelope.Error}
	}
	if envelope.Result == nil {
		return StreamEvent{Err: fmt.Errorf("SSE envelope missing result")}
	}
	event, err := a2a.UnmarshalEvent(envelope.Result)
	if err != nil {
		return StreamEvent{Err: err}
	}
	return StreamEvent{Event: event}
}

func (b *jsonrpcBinding) sendMessage(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (a2a.Event, error) {
	var raw json.RawMessage
	if err := b.call(ctx, a2a.MethodMessageSend, params, headers, &raw); err != nil {
		return nil, err
	}
	return a2a.UnmarshalEvent(raw)
}

func (b *jsonrpcBinding) sendMessageStream(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (<-chan StreamEvent, error) {
	return b.stream(ctx, a2a.MethodMessageStream, params, headers)
}

func (b *jsonrpcBinding) getTask(ctx context.Context, params *a2a.TaskQueryParams, headers http.Header) (*a2a.Task, error) {
	var task a2a.Task
	if err := b.call(ctx, a2a.MethodTasksGet, params, headers, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *jsonrpcBinding) cancelTask(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (*a2a.Task, error) {
	var task a2a.Task
	if err := b.call(ctx, a2a.MethodTasksCancel, params, headers, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *jsonrpcBinding) resubscribe(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (<-chan StreamEvent, error) {
	return b.stream(ctx, a2a.MethodTasksResubscribe, params, headers)
}

func (b *jsonrpcBinding) setPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
	var config a2a.TaskPushNotificationConfig
	if err := b.call(ctx, a2a.MethodPushConfigSet, params, headers, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (b *jsonrpcBinding) getPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
	var config a2a.TaskPushNotificationConfig
	if err := b.call(ctx, a2a.MethodPushConfigGet, params, headers, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (b *jsonrpcBinding) listPushConfigs(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams, headers http.Header) ([]*a2a.TaskPushNotificationConfig, error) {
	var configs []*a2a.TaskPushNotificationConfig
	if err := b.call(ctx, a2a.MethodPushConfigList, params, headers, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (b *jsonrpcBinding) deletePushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams, headers http.Header) error {
	return b.call(ctx, a2a.MethodPushConfigDelete, params, headers, nil)
}

func (b *jsonrpcBinding) extendedCard(ctx context.Context, headers http.Header) (*a2a.AgentCard, error) {
	var card a2a.AgentCard
	if err := b.call(ctx, a2a.MethodAgentExtendedCard, struct{}{}, headers, &card); err != nil {
		return nil, err
	}
	return &card, nil
}
