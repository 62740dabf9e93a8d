package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// restBinding speaks the HTTP+JSON transport variant under /v1.
type restBinding struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

var _ binding = (*restBinding)(nil)

func newRESTBinding(logger *zap.Logger, baseURL string, httpClient *http.Client) *restBinding {
	return &restBinding{
		logger:     logger.Named("rest"),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (b *restBinding) endpoint(path string) string {
	return b.baseURL + "/v1" + path
}

// do performs one REST round trip, decoding the response into out when
// non-nil. Non-2xx responses carry a JSON-RPC-shaped error object.
func (b *restBinding) do(ctx context.Context, method, url string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	b.logger.Debug("Sending request", zap.String("method", method), zap.String("url", url))
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if protoErr := decodeErrorBody(payload); protoErr != nil {
			return protoErr
		}
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(payload))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

// streamPost performs one streaming REST call; SSE data lines are raw event
// payloads.
func (b *restBinding) streamPost(ctx context.Context, url string, body any, headers http.Header) (<-chan StreamEvent, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	resp, err := streamRequest(ctx, b.httpClient, url, data, headers)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, 10)
	go func() {
		defer close(out)
		for frame := range readSSE(ctx, resp.Body, b.logger) {
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

func (b *restBinding) decodeFrame(frame sseFrame) StreamEvent {
	switch frame.event {
	case "stream-error":
		return StreamEvent{Err: fmt.Errorf("SSE stream read error: %s", frame.data)}
	case "error":
		var protoErr a2a.Error
		if err := json.Unmarshal(frame.data, &protoErr); err != nil || protoErr.Code == 0 {
			return StreamEvent{Err: fmt.Errorf("stream failed: %s", frame.data)}
		}
		return StreamEvent{Err: &protoErr}
	}
	event, err := a2a.UnmarshalEvent(frame.data)
	if err != nil {
		return StreamEvent{Err: err}
	}
	return StreamEvent{Event: event}
}

type restSendBody struct {
	Message       a2a.Message                   `json:"message"`
	Configuration *a2a.MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any                `json:"metadata,omitempty"`
}

func (b *restBinding) sendMessage(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (a2a.Event, error) {
	var raw json.RawMessage
	body := restSendBody{Message: params.Message, Configuration: params.Configuration, Metadata: params.Metadata}
	if err := b.do(ctx, http.MethodPost, b.endpoint("/message:send"), body, headers, &raw); err != nil {
		return nil, err
	}
	return a2a.UnmarshalEvent(raw)
}

func (b *restBinding) sendMessageStream(ctx context.Context, params *a2a.MessageSendParams, headers http.Header) (<-chan StreamEvent, error) {
	body := restSendBody{Message: params.Message, Configuration: params.Configuration, Metadata: params.Metadata}
	return b.streamPost(ctx, b.endpoint("/message:stream"), body, headers)
}

func (b *restBinding) getTask(ctx context.Context, params *a2a.TaskQueryParams, headers http.Header) (*a2a.Task, error) {
	endpoint := b.endpoint("/tasks/" + url.PathEscape(params.ID))
	if params.HistoryLength != nil {
		endpoint += "?historyLength=" + strconv.Itoa(*params.HistoryLength)
	}
	var task a2a.Task
	if err := b.do(ctx, http.MethodGet, endpoint, nil, headers, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *restBinding) cancelTask(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (*a2a.Task, error) {
	var task a2a.Task
	if err := b.do(ctx, http.MethodPost, b.endpoint("/tasks/"+url.PathEscape(params.ID)+":cancel"), nil, headers, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *restBinding) resubscribe(ctx context.Context, params *a2a.TaskIDParams, headers http.Header) (<-chan StreamEvent, error) {
	return b.streamPost(ctx, b.endpoint("/tasks/"+url.PathEscape(params.ID)+":subscribe"), nil, headers)
}

func (b *restBinding) setPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
	var config a2a.TaskPushNotificationConfig
	endpoint := b.endpoint("/tasks/" + url.PathEscape(params.TaskID) + "/pushNotificationConfigs")
	if err := b.do(ctx, http.MethodPost, endpoint, params.PushNotificationConfig, headers, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (b *restBinding) getPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams, headers http.Header) (*a2a.TaskPushNotificationConfig, error) {
	configID := params.ID
	if params.PushNotificationConfigID != nil && *params.PushNotificationConfigID != "" {
		configID = *params.PushNotificationConfigID
	}
	var config a2a.TaskPushNotificationConfig
	endpoint := b.endpoint("/tasks/" + url.PathEscape(params.ID) + "/pushNotificationConfigs/" + url.PathEscape(configID))
	if err := b.do(ctx, http.MethodGet, endpoint, nil, headers, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (b *restBinding) listPushConfigs(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams, headers http.Header) ([]*a2a.TaskPushNotificationConfig, error) {
	var configs []*a2a.TaskPushNotificationConfig
	endpoint := b.endpoint("/tasks/" + url.PathEscape(params.ID) + "/pushNotificationConfigs")
	if err := b.do(ctx, http.MethodGet, endpoint, nil, headers, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (b *restBinding) deletePushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams, headers http.Header) error {
	endpoint := b.endpoint("/tasks/" + url.PathEscape(params.ID) + "/pushNotificationConfigs/" + url.PathEscape(params.PushNotificationConfigID))
	return b.do(ctx, http.MethodDelete, endpoint, nil, headers, nil)
}

func (b *restBinding) extendedCard(ctx context.Context, headers http.Header) (*a2a.AgentCard, error) {
	return nil, a2a.NewUnsupportedOperationError("extended card is only available over JSON-RPC")
}
