package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

// RESTPrefix is the path prefix of the HTTP+JSON transport routes.
const RESTPrefix = "/v1"

// RESTTransport exposes a server.RequestHandler as HTTP+JSON routes under
// /v1. The operations and semantics are identical to the JSON-RPC transport;
// only the framing differs: parameters travel in path and query, errors map
// to HTTP status codes, and SSE data lines carry raw event payloads without
// a JSON-RPC envelope.
type RESTTransport struct {
	logger  *zap.Logger
	handler server.RequestHandler
}

// NewRESTTransport creates the transport around handler.
func NewRESTTransport(logger *zap.Logger, handler server.RequestHandler) *RESTTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RESTTransport{logger: logger.Named("rest"), handler: handler}
}

// ServeHTTP implements http.Handler. Routes:
//
//	POST   /v1/message:send
//	POST   /v1/message:stream
//	GET    /v1/tasks/{taskId}?historyLength=
//	POST   /v1/tasks/{taskId}:cancel
//	POST   /v1/tasks/{taskId}:subscribe
//	POST   /v1/tasks/{taskId}/pushNotificationConfigs
//	GET    /v1/tasks/{taskId}/pushNotificationConfigs
//	GET    /v1/tasks/{taskId}/pushNotificationConfigs/{configId}
//	DELETE /v1/tasks/{taskId}/pushNotificationConfigs/{configId}
//	GET    /v1/card
func (t *RESTTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	echoExtensions(w, r)
	ctx := callContextFromRequest(r)

	path := strings.TrimPrefix(r.URL.Path, RESTPrefix)
	switch {
	case path == "/message:send":
		t.requireMethod(ctx, w, r, http.MethodPost, t.messageSend)
	case path == "/message:stream":
		t.requireMethod(ctx, w, r, http.MethodPost, t.messageStream)
	case path == "/card":
		t.requireMethod(ctx, w, r, http.MethodGet, t.card)
	case strings.HasPrefix(path, "/tasks/"):
		t.routeTask(ctx, w, r, strings.TrimPrefix(path, "/tasks/"))
	default:
		t.writeError(w, a2a.NewMethodNotFoundError(r.URL.Path))
	}
}

func (t *RESTTransport) requireMethod(ctx context.Context, w http.ResponseWriter, r *http.Request, method string, fn func(context.Context, http.ResponseWriter, *http.Request)) {
	if r.Method != method {
		t.writeError(w, a2a.NewMethodNotFoundError(r.Method+" "+r.URL.Path))
		return
	}
	fn(ctx, w, r)
}

// routeTask dispatches /v1/tasks/... by hand: path wildcards cannot express
// the ":cancel" / ":subscribe" suffix forms.
func (t *RESTTransport) routeTask(ctx context.Context, w http.ResponseWriter, r *http.Request, rest string) {
	switch {
	case strings.HasSuffix(rest, ":cancel"):
		taskID := strings.TrimSuffix(rest, ":cancel")
		t.requireMethod(ctx, w, r, http.MethodPost, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
			t.cancelTask(ctx, w, taskID)
		})
	case strings.HasSuffix(rest, ":subscribe"):
		taskID := strings.TrimSuffix(rest, ":subscribe")
		t.requireMethod(ctx, w, r, http.MethodPost, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
			t.resubscribe(ctx, w, r, taskID)
		})
	case strings.Contains(rest, "/pushNotificationConfigs"):
		parts := strings.SplitN(rest, "/pushNotificationConfigs", 2)
		taskID := parts[0]
		suffix := strings.TrimPrefix(parts[1], "/")
		t.routePushConfigs(ctx, w, r, taskID, suffix)
	case !strings.Contains(rest, "/"):
		t.requireMethod(ctx, w, r, http.MethodGet, func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
			t.getTask(ctx, w, r, rest)
		})
	default:
		t.writeError(w, a2a.NewMethodNotFoundError(r.URL.Path))
	}
}

func (t *RESTTransport) routePushConfigs(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID, configID string) {
	switch {
	case configID == "" && r.Method == http.MethodPost:
		t.setPushConfig(ctx, w, r, taskID)
	case configID == "" && r.Method == http.MethodGet:
		t.listPushConfigs(ctx, w, taskID)
	case configID != "" && r.Method == http.MethodGet:
		t.getPushConfig(ctx, w, taskID, configID)
	case configID != "" && r.Method == http.MethodDelete:
		t.deletePushConfig(ctx, w, taskID, configID)
	default:
		t.writeError(w, a2a.NewMethodNotFoundError(r.Method+" "+r.URL.Path))
	}
}

// restSendBody is the body of message:send and message:stream.
type restSendBody struct {
	Message       a2a.Message                   `json:"message"`
	Configuration *a2a.MessageSendConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any                `json:"metadata,omitempty"`
}

func (t *RESTTransport) decodeSendParams(w http.ResponseWriter, r *http.Request) (*a2a.MessageSendParams, bool) {
	var body restSendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.writeError(w, a2a.NewParseError(err.Error()))
		return nil, false
	}
	return &a2a.MessageSendParams{
		Message:       body.Message,
		Configuration: body.Configuration,
		Metadata:      body.Metadata,
	}, true
}

func (t *RESTTransport) messageSend(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	params, ok := t.decodeSendParams(w, r)
	if !ok {
		return
	}
	result, err := t.handler.OnSendMessage(ctx, params)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusCreated, result)
}

func (t *RESTTransport) messageStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !t.streamingSupported() {
		t.writeError(w, a2a.NewUnsupportedOperationError("message:stream"))
		return
	}
	params, ok := t.decodeSendParams(w, r)
	if !ok {
		return
	}
	events, err := t.handler.OnSendMessageStream(ctx, params)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.streamEvents(w, r, events)
}

func (t *RESTTransport) getTask(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID string) {
	params := &a2a.TaskQueryParams{ID: taskID}
	if raw := r.URL.Query().Get("historyLength"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			t.writeError(w, a2a.NewInvalidParamsError("historyLength must be an integer"))
			return
		}
		params.HistoryLength = &n
	}
	task, err := t.handler.OnGetTask(ctx, params)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, task)
}

func (t *RESTTransport) cancelTask(ctx context.Context, w http.ResponseWriter, taskID string) {
	task, err := t.handler.OnCancelTask(ctx, &a2a.TaskIDParams{ID: taskID})
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusAccepted, task)
}

func (t *RESTTransport) resubscribe(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID string) {
	if !t.streamingSupported() {
		t.writeError(w, a2a.NewUnsupportedOperationError("tasks:subscribe"))
		return
	}
	events, err := t.handler.OnResubscribe(ctx, &a2a.TaskIDParams{ID: taskID})
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.streamEvents(w, r, events)
}

func (t *RESTTransport) setPushConfig(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID string) {
	var config a2a.PushNotificationConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		t.writeError(w, a2a.NewParseError(err.Error()))
		return
	}
	saved, err := t.handler.OnSetTaskPushConfig(ctx, &a2a.TaskPushNotificationConfig{TaskID: taskID, PushNotificationConfig: config})
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusCreated, saved)
}

func (t *RESTTransport) listPushConfigs(ctx context.Context, w http.ResponseWriter, taskID string) {
	configs, err := t.handler.OnListTaskPushConfig(ctx, &a2a.ListTaskPushNotificationConfigParams{ID: taskID})
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, configs)
}

func (t *RESTTransport) getPushConfig(ctx context.Context, w http.ResponseWriter, taskID, configID string) {
	config, err := t.handler.OnGetTaskPushConfig(ctx, &a2a.GetTaskPushNotificationConfigParams{ID: taskID, PushNotificationConfigID: &configID})
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, config)
}

func (t *RESTTransport) deletePushConfig(ctx context.Context, w http.ResponseWriter, taskID, configID string) {
	if err := t.handler.OnDeleteTaskPushConfig(ctx, &a2a.DeleteTaskPushNotificationConfigParams{ID: taskID, PushNotificationConfigID: configID}); err != nil {
		t.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *RESTTransport) card(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	card := t.handler.AgentCard()
	if card == nil {
		t.writeError(w, a2a.NewInternalError("agent card not configured"))
		return
	}
	t.writeJSON(w, http.StatusOK, card)
}

// streamEvents relays handler events as SSE with raw event payloads. Errors
// after the first write become a final record with event type "error".
func (t *RESTTransport) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan server.StreamEvent) {
	sse, err := newSSEWriter(w)
	if err != nil {
		t.logger.Error("Cannot stream response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-events:
			if !ok {
				return
			}
			if item.Err != nil {
				t.logger.Warn("Event stream failed", zap.Error(item.Err))
				if writeErr := sse.writeEvent(sseEventError, asProtocolError(item.Err)); writeErr != nil {
					t.logger.Debug("Failed to write SSE error record", zap.Error(writeErr))
				}
				return
			}
			if writeErr := sse.writeEvent("", item.Event); writeErr != nil {
				t.logger.Debug("Client write failed, closing stream", zap.Error(writeErr))
				return
			}
		case <-ticker.C:
			sse.writeKeepalive()
		case <-r.Context().Done():
			t.logger.Debug("Client disconnected from SSE stream")
			return
		}
	}
}

func (t *RESTTransport) streamingSupported() bool {
	card := t.handler.AgentCard()
	return card != nil && card.Capabilities.Streaming
}

func (t *RESTTransport) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError maps a protocol error to its HTTP status and writes the
// JSON-RPC-shaped error object as the body.
func (t *RESTTransport) writeError(w http.ResponseWriter, err error) {
	protoErr := asProtocolError(err)
	t.writeJSON(w, httpStatusFor(protoErr.Code), protoErr)
}

// httpStatusFor maps protocol error codes onto HTTP status codes.
func httpStatusFor(code int) int {
	switch code {
	case a2a.ErrorCodeParse, a2a.ErrorCodeInvalidRequest, a2a.ErrorCodeInvalidParams:
		return http.StatusBadRequest
	case a2a.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case a2a.ErrorCodeMethodNotFound, a2a.ErrorCodeTaskNotFound:
		return http.StatusNotFound
	case a2a.ErrorCodeTaskNotCancelable:
		return http.StatusConflict
	case a2a.ErrorCodeUnsupportedOperation, a2a.ErrorCodePushNotificationNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
