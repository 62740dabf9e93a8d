package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

// JSONRPCTransport exposes a server.RequestHandler as a single JSON-RPC 2.0
// POST endpoint. Non-streaming methods answer with one envelope; streaming
// methods answer with an SSE stream whose data lines are success envelopes
// carrying one event each.
type JSONRPCTransport struct {
	logger  *zap.Logger
	handler server.RequestHandler
}

// NewJSONRPCTransport creates the transport around handler.
func NewJSONRPCTransport(logger *zap.Logger, handler server.RequestHandler) *JSONRPCTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONRPCTransport{logger: logger.Named("jsonrpc"), handler: handler}
}

// ServeHTTP implements http.Handler.
func (t *JSONRPCTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	echoExtensions(w, r)
	ctx := callContextFromRequest(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.logger.Error("Failed to read request body", zap.Error(err))
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(nil, a2a.NewParseError(err.Error())))
		return
	}
	defer r.Body.Close()

	var req a2a.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.logger.Warn("Failed to parse JSON-RPC request", zap.Error(err))
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(nil, a2a.NewParseError(err.Error())))
		return
	}
	if req.JSONRPC != a2a.JSONRPCVersion || req.Method == "" {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInvalidRequestError("jsonrpc must be \"2.0\" and method is required")))
		return
	}

	logger := t.logger.With(zap.String("method", req.Method), zap.Any("reqID", req.ID))
	logger.Debug("Handling JSON-RPC request")

	switch req.Method {
	case a2a.MethodMessageSend:
		t.handleSendMessage(ctx, w, &req, logger)
	case a2a.MethodMessageStream:
		t.handleStream(ctx, w, r, &req, logger)
	case a2a.MethodTasksGet:
		t.handleGetTask(ctx, w, &req)
	case a2a.MethodTasksCancel:
		t.handleCancelTask(ctx, w, &req)
	case a2a.MethodTasksResubscribe:
		t.handleStream(ctx, w, r, &req, logger)
	case a2a.MethodPushConfigSet:
		t.handlePushConfigSet(ctx, w, &req)
	case a2a.MethodPushConfigGet:
		t.handlePushConfigGet(ctx, w, &req)
	case a2a.MethodPushConfigList:
		t.handlePushConfigList(ctx, w, &req)
	case a2a.MethodPushConfigDelete:
		t.handlePushConfigDelete(ctx, w, &req)
	case a2a.MethodAgentExtendedCard:
		t.handleExtendedCard(ctx, w, &req)
	default:
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewMethodNotFoundError(req.Method)))
	}
}

func (t *JSONRPCTransport) handleSendMessage(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest, logger *zap.Logger) {
	var params a2a.MessageSendParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	result, err := t.handler.OnSendMessage(ctx, &params)
	if err != nil {
		logger.Warn("message/send failed", zap.Error(err))
		t.writeResult(w, req.ID, nil, err)
		return
	}
	t.writeResult(w, req.ID, result, nil)
}

func (t *JSONRPCTransport) handleGetTask(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.TaskQueryParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	task, err := t.handler.OnGetTask(ctx, &params)
	t.writeResult(w, req.ID, task, err)
}

func (t *JSONRPCTransport) handleCancelTask(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.TaskIDParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	task, err := t.handler.OnCancelTask(ctx, &params)
	t.writeResult(w, req.ID, task, err)
}

func (t *JSONRPCTransport) handlePushConfigSet(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.TaskPushNotificationConfig
	if !t.decodeParams(w, req, &params) {
		return
	}
	config, err := t.handler.OnSetTaskPushConfig(ctx, &params)
	t.writeResult(w, req.ID, config, err)
}

func (t *JSONRPCTransport) handlePushConfigGet(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.GetTaskPushNotificationConfigParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	config, err := t.handler.OnGetTaskPushConfig(ctx, &params)
	t.writeResult(w, req.ID, config, err)
}

func (t *JSONRPCTransport) handlePushConfigList(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.ListTaskPushNotificationConfigParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	configs, err := t.handler.OnListTaskPushConfig(ctx, &params)
	t.writeResult(w, req.ID, configs, err)
}

func (t *JSONRPCTransport) handlePushConfigDelete(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	var params a2a.DeleteTaskPushNotificationConfigParams
	if !t.decodeParams(w, req, &params) {
		return
	}
	err := t.handler.OnDeleteTaskPushConfig(ctx, &params)
	t.writeResult(w, req.ID, nil, err)
}

func (t *JSONRPCTransport) handleExtendedCard(ctx context.Context, w http.ResponseWriter, req *a2a.JSONRPCRequest) {
	card, err := t.handler.OnGetAuthenticatedExtendedCard(ctx)
	t.writeResult(w, req.ID, card, err)
}

// handleStream serves message/stream and tasks/resubscribe over SSE. Each
// data line is a full JSON-RPC success envelope whose result is one event;
// a streaming failure after the first write becomes a final record with
// event type "error" carrying an error envelope.
func (t *JSONRPCTransport) handleStream(ctx context.Context, w http.ResponseWriter, r *http.Request, req *a2a.JSONRPCRequest, logger *zap.Logger) {
	if card := t.handler.AgentCard(); card == nil || !card.Capabilities.Streaming {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewUnsupportedOperationError(req.Method)))
		return
	}
	if !strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream") {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInvalidRequestError("streaming methods require 'Accept: text/event-stream'")))
		return
	}

	var events <-chan server.StreamEvent
	var err error
	if req.Method == a2a.MethodMessageStream {
		var params a2a.MessageSendParams
		if !t.decodeParams(w, req, &params) {
			return
		}
		events, err = t.handler.OnSendMessageStream(ctx, &params)
	} else {
		var params a2a.TaskIDParams
		if !t.decodeParams(w, req, &params) {
			return
		}
		events, err = t.handler.OnResubscribe(ctx, &params)
	}
	if err != nil {
		// Nothing streamed yet: answer with a plain error envelope.
		logger.Warn("Streaming request rejected", zap.Error(err))
		t.writeResult(w, req.ID, nil, err)
		return
	}

	sse, sseErr := newSSEWriter(w)
	if sseErr != nil {
		logger.Error("Cannot stream response", zap.Error(sseErr))
		http.Error(w, sseErr.Error(), http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-events:
			if !ok {
				logger.Debug("Event stream finished")
				return
			}
			if item.Err != nil {
				logger.Warn("Event stream failed", zap.Error(item.Err))
				envelope := a2a.NewJSONRPCErrorResponse(req.ID, asProtocolError(item.Err))
				if writeErr := sse.writeEvent(sseEventError, envelope); writeErr != nil {
					logger.Debug("Failed to write SSE error record", zap.Error(writeErr))
				}
				return
			}
			envelope, envErr := a2a.NewJSONRPCResponse(req.ID, item.Event)
			if envErr != nil {
				logger.Error("Failed to marshal stream event", zap.Error(envErr))
				return
			}
			if writeErr := sse.writeEvent("", envelope); writeErr != nil {
				logger.Debug("Client write failed, closing stream", zap.Error(writeErr))
				return
			}
		case <-ticker.C:
			sse.writeKeepalive()
		case <-r.Context().Done():
			logger.Debug("Client disconnected from SSE stream")
			return
		}
	}
}

// decodeParams unmarshals request params, answering with an invalid-params
// envelope on failure.
func (t *JSONRPCTransport) decodeParams(w http.ResponseWriter, req *a2a.JSONRPCRequest, target any) bool {
	if len(req.Params) == 0 {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInvalidParamsError("params are required")))
		return false
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(req.ID, a2a.NewInvalidParamsError(err.Error())))
		return false
	}
	return true
}

func (t *JSONRPCTransport) writeResult(w http.ResponseWriter, id any, result any, err error) {
	if err != nil {
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(id, asProtocolError(err)))
		return
	}
	envelope, envErr := a2a.NewJSONRPCResponse(id, result)
	if envErr != nil {
		t.logger.Error("Failed to marshal result", zap.Error(envErr))
		t.writeEnvelope(w, a2a.NewJSONRPCErrorResponse(id, a2a.NewInternalError(envErr.Error())))
		return
	}
	t.writeEnvelope(w, envelope)
}

// writeEnvelope writes one JSON-RPC envelope. Per JSON-RPC over HTTP both
// success and error envelopes travel with status 200.
func (t *JSONRPCTransport) writeEnvelope(w http.ResponseWriter, envelope *a2a.JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		t.logger.Error("Failed to write response", zap.Error(err))
	}
}

// asProtocolError coerces any error into an *a2a.Error, wrapping unknown
// errors as internal.
func asProtocolError(err error) *a2a.Error {
	var protoErr *a2a.Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return a2a.NewInternalError(err.Error())
}
