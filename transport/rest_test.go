package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

func newRESTServer(t *testing.T, executor server.AgentExecutor, card *a2a.AgentCard) (*httptest.Server, *server.DefaultRequestHandler) {
	t.Helper()
	handler := server.NewDefaultRequestHandler(zap.NewNop(), card, executor)
	srv := httptest.NewServer(NewRESTTransport(zap.NewNop(), handler))
	t.Cleanup(srv.Close)
	return srv, handler
}

func restSend(t *testing.T, url, text string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"message": a2a.Message{
			Kind:      a2a.KindMessage,
			MessageID: "m1",
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{a2a.TextPart(text)},
		},
	})
	require.NoError(t, err)
	resp, err := http.Post(url+"/v1/message:send", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestRESTMessageSend(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{}, transportCard(true, true))

	resp := restSend(t, srv.URL, "Hello")
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	event, err := a2a.UnmarshalEvent(raw)
	require.NoError(t, err)
	message, ok := event.(*a2a.Message)
	require.True(t, ok)
	assert.Equal(t, "Hi", *message.Parts[0].Text)
}

func TestRESTGetTaskAndHistoryLength(t *testing.T) {
	srv, handler := newRESTServer(t, &replyExecutor{}, transportCard(true, true))

	task := &a2a.Task{
		Kind:      a2a.KindTask,
		ID:        "t1",
		ContextID: "c1",
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking},
		History: []a2a.Message{
			{Kind: a2a.KindMessage, MessageID: "m1", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("one")}},
			{Kind: a2a.KindMessage, MessageID: "m2", Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("two")}},
		},
	}
	require.NoError(t, handler.TaskStore().Save(context.Background(), task))

	resp, err := http.Get(srv.URL + "/v1/tasks/t1?historyLength=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got a2a.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "t1", got.ID)
	require.Len(t, got.History, 1)
	assert.Equal(t, "m2", got.History[0].MessageID)
}

func TestRESTTaskNotFoundMapsTo404(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{}, transportCard(true, true))

	resp, err := http.Get(srv.URL + "/v1/tasks/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var protoErr a2a.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&protoErr))
	assert.Equal(t, a2a.ErrorCodeTaskNotFound, protoErr.Code)
}

func TestRESTCancelMapsStatusCodes(t *testing.T) {
	srv, handler := newRESTServer(t, &replyExecutor{}, transportCard(true, true))
	ctx := context.Background()

	// Terminal task: 409.
	require.NoError(t, handler.TaskStore().Save(ctx, &a2a.Task{
		Kind: a2a.KindTask, ID: "done", ContextID: "c1",
		Status: a2a.TaskStatus{State: a2a.TaskStateCompleted},
	}))
	resp, err := http.Post(srv.URL+"/v1/tasks/done:cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Running task: 202 with the snapshot.
	require.NoError(t, handler.TaskStore().Save(ctx, &a2a.Task{
		Kind: a2a.KindTask, ID: "running", ContextID: "c1",
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
	}))
	resp, err = http.Post(srv.URL+"/v1/tasks/running:cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var got a2a.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, a2a.TaskStateWorking, got.Status.State)
}

func TestRESTMessageStreamRawPayloads(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{script: streamingScript}, transportCard(true, true))

	body, err := json.Marshal(map[string]any{
		"message": a2a.Message{
			Kind:      a2a.KindMessage,
			MessageID: "m1",
			Role:      a2a.RoleUser,
			Parts:     []a2a.Part{a2a.TextPart("go")},
		},
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/message:stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	records := readSSEEnvelopes(t, bufio.NewScanner(resp.Body))
	require.Len(t, records, 3)

	// Raw payloads: events decode directly, no envelope.
	first, err := a2a.UnmarshalEvent([]byte(records[0].data))
	require.NoError(t, err)
	require.IsType(t, &a2a.Task{}, first)

	last, err := a2a.UnmarshalEvent([]byte(records[2].data))
	require.NoError(t, err)
	final, ok := last.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.True(t, final.Final)
}

func TestRESTStreamingRejectedWithoutCapability(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{script: streamingScript}, transportCard(false, true))

	resp, err := http.Post(srv.URL+"/v1/message:stream", "application/json", strings.NewReader(`{"message":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRESTPushConfigRoutes(t *testing.T) {
	srv, handler := newRESTServer(t, &replyExecutor{}, transportCard(true, true))
	ctx := context.Background()
	require.NoError(t, handler.TaskStore().Save(ctx, &a2a.Task{
		Kind: a2a.KindTask, ID: "t1", ContextID: "c1",
		Status: a2a.TaskStatus{State: a2a.TaskStateWorking},
	}))

	// Create: 201.
	body := `{"id": "cfg-1", "url": "http://cb.example/hook", "token": "tok"}`
	resp, err := http.Post(srv.URL+"/v1/tasks/t1/pushNotificationConfigs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// List: 200 with one entry.
	resp, err = http.Get(srv.URL + "/v1/tasks/t1/pushNotificationConfigs")
	require.NoError(t, err)
	var configs []*a2a.TaskPushNotificationConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&configs))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, configs, 1)
	assert.Equal(t, "cfg-1", configs[0].PushNotificationConfig.ID)

	// Get: 200.
	resp, err = http.Get(srv.URL + "/v1/tasks/t1/pushNotificationConfigs/cfg-1")
	require.NoError(t, err)
	var config a2a.TaskPushNotificationConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&config))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://cb.example/hook", config.PushNotificationConfig.URL)

	// Delete: 204, then the list is empty.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/tasks/t1/pushNotificationConfigs/cfg-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/tasks/t1/pushNotificationConfigs")
	require.NoError(t, err)
	configs = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&configs))
	resp.Body.Close()
	assert.Empty(t, configs)
}

func TestRESTPushConfigWithoutCapability(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{}, transportCard(true, false))

	resp, err := http.Post(srv.URL+"/v1/tasks/t1/pushNotificationConfigs", "application/json", strings.NewReader(`{"url":"http://cb.example"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestRESTCardRoute(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{}, transportCard(true, true))

	resp, err := http.Get(srv.URL + "/v1/card")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card a2a.AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "transport-test-agent", card.Name)
}

func TestRESTUnknownRoute(t *testing.T) {
	srv, _ := newRESTServer(t, &replyExecutor{}, transportCard(true, true))

	resp, err := http.Get(srv.URL + "/v1/bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestThrottleMiddleware(t *testing.T) {
	throttle := NewThrottle(zap.NewNop(), 1, 1)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(throttle.Middleware(inner))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The burst of one is spent; the next immediate request is rejected.
	resp, err = http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
