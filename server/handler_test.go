package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// scriptedExecutor runs test-provided functions as the agent logic.
type scriptedExecutor struct {
	execute func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error
	cancel  func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error

	mu       sync.Mutex
	executed int
}

func (s *scriptedExecutor) Execute(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()
	if s.execute == nil {
		bus.Finished()
		return nil
	}
	return s.execute(ctx, reqCtx, bus)
}

func (s *scriptedExecutor) Cancel(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
	if s.cancel == nil {
		return nil
	}
	return s.cancel(ctx, reqCtx, bus)
}

func (s *scriptedExecutor) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

func testCard() *a2a.AgentCard {
	return &a2a.AgentCard{
		Name:    "test-agent",
		URL:     "http://localhost/",
		Version: "1.0.0",
		Capabilities: a2a.AgentCapabilities{
			Streaming:         true,
			PushNotifications: true,
		},
		Skills: []a2a.AgentSkill{},
	}
}

func newTestHandler(t *testing.T, executor AgentExecutor, options ...HandlerOption) *DefaultRequestHandler {
	t.Helper()
	return NewDefaultRequestHandler(zap.NewNop(), testCard(), executor, options...)
}

func agentReply(id, text string) *a2a.Message {
	return &a2a.Message{
		Kind:      a2a.KindMessage,
		MessageID: id,
		Role:      a2a.RoleAgent,
		Parts:     []a2a.Part{a2a.TextPart(text)},
	}
}

func fullTaskEvent(taskID, contextID string, state a2a.TaskState) *a2a.Task {
	return &a2a.Task{
		Kind:      a2a.KindTask,
		ID:        taskID,
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: state},
	}
}

func collectStream(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(3 * time.Second)
	for {
		select {
		case item, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, item)
		case <-timeout:
			t.Fatalf("timed out collecting stream, got %d items", len(out))
		}
	}
}

func storedState(h *DefaultRequestHandler, taskID string) a2a.TaskState {
	task, err := h.TaskStore().Load(context.Background(), taskID)
	if err != nil {
		return a2a.TaskStateUnknown
	}
	return task.Status.State
}

// Scenario: an executor that replies with a plain message produces that
// message as the blocking send result.
func TestSendMessageSimpleReply(t *testing.T) {
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(agentReply("a1", "Hi"))
			bus.Finished()
			return nil
		},
	}
	h := newTestHandler(t, executor)

	result, err := h.OnSendMessage(context.Background(), sendParams(*userMessage("m1", "Hello")))
	require.NoError(t, err)
	message, ok := result.(*a2a.Message)
	require.True(t, ok, "expected message result, got %T", result)
	assert.Equal(t, "a1", message.MessageID)
	assert.Equal(t, a2a.RoleAgent, message.Role)
	require.Len(t, message.Parts, 1)
	assert.Equal(t, "Hi", *message.Parts[0].Text)
}

// Scenario: streaming send yields every published event; the stored task
// aggregates appended artifact chunks and the final state.
func TestSendMessageStreamWithArtifacts(t *testing.T) {
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(fullTaskEvent(reqCtx.TaskID, reqCtx.ContextID, a2a.TaskStateSubmitted))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateWorking, false))
			bus.Publish(artifactEvent(reqCtx.TaskID, "A", false, "foo"))
			bus.Publish(artifactEvent(reqCtx.TaskID, "A", true, "bar"))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateCompleted, true))
			bus.Finished()
			return nil
		},
	}
	h := newTestHandler(t, executor)

	events, err := h.OnSendMessageStream(context.Background(), sendParams(*userMessage("m1", "go")))
	require.NoError(t, err)
	items := collectStream(t, events)
	require.Len(t, items, 5)
	for _, item := range items {
		require.NoError(t, item.Err)
	}
	task, ok := items[0].Event.(*a2a.Task)
	require.True(t, ok)
	final, ok := items[4].Event.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.True(t, final.Final)

	require.Eventually(t, func() bool {
		return storedState(h, task.ID) == a2a.TaskStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := h.TaskStore().Load(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, stored.Artifacts, 1)
	assert.Equal(t, []string{"foo", "bar"}, partTexts(stored.Artifacts[0].Parts))
}

// Scenario: cancel returns the pre-cancel snapshot immediately; the canceled
// transition arrives asynchronously via the bus.
func TestCancelTask(t *testing.T) {
	release := make(chan struct{})
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(fullTaskEvent(reqCtx.TaskID, reqCtx.ContextID, a2a.TaskStateSubmitted))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateWorking, false))
			<-ctx.Done()
			return ctx.Err()
		},
		cancel: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateCanceled, true))
			close(release)
			return nil
		},
	}
	h := newTestHandler(t, executor)

	blocking := false
	params := sendParams(*userMessage("m1", "cancel me"))
	params.Configuration = &a2a.MessageSendConfiguration{Blocking: &blocking}
	result, err := h.OnSendMessage(context.Background(), params)
	require.NoError(t, err)
	task := result.(*a2a.Task)

	require.Eventually(t, func() bool {
		return storedState(h, task.ID) == a2a.TaskStateWorking
	}, 2*time.Second, 10*time.Millisecond)

	snapshot, err := h.OnCancelTask(context.Background(), &a2a.TaskIDParams{ID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, snapshot.Status.State)

	<-release
	require.Eventually(t, func() bool {
		return storedState(h, task.ID) == a2a.TaskStateCanceled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelTerminalTaskFails(t *testing.T) {
	executor := &scriptedExecutor{}
	h := newTestHandler(t, executor)
	require.NoError(t, h.TaskStore().Save(context.Background(), taskEvent("done", a2a.TaskStateCompleted)))

	_, err := h.OnCancelTask(context.Background(), &a2a.TaskIDParams{ID: "done"})
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeTaskNotCancelable, protoErr.Code)
}

// Scenario: a send addressed at a terminal task is rejected without invoking
// the executor.
func TestSendMessageToTerminalTaskRejected(t *testing.T) {
	executor := &scriptedExecutor{}
	h := newTestHandler(t, executor)
	require.NoError(t, h.TaskStore().Save(context.Background(), taskEvent("t2", a2a.TaskStateCompleted)))

	msg := *userMessage("m1", "Hello")
	taskID := "t2"
	msg.TaskID = &taskID
	_, err := h.OnSendMessage(context.Background(), sendParams(msg))
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeInvalidRequest, protoErr.Code)
	assert.Equal(t, 0, executor.executions())
}

// Scenario: a resubscriber first receives the current snapshot, then the
// same remaining events as the original subscriber.
func TestResubscribeReceivesSnapshotThenLiveEvents(t *testing.T) {
	gate := make(chan struct{})
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(fullTaskEvent(reqCtx.TaskID, reqCtx.ContextID, a2a.TaskStateSubmitted))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateWorking, false))
			<-gate
			bus.Publish(artifactEvent(reqCtx.TaskID, "A", false, "chunk"))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateCompleted, true))
			bus.Finished()
			return nil
		},
	}
	h := newTestHandler(t, executor)

	first, err := h.OnSendMessageStream(context.Background(), sendParams(*userMessage("m1", "go")))
	require.NoError(t, err)

	item := <-first
	task := item.Event.(*a2a.Task)
	item = <-first
	require.IsType(t, &a2a.TaskStatusUpdateEvent{}, item.Event)

	// Wait until the drain persisted the working state before resubscribing.
	require.Eventually(t, func() bool {
		return storedState(h, task.ID) == a2a.TaskStateWorking
	}, 2*time.Second, 10*time.Millisecond)

	second, err := h.OnResubscribe(context.Background(), &a2a.TaskIDParams{ID: task.ID})
	require.NoError(t, err)
	close(gate)

	secondItems := collectStream(t, second)
	require.Len(t, secondItems, 3)
	snapshot, ok := secondItems[0].Event.(*a2a.Task)
	require.True(t, ok, "first resubscribe item must be the task snapshot")
	assert.Equal(t, task.ID, snapshot.ID)
	assert.Equal(t, a2a.TaskStateWorking, snapshot.Status.State)

	firstItems := collectStream(t, first)
	require.Len(t, firstItems, 2)
	// Remaining events match between both subscribers, in order.
	assert.IsType(t, &a2a.TaskArtifactUpdateEvent{}, firstItems[0].Event)
	assert.IsType(t, &a2a.TaskArtifactUpdateEvent{}, secondItems[1].Event)
	assert.IsType(t, &a2a.TaskStatusUpdateEvent{}, firstItems[1].Event)
	assert.IsType(t, &a2a.TaskStatusUpdateEvent{}, secondItems[2].Event)
}

func TestResubscribeUnknownTask(t *testing.T) {
	h := newTestHandler(t, &scriptedExecutor{})
	_, err := h.OnResubscribe(context.Background(), &a2a.TaskIDParams{ID: "missing"})
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeTaskNotFound, protoErr.Code)
}

func TestResubscribeTerminalTaskEmitsSnapshotAndCloses(t *testing.T) {
	h := newTestHandler(t, &scriptedExecutor{})
	require.NoError(t, h.TaskStore().Save(context.Background(), taskEvent("done", a2a.TaskStateCompleted)))

	events, err := h.OnResubscribe(context.Background(), &a2a.TaskIDParams{ID: "done"})
	require.NoError(t, err)
	items := collectStream(t, events)
	require.Len(t, items, 1)
	task := items[0].Event.(*a2a.Task)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
}

// Scenario: every state transition is POSTed to every registered config.
func TestPushNotificationDispatch(t *testing.T) {
	type delivery struct {
		state a2a.TaskState
		token string
	}
	var mu sync.Mutex
	deliveries := map[string][]delivery{}

	newEndpoint := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var task a2a.Task
			require.NoError(t, json.NewDecoder(r.Body).Decode(&task))
			mu.Lock()
			deliveries[name] = append(deliveries[name], delivery{
				state: task.Status.State,
				token: r.Header.Get("X-A2A-Notification-Token"),
			})
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
	}
	endpointA := newEndpoint("A")
	defer endpointA.Close()
	endpointB := newEndpoint("B")
	defer endpointB.Close()

	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateSubmitted, false))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateWorking, false))
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateCompleted, true))
			bus.Finished()
			return nil
		},
	}
	h := newTestHandler(t, executor)

	ctx := context.Background()
	require.NoError(t, h.TaskStore().Save(ctx, taskEvent("t3", a2a.TaskStateSubmitted)))

	tokenA := "token-a"
	_, err := h.OnSetTaskPushConfig(ctx, &a2a.TaskPushNotificationConfig{
		TaskID:                 "t3",
		PushNotificationConfig: a2a.PushNotificationConfig{ID: "cfg-a", URL: endpointA.URL, Token: &tokenA},
	})
	require.NoError(t, err)
	tokenB := "token-b"
	_, err = h.OnSetTaskPushConfig(ctx, &a2a.TaskPushNotificationConfig{
		TaskID:                 "t3",
		PushNotificationConfig: a2a.PushNotificationConfig{ID: "cfg-b", URL: endpointB.URL, Token: &tokenB},
	})
	require.NoError(t, err)

	msg := *userMessage("m1", "go")
	taskID := "t3"
	msg.TaskID = &taskID
	_, err = h.OnSendMessage(ctx, sendParams(msg))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deliveries["A"]) == 3 && len(deliveries["B"]) == 3
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for name, token := range map[string]string{"A": "token-a", "B": "token-b"} {
		var states []a2a.TaskState
		for _, d := range deliveries[name] {
			assert.Equal(t, token, d.token)
			states = append(states, d.state)
		}
		assert.ElementsMatch(t, []a2a.TaskState{a2a.TaskStateSubmitted, a2a.TaskStateWorking, a2a.TaskStateCompleted}, states)
	}
}

// Property: a non-blocking send returns before the executor reaches a
// terminal state.
func TestNonBlockingSendReturnsEarly(t *testing.T) {
	gate := make(chan struct{})
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(fullTaskEvent(reqCtx.TaskID, reqCtx.ContextID, a2a.TaskStateSubmitted))
			<-gate
			bus.Publish(statusEvent(reqCtx.TaskID, a2a.TaskStateCompleted, true))
			bus.Finished()
			return nil
		},
	}
	h := newTestHandler(t, executor)

	blocking := false
	params := sendParams(*userMessage("m1", "go"))
	params.Configuration = &a2a.MessageSendConfiguration{Blocking: &blocking}

	result, err := h.OnSendMessage(context.Background(), params)
	require.NoError(t, err)
	task := result.(*a2a.Task)
	assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)

	close(gate)
	require.Eventually(t, func() bool {
		return storedState(h, task.ID) == a2a.TaskStateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

// An executor error before a terminal event settles the task as failed with
// the error text in the status message.
func TestExecutorErrorBecomesFailedTask(t *testing.T) {
	executor := &scriptedExecutor{
		execute: func(ctx context.Context, reqCtx *RequestContext, bus *EventBus) error {
			bus.Publish(fullTaskEvent(reqCtx.TaskID, reqCtx.ContextID, a2a.TaskStateSubmitted))
			return fmt.Errorf("llm backend exploded")
		},
	}
	h := newTestHandler(t, executor)

	result, err := h.OnSendMessage(context.Background(), sendParams(*userMessage("m1", "go")))
	require.NoError(t, err)
	task, ok := result.(*a2a.Task)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Status.Message)
	assert.Contains(t, *task.Status.Message.Parts[0].Text, "llm backend exploded")
}

func TestGetTaskHistoryLength(t *testing.T) {
	h := newTestHandler(t, &scriptedExecutor{})
	task := taskEvent("t1", a2a.TaskStateWorking,
		*userMessage("m1", "one"), *userMessage("m2", "two"), *userMessage("m3", "three"))
	require.NoError(t, h.TaskStore().Save(context.Background(), task))

	full, err := h.OnGetTask(context.Background(), &a2a.TaskQueryParams{ID: "t1"})
	require.NoError(t, err)
	assert.Len(t, full.History, 3)

	one := 1
	trimmed, err := h.OnGetTask(context.Background(), &a2a.TaskQueryParams{ID: "t1", HistoryLength: &one})
	require.NoError(t, err)
	require.Len(t, trimmed.History, 1)
	assert.Equal(t, "m3", trimmed.History[0].MessageID)

	zero := 0
	empty, err := h.OnGetTask(context.Background(), &a2a.TaskQueryParams{ID: "t1", HistoryLength: &zero})
	require.NoError(t, err)
	assert.Empty(t, empty.History)
}

func TestPushConfigCRUD(t *testing.T) {
	h := newTestHandler(t, &scriptedExecutor{})
	ctx := context.Background()
	require.NoError(t, h.TaskStore().Save(ctx, taskEvent("t1", a2a.TaskStateWorking)))

	// Config id defaults to the task id.
	saved, err := h.OnSetTaskPushConfig(ctx, &a2a.TaskPushNotificationConfig{
		TaskID:                 "t1",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: "http://cb.example/hook"},
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", saved.PushNotificationConfig.ID)

	got, err := h.OnGetTaskPushConfig(ctx, &a2a.GetTaskPushNotificationConfigParams{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "http://cb.example/hook", got.PushNotificationConfig.URL)

	configs, err := h.OnListTaskPushConfig(ctx, &a2a.ListTaskPushNotificationConfigParams{ID: "t1"})
	require.NoError(t, err)
	assert.Len(t, configs, 1)

	require.NoError(t, h.OnDeleteTaskPushConfig(ctx, &a2a.DeleteTaskPushNotificationConfigParams{ID: "t1", PushNotificationConfigID: "t1"}))
	configs, err = h.OnListTaskPushConfig(ctx, &a2a.ListTaskPushNotificationConfigParams{ID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestPushConfigRequiresCapability(t *testing.T) {
	card := testCard()
	card.Capabilities.PushNotifications = false
	h := NewDefaultRequestHandler(zap.NewNop(), card, &scriptedExecutor{})

	_, err := h.OnSetTaskPushConfig(context.Background(), &a2a.TaskPushNotificationConfig{
		TaskID:                 "t1",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: "http://cb.example/hook"},
	})
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodePushNotificationNotSupported, protoErr.Code)
}

func TestExtendedCard(t *testing.T) {
	h := newTestHandler(t, &scriptedExecutor{})
	_, err := h.OnGetAuthenticatedExtendedCard(context.Background())
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeAuthenticatedExtendedCardNotConfigured, protoErr.Code)

	extended := testCard()
	extended.Name = "extended"
	h2 := newTestHandler(t, &scriptedExecutor{}, WithExtendedAgentCard(extended))
	card, err := h2.OnGetAuthenticatedExtendedCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "extended", card.Name)
}
