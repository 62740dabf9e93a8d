package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// newMessageID mints an identifier for server-generated messages.
func newMessageID() string { return uuid.NewString() }

// StreamEvent is one item of a streaming response: an event, or the error
// that ended the stream.
type StreamEvent struct {
	Event a2a.Event
	Err   error
}

// RequestHandler is the transport-agnostic A2A request surface. The JSON-RPC
// and REST transports both wrap one RequestHandler, which keeps the two wire
// formats behaviorally identical.
type RequestHandler interface {
	OnSendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.Event, error)
	OnSendMessageStream(ctx context.Context, params *a2a.MessageSendParams) (<-chan StreamEvent, error)
	OnGetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error)
	OnCancelTask(ctx context.Context, params *a2a.TaskIDParams) (*a2a.Task, error)
	OnResubscribe(ctx context.Context, params *a2a.TaskIDParams) (<-chan StreamEvent, error)
	OnSetTaskPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error)
	OnGetTaskPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error)
	OnListTaskPushConfig(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams) ([]*a2a.TaskPushNotificationConfig, error)
	OnDeleteTaskPushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams) error
	AgentCard() *a2a.AgentCard
	OnGetAuthenticatedExtendedCard(ctx context.Context) (*a2a.AgentCard, error)
}

// DefaultRequestHandler coordinates the bus, result manager, push sender and
// agent executor behind the RequestHandler surface.
type DefaultRequestHandler struct {
	logger       *zap.Logger
	card         *a2a.AgentCard
	extendedCard *a2a.AgentCard
	executor     AgentExecutor
	taskStore    TaskStore
	pushStore    PushConfigStore
	pushSender   PushNotificationSender
	busManager   *EventBusManager
	ctxBuilder   *RequestContextBuilder

	runningMu sync.Mutex
	running   map[string]context.CancelFunc // taskID -> executor context cancel
}

// HandlerOption customizes a DefaultRequestHandler.
type HandlerOption func(*DefaultRequestHandler)

// WithTaskStore replaces the default in-memory task store.
func WithTaskStore(store TaskStore) HandlerOption {
	return func(h *DefaultRequestHandler) { h.taskStore = store }
}

// WithPushConfigStore replaces the default in-memory push config store.
func WithPushConfigStore(store PushConfigStore) HandlerOption {
	return func(h *DefaultRequestHandler) { h.pushStore = store }
}

// WithPushSender replaces the default HTTP push sender.
func WithPushSender(sender PushNotificationSender) HandlerOption {
	return func(h *DefaultRequestHandler) { h.pushSender = sender }
}

// WithExtendedAgentCard configures the card returned by
// agent/getAuthenticatedExtendedCard.
func WithExtendedAgentCard(card *a2a.AgentCard) HandlerOption {
	return func(h *DefaultRequestHandler) { h.extendedCard = card }
}

// WithPushHTTPClient sets the HTTP client used for push notification
// deliveries by the default sender.
func WithPushHTTPClient(client *http.Client) HandlerOption {
	return func(h *DefaultRequestHandler) {
		h.pushSender = NewHTTPPushSender(h.logger, h.pushStore, client)
	}
}

// NewDefaultRequestHandler creates the handler. card describes this agent;
// executor is the injected agent logic.
func NewDefaultRequestHandler(logger *zap.Logger, card *a2a.AgentCard, executor AgentExecutor, options ...HandlerOption) *DefaultRequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &DefaultRequestHandler{
		logger:    logger.Named("request-handler"),
		card:      card,
		executor:  executor,
		taskStore: NewInMemoryTaskStore(),
		pushStore: NewInMemoryPushConfigStore(),
		running:   make(map[string]context.CancelFunc),
	}
	for _, option := range options {
		option(h)
	}
	if h.pushSender == nil {
		h.pushSender = NewHTTPPushSender(h.logger, h.pushStore, nil)
	}
	h.busManager = NewEventBusManager(h.logger)
	h.ctxBuilder = NewRequestContextBuilder(h.logger, h.taskStore, true)
	return h
}

// TaskStore exposes the handler's task store, mainly for tests and wiring.
func (h *DefaultRequestHandler) TaskStore() TaskStore { return h.taskStore }

// execution tracks one in-flight run of the agent executor.
type execution struct {
	taskID    string
	contextID string
	resultMgr *ResultManager

	execErrMu sync.Mutex
	execErr   error

	done chan struct{} // closed when the internal drain finished
}

func (e *execution) setErr(err error) {
	e.execErrMu.Lock()
	defer e.execErrMu.Unlock()
	e.execErr = err
}

// err must only be read after done is closed or setErr has happened-before.
func (e *execution) err() error {
	e.execErrMu.Lock()
	defer e.execErrMu.Unlock()
	return e.execErr
}

// startExecution launches the executor for the built request context and
// returns the execution handle plus a subscription registered before the
// executor produced its first event.
func (h *DefaultRequestHandler) startExecution(reqCtx *RequestContext) (*execution, *Subscription) {
	bus := h.busManager.GetOrCreate(reqCtx.TaskID)
	consumerSub := bus.Subscribe()
	internalSub := bus.Subscribe()

	exec := &execution{
		taskID:    reqCtx.TaskID,
		contextID: reqCtx.ContextID,
		resultMgr: NewResultManager(h.logger, h.taskStore, &reqCtx.UserMessage, reqCtx.Task),
		done:      make(chan struct{}),
	}

	// The executor outlives the triggering HTTP request: a non-blocking send
	// returns early and a dropped SSE client must not cancel the run.
	execCtx, cancel := context.WithCancel(context.Background())
	h.storeCancel(reqCtx.TaskID, cancel)

	go func() {
		err := h.executor.Execute(execCtx, reqCtx, bus)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Error("Agent executor failed", zap.String("taskID", reqCtx.TaskID), zap.Error(err))
			exec.setErr(err)
		}
		bus.Finished()
	}()

	go h.drain(exec, internalSub)

	return exec, consumerSub
}

// drain feeds the internal subscription through the result manager and push
// dispatcher until the bus finishes, then settles the final state and
// disposes the bus.
func (h *DefaultRequestHandler) drain(exec *execution, sub *Subscription) {
	ctx := context.Background()
	for event := range sub.Events() {
		if err := exec.resultMgr.Process(ctx, event); err != nil {
			h.logger.Error("Failed to process event", zap.String("taskID", exec.taskID), zap.Error(err))
		}
		switch event.(type) {
		case *a2a.Task, *a2a.TaskStatusUpdateEvent:
			if task := exec.resultMgr.CurrentTask(); task != nil {
				h.pushSender.SendNotification(ctx, task)
			}
		}
	}
	if err := sub.Err(); err != nil {
		h.logger.Error("Internal event subscription dropped", zap.String("taskID", exec.taskID), zap.Error(err))
	}

	// An executor that errored without publishing a terminal event leaves the
	// task dangling; settle it as failed with the error text.
	if execErr := exec.err(); execErr != nil {
		h.settleFailed(ctx, exec, execErr)
	}

	h.removeCancel(exec.taskID)
	h.busManager.Cleanup(exec.taskID)
	close(exec.done)
}

func (h *DefaultRequestHandler) settleFailed(ctx context.Context, exec *execution, execErr error) {
	current := exec.resultMgr.CurrentTask()
	if current != nil && current.Status.State.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	errText := execErr.Error()
	failed := &a2a.Task{
		Kind:      a2a.KindTask,
		ID:        exec.taskID,
		ContextID: exec.contextID,
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateFailed,
			Timestamp: &now,
			Message: &a2a.Message{
				Kind:      a2a.KindMessage,
				MessageID: newMessageID(),
				Role:      a2a.RoleAgent,
				Parts:     []a2a.Part{a2a.TextPart(errText)},
			},
		},
	}
	if current != nil {
		failed.History = current.History
		failed.Artifacts = current.Artifacts
		failed.Metadata = current.Metadata
	}
	if err := exec.resultMgr.Process(ctx, failed); err != nil {
		h.logger.Error("Failed to persist failed task state", zap.String("taskID", exec.taskID), zap.Error(err))
	}
	if task := exec.resultMgr.CurrentTask(); task != nil {
		h.pushSender.SendNotification(ctx, task)
	}
}

// OnSendMessage handles message/send. With blocking configuration (the
// default) it waits for the execution to finish and returns the final result;
// non-blocking calls return as soon as a task exists.
func (h *DefaultRequestHandler) OnSendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.Event, error) {
	reqCtx, err := h.ctxBuilder.Build(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := h.registerSendPushConfig(ctx, reqCtx.TaskID, params); err != nil {
		return nil, err
	}

	exec, sub := h.startExecution(reqCtx)

	if params.Configuration != nil && params.Configuration.Blocking != nil && !*params.Configuration.Blocking {
		result, err := h.waitNonBlocking(ctx, exec, sub, reqCtx)
		if err != nil {
			return nil, err
		}
		return trimResultHistory(result, params), nil
	}

	// Blocking: the caller's subscription is unused; the internal drain holds
	// the authoritative state.
	sub.Close()
	select {
	case <-exec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	result := exec.resultMgr.Result()
	if result == nil {
		return nil, a2a.NewInternalError("execution produced no result")
	}
	return trimResultHistory(result, params), nil
}

// waitNonBlocking returns at the first task event. For continuations of an
// existing task the snapshot recorded before the executor started suffices.
func (h *DefaultRequestHandler) waitNonBlocking(ctx context.Context, exec *execution, sub *Subscription, reqCtx *RequestContext) (a2a.Event, error) {
	defer sub.Close()
	if reqCtx.Task != nil {
		return reqCtx.Task.Clone(), nil
	}
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				// Stream ended before a task appeared; fall back to the final result.
				<-exec.done
				result := exec.resultMgr.Result()
				if result == nil {
					return nil, a2a.NewInternalError("execution produced no result")
				}
				return result, nil
			}
			switch ev := event.(type) {
			case *a2a.Task:
				return ev.Clone(), nil
			case *a2a.Message:
				return ev.Clone(), nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// OnSendMessageStream handles message/stream. The subscription is registered
// before the executor is invoked, so the caller observes every event. The
// stream ends at the first message event or at a final status-update.
func (h *DefaultRequestHandler) OnSendMessageStream(ctx context.Context, params *a2a.MessageSendParams) (<-chan StreamEvent, error) {
	reqCtx, err := h.ctxBuilder.Build(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := h.registerSendPushConfig(ctx, reqCtx.TaskID, params); err != nil {
		return nil, err
	}

	exec, sub := h.startExecution(reqCtx)
	out := make(chan StreamEvent)
	go h.relay(ctx, exec, sub, nil, out)
	return out, nil
}

// relay forwards events from a bus subscription to a stream consumer.
// seed, when non-nil, is emitted first (resubscribe catch-up).
func (h *DefaultRequestHandler) relay(ctx context.Context, exec *execution, sub *Subscription, seed a2a.Event, out chan<- StreamEvent) {
	defer close(out)
	defer sub.Close()

	emit := func(item StreamEvent) bool {
		select {
		case out <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if seed != nil {
		if !emit(StreamEvent{Event: seed}) {
			return
		}
	}

	for event := range sub.Events() {
		if !emit(StreamEvent{Event: event}) {
			return
		}
		switch ev := event.(type) {
		case *a2a.Message:
			return
		case *a2a.TaskStatusUpdateEvent:
			if ev.Final {
				return
			}
		}
	}

	if err := sub.Err(); err != nil {
		emit(StreamEvent{Err: a2a.NewInternalError(err.Error())})
		return
	}

	// Bus finished without a terminal event: surface an executor failure.
	if exec != nil {
		<-exec.done
		if execErr := exec.err(); execErr != nil {
			emit(StreamEvent{Err: a2a.NewInternalError(execErr.Error())})
		}
	}
}

// OnGetTask handles tasks/get.
func (h *DefaultRequestHandler) OnGetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error) {
	if params.ID == "" {
		return nil, a2a.NewInvalidParamsError("task id is required")
	}
	task, err := h.taskStore.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	trimTaskHistory(task, params.HistoryLength)
	return task, nil
}

// OnCancelTask handles tasks/cancel. The cancel hook is invoked and the
// current snapshot returned immediately; the transition to canceled arrives
// asynchronously via the bus.
func (h *DefaultRequestHandler) OnCancelTask(ctx context.Context, params *a2a.TaskIDParams) (*a2a.Task, error) {
	if params.ID == "" {
		return nil, a2a.NewInvalidParamsError("task id is required")
	}
	task, err := h.taskStore.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if task.Status.State.IsTerminal() {
		return nil, a2a.NewTaskNotCancelableError(task.ID)
	}

	reqCtx := &RequestContext{TaskID: task.ID, ContextID: task.ContextID, Task: task.Clone(), Call: CallContextFrom(ctx)}

	bus, live := h.busManager.Get(task.ID)
	if live {
		go func() {
			// Publish the canceled event first, then release the executor:
			// unwinding it earlier would finish the bus before the terminal
			// event is out.
			if err := h.executor.Cancel(context.Background(), reqCtx, bus); err != nil {
				h.logger.Error("Executor cancel hook failed", zap.String("taskID", task.ID), zap.Error(err))
			}
			h.cancelRunning(task.ID)
		}()
		return task, nil
	}

	// No live execution: run the cancel hook against a short-lived bus with
	// its own drain so the canceled event still reaches the store.
	bus = h.busManager.GetOrCreate(task.ID)
	internalSub := bus.Subscribe()
	exec := &execution{
		taskID:    task.ID,
		contextID: task.ContextID,
		resultMgr: NewResultManager(h.logger, h.taskStore, nil, task),
		done:      make(chan struct{}),
	}
	go h.drain(exec, internalSub)
	go func() {
		if err := h.executor.Cancel(context.Background(), reqCtx, bus); err != nil {
			h.logger.Error("Executor cancel hook failed", zap.String("taskID", task.ID), zap.Error(err))
		}
		bus.Finished()
	}()
	return task, nil
}

// OnResubscribe handles tasks/resubscribe. The first yielded item is the
// current task snapshot; subsequent items match what new direct subscribers
// receive.
func (h *DefaultRequestHandler) OnResubscribe(ctx context.Context, params *a2a.TaskIDParams) (<-chan StreamEvent, error) {
	if params.ID == "" {
		return nil, a2a.NewInvalidParamsError("task id is required")
	}
	task, err := h.taskStore.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	bus, live := h.busManager.Get(task.ID)
	if !live {
		if !task.Status.State.IsTerminal() {
			return nil, a2a.NewInvalidRequestError(
				fmt.Sprintf("task %s has no active execution to resubscribe to", task.ID))
		}
		// Terminal task: emit the snapshot and close.
		out := make(chan StreamEvent)
		go func() {
			defer close(out)
			select {
			case out <- StreamEvent{Event: task}:
			case <-ctx.Done():
			}
		}()
		return out, nil
	}

	// Subscribe before reading the snapshot so no event between snapshot and
	// subscription is lost; the seed carries the catch-up state.
	sub := bus.Subscribe()
	snapshot, err := h.taskStore.Load(ctx, task.ID)
	if err != nil {
		snapshot = task
	}
	out := make(chan StreamEvent)
	go h.relay(ctx, nil, sub, snapshot, out)
	return out, nil
}

// OnSetTaskPushConfig handles tasks/pushNotificationConfig/set.
func (h *DefaultRequestHandler) OnSetTaskPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	if err := h.requirePushSupport(); err != nil {
		return nil, err
	}
	if _, err := h.taskStore.Load(ctx, params.TaskID); err != nil {
		return nil, err
	}
	saved, err := h.pushStore.Save(ctx, params.TaskID, &params.PushNotificationConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to save push config: %w", err)
	}
	return &a2a.TaskPushNotificationConfig{TaskID: params.TaskID, PushNotificationConfig: *saved}, nil
}

// OnGetTaskPushConfig handles tasks/pushNotificationConfig/get. The config id
// defaults to the task id when omitted.
func (h *DefaultRequestHandler) OnGetTaskPushConfig(ctx context.Context, params *a2a.GetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error) {
	if err := h.requirePushSupport(); err != nil {
		return nil, err
	}
	configID := params.ID
	if params.PushNotificationConfigID != nil && *params.PushNotificationConfigID != "" {
		configID = *params.PushNotificationConfigID
	}
	config, err := h.pushStore.Get(ctx, params.ID, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to get push config: %w", err)
	}
	if config == nil {
		return nil, a2a.NewInvalidParamsError(fmt.Sprintf("push config %s not found for task %s", configID, params.ID))
	}
	return &a2a.TaskPushNotificationConfig{TaskID: params.ID, PushNotificationConfig: *config}, nil
}

// OnListTaskPushConfig handles tasks/pushNotificationConfig/list.
func (h *DefaultRequestHandler) OnListTaskPushConfig(ctx context.Context, params *a2a.ListTaskPushNotificationConfigParams) ([]*a2a.TaskPushNotificationConfig, error) {
	if err := h.requirePushSupport(); err != nil {
		return nil, err
	}
	configs, err := h.pushStore.List(ctx, params.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list push configs: %w", err)
	}
	out := make([]*a2a.TaskPushNotificationConfig, len(configs))
	for i, config := range configs {
		out[i] = &a2a.TaskPushNotificationConfig{TaskID: params.ID, PushNotificationConfig: *config}
	}
	return out, nil
}

// OnDeleteTaskPushConfig handles tasks/pushNotificationConfig/delete.
func (h *DefaultRequestHandler) OnDeleteTaskPushConfig(ctx context.Context, params *a2a.DeleteTaskPushNotificationConfigParams) error {
	if err := h.requirePushSupport(); err != nil {
		return err
	}
	return h.pushStore.Delete(ctx, params.ID, params.PushNotificationConfigID)
}

// AgentCard returns the static card served to unauthenticated callers.
func (h *DefaultRequestHandler) AgentCard() *a2a.AgentCard { return h.card }

// OnGetAuthenticatedExtendedCard returns the extended card when configured.
func (h *DefaultRequestHandler) OnGetAuthenticatedExtendedCard(ctx context.Context) (*a2a.AgentCard, error) {
	if h.extendedCard == nil {
		return nil, a2a.NewAuthenticatedExtendedCardNotConfiguredError()
	}
	return h.extendedCard, nil
}

func (h *DefaultRequestHandler) requirePushSupport() error {
	if h.card == nil || !h.card.Capabilities.PushNotifications {
		return a2a.NewPushNotificationNotSupportedError()
	}
	return nil
}

// registerSendPushConfig stores a push config piggybacked on a send call.
func (h *DefaultRequestHandler) registerSendPushConfig(ctx context.Context, taskID string, params *a2a.MessageSendParams) error {
	if params.Configuration == nil || params.Configuration.PushNotificationConfig == nil {
		return nil
	}
	if err := h.requirePushSupport(); err != nil {
		return err
	}
	if _, err := h.pushStore.Save(ctx, taskID, params.Configuration.PushNotificationConfig); err != nil {
		return fmt.Errorf("failed to save push config: %w", err)
	}
	return nil
}

func (h *DefaultRequestHandler) storeCancel(taskID string, cancel context.CancelFunc) {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	if existing, ok := h.running[taskID]; ok {
		h.logger.Warn("Executor already running for task, cancelling previous one", zap.String("taskID", taskID))
		existing()
	}
	h.running[taskID] = cancel
}

// cancelRunning cancels the executor context for a task, reporting whether
// one was running.
func (h *DefaultRequestHandler) cancelRunning(taskID string) bool {
	h.runningMu.Lock()
	cancel, ok := h.running[taskID]
	if ok {
		delete(h.running, taskID)
	}
	h.runningMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (h *DefaultRequestHandler) removeCancel(taskID string) {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	delete(h.running, taskID)
}

// trimResultHistory applies the send configuration's historyLength to a task
// result. Message results pass through unchanged.
func trimResultHistory(result a2a.Event, params *a2a.MessageSendParams) a2a.Event {
	task, ok := result.(*a2a.Task)
	if !ok || params.Configuration == nil {
		return result
	}
	trimTaskHistory(task, params.Configuration.HistoryLength)
	return task
}

// trimTaskHistory bounds a task's history: nil keeps everything, zero or
// negative clears it, a positive value keeps the most recent n messages.
func trimTaskHistory(task *a2a.Task, historyLength *int) {
	if historyLength == nil {
		return
	}
	n := *historyLength
	if n <= 0 {
		task.History = nil
		return
	}
	if len(task.History) > n {
		task.History = task.History[len(task.History)-n:]
	}
}
