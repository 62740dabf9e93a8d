package server

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// RequestContextBuilder normalizes inbound message-send parameters into a
// RequestContext: assigns task and context identifiers, validates that a
// referenced task is not terminal, and loads referenced tasks.
type RequestContextBuilder struct {
	logger                 *zap.Logger
	store                  TaskStore
	populateReferenceTasks bool
}

// NewRequestContextBuilder creates a RequestContextBuilder.
// When populateReferenceTasks is true, tasks listed in the message's
// referenceTaskIds are loaded from the store into the context.
func NewRequestContextBuilder(logger *zap.Logger, store TaskStore, populateReferenceTasks bool) *RequestContextBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestContextBuilder{
		logger:                 logger.Named("request-context"),
		store:                  store,
		populateReferenceTasks: populateReferenceTasks,
	}
}

// Build produces the RequestContext for one message-send call.
// A message addressed at a terminal task fails with InvalidRequest; a message
// addressed at an unknown task fails with TaskNotFound. In both cases the
// executor is never invoked.
func (b *RequestContextBuilder) Build(ctx context.Context, params *a2a.MessageSendParams) (*RequestContext, error) {
	message := *params.Message.Clone()

	var task *a2a.Task
	var taskID string
	if message.TaskID != nil && *message.TaskID != "" {
		taskID = *message.TaskID
		loaded, err := b.store.Load(ctx, taskID)
		if err != nil {
			b.logger.Warn("Message references unknown task", zap.String("taskID", taskID), zap.Error(err))
			return nil, err
		}
		if loaded.Status.State.IsTerminal() {
			b.logger.Warn("Message references terminal task",
				zap.String("taskID", taskID),
				zap.String("state", string(loaded.Status.State)))
			return nil, a2a.NewInvalidRequestError(
				fmt.Sprintf("task %s is in terminal state %s", taskID, loaded.Status.State))
		}
		// Record the incoming message before the executor runs so a crash
		// mid-execution still leaves the request in history.
		loaded.History = append(loaded.History, message)
		if err := b.store.Save(ctx, loaded); err != nil {
			return nil, fmt.Errorf("failed to persist incoming message: %w", err)
		}
		task = loaded
	} else {
		taskID = uuid.NewString()
	}

	var referenceTasks []*a2a.Task
	if b.populateReferenceTasks && len(message.ReferenceTaskIDs) > 0 {
		for _, refID := range message.ReferenceTaskIDs {
			ref, err := b.store.Load(ctx, refID)
			if err != nil {
				b.logger.Warn("Referenced task not found, skipping", zap.String("referenceTaskID", refID))
				continue
			}
			referenceTasks = append(referenceTasks, ref)
		}
	}

	contextID := resolveContextID(&message, task)

	return &RequestContext{
		UserMessage:    message,
		TaskID:         taskID,
		ContextID:      contextID,
		Task:           task,
		ReferenceTasks: referenceTasks,
		Call:           CallContextFrom(ctx),
	}, nil
}

// resolveContextID picks the context identifier in priority order:
// message-provided, task-provided, freshly generated.
func resolveContextID(message *a2a.Message, task *a2a.Task) string {
	if message.ContextID != nil && *message.ContextID != "" {
		return *message.ContextID
	}
	if task != nil && task.ContextID != "" {
		return task.ContextID
	}
	return uuid.NewString()
}
