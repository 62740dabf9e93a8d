// Package agent contains the demo executor wired into the example server.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

// EchoExecutor is a demo agent: it answers every message with an echo
// artifact, streamed in two chunks. Inputs containing "error_test" fail the
// task, "cancel_test" runs until canceled.
type EchoExecutor struct {
	logger *zap.Logger
}

// New creates the demo executor.
func New(logger *zap.Logger) *EchoExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EchoExecutor{logger: logger.Named("echo-agent")}
}

var _ server.AgentExecutor = (*EchoExecutor)(nil)

// Execute implements server.AgentExecutor.
func (e *EchoExecutor) Execute(ctx context.Context, reqCtx *server.RequestContext, bus *server.EventBus) error {
	logger := e.logger.With(zap.String("taskID", reqCtx.TaskID))
	logger.Info("Execution started")

	input := textOf(&reqCtx.UserMessage)

	bus.Publish(e.taskSnapshot(reqCtx, a2a.TaskStateSubmitted))
	bus.Publish(e.statusUpdate(reqCtx, a2a.TaskStateWorking, "Processing your request...", false))

	switch {
	case strings.Contains(input, "error_test"):
		return fmt.Errorf("simulated processing error")

	case strings.Contains(input, "cancel_test"):
		// Run until canceled; the cancel hook publishes the terminal event.
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("Execution canceled")
				return ctx.Err()
			case <-ticker.C:
			}
		}

	default:
		artifactID := uuid.NewString()
		bus.Publish(&a2a.TaskArtifactUpdateEvent{
			Kind:      a2a.KindArtifactUpdate,
			TaskID:    reqCtx.TaskID,
			ContextID: reqCtx.ContextID,
			Artifact: a2a.Artifact{
				ArtifactID: artifactID,
				Parts:      []a2a.Part{a2a.TextPart("Echo: ")},
			},
		})
		bus.Publish(&a2a.TaskArtifactUpdateEvent{
			Kind:      a2a.KindArtifactUpdate,
			TaskID:    reqCtx.TaskID,
			ContextID: reqCtx.ContextID,
			Artifact: a2a.Artifact{
				ArtifactID: artifactID,
				Parts:      []a2a.Part{a2a.TextPart(input)},
			},
			Append:    true,
			LastChunk: true,
		})
		bus.Publish(e.statusUpdate(reqCtx, a2a.TaskStateCompleted, "Done.", true))
		bus.Finished()
		return nil
	}
}

// Cancel implements server.AgentExecutor.
func (e *EchoExecutor) Cancel(ctx context.Context, reqCtx *server.RequestContext, bus *server.EventBus) error {
	e.logger.Info("Cancel requested", zap.String("taskID", reqCtx.TaskID))
	bus.Publish(e.statusUpdate(reqCtx, a2a.TaskStateCanceled, "Task canceled by client request.", true))
	return nil
}

func (e *EchoExecutor) taskSnapshot(reqCtx *server.RequestContext, state a2a.TaskState) *a2a.Task {
	now := time.Now().UTC()
	return &a2a.Task{
		Kind:      a2a.KindTask,
		ID:        reqCtx.TaskID,
		ContextID: reqCtx.ContextID,
		Status:    a2a.TaskStatus{State: state, Timestamp: &now},
		History:   []a2a.Message{reqCtx.UserMessage},
	}
}

func (e *EchoExecutor) statusUpdate(reqCtx *server.RequestContext, state a2a.TaskState, text string, final bool) *a2a.TaskStatusUpdateEvent {
	now := time.Now().UTC()
	return &a2a.TaskStatusUpdateEvent{
		Kind:      a2a.KindStatusUpdate,
		TaskID:    reqCtx.TaskID,
		ContextID: reqCtx.ContextID,
		Status: a2a.TaskStatus{
			State:     state,
			Timestamp: &now,
			Message: &a2a.Message{
				Kind:      a2a.KindMessage,
				MessageID: uuid.NewString(),
				Role:      a2a.RoleAgent,
				Parts:     []a2a.Part{a2a.TextPart(text)},
			},
		},
		Final: final,
	}
}

func textOf(message *a2a.Message) string {
	var b strings.Builder
	for _, part := range message.Parts {
		if part.Kind == a2a.PartKindText && part.Text != nil {
			b.WriteString(*part.Text)
		}
	}
	return b.String()
}
