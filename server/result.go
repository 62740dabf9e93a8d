package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// ResultManager consumes the event stream of one task execution and maintains
// the canonical Task record in the store. Events are applied in the order
// delivered by the bus; after each mutation the current snapshot is persisted
// so the store always holds a prefix-consistent view.
type ResultManager struct {
	logger *zap.Logger
	store  TaskStore

	userMessage  *a2a.Message
	current      *a2a.Task
	finalMessage *a2a.Message
}

// NewResultManager creates a ResultManager for one execution attempt.
// userMessage is the triggering message; it is inserted into the history of a
// task event that does not already carry it. seed is the pre-existing task
// record, nil for fresh tasks.
func NewResultManager(logger *zap.Logger, store TaskStore, userMessage *a2a.Message, seed *a2a.Task) *ResultManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultManager{
		logger:      logger.Named("result-manager"),
		store:       store,
		userMessage: userMessage.Clone(),
		current:     seed.Clone(),
	}
}

// Process applies one event to the canonical record. Events addressed at a
// terminal task are dropped; the record never mutates past a terminal state.
func (r *ResultManager) Process(ctx context.Context, event a2a.Event) error {
	switch ev := event.(type) {
	case *a2a.Message:
		// The final result of the execution; keep folding task state so the
		// store stays consistent for any in-flight task.
		r.finalMessage = ev.Clone()
		return nil
	case *a2a.Task:
		return r.processTask(ctx, ev)
	case *a2a.TaskStatusUpdateEvent:
		return r.processStatusUpdate(ctx, ev)
	case *a2a.TaskArtifactUpdateEvent:
		return r.processArtifactUpdate(ctx, ev)
	default:
		r.logger.Warn("Ignoring event of unknown type", zap.String("kind", event.EventKind()))
		return nil
	}
}

func (r *ResultManager) processTask(ctx context.Context, task *a2a.Task) error {
	if r.current != nil && r.current.Status.State.IsTerminal() {
		r.logger.Warn("Dropping task event for terminal task", zap.String("taskID", task.ID))
		return nil
	}
	replacement := task.Clone()
	if r.userMessage != nil && !historyContains(replacement.History, r.userMessage.MessageID) {
		replacement.History = append([]a2a.Message{*r.userMessage.Clone()}, replacement.History...)
	}
	r.current = replacement
	return r.save(ctx)
}

func (r *ResultManager) processStatusUpdate(ctx context.Context, ev *a2a.TaskStatusUpdateEvent) error {
	if ok := r.ensureTask(ctx, ev.TaskID); !ok {
		return nil
	}
	if r.current.Status.State.IsTerminal() {
		r.logger.Warn("Dropping status update for terminal task",
			zap.String("taskID", ev.TaskID),
			zap.String("state", string(r.current.Status.State)))
		return nil
	}
	r.current.Status = ev.Status.Clone()
	if r.current.Status.Timestamp == nil {
		now := time.Now().UTC()
		r.current.Status.Timestamp = &now
	}
	if msg := ev.Status.Message; msg != nil && !historyContains(r.current.History, msg.MessageID) {
		r.current.History = append(r.current.History, *msg.Clone())
	}
	return r.save(ctx)
}

func (r *ResultManager) processArtifactUpdate(ctx context.Context, ev *a2a.TaskArtifactUpdateEvent) error {
	if ok := r.ensureTask(ctx, ev.TaskID); !ok {
		return nil
	}
	if r.current.Status.State.IsTerminal() {
		r.logger.Warn("Dropping artifact update for terminal task", zap.String("taskID", ev.TaskID))
		return nil
	}
	incoming := ev.Artifact.Clone()
	idx := -1
	for i := range r.current.Artifacts {
		if r.current.Artifacts[i].ArtifactID == incoming.ArtifactID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		if ev.Append {
			r.logger.Warn("Append to unknown artifact, storing as new",
				zap.String("taskID", ev.TaskID),
				zap.String("artifactId", incoming.ArtifactID))
		}
		r.current.Artifacts = append(r.current.Artifacts, incoming)
	case !ev.Append:
		r.current.Artifacts[idx] = incoming
	default:
		existing := &r.current.Artifacts[idx]
		existing.Parts = append(existing.Parts, incoming.Parts...)
		if incoming.Name != nil {
			existing.Name = incoming.Name
		}
		if incoming.Description != nil {
			existing.Description = incoming.Description
		}
		for k, v := range incoming.Metadata {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]any)
			}
			existing.Metadata[k] = v
		}
	}
	return r.save(ctx)
}

// ensureTask makes sure a current task exists for the given id, falling back
// to the store for executions resumed mid-stream. Events for an unknown task
// are logged and dropped.
func (r *ResultManager) ensureTask(ctx context.Context, taskID string) bool {
	if r.current != nil {
		if r.current.ID != taskID {
			r.logger.Warn("Event task id does not match current task, dropping",
				zap.String("eventTaskID", taskID),
				zap.String("currentTaskID", r.current.ID))
			return false
		}
		return true
	}
	loaded, err := r.store.Load(ctx, taskID)
	if err != nil {
		r.logger.Warn("Event for unknown task, dropping", zap.String("taskID", taskID))
		return false
	}
	r.current = loaded
	return true
}

func (r *ResultManager) save(ctx context.Context) error {
	if r.current == nil {
		return nil
	}
	if err := r.store.Save(ctx, r.current); err != nil {
		r.logger.Error("Failed to persist task snapshot", zap.String("taskID", r.current.ID), zap.Error(err))
		return err
	}
	return nil
}

// CurrentTask returns a copy of the canonical record as of the last processed
// event, nil when no task state has been observed.
func (r *ResultManager) CurrentTask() *a2a.Task {
	return r.current.Clone()
}

// Result resolves the final outcome of the execution: the message event when
// one was observed, otherwise the current task record.
func (r *ResultManager) Result() a2a.Event {
	if r.finalMessage != nil {
		return r.finalMessage.Clone()
	}
	if r.current == nil {
		return nil
	}
	return r.current.Clone()
}

func historyContains(history []a2a.Message, messageID string) bool {
	for i := range history {
		if history[i].MessageID == messageID {
			return true
		}
	}
	return false
}
