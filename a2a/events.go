package a2a

import (
	"encoding/json"
	"fmt"
)

// Event kind discriminators carried in the "kind" field of stream payloads.
const (
	KindMessage        = "message"
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// Event is one item of a task execution stream: a Message, a Task snapshot,
// a TaskStatusUpdateEvent, or a TaskArtifactUpdateEvent.
type Event interface {
	EventKind() string
}

// TaskStatusUpdateEvent signals a change of a task's status during streaming.
type TaskStatusUpdateEvent struct {
	// Type discriminator, always "status-update".
	Kind string `json:"kind"`
	// The task being updated. (Required)
	TaskID string `json:"taskId"`
	// The context of the task. (Required)
	ContextID string `json:"contextId"`
	// The new status. (Required)
	Status TaskStatus `json:"status"`
	// True when this is the terminal update for the task.
	Final bool `json:"final"`
	// Optional metadata associated with the event.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventKind implements Event.
func (*TaskStatusUpdateEvent) EventKind() string { return KindStatusUpdate }

// TaskArtifactUpdateEvent signals a new or updated artifact during streaming.
type TaskArtifactUpdateEvent struct {
	// Type discriminator, always "artifact-update".
	Kind string `json:"kind"`
	// The task the artifact belongs to. (Required)
	TaskID string `json:"taskId"`
	// The context of the task. (Required)
	ContextID string `json:"contextId"`
	// The artifact data. (Required)
	Artifact Artifact `json:"artifact"`
	// True when Parts extend an existing artifact with the same ArtifactID.
	Append bool `json:"append,omitempty"`
	// True when this is the final chunk for the artifact.
	LastChunk bool `json:"lastChunk,omitempty"`
	// Optional metadata associated with the event.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventKind implements Event.
func (*TaskArtifactUpdateEvent) EventKind() string { return KindArtifactUpdate }

// UnmarshalEvent decodes a wire payload into the concrete event type selected
// by its "kind" field.
func UnmarshalEvent(data []byte) (Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to probe event kind: %w", err)
	}
	switch probe.Kind {
	case KindMessage:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode message event: %w", err)
		}
		return &m, nil
	case KindTask:
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task event: %w", err)
		}
		return &t, nil
	case KindStatusUpdate:
		var e TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode status-update event: %w", err)
		}
		return &e, nil
	case KindArtifactUpdate:
		var e TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode artifact-update event: %w", err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", probe.Kind)
	}
}
