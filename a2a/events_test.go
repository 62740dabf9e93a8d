package a2a

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalEvent(t *testing.T) {
	t.Run("status update", func(t *testing.T) {
		data := `{
			"kind": "status-update",
			"taskId": "t1",
			"contextId": "c1",
			"status": {"state": "working", "timestamp": "2025-04-17T10:34:18.117Z"},
			"final": false
		}`
		ev, err := UnmarshalEvent([]byte(data))
		require.NoError(t, err)
		su, ok := ev.(*TaskStatusUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, "t1", su.TaskID)
		assert.Equal(t, TaskStateWorking, su.Status.State)
		assert.False(t, su.Final)
	})

	t.Run("artifact update", func(t *testing.T) {
		data := `{
			"kind": "artifact-update",
			"taskId": "t1",
			"contextId": "c1",
			"artifact": {"artifactId": "a1", "parts": [{"kind": "text", "text": "hello"}]},
			"append": true,
			"lastChunk": true
		}`
		ev, err := UnmarshalEvent([]byte(data))
		require.NoError(t, err)
		au, ok := ev.(*TaskArtifactUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, "a1", au.Artifact.ArtifactID)
		assert.True(t, au.Append)
		assert.True(t, au.LastChunk)
		require.Len(t, au.Artifact.Parts, 1)
		assert.Equal(t, "hello", *au.Artifact.Parts[0].Text)
	})

	t.Run("task", func(t *testing.T) {
		data := `{
			"kind": "task",
			"id": "t2",
			"contextId": "c2",
			"status": {"state": "submitted"}
		}`
		ev, err := UnmarshalEvent([]byte(data))
		require.NoError(t, err)
		task, ok := ev.(*Task)
		require.True(t, ok)
		assert.Equal(t, "t2", task.ID)
		assert.Equal(t, TaskStateSubmitted, task.Status.State)
	})

	t.Run("message", func(t *testing.T) {
		data := `{
			"kind": "message",
			"messageId": "m1",
			"role": "agent",
			"parts": [{"kind": "text", "text": "Hi"}]
		}`
		ev, err := UnmarshalEvent([]byte(data))
		require.NoError(t, err)
		msg, ok := ev.(*Message)
		require.True(t, ok)
		assert.Equal(t, RoleAgent, msg.Role)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := UnmarshalEvent([]byte(`{"kind": "bogus"}`))
		assert.Error(t, err)
	})
}

func TestTaskStateIsTerminal(t *testing.T) {
	terminal := []TaskState{TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	open := []TaskState{TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired, TaskStateAuthRequired, TaskStateUnknown}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestTaskRoundTrip(t *testing.T) {
	jsonData := `{
		"kind": "task",
		"id": "1",
		"contextId": "ctx-1",
		"status": {
			"state": "failed",
			"timestamp": "2025-04-17T10:34:18.117Z",
			"message": {
				"kind": "message",
				"messageId": "m-err",
				"role": "agent",
				"parts": [{"kind": "text", "text": "boom"}]
			}
		},
		"artifacts": []
	}`

	var task Task
	require.NoError(t, json.Unmarshal([]byte(jsonData), &task))
	assert.Equal(t, "1", task.ID)
	assert.Equal(t, TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Status.Message)
	assert.Equal(t, "m-err", task.Status.Message.MessageID)

	// Encoding and decoding again preserves the record.
	data, err := json.Marshal(&task)
	require.NoError(t, err)
	var again Task
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, task.ID, again.ID)
	assert.Equal(t, task.Status.State, again.Status.State)
}
