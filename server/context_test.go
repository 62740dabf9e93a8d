package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

func sendParams(message a2a.Message) *a2a.MessageSendParams {
	return &a2a.MessageSendParams{Message: message}
}

func TestBuildFreshTaskGeneratesIDs(t *testing.T) {
	builder := NewRequestContextBuilder(zap.NewNop(), NewInMemoryTaskStore(), true)

	reqCtx, err := builder.Build(context.Background(), sendParams(*userMessage("m1", "Hello")))
	require.NoError(t, err)
	assert.NotEmpty(t, reqCtx.TaskID)
	assert.NotEmpty(t, reqCtx.ContextID)
	assert.Nil(t, reqCtx.Task)
	assert.Equal(t, "m1", reqCtx.UserMessage.MessageID)
}

func TestBuildContextIDPriority(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()
	builder := NewRequestContextBuilder(zap.NewNop(), store, true)

	// Message-provided wins.
	msg := *userMessage("m1", "Hello")
	provided := "ctx-explicit"
	msg.ContextID = &provided
	reqCtx, err := builder.Build(ctx, sendParams(msg))
	require.NoError(t, err)
	assert.Equal(t, "ctx-explicit", reqCtx.ContextID)

	// Task-provided comes next.
	require.NoError(t, store.Save(ctx, taskEvent("t1", a2a.TaskStateWorking)))
	msg = *userMessage("m2", "more")
	taskID := "t1"
	msg.TaskID = &taskID
	reqCtx, err = builder.Build(ctx, sendParams(msg))
	require.NoError(t, err)
	assert.Equal(t, "ctx-t1", reqCtx.ContextID)
	require.NotNil(t, reqCtx.Task)
}

func TestBuildUnknownTaskFails(t *testing.T) {
	builder := NewRequestContextBuilder(zap.NewNop(), NewInMemoryTaskStore(), true)

	msg := *userMessage("m1", "Hello")
	taskID := "missing"
	msg.TaskID = &taskID
	_, err := builder.Build(context.Background(), sendParams(msg))
	require.Error(t, err)
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeTaskNotFound, protoErr.Code)
}

func TestBuildTerminalTaskFails(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()
	require.NoError(t, store.Save(ctx, taskEvent("done", a2a.TaskStateCompleted)))
	builder := NewRequestContextBuilder(zap.NewNop(), store, true)

	msg := *userMessage("m1", "Hello")
	taskID := "done"
	msg.TaskID = &taskID
	_, err := builder.Build(ctx, sendParams(msg))
	require.Error(t, err)
	var protoErr *a2a.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, a2a.ErrorCodeInvalidRequest, protoErr.Code)
}

func TestBuildAppendsMessageToExistingTask(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()
	require.NoError(t, store.Save(ctx, taskEvent("t1", a2a.TaskStateInputRequired)))
	builder := NewRequestContextBuilder(zap.NewNop(), store, true)

	msg := *userMessage("m2", "the input")
	taskID := "t1"
	msg.TaskID = &taskID
	reqCtx, err := builder.Build(ctx, sendParams(msg))
	require.NoError(t, err)
	assert.Equal(t, "t1", reqCtx.TaskID)

	stored, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	assert.Equal(t, "m2", stored.History[0].MessageID)
}

func TestBuildPopulatesReferenceTasks(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()
	require.NoError(t, store.Save(ctx, taskEvent("ref-1", a2a.TaskStateCompleted)))
	builder := NewRequestContextBuilder(zap.NewNop(), store, true)

	msg := *userMessage("m1", "Hello")
	msg.ReferenceTaskIDs = []string{"ref-1", "ref-missing"}
	reqCtx, err := builder.Build(ctx, sendParams(msg))
	require.NoError(t, err)
	// Absent references are skipped with a warning, found ones collected.
	require.Len(t, reqCtx.ReferenceTasks, 1)
	assert.Equal(t, "ref-1", reqCtx.ReferenceTasks[0].ID)
}

func TestBuildReferencePopulationDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()
	require.NoError(t, store.Save(ctx, taskEvent("ref-1", a2a.TaskStateCompleted)))
	builder := NewRequestContextBuilder(zap.NewNop(), store, false)

	msg := *userMessage("m1", "Hello")
	msg.ReferenceTaskIDs = []string{"ref-1"}
	reqCtx, err := builder.Build(ctx, sendParams(msg))
	require.NoError(t, err)
	assert.Empty(t, reqCtx.ReferenceTasks)
}

func TestInMemoryTaskStoreCopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryTaskStore()

	original := taskEvent("t1", a2a.TaskStateWorking)
	original.Artifacts = []a2a.Artifact{{ArtifactID: "A", Parts: []a2a.Part{a2a.TextPart("v1")}}}
	require.NoError(t, store.Save(ctx, original))

	// Mutating the saved value must not leak into the store.
	original.Status.State = a2a.TaskStateFailed
	original.Artifacts[0].ArtifactID = "mutated"

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, loaded.Status.State)
	assert.Equal(t, "A", loaded.Artifacts[0].ArtifactID)

	// Mutating a loaded value must not affect subsequent reads.
	loaded.Artifacts[0].ArtifactID = "mutated-again"
	reloaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "A", reloaded.Artifacts[0].ArtifactID)
}

func TestInMemoryPushConfigStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryPushConfigStore()

	// Empty config id defaults to the task id.
	saved, err := store.Save(ctx, "t1", &a2a.PushNotificationConfig{URL: "http://cb.example/hook"})
	require.NoError(t, err)
	assert.Equal(t, "t1", saved.ID)

	second, err := store.Save(ctx, "t1", &a2a.PushNotificationConfig{ID: "alt", URL: "http://cb.example/alt"})
	require.NoError(t, err)

	got, err := store.Get(ctx, "t1", "alt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.URL, got.URL)

	missing, err := store.Get(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	configs, err := store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	require.NoError(t, store.Delete(ctx, "t1", "alt"))
	configs, err = store.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}
