package server

import (
	"context"
	"sync"

	"github.com/agentmesh/agentmesh/a2a"
)

// TaskStore defines the persistence contract for task records.
// Implementations must be safe for concurrent use and must copy records on
// read and write so callers never share memory with the store.
type TaskStore interface {
	Save(ctx context.Context, task *a2a.Task) error
	Load(ctx context.Context, taskID string) (*a2a.Task, error)
	Delete(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]*a2a.Task, error)
}

// InMemoryTaskStore implements TaskStore using an in-memory map.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*a2a.Task
}

// NewInMemoryTaskStore creates a new InMemoryTaskStore.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{tasks: make(map[string]*a2a.Task)}
}

// Save stores a deep copy of the task.
func (s *InMemoryTaskStore) Save(ctx context.Context, task *a2a.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Load returns a deep copy of the task, or TaskNotFound.
func (s *InMemoryTaskStore) Load(ctx context.Context, taskID string) (*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, exists := s.tasks[taskID]
	if !exists {
		return nil, a2a.NewTaskNotFoundError(taskID)
	}
	return task.Clone(), nil
}

// Delete removes a task, or returns TaskNotFound.
func (s *InMemoryTaskStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[taskID]; !exists {
		return a2a.NewTaskNotFoundError(taskID)
	}
	delete(s.tasks, taskID)
	return nil
}

// List returns deep copies of all stored tasks.
func (s *InMemoryTaskStore) List(ctx context.Context) ([]*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*a2a.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	return out, nil
}
