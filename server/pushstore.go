package server

import (
	"context"
	"sync"

	"github.com/agentmesh/agentmesh/a2a"
)

// PushConfigStore defines the persistence contract for push notification
// configurations, keyed by (taskID, configID).
type PushConfigStore interface {
	Save(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) (*a2a.PushNotificationConfig, error)
	Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error)
	List(ctx context.Context, taskID string) ([]*a2a.PushNotificationConfig, error)
	Delete(ctx context.Context, taskID, configID string) error
}

// InMemoryPushConfigStore implements PushConfigStore using nested maps.
type InMemoryPushConfigStore struct {
	mu      sync.RWMutex
	configs map[string]map[string]a2a.PushNotificationConfig // taskID -> configID -> config
}

// NewInMemoryPushConfigStore creates a new InMemoryPushConfigStore.
func NewInMemoryPushConfigStore() *InMemoryPushConfigStore {
	return &InMemoryPushConfigStore{configs: make(map[string]map[string]a2a.PushNotificationConfig)}
}

// Save stores the config under (taskID, config.ID). An empty config ID
// defaults to the task ID.
func (s *InMemoryPushConfigStore) Save(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) (*a2a.PushNotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *config
	if saved.ID == "" {
		saved.ID = taskID
	}
	byID, ok := s.configs[taskID]
	if !ok {
		byID = make(map[string]a2a.PushNotificationConfig)
		s.configs[taskID] = byID
	}
	byID[saved.ID] = saved
	result := saved
	return &result, nil
}

// Get returns the config for (taskID, configID), or nil when absent.
func (s *InMemoryPushConfigStore) Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byID, ok := s.configs[taskID]; ok {
		if config, ok := byID[configID]; ok {
			result := config
			return &result, nil
		}
	}
	return nil, nil
}

// List returns all configs registered for the task.
func (s *InMemoryPushConfigStore) List(ctx context.Context, taskID string) ([]*a2a.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.configs[taskID]
	out := make([]*a2a.PushNotificationConfig, 0, len(byID))
	for _, config := range byID {
		result := config
		out = append(out, &result)
	}
	return out, nil
}

// Delete removes the config for (taskID, configID). Deleting an absent config
// is a no-op.
func (s *InMemoryPushConfigStore) Delete(ctx context.Context, taskID, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID, ok := s.configs[taskID]; ok {
		delete(byID, configID)
		if len(byID) == 0 {
			delete(s.configs, taskID)
		}
	}
	return nil
}
