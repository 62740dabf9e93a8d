package server

import (
	"sync"

	"go.uber.org/zap"
)

// EventBusManager is the per-server registry of live event buses, one per
// task execution attempt. Access is serialized so a subscribe racing a
// cleanup either sees the active bus or none at all.
type EventBusManager struct {
	logger *zap.Logger

	mu    sync.Mutex
	buses map[string]*EventBus
}

// NewEventBusManager creates an EventBusManager.
func NewEventBusManager(logger *zap.Logger) *EventBusManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBusManager{
		logger: logger.Named("bus-manager"),
		buses:  make(map[string]*EventBus),
	}
}

// GetOrCreate returns the bus for the task, creating one if absent.
func (m *EventBusManager) GetOrCreate(taskID string) *EventBus {
	m.mu.Lock()
	defer m.mu.Unlock()
	bus, ok := m.buses[taskID]
	if !ok {
		bus = NewEventBus(m.logger.With(zap.String("taskID", taskID)))
		m.buses[taskID] = bus
		m.logger.Debug("Created event bus", zap.String("taskID", taskID))
	}
	return bus
}

// Get returns the live bus for the task, if any.
func (m *EventBusManager) Get(taskID string) (*EventBus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bus, ok := m.buses[taskID]
	return bus, ok
}

// Cleanup detaches all subscribers of the task's bus and removes the entry.
func (m *EventBusManager) Cleanup(taskID string) {
	m.mu.Lock()
	bus, ok := m.buses[taskID]
	if ok {
		delete(m.buses, taskID)
	}
	m.mu.Unlock()
	if ok {
		bus.detach()
		m.logger.Debug("Cleaned up event bus", zap.String("taskID", taskID))
	}
}
