package server

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
)

// ErrSubscriberLagged is reported by a subscription whose buffer overflowed.
// Only the lagging subscriber observes it; the producer and other subscribers
// are unaffected.
var ErrSubscriberLagged = errors.New("event subscriber lagged behind and was dropped")

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 256

// EventBus is the per-task publish/subscribe channel. One producer (the agent
// executor) publishes events; any number of subscribers consume them in
// publish order. Finished signals end-of-stream; publishes after Finished are
// ignored.
type EventBus struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	finished    bool
}

// Subscription is one consumer's view of an EventBus.
type Subscription struct {
	bus *EventBus
	ch  chan a2a.Event

	mu     sync.Mutex
	closed bool
	err    error
}

// NewEventBus creates an EventBus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger:      logger,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new consumer. Subscribers only observe events
// published after registration; catching up on earlier state is the caller's
// responsibility (seed from the task store).
func (b *EventBus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, ch: make(chan a2a.Event, subscriberBuffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every current subscriber without blocking.
// A subscriber whose buffer is full is dropped with ErrSubscriberLagged.
func (b *EventBus) Publish(event a2a.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		b.logger.Debug("Publish after Finished ignored", zap.String("kind", event.EventKind()))
		return
	}
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Dropping slow event subscriber", zap.String("kind", event.EventKind()))
			delete(b.subscribers, sub)
			sub.fail(ErrSubscriberLagged)
		}
	}
}

// Finished signals end-of-stream to all subscribers and makes subsequent
// publishes no-ops.
func (b *EventBus) Finished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.finished = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		sub.finish()
	}
}

// detach removes all subscribers without marking the bus finished. Used when
// the bus manager disposes an abandoned bus.
func (b *EventBus) detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		sub.finish()
	}
}

// Events returns the channel of events for this subscription. The channel is
// closed on end-of-stream, unsubscribe, or overflow; check Err afterwards.
func (s *Subscription) Events() <-chan a2a.Event {
	return s.ch
}

// Err reports why the subscription ended. Nil means a clean end-of-stream or
// explicit Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the subscription and closes its channel. Events already
// buffered stay readable from the closed channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	_, registered := s.bus.subscribers[s]
	if registered {
		delete(s.bus.subscribers, s)
	}
	s.bus.mu.Unlock()
	if registered {
		s.finish()
	}
}

func (s *Subscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.err = err
		close(s.ch)
	}
}
