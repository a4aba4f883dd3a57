// Package events implements the EventPublisher port named in §6: a
// fire-and-forget domain-event emitter independent of the per-execution
// subscriptions owned by pkg/listener. Adapted from the teacher's
// pkg/events.Broker, trimmed to the publish-only shape this port needs.
package events

import (
	"sync"
	"time"
)

// Kind enumerates the domain events the core emits.
type Kind string

const (
	JobQueuedEvent     Kind = "job.queued"
	JobScheduledEvent  Kind = "job.scheduled"
	JobRunningEvent    Kind = "job.running"
	JobCompletedEvent  Kind = "job.completed"
	JobFailedEvent     Kind = "job.failed"
	JobCancelledEvent  Kind = "job.cancelled"
	PoolScaledEvent    Kind = "pool.scaled"
	QuotaViolatedEvent Kind = "quota.violated"
	WorkerJoinedEvent  Kind = "worker.joined"
	WorkerLostEvent    Kind = "worker.lost"
)

// Event is one fire-and-forget domain event.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Publisher is the EventPublisher port consumed by the core (§6).
type Publisher interface {
	Publish(e Event)
}

// Broker is the default in-process Publisher: a buffered channel fan-out
// to any number of subscribers, matching the teacher's
// pkg/events.Broker shape.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]bool
	eventCh     chan Event
	stopCh      chan struct{}
}

// NewBroker creates a stopped Broker; call Start to begin delivering.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Event]bool),
		eventCh:     make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's delivery loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts delivery and closes every subscriber channel.
func (b *Broker) Stop() {
	close(b.stopCh)
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[chan Event]bool)
}

// Subscribe returns a channel that receives every event published after
// this call.
func (b *Broker) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 64)
	b.subscribers[ch] = true
	return ch
}

// Publish implements Publisher: fire-and-forget, never blocks the
// caller past the internal buffer.
func (b *Broker) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- e:
	case <-b.stopCh:
	default:
		// Internal buffer full: drop rather than block the caller,
		// consistent with fire-and-forget semantics.
	}
}

func (b *Broker) run() {
	for {
		select {
		case e := <-b.eventCh:
			b.broadcast(e)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- e:
		default:
			// Slow subscriber: drop rather than block other subscribers.
		}
	}
}
