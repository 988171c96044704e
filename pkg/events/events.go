// Package events implements the plugin event bus the start and delete
// pipelines publish to at their designated hook points (spec.md §4.2
// step 16 "pre-start", §4.5 step 2 "post-remove"), adapted from the
// teacher's cluster-wide pub/sub broker down to container-lifecycle
// event types.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a point in a container's lifecycle a plugin can
// observe.
type EventType string

const (
	EventPreStart    EventType = "container.pre-start"
	EventStarted     EventType = "container.started"
	EventPreStop     EventType = "container.pre-stop"
	EventStopped     EventType = "container.stopped"
	EventExited      EventType = "container.exited"
	EventPostRemove  EventType = "container.post-remove"
	EventPreRemove   EventType = "container.pre-remove"
	EventExecStarted EventType = "container.exec-started"
)

// Event is one lifecycle occurrence published to the broker.
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	ContainerID string
	Message     string
	Metadata    map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes lifecycle events to subscribed plugins without
// blocking the pipeline step that published them.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. ID and Timestamp are
// filled in when absent so pipeline callers don't have to.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
