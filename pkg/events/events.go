package events

import (
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventManagerStateChanged EventType = "manager.state_changed"
	EventFunctionCreated     EventType = "function.created"
	EventFunctionDeleted     EventType = "function.deleted"
	EventTraceCompiled       EventType = "trace.compiled"
	EventTraceReset          EventType = "trace.reset"
	EventDispatcherPatched   EventType = "dispatcher.patched"
)

// Event represents a control-plane event
type Event struct {
	ID           string
	Type         EventType
	Timestamp    time.Time
	Message      string
	FunctionName string
	Metadata     map[string]string
}

// ManagerEvent is a single function manager's state transition
// (spec.md §4.3), the payload behind every EventManagerStateChanged
// Event this broker carries.
type ManagerEvent struct {
	FunctionName string
	From         string
	To           string
	At           time.Time
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishManagerTransition publishes a ManagerEvent as an
// EventManagerStateChanged Event, the one entry point pkg/manager uses
// on every state transition.
func (b *Broker) PublishManagerTransition(ev ManagerEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.Publish(&Event{
		Type:         EventManagerStateChanged,
		Timestamp:    ev.At,
		FunctionName: ev.FunctionName,
		Message:      fmt.Sprintf("%s: %s -> %s", ev.FunctionName, ev.From, ev.To),
		Metadata:     map[string]string{"from": ev.From, "to": ev.To},
	})
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
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
