package events

import (
	"sync"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/metrics"
)

// EventType represents the type of event
type EventType string

const (
	EventNodeJoined        EventType = "node.joined"
	EventNodeLeft          EventType = "node.left"
	EventFlagEnabled       EventType = "flag.enabled"
	EventFlagEnableFailed  EventType = "flag.enable_failed"
	EventRegistryRebuilt   EventType = "registry.rebuilt"
	EventQueueRegistered   EventType = "queue.registered"
	EventQueueDeregistered EventType = "queue.deregistered"
	EventPushBack          EventType = "queue.push_back"
)

// brokerBufferSize and subscriberBufferSize are sized for this node's own
// event model: eight event types spanning membership, flag enablement, and
// queue push-back, emitted by at most a handful of producers (the
// coordinator, the controller, the membership listener) per node. That is a
// much smaller working set than an orchestrator tracking services, tasks,
// secrets, and volumes across a whole cluster, so the buffers are sized down
// accordingly rather than carried over unchanged.
const (
	brokerBufferSize     = 32
	subscriberBufferSize = 16
)

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
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
		eventCh:     make(chan *Event, brokerBufferSize),
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

	sub := make(Subscriber, subscriberBufferSize)
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

// Publish publishes an event to all subscribers. Publish never blocks the
// caller: enable() and the controller's tick loop publish inline on their
// own hot paths, and a broker that is backed up should not be able to stall
// flag enablement or memory-pressure feedback. A full broker buffer drops
// the event and counts it, the same way a full subscriber buffer already
// does in broadcast.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
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

// broadcast fans an event out to every subscriber without blocking on any
// one of them. A subscriber that isn't draining its channel fast enough
// loses the event rather than stalling the rest of the cluster's
// subscribers; EventsDroppedTotal makes that loss observable instead of the
// silent skip this used to be.
func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
