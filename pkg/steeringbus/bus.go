// Package steeringbus implements SteeringBus's agent-notification fanout
// (spec §4.6): a buffered pub/sub broker agents subscribe to for
// create/delete steering-rule notifications, following the teacher's
// Broker (pkg/events/events.go). The bus's other topic, plugin-requests,
// is a direct call against SteeringPlugin and has no presence here.
package steeringbus

import (
	"strconv"
	"sync"

	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
)

// Kind tags a Notification as a create/update or a delete, per spec §9's
// "Dynamic dispatch over notifications" design note: agents dispatch on
// this tag with a single switch, not reflection-keyed method lookup.
type Kind int

const (
	KindUpdate Kind = iota
	KindDelete
)

// Notification is the fanout payload: the full rule record, including the
// plugin-added overwrite_mac.
type Notification struct {
	Kind Kind
	Rule types.NotifiedRule
}

// Subscriber is a channel an agent reads notifications from.
type Subscriber chan Notification

// Bus is the agent-notification fanout broker.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	notifyCh    chan Notification
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBus creates a Bus. Call Start to begin distributing notifications.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		notifyCh:    make(chan Notification, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus's distribution loop in the background.
func (b *Bus) Start() {
	go b.run()
}

// Stop halts distribution. Subsequent Publish calls are dropped.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new agent subscriber with its own buffered channel.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues a notification for fanout. It blocks while the bus's
// 256-entry queue is full; once the bus has been stopped, the notification
// is dropped.
func (b *Bus) Publish(n Notification) {
	select {
	case b.notifyCh <- n:
	case <-b.stopCh:
	}
}

func (b *Bus) run() {
	for {
		select {
		case n := <-b.notifyCh:
			b.broadcast(n)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	kind := strconv.Itoa(int(n.Kind))
	metrics.SteeringNotificationsTotal.WithLabelValues(kind).Inc()

	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			// Subscriber buffer full: drop rather than block fanout to
			// the rest. A dropped notification is not redelivered, and
			// HandlePort does not re-fetch rules for a port the agent
			// already tracks.
			metrics.SteeringNotificationsDroppedTotal.WithLabelValues(kind).Inc()
		}
	}
}
