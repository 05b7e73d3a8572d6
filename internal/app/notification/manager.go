// Package notification broadcasts connection status changes to tray/UI subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/livechat-overlay/internal/app/connection"
)

// sendTimeout bounds a single subscriber send.
const sendTimeout = 500 * time.Millisecond

// Notification is a status update delivered to subscribers.
type Notification struct {
	SequenceNo uint64
	State      connection.State
	Reason     string
	Label      string
	Tooltip    string
	At         time.Time
}

// FromStatus builds a notification from a connection status.
func FromStatus(s connection.Status) *Notification {
	return &Notification{
		State:   s.State,
		Reason:  s.Reason,
		Label:   s.Label(),
		Tooltip: s.Tooltip(),
		At:      s.Since,
	}
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(*Notification) error

// Send calls f(n).
func (f StreamFunc) Send(n *Notification) error {
	return f(n)
}

// queueSize bounds the notifications waiting for one subscriber.
const queueSize = 16

// subscription represents a subscriber's subscription. Notifications are
// delivered in order by a dedicated goroutine.
type subscription struct {
	id     string
	stream Stream
	queue  chan *Notification
	done   chan struct{}
}

func newSubscription(id string, stream Stream) *subscription {
	sub := &subscription{
		id:     id,
		stream: stream,
		queue:  make(chan *Notification, queueSize),
		done:   make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case n := <-s.queue:
			s.deliver(n)
		}
	}
}

// deliver sends n, giving up after sendTimeout. A stuck send keeps its
// goroutine but no longer holds up the queue.
func (s *subscription) deliver(n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- s.stream.Send(n)
	}()

	select {
	case err := <-result:
		if err != nil {
			zlog.Debug().Msgf("notification: send failed: subscription_id=%s err=%v", s.id, err)
		}
	case <-ctx.Done():
		zlog.Debug().Msgf("notification: send timed out: subscription_id=%s", s.id)
	case <-s.done:
	}
}

// enqueue hands a copy of n to the subscriber without blocking.
func (s *subscription) enqueue(n *Notification) {
	copied := *n
	select {
	case s.queue <- &copied:
	default:
		zlog.Warn().Msgf("notification: queue full, dropping: subscription_id=%s sequence_no=%d", s.id, n.SequenceNo)
	}
}

func (s *subscription) close() {
	close(s.done)
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	last          *Notification
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// The latest notification, if any, is replayed to the new subscriber.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sub := newSubscription(id, stream)
	m.subscriptions[id] = sub
	if m.last != nil {
		sub.enqueue(m.last)
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		sub.close()
		delete(m.subscriptions, subscriptionID)
	}
}

// Broadcast stamps a sequence number and queues the notification for
// every subscriber. It never waits for delivery.
func (m *Manager) Broadcast(notification *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	notification.SequenceNo = m.sequenceNo
	last := *notification
	m.last = &last

	for _, sub := range m.subscriptions {
		sub.enqueue(notification)
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		sub.close()
	}
	m.subscriptions = make(map[string]*subscription)
}
