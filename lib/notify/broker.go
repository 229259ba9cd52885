/*
 * RapidPhotoFlow
 * Copyright (C) 2025  RapidPhotoFlow contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package notify is the in-process publish/subscribe fabric that fans photo
// status transitions out to live subscribers. Delivery is best-effort with a
// bounded per-subscriber queue; a slow subscriber loses its oldest entries,
// never its liveness. Missed transitions are recoverable via polling.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rapidphotoflow/photoflow/lib/defaults"
	"github.com/rapidphotoflow/photoflow/lib/photo"
)

// Notification is the message published on every status transition.
type Notification struct {
	PhotoID   string       `json:"photoId"`
	Status    photo.Status `json:"status"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Subscriber receives notifications for the topics it has joined. It must be
// drained by exactly one goroutine reading from C().
type Subscriber struct {
	ch     chan Notification
	mu     sync.Mutex
	closed bool
}

// C is the subscriber's delivery channel; it is closed when the subscriber
// is removed from the broker.
func (s *Subscriber) C() <-chan Notification {
	return s.ch
}

// offer enqueues without ever blocking: on a full queue the oldest entry is
// dropped so the subscriber stays current.
func (s *Subscriber) offer(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- n:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker routes notifications from publishers to topic subscribers.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	logger *slog.Logger
}

// NewBroker returns an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		topics: make(map[string]map[*Subscriber]struct{}),
		logger: logger.With("component", "notify"),
	}
}

// Subscribe registers a new subscriber on the given topics.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	s := &Subscriber{ch: make(chan Notification, defaults.SubscriberQueueSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		b.joinLocked(s, topic)
	}
	return s
}

// Join adds the subscriber to one more topic. Joining twice is a no-op.
func (b *Broker) Join(s *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joinLocked(s, topic)
}

func (b *Broker) joinLocked(s *Subscriber, topic string) {
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
}

// Leave removes the subscriber from one topic, keeping the others.
func (b *Broker) Leave(s *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(s, topic)
}

func (b *Broker) leaveLocked(s *Subscriber, topic string) {
	if subs, ok := b.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Unsubscribe removes the subscriber from every topic and closes its
// channel. Safe to call more than once.
func (b *Broker) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	for topic := range b.topics {
		b.leaveLocked(s, topic)
	}
	b.mu.Unlock()
	s.close()
}

// Publish delivers the notification to every subscriber of the topic. The
// registry lock is released before any per-subscriber send so a publisher is
// never blocked behind subscription churn.
func (b *Broker) Publish(topic string, n Notification) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.topics[topic]))
	for s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.offer(n)
	}
}

// StatusNotifier publishes lifecycle transitions on the broadcast topic and
// the transitioned photo's own topic.
type StatusNotifier struct {
	broker *Broker
	clock  clockwork.Clock
}

// NewStatusNotifier wires a notifier to the broker.
func NewStatusNotifier(broker *Broker, clock clockwork.Clock) *StatusNotifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatusNotifier{broker: broker, clock: clock}
}

// PhotoTopic names the per-photo topic.
func PhotoTopic(photoID string) string {
	return defaults.BroadcastTopicPrefix + photoID
}

// NotifyStatus publishes one transition to both channel shapes.
func (n *StatusNotifier) NotifyStatus(photoID string, status photo.Status, message string) {
	notification := Notification{
		PhotoID:   photoID,
		Status:    status,
		Message:   message,
		Timestamp: n.clock.Now().UTC(),
	}
	n.broker.Publish(defaults.BroadcastTopic, notification)
	n.broker.Publish(PhotoTopic(photoID), notification)
}
