// Package pubsub is the in-process event bus that fans published payloads out
// to every subscription attached to a topic.
package pubsub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBufferSize is the capacity of a subscription's delivery channel when none is given.
// The queue behind the channel is unbounded.
const DefaultBufferSize = 64

// Bus delivers each published payload to the subscriptions currently attached
// to its topic. Nothing is retained: a payload published with no listener is dropped.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	closed bool
	log    zerolog.Logger
}

// New creates a Bus whose subscriptions hand payloads over through channels of
// capacity bufferSize.
func New(bufferSize int, log zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: bufferSize,
		log:    log,
	}
}

// Publish queues payload on every subscription of topic and reports how many
// accepted it. It never blocks on slow readers.
func (b *Bus) Publish(topic string, payload any) int {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.offer(payload) {
			delivered++
		}
	}
	return delivered
}

// Subscribe attaches a new subscription to topic. It ends when ctx is done,
// when Close is called on it, or when the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) *Subscription {
	sub := newSubscription(b, topic)
	go sub.pump()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.terminate()
		return sub
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	count := len(b.topics[topic])
	b.mu.Unlock()

	b.log.Debug().Str("topic", topic).Int("subscribers", count).Msg("subscribed")

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Subscribers reports how many subscriptions are attached to topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close ends every subscription. Later Subscribe calls return already-ended streams.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	var subs []*Subscription
	for _, set := range b.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Bus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.topics[sub.topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.topics, sub.topic)
	}
}
