package pubsub

import "sync"

// Subscription is a lazy, non-restartable stream of payloads for one topic.
//
// Published payloads go to an unbounded FIFO that a pump goroutine drains into
// C, so a slow reader never blocks the publisher and never loses a payload.
type Subscription struct {
	bus   *Bus
	topic string

	ch   chan any
	wake chan struct{}
	done chan struct{}

	mu    sync.Mutex
	queue []any
	ended bool
	once  sync.Once
}

func newSubscription(b *Bus, topic string) *Subscription {
	return &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan any, b.buffer),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// C yields payloads in publication order. It is closed when the subscription ends.
func (s *Subscription) C() <-chan any {
	return s.ch
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Topic is the topic this subscription listens on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Pending reports how many payloads are queued but not yet handed to C.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from the bus. Safe to call more than once.
// Payloads still queued are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.detach(s)
		s.terminate()
	})
}

// offer enqueues payload without blocking. It fails only once the subscription has ended.
func (s *Subscription) offer(payload any) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// pump moves queued payloads into ch and closes ch when the subscription ends.
func (s *Subscription) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, payload := range batch {
			select {
			case s.ch <- payload:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	s.queue = nil
	close(s.done)
}
