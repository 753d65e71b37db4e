package core

import (
	"context"
	"sync"
)

// Event carries the new readable value of one attribute.
type Event struct {
	Attribute Attribute
	Value     []byte
}

// Sink receives events synchronously from Publish. Sinks are the
// control-surface echo paths that must be updated before a write returns.
type Sink interface {
	Notify(attr Attribute, value []byte)
}

// Subscriber is a latest-value-wins mailbox. Events for the same attribute
// that arrive before the consumer drains them replace each other.
type Subscriber struct {
	mu      sync.Mutex
	pending map[Attribute][]byte
	order   []Attribute
	ready   chan struct{}
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		pending: make(map[Attribute][]byte),
		ready:   make(chan struct{}, 1),
	}
}

func (s *Subscriber) put(ev Event) {
	s.mu.Lock()
	if _, ok := s.pending[ev.Attribute]; !ok {
		s.order = append(s.order, ev.Attribute)
	}
	s.pending[ev.Attribute] = ev.Value
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until at least one event is pending and returns all pending
// events in first-arrival order.
func (s *Subscriber) Next(ctx context.Context) ([]Event, error) {
	for {
		if evs := s.drain(); len(evs) > 0 {
			return evs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

func (s *Subscriber) drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	evs := make([]Event, 0, len(s.order))
	for _, a := range s.order {
		evs = append(evs, Event{Attribute: a, Value: s.pending[a]})
		delete(s.pending, a)
	}
	s.order = s.order[:0]
	return evs
}

// EventBus fans attribute updates out to sinks and subscribers and keeps
// the latest value of every attribute for reads.
type EventBus struct {
	mu          sync.RWMutex
	values      map[Attribute][]byte
	sinks       []Sink
	subscribers []*Subscriber
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		values: make(map[Attribute][]byte),
	}
}

// AddSink registers a synchronous sink.
func (eb *EventBus) AddSink(s Sink) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.sinks = append(eb.sinks, s)
}

// Subscribe returns a new mailbox receiving every subsequent event.
func (eb *EventBus) Subscribe() *Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := newSubscriber()
	eb.subscribers = append(eb.subscribers, sub)
	return sub
}

// Unsubscribe removes a subscriber.
func (eb *EventBus) Unsubscribe(sub *Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, s := range eb.subscribers {
		if s == sub {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish records ev as the readable value of its attribute, notifies the
// sinks in registration order and posts to every subscriber without blocking.
func (eb *EventBus) Publish(ev Event) {
	value := append([]byte(nil), ev.Value...)
	ev.Value = value

	eb.mu.Lock()
	eb.values[ev.Attribute] = value
	sinks := append([]Sink(nil), eb.sinks...)
	subs := append([]*Subscriber(nil), eb.subscribers...)
	eb.mu.Unlock()

	for _, s := range sinks {
		s.Notify(ev.Attribute, value)
	}
	for _, sub := range subs {
		sub.put(ev)
	}
}

// PublishValues publishes the listed attributes from a state snapshot.
func (eb *EventBus) PublishValues(v Values, attrs ...Attribute) {
	for _, a := range attrs {
		eb.Publish(Event{Attribute: a, Value: v.Encode(a)})
	}
}

// Value returns the last published value of attr.
func (eb *EventBus) Value(attr Attribute) ([]byte, bool) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	v, ok := eb.values[attr]
	return v, ok
}
