// Package events implements the in-process event bus (spec.md §6): the
// shared fan-out point every Resource mutation, catalog healing pass,
// coordination transition, and replicator outcome is published through.
// Grounded on the teacher's IndexHealthMonitor/RedisIndexer callback
// registration style (index_health.go: stopChan-driven loop, registered
// listeners invoked synchronously per report) generalized from "one
// monitor, one callback list" to "many event names, many subscribers".
package events

import "sync"

// Event is one published notification: a name plus an arbitrary payload
// (spec.md §6 lists the full set of names: connected, disconnected,
// resourceCreated, inserted, updated, deleted, metadataHealed,
// orphanedPartitionsRemoved, leader:changed, replicator.queued,
// replicator.success, replicator.failed).
type Event struct {
	Name    string
	Payload map[string]interface{}
}

// Listener receives every event published on the bus it subscribed to.
type Listener func(Event)

// Bus is an in-process publish/subscribe hub. Fan-out to
// subscribers is concurrent (spec.md §5: "fan-out to replicators and the
// event bus is concurrent"); each listener is invoked in its own goroutine
// so a slow subscriber never blocks Emit's caller or other subscribers, but
// a single subscriber's own deliveries remain ordered relative to each
// other because Emit enqueues them onto a per-listener channel.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*subscription
	wildcard  []*subscription
}

type subscription struct {
	ch   chan Event
	stop chan struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]*subscription)}
}

// On subscribes fn to every event named `name`, delivered in publish
// order relative to other events of that same name.
func (b *Bus) On(name string, fn Listener) func() {
	sub := &subscription{ch: make(chan Event, 64), stop: make(chan struct{})}
	go drain(sub, fn)

	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], sub)
	b.mu.Unlock()

	return func() { close(sub.stop) }
}

// OnAny subscribes fn to every event the bus ever emits, regardless of name.
func (b *Bus) OnAny(fn Listener) func() {
	sub := &subscription{ch: make(chan Event, 64), stop: make(chan struct{})}
	go drain(sub, fn)

	b.mu.Lock()
	b.wildcard = append(b.wildcard, sub)
	b.mu.Unlock()

	return func() { close(sub.stop) }
}

func drain(sub *subscription, fn Listener) {
	for {
		select {
		case ev := <-sub.ch:
			fn(ev)
		case <-sub.stop:
			return
		}
	}
}

// Emit publishes an event to every subscriber registered for its name plus
// every wildcard subscriber. Emit never blocks on a slow subscriber: a
// subscriber whose channel is full drops the event rather than stalling
// the caller, matching spec.md §5's "fan-out ... is concurrent" intent
// that a replicator's own backpressure is its queue (internal/replication),
// not the bus.
func (b *Bus) Emit(name string, payload map[string]interface{}) {
	ev := Event{Name: name, Payload: payload}

	b.mu.RLock()
	subs := append([]*subscription(nil), b.listeners[name]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close stops every subscriber's drain goroutine.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.listeners {
		for _, sub := range subs {
			closeOnce(sub)
		}
	}
	for _, sub := range b.wildcard {
		closeOnce(sub)
	}
}

func closeOnce(sub *subscription) {
	select {
	case <-sub.stop:
	default:
		close(sub.stop)
	}
}
