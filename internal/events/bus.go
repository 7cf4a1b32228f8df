// Package events provides the in-process event bus and the mastery progress
// ledger. Everything published here is fire-and-forget: the engine never
// blocks on a subscriber and never learns whether delivery succeeded.
package events

import (
	"sync"
	"time"
)

type EventType string

const (
	// EventMasteryProgress is published when finished work grants progress
	// toward a linked mastery: data carries linked_id, label, amount.
	EventMasteryProgress EventType = "mastery_progress"
	// EventMissionCompleted is published when a mission reaches completion.
	EventMissionCompleted EventType = "mission_completed"
	// EventMissionsReset is published after a refresh tick resets a batch.
	EventMissionsReset EventType = "missions_reset"
	// EventLockSignal is published every refresh tick with the lock state.
	EventLockSignal EventType = "lock_signal"
	// EventRepairApplied is published when the watchdog repairs a violation.
	EventRepairApplied EventType = "repair_applied"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

type Subscriber func(Event)

// Bus fans events out to subscribers without ever blocking the publisher.
// Each subscriber drains its own buffered channel on a dedicated goroutine;
// when the buffer is full the event is dropped for that subscriber.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType]map[int]chan Event
	buffer int
	closed bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subs:   make(map[EventType]map[int]chan Event),
		buffer: bufferSize,
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function. A panic inside fn is swallowed so one bad subscriber cannot stop
// delivery to the rest.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]chan Event)
	}
	b.subs[eventType][id] = ch

	go func() {
		for ev := range ch {
			deliver(fn, ev)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[eventType][id]; ok {
			delete(b.subs[eventType], id)
			close(c)
		}
	}
}

func deliver(fn Subscriber, ev Event) {
	defer func() { _ = recover() }()
	fn(ev)
}

// Publish stamps and fans out one event. Sends hold the read lock; Close and
// unsubscribe take the write lock, so a send can never hit a closed channel.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[eventType] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close drops every subscription and stops the drain goroutines. Publish and
// Subscribe after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, group := range b.subs {
		for _, ch := range group {
			close(ch)
		}
	}
	b.subs = make(map[EventType]map[int]chan Event)
}

// MasteryPayload builds the event data for a mastery progress grant.
func MasteryPayload(missionID, linkedID, label string, amount float64) map[string]interface{} {
	return map[string]interface{}{
		"mission_id": missionID,
		"linked_id":  linkedID,
		"label":      label,
		"amount":     amount,
	}
}
