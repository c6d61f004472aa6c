// Package changes fans out collection write events to subscribers.
package changes

import (
	"context"
	"sync"
	"time"
)

// Operation names a write that changed a collection.
type Operation string

const (
	OperationCreate   Operation = "create"
	OperationReplace  Operation = "replace"
	OperationPatch    Operation = "patch"
	OperationDelete   Operation = "delete"
	OperationRegister Operation = "register"
	OperationReset    Operation = "reset"
)

// EventHeartbeat is the SSE event name used for keep-alives.
const EventHeartbeat = "heartbeat"

// allCollections is the subscription key for subscribers without a filter.
const allCollections = ""

const defaultBufferSize = 16

// Event describes one committed write.
type Event struct {
	Collection string    `json:"collection"`
	Operation  Operation `json:"operation"`
	ID         int64     `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher accepts events. Feed satisfies it; nil publishers are allowed by
// callers that do not need a feed.
type Publisher interface {
	Publish(event Event)
}

// Feed delivers events to subscribers filtered by collection. Slow subscribers
// drop events instead of blocking publishers.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	watchers    sync.WaitGroup
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

// Subscribe registers for events on collection, or on every collection when
// collection is empty. The subscription ends when ctx is done or cancel is called.
func (f *Feed) Subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	entry := &subscriber{
		id:     f.nextSequence(),
		stream: make(chan Event, f.bufferSize),
	}
	f.register(collection, entry)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.unregister(collection, entry.id)
			close(entry.stream)
			close(done)
		})
	}
	f.watchers.Add(1)
	go func() {
		defer f.watchers.Done()
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return entry.stream, cancel
}

// Publish delivers event to matching subscribers without blocking.
func (f *Feed) Publish(event Event) {
	if event.Collection == "" || event.Operation == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, key := range []string{event.Collection, allCollections} {
		for _, entry := range f.subscribers[key] {
			select {
			case entry.stream <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	count := 0
	for _, group := range f.subscribers {
		count += len(group)
	}
	return count
}

func (f *Feed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *Feed) register(collection string, entry *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[collection]; !ok {
		f.subscribers[collection] = make(map[int64]*subscriber)
	}
	f.subscribers[collection][entry.id] = entry
}

func (f *Feed) unregister(collection string, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group := f.subscribers[collection]
	if group == nil {
		return
	}
	delete(group, id)
	if len(group) == 0 {
		delete(f.subscribers, collection)
	}
}
