// Package eventbus fans task lifecycle events out to in-process listeners.
//
// Publish never blocks; a subscriber whose buffer is full misses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Topic string

const (
	TaskCreated   Topic = "task.created"
	TaskClaimed   Topic = "task.claimed"
	TaskSubmitted Topic = "task.submitted"
	TaskApproved  Topic = "task.approved"
	TaskRejected  Topic = "task.rejected"
	TaskRequeued  Topic = "task.requeued"
	TaskReleased  Topic = "task.released"
	RoutingChange Topic = "routing.changed"
)

type Event struct {
	Topic  Topic
	Time   time.Time
	TaskID int64
	Actor  int64
	Data   any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
