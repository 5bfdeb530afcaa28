package coordinator

import (
	"context"
	"sync"
)

// Bus is the broadcast channel shared by all tabs of one origin. It is the
// only synchronization primitive between Coordinators; there is no shared
// memory.
//
// Publish delivers the message to every subscriber, including ones belonging
// to the publishing Coordinator — receivers filter their own SenderID.
// Delivery is asynchronous and ordered per subscriber.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers a handler and returns an unsubscribe function.
	// Handlers are invoked from a dedicated goroutine per subscription.
	Subscribe(handler func(Message)) (unsubscribe func())
}

// MemoryBus is an in-process Bus. Each subscription drains its own buffered
// queue so a slow handler never blocks the publisher or other subscribers.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]*memorySub
	nextID int
	closed bool
}

type memorySub struct {
	ch   chan Message
	done chan struct{}
}

const memoryBusBuffer = 64

// NewMemoryBus returns an empty bus ready for subscriptions.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[int]*memorySub),
	}
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	targets := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(handler func(Message)) func() {
	sub := &memorySub{
		ch:   make(chan Message, memoryBusBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case msg := <-sub.ch:
				handler(msg)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}
