package coordinator

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries coordination messages over a Redis pub/sub channel,
// letting Coordinators in separate processes share one election.
type RedisBus struct {
	client  redis.UniversalClient
	channel string

	mu     sync.Mutex
	subs   map[int]func(Message)
	nextID int
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus subscribes to the named channel and starts dispatching. Close
// must be called to release the subscription.
func NewRedisBus(client redis.UniversalClient, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = "authflux:coordinator"
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(ctx, channel)
	// Force the SUBSCRIBE round-trip so Publish after NewRedisBus is visible.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		subs:    make(map[int]func(Message)),
		pubsub:  pubsub,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.run(pubsub.Channel())

	return b, nil
}

func (b *RedisBus) run(ch <-chan *redis.Message) {
	defer b.wg.Done()

	for raw := range ch {
		msg, err := DecodeMessage([]byte(raw.Payload))
		if err != nil {
			log.Print("authflux: dropping malformed coordinator message")
			continue
		}

		b.mu.Lock()
		handlers := make([]func(Message), 0, len(b.subs))
		for _, h := range b.subs {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(msg)
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(handler func(Message)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Close tears down the subscription and waits for the dispatch goroutine.
func (b *RedisBus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
