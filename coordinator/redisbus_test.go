package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) *RedisBus {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewRedisBus(client, "test:coordinator")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestRedisBusDelivers(t *testing.T) {
	bus := newRedisBus(t)

	var c collector
	unsub := bus.Subscribe(c.handle)
	defer unsub()

	msg := newMessage(TypeRefreshSuccess, "tab-1")
	msg.ExpiresIn = 1800
	if err := bus.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	eventually(t, 2*time.Second, func() bool { return c.count() == 1 }, "message not delivered")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages[0].ExpiresIn != 1800 || c.messages[0].SenderID != "tab-1" {
		t.Fatalf("message = %+v", c.messages[0])
	}
}

func TestRedisBusDropsMalformedPayload(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewRedisBus(client, "test:coordinator")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	var c collector
	unsub := bus.Subscribe(c.handle)
	defer unsub()

	if err := client.Publish(context.Background(), "test:coordinator", "not json").Err(); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	if err := bus.Publish(context.Background(), newMessage(TypeLeaderPing, "tab-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	eventually(t, 2*time.Second, func() bool { return c.count() == 1 }, "valid message not delivered")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages[0].Type != TypeLeaderPing {
		t.Fatalf("message = %+v", c.messages[0])
	}
}

func TestCoordinatorsOverRedisBus(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	newBus := func() *RedisBus {
		bus, err := NewRedisBus(client, "test:coordinator")
		if err != nil {
			t.Fatalf("NewRedisBus: %v", err)
		}
		t.Cleanup(func() { _ = bus.Close() })
		return bus
	}

	first, err := New(testConfig(), newBus(), neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(testConfig(), newBus(), neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	expiry := time.Now().Add(2 * time.Hour)
	first.Start(expiry)
	defer first.Stop()
	second.Start(expiry)
	defer second.Stop()

	eventually(t, 3*time.Second, func() bool {
		return first.IsLeader() != second.IsLeader()
	}, "election over redis did not converge")
}
