package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testConfig() Config {
	return Config{
		RefreshThreshold: time.Hour,
		LivenessInterval: 20 * time.Millisecond,
		AckTimeout:       60 * time.Millisecond,
	}
}

func neverRefresh(t *testing.T) Refresher {
	return RefresherFunc(func(context.Context) (time.Duration, error) {
		t.Error("unexpected refresh call")
		return 0, errors.New("unexpected")
	})
}

func TestStartAssumesLeadership(t *testing.T) {
	bus := NewMemoryBus()
	c, err := New(testConfig(), bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Start(time.Now().Add(2 * time.Hour))
	defer c.Stop()

	if !c.IsLeader() {
		t.Fatal("lone tab should lead immediately")
	}
}

func TestElectionConverges(t *testing.T) {
	bus := NewMemoryBus()

	const n = 4
	tabs := make([]*Coordinator, n)
	for i := range tabs {
		c, err := New(testConfig(), bus, neverRefresh(t), nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		tabs[i] = c
	}

	expiry := time.Now().Add(2 * time.Hour)
	for _, c := range tabs {
		c.Start(expiry)
	}
	defer func() {
		for _, c := range tabs {
			c.Stop()
		}
	}()

	leaders := func() int {
		count := 0
		for _, c := range tabs {
			if c.IsLeader() {
				count++
			}
		}
		return count
	}

	eventually(t, 2*time.Second, func() bool { return leaders() == 1 }, "election did not converge to one leader")

	// The outcome is deterministic: the smallest id survives.
	smallest := tabs[0]
	for _, c := range tabs[1:] {
		if c.ID() < smallest.ID() {
			smallest = c
		}
	}
	time.Sleep(100 * time.Millisecond)
	if leaders() != 1 || !smallest.IsLeader() {
		t.Fatalf("leaders = %d, smallest leading = %v", leaders(), smallest.IsLeader())
	}
}

func TestJoinerDefersToEstablishedLeader(t *testing.T) {
	bus := NewMemoryBus()

	first, err := New(testConfig(), bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first.Start(time.Now().Add(2 * time.Hour))
	defer first.Stop()

	second, err := New(testConfig(), bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second.Start(time.Now().Add(2 * time.Hour))
	defer second.Stop()

	eventually(t, 2*time.Second, func() bool {
		return first.IsLeader() != second.IsLeader()
	}, "two tabs settled on anything but one leader")
}

func TestFollowerSyncsOnRefreshSuccess(t *testing.T) {
	bus := NewMemoryBus()
	cfg := Config{
		RefreshThreshold: time.Minute,
		LivenessInterval: time.Hour,
		AckTimeout:       time.Hour,
	}
	c, err := New(cfg, bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start(time.Now().Add(2 * time.Hour))
	defer c.Stop()

	// "0" sorts below any uuid, so the ack demotes the tab.
	if err := bus.Publish(context.Background(), Message{Type: TypeLeaderAck, SenderID: "0"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	eventually(t, time.Second, func() bool { return !c.IsLeader() }, "tab did not step down")

	msg := Message{Type: TypeRefreshSuccess, SenderID: "0", ExpiresIn: 3600}
	if err := bus.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	eventually(t, time.Second, func() bool {
		until := time.Until(c.ExpiresAt())
		return until > 59*time.Minute && until <= time.Hour
	}, "follower did not adopt the broadcast expiry")
}

func TestLeaderFailover(t *testing.T) {
	bus := NewMemoryBus()

	first, err := New(testConfig(), bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first.Start(time.Now().Add(2 * time.Hour))

	second, err := New(testConfig(), bus, neverRefresh(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second.Start(time.Now().Add(2 * time.Hour))
	defer second.Stop()

	eventually(t, 2*time.Second, func() bool {
		return first.IsLeader() != second.IsLeader()
	}, "no initial convergence")

	leader, follower := first, second
	if second.IsLeader() {
		leader, follower = second, first
	}

	leader.Stop()

	eventually(t, 2*time.Second, follower.IsLeader, "follower did not take over after the leader left")
}

func TestLeaderRefreshesAndBroadcasts(t *testing.T) {
	bus := NewMemoryBus()

	var calls atomic.Int64
	refresher := RefresherFunc(func(context.Context) (time.Duration, error) {
		calls.Add(1)
		return time.Hour, nil
	})

	cfg := Config{
		RefreshThreshold: 80 * time.Millisecond,
		LivenessInterval: time.Hour,
		AckTimeout:       time.Hour,
	}
	c, err := New(cfg, bus, refresher, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var mu sync.Mutex
	var seen []Message
	unsubscribe := bus.Subscribe(func(m Message) {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
	})
	defer unsubscribe()

	c.Start(time.Now().Add(120 * time.Millisecond))
	defer c.Stop()

	eventually(t, 2*time.Second, func() bool { return calls.Load() == 1 }, "refresh did not fire")

	eventually(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range seen {
			if m.Type == TypeRefreshSuccess && m.ExpiresIn == 3600 {
				return true
			}
		}
		return false
	}, "no REFRESH_SUCCESS broadcast")

	if until := time.Until(c.ExpiresAt()); until < 59*time.Minute {
		t.Fatalf("expiry not advanced: %v", until)
	}
}

func TestRefreshFiresImmediatelyWhenInsideThreshold(t *testing.T) {
	bus := NewMemoryBus()

	var calls atomic.Int64
	refresher := RefresherFunc(func(context.Context) (time.Duration, error) {
		calls.Add(1)
		return time.Hour, nil
	})

	cfg := Config{
		RefreshThreshold: 50 * time.Millisecond,
		LivenessInterval: time.Hour,
		AckTimeout:       time.Hour,
	}
	c, err := New(cfg, bus, refresher, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Already past the refresh point on load.
	c.Start(time.Now())
	defer c.Stop()

	eventually(t, time.Second, func() bool { return calls.Load() == 1 }, "overdue refresh did not fire immediately")
}

func TestRefreshFailureSignsOutEveryTab(t *testing.T) {
	bus := NewMemoryBus()

	var leaderOut, followerOut atomic.Bool

	cfg := Config{
		RefreshThreshold: 50 * time.Millisecond,
		LivenessInterval: time.Hour,
		AckTimeout:       time.Hour,
	}
	leader, err := New(cfg, bus, RefresherFunc(func(context.Context) (time.Duration, error) {
		return 0, ErrRefreshRejected
	}), func() { leaderOut.Store(true) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	followerCfg := Config{
		RefreshThreshold: time.Hour,
		LivenessInterval: time.Hour,
		AckTimeout:       time.Hour,
	}
	follower, err := New(followerCfg, bus, neverRefresh(t), func() { followerOut.Store(true) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	follower.Start(time.Now().Add(2 * time.Hour))
	defer follower.Stop()

	// Demote the second tab before the failing leader starts.
	if err := bus.Publish(context.Background(), Message{Type: TypeLeaderAck, SenderID: "0"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	eventually(t, time.Second, func() bool { return !follower.IsLeader() }, "tab did not step down")

	leader.Start(time.Now().Add(60 * time.Millisecond))
	defer leader.Stop()

	eventually(t, 2*time.Second, leaderOut.Load, "leader did not sign out on rejected refresh")
	eventually(t, 2*time.Second, followerOut.Load, "follower did not sign out on REFRESH_FAILED")

	if leader.IsLeader() {
		t.Fatal("signed-out tab still claims leadership")
	}
}
