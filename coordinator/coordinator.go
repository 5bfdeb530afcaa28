package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config defines a public type used by authflux APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	// RefreshThreshold is how long before expiry the leader refreshes.
	RefreshThreshold time.Duration
	// LivenessInterval is how often a follower probes the leader.
	LivenessInterval time.Duration
	// AckTimeout is how long a follower waits for LEADER_ACK before promoting
	// itself.
	AckTimeout time.Duration
}

func (c *Config) normalize() {
	if c.RefreshThreshold == 0 {
		c.RefreshThreshold = 300 * time.Second
	}
	if c.LivenessInterval == 0 {
		c.LivenessInterval = 10 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 500 * time.Millisecond
	}
}

// Refresher performs the actual token exchange against the Token Authority.
// The refresh credential itself (an HTTP-only cookie) is opaque to the
// Coordinator. A successful call returns the new access-token lifetime.
type Refresher interface {
	Refresh(ctx context.Context) (expiresIn time.Duration, err error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context) (time.Duration, error)

func (f RefresherFunc) Refresh(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}

// Coordinator runs the per-tab half of the session lifetime protocol: leader
// election over the shared Bus, proactive refresh scheduling while leader,
// and convergence on broadcast outcomes while follower.
//
// All state is owned by the instance and passed in through New; nothing is
// package-global, so many Coordinators can share one Bus in a single process.
type Coordinator struct {
	id          string
	cfg         Config
	bus         Bus
	refresher   Refresher
	onSignedOut func()

	mu           sync.Mutex
	leader       bool
	signedOut    bool
	stopped      bool
	expiresAt    time.Time
	refreshTimer *time.Timer
	ackTimer     *time.Timer

	unsubscribe func()
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New wires a Coordinator. onSignedOut is invoked at most once, when a
// refresh is rejected locally or a REFRESH_FAILED broadcast arrives; it is
// the redirect-to-login seam and may be nil.
func New(cfg Config, bus Bus, refresher Refresher, onSignedOut func()) (*Coordinator, error) {
	if bus == nil {
		return nil, errors.New("coordinator requires a bus")
	}
	if refresher == nil {
		return nil, errors.New("coordinator requires a refresher")
	}
	cfg.normalize()

	return &Coordinator{
		id:          uuid.NewString(),
		cfg:         cfg,
		bus:         bus,
		refresher:   refresher,
		onSignedOut: onSignedOut,
		stopCh:      make(chan struct{}),
	}, nil
}

// ID returns the tab-unique identifier used to filter the instance's own
// broadcasts and to break election ties.
func (c *Coordinator) ID() string {
	return c.id
}

// IsLeader reports whether this tab currently owns the refresh schedule.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// ExpiresAt returns the locally known session expiry.
func (c *Coordinator) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Start joins the tab set. The Coordinator optimistically assumes leadership,
// announces itself, and steps down the moment an established leader answers.
// expiresAt is the access-token expiry re-derived by the caller on page load.
func (c *Coordinator) Start(expiresAt time.Time) {
	c.mu.Lock()
	c.expiresAt = expiresAt
	c.leader = true
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	c.unsubscribe = c.bus.Subscribe(c.onMessage)
	c.publish(newMessage(TypeLeaderPing, c.id))

	c.wg.Add(1)
	go c.livenessLoop()
}

// Stop tears the tab down: timers cancelled, subscription released. It does
// not revoke anything server-side; a closing tab simply leaves the election.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.leader = false
		c.cancelTimersLocked()
		c.mu.Unlock()

		close(c.stopCh)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.wg.Wait()
	})
}

func (c *Coordinator) publish(msg Message) {
	if err := c.bus.Publish(context.Background(), msg); err != nil {
		log.Print("authflux: coordinator publish failed")
	}
}

func (c *Coordinator) onMessage(msg Message) {
	if msg.SenderID == c.id {
		return
	}

	switch msg.Type {
	case TypeLeaderPing:
		c.mu.Lock()
		isLeader := c.leader && !c.signedOut && !c.stopped
		c.mu.Unlock()
		if isLeader {
			c.publish(newMessage(TypeLeaderAck, c.id))
		}

	case TypeLeaderAck:
		var assert bool
		c.mu.Lock()
		switch {
		case c.signedOut || c.stopped:
		case c.leader:
			// Another live leader exists. The smaller id wins so exactly one
			// tab survives. The survivor answers with its own ack, which is
			// what dethrones an established leader that never saw this tab's
			// ping answered by anyone else.
			if msg.SenderID < c.id {
				c.stepDownLocked()
			} else {
				assert = true
			}
		default:
			c.cancelAckTimerLocked()
		}
		c.mu.Unlock()
		if assert {
			c.publish(newMessage(TypeLeaderAck, c.id))
		}

	case TypeRefreshSuccess:
		c.mu.Lock()
		if !c.signedOut && !c.stopped {
			c.expiresAt = time.Now().Add(time.Duration(msg.ExpiresIn) * time.Second)
			c.cancelAckTimerLocked()
			if c.leader {
				// Someone else refreshed while this tab thought it led;
				// realign the schedule to the broadcast expiry.
				c.scheduleRefreshLocked()
			}
		}
		c.mu.Unlock()

	case TypeRefreshFailed:
		c.signOut()
	}
}

// scheduleRefreshLocked arms the one-shot refresh timer. Callers hold c.mu.
func (c *Coordinator) scheduleRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if !c.leader || c.signedOut || c.stopped {
		return
	}

	refreshIn := time.Until(c.expiresAt) - c.cfg.RefreshThreshold
	if refreshIn <= 0 {
		go c.onRefreshFire()
		return
	}
	c.refreshTimer = time.AfterFunc(refreshIn, c.onRefreshFire)
}

func (c *Coordinator) onRefreshFire() {
	c.mu.Lock()
	if !c.leader || c.signedOut || c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	expiresIn, err := c.refresher.Refresh(context.Background())
	if err != nil {
		// Terminal by definition: a rejected refresh token never becomes
		// valid again, and transient network faults are indistinguishable
		// from rejection at this layer. Fail closed.
		msg := newMessage(TypeRefreshFailed, c.id)
		c.publish(msg)
		c.signOut()
		return
	}

	c.mu.Lock()
	c.expiresAt = time.Now().Add(expiresIn)
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	msg := newMessage(TypeRefreshSuccess, c.id)
	msg.ExpiresIn = int64(expiresIn.Seconds())
	c.publish(msg)
}

func (c *Coordinator) livenessLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.livenessCheck()
		}
	}
}

func (c *Coordinator) livenessCheck() {
	c.mu.Lock()
	if c.leader || c.signedOut || c.stopped || c.ackTimer != nil {
		c.mu.Unlock()
		return
	}
	c.ackTimer = time.AfterFunc(c.cfg.AckTimeout, c.promote)
	c.mu.Unlock()

	c.publish(newMessage(TypeLeaderPing, c.id))
}

// promote fires when no LEADER_ACK arrived within AckTimeout: the leader tab
// is presumed closed and this follower takes over against its locally known
// expiry.
func (c *Coordinator) promote() {
	c.mu.Lock()
	if c.leader || c.signedOut || c.stopped {
		c.mu.Unlock()
		return
	}
	c.ackTimer = nil
	c.leader = true
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	c.publish(newMessage(TypeLeaderPing, c.id))
}

func (c *Coordinator) stepDownLocked() {
	c.leader = false
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Coordinator) cancelAckTimerLocked() {
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
}

func (c *Coordinator) cancelTimersLocked() {
	c.stepDownLocked()
	c.cancelAckTimerLocked()
}

func (c *Coordinator) signOut() {
	c.mu.Lock()
	if c.signedOut || c.stopped {
		c.mu.Unlock()
		return
	}
	c.signedOut = true
	c.cancelTimersLocked()
	callback := c.onSignedOut
	c.mu.Unlock()

	if callback != nil {
		callback()
	}
}
