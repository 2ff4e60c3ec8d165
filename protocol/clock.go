package protocol

import (
	"sync"
	"time"
)

// Clock abstracts time so polling loops can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type clockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// ManualClock only moves when told to.
//
// With AutoAdvance set, every After call moves the clock forward by the
// requested duration and fires immediately, which lets a polling loop run to
// its timeout without real sleeps.
type ManualClock struct {
	AutoAdvance bool

	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []clockWaiter
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	c := &ManualClock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// NewAutoClock creates a ManualClock with AutoAdvance enabled.
func NewAutoClock(start time.Time) *ManualClock {
	c := NewManualClock(start)
	c.AutoAdvance = true
	return c
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if c.AutoAdvance {
		c.now = c.now.Add(d)
		c.fireLocked()
		ch <- c.now
		return ch
	}

	if d <= 0 {
		ch <- c.now
		return ch
	}

	c.waiters = append(c.waiters, clockWaiter{deadline: c.now.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

// Advance moves the clock forward and fires every waiter whose deadline passed.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.fireLocked()
}

// BlockUntil waits until at least n goroutines are blocked in After.
func (c *ManualClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

func (c *ManualClock) fireLocked() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}
