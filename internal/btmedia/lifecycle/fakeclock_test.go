package lifecycle

import (
	"sync"
	"time"
)

// fakeClock drives the T1/T2 timers deterministically: Sleep registers a
// waiter keyed on a virtual deadline instead of blocking on a real timer,
// and Advance fires every waiter whose deadline has passed.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*clockWaiter
}

type clockWaiter struct {
	deadline time.Time
	wake     chan struct{}
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-cancel:
			return true
		default:
			return false
		}
	}

	c.mu.Lock()
	w := &clockWaiter{deadline: c.now.Add(d), wake: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case <-w.wake:
		return false
	case <-cancel:
		return true
	}
}

// Advance moves the virtual clock forward by d and wakes every waiter
// whose deadline is now due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	remaining := c.waiters[:0:0]
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			close(w.wake)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
}

var _ Clock = (*fakeClock)(nil)
