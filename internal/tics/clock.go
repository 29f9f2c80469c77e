package tics

import (
	"sync"
	"time"
)

// Clock reports the current tic of the real-time clock.
type Clock interface {
	Now() Tic
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() Tic

func (f ClockFunc) Now() Tic {
	return f()
}

// WallClock derives tics from elapsed wall time.
type WallClock struct {
	start time.Time
	now   func() time.Time
}

// NewWallClock starts counting tics at the current instant of now.
func NewWallClock(now func() time.Time) *WallClock {
	if now == nil {
		now = time.Now
	}
	return &WallClock{start: now(), now: now}
}

func (c *WallClock) Now() Tic {
	elapsed := c.now().Sub(c.start)
	if elapsed < 0 {
		return 0
	}
	return Tic(elapsed * Rate / time.Second)
}

// ManualClock is advanced explicitly; used by tests and replays.
type ManualClock struct {
	mu  sync.Mutex
	tic Tic
}

func (c *ManualClock) Now() Tic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tic
}

// Advance moves the clock forward by n tics.
func (c *ManualClock) Advance(n Tic) {
	c.mu.Lock()
	c.tic += n
	c.mu.Unlock()
}

// Set pins the clock to t.
func (c *ManualClock) Set(t Tic) {
	c.mu.Lock()
	c.tic = t
	c.mu.Unlock()
}
