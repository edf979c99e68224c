// Package timeutil lets the control loop and the gateway feed read time
// through an interface, so tests can step the planner tick by tick.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of the planner and the gateway feed.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return wallTicker{time.NewTicker(d)}
}

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// MockClock only moves when Advance is called. Tickers created from it fire
// during Advance at their scheduled instants; as with time.Ticker, a tick
// is dropped when the previous one has not been received yet.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	running []*mockTicker
}

// NewMockClock returns a clock stopped at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d, firing every ticker that comes due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	for _, t := range c.running {
		if c.now.Before(t.next) {
			continue
		}
		select {
		case t.ch <- t.next:
		default:
		}
		// skip the instants a long Advance jumped over
		missed := c.now.Sub(t.next) / t.period
		t.next = t.next.Add((missed + 1) * t.period)
	}
}

// Tickers returns how many tickers are running. Tests use it to wait until
// a loop has started.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTicker{
		clock:  c,
		ch:     make(chan time.Time, 1),
		period: d,
		next:   c.now.Add(d),
	}
	c.running = append(c.running, t)
	return t
}

func (c *MockClock) stop(t *mockTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.running {
		if r == t {
			c.running = append(c.running[:i], c.running[i+1:]...)
			return
		}
	}
}

type mockTicker struct {
	clock  *MockClock
	ch     chan time.Time
	period time.Duration
	next   time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop()               { t.clock.stop(t) }
