package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}

	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v is before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() returned a negative duration")
	}

	ticker := c.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClockAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), epoch)
	}

	c.Advance(250 * time.Millisecond)
	if got := c.Since(epoch); got != 250*time.Millisecond {
		t.Errorf("Since() = %v, want 250ms", got)
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(100 * time.Millisecond)
	if c.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", c.Tickers())
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := epoch.Add(100 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick at %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerDropsForSlowReceiver(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(10 * time.Millisecond)

	for range 5 {
		c.Advance(10 * time.Millisecond)
	}

	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected buffered ticks to be dropped")
	default:
	}
}

func TestMockTickerLongAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(100 * time.Millisecond)

	c.Advance(350 * time.Millisecond)
	if got, want := <-ticker.C(), epoch.Add(100*time.Millisecond); !got.Equal(want) {
		t.Errorf("first tick at %v, want %v", got, want)
	}

	// next instant after 350ms is 400ms
	c.Advance(40 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before 400ms")
	default:
	}
	c.Advance(10 * time.Millisecond)
	if got, want := <-ticker.C(), epoch.Add(400*time.Millisecond); !got.Equal(want) {
		t.Errorf("second tick at %v, want %v", got, want)
	}
}

func TestMockClockTickersCountsRunning(t *testing.T) {
	c := NewMockClock(epoch)
	a := c.NewTicker(time.Second)
	b := c.NewTicker(time.Second)
	if c.Tickers() != 2 {
		t.Fatalf("Tickers() = %d, want 2", c.Tickers())
	}
	a.Stop()
	a.Stop()
	if c.Tickers() != 1 {
		t.Fatalf("Tickers() after Stop = %d, want 1", c.Tickers())
	}
	b.Stop()
	if c.Tickers() != 0 {
		t.Fatalf("Tickers() = %d, want 0", c.Tickers())
	}
}
