package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v is before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() should be non-negative")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(5 * time.Second)
	if got := c.Since(start); got != 5*time.Second {
		t.Errorf("Since() = %v, want 5s", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v", c.Now())
	}
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSteppingClock(start, time.Millisecond)

	a := c.Now()
	b := c.Now()
	if b.Sub(a) != time.Millisecond {
		t.Errorf("step = %v, want 1ms", b.Sub(a))
	}
	if c.Since(a) != time.Millisecond {
		t.Errorf("Since() = %v, want 1ms", c.Since(a))
	}
}
