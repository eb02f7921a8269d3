package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/flowwork/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for streak := 1; streak <= 10; streak++ {
		if got := c.Delay(streak); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", streak, got, 5*time.Second)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(time.Second, 5*time.Second)

	tests := []struct {
		streak int
		want   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{5, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.streak); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.streak, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(time.Second, 30*time.Second)

	tests := []struct {
		streak int
		want   time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.streak); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.streak, got, tt.want)
		}
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for streak := 1; streak <= 8; streak++ {
		upper := min(time.Second<<(streak-1), 10*time.Second)
		for range 50 {
			got := e.Delay(streak)
			if got < 0 || got > upper {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", streak, got, upper)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(5)] = true
	}
	if len(seen) < 2 {
		t.Error("expected jittered delays to vary")
	}
}

func TestCapped(t *testing.T) {
	c := backoff.Capped{Strategy: backoff.NewConstant(time.Hour), Max: 5 * time.Minute}
	if got := c.Delay(1); got != 5*time.Minute {
		t.Errorf("Delay = %v, want 5m", got)
	}

	unbounded := backoff.Capped{Strategy: backoff.NewConstant(time.Hour)}
	if got := unbounded.Delay(1); got != time.Hour {
		t.Errorf("Delay with zero Max = %v, want 1h", got)
	}
}

func TestFunc(t *testing.T) {
	f := backoff.Func(func(streak int) time.Duration { return time.Duration(streak) * time.Millisecond })
	if got := f.Delay(7); got != 7*time.Millisecond {
		t.Errorf("Delay = %v, want 7ms", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	e, ok := s.(*backoff.Exponential)
	if !ok {
		t.Fatalf("DefaultStrategy() = %T, want *Exponential", s)
	}
	if !e.Jitter || e.Initial != 500*time.Millisecond || e.Max != time.Minute {
		t.Errorf("DefaultStrategy() = %+v", e)
	}
}
