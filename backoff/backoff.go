// Package backoff provides the delay strategies the engine uses to space
// out ticks of a waiting run. The input is the wait streak: the number of
// consecutive ticks that left the run waiting. A streak of 1 is the first
// waiting tick; any progress resets it.
//
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next tick of a waiting run.
type Strategy interface {
	// Delay returns how long to wait after the streak-th consecutive
	// waiting tick (1-indexed).
	Delay(streak int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(streak int) time.Duration

// Delay calls f.
func (f Func) Delay(streak int) time.Duration { return f(streak) }

// Constant always returns the same delay regardless of the streak.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear grows the delay by Initial per waiting tick, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * streak, capped at Max.
func (l *Linear) Delay(streak int) time.Duration {
	return capAt(l.Initial*time.Duration(max(streak, 1)), l.Max)
}

// Exponential doubles the delay each waiting tick, capped at Max. With
// Jitter set the result is drawn uniformly from [0, delay] so runs that
// started together do not tick in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns Initial * 2^(streak-1) capped at Max, jittered if enabled.
func (e *Exponential) Delay(streak int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(max(streak, 1)-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(base)
}

// Capped bounds another strategy.
type Capped struct {
	Strategy Strategy
	Max      time.Duration
}

// Delay returns the inner delay, capped at Max.
func (c Capped) Delay(streak int) time.Duration {
	return capAt(c.Strategy.Delay(streak), c.Max)
}

func capAt(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// DefaultStrategy returns the default backoff used by the engine:
// exponential with full jitter, 500ms initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(500*time.Millisecond, time.Minute)
}
