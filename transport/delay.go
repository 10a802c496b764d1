package transport

import (
	"math"
	"math/rand"
	"time"
)

// DelayModel draws a delivery delay for a message from `from` to `to`.
// Implementations may ignore from/to (Uniform, Exponential, Fixed) or use
// them to look up a recorded value (Adversarial).
type DelayModel interface {
	Delay(from, to int) time.Duration
}

// Monotone reports whether the model is guaranteed to preserve send order
// between any fixed (from, to) pair, i.e. whether FIFO may be assumed for
// that model. Per spec.md §5 the core must never rely on this, but the
// harness exposes it for test diagnostics.
type Monotone interface {
	Monotone() bool
}

// UniformDelay draws delays uniformly from [Lo, Hi).
type UniformDelay struct {
	Lo, Hi time.Duration
	rng    *rand.Rand
}

// NewUniformDelay builds a UniformDelay seeded from seed.
func NewUniformDelay(lo, hi time.Duration, seed int64) *UniformDelay {
	return &UniformDelay{Lo: lo, Hi: hi, rng: rand.New(rand.NewSource(seed))}
}

func (d *UniformDelay) Delay(_, _ int) time.Duration {
	if d.Hi <= d.Lo {
		return d.Lo
	}
	span := int64(d.Hi - d.Lo)
	return d.Lo + time.Duration(d.rng.Int63n(span))
}

func (d *UniformDelay) Monotone() bool { return false }

// ExponentialDelay draws delays from an exponential distribution with the
// given mean.
type ExponentialDelay struct {
	Mean time.Duration
	rng  *rand.Rand
}

// NewExponentialDelay builds an ExponentialDelay seeded from seed.
func NewExponentialDelay(mean time.Duration, seed int64) *ExponentialDelay {
	return &ExponentialDelay{Mean: mean, rng: rand.New(rand.NewSource(seed))}
}

func (d *ExponentialDelay) Delay(_, _ int) time.Duration {
	if d.Mean <= 0 {
		return 0
	}
	lambda := 1.0 / float64(d.Mean)
	sample := -math.Log(1-d.rng.Float64()) / lambda
	return time.Duration(sample)
}

func (d *ExponentialDelay) Monotone() bool { return false }

// FixedDelay always returns the same delay, preserving FIFO per (from, to)
// pair.
type FixedDelay struct {
	D time.Duration
}

func (d FixedDelay) Delay(_, _ int) time.Duration { return d.D }
func (d FixedDelay) Monotone() bool               { return true }

// AdversarialDelay replays a recorded (from, to) -> delay trace, falling
// back to a default for unrecorded pairs. Useful for pinning a specific
// problematic schedule in a regression test (spec.md §8 scenario 6).
type AdversarialDelay struct {
	Trace   map[[2]int]time.Duration
	Default time.Duration
}

// NewAdversarialDelay builds an AdversarialDelay over the given trace.
func NewAdversarialDelay(trace map[[2]int]time.Duration, def time.Duration) *AdversarialDelay {
	return &AdversarialDelay{Trace: trace, Default: def}
}

func (d *AdversarialDelay) Delay(from, to int) time.Duration {
	if v, ok := d.Trace[[2]int{from, to}]; ok {
		return v
	}
	return d.Default
}

func (d *AdversarialDelay) Monotone() bool { return true }
