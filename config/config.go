// Package config holds RunConfig, the enumerated set of external options a
// run is parameterized over (spec.md §6). It intentionally carries no
// behavior beyond what's needed to build a transport.DelayModel/OmissionPolicy
// pair and a field.Sampler from plain values, so the CLI and library callers
// share one validated shape instead of each wiring transport/field types by
// hand. Grounded on the teacher's flat, no-framework configuration style
// (main.go reads n/t and per-node inputs directly off flags/stdin); this
// package only adds a struct shape for a richer option set, not a config
// loading framework.
package config

import (
	"fmt"
	"time"

	"sealed-auction-mpc/field"
	"sealed-auction-mpc/transport"
)

// N and F are fixed by spec.md §1: 4 parties, 1 tolerated omission fault.
const (
	N = 4
	F = 1
)

// DelayKind selects one of spec.md §6's delay models.
type DelayKind int

const (
	DelayFixed DelayKind = iota
	DelayUniform
	DelayExponential
	DelayAdversarial
)

// DelaySpec parameterizes the chosen DelayKind. Only the fields relevant to
// Kind need to be set.
type DelaySpec struct {
	Kind     DelayKind
	Fixed    time.Duration
	Lo, Hi   time.Duration // Uniform
	Mean     time.Duration // Exponential
	Trace    map[[2]int]time.Duration
	Fallback time.Duration // Adversarial default for unrecorded pairs
}

// OmissionKind selects one of spec.md §6's omission policies.
type OmissionKind int

const (
	OmissionNone OmissionKind = iota
	OmissionDropAll
	OmissionDropProb
	OmissionDropTypes
	OmissionBurstDrop
)

// OmissionSpec parameterizes the chosen OmissionKind.
type OmissionSpec struct {
	Kind      OmissionKind
	Party     int
	Prob      float64
	Types     []string
	Intervals []transport.Interval
}

// RunConfig enumerates one auction run's external options (spec.md §6).
type RunConfig struct {
	Bids      map[int]int64 // party -> bid in [0, 32)
	Seed      uint64        // 0 means "draw from crypto/rand"
	Delay     DelaySpec
	Omission  OmissionSpec
	EventBudget int // not read by any part of a run; only Timeout bounds a run
	Timeout   time.Duration
}

// Validate checks the shape invariants RunConfig must satisfy before a run
// starts: exactly N bids, all distinct, each within [0, 32).
func (c RunConfig) Validate() error {
	if len(c.Bids) != N {
		return fmt.Errorf("config: need exactly %d bids, got %d", N, len(c.Bids))
	}
	seen := make(map[int64]bool, N)
	for p, b := range c.Bids {
		if p < 1 || p > N {
			return fmt.Errorf("config: bid party %d out of range [1,%d]", p, N)
		}
		if b < 0 || b >= 32 {
			return fmt.Errorf("config: bid %d for party %d out of range [0,32)", b, p)
		}
		if seen[b] {
			return fmt.Errorf("config: bids must be distinct, got duplicate %d", b)
		}
		seen[b] = true
	}
	return nil
}

// Sampler builds the field.Sampler this run's RunConfig implies: seeded and
// reproducible when Seed is nonzero, crypto/rand-backed otherwise.
func (c RunConfig) Sampler() field.Sampler {
	if c.Seed == 0 {
		return field.NewSecureSampler()
	}
	return field.NewSeededSampler(c.Seed)
}

// DelayModel builds the transport.DelayModel this run's DelaySpec implies.
func (c RunConfig) DelayModel() transport.DelayModel {
	switch c.Delay.Kind {
	case DelayUniform:
		return transport.NewUniformDelay(c.Delay.Lo, c.Delay.Hi, int64(c.Seed))
	case DelayExponential:
		return transport.NewExponentialDelay(c.Delay.Mean, int64(c.Seed))
	case DelayAdversarial:
		return transport.NewAdversarialDelay(c.Delay.Trace, c.Delay.Fallback)
	default:
		return transport.FixedDelay{D: c.Delay.Fixed}
	}
}

// OmissionPolicy builds the transport.OmissionPolicy this run's
// OmissionSpec implies.
func (c RunConfig) OmissionPolicy() transport.OmissionPolicy {
	switch c.Omission.Kind {
	case OmissionDropAll:
		return transport.DropAll{Party: c.Omission.Party}
	case OmissionDropProb:
		return transport.NewDropProb(c.Omission.Party, c.Omission.Prob, int64(c.Seed))
	case OmissionDropTypes:
		return transport.NewDropTypes(c.Omission.Party, c.Omission.Types...)
	case OmissionBurstDrop:
		return transport.BurstDrop{Party: c.Omission.Party, Intervals: c.Omission.Intervals}
	default:
		return transport.NoOmission{}
	}
}
