// Package beacon implements the threshold common-coin ideal functionality
// of spec.md §4.2: a process-wide, append-only observable shared by every
// party, with no internal adversarial control. It is deliberately not a
// distributed protocol — spec.md §9 notes a production deployment would
// swap it for a threshold VRF or DKG-backed coin behind the same interface.
package beacon

import (
	"sync"

	"sealed-auction-mpc/field"
)

// Beacon releases one uniformly random field element per index, once the
// set of distinct requesters for that index first reaches Threshold
// distinct parties. Requesters beyond the threshold, and requesters that
// arrive after the value was already sampled, all receive the same value.
type Beacon struct {
	mu         sync.Mutex
	threshold  int
	sampler    field.Sampler
	requesters map[string]map[int]bool
	values     map[string]field.Element
	waiters    map[string][]chan field.Element
	invocations int
}

// New builds a Beacon requiring Threshold distinct requesters per index
// before it samples, drawing values from sampler.
func New(threshold int, sampler field.Sampler) *Beacon {
	return &Beacon{
		threshold:  threshold,
		sampler:    sampler,
		requesters: make(map[string]map[int]bool),
		values:     make(map[string]field.Element),
		waiters:    make(map[string][]chan field.Element),
	}
}

// Request asks for the value at index on behalf of party. Returns a channel
// that will receive exactly one value: immediately, if index was already
// resolved; otherwise once Threshold distinct parties have requested it.
func (b *Beacon) Request(index string, party int) <-chan field.Element {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan field.Element, 1)

	if v, ok := b.values[index]; ok {
		ch <- v
		return ch
	}

	if b.requesters[index] == nil {
		b.requesters[index] = make(map[int]bool)
	}
	b.requesters[index][party] = true
	b.waiters[index] = append(b.waiters[index], ch)

	if len(b.requesters[index]) >= b.threshold {
		v := b.sampler.Rand()
		b.values[index] = v
		b.invocations++
		for _, w := range b.waiters[index] {
			w <- v
		}
		delete(b.waiters, index)
	}

	return ch
}

// Invocations returns the number of indices that have actually been
// sampled so far (spec.md §6 metrics: "beacon invocation count").
func (b *Beacon) Invocations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invocations
}
