package field

import (
	"crypto/rand"
	"math/big"

	xrand "golang.org/x/exp/rand"
)

// Sampler draws uniform field elements. Two implementations are provided:
// a crypto/rand-backed one for non-deterministic secret material, and a
// seeded one for reproducible runs (spec.md §4.1's "Deterministic PRNG
// seeding is supported for reproducibility").
type Sampler interface {
	// Rand returns a uniformly random element of F_p.
	Rand() Element
	// RandNonzero returns a uniformly random nonzero element of F_p.
	RandNonzero() Element
}

type secureSampler struct{}

// NewSecureSampler returns a Sampler backed by crypto/rand, suitable for
// production secret material where no run needs to be replayed.
func NewSecureSampler() Sampler { return secureSampler{} }

func (secureSampler) Rand() Element {
	v, err := rand.Int(rand.Reader, Prime)
	if err != nil {
		// crypto/rand failing is a fatal environment error, not a protocol
		// condition this package can recover from.
		panic(err)
	}
	return Element{v}
}

func (s secureSampler) RandNonzero() Element {
	for {
		e := s.Rand()
		if !e.IsZero() {
			return e
		}
	}
}

// seededSampler is a deterministic Sampler over golang.org/x/exp/rand, whose
// Source is reseedable (unlike the legacy math/rand global source), so a
// simulation run and every party within it can each get an independent,
// reproducible stream derived from one top-level seed.
type seededSampler struct {
	rng *xrand.Rand
}

// NewSeededSampler returns a deterministic Sampler. The same seed always
// produces the same sequence of elements.
func NewSeededSampler(seed uint64) Sampler {
	return &seededSampler{rng: xrand.New(xrand.NewSource(seed))}
}

func (s *seededSampler) Rand() Element {
	// Draw a uniformly random value below Prime by rejection sampling over
	// the minimal number of 64-bit words spanning Prime's bit length.
	bitLen := Prime.BitLen()
	words := (bitLen + 63) / 64
	buf := make([]big.Word, words)
	for {
		for i := range buf {
			buf[i] = big.Word(s.rng.Uint64())
		}
		v := new(big.Int).SetBits(buf)
		v.Mod(v, Prime)
		// Rejection sampling: redraw if the raw value's top word would bias
		// the distribution away from uniform over [0, Prime).
		raw := new(big.Int).SetBits(buf)
		limit := new(big.Int).Lsh(big.NewInt(1), uint(words*64))
		threshold := new(big.Int).Sub(limit, new(big.Int).Mod(limit, Prime))
		if raw.Cmp(threshold) < 0 {
			return Element{v}
		}
	}
}

func (s *seededSampler) RandNonzero() Element {
	for {
		e := s.Rand()
		if !e.IsZero() {
			return e
		}
	}
}
