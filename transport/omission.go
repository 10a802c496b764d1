package transport

import "math/rand"

// OmissionPolicy decides whether a message from `from` to `to`, tagged with
// typeTag, should be dropped in flight. The faulty party is modeled purely
// at the transport: honest parties must make no assumption about which of
// the faulty party's outbound messages actually land (spec.md §5).
type OmissionPolicy interface {
	ShouldDrop(from, to int, typeTag string, burst int64) bool
}

// NoOmission never drops anything (the no-fault baseline).
type NoOmission struct{}

func (NoOmission) ShouldDrop(int, int, string, int64) bool { return false }

// DropAll drops every outbound message from Party.
type DropAll struct {
	Party int
}

func (p DropAll) ShouldDrop(from, _ int, _ string, _ int64) bool {
	return from == p.Party
}

// DropProb drops each outbound message from Party independently with
// probability P.
type DropProb struct {
	Party int
	P     float64
	rng   *rand.Rand
}

// NewDropProb builds a DropProb policy seeded from seed.
func NewDropProb(party int, p float64, seed int64) *DropProb {
	return &DropProb{Party: party, P: p, rng: rand.New(rand.NewSource(seed))}
}

func (d *DropProb) ShouldDrop(from, _ int, _ string, _ int64) bool {
	if from != d.Party {
		return false
	}
	return d.rng.Float64() < d.P
}

// DropTypes drops outbound messages from Party whose typeTag is in Types.
type DropTypes struct {
	Party int
	Types map[string]bool
}

// NewDropTypes builds a DropTypes policy over the given message type tags.
func NewDropTypes(party int, types ...string) *DropTypes {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &DropTypes{Party: party, Types: set}
}

func (d *DropTypes) ShouldDrop(from, _ int, typeTag string, _ int64) bool {
	return from == d.Party && d.Types[typeTag]
}

// Interval is a half-open [Start, End) burst window, expressed as a logical
// message-count tick rather than wall-clock time so it stays deterministic
// under any delay model.
type Interval struct {
	Start, End int64
}

// BurstDrop drops every outbound message from Party whose burst tick falls
// inside one of Intervals.
type BurstDrop struct {
	Party     int
	Intervals []Interval
}

func (b BurstDrop) ShouldDrop(from, _ int, _ string, burst int64) bool {
	if from != b.Party {
		return false
	}
	for _, iv := range b.Intervals {
		if burst >= iv.Start && burst < iv.End {
			return true
		}
	}
	return false
}
