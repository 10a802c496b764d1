package auction

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
	"sealed-auction-mpc/transport"
)

func tagger(m Message) string { return m.String() }

func setupAuction(n, f int, net *transport.Network[Message], bcn *beacon.Beacon, sampler field.Sampler) ([]*engine.ServiceManager[Message, Result], []*Service) {
	var managers []*engine.ServiceManager[Message, Result]
	var services []*Service
	for i := 1; i <= n; i++ {
		svc := New(i, n, f, bcn, sampler, zerolog.Disabled)
		mgr := engine.NewServiceManager[Message, Result](i, svc, net)
		svc.Bind(mgr.Inbox())
		net.Register(i, mgr.Inbox())
		mgr.Start()
		managers = append(managers, mgr)
		services = append(services, svc)
	}
	return managers, services
}

// dealShares hands every party its degree-f share of secret, standing in
// for the CSS input-sharing phase that would normally precede a circuit
// evaluation.
func dealShares(n, f int, secret int64, seed uint64) []field.Element {
	sampler := field.NewSeededSampler(seed)
	poly := field.RandomPolynomial(f, field.FromInt64(secret), sampler)
	shares := make([]field.Element, n+1)
	for i := 1; i <= n; i++ {
		shares[i] = poly.Eval(field.FromInt64(int64(i)))
	}
	return shares
}

// bitsOf decomposes v into BitWidth bits, MSB first.
func bitsOf(v int64) [BitWidth]int64 {
	var bits [BitWidth]int64
	for i := 0; i < BitWidth; i++ {
		shift := BitWidth - 1 - i
		bits[i] = (v >> uint(shift)) & 1
	}
	return bits
}

// dealBitShares hands every party its degree-f share of each bit of v.
func dealBitShares(n, f int, v int64, seed uint64) [BitWidth][]field.Element {
	bits := bitsOf(v)
	var out [BitWidth][]field.Element
	for i, b := range bits {
		out[i] = dealShares(n, f, b, seed+uint64(i)+1)
	}
	return out
}

func buildInputs(n, f int, party int, value int64, seed uint64) (valueShares []field.Element, bitShares [BitWidth][]field.Element) {
	return dealShares(n, f, value, seed), dealBitShares(n, f, value, seed+100)
}

func TestEvaluateSecondPriceAuction(t *testing.T) {
	n, f := 4, 1
	active := [3]int{1, 2, 3}
	bids := map[int]int64{1: 5, 2: 20, 3: 13}

	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, nil, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(61))
	sampler := field.NewSeededSampler(62)
	managers, services := setupAuction(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	valueShares := make(map[int][]field.Element)
	bitShares := make(map[int][BitWidth][]field.Element)
	seed := uint64(1000)
	for _, p := range active {
		vs, bs := buildInputs(n, f, p, bids[p], seed)
		valueShares[p] = vs
		bitShares[p] = bs
		seed += 1000
	}

	partyInputs := make(map[int][]Input)
	for i := 1; i <= n; i++ {
		for _, p := range active {
			var in Input
			in.Party = p
			in.Value = valueShares[p][i]
			for bi := 0; bi < BitWidth; bi++ {
				in.Bits[bi] = bitShares[p][bi][i]
			}
			partyInputs[i] = append(partyInputs[i], in)
		}
	}

	for i, svc := range services {
		svc.Evaluate("round1", active, partyInputs[i+1], managers[i])
	}

	results := make(map[int]Result)
	for i, mgr := range managers {
		select {
		case res := <-mgr.Results():
			results[i+1] = res
		case <-time.After(10 * time.Second):
			t.Fatalf("party %d: timed out waiting for auction result", i+1)
		}
	}

	// Recombine each active party's output share from the first f+1 parties.
	outputs := make(map[int]field.Element)
	for _, p := range active {
		xs := make([]field.Element, 0, f+1)
		ys := make([]field.Element, 0, f+1)
		for i := 1; i <= f+1; i++ {
			xs = append(xs, field.FromInt64(int64(i)))
			ys = append(ys, results[i].Outputs[p])
		}
		outputs[p] = field.LagrangeAtZero(xs, ys)
	}

	// Party 2 has the highest bid (20), party 3 the second-highest (13):
	// the winner's output carries the second price, everyone else's is 0.
	if !outputs[2].Equal(field.FromInt64(13)) {
		t.Errorf("winner (party 2) output = %v, want second price 13", outputs[2])
	}
	if !outputs[1].IsZero() {
		t.Errorf("non-winner (party 1) output = %v, want 0", outputs[1])
	}
	if !outputs[3].IsZero() {
		t.Errorf("non-winner (party 3) output = %v, want 0", outputs[3])
	}
}

func TestEvaluateToleratesOneOmittingParty(t *testing.T) {
	n, f := 4, 1
	active := [3]int{1, 2, 3}
	bids := map[int]int64{1: 7, 2: 9, 3: 2}

	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, transport.DropAll{Party: 4}, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(63))
	sampler := field.NewSeededSampler(64)
	managers, services := setupAuction(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	valueShares := make(map[int][]field.Element)
	bitShares := make(map[int][BitWidth][]field.Element)
	seed := uint64(2000)
	for _, p := range active {
		vs, bs := buildInputs(n, f, p, bids[p], seed)
		valueShares[p] = vs
		bitShares[p] = bs
		seed += 1000
	}

	partyInputs := make(map[int][]Input)
	for i := 1; i <= n; i++ {
		for _, p := range active {
			var in Input
			in.Party = p
			in.Value = valueShares[p][i]
			for bi := 0; bi < BitWidth; bi++ {
				in.Bits[bi] = bitShares[p][bi][i]
			}
			partyInputs[i] = append(partyInputs[i], in)
		}
	}

	for i, svc := range services {
		svc.Evaluate("round2", active, partyInputs[i+1], managers[i])
	}

	for i, mgr := range managers {
		if i == 3 {
			continue // party 4 is omitting and never observed
		}
		select {
		case <-mgr.Results():
		case <-time.After(10 * time.Second):
			t.Errorf("party %d: timed out waiting for auction result despite only 1 omitting party", i+1)
		}
	}
}
