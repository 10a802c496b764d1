package mpcarith

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

func setupMul(n, f int, net *transport.Network[Message], bcn *beacon.Beacon, sampler field.Sampler) ([]*engine.ServiceManager[Message, Result], []*MultiplyService) {
	var managers []*engine.ServiceManager[Message, Result]
	var services []*MultiplyService
	for i := 1; i <= n; i++ {
		svc := NewMultiplyService(i, n, f, bcn, sampler, zerolog.Disabled)
		mgr := engine.NewServiceManager[Message, Result](i, svc, net)
		svc.Bind(mgr.Inbox())
		net.Register(i, mgr.Inbox())
		mgr.Start()
		managers = append(managers, mgr)
		services = append(services, svc)
	}
	return managers, services
}

// dealShares hands every party its degree-f share of secret, via a fresh
// random polynomial evaluated at each party's index. This stands in for the
// CSS input-sharing phase that would normally precede a multiplication gate.
func dealShares(n, f int, secret int64, seed uint64) []field.Element {
	sampler := field.NewSeededSampler(seed)
	poly := field.RandomPolynomial(f, field.FromInt64(secret), sampler)
	shares := make([]field.Element, n+1)
	for i := 1; i <= n; i++ {
		shares[i] = poly.Eval(field.FromInt64(int64(i)))
	}
	return shares
}

func TestMultiplyRecombinesCorrectProduct(t *testing.T) {
	n, f := 4, 1
	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, nil, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(31))
	sampler := field.NewSeededSampler(32)
	managers, services := setupMul(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	aShares := dealShares(n, f, 6, 41)
	bShares := dealShares(n, f, 7, 42)

	for i, svc := range services {
		svc.Multiply("gate1", aShares[i+1], bShares[i+1], managers[i])
	}

	products := make(map[int]field.Element)
	for i, mgr := range managers {
		select {
		case res := <-mgr.Results():
			if res.Gate != "gate1" {
				t.Fatalf("party %d: unexpected gate %q", i+1, res.Gate)
			}
			products[i+1] = res.Product
		case <-time.After(5 * time.Second):
			t.Fatalf("party %d: timed out waiting for multiplication result", i+1)
		}
	}

	xs := make([]field.Element, 0, f+1)
	ys := make([]field.Element, 0, f+1)
	for i := 1; i <= f+1; i++ {
		xs = append(xs, field.FromInt64(int64(i)))
		ys = append(ys, products[i])
	}
	got := field.LagrangeAtZero(xs, ys)
	want := field.FromInt64(42) // 6 * 7
	if !got.Equal(want) {
		t.Errorf("recombined product = %v, want %v", got, want)
	}
}

func TestMultiplyToleratesOneOmittingParty(t *testing.T) {
	n, f := 4, 1
	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, transport.DropAll{Party: 1}, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(33))
	sampler := field.NewSeededSampler(34)
	managers, services := setupMul(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	aShares := dealShares(n, f, 3, 45)
	bShares := dealShares(n, f, 9, 46)

	for i, svc := range services {
		svc.Multiply("gate2", aShares[i+1], bShares[i+1], managers[i])
	}

	for i, mgr := range managers {
		if i == 0 {
			continue
		}
		select {
		case res := <-mgr.Results():
			if res.Gate != "gate2" {
				t.Fatalf("party %d: unexpected gate %q", i+1, res.Gate)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("party %d: timed out waiting for multiplication result despite only 1 omitting party", i+1)
		}
	}
}
