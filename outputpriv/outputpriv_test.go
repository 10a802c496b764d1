package outputpriv

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

func setupOutput(n, f int, net *transport.Network[Message], bcn *beacon.Beacon, sampler field.Sampler) ([]*engine.ServiceManager[Message, Result], []*Service) {
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

func dealShares(n, f int, secret int64, seed uint64) []field.Element {
	sampler := field.NewSeededSampler(seed)
	poly := field.RandomPolynomial(f, field.FromInt64(secret), sampler)
	shares := make([]field.Element, n+1)
	for i := 1; i <= n; i++ {
		shares[i] = poly.Eval(field.FromInt64(int64(i)))
	}
	return shares
}

func TestUnmaskRecoversOwnersOutput(t *testing.T) {
	n, f := 4, 1
	owner := 2
	secret := int64(13) // the second price, as it'd arrive from the auction circuit

	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, nil, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(71))
	sampler := field.NewSeededSampler(72)
	managers, services := setupOutput(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	oShares := dealShares(n, f, secret, 81)

	for i, svc := range services {
		svc.Unmask(owner, oShares[i+1], managers[i])
	}

	select {
	case res := <-managers[owner-1].Results():
		if res.Owner != owner {
			t.Fatalf("owner %d: unexpected result owner %d", owner, res.Owner)
		}
		if !res.Value.Equal(field.FromInt64(secret)) {
			t.Errorf("owner %d recovered %v, want %v", owner, res.Value, secret)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("owner %d: timed out waiting for unmasked result", owner)
	}

	// No other party should ever receive a Result for this session.
	for i, mgr := range managers {
		if i+1 == owner {
			continue
		}
		select {
		case res := <-mgr.Results():
			t.Errorf("party %d: unexpectedly received a result %+v", i+1, res)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestUnmaskToleratesOneOmittingParty(t *testing.T) {
	n, f := 4, 1
	owner := 3
	secret := int64(0)

	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, transport.DropAll{Party: 1}, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(73))
	sampler := field.NewSeededSampler(74)
	managers, services := setupOutput(n, f, net, bcn, sampler)
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	oShares := dealShares(n, f, secret, 82)

	for i, svc := range services {
		svc.Unmask(owner, oShares[i+1], managers[i])
	}

	select {
	case res := <-managers[owner-1].Results():
		if !res.Value.Equal(field.Zero()) {
			t.Errorf("owner %d recovered %v, want 0", owner, res.Value)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("owner %d: timed out waiting for unmasked result despite only 1 omitting party", owner)
	}
}
