package ba

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
	"sealed-auction-mpc/transport"
)

func tagger(m Message) string { return m.Type.String() }

func TestBAAllProposeSameBitDecidesThatBit(t *testing.T) {
	n, f := 4, 1
	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, nil, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(7))

	var managers []*engine.ServiceManager[Message, Result]
	var services []*Service
	for i := 1; i <= n; i++ {
		svc := New(i, n, f, bcn, zerolog.Disabled)
		mgr := engine.NewServiceManager[Message, Result](i, svc, net)
		svc.Bind(mgr.Inbox())
		net.Register(i, mgr.Inbox())
		mgr.Start()
		managers = append(managers, mgr)
		services = append(services, svc)
	}
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	for i, svc := range services {
		svc.Propose("ba1", 1, managers[i])
	}

	for i, mgr := range managers {
		select {
		case res := <-mgr.Results():
			if res.Decision != 1 {
				t.Errorf("party %d decided %d, want 1", i+1, res.Decision)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("party %d: timed out waiting for decision", i+1)
		}
	}
}

func TestBAToleratesOneOmittingParty(t *testing.T) {
	n, f := 4, 1
	net := transport.NewNetwork[Message](transport.FixedDelay{D: time.Millisecond}, transport.DropAll{Party: 1}, tagger)
	bcn := beacon.New(n-f, field.NewSeededSampler(11))

	var managers []*engine.ServiceManager[Message, Result]
	var services []*Service
	for i := 1; i <= n; i++ {
		svc := New(i, n, f, bcn, zerolog.Disabled)
		mgr := engine.NewServiceManager[Message, Result](i, svc, net)
		svc.Bind(mgr.Inbox())
		net.Register(i, mgr.Inbox())
		mgr.Start()
		managers = append(managers, mgr)
		services = append(services, svc)
	}
	defer func() {
		for _, m := range managers {
			m.Stop()
		}
	}()

	for i, svc := range services {
		svc.Propose("ba2", 0, managers[i])
	}

	for i, mgr := range managers {
		if i == 0 {
			continue
		}
		select {
		case res := <-mgr.Results():
			if res.Decision != 0 {
				t.Errorf("party %d decided %d, want 0", i+1, res.Decision)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("party %d: timed out waiting for decision despite only 1 omitting party", i+1)
		}
	}
}
