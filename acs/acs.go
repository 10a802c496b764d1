// Package acs implements Agreement on Common Set (spec.md §4.5): one RBC
// per proposer disseminating a VID-or-empty proposal, one BA per dealer
// deciding whether that dealer belongs in the output set, and the gating
// logic that keeps a slow RBC delivery from forcing a premature 0 input
// into its BA instance. Grounded on the teacher's pattern of composing
// sub-services behind adapter shims (services/aba.go wiring vote+icc+acast
// sub-protocols through small adapter structs implementing ServiceContext).
package acs

import (
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/ba"
	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/errs"
	"sealed-auction-mpc/rbc"
)

// Message is the outer envelope multiplexing RBC and BA traffic for one
// ACS instance over a single transport/session-id namespace.
type Message struct {
	RBC *rbc.Message[string]
	BA  *ba.Message
}

func (m Message) String() string {
	switch {
	case m.RBC != nil:
		return m.RBC.Type.String()
	case m.BA != nil:
		return m.BA.Type.String()
	default:
		return "ACS_UNKNOWN"
	}
}

// Result is emitted once an ACS instance's output set is fixed.
type Result struct {
	SessionID string
	Set       []int // the n-f smallest dealer indices in S*, ascending
}

// acsAdapter re-wraps RBC/BA traffic for one ACS instance's sub-services
// into the outer ACS Message envelope and forwards it to the real
// transport-facing context.
type acsAdapter struct {
	outer engine.ServiceContext[Message, Result]
}

// rbcCtx/baCtx narrow acsAdapter to the exact generic ServiceContext shape
// each sub-service expects; SendResult is a no-op because ACS reads
// decisions back out via Delivered/Decided instead of the result channel.
type rbcCtx struct{ a acsAdapter }

func (c rbcCtx) Broadcast(msg rbc.Message[string]) { c.a.outer.Broadcast(Message{RBC: &msg}) }
func (c rbcCtx) Send(int, rbc.Message[string])     {}
func (c rbcCtx) SendResult(rbc.Message[string])    {}

type baCtx struct{ a acsAdapter }

func (c baCtx) Broadcast(msg ba.Message) { c.a.outer.Broadcast(Message{BA: &msg}) }
func (c baCtx) Send(int, ba.Message)     {}
func (c baCtx) SendResult(ba.Result)     {}

type instance struct {
	mu sync.Mutex

	proposals map[int]string // dealer -> delivered VID, once RBC-delivered non-empty
	inputSent map[int]bool   // dealer -> BA_k has been given an input
	decided   map[int]int    // dealer -> decided bit
	rbcSvc    map[int]*rbc.Service[string]
	baSvc     map[int]*ba.Service

	resultSent bool
	finalSet   []int
}

func newInstance() *instance {
	return &instance{
		proposals: make(map[int]string),
		inputSent: make(map[int]bool),
		decided:   make(map[int]int),
		rbcSvc:    make(map[int]*rbc.Service[string]),
		baSvc:     make(map[int]*ba.Service),
	}
}

// Service runs every live ACS instance hosted by one party.
type Service struct {
	id        int
	n, f      int
	beacon    *beacon.Beacon
	instances map[string]*instance
	logger    zerolog.Logger

	selfInbox chan Message
}

// New builds an ACS service for party id in an n-party, f-fault system.
func New(id, n, f int, bcn *beacon.Beacon, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f, beacon: bcn,
		instances: make(map[string]*instance),
		logger:    log.With().Str("layer", "ACS").Int("party_id", id).Logger().Level(logLevel),
	}
}

// Bind wires the service to its own ServiceManager inbox, forwarded down
// to every BA child instance for coin-flip loopback.
func (s *Service) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox
}

func (s *Service) inst(sessionID string) *instance {
	if s.instances[sessionID] == nil {
		inst := newInstance()
		for k := 1; k <= s.n; k++ {
			inst.rbcSvc[k] = rbc.New[string](s.id, s.n, s.f, s.logger.GetLevel())
			baSvc := ba.New(s.id, s.n, s.f, s.beacon, s.logger.GetLevel())
			baSvc.Bind(s.baLoopback(sessionID, k))
			inst.baSvc[k] = baSvc
		}
		s.instances[sessionID] = inst
	}
	return s.instances[sessionID]
}

// baLoopback adapts ba.Service's Bind contract (a raw chan ba.Message) onto
// this ACS instance's outer selfInbox channel. Loopback coin messages are
// forwarded unchanged: their BA session id already names dealer k.
func (s *Service) baLoopback(sessionID string, k int) chan ba.Message {
	ch := make(chan ba.Message, 16)
	go func() {
		for m := range ch {
			s.selfInbox <- Message{BA: &m}
		}
	}()
	return ch
}

func rbcSessionID(outer string, j int) string {
	return outer + "/rbc/" + strconv.Itoa(j)
}

func baSessionID(outer string, k int) string {
	return outer + "/ba/" + strconv.Itoa(k)
}

// Propose starts this party's ACS participation: it RBC-proposes its own
// VID (or "" for an abstaining/no-input party) and arms every BA_k.
func (s *Service) Propose(sessionID string, myVID string, ctx engine.ServiceContext[Message, Result]) {
	inst := s.inst(sessionID)
	adapter := acsAdapter{outer: ctx}
	inst.rbcSvc[s.id].InitiateBroadcast(rbcSessionID(sessionID, s.id), myVID, rbcCtx{adapter})
}

// OnMessage implements engine.Service, demultiplexing RBC and BA traffic
// by session-id suffix.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	switch {
	case msg.RBC != nil:
		s.onRBC(*msg.RBC, ctx)
	case msg.BA != nil:
		s.onBA(*msg.BA, ctx)
	}
}

func (s *Service) onRBC(msg rbc.Message[string], ctx engine.ServiceContext[Message, Result]) {
	outer, j, ok := splitSession(msg.SessionID, "/rbc/")
	if !ok {
		return
	}
	inst := s.inst(outer)
	adapter := acsAdapter{outer: ctx}

	svc := inst.rbcSvc[j]
	svc.OnMessage(msg, rbcCtx{adapter})

	if val, delivered := svc.Delivered(msg.SessionID); delivered {
		inst.mu.Lock()
		_, already := inst.proposals[j]
		if !already && val != "" {
			inst.proposals[j] = val
		}
		inst.mu.Unlock()

		if val != "" {
			s.feedBAInput(outer, j, 1, inst, ctx)
		}
		s.checkGate(outer, inst, ctx)
		s.maybeEmit(outer, inst, ctx)
	}
}

func (s *Service) onBA(msg ba.Message, ctx engine.ServiceContext[Message, Result]) {
	outer, k, ok := splitSession(msg.SessionID, "/ba/")
	if !ok {
		return
	}
	inst := s.inst(outer)
	adapter := acsAdapter{outer: ctx}

	svc := inst.baSvc[k]
	svc.OnMessage(msg, baCtx{adapter})

	if bit, decided := svc.Decided(msg.SessionID); decided {
		inst.mu.Lock()
		inst.decided[k] = bit
		inst.mu.Unlock()

		s.checkGate(outer, inst, ctx)
		s.maybeEmit(outer, inst, ctx)
	}
}

// feedBAInput gives BA_k its input exactly once, per spec.md §4.5 step 2.
func (s *Service) feedBAInput(outer string, k, bit int, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	inst.mu.Lock()
	if inst.inputSent[k] {
		inst.mu.Unlock()
		return
	}
	inst.inputSent[k] = true
	inst.mu.Unlock()

	adapter := acsAdapter{outer: ctx}
	inst.baSvc[k].Propose(baSessionID(outer, k), bit, baCtx{adapter})
}

// checkGate implements spec.md §4.5 step 2/3: once n-f of the BA_k have
// decided 1, every still-undecided, not-yet-input BA_k is fed 0.
func (s *Service) checkGate(outer string, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	inst.mu.Lock()
	decidedOnes := 0
	for _, bit := range inst.decided {
		if bit == 1 {
			decidedOnes++
		}
	}
	threshold := decidedOnes >= s.n-s.f
	inst.mu.Unlock()

	if !threshold {
		return
	}
	for k := 1; k <= s.n; k++ {
		inst.mu.Lock()
		_, dec := inst.decided[k]
		sent := inst.inputSent[k]
		inst.mu.Unlock()
		if !dec && !sent {
			// Forcing dealer k's BA_k to 0 here, rather than k itself ever
			// RBC-delivering a non-empty VID, is exactly the DealerMissing
			// recovery spec.md §7 describes: ACS excludes k locally instead
			// of surfacing the gap to its caller.
			s.logger.Debug().Err(errs.ErrDealerMissing).Int("dealer", k).Str("session", outer).Msg("gating undecided dealer to 0")
			s.feedBAInput(outer, k, 0, inst, ctx)
		}
	}
}

// maybeEmit implements spec.md §4.5 step 4: once at least n-f dealers have
// decided 1, output the n-f smallest such indices.
func (s *Service) maybeEmit(outer string, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	inst.mu.Lock()
	if inst.resultSent {
		inst.mu.Unlock()
		return
	}
	var ones []int
	for k, bit := range inst.decided {
		if bit == 1 {
			ones = append(ones, k)
		}
	}
	if len(ones) < s.n-s.f {
		inst.mu.Unlock()
		return
	}
	sort.Ints(ones)
	set := append([]int(nil), ones[:s.n-s.f]...)
	inst.resultSent = true
	inst.finalSet = set
	inst.mu.Unlock()

	s.logger.Info().Str("session", outer).Ints("set", set).Msg("ACS output set fixed")
	ctx.SendResult(Result{SessionID: outer, Set: set})
}

// Decided reports the fixed output set for sessionID, once available.
func (s *Service) Decided(sessionID string) (set []int, ok bool) {
	inst, exists := s.instances[sessionID]
	if !exists {
		return nil, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.resultSent {
		return nil, false
	}
	return append([]int(nil), inst.finalSet...), true
}

// splitSession splits "outer<sep><int>" back into its parts.
func splitSession(full, sep string) (outer string, idx int, ok bool) {
	pos := -1
	for i := 0; i+len(sep) <= len(full); i++ {
		if full[i:i+len(sep)] == sep {
			pos = i
		}
	}
	if pos < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(full[pos+len(sep):])
	if err != nil {
		return "", 0, false
	}
	return full[:pos], n, true
}
