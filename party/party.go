// Package party implements the per-party orchestrator (spec.md §2 step 9,
// §5): it deals this party's own bid (and bid-bit) input shares, runs ACS
// to select the active bidder set I, evaluates the auction circuit once I
// is known, and unmasks the resulting shares back to plaintext. Grounded on
// the teacher's Node (node.go: one Service behind one ServiceManager,
// wrapped with Start/Result/Inbox), generalized to compose four
// sub-protocol families behind a single tagged-variant envelope (spec.md
// §9: "a tagged-variant message type and a session_id -> instance lookup").
package party

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/acs"
	"sealed-auction-mpc/auction"
	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/css"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
	"sealed-auction-mpc/outputpriv"
)

// Message is the top-level envelope multiplexing every protocol family one
// party hosts: input-sharing CSS, the ACS instance selecting the active
// set I, the auction circuit, and output-privacy unmasking.
type Message struct {
	CSS     *css.Message
	ACS     *acs.Message
	Auction *auction.Message
	Output  *outputpriv.Message
}

func (m Message) String() string {
	switch {
	case m.CSS != nil:
		return m.CSS.Type.String()
	case m.ACS != nil:
		return m.ACS.String()
	case m.Auction != nil:
		return m.Auction.String()
	case m.Output != nil:
		return m.Output.String()
	default:
		return "PARTY_UNKNOWN"
	}
}

// Result carries this party's own plaintext output (spec.md §6): the
// winner's numeric second price, or 0 for every other party. Emitted
// exactly once per Service.
type Result struct {
	Output field.Element
}

type adapter struct{ outer engine.ServiceContext[Message, Result] }

type cssCtx struct{ a adapter }

func (c cssCtx) Broadcast(msg css.Message)    { c.a.outer.Broadcast(Message{CSS: &msg}) }
func (c cssCtx) Send(to int, msg css.Message) { c.a.outer.Send(to, Message{CSS: &msg}) }
func (c cssCtx) SendResult(css.Result)        {}

type acsCtx struct{ a adapter }

func (c acsCtx) Broadcast(msg acs.Message) { c.a.outer.Broadcast(Message{ACS: &msg}) }
func (c acsCtx) Send(int, acs.Message)     {}
func (c acsCtx) SendResult(acs.Result)     {}

type auctionCtx struct {
	a adapter
	s *Service
}

func (c auctionCtx) Broadcast(msg auction.Message)    { c.a.outer.Broadcast(Message{Auction: &msg}) }
func (c auctionCtx) Send(to int, msg auction.Message) { c.a.outer.Send(to, Message{Auction: &msg}) }
func (c auctionCtx) SendResult(res auction.Result)    { c.s.onAuctionResult(res, c.a.outer) }

type outputCtx struct {
	a adapter
	s *Service
}

func (c outputCtx) Broadcast(msg outputpriv.Message)    { c.a.outer.Broadcast(Message{Output: &msg}) }
func (c outputCtx) Send(to int, msg outputpriv.Message) { c.a.outer.Send(to, Message{Output: &msg}) }
func (c outputCtx) SendResult(res outputpriv.Result)    { c.s.onOutputResult(res, c.a.outer) }

type runState struct {
	active      []int
	activeKnown bool
	proposedI   bool
	evaluated   bool
	resultSent  bool
}

// Service is one party's top-level orchestrator.
type Service struct {
	id, n, f int
	bid      int64
	bits     [auction.BitWidth]int64

	css        *css.Service
	acsSvc     *acs.Service
	auctionSvc *auction.Service
	outputSvc  *outputpriv.Service
	sampler    field.Sampler

	state  *runState
	mu     sync.Mutex
	logger zerolog.Logger

	selfInbox chan Message
}

// New builds a party Service for party id in an n-party, f-fault system
// holding the given plaintext bid.
func New(id, n, f int, bid int64, bcn *beacon.Beacon, sampler field.Sampler, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f,
		bid:        bid,
		bits:       bitsOf(bid),
		css:        css.New(id, n, f, logLevel),
		acsSvc:     acs.New(id, n, f, bcn, logLevel),
		auctionSvc: auction.New(id, n, f, bcn, sampler, logLevel),
		outputSvc:  outputpriv.New(id, n, f, bcn, sampler, logLevel),
		sampler:    sampler,
		state:      &runState{},
		logger:     log.With().Str("layer", "PARTY").Int("party_id", id).Logger().Level(logLevel),
	}
}

func bitsOf(v int64) [auction.BitWidth]int64 {
	var bits [auction.BitWidth]int64
	for i := 0; i < auction.BitWidth; i++ {
		shift := auction.BitWidth - 1 - i
		bits[i] = (v >> uint(shift)) & 1
	}
	return bits
}

func inputSessionID(dealer int) string { return "input/" + strconv.Itoa(dealer) }

func inputBitSessionID(dealer, i int) string {
	return inputSessionID(dealer) + "/bit/" + strconv.Itoa(i)
}

// Bind wires the service to its own ServiceManager inbox, forwarded down to
// every sub-service that needs coin-flip loopback (acs.Service directly,
// plus auction.Service's and outputpriv.Service's own internal acs.Service
// instances, each re-wrapped one layer further).
func (s *Service) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox

	acsCh := make(chan acs.Message, 16)
	go func() {
		for m := range acsCh {
			s.selfInbox <- Message{ACS: &m}
		}
	}()
	s.acsSvc.Bind(acsCh)

	auctionCh := make(chan auction.Message, 16)
	go func() {
		for m := range auctionCh {
			s.selfInbox <- Message{Auction: &m}
		}
	}()
	s.auctionSvc.Bind(auctionCh)

	outputCh := make(chan outputpriv.Message, 16)
	go func() {
		for m := range outputCh {
			s.selfInbox <- Message{Output: &m}
		}
	}()
	s.outputSvc.Bind(outputCh)
}

// Start deals this party's own bid and bid-bit shares. Must be called once,
// after Bind and after the owning ServiceManager has started its loop.
func (s *Service) Start(ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	s.css.Share(inputSessionID(s.id), field.FromInt64(s.bid), s.sampler, cssCtx{a})
	for i, b := range s.bits {
		s.css.Share(inputBitSessionID(s.id, i), field.FromInt64(b), s.sampler, cssCtx{a})
	}
}

// OnMessage implements engine.Service.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	switch {
	case msg.CSS != nil:
		s.onCSS(*msg.CSS, ctx)
	case msg.ACS != nil:
		s.onACS(*msg.ACS, ctx)
	case msg.Auction != nil:
		s.auctionSvc.OnMessage(*msg.Auction, auctionCtx{a: a, s: s})
	case msg.Output != nil:
		s.outputSvc.OnMessage(*msg.Output, outputCtx{a: a, s: s})
	}
}

func (s *Service) onCSS(msg css.Message, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	s.css.OnMessage(msg, cssCtx{a})

	if msg.SessionID == inputSessionID(s.id) && !s.state.proposedI {
		if vid, _, fin := s.css.WaitFinalized(msg.SessionID); fin {
			s.state.proposedI = true
			s.acsSvc.Propose("acs/I", vid, acsCtx{a})
		}
	}
	s.tryStartAuction(ctx)
}

func (s *Service) onACS(msg acs.Message, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	s.acsSvc.OnMessage(msg, acsCtx{a})

	if !s.state.activeKnown {
		if set, ok := s.acsSvc.Decided("acs/I"); ok {
			s.state.activeKnown = true
			s.state.active = set
			s.logger.Info().Ints("active_set", set).Msg("active set decided")
			if !contains(set, s.id) {
				s.emitResult(field.Zero(), ctx)
			}
		}
	}
	s.tryStartAuction(ctx)
}

// tryStartAuction evaluates the auction circuit once the active set is
// known and every active dealer's value and bit shares are available
// locally (spec.md §4.8: the circuit consumes finalized input shares
// {[x_i] : i in I}).
func (s *Service) tryStartAuction(ctx engine.ServiceContext[Message, Result]) {
	if s.state.evaluated || !s.state.activeKnown {
		return
	}

	var inputs []auction.Input
	for _, k := range s.state.active {
		val, ok := s.css.GetShare(inputSessionID(k))
		if !ok {
			return
		}
		in := auction.Input{Party: k, Value: val}
		for i := 0; i < auction.BitWidth; i++ {
			b, ok := s.css.GetShare(inputBitSessionID(k, i))
			if !ok {
				return
			}
			in.Bits[i] = b
		}
		inputs = append(inputs, in)
	}

	s.state.evaluated = true
	var active [3]int
	copy(active[:], s.state.active)
	a := adapter{outer: ctx}
	s.logger.Info().Ints("active_set", s.state.active).Msg("evaluating auction circuit")
	s.auctionSvc.Evaluate("round", active, inputs, auctionCtx{a: a, s: s})
}

// onAuctionResult starts the output-privacy unmask for every active
// dealer's share of the circuit's output, once per run.
func (s *Service) onAuctionResult(res auction.Result, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	for _, k := range s.state.active {
		s.outputSvc.Unmask(k, res.Outputs[k], outputCtx{a: a, s: s})
	}
}

// onOutputResult delivers this party's own plaintext output once its
// unmask instance resolves. outputpriv only ever resolves an owner's own
// instance locally, so res.Owner is always s.id here.
func (s *Service) onOutputResult(res outputpriv.Result, ctx engine.ServiceContext[Message, Result]) {
	if res.Owner != s.id {
		return
	}
	s.emitResult(res.Value, ctx)
}

func (s *Service) emitResult(v field.Element, ctx engine.ServiceContext[Message, Result]) {
	s.mu.Lock()
	if s.state.resultSent {
		s.mu.Unlock()
		return
	}
	s.state.resultSent = true
	s.mu.Unlock()

	s.logger.Info().Str("output", v.String()).Msg("party decided")
	ctx.SendResult(Result{Output: v})
}

// GateCount reports how many multiplication gates this party's auction
// circuit run has started so far (spec.md §6 run metrics). Zero until the
// active set is decided and the circuit starts evaluating.
func (s *Service) GateCount() int { return s.auctionSvc.GateCount() }

func contains(set []int, v int) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}
