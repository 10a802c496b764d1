// Package mpcarith implements share arithmetic and BGW multiplication with
// degree reduction (spec.md §4.7): local add/sub/scalar_mul, a public-open
// primitive (MPC_OPEN), and a Multiply service composing an internal
// css.Service (for the per-party reshare of the local product) with an
// internal acs.Service (for agreeing on the interpolation set T). Grounded on
// the teacher's composition-by-adapter idiom (services/aba.go wiring
// vote+icc sub-services behind small ServiceContext shims), generalized here
// to compose whole protocol packages instead of same-package sub-services.
package mpcarith

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/acs"
	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/css"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
)

// Share is a degree-f Shamir share: one party's evaluation of the secret
// polynomial. It is the same representation as field.Element; the alias
// exists purely to document intent at call sites.
type Share = field.Element

// Add, Sub, and ScalarMul are purely local (no messages): every honest
// party's shares of a sum/difference/scalar-multiple lie on the expected
// degree-f polynomial without any interaction.
func Add(a, b Share) Share             { return a.Add(b) }
func Sub(a, b Share) Share             { return a.Sub(b) }
func ScalarMul(c int64, a Share) Share { return a.ScalarMul(c) }

// ---------------------------------------------------------------------
// Public open (MPC_OPEN)
// ---------------------------------------------------------------------

// OpenMessage is the wire record for a public-open round: every party
// broadcasts its share of the value being opened.
type OpenMessage struct {
	SessionID string
	From      int
	Share     Share
}

func (OpenMessage) String() string { return "MPC_OPEN" }

// OpenResult is emitted once f+1 shares have been collected and
// interpolated at 0.
type OpenResult struct {
	SessionID string
	Value     field.Element
}

type openInstance struct {
	shares   map[int]Share
	resolved bool
}

// OpenService runs every live public-open instance hosted by one party.
type OpenService struct {
	id, n, f  int
	instances map[string]*openInstance
	logger    zerolog.Logger
}

// NewOpenService builds an OpenService for party id in an n-party,
// f-fault system.
func NewOpenService(id, n, f int, logLevel zerolog.Level) *OpenService {
	return &OpenService{
		id: id, n: n, f: f,
		instances: make(map[string]*openInstance),
		logger:    log.With().Str("layer", "MPC").Int("party_id", id).Logger().Level(logLevel),
	}
}

// Open broadcasts this party's share of the value identified by
// sessionID. The caller is responsible for choosing a sessionID unique to
// the logical open being performed (spec.md §5's `open/<tag>` scheme).
func (s *OpenService) Open(sessionID string, share Share, ctx engine.ServiceContext[OpenMessage, OpenResult]) {
	ctx.Broadcast(OpenMessage{SessionID: sessionID, From: s.id, Share: share})
}

// OnMessage implements engine.Service.
func (s *OpenService) OnMessage(msg OpenMessage, ctx engine.ServiceContext[OpenMessage, OpenResult]) {
	inst := s.instances[msg.SessionID]
	if inst == nil {
		inst = &openInstance{shares: make(map[int]Share)}
		s.instances[msg.SessionID] = inst
	}
	if inst.resolved {
		return
	}
	inst.shares[msg.From] = msg.Share
	if len(inst.shares) < s.f+1 {
		return
	}

	indices := make([]int, 0, len(inst.shares))
	for idx := range inst.shares {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	indices = indices[:s.f+1]

	xs := make([]field.Element, s.f+1)
	ys := make([]field.Element, s.f+1)
	for i, idx := range indices {
		xs[i] = field.FromInt64(int64(idx))
		ys[i] = inst.shares[idx]
	}
	value := field.LagrangeAtZero(xs, ys)
	inst.resolved = true

	s.logger.Debug().Str("session", msg.SessionID).Msg("opened value")
	ctx.SendResult(OpenResult{SessionID: msg.SessionID, Value: value})
}

// ---------------------------------------------------------------------
// Multiplication with degree reduction
// ---------------------------------------------------------------------

// Message is the outer envelope multiplexing CSS and ACS traffic for every
// live multiplication gate hosted by one party. A single internal css.Service
// and acs.Service instance back every gate: both are already keyed internally
// by session id, so no per-gate sub-service construction is needed.
type Message struct {
	CSS *css.Message
	ACS *acs.Message
}

func (m Message) String() string {
	switch {
	case m.CSS != nil:
		return m.CSS.Type.String()
	case m.ACS != nil:
		return m.ACS.String()
	default:
		return "MUL_UNKNOWN"
	}
}

// Result is emitted once a multiplication gate's recombined product share
// is known.
type Result struct {
	Gate    string
	Product Share
}

type mulAdapter struct {
	outer engine.ServiceContext[Message, Result]
}

type cssCtx struct{ a mulAdapter }

func (c cssCtx) Broadcast(msg css.Message)    { c.a.outer.Broadcast(Message{CSS: &msg}) }
func (c cssCtx) Send(to int, msg css.Message) { c.a.outer.Send(to, Message{CSS: &msg}) }
func (c cssCtx) SendResult(css.Result)        {}

type acsCtx struct{ a mulAdapter }

func (c acsCtx) Broadcast(msg acs.Message) { c.a.outer.Broadcast(Message{ACS: &msg}) }
func (c acsCtx) Send(int, acs.Message)     {}
func (c acsCtx) SendResult(acs.Result)     {}

type gateState struct {
	proposedT bool
	tKnown    bool
	tSet      []int
	finished  bool
}

// MultiplyService runs the BGW-with-degree-reduction protocol (spec.md
// §4.7) for every live gate hosted by one party, on top of an internal
// css.Service (reshare of the local product) and acs.Service (agreement on
// the recombination set T). Grounded on acs.go's composition-by-adapter
// idiom, one level up: rbc/ba compose into acs, and css/acs compose into
// this service, each owning its own children rather than sharing them.
type MultiplyService struct {
	id, n, f int
	css      *css.Service
	acsSvc   *acs.Service
	sampler  field.Sampler
	gates    map[string]*gateState
	logger   zerolog.Logger

	selfInbox chan Message
}

// NewMultiplyService builds a MultiplyService for party id in an n-party,
// f-fault system, backed by a common-coin beacon (for its internal ACS's BA
// instances) and a sampler for fresh reshare polynomials.
func NewMultiplyService(id, n, f int, bcn *beacon.Beacon, sampler field.Sampler, logLevel zerolog.Level) *MultiplyService {
	return &MultiplyService{
		id: id, n: n, f: f,
		css:     css.New(id, n, f, logLevel),
		acsSvc:  acs.New(id, n, f, bcn, logLevel),
		sampler: sampler,
		gates:   make(map[string]*gateState),
		logger:  log.With().Str("layer", "MPC").Int("party_id", id).Logger().Level(logLevel),
	}
}

// Bind wires the service to its own ServiceManager inbox, forwarded down to
// the internal acs.Service for BA coin-flip loopback (mirrors acs.go's own
// Bind/baLoopback wiring one level up).
func (s *MultiplyService) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox
	ch := make(chan acs.Message, 16)
	go func() {
		for m := range ch {
			s.selfInbox <- Message{ACS: &m}
		}
	}()
	s.acsSvc.Bind(ch)
}

func reshareSessionID(gate string, dealer int) string {
	return "mul/" + gate + "/reshare/" + strconv.Itoa(dealer)
}

func acsTSessionID(gate string) string {
	return "mul/" + gate + "/acs-T"
}

func (s *MultiplyService) gateState(gate string) *gateState {
	if s.gates[gate] == nil {
		s.gates[gate] = &gateState{}
	}
	return s.gates[gate]
}

// GateCount reports how many multiplication gates this party has started,
// for the run-level metrics of spec.md §6. Every honest party runs an
// identical circuit, so this figure is the same at every party.
func (s *MultiplyService) GateCount() int { return len(s.gates) }

// Multiply starts gate's reshare: every party locally multiplies its own
// shares of the two operands and deals the result under a degree-f CSS
// instance of its own.
func (s *MultiplyService) Multiply(gate string, a, b Share, ctx engine.ServiceContext[Message, Result]) {
	s.gateState(gate)
	d := a.Mul(b)
	adapter := mulAdapter{outer: ctx}
	s.css.Share(reshareSessionID(gate, s.id), d, s.sampler, cssCtx{adapter})
}

// OnMessage implements engine.Service.
func (s *MultiplyService) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	switch {
	case msg.CSS != nil:
		s.onCSS(*msg.CSS, ctx)
	case msg.ACS != nil:
		s.onACS(*msg.ACS, ctx)
	}
}

func (s *MultiplyService) onCSS(msg css.Message, ctx engine.ServiceContext[Message, Result]) {
	adapter := mulAdapter{outer: ctx}
	s.css.OnMessage(msg, cssCtx{adapter})

	gate, dealer, ok := splitReshareSession(msg.SessionID)
	if !ok {
		return
	}
	gs := s.gateState(gate)

	if dealer == s.id && !gs.proposedT {
		if vid, _, fin := s.css.WaitFinalized(msg.SessionID); fin {
			gs.proposedT = true
			s.acsSvc.Propose(acsTSessionID(gate), vid, acsCtx{adapter})
		}
	}
	s.tryFinish(gate, gs, ctx)
}

func (s *MultiplyService) onACS(msg acs.Message, ctx engine.ServiceContext[Message, Result]) {
	adapter := mulAdapter{outer: ctx}
	s.acsSvc.OnMessage(msg, acsCtx{adapter})

	inner, ok := innerACSSessionID(msg)
	if !ok {
		return
	}
	acsSessID, ok := acsOuterSessionID(inner)
	if !ok {
		return
	}
	gate, ok := strings.CutSuffix(acsSessID, "/acs-T")
	if !ok {
		return
	}
	gs := s.gateState(gate)

	if !gs.tKnown {
		if set, decided := s.acsSvc.Decided(acsTSessionID(gate)); decided {
			gs.tKnown = true
			gs.tSet = set
		}
	}
	s.tryFinish(gate, gs, ctx)
}

// tryFinish recombines gate's product once T is known and this party holds
// a share of every reshare dealt by a party in T (spec.md §4.7 steps 3-4):
// the directly received share if there is one, otherwise the share derived
// from the finalized defining points (css.Service.GetShare).
func (s *MultiplyService) tryFinish(gate string, gs *gateState, ctx engine.ServiceContext[Message, Result]) {
	if gs.finished || !gs.tKnown {
		return
	}

	xs := make([]field.Element, 0, len(gs.tSet))
	ys := make([]field.Element, 0, len(gs.tSet))
	for _, k := range gs.tSet {
		share, ok := s.css.GetShare(reshareSessionID(gate, k))
		if !ok {
			return
		}
		xs = append(xs, field.FromInt64(int64(k)))
		ys = append(ys, share)
	}

	lambdas := field.LagrangeCoefficientsAtZero(xs)
	product := field.Zero()
	for i, lambda := range lambdas {
		product = product.Add(lambda.Mul(ys[i]))
	}
	gs.finished = true

	s.logger.Debug().Str("gate", gate).Ints("t", gs.tSet).Msg("multiplication gate recombined")
	ctx.SendResult(Result{Gate: gate, Product: product})
}

// splitReshareSession splits "mul/<gate>/reshare/<dealer>" back into its
// parts, tolerating a gate tag that itself contains slashes.
func splitReshareSession(full string) (gate string, dealer int, ok bool) {
	const sep = "/reshare/"
	pos := strings.LastIndex(full, sep)
	if pos < 0 {
		return "", 0, false
	}
	d, err := strconv.Atoi(full[pos+len(sep):])
	if err != nil {
		return "", 0, false
	}
	gate, ok = strings.CutPrefix(full[:pos], "mul/")
	if !ok {
		return "", 0, false
	}
	return gate, d, true
}

func innerACSSessionID(msg acs.Message) (string, bool) {
	switch {
	case msg.RBC != nil:
		return msg.RBC.SessionID, true
	case msg.BA != nil:
		return msg.BA.SessionID, true
	default:
		return "", false
	}
}

// acsOuterSessionID strips an ACS sub-protocol's "/rbc/<j>" or "/ba/<k>"
// suffix to recover the ACS instance's own session id.
func acsOuterSessionID(inner string) (string, bool) {
	if pos := strings.LastIndex(inner, "/rbc/"); pos >= 0 {
		return inner[:pos], true
	}
	if pos := strings.LastIndex(inner, "/ba/"); pos >= 0 {
		return inner[:pos], true
	}
	return "", false
}
