// Package outputpriv implements mask-and-open owner-private unmask
// (spec.md §4.9): every party deals a random mask contribution via CSS, an
// internal ACS instance agrees on which n-f contributions actually count
// (the same liveness move mpcarith.go makes for degree reduction's T, so a
// single omitting mask-dealer can never stall the unmask), the combined
// mask is summed locally and used to publicly open a masked output, and
// each party privately relays its own share of the combined mask to the
// output's owner, who alone reconstructs the mask and recovers its output.
// Grounded on mpcarith.go's composition-by-adapter idiom, generalized one
// more step to add a bespoke private-relay message alongside CSS/ACS/open
// traffic.
package outputpriv

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
	"sealed-auction-mpc/mpcarith"
)

// Share is a degree-f share, as used throughout mpcarith.
type Share = field.Element

// MaskShareMessage privately relays one party's share of a combined output
// mask to the mask's owner (spec.md §3's MASK_SHARE).
type MaskShareMessage struct {
	SessionID string
	From      int
	Owner     int
	Share     Share
}

// Message is the outer envelope multiplexing CSS, ACS, public-open, and
// MASK_SHARE traffic for every live unmask instance hosted by one party.
type Message struct {
	CSS  *css.Message
	ACS  *acs.Message
	Open *mpcarith.OpenMessage
	Mask *MaskShareMessage
}

func (m Message) String() string {
	switch {
	case m.CSS != nil:
		return m.CSS.Type.String()
	case m.ACS != nil:
		return m.ACS.String()
	case m.Open != nil:
		return m.Open.String()
	case m.Mask != nil:
		return "MASK_SHARE"
	default:
		return "OUTPUT_UNKNOWN"
	}
}

// Result is emitted once the owner of a masked output has recovered it.
// Only the owner's own ServiceManager ever sees a Result for its session.
type Result struct {
	Owner int
	Value Share
}

type adapter struct {
	outer engine.ServiceContext[Message, Result]
}

type cssCtx struct{ a adapter }

func (c cssCtx) Broadcast(msg css.Message)    { c.a.outer.Broadcast(Message{CSS: &msg}) }
func (c cssCtx) Send(to int, msg css.Message) { c.a.outer.Send(to, Message{CSS: &msg}) }
func (c cssCtx) SendResult(css.Result)        {}

type acsCtx struct{ a adapter }

func (c acsCtx) Broadcast(msg acs.Message) { c.a.outer.Broadcast(Message{ACS: &msg}) }
func (c acsCtx) Send(int, acs.Message)     {}
func (c acsCtx) SendResult(acs.Result)     {}

type openCtx struct {
	a   adapter
	s   *Service
	owner int
}

func (c openCtx) Broadcast(msg mpcarith.OpenMessage) { c.a.outer.Broadcast(Message{Open: &msg}) }
func (c openCtx) Send(int, mpcarith.OpenMessage)     {}
func (c openCtx) SendResult(res mpcarith.OpenResult) {
	gs := c.s.gate(ownerSession(c.owner))
	gs.yKnown = true
	gs.yValue = res.Value
	c.s.tryFinish(c.owner, gs, c.a.outer)
}

type gateState struct {
	oShare Share

	proposedT bool
	tKnown    bool
	tSet      []int

	combinedKnown bool
	combined      Share

	yOpened bool
	yKnown  bool
	yValue  Share

	maskShares map[int]Share // from -> combined mask share (owner-side only)
	sentMask   bool

	finished bool
}

func newGateState() *gateState {
	return &gateState{maskShares: make(map[int]Share)}
}

// Service runs every live unmask instance hosted by one party.
type Service struct {
	id, n, f int
	css      *css.Service
	acsSvc   *acs.Service
	openSvc  *mpcarith.OpenService
	sampler  field.Sampler
	gates    map[string]*gateState
	logger   zerolog.Logger

	selfInbox chan Message
}

// New builds an outputpriv Service for party id in an n-party, f-fault
// system.
func New(id, n, f int, bcn *beacon.Beacon, sampler field.Sampler, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f,
		css:     css.New(id, n, f, logLevel),
		acsSvc:  acs.New(id, n, f, bcn, logLevel),
		openSvc: mpcarith.NewOpenService(id, n, f, logLevel),
		sampler: sampler,
		gates:   make(map[string]*gateState),
		logger:  log.With().Str("layer", "OUTPUT").Int("party_id", id).Logger().Level(logLevel),
	}
}

// Bind wires the service to its own ServiceManager inbox, forwarded down to
// the internal acs.Service for BA coin-flip loopback.
func (s *Service) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox
	ch := make(chan acs.Message, 16)
	go func() {
		for m := range ch {
			s.selfInbox <- Message{ACS: &m}
		}
	}()
	s.acsSvc.Bind(ch)
}

func ownerSession(owner int) string { return "mask/" + strconv.Itoa(owner) }

func maskShareSessionID(owner, dealer int) string {
	return ownerSession(owner) + "/share/" + strconv.Itoa(dealer)
}

func maskAcsSessionID(owner int) string { return ownerSession(owner) + "/acs-T" }

func maskOpenSessionID(owner int) string { return ownerSession(owner) + "/open" }

func (s *Service) gate(session string) *gateState {
	if s.gates[session] == nil {
		s.gates[session] = newGateState()
	}
	return s.gates[session]
}

// Unmask starts this party's participation in owner's mask-and-open
// sequence: it deals a random mask contribution and remembers oShare (its
// share of the value to be privately delivered to owner) for later use
// once the combined mask and the public open both resolve.
func (s *Service) Unmask(owner int, oShare Share, ctx engine.ServiceContext[Message, Result]) {
	session := ownerSession(owner)
	gs := s.gate(session)
	gs.oShare = oShare

	a := adapter{outer: ctx}
	s.css.Share(maskShareSessionID(owner, s.id), s.sampler.Rand(), s.sampler, cssCtx{a})
}

// OnMessage implements engine.Service.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	switch {
	case msg.CSS != nil:
		s.onCSS(*msg.CSS, ctx)
	case msg.ACS != nil:
		s.onACS(*msg.ACS, ctx)
	case msg.Open != nil:
		owner, ok := ownerOfSession(strings.TrimSuffix(msg.Open.SessionID, "/open"))
		if !ok {
			return
		}
		a := adapter{outer: ctx}
		s.openSvc.OnMessage(*msg.Open, openCtx{a: a, s: s, owner: owner})
	case msg.Mask != nil:
		s.onMask(*msg.Mask, ctx)
	}
}

func (s *Service) onCSS(msg css.Message, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	s.css.OnMessage(msg, cssCtx{a})

	owner, dealer, ok := splitMaskShareSession(msg.SessionID)
	if !ok {
		return
	}
	gs := s.gate(ownerSession(owner))

	if dealer == s.id && !gs.proposedT {
		if vid, _, fin := s.css.WaitFinalized(msg.SessionID); fin {
			gs.proposedT = true
			s.acsSvc.Propose(maskAcsSessionID(owner), vid, acsCtx{a})
		}
	}
	s.tryCombine(owner, gs, ctx)
}

func (s *Service) onACS(msg acs.Message, ctx engine.ServiceContext[Message, Result]) {
	a := adapter{outer: ctx}
	s.acsSvc.OnMessage(msg, acsCtx{a})

	inner, ok := innerACSSessionID(msg)
	if !ok {
		return
	}
	owner, ok := ownerOfACSInner(inner)
	if !ok {
		return
	}
	gs := s.gate(ownerSession(owner))

	if !gs.tKnown {
		if set, decided := s.acsSvc.Decided(maskAcsSessionID(owner)); decided {
			gs.tKnown = true
			gs.tSet = set
		}
	}
	s.tryCombine(owner, gs, ctx)
}

// tryCombine sums this party's own share of every dealer in the agreed set
// T once both T and every such share are available, then fires the public
// open of the masked output and relays this party's combined-mask share to
// the owner.
func (s *Service) tryCombine(owner int, gs *gateState, ctx engine.ServiceContext[Message, Result]) {
	if gs.combinedKnown || !gs.tKnown {
		return
	}

	sum := field.Zero()
	for _, k := range gs.tSet {
		share, ok := s.css.GetShare(maskShareSessionID(owner, k))
		if !ok {
			return
		}
		sum = sum.Add(share)
	}
	gs.combinedKnown = true
	gs.combined = sum

	a := adapter{outer: ctx}
	if !gs.yOpened {
		gs.yOpened = true
		y := gs.oShare.Add(gs.combined)
		s.openSvc.Open(maskOpenSessionID(owner), y, openCtx{a: a, s: s, owner: owner})
	}
	if !gs.sentMask {
		gs.sentMask = true
		ctx.Send(owner, Message{Mask: &MaskShareMessage{
			SessionID: ownerSession(owner), From: s.id, Owner: owner, Share: gs.combined,
		}})
	}
}

func (s *Service) onMask(msg MaskShareMessage, ctx engine.ServiceContext[Message, Result]) {
	if msg.Owner != s.id {
		return
	}
	gs := s.gate(ownerSession(msg.Owner))
	gs.maskShares[msg.From] = msg.Share
	s.tryFinish(msg.Owner, gs, ctx)
}

// tryFinish recovers owner's mask once f+1 MASK_SHARE relays have arrived
// and the masked value has been publicly opened, then emits the plaintext
// output o_owner = y_owner - r_owner.
func (s *Service) tryFinish(owner int, gs *gateState, ctx engine.ServiceContext[Message, Result]) {
	if gs.finished || owner != s.id || !gs.yKnown || len(gs.maskShares) < s.f+1 {
		return
	}

	indices := make([]int, 0, len(gs.maskShares))
	for idx := range gs.maskShares {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	indices = indices[:s.f+1]

	xs := make([]field.Element, s.f+1)
	ys := make([]field.Element, s.f+1)
	for i, idx := range indices {
		xs[i] = field.FromInt64(int64(idx))
		ys[i] = gs.maskShares[idx]
	}
	mask := field.LagrangeAtZero(xs, ys)
	output := gs.yValue.Sub(mask)
	gs.finished = true

	s.logger.Info().Int("owner", owner).Msg("output unmasked")
	ctx.SendResult(Result{Owner: owner, Value: output})
}

func splitMaskShareSession(full string) (owner, dealer int, ok bool) {
	const sep = "/share/"
	pos := strings.LastIndex(full, sep)
	if pos < 0 {
		return 0, 0, false
	}
	d, err := strconv.Atoi(full[pos+len(sep):])
	if err != nil {
		return 0, 0, false
	}
	ownerStr, ok := strings.CutPrefix(full[:pos], "mask/")
	if !ok {
		return 0, 0, false
	}
	o, err := strconv.Atoi(ownerStr)
	if err != nil {
		return 0, 0, false
	}
	return o, d, true
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

func ownerOfACSInner(inner string) (int, bool) {
	outer := inner
	if pos := strings.LastIndex(outer, "/rbc/"); pos >= 0 {
		outer = outer[:pos]
	} else if pos := strings.LastIndex(outer, "/ba/"); pos >= 0 {
		outer = outer[:pos]
	} else {
		return 0, false
	}
	ownerStr, ok := strings.CutPrefix(strings.TrimSuffix(outer, "/acs-T"), "mask/")
	if !ok {
		return 0, false
	}
	o, err := strconv.Atoi(ownerStr)
	if err != nil {
		return 0, false
	}
	return o, true
}

func ownerOfSession(session string) (int, bool) {
	ownerStr, ok := strings.CutPrefix(session, "mask/")
	if !ok {
		return 0, false
	}
	o, err := strconv.Atoi(ownerStr)
	if err != nil {
		return 0, false
	}
	return o, true
}
