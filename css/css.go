// Package css implements Complete Secret Sharing (spec.md §4.6): a
// degree-f Shamir dealing hardened by an echo/ready quorum, collapsed from
// the teacher's bivariate-polynomial/M-set IVSS (services/ivss.go) down to
// univariate sharing, since omission-only faults mean no dealer can ever
// distribute inconsistent points — the hard Byzantine-consistency
// machinery IVSS needs (M-set clique building, bivariate cross-checks)
// has nothing to defend against here.
package css

import (
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/errs"
	"sealed-auction-mpc/field"
)

// MsgType is the closed CSS message enum of spec.md §3, plus a private
// Open variant backing the recover/recover_to_party operations.
type MsgType int

const (
	Share MsgType = iota
	Echo
	Ready
	Open
)

func (m MsgType) String() string {
	switch m {
	case Share:
		return "CSS_SHARE"
	case Echo:
		return "CSS_ECHO"
	case Ready:
		return "CSS_READY"
	case Open:
		return "CSS_OPEN"
	default:
		return "CSS_UNKNOWN"
	}
}

// Point is one (index, value) evaluation of a dealt polynomial.
type Point struct {
	Index int
	Value field.Element
}

// Message is the wire record exchanged by CSS instances.
type Message struct {
	Type      MsgType
	SessionID string
	From      int
	To        int // Share/Open-to-target: intended recipient; 0 means broadcast
	Share     field.Element
	EchoValue field.Element
	VID       string
	Points    []Point
}

// Result is emitted once an instance finalizes, and again (tagged
// separately) once a recover/recover_to_party resolves.
type Result struct {
	SessionID string
	VID       string
	OwnShare  field.Element
	Finalized bool

	Recovered bool
	Secret    field.Element
}

type openState struct {
	shares   map[int]field.Element
	resolved bool
}

type instance struct {
	degree int

	haveOwnShare bool
	ownShare     field.Element

	sentEcho bool
	echoes   map[int]field.Element

	readyVotes  map[string]map[int]bool
	readyPoints map[string][]Point
	sentReady   bool

	finalized bool
	finalVID  string
	finalPts  []Point

	invalid    bool
	invalidErr error

	open *openState // set lazily on the first Open message for this instance
}

func newInstance(degree int) *instance {
	return &instance{
		degree:      degree,
		echoes:      make(map[int]field.Element),
		readyVotes:  make(map[string]map[int]bool),
		readyPoints: make(map[string][]Point),
	}
}

// Service runs every live CSS instance hosted by one party.
type Service struct {
	id        int
	n, f      int
	instances map[string]*instance
	logger    zerolog.Logger
}

// New builds a CSS service for party id in an n-party, f-fault system.
func New(id, n, f int, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f,
		instances: make(map[string]*instance),
		logger:    log.With().Str("layer", "CSS").Int("party_id", id).Logger().Level(logLevel),
	}
}

func (s *Service) inst(sessionID string) *instance {
	if s.instances[sessionID] == nil {
		s.instances[sessionID] = newInstance(s.f)
	}
	return s.instances[sessionID]
}

// Share is called by the dealer to start a new CSS instance: it samples a
// degree-f polynomial with the given constant term and privately sends
// each party its evaluation.
func (s *Service) Share(sessionID string, secret field.Element, sampler field.Sampler, ctx engine.ServiceContext[Message, Result]) {
	poly := field.RandomPolynomial(s.f, secret, sampler)
	for j := 1; j <= s.n; j++ {
		val := poly.Eval(field.FromInt64(int64(j)))
		ctx.Send(j, Message{Type: Share, SessionID: sessionID, From: s.id, To: j, Share: val})
	}
}

// OnMessage implements engine.Service.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	inst := s.inst(msg.SessionID)

	switch msg.Type {
	case Share:
		s.onShare(msg, inst, ctx)
	case Echo:
		s.onEcho(msg, inst, ctx)
	case Ready:
		s.onReady(msg, inst, ctx)
	case Open:
		s.onOpen(msg, inst, ctx)
	}
}

func (s *Service) onShare(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if msg.To != s.id {
		return
	}
	inst.haveOwnShare = true
	inst.ownShare = msg.Share
	if !inst.sentEcho {
		inst.sentEcho = true
		ctx.Broadcast(Message{Type: Echo, SessionID: msg.SessionID, From: s.id, EchoValue: msg.Share})
	}
}

func (s *Service) onEcho(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if inst.finalized || inst.invalid {
		return
	}
	inst.echoes[msg.From] = msg.EchoValue

	if inst.sentReady || len(inst.echoes) < s.n-s.f {
		return
	}

	// Any f+1 of the received echoes pin the unique degree-f polynomial
	// under omission-only faults (every echo is a truthful evaluation of
	// the same q); reconstruct all n of its points so every honest party
	// that reaches this branch computes byte-identical defining points,
	// regardless of which n-f subset it happened to collect first.
	indices := make([]int, 0, len(inst.echoes))
	for idx := range inst.echoes {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	indices = indices[:s.f+1]

	xs := make([]field.Element, s.f+1)
	ys := make([]field.Element, s.f+1)
	for i, idx := range indices {
		xs[i] = field.FromInt64(int64(idx))
		ys[i] = inst.echoes[idx]
	}

	points := make([]Point, s.n)
	for k := 1; k <= s.n; k++ {
		points[k-1] = Point{Index: k, Value: field.LagrangeAt(xs, ys, field.FromInt64(int64(k)))}
	}

	// Cross-check every other received echo against the reconstructed
	// polynomial. Unreachable under honest dealing or omission-only faults
	// (every echo is a truthful evaluation of the same q), but two echoes
	// evidencing distinct polynomials is the INVALID transition spec.md
	// §4.6 requires for completeness.
	for idx, val := range inst.echoes {
		if !val.Equal(points[idx-1].Value) {
			inst.invalid = true
			inst.invalidErr = errs.ErrInvalidShare
			s.logger.Error().Err(errs.ErrInvalidShare).Str("session", msg.SessionID).Int("party", idx).Msg("echo inconsistent with reconstructed polynomial")
			return
		}
	}

	vid := hashPoints(points)

	inst.sentReady = true
	s.logger.Debug().Str("session", msg.SessionID).Str("vid", vid).Msg("ECHO threshold reached, broadcasting READY")
	ctx.Broadcast(Message{Type: Ready, SessionID: msg.SessionID, From: s.id, VID: vid, Points: points})
}

func (s *Service) onReady(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if inst.finalized || inst.invalid {
		return
	}
	if inst.readyVotes[msg.VID] == nil {
		inst.readyVotes[msg.VID] = make(map[int]bool)
		inst.readyPoints[msg.VID] = msg.Points
	}
	inst.readyVotes[msg.VID][msg.From] = true

	if len(inst.readyVotes[msg.VID]) < s.n-s.f {
		return
	}

	points := inst.readyPoints[msg.VID]
	var own field.Element
	for _, p := range points {
		if p.Index == s.id {
			own = p.Value
			break
		}
	}

	inst.finalized = true
	inst.finalVID = msg.VID
	inst.finalPts = points
	s.logger.Info().Str("session", msg.SessionID).Str("vid", msg.VID).Msg("finalized")
	ctx.SendResult(Result{SessionID: msg.SessionID, VID: msg.VID, OwnShare: own, Finalized: true})
}

// Recover broadcasts this party's own share as an Open message under the
// instance's own session id and waits (via further OnMessage/Open deliveries)
// for f+1 shares to interpolate the secret at 0.
func (s *Service) Recover(sessionID string, ctx engine.ServiceContext[Message, Result]) {
	own, ok := s.GetShare(sessionID)
	if !ok {
		return
	}
	ctx.Broadcast(Message{Type: Open, SessionID: sessionID, From: s.id, Share: own})
}

// RecoverToParty privately sends this party's own finalized share to
// target, who alone can reconstruct the secret once f+1 such shares
// arrive.
func (s *Service) RecoverToParty(sessionID string, target int, ctx engine.ServiceContext[Message, Result]) {
	own, ok := s.GetShare(sessionID)
	if !ok {
		return
	}
	ctx.Send(target, Message{Type: Open, SessionID: sessionID, From: s.id, To: target, Share: own})
}

func (s *Service) onOpen(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if msg.To != 0 && msg.To != s.id {
		return
	}
	if inst.open == nil {
		inst.open = &openState{shares: make(map[int]field.Element)}
	}
	op := inst.open
	if op.resolved {
		return
	}
	op.shares[msg.From] = msg.Share
	if len(op.shares) < s.f+1 {
		return
	}

	xs := make([]field.Element, 0, s.f+1)
	ys := make([]field.Element, 0, s.f+1)
	indices := make([]int, 0, len(op.shares))
	for idx := range op.shares {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices[:s.f+1] {
		xs = append(xs, field.FromInt64(int64(idx)))
		ys = append(ys, op.shares[idx])
	}
	secret := field.LagrangeAtZero(xs, ys)
	op.resolved = true

	s.logger.Info().Str("session", msg.SessionID).Msg("recovered secret")
	ctx.SendResult(Result{SessionID: msg.SessionID, Recovered: true, Secret: secret})
}

// WaitFinalized reports whether sessionID has finalized, and if so, its
// (vid, own_share).
func (s *Service) WaitFinalized(sessionID string) (vid string, ownShare field.Element, ok bool) {
	inst, exists := s.instances[sessionID]
	if !exists || !inst.finalized {
		return "", field.Element{}, false
	}
	return inst.finalVID, s.ownShareOf(inst), true
}

// Err returns the fatal error recorded for sessionID once its instance has
// transitioned to INVALID (spec.md §4.6), or nil otherwise.
func (s *Service) Err(sessionID string) error {
	inst, exists := s.instances[sessionID]
	if !exists {
		return nil
	}
	return inst.invalidErr
}

// GetShare returns the party's own share for sessionID, deriving it from
// the finalized defining points if the direct CSS_SHARE was never
// received (dealer omitted).
func (s *Service) GetShare(sessionID string) (field.Element, bool) {
	inst, exists := s.instances[sessionID]
	if !exists {
		return field.Element{}, false
	}
	if inst.finalized {
		return s.ownShareOf(inst), true
	}
	if inst.haveOwnShare {
		return inst.ownShare, true
	}
	return field.Element{}, false
}

func (s *Service) ownShareOf(inst *instance) field.Element {
	if inst.haveOwnShare {
		return inst.ownShare
	}
	for _, p := range inst.finalPts {
		if p.Index == s.id {
			return p.Value
		}
	}
	return field.Element{}
}

// hashPoints computes the CSS VID: a blake3 digest of the party-id-sorted
// defining points of a finalized polynomial (spec.md §3/§4.6).
func hashPoints(points []Point) string {
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	h := blake3.New()
	for _, p := range sorted {
		h.Write([]byte(strconv.Itoa(p.Index)))
		h.Write([]byte{0})
		b := p.Value.Bytes16()
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
