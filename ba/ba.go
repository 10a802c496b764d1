// Package ba implements the coin-driven asynchronous Binary Agreement of
// spec.md §4.4: a Ben-Or-style single-phase-per-round vote, escalating to
// the shared beacon.Beacon whenever neither a strong nor a weak majority
// forms. Grounded on the teacher's services/aba.go round-buffering shape
// (futureMsgs keyed by round) and services/vote.go's threshold tallying,
// collapsed from its two-phase pre-vote/main-vote structure down to the
// single VOTE message spec.md defines, since the teacher's extra phase
// exists to survive equivocating Byzantine voters and the fault model here
// is omission-only.
package ba

import (
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
)

// MsgType is the closed BA message enum of spec.md §3. coin is a loopback
// message type, never sent over the network: it lets the beacon result for
// a round reach the single-threaded instance loop without blocking it.
type MsgType int

const (
	Vote MsgType = iota
	Decide
	coin
)

func (m MsgType) String() string {
	switch m {
	case Vote:
		return "BA_VOTE"
	case Decide:
		return "BA_DECIDE"
	case coin:
		return "BA_COIN"
	default:
		return "BA_UNKNOWN"
	}
}

// Message is the wire record exchanged by BA instances. Est is the round
// estimate (Vote) or the decided bit (Decide); both are 0/1.
type Message struct {
	Type      MsgType
	SessionID string
	Round     int
	Est       int
	From      int
}

// Result is emitted once an instance decides.
type Result struct {
	SessionID string
	Decision  int
}

type roundVotes struct {
	counts  [2]map[int]bool // Est -> set of voters
	voted   bool
}

func newRoundVotes() *roundVotes {
	return &roundVotes{counts: [2]map[int]bool{make(map[int]bool), make(map[int]bool)}}
}

type instance struct {
	rounds       map[int]*roundVotes
	decideVotes  map[int]map[int]bool // bit -> set of DECIDE senders
	sentDecide   map[int]bool         // bit -> already amplified
	decided      bool
	decision     int
	curRound     int
	curEst       int
	started      bool
	coinPending  bool // current round is waiting on a beacon result
}

func newInstance() *instance {
	return &instance{
		rounds:      make(map[int]*roundVotes),
		decideVotes: map[int]map[int]bool{0: make(map[int]bool), 1: make(map[int]bool)},
		sentDecide:  make(map[int]bool),
	}
}

func (inst *instance) round(r int) *roundVotes {
	if inst.rounds[r] == nil {
		inst.rounds[r] = newRoundVotes()
	}
	return inst.rounds[r]
}

// Service runs every live BA instance hosted by one party.
type Service struct {
	id        int
	n, f      int
	beacon    *beacon.Beacon
	instances map[string]*instance
	logger    zerolog.Logger

	// selfInbox lets a resolved coin flip reach OnMessage as a normal
	// message instead of blocking the caller's goroutine on the beacon
	// channel: it is set via Bind once the owning engine.ServiceManager's
	// inbox channel is known.
	selfInbox chan Message
}

// New builds a BA service for party id in an n-party, f-fault system,
// sourcing its common coin from the shared beacon. Bind must be called
// with the manager's own inbox before any instance can reach a coin flip.
func New(id, n, f int, bcn *beacon.Beacon, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f, beacon: bcn,
		instances: make(map[string]*instance),
		logger:    log.With().Str("layer", "BA").Int("party_id", id).Logger().Level(logLevel),
	}
}

// Bind wires the service to its own ServiceManager inbox so that a
// resolved common-coin value can be delivered back through the normal
// single-threaded message loop.
func (s *Service) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox
}

func (s *Service) inst(sessionID string) *instance {
	if s.instances[sessionID] == nil {
		s.instances[sessionID] = newInstance()
	}
	return s.instances[sessionID]
}

// Propose starts a BA instance with initial estimate est (0 or 1).
func (s *Service) Propose(sessionID string, est int, ctx engine.ServiceContext[Message, Result]) {
	inst := s.inst(sessionID)
	if inst.started {
		return
	}
	inst.started = true
	inst.curRound = 0
	inst.curEst = est
	s.broadcastVote(sessionID, 0, est, ctx)
}

func (s *Service) broadcastVote(sessionID string, round, est int, ctx engine.ServiceContext[Message, Result]) {
	s.logger.Debug().Str("session", sessionID).Int("round", round).Int("est", est).Msg("broadcasting VOTE")
	ctx.Broadcast(Message{Type: Vote, SessionID: sessionID, Round: round, Est: est, From: s.id})
}

// OnMessage implements engine.Service.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	inst := s.inst(msg.SessionID)
	if inst.decided && msg.Type != Decide {
		return
	}

	switch msg.Type {
	case Vote:
		s.onVote(msg, inst, ctx)
	case Decide:
		s.onDecide(msg, inst, ctx)
	case coin:
		s.onCoin(msg, inst, ctx)
	}
}

func (s *Service) onVote(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	rv := inst.round(msg.Round)
	if rv.counts[msg.Est] == nil {
		return
	}
	rv.counts[msg.Est][msg.From] = true

	if len(rv.counts[msg.Est]) >= s.n-s.f {
		// Strong majority: decide this bit and amplify via DECIDE. The
		// round still advances independently for any party that hasn't
		// itself reached this majority yet.
		s.decide(msg.SessionID, msg.Est, inst, ctx)
		return
	}

	s.maybeAdvance(msg.SessionID, msg.Round, inst, ctx)
}

// maybeAdvance checks whether the current round has accumulated n-f total
// votes (across both bits); if so it classifies the round per spec.md §4.4
// and either keeps/adopts an estimate for the next round or escalates to
// the beacon. The coin branch does not block: it requests the beacon
// asynchronously and resumes in onCoin once it resolves.
func (s *Service) maybeAdvance(sessionID string, round int, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if round != inst.curRound || inst.rounds[round].voted {
		return
	}
	rv := inst.rounds[round]
	total := len(rv.counts[0]) + len(rv.counts[1])
	if total < s.n-s.f {
		return
	}
	rv.voted = true

	switch {
	case len(rv.counts[1]) >= s.f+1 && len(rv.counts[0]) < s.f+1:
		s.nextRound(sessionID, round, 1, inst, ctx)
	case len(rv.counts[0]) >= s.f+1 && len(rv.counts[1]) < s.f+1:
		s.nextRound(sessionID, round, 0, inst, ctx)
	default:
		// Either both bits cleared a weak majority, or neither did:
		// ambiguous, defer to the coin.
		s.requestCoin(sessionID, round, inst)
	}
}

func (s *Service) nextRound(sessionID string, round, nextEst int, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	inst.curRound = round + 1
	inst.curEst = nextEst
	s.broadcastVote(sessionID, inst.curRound, inst.curEst, ctx)
}

func (s *Service) requestCoin(sessionID string, round int, inst *instance) {
	inst.coinPending = true
	coinIndex := sessionID + "/coin/" + strconv.Itoa(round)
	ch := s.beacon.Request(coinIndex, s.id)
	go func() {
		v := <-ch
		s.selfInbox <- Message{Type: coin, SessionID: sessionID, Round: round, Est: int(v.Int64() & 1), From: s.id}
	}()
}

func (s *Service) onCoin(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if inst.decided || !inst.coinPending || msg.Round != inst.curRound {
		return
	}
	inst.coinPending = false
	s.nextRound(msg.SessionID, msg.Round, msg.Est, inst, ctx)
}

func (s *Service) decide(sessionID string, bit int, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	if inst.decided {
		return
	}
	inst.decided = true
	inst.decision = bit
	s.logger.Info().Str("session", sessionID).Int("bit", bit).Msg("decided")
	ctx.SendResult(Result{SessionID: sessionID, Decision: bit})

	if !inst.sentDecide[bit] {
		inst.sentDecide[bit] = true
		ctx.Broadcast(Message{Type: Decide, SessionID: sessionID, Est: bit, From: s.id})
	}
}

func (s *Service) onDecide(msg Message, inst *instance, ctx engine.ServiceContext[Message, Result]) {
	inst.decideVotes[msg.Est][msg.From] = true

	if !inst.sentDecide[msg.Est] && len(inst.decideVotes[msg.Est]) >= s.f+1 {
		inst.sentDecide[msg.Est] = true
		ctx.Broadcast(Message{Type: Decide, SessionID: msg.SessionID, Est: msg.Est, From: s.id})
	}

	if !inst.decided && len(inst.decideVotes[msg.Est]) >= s.n-s.f {
		s.decide(msg.SessionID, msg.Est, inst, ctx)
	}
}

// Decided reports whether sessionID has decided, and if so, its bit.
func (s *Service) Decided(sessionID string) (bit int, ok bool) {
	inst, exists := s.instances[sessionID]
	if !exists || !inst.decided {
		return 0, false
	}
	return inst.decision, true
}
