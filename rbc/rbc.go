// Package rbc implements Bracha-style asynchronous Reliable Broadcast
// (spec.md §4.3). One instance exists per (sender, tag) session id; unlike
// a content-addressed broadcast, the session id here is assigned by the
// caller (the party orchestrator), not derived from the payload, so that
// every honest party can agree in advance which instance a given message
// belongs to.
package rbc

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/engine"
)

// MsgType is the closed RBC message enum of spec.md §3.
type MsgType int

const (
	Init MsgType = iota
	Echo
	Ready
)

func (m MsgType) String() string {
	switch m {
	case Init:
		return "RBC_INIT"
	case Echo:
		return "RBC_ECHO"
	case Ready:
		return "RBC_READY"
	default:
		return "RBC_UNKNOWN"
	}
}

// Message is the wire record exchanged by RBC instances.
type Message[T comparable] struct {
	Type      MsgType
	SessionID string
	Val       T
	From      int
}

type instance[T comparable] struct {
	receivedEcho  map[T]map[int]bool
	receivedReady map[T]map[int]bool
	sentEcho      bool
	sentReady     bool
	delivered     bool
	value         T
}

func newInstance[T comparable]() *instance[T] {
	return &instance[T]{
		receivedEcho:  make(map[T]map[int]bool),
		receivedReady: make(map[T]map[int]bool),
	}
}

// Service runs every live RBC instance hosted by one party. T is the
// broadcast value type (e.g. a VID string, or a []byte-backed type).
type Service[T comparable] struct {
	id        int
	n, f      int
	instances map[string]*instance[T]
	logger    zerolog.Logger
}

// New builds an RBC service for party id in an n-party, f-fault system.
func New[T comparable](id, n, f int, logLevel zerolog.Level) *Service[T] {
	return &Service[T]{
		id: id, n: n, f: f,
		instances: make(map[string]*instance[T]),
		logger: log.With().Str("layer", "RBC").Int("party_id", id).Logger().Level(logLevel),
	}
}

func (s *Service[T]) inst(sessionID string) *instance[T] {
	if _, ok := s.instances[sessionID]; !ok {
		s.instances[sessionID] = newInstance[T]()
	}
	return s.instances[sessionID]
}

// InitiateBroadcast is called by the designated sender to start a new RBC
// instance, equivalent to locally receiving RBC_INIT from itself.
func (s *Service[T]) InitiateBroadcast(sessionID string, val T, ctx engine.ServiceContext[Message[T], Message[T]]) {
	s.OnMessage(Message[T]{Type: Init, SessionID: sessionID, Val: val, From: s.id}, ctx)
}

// OnMessage implements engine.Service. TRes is reused as Message[T]: a
// delivered value is surfaced as a synthetic Ready message the caller can
// recognize via Delivered.
func (s *Service[T]) OnMessage(msg Message[T], ctx engine.ServiceContext[Message[T], Message[T]]) {
	inst := s.inst(msg.SessionID)
	if inst.delivered {
		return
	}

	addToSet := func(m map[T]map[int]bool, val T, from int) int {
		if m[val] == nil {
			m[val] = make(map[int]bool)
		}
		m[val][from] = true
		return len(m[val])
	}

	switch msg.Type {
	case Init:
		if !inst.sentEcho {
			inst.sentEcho = true
			s.logger.Debug().Str("session", msg.SessionID).Msg("broadcasting ECHO")
			ctx.Broadcast(Message[T]{Type: Echo, SessionID: msg.SessionID, Val: msg.Val, From: s.id})
		}

	case Echo:
		count := addToSet(inst.receivedEcho, msg.Val, msg.From)
		if count >= s.n-s.f && !inst.sentReady {
			inst.sentReady = true
			s.logger.Debug().Str("session", msg.SessionID).Int("count", count).Msg("ECHO threshold reached, broadcasting READY")
			ctx.Broadcast(Message[T]{Type: Ready, SessionID: msg.SessionID, Val: msg.Val, From: s.id})
		}

	case Ready:
		count := addToSet(inst.receivedReady, msg.Val, msg.From)

		if count >= s.f+1 && !inst.sentReady {
			inst.sentReady = true
			s.logger.Debug().Str("session", msg.SessionID).Int("count", count).Msg("READY amplification threshold reached")
			ctx.Broadcast(Message[T]{Type: Ready, SessionID: msg.SessionID, Val: msg.Val, From: s.id})
		}

		if count >= s.n-s.f && !inst.delivered {
			inst.delivered = true
			inst.value = msg.Val
			inst.receivedEcho = nil
			inst.receivedReady = nil
			s.logger.Info().Str("session", msg.SessionID).Msg("delivered")
			ctx.SendResult(Message[T]{Type: Ready, SessionID: msg.SessionID, Val: msg.Val, From: msg.From})
		}
	}
}

// Delivered reports whether sessionID has delivered, and if so, its value.
func (s *Service[T]) Delivered(sessionID string) (val T, ok bool) {
	inst, exists := s.instances[sessionID]
	if !exists || !inst.delivered {
		return val, false
	}
	return inst.value, true
}
