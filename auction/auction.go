// Package auction implements the sealed second-price auction circuit
// (spec.md §4.8): a thin client of mpcarith's share arithmetic and
// multiplication/open primitives. No new distributed agreement is
// introduced here — only a fixed sequence of additions and multiplications
// on shares, expressed as a small data-driven instruction list so the
// circuit's shape (which mirrors a real arithmetic-circuit evaluator) is
// declared once and then driven step by step as gate results arrive,
// exactly the way mpcarith.go drives css/acs sub-protocols to completion.
package auction

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sealed-auction-mpc/beacon"
	"sealed-auction-mpc/engine"
	"sealed-auction-mpc/field"
	"sealed-auction-mpc/mpcarith"
)

// BitWidth is the bid width in bits: bids lie in [0, 32).
const BitWidth = 5

// Share is a degree-f share, as used throughout mpcarith.
type Share = mpcarith.Share

// one and zero are the trivial constant sharings of known public values:
// every party's "share" of a known constant is just that constant, since
// the degree-f polynomial q(x) = constant is already consistent across all
// parties without any dealing.
func one() Share  { return field.FromInt64(1) }
func zero() Share { return field.FromInt64(0) }

type instrKind int

const (
	instrMul instrKind = iota
	instrLocal
)

// instr is one circuit step. A Mul step names two input registers and
// blocks the circuit's single program counter until its product arrives;
// a Local step runs immediately, synchronously.
type instr struct {
	kind   instrKind
	tag    string
	a, b   string
	out    string
	locals func(regs map[string]Share) Share
}

func mulInstr(tag, a, b, out string) instr {
	return instr{kind: instrMul, tag: tag, a: a, b: b, out: out}
}

func localInstr(out string, fn func(regs map[string]Share) Share) instr {
	return instr{kind: instrLocal, out: out, locals: fn}
}

// bitReg names the input-bit register for party p's bid, bit index i (0 =
// MSB, BitWidth-1 = LSB).
func bitReg(p, i int) string { return fmt.Sprintf("bit/%d/%d", p, i) }

// buildGT appends the pairwise greater-than circuit (spec.md §4.8: MSB-to-LSB
// prefix scan, 3 multiplications per bit) comparing party p's bid against
// party q's, storing the final 0/1 indicator in outReg.
func buildGT(p, q int, outReg string) []instr {
	tag := fmt.Sprintf("gt/%d-%d", p, q)
	var prog []instr

	seReg := func(i int) string { return tag + "/se" + itoa(i) }
	prog = append(prog, localInstr(seReg(0), func(map[string]Share) Share { return one() }))

	accReg := tag + "/acc0"
	prog = append(prog, localInstr(accReg, func(map[string]Share) Share { return zero() }))

	for i := 0; i < BitWidth; i++ {
		a, b := bitReg(p, i), bitReg(q, i)
		xyReg := tag + "/xy" + itoa(i)
		eReg := tag + "/e" + itoa(i)
		gtReg := tag + "/gt" + itoa(i)
		contribReg := tag + "/contrib" + itoa(i)
		nextAcc := tag + "/acc" + itoa(i+1)

		prog = append(prog, mulInstr(tag+"/mulxy"+itoa(i), a, b, xyReg))
		prog = append(prog, localInstr(eReg, func(a, b, xy string) func(map[string]Share) Share {
			return func(regs map[string]Share) Share {
				return one().Sub(regs[a]).Sub(regs[b]).Add(regs[xy].ScalarMul(2))
			}
		}(a, b, xyReg)))
		prog = append(prog, localInstr(gtReg, func(a, xy string) func(map[string]Share) Share {
			return func(regs map[string]Share) Share { return regs[a].Sub(regs[xy]) }
		}(a, xyReg)))

		prog = append(prog, mulInstr(tag+"/mulcontrib"+itoa(i), seReg(i), gtReg, contribReg))
		prog = append(prog, mulInstr(tag+"/mulse"+itoa(i), seReg(i), eReg, seReg(i+1)))
		prog = append(prog, localInstr(nextAcc, func(acc, contrib string) func(map[string]Share) Share {
			return func(regs map[string]Share) Share { return regs[acc].Add(regs[contrib]) }
		}(accReg, contribReg)))
		accReg = nextAcc
	}

	final := accReg
	prog = append(prog, localInstr(outReg, func(final string) func(map[string]Share) Share {
		return func(regs map[string]Share) Share { return regs[final] }
	}(final)))
	return prog
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func gtReg(p, q int) string { return fmt.Sprintf("gt/%d-%d/result", p, q) }

// BuildCircuit assembles the full auction program for active set parties
// (exactly n-f=3 entries, in any order): every pairwise GT, the winner and
// second-price indicators, the shared second-price value, and each active
// party's output share, left in register "out/<party>" as [o_i]. Masking
// and publicly opening each output is left to the caller (outputpriv).
func BuildCircuit(active [3]int) []instr {
	var prog []instr
	for _, p := range active {
		for _, q := range active {
			if p == q {
				continue
			}
			prog = append(prog, buildGT(p, q, gtReg(p, q))...)
		}
	}

	for _, p := range active {
		others := otherTwo(active, p)
		isMaxReg := fmt.Sprintf("ismax/%d", p)
		isMinReg := fmt.Sprintf("ismin/%d", p)
		isSecondReg := fmt.Sprintf("issecond/%d", p)

		prog = append(prog, mulInstr(fmt.Sprintf("ismax/%d", p), gtReg(p, others[0]), gtReg(p, others[1]), isMaxReg))
		prog = append(prog, mulInstr(fmt.Sprintf("ismin/%d", p), gtReg(others[0], p), gtReg(others[1], p), isMinReg))
		prog = append(prog, localInstr(isSecondReg, func(maxReg, minReg string) func(map[string]Share) Share {
			return func(regs map[string]Share) Share { return one().Sub(regs[maxReg]).Sub(regs[minReg]) }
		}(isMaxReg, isMinReg)))
	}

	secondValReg := "secondvalue/partial0"
	prog = append(prog, localInstr(secondValReg, func(map[string]Share) Share { return zero() }))
	for idx, p := range active {
		contribReg := fmt.Sprintf("secondvalue/contrib%d", p)
		nextReg := fmt.Sprintf("secondvalue/partial%d", idx+1)
		prog = append(prog, mulInstr(fmt.Sprintf("secondvalue/mul%d", p), fmt.Sprintf("issecond/%d", p), bidValueReg(p), contribReg))
		prog = append(prog, localInstr(nextReg, func(acc, contrib string) func(map[string]Share) Share {
			return func(regs map[string]Share) Share { return regs[acc].Add(regs[contrib]) }
		}(secondValReg, contribReg)))
		secondValReg = nextReg
	}

	for _, p := range active {
		outReg := fmt.Sprintf("out/%d", p)
		prog = append(prog, mulInstr(fmt.Sprintf("out/%d", p), fmt.Sprintf("ismax/%d", p), secondValReg, outReg))
	}
	return prog
}

// bidValueReg names the register holding party p's already-finalized input
// share [x_p] (supplied as a circuit input alongside its bits).
func bidValueReg(p int) string { return fmt.Sprintf("value/%d", p) }

func otherTwo(active [3]int, p int) [2]int {
	var out [2]int
	j := 0
	for _, q := range active {
		if q != p {
			out[j] = q
			j++
		}
	}
	return out
}

// Input bundles one active party's already-finalized bid share and its
// per-bit shares, as produced by whatever preprocessing/bit-decomposition
// phase ran before the circuit (spec.md §4.8 treats bit-decomposition as
// externally supplied).
type Input struct {
	Party int
	Value Share
	Bits  [BitWidth]Share // index 0 = MSB
}

// Message is the outer envelope multiplexing mpcarith multiply traffic for
// every live circuit run hosted by one party.
type Message struct {
	Mul *mpcarith.Message
}

func (m Message) String() string {
	if m.Mul != nil {
		return m.Mul.String()
	}
	return "AUCTION_UNKNOWN"
}

// Result is emitted once every active party's output share is known.
type Result struct {
	Outputs map[int]Share // party -> [o_party]
}

type auctionAdapter struct {
	outer engine.ServiceContext[Message, Result]
}

// mulCtx forwards traffic into the outer Message envelope like mpcarith.go's
// own adapters, but its SendResult is NOT a no-op: a completed gate is
// exactly the event that advances this circuit run's program counter, so it
// closes over the owning Service and run tag.
type mulCtx struct {
	a   auctionAdapter
	s   *Service
	tag string
}

func (c mulCtx) Broadcast(msg mpcarith.Message)    { c.a.outer.Broadcast(Message{Mul: &msg}) }
func (c mulCtx) Send(to int, msg mpcarith.Message) { c.a.outer.Send(to, Message{Mul: &msg}) }
func (c mulCtx) SendResult(res mpcarith.Result) {
	r := c.s.runs[c.tag]
	if r == nil || r.done || r.pc >= len(r.prog) || r.prog[r.pc].kind != instrMul || r.prog[r.pc].tag != res.Gate {
		return
	}
	r.regs[r.pending] = res.Product
	r.pc++
	c.s.advance(c.tag, r, c.a.outer)
}

type run struct {
	prog    []instr
	pc      int
	regs    map[string]Share
	active  [3]int
	pending string // out register a blocked Mul instruction will fill
	done    bool
}

// Service runs one (or more, sequentially reusable) auction circuit
// evaluation per party, on top of an internal mpcarith.MultiplyService.
type Service struct {
	id, n, f int
	mul      *mpcarith.MultiplyService
	runs     map[string]*run
	logger   zerolog.Logger

	selfInbox chan Message
}

// New builds an auction Service for party id in an n-party, f-fault system.
func New(id, n, f int, bcn *beacon.Beacon, sampler field.Sampler, logLevel zerolog.Level) *Service {
	return &Service{
		id: id, n: n, f: f,
		mul:    mpcarith.NewMultiplyService(id, n, f, bcn, sampler, logLevel),
		runs:   make(map[string]*run),
		logger: log.With().Str("layer", "AUCTION").Int("party_id", id).Logger().Level(logLevel),
	}
}

// GateCount reports how many multiplication gates this party's circuit run
// has started so far (spec.md §6 run metrics).
func (s *Service) GateCount() int { return s.mul.GateCount() }

// Bind wires the service to its own ServiceManager inbox, forwarded down to
// the internal MultiplyService's own coin-loopback requirement.
func (s *Service) Bind(selfInbox chan Message) {
	s.selfInbox = selfInbox
	ch := make(chan mpcarith.Message, 16)
	go func() {
		for m := range ch {
			s.selfInbox <- Message{Mul: &m}
		}
	}()
	s.mul.Bind(ch)
}

// Evaluate starts running tag's circuit over the given active-set inputs.
func (s *Service) Evaluate(tag string, active [3]int, inputs []Input, ctx engine.ServiceContext[Message, Result]) {
	regs := make(map[string]Share)
	for _, in := range inputs {
		regs[bidValueReg(in.Party)] = in.Value
		for i := 0; i < BitWidth; i++ {
			regs[bitReg(in.Party, i)] = in.Bits[i]
		}
	}
	r := &run{prog: prefixed(tag, BuildCircuit(active)), regs: regs, active: active}
	s.runs[tag] = r
	s.advance(tag, r, ctx)
}

// prefixed namespaces every gate tag under this circuit run's own tag, so
// two concurrently-live runs never collide on session ids.
func prefixed(runTag string, prog []instr) []instr {
	out := make([]instr, len(prog))
	for i, in := range prog {
		if in.kind != instrLocal {
			in.tag = "auction/" + runTag + "/" + in.tag
		}
		out[i] = in
	}
	return out
}

// advance drives r's program counter forward through every consecutive
// local step, then fires the next blocking gate (or, if the program is
// exhausted, emits the run's final result).
func (s *Service) advance(tag string, r *run, ctx engine.ServiceContext[Message, Result]) {
	adapter := auctionAdapter{outer: ctx}
	for r.pc < len(r.prog) {
		step := r.prog[r.pc]
		switch step.kind {
		case instrLocal:
			r.regs[step.out] = step.locals(r.regs)
			r.pc++
		case instrMul:
			r.pending = step.out
			s.mul.Multiply(step.tag, r.regs[step.a], r.regs[step.b], mulCtx{a: adapter, s: s, tag: tag})
			return
		}
	}

	if !r.done {
		r.done = true
		outputs := make(map[int]Share, 3)
		for _, p := range r.active {
			outputs[p] = r.regs[fmt.Sprintf("out/%d", p)]
		}
		s.logger.Info().Str("run", tag).Msg("auction circuit resolved")
		ctx.SendResult(Result{Outputs: outputs})
	}
}

// OnMessage implements engine.Service: every gate tag is namespaced under
// "auction/<run>/...", so the owning run is recovered straight from the
// message's session id and the shared sub-services are driven exactly once
// per incoming message.
func (s *Service) OnMessage(msg Message, ctx engine.ServiceContext[Message, Result]) {
	tag, ok := runTagOf(msg)
	if !ok || s.runs[tag] == nil {
		return
	}
	adapter := auctionAdapter{outer: ctx}
	if msg.Mul != nil {
		s.mul.OnMessage(*msg.Mul, mulCtx{a: adapter, s: s, tag: tag})
	}
}

// runTagOf recovers the owning circuit run's tag from an inbound message's
// (possibly doubly-nested) session id.
func runTagOf(msg Message) (string, bool) {
	if msg.Mul == nil {
		return "", false
	}
	gate, ok := mulGateTag(*msg.Mul)
	if !ok {
		return "", false
	}
	return firstSegmentAfter(gate, "auction/")
}

// mulGateTag recovers the gate tag ("auction/<run>/...") originally passed
// to mpcarith.Multiply from one of its CSS or ACS sub-messages.
func mulGateTag(msg mpcarith.Message) (string, bool) {
	switch {
	case msg.CSS != nil:
		return stripBetween(msg.CSS.SessionID, "mul/", "/reshare/")
	case msg.ACS != nil:
		var inner string
		switch {
		case msg.ACS.RBC != nil:
			inner = msg.ACS.RBC.SessionID
		case msg.ACS.BA != nil:
			inner = msg.ACS.BA.SessionID
		default:
			return "", false
		}
		return stripBetween(inner, "mul/", "/acs-T/")
	default:
		return "", false
	}
}

func stripBetween(full, prefix, sep string) (string, bool) {
	rest, ok := strings.CutPrefix(full, prefix)
	if !ok {
		return "", false
	}
	pos := strings.LastIndex(rest, sep)
	if pos < 0 {
		return "", false
	}
	return rest[:pos], true
}

func firstSegmentAfter(full, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(full, prefix)
	if !ok {
		return "", false
	}
	if pos := strings.Index(rest, "/"); pos >= 0 {
		return rest[:pos], true
	}
	return rest, true
}
