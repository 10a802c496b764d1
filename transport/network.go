// Package transport implements the asynchronous, unidirectional,
// non-FIFO message queue simulator described in spec.md §4.2, plus the
// configurable delay and omission models it's parameterized over.
package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// TypeTagger extracts a stable string tag for a message, used by
// type-sensitive omission policies (DropTypes) and message-count metrics.
type TypeTagger[TMsg any] func(TMsg) string

// Network is the shared, process-wide transport linking every party. It
// mirrors the teacher's services.Network[TMsg] peer registry, generalized
// with a delay model and an omission policy. Delivery is FIFO only if the
// configured DelayModel is Monotone; callers must never assume otherwise.
type Network[TMsg any] struct {
	mu       sync.RWMutex
	peers    map[int]chan TMsg
	delay    DelayModel
	omission OmissionPolicy
	typeTag  TypeTagger[TMsg]

	burst   int64 // monotonic tick counter feeding BurstDrop
	sent    int64
	delivered int64
	onSend  func(from, to int, typeTag string)
}

// NewNetwork builds a Network with the given delay model, omission policy,
// and type-tag extractor. A nil delay model defaults to zero delay; a nil
// omission policy defaults to NoOmission.
func NewNetwork[TMsg any](delay DelayModel, omission OmissionPolicy, typeTag TypeTagger[TMsg]) *Network[TMsg] {
	if delay == nil {
		delay = FixedDelay{D: 0}
	}
	if omission == nil {
		omission = NoOmission{}
	}
	return &Network[TMsg]{
		peers:    make(map[int]chan TMsg),
		delay:    delay,
		omission: omission,
		typeTag:  typeTag,
	}
}

// OnSend installs a callback invoked (synchronously, on the sender's
// goroutine) for every message accepted for delivery, before the omission
// policy is consulted — used by party.Metrics to count sends by type.
func (n *Network[TMsg]) OnSend(f func(from, to int, typeTag string)) {
	n.onSend = f
}

// Register binds id's inbox channel so it can receive broadcasts and
// unicasts.
func (n *Network[TMsg]) Register(id int, ch chan TMsg) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = ch
}

// Broadcast sends msg from `from` to every registered peer, including the
// sender (spec.md §4.2: "broadcast(from, message) sends to all parties
// including self").
func (n *Network[TMsg]) Broadcast(from int, msg TMsg) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for to, ch := range n.peers {
		n.deliverAsync(from, to, ch, msg)
	}
}

// Send enqueues a single unicast delivery from `from` to `to`.
func (n *Network[TMsg]) Send(from, to int, msg TMsg) {
	n.mu.RLock()
	ch, ok := n.peers[to]
	n.mu.RUnlock()
	if !ok {
		return
	}
	n.deliverAsync(from, to, ch, msg)
}

func (n *Network[TMsg]) deliverAsync(from, to int, ch chan TMsg, msg TMsg) {
	atomic.AddInt64(&n.sent, 1)
	tag := ""
	if n.typeTag != nil {
		tag = n.typeTag(msg)
	}
	if n.onSend != nil {
		n.onSend(from, to, tag)
	}

	tick := atomic.AddInt64(&n.burst, 1)
	if n.omission.ShouldDrop(from, to, tag, tick) {
		return
	}

	delay := n.delay.Delay(from, to)
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		ch <- msg
		atomic.AddInt64(&n.delivered, 1)
	}()
}

// Stats returns (messages accepted for send, messages actually delivered)
// so far. Dropped-by-omission messages count toward Sent but never toward
// Delivered.
func (n *Network[TMsg]) Stats() (sent, delivered int64) {
	return atomic.LoadInt64(&n.sent), atomic.LoadInt64(&n.delivered)
}
