package transport

import (
	"testing"
	"time"
)

func tag(s string) string { return s }

func TestBroadcastReachesAllIncludingSelf(t *testing.T) {
	net := NewNetwork[string](FixedDelay{D: time.Millisecond}, nil, func(s string) string { return s })

	inboxes := make(map[int]chan string)
	for _, id := range []int{1, 2, 3} {
		ch := make(chan string, 8)
		inboxes[id] = ch
		net.Register(id, ch)
	}

	net.Broadcast(1, "hello")

	for id, ch := range inboxes {
		select {
		case got := <-ch:
			if got != "hello" {
				t.Errorf("peer %d got %q, want hello", id, got)
			}
		case <-time.After(time.Second):
			t.Errorf("peer %d: timed out waiting for broadcast", id)
		}
	}
}

func TestDropAllOmitsSender(t *testing.T) {
	net := NewNetwork[string](FixedDelay{D: 0}, DropAll{Party: 1}, tag)

	ch1 := make(chan string, 8)
	ch2 := make(chan string, 8)
	net.Register(1, ch1)
	net.Register(2, ch2)

	net.Broadcast(1, "x")

	select {
	case <-ch1:
		t.Error("party 1 (faulty) should not receive its own omitted broadcast")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case <-ch2:
		t.Error("party 2 should not receive a message dropped by DropAll")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNonFaultySendsStillDelivered(t *testing.T) {
	net := NewNetwork[string](FixedDelay{D: 0}, DropAll{Party: 1}, tag)

	ch2 := make(chan string, 8)
	net.Register(2, ch2)

	net.Broadcast(2, "from-honest")

	select {
	case got := <-ch2:
		if got != "from-honest" {
			t.Errorf("got %q, want from-honest", got)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for honest broadcast")
	}
}

func TestSendUnicast(t *testing.T) {
	net := NewNetwork[string](FixedDelay{D: 0}, nil, tag)
	ch2 := make(chan string, 8)
	net.Register(1, make(chan string, 8))
	net.Register(2, ch2)

	net.Send(1, 2, "ping")

	select {
	case got := <-ch2:
		if got != "ping" {
			t.Errorf("got %q, want ping", got)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for unicast")
	}
}
