package beacon

import (
	"testing"

	"sealed-auction-mpc/field"
)

func TestBeaconReleasesOnceThresholdReached(t *testing.T) {
	b := New(2, field.NewSeededSampler(1))

	ch1 := b.Request("r1", 1)
	select {
	case <-ch1:
		t.Fatal("beacon released before threshold reached")
	default:
	}

	ch2 := b.Request("r1", 2)
	v1 := <-ch1
	v2 := <-ch2
	if !v1.Equal(v2) {
		t.Errorf("requesters got different values: %v != %v", v1, v2)
	}

	if b.Invocations() != 1 {
		t.Errorf("Invocations = %d, want 1", b.Invocations())
	}
}

func TestBeaconLateRequesterGetsSameValue(t *testing.T) {
	b := New(2, field.NewSeededSampler(2))

	v1 := <-b.Request("idx", 1)
	<-b.Request("idx", 2)

	v3 := <-b.Request("idx", 3)
	if !v1.Equal(v3) {
		t.Errorf("late requester got %v, want %v", v3, v1)
	}
}

func TestBeaconDuplicateRequesterDoesNotCountTwice(t *testing.T) {
	b := New(2, field.NewSeededSampler(3))

	ch := b.Request("idx", 1)
	ch2 := b.Request("idx", 1) // same party, should not push past threshold alone
	select {
	case <-ch:
		t.Fatal("single distinct requester triggered release")
	default:
	}
	_ = ch2
}
