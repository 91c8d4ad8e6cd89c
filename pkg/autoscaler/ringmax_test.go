package autoscaler

import "testing"

func TestRingMaxSingleSample(t *testing.T) {
	r := NewRingMax(3)
	r.Push(5)
	if got := r.Max(); got != 5 {
		t.Fatalf("Max() = %d, want 5", got)
	}
}

func TestRingMaxTracksMaxWithinWindow(t *testing.T) {
	r := NewRingMax(3)
	r.Push(1)
	r.Push(9)
	r.Push(2)
	if got := r.Max(); got != 9 {
		t.Fatalf("Max() = %d, want 9", got)
	}
}

func TestRingMaxEvictsOldest(t *testing.T) {
	r := NewRingMax(3)
	r.Push(9)
	r.Push(1)
	r.Push(2)
	r.Push(3) // evicts the 9
	if got := r.Max(); got != 3 {
		t.Fatalf("Max() = %d, want 3", got)
	}
}

func TestRingMaxZeroWidthClampedToOne(t *testing.T) {
	r := NewRingMax(0)
	r.Push(4)
	r.Push(7)
	if got := r.Max(); got != 7 {
		t.Fatalf("Max() = %d, want 7", got)
	}
}
