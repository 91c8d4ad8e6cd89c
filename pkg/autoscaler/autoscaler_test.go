package autoscaler

import "testing"

func TestRecordTickScalesUpWithLoad(t *testing.T) {
	a := New(Config{WindowWidth: 4, TargetRate: 10, MaxReplicas: 5})

	target, _ := a.RecordTick(25)
	if target != 3 { // ceil(25/10) = 3
		t.Fatalf("target = %d, want 3", target)
	}
}

func TestRecordTickClampsToMaxReplicas(t *testing.T) {
	a := New(Config{WindowWidth: 4, TargetRate: 1, MaxReplicas: 2})

	target, _ := a.RecordTick(100)
	if target != 2 {
		t.Fatalf("target = %d, want 2 (clamped)", target)
	}
}

func TestRecordTickNeverBelowOne(t *testing.T) {
	a := New(Config{WindowWidth: 4, TargetRate: 10, MaxReplicas: 5})

	target, windowMax := a.RecordTick(0)
	if target != 1 {
		t.Fatalf("target = %d, want 1", target)
	}
	if windowMax != 0 {
		t.Fatalf("windowMax = %d, want 0", windowMax)
	}
}

func TestRecordTickScaleDownIsEager(t *testing.T) {
	a := New(Config{WindowWidth: 3, TargetRate: 10, MaxReplicas: 5})

	a.RecordTick(50) // target 5
	target, _ := a.RecordTick(0)
	if target != 5 {
		t.Fatalf("target = %d, want 5 (window still holds the earlier burst)", target)
	}

	// Once the burst ages out of the window, scale-down happens with no
	// extra cooldown delay.
	a.RecordTick(0)
	target, _ = a.RecordTick(0)
	if target != 1 {
		t.Fatalf("target = %d, want 1 after burst aged out of window", target)
	}
}
