// Package autoscaler computes a target vanilla-replica count from recent
// request pressure (spec.md §4.4).
//
// Unlike cuemby-warren's scheduler, which runs its own ticker goroutine
// against shared manager state protected by a mutex, the autoscaler here
// is a plain value type ticked by its owning function manager's own
// select loop. Spec.md is explicit that this runs "as a ticker inside the
// manager task" so that scale-up and scale-down can never race one
// another — both originate from the single task that also owns the
// replica count. RecordTick has no internal locking for that reason.
package autoscaler

// Config holds the tunables spec.md §4.4 names.
type Config struct {
	WindowWidth  int // W: ring buffer width, in ticks
	TargetRate   int // R: target requests per replica per tick
	MaxReplicas  int
}

// DefaultConfig matches the values spec.md uses in its worked examples.
func DefaultConfig() Config {
	return Config{WindowWidth: 30, TargetRate: 10, MaxReplicas: 10}
}

// Autoscaler tracks one function's recent load and computes target
// replica counts from it.
type Autoscaler struct {
	cfg    Config
	window *RingMax
}

// New returns an Autoscaler configured per cfg.
func New(cfg Config) *Autoscaler {
	if cfg.WindowWidth < 1 {
		cfg.WindowWidth = 1
	}
	if cfg.TargetRate < 1 {
		cfg.TargetRate = 1
	}
	if cfg.MaxReplicas < 1 {
		cfg.MaxReplicas = 1
	}
	return &Autoscaler{cfg: cfg, window: NewRingMax(cfg.WindowWidth)}
}

// RecordTick pushes the number of requests completed in the last tick
// into the windowed maximum and returns the target replica count:
// ceil(windowMax / TargetRate), clamped to [1, MaxReplicas].
func (a *Autoscaler) RecordTick(requestsThisTick int) (target int, windowMax int) {
	a.window.Push(requestsThisTick)
	windowMax = a.window.Max()

	target = (windowMax + a.cfg.TargetRate - 1) / a.cfg.TargetRate
	if target < 1 {
		target = 1
	}
	if target > a.cfg.MaxReplicas {
		target = a.cfg.MaxReplicas
	}
	return target, windowMax
}
