// Package clerr defines the error taxonomy of spec.md §7: a small set of
// named kinds the rest of the control plane branches on, wrapped with
// fmt.Errorf("...: %w", err) the way cuemby-warren wraps errors throughout
// pkg/manager and pkg/runtime, rather than a third-party error-wrapping
// library (the teacher carries none).
package clerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in spec.md §7.
type Kind string

const (
	ClusterUnavailable      Kind = "cluster_unavailable"
	NotFound                Kind = "not_found"
	Conflict                Kind = "conflict"
	CompilationFailed       Kind = "compilation_failed"
	TracingTimeout          Kind = "tracing_timeout"
	DeploymentRolloutTimeout Kind = "deployment_rollout_timeout"
	InvocationError         Kind = "invocation_error"
	Unknown                 Kind = "unknown"
)

// Error is a typed error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for op with the given kind, optionally
// wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the Kind carried by err, or Unknown if err is not (or
// does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
