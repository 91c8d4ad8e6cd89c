// Package types defines the core data model shared across the control
// plane: functions, replica snapshots, trace artifacts, and the
// request/response shapes carried between the dispatcher and a backend.
package types

import (
	"regexp"
	"time"
)

// NameRE is the allowed pattern for a function name.
var NameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidName reports whether name is a non-empty, well-formed function name.
func ValidName(name string) bool {
	return name != "" && NameRE.MatchString(name)
}

// CompileStatus is the compilation state of a function's trace.
type CompileStatus string

const (
	CompileStatusVanilla   CompileStatus = "vanilla"
	CompileStatusCompiling CompileStatus = "compiling"
	CompileStatusCompiled  CompileStatus = "compiled"
	CompileStatusError     CompileStatus = "error"
)

// ManagerState is the function manager's state machine state (spec.md §4.3).
type ManagerState string

const (
	StateNew             ManagerState = "new"
	StateVanilla         ManagerState = "vanilla"
	StateTracing         ManagerState = "tracing"
	StateAwaitingCompile ManagerState = "awaiting_compile"
	StateDecontainerized ManagerState = "decontainerized"
	StateAwaitingReset   ManagerState = "awaiting_reset"
	StateError           ManagerState = "error"
	StateShutdown        ManagerState = "shutdown"
)

// Function is a single serverless function known to the control plane.
type Function struct {
	ID             string
	Name           string
	SourceRef      string
	NativeTrace    string // non-empty iff a trace is compiled and linked
	CompileStatus  CompileStatus
	State          ManagerState
	ReplicasVanilla int
	ReplicasTracing int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReplicaSnapshot describes the cluster's observed view of a replica set
// or pod, as produced by the cluster driver.
type ReplicaSnapshot struct {
	Name            string
	SpecReplicas    int
	RunningReplicas int
	Labels          map[string]string
	Phase           string
}

// TraceArtifact is the opaque, serialized execution record a tracing
// replica hands back to the manager, destined for the compiler actor.
type TraceArtifact struct {
	FunctionName string
	Bytes        []byte
	CapturedAt   time.Time
}

// Request is a single HTTP-shaped request forwarded through the
// dispatcher to a backend (vanilla replica, tracing replica, or native
// trace).
type Request struct {
	Method  string
	Path    string
	Header  map[string][]string
	Body    []byte
}

// Response is what a backend returns for a Request.
type Response struct {
	Status int
	Header map[string][]string
	Body   []byte
}
