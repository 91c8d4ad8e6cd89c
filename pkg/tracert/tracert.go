// Package tracert is the trace runtime: it embeds compiled native traces
// and exposes one entry point per function (spec.md §4.7).
//
// The original dispatcher-agent links one Rust function per trace
// directly into its binary at compile time via a generated
// decontainerized_functions/mod.rs. This module instead loads each
// compiled trace as a Go plugin built with -buildmode=plugin — the
// "shared library" option spec.md's Hot-linking redesign note names
// explicitly as an acceptable substitute for rebuilding a monolithic
// binary per version. The compiler actor still regenerates a manifest
// file (GenerateManifest) recording which functions are linked, matching
// the original's generated dispatch table, even though this runtime
// resolves entry points by plugin symbol lookup rather than by reading it.
package tracert

import (
	"context"
	"fmt"
	"os"
	"plugin"
	"sync"
	"text/template"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/types"
)

// EntryPointSymbol is the exported symbol every compiled trace plugin
// must provide.
const EntryPointSymbol = "Containerless"

// Outcome is the result of invoking a compiled trace.
type Outcome int

const (
	// Served means the trace produced a response.
	Served Outcome = iota
	// Unknown means the trace hit a branch it was never recorded taking.
	Unknown
)

// TraceFunc is the signature every compiled trace plugin exports under
// EntryPointSymbol. The manager calls it directly, in-process, once a
// function is Decontainerized.
type TraceFunc func(ctx context.Context, req *types.Request) (*types.Response, Outcome)

// Registry holds the currently linked native traces, keyed by function
// name. One process-wide Registry backs every decontainerized function
// known to the dispatcher.
type Registry struct {
	mu     sync.RWMutex
	traces map[string]TraceFunc
}

// NewRegistry returns an empty trace registry.
func NewRegistry() *Registry {
	return &Registry{traces: make(map[string]TraceFunc)}
}

// Load opens the plugin at path and registers its EntryPointSymbol under
// name, replacing any previously loaded trace for that name.
func (r *Registry) Load(name, path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return clerr.New("tracert.load", clerr.CompilationFailed, err)
	}
	sym, err := p.Lookup(EntryPointSymbol)
	if err != nil {
		return clerr.New("tracert.load", clerr.CompilationFailed, err)
	}
	fn, ok := sym.(TraceFunc)
	if !ok {
		return clerr.New("tracert.load", clerr.CompilationFailed,
			fmt.Errorf("plugin %s: %s has unexpected type", path, EntryPointSymbol))
	}
	r.mu.Lock()
	r.traces[name] = fn
	r.mu.Unlock()
	return nil
}

// Unload drops a function's linked trace, used when a function is reset.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	delete(r.traces, name)
	r.mu.Unlock()
}

// Invoke calls the linked trace for name, if any. The second return value
// is false if no trace is linked for name at all, distinct from Unknown
// (a linked trace that declined to handle this particular request).
func (r *Registry) Invoke(ctx context.Context, name string, req *types.Request) (*types.Response, Outcome, bool) {
	r.mu.RLock()
	fn, ok := r.traces[name]
	r.mu.RUnlock()
	if !ok {
		return nil, Unknown, false
	}
	resp, outcome := fn(ctx, req)
	return resp, outcome, true
}

// Linked reports whether name currently has a native trace loaded.
func (r *Registry) Linked(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.traces[name]
	return ok
}

var manifestTemplate = template.Must(template.New("manifest").Parse(
	`# generated by the compiler actor; do not edit by hand
{{range .}}{{.}}
{{end}}`))

// GenerateManifest writes the list of currently non-Error function names
// to path, mirroring the original compiler's
// decontainerized_functions/mod.rs (spec.md §4.6's "generated dispatch
// table (union of all non-Error functions)").
func GenerateManifest(path string, functions []string) error {
	f, err := os.Create(path)
	if err != nil {
		return clerr.New("tracert.generate_manifest", clerr.Unknown, err)
	}
	defer f.Close()
	if err := manifestTemplate.Execute(f, functions); err != nil {
		return clerr.New("tracert.generate_manifest", clerr.Unknown, err)
	}
	return nil
}
