// Package table implements the function table: the registry of live
// per-function managers (spec.md §4.5), grounded directly on original
// dispatcher-agent-lib's function_table.rs.
package table

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/events"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/manager"
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/storage"
	"github.com/containerless/platform/pkg/tracert"
	"github.com/containerless/platform/pkg/types"
)

// vanillaNameRE matches adoptable replica set names, the Go equivalent
// of function_table.rs's `^function-vanilla-(.*)$`.
var vanillaNameRE = regexp.MustCompile(`^function-vanilla-(.*)$`)

// Table holds every live function manager behind a single mutex, never
// held across network I/O (spec.md §4.5).
type Table struct {
	mu     sync.Mutex
	byName map[string]*manager.Manager

	cfg      config.Config
	driver   cluster.Driver
	comp     *compiler.Compiler
	registry *tracert.Registry
	source   sourcestore.Client
	store    storage.Store
	events   *events.Broker
	logger   zerolog.Logger
}

// New returns an empty function table. store and broker may both be nil:
// a nil store disables registry persistence (storage probes always fall
// through to source) and a nil broker disables manager event publishing.
func New(cfg config.Config, driver cluster.Driver, comp *compiler.Compiler, registry *tracert.Registry, source sourcestore.Client, store storage.Store, broker *events.Broker) *Table {
	return &Table{
		byName:   make(map[string]*manager.Manager),
		cfg:      cfg,
		driver:   driver,
		comp:     comp,
		registry: registry,
		source:   source,
		store:    store,
		events:   broker,
		logger:   log.WithComponent("table"),
	}
}

// GetFunction returns the existing manager for name, or creates one.
// Creation validates that the function exists, failing with
// clerr.NotFound if it does not. A registry hit (pkg/storage) lets a
// name the controller has already confirmed skip a repeat outbound
// probe to the source store; a miss still falls through to
// source.Exists, exactly as before the registry existed. The table's
// mutex is dropped before either probe, matching function_table.rs's
// get_function precisely: a miss is resolved without holding the lock
// across the outbound call, then re-checked before insertion so two
// concurrent callers for the same unknown name only issue one probe
// each but never double-insert.
func (t *Table) GetFunction(ctx context.Context, name string) (*manager.Manager, error) {
	t.mu.Lock()
	if m, ok := t.byName[name]; ok {
		t.mu.Unlock()
		return m, nil
	}
	t.mu.Unlock()

	if !t.registryHas(name) {
		if err := t.source.Exists(ctx, name); err != nil {
			return nil, clerr.New("table.get_function", clerr.NotFound, fmt.Errorf("function %q: %w", name, err))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.byName[name]; ok {
		return m, nil
	}
	m := manager.New(t.cfg, name, t.driver, t.comp, t.registry, manager.ModeNew, manager.AdoptState{}, t.events)
	t.byName[name] = m
	t.persistFunction(name)
	return m, nil
}

// registryHas reports whether the registry already has a record for
// name. A nil store (tests, or a controller run without persistence
// configured) always reports a miss, falling through to the source
// store probe unconditionally.
func (t *Table) registryHas(name string) bool {
	if t.store == nil {
		return false
	}
	_, err := t.store.GetFunction(name)
	return err == nil
}

// persistFunction upserts a registry record for name, so a name the
// controller has confirmed once is remembered across restarts even
// before any replica exists for it (spec.md §4.5 expansion). A nil
// store is a no-op.
func (t *Table) persistFunction(name string) {
	if t.store == nil {
		return
	}
	fn := &types.Function{ID: uuid.New().String(), Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if existing, err := t.store.GetFunction(name); err == nil {
		fn.ID = existing.ID
		fn.CreatedAt = existing.CreatedAt
		if err := t.store.UpdateFunction(fn); err != nil {
			t.logger.Warn().Err(err).Str("function", name).Msg("error updating function registry")
		}
		return
	}
	if err := t.store.CreateFunction(fn); err != nil {
		t.logger.Warn().Err(err).Str("function", name).Msg("error creating function registry entry")
	}
}

// AdoptRunningFunctions is called once at controller startup. It
// enumerates existing vanilla replica sets, matches their names against
// vanillaNameRE, and constructs one manager per match in adopt mode,
// mirroring function_table.rs's adopt_running_functions.
func (t *Table) AdoptRunningFunctions(ctx context.Context) error {
	replicaSets, err := t.driver.ListReplicaSets(ctx)
	if err != nil {
		return clerr.New("table.adopt_running_functions", clerr.ClusterUnavailable, err)
	}
	pods, err := t.driver.ListPods(ctx)
	if err != nil {
		return clerr.New("table.adopt_running_functions", clerr.ClusterUnavailable, err)
	}
	tracingPods := make(map[string]bool, len(pods))
	for _, p := range pods {
		tracingPods[p.Name] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rs := range replicaSets {
		match := vanillaNameRE.FindStringSubmatch(rs.Name)
		if match == nil {
			t.logger.Debug().Str("replicaset", rs.Name).Msg("ignoring replica set")
			continue
		}
		name := match[1]
		isTracing := tracingPods["function-tracing-"+rs.Name]
		t.logger.Debug().Str("replicaset", rs.Name).Str("function", name).Msg("adopting replica set")
		t.byName[name] = manager.New(t.cfg, name, t.driver, t.comp, t.registry, manager.ModeAdopt,
			manager.AdoptState{NumReplicas: rs.SpecReplicas, IsTracing: isTracing}, t.events)
		t.persistFunction(name)
	}
	return nil
}

// Shutdown drains and destroys the manager for name, deleting its
// cluster resources.
func (t *Table) Shutdown(ctx context.Context, name string) error {
	t.mu.Lock()
	m, ok := t.byName[name]
	if ok {
		delete(t.byName, name)
	}
	t.mu.Unlock()

	if !ok {
		return clerr.New("table.shutdown", clerr.NotFound, fmt.Errorf("function %q not in table", name))
	}
	return m.Shutdown(ctx)
}

// ForgetFunction removes name's persisted registry entry, used by
// DELETE /delete_function once the source store record is gone too. A
// nil store (or a name the registry never saw) is a no-op.
func (t *Table) ForgetFunction(name string) {
	if t.store == nil {
		return
	}
	if err := t.store.DeleteFunction(name); err != nil {
		t.logger.Warn().Err(err).Str("function", name).Msg("error deleting function registry entry")
	}
}

// Orphan releases every manager without deleting cluster resources, so
// a successor controller process can adopt them via
// AdoptRunningFunctions.
func (t *Table) Orphan() {
	t.mu.Lock()
	managers := make([]*manager.Manager, 0, len(t.byName))
	for name, m := range t.byName {
		managers = append(managers, m)
		delete(t.byName, name)
	}
	t.mu.Unlock()

	for _, m := range managers {
		m.Orphan()
	}
}

// Exists reports whether name currently has a live manager, without
// creating one or probing storage.
func (t *Table) Exists(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byName[name]
	return ok
}

// Names returns every currently-registered function name.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	return out
}

// Remove drops name from the table without shutting down its manager.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byName, name)
}
