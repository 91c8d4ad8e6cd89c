// Package manager implements the per-function manager: one event-loop
// task that owns a function's cluster resources and routes every
// request to the right backend at dispatch time (spec.md §4.3).
//
// It is grounded on the same actor shape as pkg/compiler (a buffered
// channel of messages ranged over by a single goroutine) rather than on
// cuemby-warren/pkg/manager, which is a cluster-wide Raft manager with
// no per-entity actor of its own. The function table (pkg/table) holds
// one Manager per live function and never touches its internals except
// through the message API below — "external callers post messages; the
// task serializes them," per spec.md §4.3.
package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/containerless/platform/pkg/autoscaler"
	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/events"
	"github.com/containerless/platform/pkg/health"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/tracert"
	"github.com/containerless/platform/pkg/types"
)

// backendPort is the fixed port every vanilla and tracing replica's HTTP
// server listens on.
const backendPort = 8080

// CreateMode selects how a new Manager's initial state is derived,
// mirroring the original FunctionManager::new's CreateMode::{New,Adopt}.
type CreateMode int

const (
	// ModeNew is used by table.GetFunction for a function with no
	// existing cluster resources.
	ModeNew CreateMode = iota
	// ModeAdopt is used by table.AdoptRunningFunctions for a function
	// whose replica set already exists from a prior controller process.
	ModeAdopt
)

// AdoptState carries the cluster.Driver's observed state for a function
// being adopted, per spec.md §4.5's adopt_running_functions.
type AdoptState struct {
	NumReplicas int
	IsTracing   bool
}

type msgKind int

const (
	msgInvoke msgKind = iota
	msgReset
	msgShutdown
	msgOrphan
	msgCompileSettled
	msgSnapshot
)

type msg struct {
	kind msgKind

	req    *types.Request
	respCh chan invokeResult

	compileErr error

	doneCh     chan error
	snapshotCh chan types.Function
}

type invokeResult struct {
	resp *types.Response
	err  error
}

// Snapshot is a point-in-time view of a function's state, as returned by
// Status.
type Snapshot = types.Function

// Manager is the per-function state machine and event loop.
type Manager struct {
	name      string
	id        string
	createdAt time.Time
	cfg       config.Config
	driver    cluster.Driver
	compiler  *compiler.Compiler
	registry  *tracert.Registry
	events    *events.Broker
	logger    zerolog.Logger

	httpClient  *http.Client
	probeClient *http.Client

	sendCh  chan msg
	stopped chan struct{}

	// state below this line is owned exclusively by run(); no other
	// goroutine may read or write it.
	state                types.ManagerState
	vanillaReplicas      int
	rrIndex              int
	scaler               *autoscaler.Autoscaler
	requestsThisTick     int
	tracingRequestsUsed  int
	tracingDeadline      time.Time
	stableWindowMax      int
	stableTicks          int
	unknownWindow        []bool
	unknownNext          int
	decontainerizedSince time.Time
	vanillaTornDown      bool
}

// New constructs a Manager for name and starts its event loop. mode and
// adopt together determine the initial state, matching
// FunctionManager::new's CreateMode. broker may be nil, in which case
// state transitions are logged but not published.
func New(cfg config.Config, name string, driver cluster.Driver, comp *compiler.Compiler, registry *tracert.Registry, mode CreateMode, adopt AdoptState, broker *events.Broker) *Manager {
	dialer := &net.Dialer{Timeout: cfg.InvokeConnectDeadline}
	probeDialer := &net.Dialer{Timeout: cfg.ReadinessProbeDeadline}

	id := uuid.New().String()
	m := &Manager{
		name:      name,
		id:        id,
		createdAt: time.Now(),
		cfg:       cfg,
		driver:    driver,
		compiler:  comp,
		registry:  registry,
		events:    broker,
		logger:    log.WithFunctionName(name).With().Str("function_id", id).Logger(),

		httpClient: &http.Client{
			Timeout:   0,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		probeClient: &http.Client{
			Timeout:   cfg.ReadinessProbeDeadline,
			Transport: &http.Transport{DialContext: probeDialer.DialContext},
		},

		sendCh:  make(chan msg, 8),
		stopped: make(chan struct{}),

		state:         types.StateNew,
		scaler:        autoscaler.New(autoscaler.Config{WindowWidth: cfg.AutoscalerWindowWidth, TargetRate: cfg.AutoscalerTargetRate, MaxReplicas: cfg.AutoscalerMaxReplicas}),
		unknownWindow: make([]bool, cfg.NativeUnknownWindow),
	}

	if mode == ModeAdopt && adopt.NumReplicas > 0 {
		m.vanillaReplicas = adopt.NumReplicas
		m.state = types.StateVanilla
		if adopt.IsTracing {
			m.state = types.StateTracing
			m.tracingDeadline = time.Now().Add(cfg.TracingTimeout)
		}
	}

	go m.run()
	return m
}

// Invoke dispatches a request to the backend the manager's current
// state names, per spec.md §4.3's invoke contract. Synchronous from the
// caller's view; internally it suspends on the actor's channel and on
// network I/O.
func (m *Manager) Invoke(ctx context.Context, req *types.Request) (*types.Response, error) {
	respCh := make(chan invokeResult, 1)
	select {
	case m.sendCh <- msg{kind: msgInvoke, req: req, respCh: respCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-respCh:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset drops a linked native trace (or aborts an in-progress trace) and
// returns the function to Vanilla.
func (m *Manager) Reset(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case m.sendCh <- msg{kind: msgReset, doneCh: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown releases the function's replicas and terminates the event
// loop, per spec.md §4.3's "any -> Shutdown" transition.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case m.sendCh <- msg{kind: msgShutdown, doneCh: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		<-m.stopped
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orphan stops the event loop without deleting cluster resources, so a
// successor controller process can adopt them (spec.md §4.5's orphan).
func (m *Manager) Orphan() {
	select {
	case m.sendCh <- msg{kind: msgOrphan}:
	case <-m.stopped:
	}
	<-m.stopped
}

// Name returns the function name this manager owns.
func (m *Manager) Name() string { return m.name }

// Status returns a point-in-time snapshot of the function's state.
func (m *Manager) Status(ctx context.Context) (Snapshot, error) {
	ch := make(chan types.Function, 1)
	select {
	case m.sendCh <- msg{kind: msgSnapshot, snapshotCh: ch}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.AutoscalerTick)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-m.sendCh:
			if !ok {
				return
			}
			if m.handle(message) {
				return
			}
		case <-ticker.C:
			m.onTick()
		}
	}
}

// handle processes one message and reports whether the event loop
// should exit.
func (m *Manager) handle(mg msg) bool {
	switch mg.kind {
	case msgInvoke:
		resp, err := m.dispatch(context.Background(), mg.req)
		mg.respCh <- invokeResult{resp: resp, err: err}
		return false

	case msgReset:
		mg.doneCh <- m.handleReset()
		return false

	case msgCompileSettled:
		m.handleCompileSettled(mg.compileErr)
		return false

	case msgSnapshot:
		mg.snapshotCh <- m.snapshot()
		return false

	case msgShutdown:
		m.handleShutdown()
		mg.doneCh <- nil
		return true

	case msgOrphan:
		m.logger.Info().Msg("orphaning function manager")
		return true
	}
	return false
}

func (m *Manager) transition(to types.ManagerState) {
	if m.state == to {
		return
	}
	from := m.state
	metrics.ManagerStateTransitionsTotal.WithLabelValues(m.name, string(from), string(to)).Inc()
	m.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("manager state transition")
	m.state = to
	if m.events != nil {
		m.events.PublishManagerTransition(events.ManagerEvent{
			FunctionName: m.name,
			From:         string(from),
			To:           string(to),
			At:           time.Now(),
		})
	}
}

func (m *Manager) snapshot() types.Function {
	status := types.CompileStatusVanilla
	switch {
	case m.state == types.StateError:
		status = types.CompileStatusError
	case m.state == types.StateAwaitingCompile:
		status = types.CompileStatusCompiling
	case m.registry.Linked(m.name):
		status = types.CompileStatusCompiled
	}
	return types.Function{
		ID:              m.id,
		Name:            m.name,
		NativeTrace:     boolToTrace(m.registry.Linked(m.name)),
		CompileStatus:   status,
		State:           m.state,
		ReplicasVanilla: m.vanillaReplicas,
		ReplicasTracing: boolToInt(m.state == types.StateTracing),
		CreatedAt:       m.createdAt,
		UpdatedAt:       time.Now(),
	}
}

func boolToTrace(linked bool) string {
	if linked {
		return "linked"
	}
	return ""
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func vanillaName(name string) string      { return "function-vanilla-" + name }
func tracingPodName(name string) string   { return "function-tracing-" + vanillaName(name) }
func serviceName(name string) string      { return "function-" + name }

// dispatch implements spec.md §4.3's invoke contract: the backend is
// chosen from m.state at call time, never earlier.
func (m *Manager) dispatch(ctx context.Context, req *types.Request) (*types.Response, error) {
	m.requestsThisTick++

	switch m.state {
	case types.StateNew:
		deadline, cancel := context.WithTimeout(ctx, m.cfg.NewFunctionReadyDeadline)
		defer cancel()
		if err := m.ensureVanillaReady(deadline); err != nil {
			return nil, err
		}
		m.transition(types.StateVanilla)
		return m.forwardVanilla(ctx, req)

	case types.StateVanilla, types.StateAwaitingCompile:
		return m.forwardVanilla(ctx, req)

	case types.StateTracing:
		if m.tracingRequestsUsed < m.cfg.TraceRequestBudget {
			resp, err := m.forwardTracing(ctx, req)
			m.tracingRequestsUsed++
			if m.tracingRequestsUsed >= m.cfg.TraceRequestBudget {
				m.completeTracing(ctx)
			}
			return resp, err
		}
		return m.forwardVanilla(ctx, req)

	case types.StateDecontainerized:
		resp, outcome, linked := m.registry.Invoke(ctx, m.name, req)
		if linked {
			if outcome == tracert.Served {
				m.recordUnknown(false)
				return resp, nil
			}
			m.recordUnknown(true)
			metrics.NativeTraceUnknownTotal.WithLabelValues(m.name).Inc()
			if m.unknownExceeded() {
				m.transition(types.StateAwaitingReset)
			}
		}
		return m.forwardVanilla(ctx, req)

	case types.StateAwaitingReset:
		return m.forwardVanilla(ctx, req)

	case types.StateError:
		return nil, clerr.New("manager.invoke", clerr.Unknown, fmt.Errorf("function %q is in error state", m.name))
	}
	return nil, clerr.New("manager.invoke", clerr.Unknown, fmt.Errorf("function %q: unreachable state %s", m.name, m.state))
}

func (m *Manager) recordUnknown(unknown bool) {
	if len(m.unknownWindow) == 0 {
		return
	}
	m.unknownWindow[m.unknownNext] = unknown
	m.unknownNext = (m.unknownNext + 1) % len(m.unknownWindow)
}

func (m *Manager) unknownExceeded() bool {
	count := 0
	for _, u := range m.unknownWindow {
		if u {
			count++
		}
	}
	return count >= m.cfg.NativeUnknownThreshold
}

// ensureVanillaReady creates the vanilla replica set and service if
// absent, and blocks until at least one replica is Ready or ctx expires.
func (m *Manager) ensureVanillaReady(ctx context.Context) error {
	if m.vanillaReplicas == 0 {
		if err := m.createVanilla(ctx, 1); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(m.cfg.ReadinessProbeDeadline)
	defer ticker.Stop()
	for {
		pods, err := m.driver.ListPodsByLabelAndField(ctx, "app="+m.name, "status.phase=Running")
		if err == nil {
			for _, p := range pods {
				if m.probeReady(ctx, p.IP) {
					return nil
				}
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return clerr.New("manager.ensure_vanilla_ready", clerr.ClusterUnavailable,
				fmt.Errorf("function %q: no ready vanilla replica within deadline", m.name))
		}
	}
}

// probeReady polls a backend's readiness endpoint using the same
// bounded HTTPChecker cuemby-warren's health package uses for service
// health checks, pointed at this manager's short-deadline probeClient
// instead of the checker's own default client.
func (m *Manager) probeReady(ctx context.Context, ip string) bool {
	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/readinessProbe", ip, backendPort))
	checker.Client = m.probeClient
	return checker.Check(ctx).Healthy
}

func (m *Manager) createVanilla(ctx context.Context, replicas int) error {
	spec := cluster.ReplicaSetSpec{
		Name:     vanillaName(m.name),
		Image:    m.name,
		Replicas: replicas,
		Labels:   map[string]string{"app": m.name},
	}
	if err := m.driver.CreateReplicaSet(ctx, spec); err != nil {
		return clerr.New("manager.create_vanilla", clerr.ClusterUnavailable, err)
	}
	if err := m.driver.CreateService(ctx, cluster.ServiceSpec{
		Name: serviceName(m.name), Selector: map[string]string{"app": m.name},
		Port: backendPort, TargetPort: backendPort,
	}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to create service")
	}
	m.vanillaReplicas = replicas
	m.vanillaTornDown = false
	return nil
}

func (m *Manager) scaleVanillaTo(ctx context.Context, target int) {
	if target == m.vanillaReplicas {
		return
	}
	spec := cluster.ReplicaSetSpec{Name: vanillaName(m.name), Image: m.name, Replicas: target, Labels: map[string]string{"app": m.name}}
	if target == 0 {
		if err := m.driver.DeleteReplicaSet(ctx, vanillaName(m.name)); err != nil {
			m.logger.Warn().Err(err).Msg("failed to delete vanilla replica set")
			return
		}
		m.vanillaTornDown = true
	} else {
		if m.vanillaReplicas == 0 {
			if err := m.createVanilla(ctx, target); err != nil {
				m.logger.Warn().Err(err).Msg("failed to recreate vanilla replicas")
				return
			}
		} else if err := m.driver.PatchReplicaSet(ctx, spec); err != nil {
			m.logger.Warn().Err(err).Msg("failed to patch vanilla replica set")
			return
		}
	}
	m.vanillaReplicas = target
}

func (m *Manager) pickVanillaPod(ctx context.Context) (cluster.PodInfo, error) {
	pods, err := m.driver.ListPodsByLabelAndField(ctx, "app="+m.name, "status.phase=Running")
	if err != nil {
		return cluster.PodInfo{}, clerr.New("manager.pick_vanilla_pod", clerr.ClusterUnavailable, err)
	}
	if len(pods) == 0 {
		return cluster.PodInfo{}, clerr.New("manager.pick_vanilla_pod", clerr.ClusterUnavailable,
			fmt.Errorf("function %q: no running vanilla replicas", m.name))
	}
	m.rrIndex = (m.rrIndex + 1) % len(pods)
	return pods[m.rrIndex], nil
}

func (m *Manager) forwardVanilla(ctx context.Context, req *types.Request) (*types.Response, error) {
	if m.vanillaReplicas == 0 {
		deadline, cancel := context.WithTimeout(ctx, m.cfg.NewFunctionReadyDeadline)
		defer cancel()
		if err := m.ensureVanillaReady(deadline); err != nil {
			return nil, err
		}
	}
	pod, err := m.pickVanillaPod(ctx)
	if err != nil {
		return nil, err
	}
	return m.forwardTo(ctx, pod.IP, req, "vanilla")
}

func (m *Manager) forwardTracing(ctx context.Context, req *types.Request) (*types.Response, error) {
	pods, err := m.driver.ListPodsByLabelAndField(ctx, "app="+tracingPodName(m.name), "status.phase=Running")
	if err != nil || len(pods) == 0 {
		return m.forwardVanilla(ctx, req)
	}
	return m.forwardTo(ctx, pods[0].IP, req, "tracing")
}

func (m *Manager) forwardTo(ctx context.Context, ip string, req *types.Request, backend string) (*types.Response, error) {
	timer := metrics.NewTimer()
	target := fmt.Sprintf("http://%s:%d%s", ip, backendPort, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, clerr.New("manager.forward", clerr.Unknown, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues(m.name, backend, "error").Inc()
		return nil, clerr.New("manager.forward", clerr.InvocationError, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues(m.name, backend, "error").Inc()
		return nil, clerr.New("manager.forward", clerr.InvocationError, err)
	}

	timer.ObserveDurationVec(metrics.InvocationDuration, m.name, backend)
	metrics.InvocationsTotal.WithLabelValues(m.name, backend, strconv.Itoa(resp.StatusCode)).Inc()
	return &types.Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// onTick runs the autoscaler and the tracing-decision / idle-teardown
// checks that spec.md ties to the manager's own ticker (§4.4).
func (m *Manager) onTick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AutoscalerTick*5)
	defer cancel()

	target, windowMax := m.scaler.RecordTick(m.requestsThisTick)
	m.requestsThisTick = 0
	metrics.AutoscalerWindowMax.WithLabelValues(m.name).Set(float64(windowMax))
	metrics.AutoscalerTargetReplicas.WithLabelValues(m.name).Set(float64(target))

	switch m.state {
	case types.StateVanilla:
		if m.vanillaReplicas > 0 && target != m.vanillaReplicas {
			m.scaleVanillaTo(ctx, target)
		}
		m.considerTracing(windowMax)

	case types.StateAwaitingCompile:
		if m.vanillaReplicas > 0 && target != m.vanillaReplicas {
			m.scaleVanillaTo(ctx, target)
		}

	case types.StateTracing:
		if !m.tracingDeadline.IsZero() && time.Now().After(m.tracingDeadline) {
			m.abortTracing(ctx, clerr.New("manager.tracing", clerr.TracingTimeout,
				fmt.Errorf("function %q: tracing replica did not return a trace in time", m.name)))
		}

	case types.StateDecontainerized, types.StateAwaitingReset:
		if !m.vanillaTornDown && !m.decontainerizedSince.IsZero() && time.Since(m.decontainerizedSince) > m.cfg.IdleTeardownDeadline {
			m.scaleVanillaTo(ctx, 0)
		}
	}
}

// considerTracing implements the loose "request rate stable" trigger
// spec.md §4.3 names without pinning an exact definition: stability is
// a plateaued non-zero windowed maximum held across consecutive ticks.
func (m *Manager) considerTracing(windowMax int) {
	if windowMax == 0 || m.compiler == nil {
		m.stableTicks = 0
		m.stableWindowMax = windowMax
		return
	}
	if windowMax == m.stableWindowMax {
		m.stableTicks++
	} else {
		m.stableTicks = 0
		m.stableWindowMax = windowMax
	}
	const stableTicksRequired = 3
	if m.stableTicks >= stableTicksRequired {
		m.beginTracing(context.Background())
	}
}

func (m *Manager) beginTracing(ctx context.Context) {
	if err := m.compiler.CreateFunction(ctx, m.name, false); err != nil && clerr.KindOf(err) != clerr.Conflict {
		m.logger.Warn().Err(err).Msg("failed to register function with compiler before tracing")
		return
	}
	spec := cluster.ReplicaSetSpec{
		Name:     tracingPodName(m.name),
		Image:    m.name,
		Replicas: 1,
		Labels:   map[string]string{"app": tracingPodName(m.name)},
	}
	if err := m.driver.CreateReplicaSet(ctx, spec); err != nil {
		m.logger.Warn().Err(err).Msg("failed to create tracing replica")
		return
	}
	m.tracingRequestsUsed = 0
	m.tracingDeadline = time.Now().Add(m.cfg.TracingTimeout)
	m.stableTicks = 0
	m.transition(types.StateTracing)
}

// completeTracing is reached once the tracing budget has been consumed:
// the tracing replica's accumulated execution log is fetched and handed
// to the compiler actor.
func (m *Manager) completeTracing(ctx context.Context) {
	pods, err := m.driver.ListPodsByLabelAndField(ctx, "app="+tracingPodName(m.name), "status.phase=Running")
	if err != nil || len(pods) == 0 {
		m.abortTracing(ctx, clerr.New("manager.complete_tracing", clerr.TracingTimeout,
			fmt.Errorf("function %q: tracing replica vanished before trace capture", m.name)))
		return
	}
	traceBytes, err := m.fetchTrace(ctx, pods[0].IP)
	if err != nil {
		m.abortTracing(ctx, err)
		return
	}
	_ = m.driver.DeleteReplicaSet(ctx, tracingPodName(m.name))
	m.transition(types.StateAwaitingCompile)
	m.compiler.Compile(m.name, traceBytes)
	go m.watchCompileSettled()
}

func (m *Manager) fetchTrace(ctx context.Context, ip string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/__trace", ip, backendPort), nil)
	if err != nil {
		return nil, clerr.New("manager.fetch_trace", clerr.Unknown, err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, clerr.New("manager.fetch_trace", clerr.TracingTimeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clerr.New("manager.fetch_trace", clerr.TracingTimeout, err)
	}
	return body, nil
}

func (m *Manager) abortTracing(ctx context.Context, cause error) {
	m.logger.Warn().Err(cause).Msg("aborting trace")
	_ = m.driver.DeleteReplicaSet(ctx, tracingPodName(m.name))
	m.tracingRequestsUsed = 0
	m.tracingDeadline = time.Time{}
	m.transition(types.StateVanilla)
}

// watchCompileSettled is a short-lived child task (spec.md §5): it
// blocks on the compiler actor's dispatcher-version RPC, bounded by the
// rollout deadline, then reports the outcome back into the manager's own
// message channel so the state transition stays single-writer.
func (m *Manager) watchCompileSettled() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DeployRolloutTimeout+5*time.Second)
	defer cancel()
	_, err := m.compiler.DispatcherVersion(ctx)
	select {
	case m.sendCh <- msg{kind: msgCompileSettled, compileErr: err}:
	case <-m.stopped:
	}
}

func (m *Manager) handleCompileSettled(err error) {
	if m.state != types.StateAwaitingCompile {
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("compilation or dispatcher rollout failed")
		m.transition(types.StateError)
		return
	}
	m.decontainerizedSince = time.Now()
	m.vanillaTornDown = false
	m.transition(types.StateDecontainerized)
}

func (m *Manager) handleReset() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DeployRolloutTimeout+5*time.Second)
	defer cancel()

	switch m.state {
	case types.StateDecontainerized, types.StateAwaitingReset, types.StateError:
		if err := m.compiler.ResetFunction(ctx, m.name); err != nil {
			m.transition(types.StateError)
			return err
		}
		for i := range m.unknownWindow {
			m.unknownWindow[i] = false
		}
		if err := m.ensureVanillaReady(ctx); err != nil {
			m.transition(types.StateError)
			return err
		}
		m.transition(types.StateVanilla)
		return nil

	case types.StateTracing:
		m.abortTracing(ctx, clerr.New("manager.reset", clerr.Unknown, fmt.Errorf("reset requested during tracing")))
		return nil

	default:
		return nil
	}
}

func (m *Manager) handleShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DeployRolloutTimeout)
	defer cancel()
	if m.state == types.StateTracing {
		_ = m.driver.DeleteReplicaSet(ctx, tracingPodName(m.name))
	}
	if m.vanillaReplicas > 0 {
		_ = m.driver.DeleteReplicaSet(ctx, vanillaName(m.name))
	}
	_ = m.driver.DeleteService(ctx, serviceName(m.name))
	m.transition(types.StateShutdown)
}
