// Package compiler implements the compiler actor: the single task that
// serializes trace-to-native compilation, native builds, and dispatcher
// deployment patches so two mutations of the served binary never race
// (spec.md §4.6). It is grounded directly on the original controller-agent's
// compiler.rs message-passing actor: a buffered channel stands in for the
// mpsc::Sender/Receiver pair, and each Rust oneshot reply channel becomes a
// Go channel embedded in the message struct.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/log"
	"github.com/containerless/platform/pkg/metrics"
	"github.com/containerless/platform/pkg/tracert"
	"github.com/containerless/platform/pkg/types"
)

type msgKind int

const (
	msgCompile msgKind = iota
	msgCreateFunction
	msgResetFunction
	msgResetDispatcher
	msgRecompileDispatcher
	msgGetDispatcherVersion
	msgShutdown
)

type message struct {
	kind      msgKind
	name      string
	code      []byte
	exclusive bool

	done                  chan error
	startedCompiling      chan error
	newDispatcherDeployed chan error
	version               chan int64
}

// Compiler is the single-writer actor owning the on-disk trace registry
// and the dispatcher deployment version.
type Compiler struct {
	cfg      config.Config
	driver   cluster.Driver
	registry *tracert.Registry
	logger   zerolog.Logger

	sendCh         chan message
	isCompilingNow atomic.Bool
	stopped        chan struct{}
}

// New starts the compiler actor's goroutine and returns a handle to it.
func New(cfg config.Config, driver cluster.Driver, registry *tracert.Registry) *Compiler {
	c := &Compiler{
		cfg:      cfg,
		driver:   driver,
		registry: registry,
		logger:   log.WithComponent("compiler"),
		sendCh:   make(chan message, 1),
		stopped:  make(chan struct{}),
	}
	go c.run()
	return c
}

// OkIfNotCompiling reports true unless a native build is currently in
// flight. The controller's /system_status shows it as "compiler idle"; no
// HTTP handler answers 503 on it.
func (c *Compiler) OkIfNotCompiling() bool {
	return !c.isCompilingNow.Load()
}

// Compile submits a captured trace for function name. It does not block on
// the resulting build or deployment patch, matching the original's
// fire-and-forget Message::Compile.
func (c *Compiler) Compile(name string, code []byte) {
	c.sendCh <- message{kind: msgCompile, name: name, code: code}
}

// CreateFunction registers name with compile_status Vanilla. If exclusive
// is set every other known function is cleared first. Returns
// clerr.Conflict if name is already registered.
func (c *Compiler) CreateFunction(ctx context.Context, name string, exclusive bool) error {
	done := make(chan error, 1)
	c.sendCh <- message{kind: msgCreateFunction, name: name, exclusive: exclusive, done: done}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetFunction drops a compiled trace, removes its artifact files,
// rebuilds, and waits for the redeployed dispatcher to become ready.
// startedCompiling resolves once the build has begun; the call itself
// blocks until the new dispatcher version is observed ready (or the
// rollout wait times out).
func (c *Compiler) ResetFunction(ctx context.Context, name string) error {
	startedCompiling := make(chan error, 1)
	newDispatcherDeployed := make(chan error, 1)
	c.sendCh <- message{
		kind:                  msgResetFunction,
		name:                  name,
		startedCompiling:      startedCompiling,
		newDispatcherDeployed: newDispatcherDeployed,
	}
	select {
	case err := <-startedCompiling:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-newDispatcherDeployed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetDispatcher clears every known function and rebuilds the dispatcher
// binary from scratch.
func (c *Compiler) ResetDispatcher(ctx context.Context) error {
	return c.rebuildDispatcher(ctx, msgResetDispatcher)
}

// RecompileDispatcher rebuilds the dispatcher binary without clearing any
// function state.
func (c *Compiler) RecompileDispatcher(ctx context.Context) error {
	return c.rebuildDispatcher(ctx, msgRecompileDispatcher)
}

func (c *Compiler) rebuildDispatcher(ctx context.Context, kind msgKind) error {
	startedCompiling := make(chan error, 1)
	c.sendCh <- message{kind: kind, startedCompiling: startedCompiling}
	select {
	case err := <-startedCompiling:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatcherVersion blocks until the dispatcher deployment reports exactly
// one replica (Replicas == 1), then returns its observed generation. The
// actor polls once a second and gives up after cfg.DeployRolloutTimeout
// (60s by default); ctx can end the caller's wait earlier. This resolves
// the Open Question spec.md §9 leaves unspecified ("I don't think this is
// quite right...." in the original).
func (c *Compiler) DispatcherVersion(ctx context.Context) (int64, error) {
	version := make(chan int64, 1)
	done := make(chan error, 1)
	c.sendCh <- message{kind: msgGetDispatcherVersion, version: version, done: done}
	select {
	case v := <-version:
		return v, nil
	case err := <-done:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown tears down dynamically created cluster resources and stops the
// actor loop. It blocks until the loop has exited.
func (c *Compiler) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	c.sendCh <- message{kind: msgShutdown, done: done}
	select {
	case err := <-done:
		<-c.stopped
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Compiler) run() {
	ctx := context.Background()
	knownFunctions := make(map[string]types.CompileStatus)
	var nextVersion int64 = 1

	defer close(c.stopped)

	for msg := range c.sendCh {
		switch msg.kind {
		case msgCreateFunction:
			c.handleCreateFunction(knownFunctions, msg)

		case msgCompile:
			nextVersion = c.handleCompile(ctx, knownFunctions, nextVersion, msg)

		case msgResetFunction:
			nextVersion = c.handleResetFunction(ctx, knownFunctions, nextVersion, msg)

		case msgResetDispatcher:
			for name := range knownFunctions {
				delete(knownFunctions, name)
				c.registry.Unload(name)
			}
			c.regenerateManifest(knownFunctions)
			nextVersion = c.handleRebuildDispatcher(ctx, nextVersion, msg)

		case msgRecompileDispatcher:
			nextVersion = c.handleRebuildDispatcher(ctx, nextVersion, msg)

		case msgGetDispatcherVersion:
			c.handleGetDispatcherVersion(ctx, msg)

		case msgShutdown:
			err := c.driver.DeleteDeployment(ctx, "dispatcher")
			c.logger.Info().Msg("ending compiler task (received shutdown message)")
			msg.done <- err
			return
		}
	}
	c.logger.Info().Msg("ending compiler task (all senders closed)")
}

func (c *Compiler) handleCreateFunction(known map[string]types.CompileStatus, msg message) {
	if _, exists := known[msg.name]; exists {
		known[msg.name] = types.CompileStatusError
		c.logger.Error().Str("function_name", msg.name).Msg("creating function twice")
		msg.done <- clerr.New("compiler.create_function", clerr.Conflict,
			fmt.Errorf("function %q already exists", msg.name))
		return
	}
	if msg.exclusive {
		for name := range known {
			delete(known, name)
		}
	}
	known[msg.name] = types.CompileStatusVanilla
	msg.done <- nil
}

func (c *Compiler) handleCompile(ctx context.Context, known map[string]types.CompileStatus, nextVersion int64, msg message) int64 {
	logger := log.WithFunctionName(msg.name)
	logger.Info().Msg("compiler task received trace")
	nextVersion++

	jsonPath := c.tracePath(msg.name)
	if err := os.WriteFile(jsonPath, msg.code, 0644); err != nil {
		known[msg.name] = types.CompileStatusError
		logger.Error().Err(err).Msg("failed to write trace file")
		return nextVersion
	}

	sourcePath := c.sourcePath(msg.name)
	if err := c.compileTrace(ctx, msg.name, jsonPath, sourcePath); err != nil {
		known[msg.name] = types.CompileStatusError
		logger.Error().Err(err).Msg("error compiling trace")
		return nextVersion
	}

	known[msg.name] = types.CompileStatusCompiling
	c.regenerateManifest(known)

	pluginPath := c.pluginPath(msg.name)
	if err := c.buildPlugin(ctx, sourcePath, pluginPath); err != nil {
		known[msg.name] = types.CompileStatusError
		c.regenerateManifest(known)
		return nextVersion
	}
	if err := c.registry.Load(msg.name, pluginPath); err != nil {
		known[msg.name] = types.CompileStatusError
		c.regenerateManifest(known)
		logger.Error().Err(err).Msg("error loading compiled trace")
		return nextVersion
	}
	known[msg.name] = types.CompileStatusCompiled

	if err := c.patchDispatcher(ctx, nextVersion); err != nil {
		logger.Error().Err(err).Msg("error patching dispatcher deployment")
		return nextVersion
	}
	logger.Info().Int64("dispatcher_version", nextVersion).Msg("patched dispatcher deployment")
	return nextVersion
}

func (c *Compiler) handleResetFunction(ctx context.Context, known map[string]types.CompileStatus, nextVersion int64, msg message) int64 {
	logger := log.WithFunctionName(msg.name)
	logger.Info().Msg("clearing compiled function")

	status, ok := known[msg.name]
	if !ok {
		logger.Error().Msg("clearing compiled function: did not find function in known functions")
		msg.startedCompiling <- nil
		msg.newDispatcherDeployed <- nil
		return nextVersion
	}

	switch status {
	case types.CompileStatusVanilla:
		delete(known, msg.name)
		msg.startedCompiling <- nil
		msg.newDispatcherDeployed <- nil
		return nextVersion

	case types.CompileStatusCompiling:
		err := clerr.New("compiler.reset_function", clerr.Conflict,
			fmt.Errorf("function %q: trace not yet built", msg.name))
		msg.startedCompiling <- err
		msg.newDispatcherDeployed <- err
		return nextVersion

	case types.CompileStatusError:
		c.removeTraceFiles(msg.name)
		c.registry.Unload(msg.name)
		delete(known, msg.name)
		c.regenerateManifest(known)
		msg.startedCompiling <- nil
		msg.newDispatcherDeployed <- nil
		return nextVersion

	case types.CompileStatusCompiled:
		if err := c.removeTraceFiles(msg.name); err != nil {
			known[msg.name] = types.CompileStatusError
			logger.Error().Err(err).Msg("error resetting trace")
			msg.startedCompiling <- err
			msg.newDispatcherDeployed <- err
			return nextVersion
		}
		c.registry.Unload(msg.name)
		delete(known, msg.name)
		c.regenerateManifest(known)

		msg.startedCompiling <- nil

		if err := c.buildDispatcherBinary(ctx); err != nil {
			known[msg.name] = types.CompileStatusError
			c.regenerateManifest(known)
			logger.Error().Err(err).Msg("dispatcher-agent is in a broken state")
			msg.newDispatcherDeployed <- err
			return nextVersion
		}
		nextVersion++
		if err := c.patchDispatcher(ctx, nextVersion); err != nil {
			msg.newDispatcherDeployed <- err
			return nextVersion
		}
		logger.Info().Int64("dispatcher_version", nextVersion).Msg("patched dispatcher deployment")

		err := c.waitForDispatcherReady(ctx, nextVersion)
		msg.newDispatcherDeployed <- err
		return nextVersion
	}
	return nextVersion
}

func (c *Compiler) handleRebuildDispatcher(ctx context.Context, nextVersion int64, msg message) int64 {
	if !c.cargoBuild(ctx, msg.startedCompiling) {
		c.logger.Error().Msg("the code for dispatcher-agent is in a broken state; the system may not work")
		return nextVersion
	}
	nextVersion++
	if err := c.patchDispatcher(ctx, nextVersion); err != nil {
		c.logger.Error().Err(err).Msg("patching dispatcher deployment")
		return nextVersion
	}
	c.logger.Info().Int64("dispatcher_version", nextVersion).Msg("patched dispatcher deployment")
	return nextVersion
}

func (c *Compiler) handleGetDispatcherVersion(ctx context.Context, msg message) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeployRolloutTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		status, err := c.driver.GetDeploymentStatus(ctx, "dispatcher")
		if err != nil {
			c.logger.Error().Err(err).Msg("error getting dispatcher version")
			msg.done <- err
			return
		}
		if status.Replicas == 1 {
			msg.version <- status.ObservedGeneration
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			msg.done <- ctx.Err()
			return
		}
	}
}

// cargoBuild runs the dispatcher-binary build, signaling startedCompiling
// once the build has begun. It enforces the single-build invariant that
// made the original's is_compiling_now flag a structural necessity: this
// function is only ever called from the actor's own goroutine, so no two
// builds can overlap.
func (c *Compiler) cargoBuild(ctx context.Context, startedCompiling chan<- error) bool {
	if startedCompiling != nil {
		startedCompiling <- nil
	}
	return c.buildDispatcherBinary(ctx) == nil
}

func (c *Compiler) buildDispatcherBinary(ctx context.Context) error {
	out := filepath.Join(c.cfg.Root, "dispatcher")
	return c.runBuild(ctx, c.cfg.DispatcherSourceDir, out)
}

func (c *Compiler) buildPlugin(ctx context.Context, sourcePath, outPath string) error {
	args := append(strings.Fields(c.cfg.BuildCmd)[1:], "-buildmode=plugin", "-o", outPath, sourcePath)
	return c.runCommand(ctx, filepath.Dir(sourcePath), args)
}

func (c *Compiler) runBuild(ctx context.Context, pkgDir, out string) error {
	args := append(strings.Fields(c.cfg.BuildCmd)[1:], "-o", out, pkgDir)
	return c.runCommand(ctx, c.cfg.Root, args)
}

func (c *Compiler) runCommand(ctx context.Context, dir string, args []string) error {
	c.isCompilingNow.Store(true)
	metrics.CompilingNow.Set(1)
	defer func() {
		c.isCompilingNow.Store(false)
		metrics.CompilingNow.Set(0)
	}()

	timer := metrics.NewTimer()
	fields := strings.Fields(c.cfg.BuildCmd)
	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Info().Str("cmd", cmd.String()).Msg("running native build; output suppressed unless an error occurs")
	err := cmd.Run()
	timer.ObserveDuration(metrics.CompileDuration)

	if err != nil {
		metrics.CompilesTotal.WithLabelValues("error").Inc()
		c.logger.Error().Err(err).Str("stderr", stderr.String()).Str("stdout", stdout.String()).Msg("native build failed")
		return clerr.New("compiler.build", clerr.CompilationFailed, err)
	}
	metrics.CompilesTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *Compiler) compileTrace(ctx context.Context, name, jsonPath, outSourcePath string) error {
	fields := strings.Fields(c.cfg.TraceCompilerCmd)
	args := append(fields[1:], name, jsonPath, outSourcePath)
	cmd := exec.CommandContext(ctx, fields[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return clerr.New("compiler.compile_trace", clerr.CompilationFailed,
			fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return nil
}

func (c *Compiler) patchDispatcher(ctx context.Context, version int64) error {
	spec := cluster.DeploymentSpec{
		Name:     "dispatcher",
		Image:    c.cfg.DispatcherImage,
		Replicas: 1,
		Labels: map[string]string{
			"app":     "dispatcher",
			"version": fmt.Sprintf("%d", version),
		},
		Env: map[string]string{
			"CONTAINERLESS_VERSION": fmt.Sprintf("V%d", version),
		},
		Mounts: []cluster.Mount{
			{Source: c.cfg.Root, Destination: "/trace", ReadOnly: true},
		},
	}
	if err := c.driver.PatchDeployment(ctx, spec); err != nil {
		return clerr.New("compiler.patch_dispatcher", clerr.Unknown, err)
	}
	return nil
}

// waitForDispatcherReady polls the patched deployment until exactly one
// pod labeled with this version is Running, or cfg.DeployRolloutTimeout
// elapses (spec.md §4.6, original wait_for_dispatcher_patch_to_complete:
// 1s interval, 60s timeout).
func (c *Compiler) waitForDispatcherReady(ctx context.Context, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeployRolloutTimeout)
	defer cancel()

	label := fmt.Sprintf("version=%d", version)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		pods, err := c.driver.ListPodsByLabelAndField(ctx, label, "status.phase=Running")
		running := 0
		for _, p := range pods {
			if p.Labels["app"] == "dispatcher" {
				running++
			}
		}
		if err == nil && running == 1 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return clerr.New("compiler.wait_for_dispatcher", clerr.DeploymentRolloutTimeout,
				fmt.Errorf("could not patch dispatcher deployment to version %d", version))
		}
	}
}

func (c *Compiler) regenerateManifest(known map[string]types.CompileStatus) {
	var names []string
	for name, status := range known {
		if status != types.CompileStatusError {
			names = append(names, name)
		}
	}
	if err := tracert.GenerateManifest(c.manifestPath(), names); err != nil {
		c.logger.Error().Err(err).Msg("cannot write function table file")
	}
}

func (c *Compiler) removeTraceFiles(name string) error {
	if err := os.Remove(c.sourcePath(name)); err != nil && !os.IsNotExist(err) {
		return clerr.New("compiler.remove_trace_files", clerr.Unknown, err)
	}
	if err := os.Remove(c.tracePath(name)); err != nil && !os.IsNotExist(err) {
		return clerr.New("compiler.remove_trace_files", clerr.Unknown, err)
	}
	_ = os.Remove(c.pluginPath(name))
	return nil
}

func (c *Compiler) functionsDir() string {
	return filepath.Join(c.cfg.Root, "dispatcher-agent", "src", "decontainerized_functions")
}

func (c *Compiler) tracePath(name string) string {
	return filepath.Join(c.functionsDir(), fmt.Sprintf("function_%s.json", name))
}

func (c *Compiler) sourcePath(name string) string {
	return filepath.Join(c.functionsDir(), fmt.Sprintf("function_%s.go", name))
}

func (c *Compiler) pluginPath(name string) string {
	return filepath.Join(c.functionsDir(), fmt.Sprintf("function_%s.so", name))
}

func (c *Compiler) manifestPath() string {
	return filepath.Join(c.functionsDir(), "mod.manifest")
}
