package compiler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/cluster/fake"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/tracert"
)

// newTestCompiler does not register a cleanup shutdown: several tests
// shut the actor down themselves to assert on Shutdown's side effects,
// and a second Shutdown on an already-stopped actor would just block
// until its context expires.
func newTestCompiler(t *testing.T) (*Compiler, *fake.Driver) {
	t.Helper()
	driver := fake.New()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	return New(cfg, driver, tracert.NewRegistry()), driver
}

func deploymentSpecForTest() cluster.DeploymentSpec {
	return cluster.DeploymentSpec{Name: "dispatcher", Image: "containerless-dispatcher", Replicas: 1}
}

func withTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func TestCreateFunctionThenDoubleCreateConflicts(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	require.NoError(t, c.CreateFunction(ctx, "echo", false))

	err := c.CreateFunction(ctx, "echo", false)
	assert.Equal(t, clerr.Conflict, clerr.KindOf(err))
}

func TestCreateFunctionExclusiveClearsOthers(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	require.NoError(t, c.CreateFunction(ctx, "a", false))
	require.NoError(t, c.CreateFunction(ctx, "b", true))

	// "a" was cleared by the exclusive create of "b", so it can be
	// recreated without a conflict.
	require.NoError(t, c.CreateFunction(ctx, "a", false))
}

func TestResetVanillaFunctionIsTrivial(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	require.NoError(t, c.CreateFunction(ctx, "echo", false))
	require.NoError(t, c.ResetFunction(ctx, "echo"))

	// Having been reset, the name is forgotten and can be recreated.
	require.NoError(t, c.CreateFunction(ctx, "echo", false))
}

func TestResetUnknownFunctionDoesNotBlock(t *testing.T) {
	c, _ := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	assert.NoError(t, c.ResetFunction(ctx, "never-created"))
}

func TestDispatcherVersionWaitsForReadyReplica(t *testing.T) {
	c, driver := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	require.NoError(t, driver.PatchDeployment(context.Background(), deploymentSpecForTest()))
	driver.SetReady("dispatcher", 1)

	version, err := c.DispatcherVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestShutdownDeletesDispatcherDeployment(t *testing.T) {
	c, driver := newTestCompiler(t)
	ctx, cancel := withTimeout(t)
	defer cancel()

	require.NoError(t, driver.PatchDeployment(context.Background(), deploymentSpecForTest()))
	require.NoError(t, c.Shutdown(ctx))

	_, err := driver.GetDeploymentStatus(context.Background(), "dispatcher")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}
