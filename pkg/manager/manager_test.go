package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
	"github.com/containerless/platform/pkg/cluster/fake"
	"github.com/containerless/platform/pkg/compiler"
	"github.com/containerless/platform/pkg/config"
	"github.com/containerless/platform/pkg/events"
	"github.com/containerless/platform/pkg/tracert"
	"github.com/containerless/platform/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.NewFunctionReadyDeadline = 200 * time.Millisecond
	cfg.ReadinessProbeDeadline = 20 * time.Millisecond
	cfg.InvokeConnectDeadline = 50 * time.Millisecond
	cfg.AutoscalerTick = time.Hour // disable ticking noise during these tests
	return cfg
}

func newTestManager(t *testing.T) (*Manager, *fake.Driver, *compiler.Compiler) {
	t.Helper()
	cfg := testConfig(t)
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	return New(cfg, "echo", driver, comp, tracert.NewRegistry(), ModeNew, AdoptState{}, nil), driver, comp
}

func TestInvokeOnNewFunctionTimesOutWithoutReadyBackend(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.Invoke(ctx, &types.Request{Method: "GET", Path: "/x"})
	require.Error(t, err)
	assert.Equal(t, clerr.ClusterUnavailable, clerr.KindOf(err))
}

func TestResetOnVanillaFunctionIsNoop(t *testing.T) {
	cfg := testConfig(t)
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	m := New(cfg, "echo", driver, comp, tracert.NewRegistry(), ModeAdopt, AdoptState{NumReplicas: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Reset(ctx))

	snap, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateVanilla, snap.State)
}

func TestShutdownDeletesVanillaReplicaSet(t *testing.T) {
	cfg := testConfig(t)
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())

	require.NoError(t, driver.CreateReplicaSet(context.Background(), cluster.ReplicaSetSpec{
		Name: "function-vanilla-echo", Image: "echo", Replicas: 1, Labels: map[string]string{"app": "echo"},
	}))

	m := New(cfg, "echo", driver, comp, tracert.NewRegistry(), ModeAdopt, AdoptState{NumReplicas: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err := driver.GetReplicaSetStatus(context.Background(), "function-vanilla-echo")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}

func TestShutdownPublishesManagerEventOnBroker(t *testing.T) {
	cfg := testConfig(t)
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	m := New(cfg, "echo", driver, comp, tracert.NewRegistry(), ModeAdopt, AdoptState{NumReplicas: 1}, broker)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventManagerStateChanged, ev.Type)
		assert.Equal(t, "echo", ev.FunctionName)
		assert.Equal(t, "shutdown", ev.Metadata["to"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for manager state transition event")
	}
}

func TestAdoptedTracingFunctionStartsInTracingState(t *testing.T) {
	m, _, _ := newTestManager(t)
	_ = m // the default ModeNew manager isn't tracing; construct a second one adopted as tracing

	cfg := testConfig(t)
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	tm := New(cfg, "echo", driver, comp, tracert.NewRegistry(), ModeAdopt, AdoptState{NumReplicas: 1, IsTracing: true}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := tm.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateTracing, snap.State)
}
