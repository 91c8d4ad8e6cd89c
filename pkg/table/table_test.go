package table

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
	"github.com/containerless/platform/pkg/sourcestore"
	"github.com/containerless/platform/pkg/storage"
	"github.com/containerless/platform/pkg/tracert"
)

func newTestTable(t *testing.T) (*Table, *sourcestore.Fake) {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	driver := fake.New()
	comp := compiler.New(cfg, driver, tracert.NewRegistry())
	source := sourcestore.NewFake()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(cfg, driver, comp, tracert.NewRegistry(), source, store, nil), source
}

func TestGetFunctionUnknownNameFailsNotFound(t *testing.T) {
	tbl, _ := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := tbl.GetFunction(ctx, "missing")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
	assert.False(t, tbl.Exists("missing"))
}

func TestGetFunctionCreatesThenReusesManager(t *testing.T) {
	tbl, source := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, source.Create(ctx, "hello", []byte("source")))

	m1, err := tbl.GetFunction(ctx, "hello")
	require.NoError(t, err)
	m2, err := tbl.GetFunction(ctx, "hello")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestGetFunctionPersistsRegistryEntryAndSurvivesOrphan(t *testing.T) {
	tbl, source := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, source.Create(ctx, "hello", []byte("source")))

	_, err := tbl.GetFunction(ctx, "hello")
	require.NoError(t, err)

	entry, err := tbl.store.GetFunction("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", entry.Name)
	assert.NotEmpty(t, entry.ID)

	tbl.Orphan()
	require.NoError(t, source.Delete(ctx, "hello"))

	_, err = tbl.GetFunction(ctx, "hello")
	assert.NoError(t, err, "a registry hit should let a known name skip the now-404ing source probe")
}

func TestForgetFunctionRemovesRegistryEntry(t *testing.T) {
	tbl, source := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, source.Create(ctx, "hello", []byte("source")))

	_, err := tbl.GetFunction(ctx, "hello")
	require.NoError(t, err)

	tbl.ForgetFunction("hello")
	_, err = tbl.store.GetFunction("hello")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}

func TestAdoptRunningFunctionsMatchesVanillaNames(t *testing.T) {
	tbl, _ := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	driver := tbl.driver.(*fake.Driver)
	require.NoError(t, driver.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{
		Name: "function-vanilla-hello", Image: "hello", Replicas: 2, Labels: map[string]string{"app": "hello"},
	}))
	require.NoError(t, driver.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{
		Name: "dispatcher", Image: "dispatcher", Replicas: 1,
	}))

	require.NoError(t, tbl.AdoptRunningFunctions(ctx))
	assert.True(t, tbl.Exists("hello"))
	assert.False(t, tbl.Exists("dispatcher"))
}

func TestOrphanClearsTableWithoutDeletingResources(t *testing.T) {
	tbl, source := newTestTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, source.Create(ctx, "hello", []byte("source")))
	_, err := tbl.GetFunction(ctx, "hello")
	require.NoError(t, err)

	driver := tbl.driver.(*fake.Driver)
	require.NoError(t, driver.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{
		Name: "function-vanilla-hello", Image: "hello", Replicas: 1, Labels: map[string]string{"app": "hello"},
	}))

	tbl.Orphan()
	assert.Empty(t, tbl.Names())

	_, err = driver.GetReplicaSetStatus(ctx, "function-vanilla-hello")
	assert.NoError(t, err)
}
