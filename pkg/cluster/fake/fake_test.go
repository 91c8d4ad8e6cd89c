package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
)

func TestReplicaSetLifecycle(t *testing.T) {
	ctx := context.Background()
	d := New()

	err := d.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{Name: "echo-vanilla", Replicas: 2})
	require.NoError(t, err)

	st, err := d.GetReplicaSetStatus(ctx, "echo-vanilla")
	require.NoError(t, err)
	assert.Equal(t, 2, st.RunningReplicas)

	err = d.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{Name: "echo-vanilla", Replicas: 1})
	assert.Equal(t, clerr.Conflict, clerr.KindOf(err))

	err = d.PatchReplicaSet(ctx, cluster.ReplicaSetSpec{Name: "echo-vanilla", Replicas: 5})
	require.NoError(t, err)
	st, err = d.GetReplicaSetStatus(ctx, "echo-vanilla")
	require.NoError(t, err)
	assert.Equal(t, 5, st.RunningReplicas)

	require.NoError(t, d.DeleteReplicaSet(ctx, "echo-vanilla"))
	_, err = d.GetReplicaSetStatus(ctx, "echo-vanilla")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}

func TestPatchDeploymentBumpsGenerationOnChange(t *testing.T) {
	ctx := context.Background()
	d := New()

	require.NoError(t, d.PatchDeployment(ctx, cluster.DeploymentSpec{Name: "echo", Image: "echo:v1", Replicas: 1}))
	st, err := d.GetDeploymentStatus(ctx, "echo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.ObservedGeneration)
	assert.Equal(t, 1, st.ReadyReplicas)

	// Re-patching with the same spec must not bump the generation.
	require.NoError(t, d.PatchDeployment(ctx, cluster.DeploymentSpec{Name: "echo", Image: "echo:v1", Replicas: 1}))
	st, err = d.GetDeploymentStatus(ctx, "echo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.ObservedGeneration)

	// A new image is a new rollout.
	require.NoError(t, d.PatchDeployment(ctx, cluster.DeploymentSpec{Name: "echo", Image: "echo:v2", Replicas: 1}))
	st, err = d.GetDeploymentStatus(ctx, "echo")
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.ObservedGeneration)
}

func TestDeploymentRolloutNotReadyUntilSetReady(t *testing.T) {
	ctx := context.Background()
	d := New()

	require.NoError(t, d.PatchDeployment(ctx, cluster.DeploymentSpec{Name: "echo", Image: "echo:v1", Replicas: 3}))
	d.SetReady("echo", 1)

	st, err := d.GetDeploymentStatus(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ReadyReplicas)
	assert.Equal(t, 3, st.Replicas)
}

func TestListPodsByLabelAndField(t *testing.T) {
	ctx := context.Background()
	d := New()

	require.NoError(t, d.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{
		Name:     "echo-tracing",
		Replicas: 1,
		Labels:   map[string]string{"containerless.io/replicaset": "echo-tracing"},
	}))
	require.NoError(t, d.CreateReplicaSet(ctx, cluster.ReplicaSetSpec{
		Name:     "other-tracing",
		Replicas: 1,
		Labels:   map[string]string{"containerless.io/replicaset": "other-tracing"},
	}))

	pods, err := d.ListPodsByLabelAndField(ctx, "containerless.io/replicaset=echo-tracing", "status.phase=Running")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "echo-tracing-0", pods[0].Name)
}

var _ cluster.Driver = (*Driver)(nil)
