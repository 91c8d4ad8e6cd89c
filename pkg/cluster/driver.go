// Package cluster defines the opaque cluster driver the rest of the control
// plane dispatches replica lifecycle through (spec.md §4.1), and a
// containerd-backed implementation of it.
//
// Everything above this package — the manager, the table, the autoscaler,
// the compiler actor — talks to replica sets, services and deployments only
// through the Driver interface. None of them import containerd directly,
// the same separation cuemby-warren draws between pkg/scheduler and
// pkg/runtime.
package cluster

import (
	"context"
)

// ReplicaSetSpec describes the desired state of a named group of
// interchangeable replicas (a vanilla or tracing pool for one function).
type ReplicaSetSpec struct {
	Name     string
	Image    string
	Replicas int
	Labels   map[string]string
	Env      map[string]string
	Mounts   []Mount
}

// Mount is a host bind mount into a replica, used to share the native
// trace artifact root (spec.md §6's <root>) between the compiler actor's
// host filesystem and the decontainerized dispatcher deployment.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ReplicaSetStatus is the cluster's observed view of a replica set.
type ReplicaSetStatus struct {
	Name            string
	SpecReplicas    int
	RunningReplicas int
	Labels          map[string]string
}

// ServiceSpec describes a stable network identity in front of a replica
// set (used for the tracing replica and for the decontainerized dispatcher
// front door).
type ServiceSpec struct {
	Name       string
	Selector   map[string]string
	Port       int
	TargetPort int
}

// DeploymentSpec describes the single decontainerized dispatcher
// deployment a function is promoted into once its native trace links.
type DeploymentSpec struct {
	Name     string
	Image    string
	Replicas int
	Labels   map[string]string
	Env      map[string]string
	Mounts   []Mount
}

// DeploymentStatus is the cluster's observed rollout state for a
// DeploymentSpec, used by the compiler actor to bound its wait for the
// patched dispatcher to become ready (spec.md §4.6).
type DeploymentStatus struct {
	Name               string
	ObservedGeneration int64
	ReadyReplicas      int
	Replicas           int
}

// PodInfo is a single running replica as seen by the cluster, independent
// of which replica set or deployment owns it.
type PodInfo struct {
	Name   string
	Labels map[string]string
	Phase  string
	IP     string
}

// Driver is the control plane's entire view of the underlying cluster. It
// is intentionally narrow: create/patch/delete a handful of resource
// kinds, list pods. Nothing above this package knows or cares
// whether a concrete Driver is backed by containerd, by Kubernetes, or by
// an in-memory fake used in tests.
type Driver interface {
	CreateReplicaSet(ctx context.Context, spec ReplicaSetSpec) error
	PatchReplicaSet(ctx context.Context, spec ReplicaSetSpec) error
	DeleteReplicaSet(ctx context.Context, name string) error
	GetReplicaSetStatus(ctx context.Context, name string) (ReplicaSetStatus, error)
	ListReplicaSets(ctx context.Context) ([]ReplicaSetStatus, error)

	CreateService(ctx context.Context, spec ServiceSpec) error
	DeleteService(ctx context.Context, name string) error

	PatchDeployment(ctx context.Context, spec DeploymentSpec) error
	DeleteDeployment(ctx context.Context, name string) error
	GetDeploymentStatus(ctx context.Context, name string) (DeploymentStatus, error)

	ListPods(ctx context.Context) ([]PodInfo, error)
	ListPodsByLabelAndField(ctx context.Context, label, field string) ([]PodInfo, error)
}
