// Package fake is an in-memory cluster.Driver used by manager, table and
// compiler tests so they never need a live containerd daemon, the same way
// cuemby-warren's scheduler and reconciler tests substitute an in-memory
// store for boltdb.
package fake

import (
	"context"
	"strconv"
	"sync"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/cluster"
)

type replicaSet struct {
	spec    cluster.ReplicaSetSpec
	running int
}

type deployment struct {
	spec       cluster.DeploymentSpec
	generation int64
	ready      int
}

// Driver is a thread-safe in-memory implementation of cluster.Driver.
// New replicas report running immediately; call SetReady to simulate a
// slow rollout for deployment-status polling tests.
type Driver struct {
	mu          sync.Mutex
	replicaSets map[string]*replicaSet
	deployments map[string]*deployment
	services    map[string]cluster.ServiceSpec
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{
		replicaSets: make(map[string]*replicaSet),
		deployments: make(map[string]*deployment),
		services:    make(map[string]cluster.ServiceSpec),
	}
}

func (d *Driver) CreateReplicaSet(ctx context.Context, spec cluster.ReplicaSetSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.replicaSets[spec.Name]; ok {
		return clerr.New("fake.create_replicaset", clerr.Conflict, nil)
	}
	d.replicaSets[spec.Name] = &replicaSet{spec: spec, running: spec.Replicas}
	return nil
}

func (d *Driver) PatchReplicaSet(ctx context.Context, spec cluster.ReplicaSetSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.replicaSets[spec.Name]
	if !ok {
		return clerr.New("fake.patch_replicaset", clerr.NotFound, nil)
	}
	rs.spec = spec
	rs.running = spec.Replicas
	return nil
}

func (d *Driver) DeleteReplicaSet(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.replicaSets, name)
	return nil
}

func (d *Driver) GetReplicaSetStatus(ctx context.Context, name string) (cluster.ReplicaSetStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.replicaSets[name]
	if !ok {
		return cluster.ReplicaSetStatus{}, clerr.New("fake.get_replicaset", clerr.NotFound, nil)
	}
	return cluster.ReplicaSetStatus{
		Name:            name,
		SpecReplicas:    rs.spec.Replicas,
		RunningReplicas: rs.running,
		Labels:          rs.spec.Labels,
	}, nil
}

func (d *Driver) ListReplicaSets(ctx context.Context) ([]cluster.ReplicaSetStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]cluster.ReplicaSetStatus, 0, len(d.replicaSets))
	for name, rs := range d.replicaSets {
		out = append(out, cluster.ReplicaSetStatus{
			Name:            name,
			SpecReplicas:    rs.spec.Replicas,
			RunningReplicas: rs.running,
			Labels:          rs.spec.Labels,
		})
	}
	return out, nil
}

func (d *Driver) CreateService(ctx context.Context, spec cluster.ServiceSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[spec.Name] = spec
	return nil
}

func (d *Driver) DeleteService(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.services, name)
	return nil
}

func (d *Driver) PatchDeployment(ctx context.Context, spec cluster.DeploymentSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[spec.Name]
	if !ok {
		dep = &deployment{}
		d.deployments[spec.Name] = dep
	}
	changed := dep.spec.Replicas != spec.Replicas || dep.spec.Image != spec.Image
	dep.spec = spec
	if changed {
		dep.generation++
		dep.ready = spec.Replicas // fake rollouts complete immediately unless overridden
	}
	return nil
}

func (d *Driver) DeleteDeployment(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deployments, name)
	return nil
}

func (d *Driver) GetDeploymentStatus(ctx context.Context, name string) (cluster.DeploymentStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[name]
	if !ok {
		return cluster.DeploymentStatus{}, clerr.New("fake.get_deployment", clerr.NotFound, nil)
	}
	return cluster.DeploymentStatus{
		Name:               name,
		ObservedGeneration: dep.generation,
		ReadyReplicas:      dep.ready,
		Replicas:           dep.spec.Replicas,
	}, nil
}

// SetReady overrides the ready replica count reported for a deployment,
// letting a test simulate a rollout still in progress.
func (d *Driver) SetReady(name string, ready int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dep, ok := d.deployments[name]; ok {
		dep.ready = ready
	}
}

func (d *Driver) ListPods(ctx context.Context) ([]cluster.PodInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []cluster.PodInfo
	for name, rs := range d.replicaSets {
		for i := 0; i < rs.running; i++ {
			out = append(out, cluster.PodInfo{Name: podName(name, i), Labels: rs.spec.Labels, Phase: "Running"})
		}
	}
	for name, dep := range d.deployments {
		for i := 0; i < dep.ready; i++ {
			out = append(out, cluster.PodInfo{Name: podName(name, i), Labels: dep.spec.Labels, Phase: "Running"})
		}
	}
	return out, nil
}

func (d *Driver) ListPodsByLabelAndField(ctx context.Context, label, field string) ([]cluster.PodInfo, error) {
	pods, err := d.ListPods(ctx)
	if err != nil {
		return nil, err
	}
	lk, lv, lok := splitSelector(label)
	out := make([]cluster.PodInfo, 0, len(pods))
	for _, p := range pods {
		if lok && p.Labels[lk] != lv {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func podName(resource string, i int) string {
	return resource + "-" + strconv.Itoa(i)
}

func splitSelector(sel string) (key, value string, ok bool) {
	for i := 0; i < len(sel); i++ {
		if sel[i] == '=' {
			return sel[:i], sel[i+1:], true
		}
	}
	return "", "", false
}

var _ cluster.Driver = (*Driver)(nil)
