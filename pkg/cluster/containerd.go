package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/containerless/platform/pkg/clerr"
)

const (
	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	labelReplicaSet = "containerless.io/replicaset"
	labelDeployment = "containerless.io/deployment"
	labelKind       = "containerless.io/kind"
)

// ContainerdDriver implements Driver on top of a containerd daemon. Each
// replica in a ReplicaSetSpec or DeploymentSpec becomes one containerd
// container plus task, named "<resource>-<index>" and tagged with a
// containerless.io/* label so ListPods and the by-label/field query can
// recover ownership without any external bookkeeping.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string

	mu          sync.Mutex
	generations map[string]int64 // deployment name -> observed generation
}

// NewContainerdDriver dials the containerd socket at socketPath (or
// DefaultSocketPath) and scopes every operation to namespace.
func NewContainerdDriver(socketPath, namespace string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, clerr.New("cluster.dial", clerr.ClusterUnavailable, err)
	}
	return &ContainerdDriver{
		client:      client,
		namespace:   namespace,
		generations: make(map[string]int64),
	}, nil
}

// Close releases the underlying containerd client.
func (d *ContainerdDriver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *ContainerdDriver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

func replicaName(resource string, i int) string {
	return fmt.Sprintf("%s-%d", resource, i)
}

func (d *ContainerdDriver) newReplica(ctx context.Context, name, image string, labels, env map[string]string, mounts []Mount) error {
	image_, err := d.client.GetImage(ctx, image)
	if err != nil {
		image_, err = d.client.Pull(ctx, image, containerd.WithPullUnpack)
		if err != nil {
			return clerr.New("cluster.pull", clerr.Unknown, err)
		}
	}

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image_),
		oci.WithEnv(envSlice),
	}
	if len(mounts) > 0 {
		specMounts := make([]specs.Mount, 0, len(mounts))
		for _, m := range mounts {
			options := []string{"rbind"}
			if m.ReadOnly {
				options = append(options, "ro")
			} else {
				options = append(options, "rw")
			}
			specMounts = append(specMounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Destination,
				Type:        "bind",
				Options:     options,
			})
		}
		opts = append(opts, oci.WithMounts(specMounts))
	}

	c, err := d.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image_),
		containerd.WithNewSnapshot(name+"-snapshot", image_),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return clerr.New("cluster.new_container", clerr.Conflict, err)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return clerr.New("cluster.new_task", clerr.Unknown, err)
	}
	if err := task.Start(ctx); err != nil {
		return clerr.New("cluster.start_task", clerr.Unknown, err)
	}
	return nil
}

func (d *ContainerdDriver) killReplica(ctx context.Context, name string) error {
	c, err := d.client.LoadContainer(ctx, name)
	if err != nil {
		return nil // already gone
	}
	if task, err := c.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = task.Kill(stopCtx, syscall.SIGTERM)
		statusC, err := task.Wait(stopCtx)
		if err == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = task.Kill(ctx, syscall.SIGKILL)
			}
		}
		_, _ = task.Delete(ctx)
	}
	return c.Delete(ctx, containerd.WithSnapshotCleanup)
}

func (d *ContainerdDriver) listByLabel(ctx context.Context, kindLabel, name string) ([]containerd.Container, error) {
	filter := fmt.Sprintf(`labels."%s"==%q`, kindLabel, name)
	return d.client.Containers(ctx, filter)
}

// CreateReplicaSet brings up spec.Replicas containers for a new replica set.
func (d *ContainerdDriver) CreateReplicaSet(ctx context.Context, spec ReplicaSetSpec) error {
	ctx = d.ctx(ctx)
	labels := mergeLabels(spec.Labels, map[string]string{labelReplicaSet: spec.Name, labelKind: "replicaset"})
	for i := 0; i < spec.Replicas; i++ {
		if err := d.newReplica(ctx, replicaName(spec.Name, i), spec.Image, labels, spec.Env, spec.Mounts); err != nil {
			return err
		}
	}
	return nil
}

// PatchReplicaSet reconciles the running replica count towards
// spec.Replicas, scaling up or down as needed.
func (d *ContainerdDriver) PatchReplicaSet(ctx context.Context, spec ReplicaSetSpec) error {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelReplicaSet, spec.Name)
	if err != nil {
		return clerr.New("cluster.patch_replicaset", clerr.Unknown, err)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].ID() < existing[j].ID() })

	if len(existing) < spec.Replicas {
		labels := mergeLabels(spec.Labels, map[string]string{labelReplicaSet: spec.Name, labelKind: "replicaset"})
		for i := len(existing); i < spec.Replicas; i++ {
			if err := d.newReplica(ctx, replicaName(spec.Name, i), spec.Image, labels, spec.Env, spec.Mounts); err != nil {
				return err
			}
		}
		return nil
	}
	for i := spec.Replicas; i < len(existing); i++ {
		if err := d.killReplica(ctx, existing[i].ID()); err != nil {
			return clerr.New("cluster.patch_replicaset", clerr.Unknown, err)
		}
	}
	return nil
}

// DeleteReplicaSet tears down every replica belonging to name.
func (d *ContainerdDriver) DeleteReplicaSet(ctx context.Context, name string) error {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelReplicaSet, name)
	if err != nil {
		return clerr.New("cluster.delete_replicaset", clerr.Unknown, err)
	}
	for _, c := range existing {
		if err := d.killReplica(ctx, c.ID()); err != nil {
			return err
		}
	}
	return nil
}

// GetReplicaSetStatus reports how many of name's replicas are running.
func (d *ContainerdDriver) GetReplicaSetStatus(ctx context.Context, name string) (ReplicaSetStatus, error) {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelReplicaSet, name)
	if err != nil {
		return ReplicaSetStatus{}, clerr.New("cluster.get_replicaset", clerr.Unknown, err)
	}
	if len(existing) == 0 {
		return ReplicaSetStatus{}, clerr.New("cluster.get_replicaset", clerr.NotFound, fmt.Errorf("replica set %q not found", name))
	}
	running := 0
	for _, c := range existing {
		if d.isRunning(ctx, c) {
			running++
		}
	}
	labels, _ := existing[0].Labels(ctx)
	return ReplicaSetStatus{Name: name, SpecReplicas: len(existing), RunningReplicas: running, Labels: labels}, nil
}

// ListReplicaSets enumerates every replica set this driver knows about.
func (d *ContainerdDriver) ListReplicaSets(ctx context.Context) ([]ReplicaSetStatus, error) {
	ctx = d.ctx(ctx)
	containers, err := d.client.Containers(ctx, fmt.Sprintf(`labels."%s"==replicaset`, labelKind))
	if err != nil {
		return nil, clerr.New("cluster.list_replicasets", clerr.Unknown, err)
	}
	byName := map[string]*ReplicaSetStatus{}
	for _, c := range containers {
		labels, _ := c.Labels(ctx)
		name := labels[labelReplicaSet]
		st, ok := byName[name]
		if !ok {
			st = &ReplicaSetStatus{Name: name, Labels: labels}
			byName[name] = st
		}
		st.SpecReplicas++
		if d.isRunning(ctx, c) {
			st.RunningReplicas++
		}
	}
	out := make([]ReplicaSetStatus, 0, len(byName))
	for _, st := range byName {
		out = append(out, *st)
	}
	return out, nil
}

// CreateService is a no-op on the containerd driver: there is no separate
// network identity object, replicas are reached by pod IP directly. It
// exists only so the Driver interface matches the cluster API surface
// spec.md treats as opaque.
func (d *ContainerdDriver) CreateService(ctx context.Context, spec ServiceSpec) error {
	return nil
}

// DeleteService is likewise a no-op for the same reason as CreateService.
func (d *ContainerdDriver) DeleteService(ctx context.Context, name string) error {
	return nil
}

// PatchDeployment reconciles the decontainerized dispatcher deployment
// towards spec, bumping the observed generation on every call that changes
// the running replica count.
func (d *ContainerdDriver) PatchDeployment(ctx context.Context, spec DeploymentSpec) error {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelDeployment, spec.Name)
	if err != nil {
		return clerr.New("cluster.patch_deployment", clerr.Unknown, err)
	}

	changed := len(existing) != spec.Replicas
	if len(existing) < spec.Replicas {
		labels := mergeLabels(spec.Labels, map[string]string{labelDeployment: spec.Name, labelKind: "deployment"})
		for i := len(existing); i < spec.Replicas; i++ {
			if err := d.newReplica(ctx, replicaName(spec.Name, i), spec.Image, labels, spec.Env, spec.Mounts); err != nil {
				return err
			}
		}
	} else {
		sort.Slice(existing, func(i, j int) bool { return existing[i].ID() < existing[j].ID() })
		for i := spec.Replicas; i < len(existing); i++ {
			if err := d.killReplica(ctx, existing[i].ID()); err != nil {
				return clerr.New("cluster.patch_deployment", clerr.Unknown, err)
			}
		}
	}

	d.mu.Lock()
	if changed {
		d.generations[spec.Name]++
	}
	d.mu.Unlock()
	return nil
}

// DeleteDeployment tears down every replica of the named deployment.
func (d *ContainerdDriver) DeleteDeployment(ctx context.Context, name string) error {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelDeployment, name)
	if err != nil {
		return clerr.New("cluster.delete_deployment", clerr.Unknown, err)
	}
	for _, c := range existing {
		if err := d.killReplica(ctx, c.ID()); err != nil {
			return err
		}
	}
	d.mu.Lock()
	delete(d.generations, name)
	d.mu.Unlock()
	return nil
}

// GetDeploymentStatus reports the deployment's ready replica count and the
// generation last observed by PatchDeployment, which the compiler actor
// polls while waiting for a dispatcher rollout (spec.md §4.6).
func (d *ContainerdDriver) GetDeploymentStatus(ctx context.Context, name string) (DeploymentStatus, error) {
	ctx = d.ctx(ctx)
	existing, err := d.listByLabel(ctx, labelDeployment, name)
	if err != nil {
		return DeploymentStatus{}, clerr.New("cluster.get_deployment", clerr.Unknown, err)
	}
	ready := 0
	for _, c := range existing {
		if d.isRunning(ctx, c) {
			ready++
		}
	}
	d.mu.Lock()
	gen := d.generations[name]
	d.mu.Unlock()
	return DeploymentStatus{Name: name, ObservedGeneration: gen, ReadyReplicas: ready, Replicas: len(existing)}, nil
}

// ListPods returns every replica this driver manages, regardless of which
// replica set or deployment owns it.
func (d *ContainerdDriver) ListPods(ctx context.Context) ([]PodInfo, error) {
	ctx = d.ctx(ctx)
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, clerr.New("cluster.list_pods", clerr.Unknown, err)
	}
	out := make([]PodInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, d.podInfo(ctx, c))
	}
	return out, nil
}

// ListPodsByLabelAndField mirrors the original cluster API's
// label-selector plus field-selector listing (original_source/rust/k8s),
// e.g. selecting the tracing replica of one function by
// ("containerless.io/replicaset=my-func-tracing", "status.phase=Running").
func (d *ContainerdDriver) ListPodsByLabelAndField(ctx context.Context, label, field string) ([]PodInfo, error) {
	pods, err := d.ListPods(ctx)
	if err != nil {
		return nil, err
	}
	lk, lv, lok := splitSelector(label)
	fk, fv, fok := splitSelector(field)
	out := make([]PodInfo, 0, len(pods))
	for _, p := range pods {
		if lok && p.Labels[lk] != lv {
			continue
		}
		if fok && fk == "status.phase" && p.Phase != fv {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *ContainerdDriver) isRunning(ctx context.Context, c containerd.Container) bool {
	task, err := c.Task(ctx, nil)
	if err != nil {
		return false
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false
	}
	return status.Status == containerd.Running
}

func (d *ContainerdDriver) podInfo(ctx context.Context, c containerd.Container) PodInfo {
	labels, _ := c.Labels(ctx)
	phase := "Pending"
	if d.isRunning(ctx, c) {
		phase = "Running"
	}
	return PodInfo{Name: c.ID(), Labels: labels, Phase: phase}
}

func mergeLabels(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func splitSelector(sel string) (key, value string, ok bool) {
	for i := 0; i < len(sel); i++ {
		if sel[i] == '=' {
			return sel[:i], sel[i+1:], true
		}
	}
	return "", "", false
}
