// Package containerrt defines ContainerAPI: the container-runtime
// collaborator PVNOrchestrator drives to start and stop the per-app
// containers backing a PVN. The runtime itself is out of scope (spec §1);
// this package names the interface the orchestrator consumes and a
// containerd-backed implementation of it, following the teacher's
// ContainerdRuntime (pkg/runtime/containerd.go).
package containerrt

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
)

// DefaultNamespace is the containerd namespace PVN containers run in.
const DefaultNamespace = "pvn"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Container is the result of Run: its opaque id and last-observed status.
type Container struct {
	ID     string
	Status string
}

// Statuses a container may report via Get. "creating"/"created" are the
// transient states PVNOrchestrator polls through; anything else (running,
// stopped, failed) is treated as settled.
const (
	StatusCreating = "creating"
	StatusCreated  = "created"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// ContainerAPI is the container-runtime collaborator (spec §6's
// "Outbound: ContainerAPI").
type ContainerAPI interface {
	Run(ctx context.Context, image string, args []string) (Container, error)
	Get(ctx context.Context, id string) (Container, error)
	Stop(ctx context.Context, id string, timeout time.Duration) error
}

// ContainerdAPI implements ContainerAPI against a local containerd socket.
type ContainerdAPI struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdAPI dials socketPath (DefaultSocketPath if empty).
func NewContainerdAPI(socketPath string) (*ContainerdAPI, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("containerrt: failed to connect to containerd: %w", err)
	}

	return &ContainerdAPI{client: client, namespace: DefaultNamespace}, nil
}

// Close releases the underlying containerd client connection.
func (a *ContainerdAPI) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Run pulls image if needed, creates a container, and starts its task.
// args becomes the container's command. The container is not removed when
// its task exits; only Stop removes it.
func (a *ContainerdAPI) Run(ctx context.Context, image string, args []string) (Container, error) {
	ctx = namespaces.WithNamespace(ctx, a.namespace)

	img, err := a.client.GetImage(ctx, image)
	if err != nil {
		img, err = a.client.Pull(ctx, image, containerd.WithPullUnpack)
		if err != nil {
			return Container{}, fmt.Errorf("containerrt: failed to pull image %s: %w", image, err)
		}
	}

	id := newContainerID()

	opts := []oci.SpecOpts{oci.WithImageConfig(img)}
	if len(args) > 0 {
		opts = append(opts, oci.WithProcessArgs(args...))
	}

	ctr, err := a.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(id+"-snapshot", img),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return Container{}, fmt.Errorf("containerrt: failed to create container: %w", err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return Container{}, fmt.Errorf("containerrt: failed to create task for %s: %w", id, err)
	}
	if err := task.Start(ctx); err != nil {
		return Container{}, fmt.Errorf("containerrt: failed to start task for %s: %w", id, err)
	}

	return Container{ID: ctr.ID(), Status: StatusCreating}, nil
}

// Get returns the current status of a previously-Run container.
func (a *ContainerdAPI) Get(ctx context.Context, id string) (Container, error) {
	ctx = namespaces.WithNamespace(ctx, a.namespace)

	ctr, err := a.client.LoadContainer(ctx, id)
	if err != nil {
		return Container{}, fmt.Errorf("containerrt: failed to load container %s: %w", id, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return Container{ID: id, Status: StatusCreated}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return Container{}, fmt.Errorf("containerrt: failed to get task status for %s: %w", id, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return Container{ID: id, Status: StatusRunning}, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return Container{ID: id, Status: StatusStopped}, nil
		}
		return Container{ID: id, Status: StatusFailed}, nil
	default:
		return Container{ID: id, Status: StatusCreated}, nil
	}
}

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs, and removes the
// container and its snapshot.
func (a *ContainerdAPI) Stop(ctx context.Context, id string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, a.namespace)

	ctr, err := a.client.LoadContainer(ctx, id)
	if err != nil {
		// Already gone: teardown deletes are best-effort (spec §7).
		return nil
	}

	task, err := ctr.Task(ctx, nil)
	if err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
			return fmt.Errorf("containerrt: failed to signal %s: %w", id, err)
		}

		statusC, err := task.Wait(stopCtx)
		if err != nil {
			return fmt.Errorf("containerrt: failed to wait on %s: %w", id, err)
		}

		select {
		case <-statusC:
		case <-stopCtx.Done():
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
				return fmt.Errorf("containerrt: failed to force-kill %s: %w", id, err)
			}
		}

		if _, err := task.Delete(ctx); err != nil {
			return fmt.Errorf("containerrt: failed to delete task for %s: %w", id, err)
		}
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("containerrt: failed to delete container %s: %w", id, err)
	}
	return nil
}
