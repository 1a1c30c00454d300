// Package docker implements job.Launcher by running each job's generation
// worker as a container on the host Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"docjobs/internal/job"
)

const (
	managedByLabel = "managed-by"
	managedByValue = "docjobs"
	jobIDLabel     = "job.id"
	repoIDLabel    = "job.repository"
)

// Launcher implements job.Launcher using Docker. The worker reports progress
// through the callback API; the launcher only starts and garbage-collects it.
type Launcher struct {
	client *client.Client
	cfg    Config
	state  *stateRepo
	logger *slog.Logger

	cancelMaintenance context.CancelFunc
	maintenanceWg     sync.WaitGroup
}

// New connects to the Docker daemon from the environment, adopts worker
// containers left by a previous process and starts background cleanup.
func New(ctx context.Context, cfg Config) (*Launcher, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("worker image is required")
	}
	cfg = cfg.withDefaults()

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	l := &Launcher{
		client: dockerClient,
		cfg:    cfg,
		state:  newStateRepo(),
		logger: slog.With("component", "launcher", "image", cfg.Image),
	}

	if err := l.reconcile(ctx); err != nil {
		l.logger.Warn("Failed to reconcile worker containers", "error", err)
	}

	maintenanceCtx, cancel := context.WithCancel(context.Background())
	l.cancelMaintenance = cancel
	l.maintenanceWg.Add(1)
	go func() {
		defer l.maintenanceWg.Done()
		l.runMaintenance(maintenanceCtx)
	}()

	return l, nil
}

// reconcile adopts existing worker containers so maintenance removes them.
func (l *Launcher) reconcile(ctx context.Context) error {
	containers, err := l.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		jobID := c.Labels[jobIDLabel]
		if jobID == "" {
			continue
		}
		l.state.commit(jobID, &workerState{containerID: c.ID})
	}
	if len(containers) > 0 {
		l.logger.Info("Adopted worker containers", "count", len(containers))
	}
	return nil
}

// Launch pulls the worker image if needed and starts a container for j.
func (l *Launcher) Launch(ctx context.Context, j *job.Job) error {
	if err := l.state.reserve(j.ID); err != nil {
		return err
	}

	ws := &workerState{}
	success := false
	defer func() {
		if !success {
			l.removeContainer(context.WithoutCancel(ctx), ws.containerID)
			l.state.release(j.ID)
		}
	}()

	// Pulling outlives the request deadline.
	if err := l.pullImageIfNeeded(context.WithoutCancel(ctx), l.cfg.Image); err != nil {
		return fmt.Errorf("pull worker image: %w", err)
	}

	containerCfg, hostCfg := l.containerSpec(j)
	resp, err := l.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, containerName(j.ID))
	if err != nil {
		return fmt.Errorf("create worker container: %w", err)
	}
	ws.containerID = resp.ID

	if err := l.client.ContainerStart(ctx, ws.containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start worker container: %w", err)
	}

	l.state.commit(j.ID, ws)
	success = true

	l.logger.Info("Worker started", "jobId", j.ID, "repositoryId", j.RepositoryID, "containerId", shortID(ws.containerID))
	return nil
}

// containerSpec builds the worker container and host configuration.
func (l *Launcher) containerSpec(j *job.Job) (*container.Config, *container.HostConfig) {
	env := []string{
		"JOB_ID=" + j.ID,
		"REPOSITORY_ID=" + j.RepositoryID,
		"CALLBACK_URL=" + l.cfg.CallbackURL,
		"CALLBACK_TOKEN=" + j.CallbackToken,
	}
	if j.Prompt != "" {
		env = append(env, "PROMPT="+j.Prompt)
	}

	containerCfg := &container.Config{
		Image: l.cfg.Image,
		Env:   env,
		Labels: map[string]string{
			managedByLabel: managedByValue,
			jobIDLabel:     j.ID,
			repoIDLabel:    j.RepositoryID,
		},
	}

	hostCfg := &container.HostConfig{
		ExtraHosts: l.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(l.cfg.CPU * 1e9),
			Memory:   int64(l.cfg.MemoryMB) * 1024 * 1024,
		},
	}
	if l.cfg.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(l.cfg.Network)
	}

	return containerCfg, hostCfg
}

// Ready checks if the Docker daemon is reachable.
func (l *Launcher) Ready(ctx context.Context) error {
	_, err := l.client.Ping(ctx)
	return err
}

// Close stops maintenance and releases the Docker client. Running workers
// are left alone; they finish and report through callbacks.
func (l *Launcher) Close() error {
	if l.cancelMaintenance != nil {
		l.cancelMaintenance()
	}
	l.maintenanceWg.Wait()
	return l.client.Close()
}

func (l *Launcher) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if _, err := l.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	}

	reader, err := l.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *Launcher) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	_ = l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (l *Launcher) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanupExited(ctx)
		}
	}
}

// cleanupExited removes worker containers that exited more than Retention ago.
func (l *Launcher) cleanupExited(ctx context.Context) {
	now := time.Now()
	var expired []string

	for jobID, ws := range l.state.list() {
		inspect, err := l.client.ContainerInspect(ctx, ws.containerID)
		if err != nil {
			// Already gone.
			expired = append(expired, jobID)
			continue
		}
		if inspect.State == nil || inspect.State.Running {
			continue
		}
		finishedAt, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
		if err != nil {
			continue
		}
		if now.Sub(finishedAt) > l.cfg.Retention {
			expired = append(expired, jobID)
		}
	}

	for _, jobID := range expired {
		if ws, ok := l.state.release(jobID); ok && ws != nil {
			l.removeContainer(ctx, ws.containerID)
			l.logger.Debug("Removed exited worker", "jobId", jobID)
		}
	}
	if len(expired) > 0 {
		l.logger.Info("Worker maintenance complete", "removed", len(expired))
	}
}

func containerName(jobID string) string {
	return "docjobs-worker-" + jobID
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ job.Launcher = (*Launcher)(nil)
