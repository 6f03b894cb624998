// Package docker provides a Docker-based implementation of the container.Runtime interface.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	dockercontext "github.com/docker/go-sdk/context"
	"golang.org/x/sync/errgroup"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// DetectDockerHost resolves the Docker host from the current Docker context.
// This handles Docker Desktop, Colima, Rancher Desktop, Podman, and custom
// contexts automatically. Returns empty string if detection fails.
func DetectDockerHost() string {
	host, err := dockercontext.CurrentDockerHost()
	if err != nil {
		return ""
	}
	return host
}

// Provider implements the container.Runtime interface using Docker.
type Provider struct {
	client *client.Client
	cfg    *config.Config
	log    *logger.Logger
}

// NewProvider creates a new Docker runtime provider and verifies the daemon is reachable.
func NewProvider(cfg *config.Config, log *logger.Logger) (*Provider, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}

	host := cfg.DockerHost
	if host == "" {
		host = DetectDockerHost()
		if host != "" {
			log.Info("detected docker host from context", "host", host)
		}
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	return &Provider{client: cli, cfg: cfg, log: log.Named("docker")}, nil
}

// Close closes the Docker client connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// List returns managed instances ordered by creation time, then name.
func (p *Provider) List(ctx context.Context) ([]*container.Instance, error) {
	list, err := p.client.ContainerList(ctx, containerTypes.ListOptions{All: true})
	if err != nil {
		return nil, apperr.Engine("list", err)
	}

	instances := make([]*container.Instance, 0, len(list))
	for _, c := range list {
		name := primaryName(c.Names)
		if !isManaged(name, c.Labels, p.cfg.FleetNameMatch) {
			continue
		}

		inst := &container.Instance{
			ID:        c.ID,
			Name:      name,
			Kind:      kindOf(name, c.Labels),
			State:     stateFromEngine(string(c.State)),
			Status:    c.Status,
			Image:     c.Image,
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     map[int]int{},
		}
		for _, port := range c.Ports {
			if port.PublicPort != 0 {
				inst.Ports[int(port.PrivatePort)] = int(port.PublicPort)
			}
		}
		instances = append(instances, inst)
	}

	// The list endpoint omits HostConfig, so limits come from one inspect
	// per instance.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listInspectConcurrency)
	for _, inst := range instances {
		g.Go(func() error {
			info, err := p.client.ContainerInspect(gctx, inst.ID)
			if err != nil {
				if cerrdefs.IsNotFound(err) {
					// Removed since the list call.
					return nil
				}
				return apperr.Engine("list", err)
			}
			inst.Resources = resourcesFrom(info.HostConfig)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortInstances(instances)
	return instances, nil
}

const listInspectConcurrency = 8

// Create creates and starts a new instance of the given kind.
func (p *Provider) Create(ctx context.Context, name string, kind model.Kind, opts container.CreateOptions) (*container.Instance, error) {
	const op = "create"

	image := p.cfg.ImageFor(kind)
	if image == "" {
		return nil, container.InvalidKind(op, string(kind))
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperr.InvalidInput(op, "name is required")
	}
	if opts.CPULimit < 0 || opts.MemoryLimitMB < 0 {
		return nil, apperr.InvalidInput(op, "resource limits must not be negative")
	}

	containerConfig, hostConfig := buildCreateConfig(name, kind, image, opts, p.cfg.PublishHost)
	if p.cfg.DockerNetwork != "" {
		hostConfig.NetworkMode = containerTypes.NetworkMode(p.cfg.DockerNetwork)
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return nil, container.NameInUse(op, name)
		}
		return nil, apperr.Engine(op, err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, containerTypes.StartOptions{}); err != nil {
		// Leave no half-created instance behind.
		_ = p.client.ContainerRemove(ctx, resp.ID, containerTypes.RemoveOptions{Force: true})
		return nil, apperr.Engine(op, err)
	}
	p.log.Info("container created", "name", name, "kind", kind, "id", shortID(resp.ID))

	info, err := p.Inspect(ctx, name)
	if err != nil {
		return nil, err
	}
	return &info.Instance, nil
}

// Start starts a stopped instance.
func (p *Provider) Start(ctx context.Context, name string) error {
	const op = "start"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return err
	}
	if info.State != nil && info.State.Running {
		return container.AlreadyRunning(op, name)
	}

	if err := p.client.ContainerStart(ctx, info.ID, containerTypes.StartOptions{}); err != nil {
		return classify(op, name, err)
	}
	return nil
}

// Stop stops a running instance gracefully.
func (p *Provider) Stop(ctx context.Context, name string) error {
	const op = "stop"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return err
	}
	if info.State == nil || !info.State.Running {
		return container.NotRunning(op, name)
	}

	if err := p.client.ContainerStop(ctx, info.ID, p.stopOptions()); err != nil {
		return classify(op, name, err)
	}
	return nil
}

// Restart restarts an instance regardless of its current state.
func (p *Provider) Restart(ctx context.Context, name string) error {
	const op = "restart"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return err
	}
	if err := p.client.ContainerRestart(ctx, info.ID, p.stopOptions()); err != nil {
		return classify(op, name, err)
	}
	return nil
}

// Inspect returns the runtime state and resource configuration.
func (p *Provider) Inspect(ctx context.Context, name string) (*container.Inspection, error) {
	info, err := p.inspect(ctx, "inspect", name)
	if err != nil {
		return nil, err
	}
	return inspectionFrom(info), nil
}

// UpdateResources applies a partial resource update without restarting.
func (p *Provider) UpdateResources(ctx context.Context, name string, update container.ResourceUpdate) (*container.UpdateResult, error) {
	const op = "update resources"

	resources, err := buildUpdateResources(update)
	if err != nil {
		return nil, err
	}

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return nil, err
	}

	// Raising memory above an existing swap ceiling is rejected by the engine.
	if resources.Memory > 0 && info.HostConfig != nil && info.HostConfig.MemorySwap > 0 && info.HostConfig.MemorySwap < resources.Memory {
		resources.MemorySwap = -1
	}

	if _, err := p.client.ContainerUpdate(ctx, info.ID, containerTypes.UpdateConfig{Resources: resources}); err != nil {
		return nil, classify(op, name, err)
	}
	p.log.Info("container resources updated", "name", name, "cpu_quota", resources.CPUQuota, "memory", resources.Memory)

	after, err := p.Inspect(ctx, name)
	if err != nil {
		return nil, err
	}
	return &container.UpdateResult{
		Resources:          after.Resources,
		RestartRecommended: update.MemoryLimitMB != nil || update.MemoryReservationMB != nil,
	}, nil
}

// Delete stops the instance (best effort) and force-removes it.
func (p *Provider) Delete(ctx context.Context, name string) error {
	const op = "delete"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return err
	}

	if info.State != nil && info.State.Running {
		if err := p.client.ContainerStop(ctx, info.ID, p.stopOptions()); err != nil {
			p.log.Warn("stop before delete failed, forcing removal", "name", name, "error", err)
		}
	}

	removeOptions := containerTypes.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}
	if err := p.client.ContainerRemove(ctx, info.ID, removeOptions); err != nil {
		return classify(op, name, err)
	}
	p.log.Info("container deleted", "name", name)
	return nil
}

// Logs returns the last tail lines of the instance log with timestamps.
func (p *Provider) Logs(ctx context.Context, name string, tail int) (string, error) {
	const op = "logs"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return "", err
	}

	rc, err := p.client.ContainerLogs(ctx, info.ID, containerTypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(container.ClampTail(tail)),
	})
	if err != nil {
		return "", classify(op, name, err)
	}
	defer rc.Close()

	var out bytes.Buffer
	if info.Config != nil && info.Config.Tty {
		_, err = io.Copy(&out, rc)
	} else {
		// Both streams share one buffer so interleaving is preserved.
		_, err = stdcopy.StdCopy(&out, &out, rc)
	}
	if err != nil {
		return "", apperr.Engine(op, err)
	}
	return out.String(), nil
}

// Stats returns a one-shot usage sample.
func (p *Provider) Stats(ctx context.Context, name string) (*container.UsageSample, error) {
	const op = "stats"

	info, err := p.inspect(ctx, op, name)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.ContainerStatsOneShot(ctx, info.ID)
	if err != nil {
		return nil, classify(op, name, err)
	}
	defer resp.Body.Close()

	var stats containerTypes.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, apperr.Engine(op, err)
	}
	return usageFromStats(&stats), nil
}

func (p *Provider) inspect(ctx context.Context, op, name string) (containerTypes.InspectResponse, error) {
	info, err := p.client.ContainerInspect(ctx, name)
	if err != nil {
		return info, classify(op, name, err)
	}
	return info, nil
}

func (p *Provider) stopOptions() containerTypes.StopOptions {
	timeoutSeconds := int(p.cfg.StopTimeout.Seconds())
	return containerTypes.StopOptions{Timeout: &timeoutSeconds}
}

// classify converts an engine error into the error taxonomy.
func classify(op, name string, err error) error {
	switch {
	case cerrdefs.IsNotFound(err):
		return container.NotFound(op, name)
	case cerrdefs.IsNotModified(err):
		return &apperr.Error{Kind: apperr.KindAlreadyInState, Op: op, Message: name, Err: err}
	case cerrdefs.IsConflict(err), cerrdefs.IsInvalidArgument(err):
		return &apperr.Error{Kind: apperr.KindInvalidInput, Op: op, Message: name, Err: err}
	default:
		return &apperr.Error{Kind: apperr.KindEngineError, Op: op, Message: name, Err: err}
	}
}

// buildCreateConfig builds the engine configuration for a new instance.
func buildCreateConfig(name string, kind model.Kind, image string, opts container.CreateOptions, publishHost string) (*containerTypes.Config, *containerTypes.HostConfig) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range kind.ContainerPorts() {
		p := nat.Port(fmt.Sprintf("%d/tcp", port))
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{
			HostIP:   publishHost,
			HostPort: "", // Empty = Docker assigns random available port
		}}
	}

	containerConfig := &containerTypes.Config{
		Image:        image,
		Hostname:     name,
		ExposedPorts: exposed,
		Labels: map[string]string{
			container.LabelManaged: "true",
			container.LabelKind:    string(kind),
		},
	}

	hostConfig := &containerTypes.HostConfig{
		PortBindings: bindings,
		RestartPolicy: containerTypes.RestartPolicy{
			Name: containerTypes.RestartPolicyUnlessStopped,
		},
	}
	if opts.CPULimit > 0 {
		hostConfig.CPUPeriod = container.CPUPeriod
		hostConfig.CPUQuota = container.CPUQuota(opts.CPULimit)
	}
	if opts.MemoryLimitMB > 0 {
		hostConfig.Memory = container.MemoryBytes(opts.MemoryLimitMB)
	}
	return containerConfig, hostConfig
}

// buildUpdateResources converts a partial update into engine resources.
// Fields left at zero are not changed by the engine.
func buildUpdateResources(update container.ResourceUpdate) (containerTypes.Resources, error) {
	const op = "update resources"

	var res containerTypes.Resources
	if update.Empty() {
		return res, apperr.InvalidInput(op, "no resource fields provided")
	}
	if update.CPULimit != nil {
		if *update.CPULimit <= 0 {
			return res, apperr.InvalidInput(op, "cpu limit must be positive")
		}
		res.CPUPeriod = container.CPUPeriod
		res.CPUQuota = container.CPUQuota(*update.CPULimit)
	}
	if update.MemoryLimitMB != nil {
		if *update.MemoryLimitMB <= 0 {
			return res, apperr.InvalidInput(op, "memory limit must be positive")
		}
		res.Memory = container.MemoryBytes(*update.MemoryLimitMB)
	}
	if update.MemoryReservationMB != nil {
		if *update.MemoryReservationMB <= 0 {
			return res, apperr.InvalidInput(op, "memory reservation must be positive")
		}
		res.MemoryReservation = container.MemoryBytes(*update.MemoryReservationMB)
	}
	return res, nil
}

func inspectionFrom(info containerTypes.InspectResponse) *container.Inspection {
	out := &container.Inspection{}
	if info.ContainerJSONBase != nil {
		out.ID = info.ID
		out.Name = strings.TrimPrefix(info.Name, "/")
		if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
			out.CreatedAt = created
		}
		if info.State != nil {
			out.State = stateFromEngine(string(info.State.Status))
			if info.State.Running {
				out.State = model.StateRunning
				if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
					out.StartedAt = &started
				}
			}
			out.Status = string(info.State.Status)
		}
		if hc := info.HostConfig; hc != nil {
			out.CPUShares = hc.CPUShares
			out.CPUQuota = hc.CPUQuota
			out.CPUPeriod = hc.CPUPeriod
			out.NanoCPUs = hc.NanoCPUs
			out.MemoryBytes = hc.Memory
			out.MemoryReservationBytes = hc.MemoryReservation
			out.MemorySwapBytes = hc.MemorySwap
			out.RestartPolicy = string(hc.RestartPolicy.Name)
		}
	}

	var labels map[string]string
	if info.Config != nil {
		out.Image = info.Config.Image
		out.Hostname = info.Config.Hostname
		labels = info.Config.Labels
	}
	out.Kind = kindOf(out.Name, labels)

	out.Ports = map[int]int{}
	if info.NetworkSettings != nil {
		for port, bindings := range info.NetworkSettings.Ports {
			for _, b := range bindings {
				if hostPort, err := strconv.Atoi(b.HostPort); err == nil && hostPort > 0 {
					out.Ports[port.Int()] = hostPort
					break
				}
			}
		}
	}

	for _, m := range info.Mounts {
		out.Mounts = append(out.Mounts, container.Mount{
			Type:        string(m.Type),
			Source:      m.Source,
			Destination: m.Destination,
		})
	}

	out.Resources = resourcesFrom(info.HostConfig)
	return out
}

// resourcesFrom reads the CPU and memory limits of a host config. A quota
// takes precedence over NanoCPUs.
func resourcesFrom(hc *containerTypes.HostConfig) model.Resources {
	if hc == nil {
		return model.Resources{}
	}
	cpu := container.CPUFromQuota(hc.CPUQuota, hc.CPUPeriod)
	if cpu == 0 && hc.NanoCPUs > 0 {
		cpu = float64(hc.NanoCPUs) / 1e9
	}
	return model.Resources{
		CPULimit:      cpu,
		MemoryLimitMB: container.MemoryMB(hc.Memory),
	}
}

func usageFromStats(s *containerTypes.StatsResponse) *container.UsageSample {
	sample := &container.UsageSample{
		MemoryUsageBytes: s.MemoryStats.Usage,
		MemoryLimitBytes: s.MemoryStats.Limit,
	}

	// cgroup v2 reports inactive_file, v1 reports cache.
	if v, ok := s.MemoryStats.Stats["inactive_file"]; ok && v < sample.MemoryUsageBytes {
		sample.MemoryUsageBytes -= v
	} else if v, ok := s.MemoryStats.Stats["cache"]; ok && v < sample.MemoryUsageBytes {
		sample.MemoryUsageBytes -= v
	}
	if sample.MemoryLimitBytes > 0 {
		sample.MemoryPercent = float64(sample.MemoryUsageBytes) / float64(sample.MemoryLimitBytes) * 100
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		sample.CPUPercent = cpuDelta / systemDelta * online * 100
	}
	return sample
}

func isManaged(name string, labels map[string]string, match string) bool {
	if labels[container.LabelManaged] == "true" {
		return true
	}
	return match != "" && strings.Contains(name, match)
}

func kindOf(name string, labels map[string]string) model.Kind {
	if k := model.Kind(labels[container.LabelKind]); k.Valid() {
		return k
	}
	return model.KindFromName(name)
}

func stateFromEngine(state string) model.State {
	switch state {
	case "running", "restarting":
		return model.StateRunning
	case "created", "exited", "paused", "dead", "removing":
		return model.StateStopped
	default:
		return model.StateUnknown
	}
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func sortInstances(instances []*container.Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Name < b.Name
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
