// Package mock provides a mock implementation of container.Runtime for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// Provider is a mock container runtime for testing. It records the
// engine-facing quota and memory values the way the Docker provider sets them.
type Provider struct {
	mu        sync.RWMutex
	instances map[string]*container.Inspection
	nextID    int
	clock     time.Time
	logs      map[string]string

	// Configurable behaviors for testing
	ListFunc   func(ctx context.Context) ([]*container.Instance, error)
	CreateFunc func(ctx context.Context, name string, kind model.Kind, opts container.CreateOptions) (*container.Instance, error)
	StartFunc  func(ctx context.Context, name string) error
	StopFunc   func(ctx context.Context, name string) error
	DeleteFunc func(ctx context.Context, name string) error
}

// NewProvider creates a new mock provider with default behavior.
func NewProvider() *Provider {
	return &Provider{
		instances: make(map[string]*container.Inspection),
		logs:      make(map[string]string),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Add registers an existing instance, bypassing Create.
func (p *Provider) Add(name string, kind model.Kind, state model.State) *container.Inspection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(name, kind, state, container.CreateOptions{})
}

func (p *Provider) add(name string, kind model.Kind, state model.State, opts container.CreateOptions) *container.Inspection {
	p.nextID++
	p.clock = p.clock.Add(time.Second)

	info := &container.Inspection{
		Instance: container.Instance{
			ID:        fmt.Sprintf("mock-%04d-%s", p.nextID, name),
			Name:      name,
			Kind:      kind,
			State:     state,
			Status:    statusLine(state),
			Image:     "mock/" + string(kind),
			CreatedAt: p.clock,
			Ports:     map[int]int{},
		},
		RestartPolicy: "unless-stopped",
		Hostname:      name,
	}
	for i, port := range kind.ContainerPorts() {
		info.Ports[port] = 32768 + p.nextID*10 + i
	}
	if opts.CPULimit > 0 {
		info.CPUPeriod = container.CPUPeriod
		info.CPUQuota = container.CPUQuota(opts.CPULimit)
	}
	if opts.MemoryLimitMB > 0 {
		info.MemoryBytes = container.MemoryBytes(opts.MemoryLimitMB)
	}
	refreshResources(info)
	p.instances[name] = info
	return info
}

// List returns instances ordered by creation time, then name.
func (p *Provider) List(ctx context.Context) ([]*container.Instance, error) {
	if p.ListFunc != nil {
		return p.ListFunc(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*container.Instance, 0, len(p.instances))
	for _, info := range p.instances {
		inst := info.Instance
		out = append(out, &inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Create creates and starts a mock instance.
func (p *Provider) Create(ctx context.Context, name string, kind model.Kind, opts container.CreateOptions) (*container.Instance, error) {
	if p.CreateFunc != nil {
		return p.CreateFunc(ctx, name, kind, opts)
	}
	if !kind.Valid() {
		return nil, container.InvalidKind("create", string(kind))
	}
	if strings.TrimSpace(name) == "" {
		return nil, apperr.InvalidInput("create", "name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.instances[name]; exists {
		return nil, container.NameInUse("create", name)
	}
	info := p.add(name, kind, model.StateRunning, opts)
	inst := info.Instance
	return &inst, nil
}

// Start starts a mock instance.
func (p *Provider) Start(ctx context.Context, name string) error {
	if p.StartFunc != nil {
		return p.StartFunc(ctx, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.instances[name]
	if !exists {
		return container.NotFound("start", name)
	}
	if info.State == model.StateRunning {
		return container.AlreadyRunning("start", name)
	}
	setState(info, model.StateRunning)
	return nil
}

// Stop stops a mock instance.
func (p *Provider) Stop(ctx context.Context, name string) error {
	if p.StopFunc != nil {
		return p.StopFunc(ctx, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.instances[name]
	if !exists {
		return container.NotFound("stop", name)
	}
	if info.State != model.StateRunning {
		return container.NotRunning("stop", name)
	}
	setState(info, model.StateStopped)
	return nil
}

// Restart restarts a mock instance.
func (p *Provider) Restart(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.instances[name]
	if !exists {
		return container.NotFound("restart", name)
	}
	setState(info, model.StateRunning)
	return nil
}

// Republish moves the host side of an instance's published ports, the way an
// engine reassigns ephemeral ports when a container is recreated.
func (p *Provider) Republish(name string, offset int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.instances[name]; ok {
		for port, host := range info.Ports {
			info.Ports[port] = host + offset
		}
	}
}

// Inspect returns a copy of the mock instance.
func (p *Provider) Inspect(ctx context.Context, name string) (*container.Inspection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, exists := p.instances[name]
	if !exists {
		return nil, container.NotFound("inspect", name)
	}
	cp := *info
	return &cp, nil
}

// UpdateResources applies a partial update to the mock instance.
func (p *Provider) UpdateResources(ctx context.Context, name string, update container.ResourceUpdate) (*container.UpdateResult, error) {
	const op = "update resources"
	if update.Empty() {
		return nil, apperr.InvalidInput(op, "no resource fields provided")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.instances[name]
	if !exists {
		return nil, container.NotFound(op, name)
	}
	if update.CPULimit != nil {
		if *update.CPULimit <= 0 {
			return nil, apperr.InvalidInput(op, "cpu limit must be positive")
		}
		info.CPUPeriod = container.CPUPeriod
		info.CPUQuota = container.CPUQuota(*update.CPULimit)
	}
	if update.MemoryLimitMB != nil {
		if *update.MemoryLimitMB <= 0 {
			return nil, apperr.InvalidInput(op, "memory limit must be positive")
		}
		info.MemoryBytes = container.MemoryBytes(*update.MemoryLimitMB)
	}
	if update.MemoryReservationMB != nil {
		info.MemoryReservationBytes = container.MemoryBytes(*update.MemoryReservationMB)
	}
	refreshResources(info)

	return &container.UpdateResult{
		Resources:          info.Resources,
		RestartRecommended: update.MemoryLimitMB != nil || update.MemoryReservationMB != nil,
	}, nil
}

// Delete removes a mock instance.
func (p *Provider) Delete(ctx context.Context, name string) error {
	if p.DeleteFunc != nil {
		return p.DeleteFunc(ctx, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.instances[name]; !exists {
		return container.NotFound("delete", name)
	}
	delete(p.instances, name)
	delete(p.logs, name)
	return nil
}

// SetLogs sets the log text returned for an instance.
func (p *Provider) SetLogs(name, logs string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs[name] = logs
}

// Logs returns the last tail lines of the configured log text.
func (p *Provider) Logs(ctx context.Context, name string, tail int) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, exists := p.instances[name]; !exists {
		return "", container.NotFound("logs", name)
	}
	lines := strings.Split(strings.TrimRight(p.logs[name], "\n"), "\n")
	tail = container.ClampTail(tail)
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return strings.Join(lines, "\n"), nil
}

// Stats returns a fixed usage sample.
func (p *Provider) Stats(ctx context.Context, name string) (*container.UsageSample, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, exists := p.instances[name]
	if !exists {
		return nil, container.NotFound("stats", name)
	}
	limit := uint64(info.MemoryBytes)
	if limit == 0 {
		limit = 1 << 30
	}
	usage := uint64(64 << 20)
	return &container.UsageSample{
		CPUPercent:       1.5,
		MemoryUsageBytes: usage,
		MemoryLimitBytes: limit,
		MemoryPercent:    float64(usage) / float64(limit) * 100,
	}, nil
}

func setState(info *container.Inspection, state model.State) {
	info.State = state
	info.Status = statusLine(state)
}

func refreshResources(info *container.Inspection) {
	info.Resources = model.Resources{
		CPULimit:      container.CPUFromQuota(info.CPUQuota, info.CPUPeriod),
		MemoryLimitMB: container.MemoryMB(info.MemoryBytes),
	}
}

func statusLine(state model.State) string {
	switch state {
	case model.StateRunning:
		return "Up"
	case model.StateStopped:
		return "Exited (0)"
	}
	return ""
}
