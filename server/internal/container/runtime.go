// Package container manages the lifecycle and resource limits of
// container-backed endpoints. Instances are addressed by name; the kind of an
// instance is fixed at creation and recorded as a label.
package container

import (
	"context"
	"math"
	"time"

	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// Labels written on every instance created by this service.
const (
	LabelManaged = "fleetdeck.managed"
	LabelKind    = "fleetdeck.kind"
)

// CPUPeriod is the scheduler period, in microseconds, used for CPU quotas.
const CPUPeriod int64 = 100000

// Log tail bounds.
const (
	DefaultLogTail = 100
	MaxLogTail     = 1000
)

// Runtime abstracts the container engine.
type Runtime interface {
	// List returns managed instances ordered by creation time, then name.
	List(ctx context.Context) ([]*Instance, error)

	// Create creates and starts a new instance of the given kind.
	Create(ctx context.Context, name string, kind model.Kind, opts CreateOptions) (*Instance, error)

	// Start starts a stopped instance. Starting a running instance returns
	// an AlreadyInState error and changes nothing.
	Start(ctx context.Context, name string) error

	// Stop stops a running instance. Stopping a stopped instance returns
	// an AlreadyInState error and changes nothing.
	Stop(ctx context.Context, name string) error

	// Restart restarts an instance regardless of its state.
	Restart(ctx context.Context, name string) error

	// Inspect returns the runtime state and resource configuration.
	Inspect(ctx context.Context, name string) (*Inspection, error)

	// UpdateResources applies a partial resource update. Nil fields are left
	// untouched. The instance is not restarted.
	UpdateResources(ctx context.Context, name string, update ResourceUpdate) (*UpdateResult, error)

	// Delete stops the instance (best effort) and removes it.
	Delete(ctx context.Context, name string) error

	// Logs returns the last tail lines of the instance log, with timestamps.
	Logs(ctx context.Context, name string, tail int) (string, error)

	// Stats returns a one-shot usage sample.
	Stats(ctx context.Context, name string) (*UsageSample, error)
}

// Instance is a container-backed endpoint as seen by the engine.
type Instance struct {
	ID        string
	Name      string
	Kind      model.Kind
	State     model.State
	Status    string      // engine status line, e.g. "Up 3 minutes"
	Image     string
	CreatedAt time.Time
	Ports     map[int]int // container port -> host port
	Resources model.Resources
}

// CreateOptions configures instance creation. Zero means unlimited.
type CreateOptions struct {
	CPULimit      float64 // fraction of one core
	MemoryLimitMB int64
}

// Inspection is a detailed snapshot of one instance.
type Inspection struct {
	Instance

	StartedAt     *time.Time
	RestartPolicy string
	Hostname      string
	Mounts        []Mount

	CPUShares              int64
	CPUQuota               int64
	CPUPeriod              int64
	NanoCPUs               int64
	MemoryBytes            int64
	MemoryReservationBytes int64
	MemorySwapBytes        int64
}

// Mount is a filesystem mount of an instance.
type Mount struct {
	Type        string
	Source      string
	Destination string
}

// ResourceUpdate is a partial resource change.
type ResourceUpdate struct {
	CPULimit            *float64
	MemoryLimitMB       *int64
	MemoryReservationMB *int64
}

// Empty reports whether the update changes nothing.
func (u ResourceUpdate) Empty() bool {
	return u.CPULimit == nil && u.MemoryLimitMB == nil && u.MemoryReservationMB == nil
}

// UpdateResult reports the limits after an update.
type UpdateResult struct {
	Resources model.Resources
	// RestartRecommended is set when a changed limit may only take full
	// effect after a restart.
	RestartRecommended bool
}

// UsageSample is a point-in-time resource usage reading.
type UsageSample struct {
	CPUPercent       float64
	MemoryUsageBytes uint64
	MemoryLimitBytes uint64
	MemoryPercent    float64
}

// CPUQuota converts a fraction of one core into a quota for CPUPeriod.
func CPUQuota(cores float64) int64 {
	if cores <= 0 {
		return 0
	}
	return int64(math.Round(cores * float64(CPUPeriod)))
}

// CPUFromQuota converts a quota/period pair back into cores.
func CPUFromQuota(quota, period int64) float64 {
	if quota <= 0 || period <= 0 {
		return 0
	}
	return float64(quota) / float64(period)
}

// MemoryBytes converts megabytes into bytes.
func MemoryBytes(mb int64) int64 {
	if mb <= 0 {
		return 0
	}
	return mb * 1024 * 1024
}

// MemoryMB converts bytes into whole megabytes.
func MemoryMB(bytes int64) int64 {
	return bytes / (1024 * 1024)
}

// ClampTail bounds a requested log tail.
func ClampTail(tail int) int {
	if tail <= 0 {
		return DefaultLogTail
	}
	if tail > MaxLogTail {
		return MaxLogTail
	}
	return tail
}
