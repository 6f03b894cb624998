// Package registry merges the container inventory with the persisted custom
// endpoints into one numbered view. It is the only place that answers
// "which endpoint is #N or named X".
package registry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/store"
)

// Registry recomputes the merged view on every List. Only writes to the
// custom list are serialized; readers never hold the lock across engine calls.
type Registry struct {
	runtime container.Runtime
	store   store.Store
	cfg     *config.Config
	log     *logger.Logger

	mu sync.Mutex
}

// New creates a registry. runtime may be nil when no container engine is
// available, in which case only custom endpoints are listed.
func New(runtime container.Runtime, st store.Store, cfg *config.Config, log *logger.Logger) *Registry {
	return &Registry{
		runtime: runtime,
		store:   st,
		cfg:     cfg,
		log:     log.Named("registry"),
	}
}

// Snapshot is one merged listing. Ordinals are only meaningful within it.
type Snapshot struct {
	TakenAt   time.Time
	endpoints []model.Endpoint

	// EngineErr is set when the container inventory could not be read and
	// the snapshot holds custom endpoints only.
	EngineErr error
}

// Endpoints returns a copy of the ordered endpoints.
func (s *Snapshot) Endpoints() []model.Endpoint {
	out := make([]model.Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Len returns the number of endpoints.
func (s *Snapshot) Len() int { return len(s.endpoints) }

// ByOrdinal returns the endpoint numbered n.
func (s *Snapshot) ByOrdinal(n int) (*model.Endpoint, error) {
	if n < 1 || n > len(s.endpoints) {
		return nil, apperr.NotFound("resolve", "server #%d does not exist (have %d)", n, len(s.endpoints))
	}
	ep := s.endpoints[n-1]
	return &ep, nil
}

// Resolve accepts an ordinal, an exact name, or a substring of a
// container-backed name. The first substring match in listing order wins.
func (s *Snapshot) Resolve(ref string) (*model.Endpoint, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.InvalidInput("resolve", "server reference is required")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		return s.ByOrdinal(n)
	}
	for i := range s.endpoints {
		if s.endpoints[i].Name == ref {
			ep := s.endpoints[i]
			return &ep, nil
		}
	}
	for i := range s.endpoints {
		if s.endpoints[i].Origin == model.OriginContainer && strings.Contains(s.endpoints[i].Name, ref) {
			ep := s.endpoints[i]
			return &ep, nil
		}
	}
	return nil, apperr.NotFound("resolve", "no server matches %q", ref)
}

// List builds a fresh snapshot: container endpoints first, then custom ones.
func (r *Registry) List(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: time.Now()}

	if r.runtime != nil {
		instances, err := r.runtime.List(ctx)
		if err != nil {
			r.log.Warn("container inventory unavailable", "error", err)
			snap.EngineErr = err
		}
		for _, inst := range instances {
			snap.endpoints = append(snap.endpoints, r.containerEndpoint(inst))
		}
	}

	customs, err := r.store.Load(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineError, "load custom servers", err)
	}
	for _, c := range customs {
		snap.endpoints = append(snap.endpoints, c.Endpoint())
	}

	for i := range snap.endpoints {
		snap.endpoints[i].Ordinal = i + 1
	}
	return snap, nil
}

// Resolve resolves ref against a fresh snapshot.
func (r *Registry) Resolve(ctx context.Context, ref string) (*model.Endpoint, error) {
	snap, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Resolve(ref)
}

// ResolveToken resolves an ordinal carried by a button and verifies it
// still designates the endpoint with the given fingerprint.
func (r *Registry) ResolveToken(ctx context.Context, ordinal int, fingerprint string) (*model.Endpoint, error) {
	snap, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	ep, err := snap.ByOrdinal(ordinal)
	if err != nil {
		return nil, err
	}
	if ep.Fingerprint() != fingerprint {
		return nil, apperr.NotFound("resolve", "server #%d changed since this message was sent; list servers again", ordinal)
	}
	return ep, nil
}

// containerEndpoint addresses a container by name on the engine network, or
// through its published ports when PublishHost is configured.
func (r *Registry) containerEndpoint(inst *container.Instance) model.Endpoint {
	host := inst.Name
	port := inst.Kind.DefaultPort()
	controlPort := 22
	if r.cfg.PublishHost != "" {
		host = r.cfg.PublishHost
		port = inst.Ports[port]
		controlPort = inst.Ports[controlPort]
	}

	user, pass := r.cfg.ServiceCredentials(inst.Kind)
	ctlUser, ctlPass := r.cfg.ControlCredentials()
	res := inst.Resources

	ep := model.Endpoint{
		ID:         inst.ID,
		Name:       inst.Name,
		Kind:       inst.Kind,
		Origin:     model.OriginContainer,
		State:      inst.State,
		Status:     inst.Status,
		Connection: model.Connection{Host: host, Port: port, User: user, Credential: pass},
		Ports:      inst.Ports,
		Resources:  &res,
		Caps:       inst.Kind.Capabilities(),
	}
	if controlPort != 0 {
		ep.Control = &model.Connection{Host: host, Port: controlPort, User: ctlUser, Credential: ctlPass}
	}
	return ep
}

// CustomSpec is the input to AddCustom. Port 0 selects the kind's default.
type CustomSpec struct {
	Name       string `json:"name"`
	Kind       string `json:"type"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Credential string `json:"password"`
}

// AddCustom validates spec, appends it to the persisted list and rewrites
// the list.
func (r *Registry) AddCustom(ctx context.Context, spec CustomSpec) (*model.CustomEndpoint, error) {
	const op = "add custom server"

	rec, err := validateSpec(spec)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.Load(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineError, op, err)
	}

	taken := make(map[string]bool, len(current))
	for _, c := range current {
		taken[c.ID] = true
	}
	for rec.ID == "" || taken[rec.ID] {
		rec.ID = uuid.NewString()
	}

	next := append(current, *rec)
	if err := r.store.Save(ctx, next); err != nil {
		return nil, apperr.Wrap(apperr.KindEngineError, op, err)
	}
	rec.Position = len(next) - 1
	r.log.Info("custom server added", "id", rec.ID, "name", rec.Name, "kind", rec.Kind)
	return rec, nil
}

// RemoveCustom removes the record with id. Unknown ids are not an error.
func (r *Registry) RemoveCustom(ctx context.Context, id string) error {
	const op = "remove custom server"

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.store.Load(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindEngineError, op, err)
	}

	next := current[:0:0]
	for _, c := range current {
		if c.ID != id {
			next = append(next, c)
		}
	}
	if err := r.store.Save(ctx, next); err != nil {
		return apperr.Wrap(apperr.KindEngineError, op, err)
	}
	if len(next) != len(current) {
		r.log.Info("custom server removed", "id", id)
	}
	return nil
}

func validateSpec(spec CustomSpec) (*model.CustomEndpoint, error) {
	const op = "add custom server"

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", spec.Name},
		{"type", spec.Kind},
		{"host", spec.Host},
		{"user", spec.User},
		{"password", spec.Credential},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.InvalidInput(op, "missing required fields: %s", strings.Join(missing, ", "))
	}

	kind, err := model.ParseKind(spec.Kind)
	if err != nil {
		return nil, apperr.InvalidInput(op, "%v", err)
	}
	port := spec.Port
	if port == 0 {
		port = kind.DefaultPort()
	}
	if port < 1 || port > 65535 {
		return nil, apperr.InvalidInput(op, "port %d out of range", port)
	}

	return &model.CustomEndpoint{
		Name:       strings.TrimSpace(spec.Name),
		Kind:       kind,
		Host:       strings.TrimSpace(spec.Host),
		Port:       port,
		User:       spec.User,
		Credential: spec.Credential,
		Status:     model.CustomStatusLabel,
	}, nil
}
