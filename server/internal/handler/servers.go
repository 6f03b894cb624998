package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
)

// ServerListResponse is the merged registry snapshot.
type ServerListResponse struct {
	Servers []model.Endpoint `json:"servers"`
	// EngineError is set when only custom servers could be listed.
	EngineError string    `json:"engineError,omitempty"`
	TakenAt     time.Time `json:"takenAt"`
}

// ListServers returns every endpoint with its ordinal.
// GET /api/servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.List(r.Context())
	if err != nil {
		h.Fail(w, err)
		return
	}
	resp := ServerListResponse{Servers: snap.Endpoints(), TakenAt: snap.TakenAt}
	if resp.Servers == nil {
		resp.Servers = []model.Endpoint{}
	}
	if snap.EngineErr != nil {
		resp.EngineError = snap.EngineErr.Error()
	}
	h.JSON(w, http.StatusOK, resp)
}

// AddCustomServer registers an external endpoint.
// POST /api/servers/custom
func (h *Handler) AddCustomServer(w http.ResponseWriter, r *http.Request) {
	var spec registry.CustomSpec
	if err := h.DecodeJSON(r, &spec); err != nil {
		h.Fail(w, err)
		return
	}
	rec, err := h.registry.AddCustom(r.Context(), spec)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, rec)
}

// RemoveCustomServer deletes an external endpoint. Unknown ids succeed.
// DELETE /api/servers/custom/{id}
func (h *Handler) RemoveCustomServer(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.RemoveCustom(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateContainerRequest is the body of POST /api/servers/docker.
type CreateContainerRequest struct {
	Name          string  `json:"name"`
	Kind          string  `json:"type"`
	CPULimit      float64 `json:"cpuLimit"`
	MemoryLimitMB int64   `json:"memoryLimitMB"`
}

// CreateContainer creates and starts a container-backed endpoint.
// POST /api/servers/docker
func (h *Handler) CreateContainer(w http.ResponseWriter, r *http.Request) {
	const op = "create server"
	rt, err := h.engine(op)
	if err != nil {
		h.Fail(w, err)
		return
	}
	var req CreateContainerRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	if req.Name == "" {
		h.Fail(w, apperr.InvalidInput(op, "name is required"))
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		h.Fail(w, apperr.Wrap(apperr.KindInvalidInput, op, err))
		return
	}
	if req.CPULimit < 0 || req.MemoryLimitMB < 0 {
		h.Fail(w, apperr.InvalidInput(op, "limits must not be negative"))
		return
	}

	inst, err := rt.Create(r.Context(), req.Name, kind, container.CreateOptions{
		CPULimit:      req.CPULimit,
		MemoryLimitMB: req.MemoryLimitMB,
	})
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, instanceView(inst))
}

// DeleteContainer stops and removes a container-backed endpoint.
// DELETE /api/servers/docker/{name}
func (h *Handler) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	rt, name, err := h.containerRef(r, "delete server")
	if err != nil {
		h.Fail(w, err)
		return
	}
	if err := rt.Delete(r.Context(), name); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

// StartServer, StopServer and RestartServer report AlreadyInState as a 409
// warning.
func (h *Handler) StartServer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "start server", "started", container.Runtime.Start)
}

func (h *Handler) StopServer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "stop server", "stopped", container.Runtime.Stop)
}

func (h *Handler) RestartServer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "restart server", "restarted", container.Runtime.Restart)
}

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op, done string,
	fn func(container.Runtime, context.Context, string) error) {
	rt, name, err := h.containerRef(r, op)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if err := fn(rt, r.Context(), name); err != nil {
		h.Fail(w, err)
		return
	}
	h.log.Info("server "+done, "name", name)
	h.JSON(w, http.StatusOK, map[string]string{"name": name, "status": done})
}

// InspectionResponse is the resource snapshot of one container.
type InspectionResponse struct {
	InstanceResponse
	StartedAt           *time.Time        `json:"startedAt,omitempty"`
	Hostname            string            `json:"hostname,omitempty"`
	RestartPolicy       string            `json:"restartPolicy,omitempty"`
	CPULimit            float64           `json:"cpuLimit"`
	CPUShares           int64             `json:"cpuShares"`
	MemoryLimitMB       int64             `json:"memoryLimitMB"`
	MemoryReservationMB int64             `json:"memoryReservationMB"`
	MemorySwapMB        int64             `json:"memorySwapMB"`
	Mounts              []container.Mount `json:"mounts"`
}

// InstanceResponse is the engine view of one container.
type InstanceResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      model.Kind  `json:"kind"`
	State     model.State `json:"state"`
	Status    string      `json:"status"`
	Image     string      `json:"image"`
	CreatedAt time.Time   `json:"createdAt"`
	Ports     map[int]int `json:"ports,omitempty"`
}

func instanceView(inst *container.Instance) InstanceResponse {
	return InstanceResponse{
		ID:        inst.ID,
		Name:      inst.Name,
		Kind:      inst.Kind,
		State:     inst.State,
		Status:    inst.Status,
		Image:     inst.Image,
		CreatedAt: inst.CreatedAt,
		Ports:     inst.Ports,
	}
}

// InspectServer returns limits and runtime state.
// GET /api/servers/{name}/inspect
func (h *Handler) InspectServer(w http.ResponseWriter, r *http.Request) {
	rt, name, err := h.containerRef(r, "inspect server")
	if err != nil {
		h.Fail(w, err)
		return
	}
	info, err := rt.Inspect(r.Context(), name)
	if err != nil {
		h.Fail(w, err)
		return
	}

	cpu := container.CPUFromQuota(info.CPUQuota, info.CPUPeriod)
	if cpu == 0 && info.NanoCPUs > 0 {
		cpu = float64(info.NanoCPUs) / 1e9
	}
	mounts := info.Mounts
	if mounts == nil {
		mounts = []container.Mount{}
	}
	h.JSON(w, http.StatusOK, InspectionResponse{
		InstanceResponse:    instanceView(&info.Instance),
		StartedAt:           info.StartedAt,
		Hostname:            info.Hostname,
		RestartPolicy:       info.RestartPolicy,
		CPULimit:            cpu,
		CPUShares:           info.CPUShares,
		MemoryLimitMB:       container.MemoryMB(info.MemoryBytes),
		MemoryReservationMB: container.MemoryMB(info.MemoryReservationBytes),
		MemorySwapMB:        container.MemoryMB(info.MemorySwapBytes),
		Mounts:              mounts,
	})
}

// UpdateResourcesRequest is a partial resource change. Omitted fields are
// left unchanged.
type UpdateResourcesRequest struct {
	CPULimit            *float64 `json:"cpuLimit"`
	MemoryLimitMB       *int64   `json:"memoryLimitMB"`
	MemoryReservationMB *int64   `json:"memoryReservationMB"`
}

// UpdateResources applies new limits without restarting.
// PUT /api/servers/{name}/resources
func (h *Handler) UpdateResources(w http.ResponseWriter, r *http.Request) {
	const op = "update resources"
	rt, name, err := h.containerRef(r, op)
	if err != nil {
		h.Fail(w, err)
		return
	}
	var req UpdateResourcesRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	update := container.ResourceUpdate(req)
	if update.Empty() {
		h.Fail(w, apperr.InvalidInput(op, "no resource field given"))
		return
	}
	res, err := rt.UpdateResources(r.Context(), name, update)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"name":               name,
		"resources":          res.Resources,
		"restartRecommended": res.RestartRecommended,
	})
}

// ServerStats samples cpu, memory and disk over the server's shell channel.
// GET /api/servers/{name}/stats
func (h *Handler) ServerStats(w http.ResponseWriter, r *http.Request) {
	const op = "server stats"
	ep, err := h.registry.Resolve(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if ep.Control == nil {
		h.Fail(w, apperr.InvalidInput(op, "%s has no shell channel", ep.Name))
		return
	}
	if !ep.Running() {
		h.Fail(w, apperr.InvalidInput(op, "%s is not running", ep.Name))
		return
	}
	stats, err := h.remote.SystemStats(r.Context(), *ep.Control)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, stats)
}

// ServerUsage returns the engine's usage sample.
// GET /api/servers/{name}/usage
func (h *Handler) ServerUsage(w http.ResponseWriter, r *http.Request) {
	rt, name, err := h.containerRef(r, "server usage")
	if err != nil {
		h.Fail(w, err)
		return
	}
	sample, err := rt.Stats(r.Context(), name)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"name":             name,
		"cpuPercent":       sample.CPUPercent,
		"memoryUsageBytes": sample.MemoryUsageBytes,
		"memoryLimitBytes": sample.MemoryLimitBytes,
		"memoryPercent":    sample.MemoryPercent,
	})
}

// ServerLogs returns the container log tail.
// GET /api/servers/{name}/logs?tail=N
func (h *Handler) ServerLogs(w http.ResponseWriter, r *http.Request) {
	const op = "server logs"
	rt, name, err := h.containerRef(r, op)
	if err != nil {
		h.Fail(w, err)
		return
	}
	tail := 0
	if s := r.URL.Query().Get("tail"); s != "" {
		if tail, err = strconv.Atoi(s); err != nil {
			h.Fail(w, apperr.InvalidInput(op, "tail must be a number"))
			return
		}
	}
	tail = container.ClampTail(tail)
	logs, err := rt.Logs(r.Context(), name, tail)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"name": name, "tail": tail, "logs": logs})
}

// containerRef resolves the {name} parameter to a container name. Ordinals
// and partial names are accepted. Custom servers are rejected.
func (h *Handler) containerRef(r *http.Request, op string) (container.Runtime, string, error) {
	rt, err := h.engine(op)
	if err != nil {
		return nil, "", err
	}
	ep, err := h.registry.Resolve(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return nil, "", err
	}
	if ep.Origin != model.OriginContainer {
		return nil, "", apperr.InvalidInput(op, "%s is a custom server and is not managed here", ep.Name)
	}
	return rt, ep.Name, nil
}
