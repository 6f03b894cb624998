package handler

import (
	"net/http"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
)

// TunnelRequest names a local host and port.
type TunnelRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// OpenTunnel returns the public URL for host:port, opening a tunnel if none
// exists.
// POST /api/tunnels
func (h *Handler) OpenTunnel(w http.ResponseWriter, r *http.Request) {
	if h.tunnels == nil {
		h.Fail(w, tunnel.ErrNoAuthToken)
		return
	}
	var req TunnelRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	url, err := h.tunnels.Open(r.Context(), req.Host, req.Port)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"host": req.Host, "port": req.Port, "url": url})
}

// CloseTunnel closes the tunnel for host:port. Closing a missing tunnel
// succeeds.
// DELETE /api/tunnels
func (h *Handler) CloseTunnel(w http.ResponseWriter, r *http.Request) {
	var req TunnelRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	if req.Host == "" || req.Port <= 0 {
		h.Fail(w, apperr.InvalidInput("close tunnel", "host and port are required"))
		return
	}
	if h.tunnels != nil {
		if err := h.tunnels.Close(r.Context(), req.Host, req.Port); err != nil {
			h.Fail(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTunnels returns the open tunnels.
// GET /api/tunnels
func (h *Handler) ListTunnels(w http.ResponseWriter, _ *http.Request) {
	list := []tunnel.Tunnel{}
	if h.tunnels != nil {
		list = append(list, h.tunnels.List()...)
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"configured": h.tunnels != nil && h.tunnels.Configured(),
		"tunnels":    list,
	})
}
