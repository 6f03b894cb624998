package handler

import (
	"net/http"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// WebRequest is the body of the /api/web endpoints. The connection is the
// web server's shell channel.
type WebRequest struct {
	Connect
	Lines int `json:"lines"`
}

// WebStatus reports whether nginx is running.
// POST /api/web/status
func (h *Handler) WebStatus(w http.ResponseWriter, r *http.Request) {
	var req WebRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	t, err := h.target(r.Context(), "web status", req.Connect, model.KindWeb)
	if err != nil {
		h.Fail(w, err)
		return
	}
	status, err := h.remote.NginxStatus(r.Context(), t)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, status)
}

// WebLogs returns the tail of the nginx access log.
// POST /api/web/logs
func (h *Handler) WebLogs(w http.ResponseWriter, r *http.Request) {
	var req WebRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return
	}
	if req.Lines < 0 {
		h.Fail(w, apperr.InvalidInput("web logs", "lines must not be negative"))
		return
	}
	t, err := h.target(r.Context(), "web logs", req.Connect, model.KindWeb)
	if err != nil {
		h.Fail(w, err)
		return
	}
	lines := gateway.ClampLogLines(req.Lines)
	logs, err := h.remote.AccessLogs(r.Context(), t, lines)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"lines": lines, "logs": logs})
}
