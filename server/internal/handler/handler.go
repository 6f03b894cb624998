// Package handler exposes the registry, the container lifecycle, the remote
// gateway, shell sessions and tunnels over HTTP and websockets.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/session"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
	"github.com/obot-platform/fleetdeck/server/internal/version"
)

// Files is the file transfer half of the gateway.
type Files interface {
	ListDirectory(ctx context.Context, t gateway.Target, dir string) ([]gateway.FileEntry, error)
	ReadFile(ctx context.Context, t gateway.Target, remote string) ([]byte, error)
	WriteFile(ctx context.Context, t gateway.Target, remote string, data []byte) error
	DeleteFile(ctx context.Context, t gateway.Target, remote string) error
	RenameFile(ctx context.Context, t gateway.Target, from, to string) error
	MakeDirectory(ctx context.Context, t gateway.Target, dir string) error
	DownloadToLocalStore(ctx context.Context, t gateway.Target, remote string) (string, error)
	UploadFromLocalStore(ctx context.Context, t gateway.Target, local, remote string) error
	ReadInline(ctx context.Context, t gateway.Target, remote string) (*gateway.InlineContent, error)
}

// Remote is the shell-channel half of the gateway.
type Remote interface {
	SystemStats(ctx context.Context, t gateway.Target) (*gateway.Stats, error)
	NginxStatus(ctx context.Context, t gateway.Target) (*gateway.WebStatus, error)
	AccessLogs(ctx context.Context, t gateway.Target, lines int) (string, error)
}

// Options wires a Handler.
type Options struct {
	Registry *registry.Registry
	Runtime  container.Runtime // nil when the engine is unavailable
	Files    Files
	Remote   Remote
	Shells   *session.ShellManager
	Tunnels  *tunnel.Manager
	Config   *config.Config
	Logger   *logger.Logger
}

// Handler contains all HTTP handlers
type Handler struct {
	registry *registry.Registry
	runtime  container.Runtime
	files    Files
	remote   Remote
	shells   *session.ShellManager
	tunnels  *tunnel.Manager
	cfg      *config.Config
	log      *logger.Logger

	upgrader websocket.Upgrader
}

// New creates a Handler.
func New(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		registry: opts.Registry,
		runtime:  opts.Runtime,
		files:    opts.Files,
		remote:   opts.Remote,
		shells:   opts.Shells,
		tunnels:  opts.Tunnels,
		cfg:      cfg,
		log:      log.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks are left to the CORS layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error  string        `json:"error"`
	Kind   apperr.Kind   `json:"kind,omitempty"`
	Reason apperr.Reason `json:"reason,omitempty"`
}

// Fail maps err onto a status code and writes it. AlreadyInState is a
// warning and is written under "warning" instead of "error".
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(err)
	if kind == apperr.KindAlreadyInState {
		h.JSON(w, status, map[string]any{"warning": err.Error(), "kind": kind})
		return
	}
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", "kind", kind, "error", err)
	}
	h.JSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, Reason: apperr.ReasonOf(err)})
}

// StatusFor returns the HTTP status for an error of the shared taxonomy.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindAlreadyInState:
		return http.StatusConflict
	case apperr.KindConnectionFailure:
		if errors.Is(err, apperr.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.KindConfigurationMissing:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput("decode request", "invalid JSON body: %v", err)
	}
	return nil
}

// Health reports liveness and which optional backends are available.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
		"engine":  h.runtime != nil,
		"tunnels": h.tunnels != nil && h.tunnels.Configured(),
	})
}

func (h *Handler) engine(op string) (container.Runtime, error) {
	if h.runtime == nil {
		return nil, apperr.ConfigurationMissing(op, "container engine is not available")
	}
	return h.runtime, nil
}
