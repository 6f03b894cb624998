package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Route describes one registered API route.
type Route struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`

	handler http.HandlerFunc
}

// Routes returns the API route table.
func (h *Handler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/health", "Liveness and backend availability", h.Health},
		{http.MethodGet, "/api/routes", "This route table", h.GetRoutes},

		{http.MethodGet, "/api/servers", "Merged server list with ordinals", h.ListServers},
		{http.MethodPost, "/api/servers/custom", "Register a custom server", h.AddCustomServer},
		{http.MethodDelete, "/api/servers/custom/{id}", "Remove a custom server", h.RemoveCustomServer},
		{http.MethodPost, "/api/servers/docker", "Create and start a container server", h.CreateContainer},
		{http.MethodDelete, "/api/servers/docker/{name}", "Stop and remove a container server", h.DeleteContainer},
		{http.MethodPost, "/api/servers/{name}/start", "Start a container server", h.StartServer},
		{http.MethodPost, "/api/servers/{name}/stop", "Stop a container server", h.StopServer},
		{http.MethodPost, "/api/servers/{name}/restart", "Restart a container server", h.RestartServer},
		{http.MethodGet, "/api/servers/{name}/inspect", "Limits and runtime state", h.InspectServer},
		{http.MethodPut, "/api/servers/{name}/resources", "Update CPU and memory limits", h.UpdateResources},
		{http.MethodGet, "/api/servers/{name}/stats", "CPU, memory and disk over SSH", h.ServerStats},
		{http.MethodGet, "/api/servers/{name}/usage", "Engine usage sample", h.ServerUsage},
		{http.MethodGet, "/api/servers/{name}/logs", "Container log tail", h.ServerLogs},

		{http.MethodPost, "/api/ftp/list", "List a remote directory", h.ListFTP},
		{http.MethodPost, "/api/ftp/delete", "Delete a remote file", h.DeleteFTP},
		{http.MethodPost, "/api/ftp/read", "Read a remote file as text", h.ReadFTP},
		{http.MethodPost, "/api/ftp/save", "Write a remote file", h.SaveFTP},
		{http.MethodPost, "/api/ftp/download", "Download a remote file", h.DownloadFTP},
		{http.MethodPost, "/api/ftp/rename", "Rename a remote file", h.RenameFTP},
		{http.MethodPost, "/api/ftp/preview", "Preview a remote file as a data URL", h.PreviewFTP},
		{http.MethodPost, "/api/ftp/mkdir", "Create a remote directory", h.MakeDirectoryFTP},
		{http.MethodPost, "/api/ftp/upload", "Upload a multipart file", h.UploadFTP},

		{http.MethodPost, "/api/web/status", "nginx service status", h.WebStatus},
		{http.MethodPost, "/api/web/logs", "nginx access log tail", h.WebLogs},

		{http.MethodGet, "/api/tunnels", "Open tunnels", h.ListTunnels},
		{http.MethodPost, "/api/tunnels", "Open or reuse a tunnel", h.OpenTunnel},
		{http.MethodDelete, "/api/tunnels", "Close a tunnel", h.CloseTunnel},

		{http.MethodGet, "/api/terminal/ws", "Interactive shell websocket", h.TerminalWebSocket},
	}
}

// Mount registers every route on r.
func (h *Handler) Mount(r chi.Router) {
	for _, rt := range h.Routes() {
		r.Method(rt.Method, rt.Path, rt.handler)
	}
}

// GetRoutes returns all registered API routes with their metadata.
func (h *Handler) GetRoutes(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, h.Routes())
}
