package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// maxUploadMemory bounds the in-memory part of a multipart upload.
const maxUploadMemory = 32 << 20

// Connect names a remote endpoint either by registry reference or by explicit
// address and credentials. A registry reference wins when both are given.
type Connect struct {
	Server   string `json:"server"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// FTPRequest is the body of the /api/ftp endpoints.
type FTPRequest struct {
	Connect
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
	Content string `json:"content"`
}

// target returns the connection to use for kind. Registry references must
// name a running endpoint with the capability; explicit addresses are taken
// as given with the kind's default port.
func (h *Handler) target(ctx context.Context, op string, c Connect, kind model.Kind) (gateway.Target, error) {
	if c.Server != "" {
		ep, err := h.registry.Resolve(ctx, c.Server)
		if err != nil {
			return gateway.Target{}, err
		}
		if !hasCapability(ep, kind) {
			return gateway.Target{}, apperr.InvalidInput(op, "%s is not a %s server", ep.Name, kind.Label())
		}
		if !ep.Running() {
			return gateway.Target{}, apperr.InvalidInput(op, "%s is not running", ep.Name)
		}
		if kind == model.KindShell || kind == model.KindWeb {
			if ep.Control == nil {
				return gateway.Target{}, apperr.InvalidInput(op, "%s has no shell channel", ep.Name)
			}
			return *ep.Control, nil
		}
		return ep.Connection, nil
	}

	if c.Host == "" {
		return gateway.Target{}, apperr.InvalidInput(op, "server or host is required")
	}
	port := c.Port
	if port == 0 {
		port = model.KindShell.DefaultPort()
		if kind == model.KindFTP {
			port = model.KindFTP.DefaultPort()
		}
	}
	return gateway.Target{Host: c.Host, Port: port, User: c.Username, Credential: c.Password}, nil
}

func hasCapability(ep *model.Endpoint, kind model.Kind) bool {
	switch kind {
	case model.KindFTP:
		return ep.Caps.BrowsesFiles
	case model.KindWeb:
		return ep.Caps.ServesHTTP
	default:
		return ep.Caps.RunsCommands
	}
}

func (h *Handler) ftpRequest(w http.ResponseWriter, r *http.Request, op string) (FTPRequest, gateway.Target, bool) {
	var req FTPRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Fail(w, err)
		return req, gateway.Target{}, false
	}
	t, err := h.target(r.Context(), op, req.Connect, model.KindFTP)
	if err != nil {
		h.Fail(w, err)
		return req, gateway.Target{}, false
	}
	return req, t, true
}

func requirePath(op, p string) error {
	if strings.TrimSpace(p) == "" {
		return apperr.InvalidInput(op, "path is required")
	}
	return nil
}

// ListFTP lists a directory, directories first.
// POST /api/ftp/list
func (h *Handler) ListFTP(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.ftpRequest(w, r, "ftp list")
	if !ok {
		return
	}
	dir := req.Path
	if dir == "" {
		dir = "/"
	}
	entries, err := h.files.ListDirectory(r.Context(), t, dir)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if entries == nil {
		entries = []gateway.FileEntry{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"path": dir, "entries": entries})
}

// DeleteFTP removes a file.
// POST /api/ftp/delete
func (h *Handler) DeleteFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp delete"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	if err := h.files.DeleteFile(r.Context(), t, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"path": req.Path, "status": "deleted"})
}

// ReadFTP returns a file as text.
// POST /api/ftp/read
func (h *Handler) ReadFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp read"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	data, err := h.files.ReadFile(r.Context(), t, req.Path)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"path": req.Path, "content": string(data), "size": len(data)})
}

// SaveFTP writes text content to a file.
// POST /api/ftp/save
func (h *Handler) SaveFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp save"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	if err := h.files.WriteFile(r.Context(), t, req.Path, []byte(req.Content)); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"path": req.Path, "size": len(req.Content)})
}

// RenameFTP moves a file or directory.
// POST /api/ftp/rename
func (h *Handler) RenameFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp rename"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if req.Path == "" || req.NewPath == "" {
		h.Fail(w, apperr.InvalidInput(op, "path and newPath are required"))
		return
	}
	if err := h.files.RenameFile(r.Context(), t, req.Path, req.NewPath); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"path": req.NewPath, "from": req.Path})
}

// MakeDirectoryFTP creates a directory and its parents.
// POST /api/ftp/mkdir
func (h *Handler) MakeDirectoryFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp mkdir"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	if err := h.files.MakeDirectory(r.Context(), t, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]string{"path": req.Path})
}

// PreviewFTP returns a file as a data URL.
// POST /api/ftp/preview
func (h *Handler) PreviewFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp preview"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	content, err := h.files.ReadInline(r.Context(), t, req.Path)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, content)
}

// DownloadFTP streams a file as an attachment. The file is staged in the
// local store and removed once sent.
// POST /api/ftp/download
func (h *Handler) DownloadFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp download"
	req, t, ok := h.ftpRequest(w, r, op)
	if !ok {
		return
	}
	if err := requirePath(op, req.Path); err != nil {
		h.Fail(w, err)
		return
	}
	local, err := h.files.DownloadToLocalStore(r.Context(), t, req.Path)
	if err != nil {
		h.Fail(w, err)
		return
	}
	defer os.RemoveAll(filepath.Dir(local))

	f, err := os.Open(local)
	if err != nil {
		h.Fail(w, apperr.Wrap(apperr.KindEngineError, op, err))
		return
	}
	defer f.Close()

	name := filepath.Base(local)
	w.Header().Set("Content-Type", gateway.MIMEFor(name))
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(name, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.log.Debug("download aborted", "path", req.Path, "error", err)
	}
}

// UploadFTP stores a multipart file under the "path" directory. Connection
// fields are read from the other form values.
// POST /api/ftp/upload
func (h *Handler) UploadFTP(w http.ResponseWriter, r *http.Request) {
	const op = "ftp upload"
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.Fail(w, apperr.InvalidInput(op, "invalid multipart form: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	c := Connect{
		Server:   r.FormValue("server"),
		Host:     r.FormValue("host"),
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}
	if p := r.FormValue("port"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			h.Fail(w, apperr.InvalidInput(op, "port must be a number"))
			return
		}
		c.Port = port
	}
	t, err := h.target(r.Context(), op, c, model.KindFTP)
	if err != nil {
		h.Fail(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.Fail(w, apperr.InvalidInput(op, "file is required"))
		return
	}
	defer file.Close()

	name := path.Base(strings.ReplaceAll(header.Filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		h.Fail(w, apperr.InvalidInput(op, "file name is required"))
		return
	}
	dir := r.FormValue("path")
	if dir == "" {
		dir = "/"
	}
	remote := path.Join(dir, name)

	local, cleanup, err := h.stage(file)
	if err != nil {
		h.Fail(w, apperr.Wrap(apperr.KindEngineError, op, err))
		return
	}
	defer cleanup()

	if err := h.files.UploadFromLocalStore(r.Context(), t, local, remote); err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]any{"path": remote, "size": header.Size})
}

// stage copies r into a temporary file under the local store.
func (h *Handler) stage(r io.Reader) (string, func(), error) {
	dir := h.cfg.LocalStoreDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(dir, "upload-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
