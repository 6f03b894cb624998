package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container"
	"github.com/obot-platform/fleetdeck/server/internal/container/mock"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	ftpmock "github.com/obot-platform/fleetdeck/server/internal/gateway/mock"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/session"
	"github.com/obot-platform/fleetdeck/server/internal/store"
	"github.com/obot-platform/fleetdeck/server/internal/tunnel"
	"github.com/obot-platform/fleetdeck/server/internal/version"
)

type fakeRemote struct {
	mu      sync.Mutex
	targets []gateway.Target

	stats gateway.Stats
	nginx bool
	logs  string
	lines int
	err   error
}

func (f *fakeRemote) record(t gateway.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
}

func (f *fakeRemote) SystemStats(ctx context.Context, t gateway.Target) (*gateway.Stats, error) {
	f.record(t)
	s := f.stats
	return &s, f.err
}

func (f *fakeRemote) NginxStatus(ctx context.Context, t gateway.Target) (*gateway.WebStatus, error) {
	f.record(t)
	return &gateway.WebStatus{Running: f.nginx, Output: "nginx is running"}, f.err
}

func (f *fakeRemote) AccessLogs(ctx context.Context, t gateway.Target, lines int) (string, error) {
	f.record(t)
	f.mu.Lock()
	f.lines = lines
	f.mu.Unlock()
	return f.logs, f.err
}

type fakeHandle struct{ url string }

func (h *fakeHandle) URL() string  { return h.url }
func (h *fakeHandle) Close() error { return nil }

type fakeOpener struct{ opens int }

func (o *fakeOpener) Open(ctx context.Context, host string, port int) (tunnel.Handle, error) {
	o.opens++
	return &fakeHandle{url: fmt.Sprintf("https://%s-%d.ngrok.example", host, port)}, nil
}

type fixture struct {
	srv    *httptest.Server
	rt     *mock.Provider
	ftp    *ftpmock.FTPServer
	remote *fakeRemote
	opener *fakeOpener
	shells *session.ShellManager
	stream *fakeStream
}

// newFixture serves ssh-target-1 (#1), ftp-target-1 (#2), web-target-1 (#3,
// stopped) and the custom legacy-box (#4).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		ShellUser: "root", ShellPassword: "password",
		FTPUser: "ftpuser", FTPPassword: "ftp123",
		LocalStoreDir: t.TempDir(),
	}

	rt := mock.NewProvider()
	rt.Add("ssh-target-1", model.KindShell, model.StateRunning)
	rt.Add("ftp-target-1", model.KindFTP, model.StateRunning)
	rt.Add("web-target-1", model.KindWeb, model.StateStopped)

	st := store.NewMemoryStore(model.CustomEndpoint{
		ID: "c-1", Name: "legacy-box", Kind: model.KindShell,
		Host: "10.0.0.5", Port: 2222, User: "admin", Credential: "s3cret",
	})

	ftpSrv := ftpmock.NewFTPServer("ftpuser", "ftp123")
	ftpSrv.Put("/readme.txt", []byte("hello"))
	ftpSrv.Mkdir("/pub")

	f := &fixture{rt: rt, ftp: ftpSrv, remote: &fakeRemote{}, opener: &fakeOpener{}, stream: newFakeStream()}
	f.shells = session.NewShellManager(func(ctx context.Context, target model.Connection, size session.Size) (session.Stream, error) {
		if target.Credential != "password" {
			return nil, apperr.Connection("ssh shell", apperr.ReasonAuthenticationFailed, errors.New("authentication denied"))
		}
		f.stream.mu.Lock()
		f.stream.size = size
		f.stream.mu.Unlock()
		return f.stream, nil
	}, logger.Nop())

	h := New(Options{
		Registry: registry.New(rt, st, cfg, logger.Nop()),
		Runtime:  rt,
		Files:    gateway.New(gateway.Options{LocalStoreDir: cfg.LocalStoreDir, Logger: logger.Nop()}, gateway.WithFTPDialer(ftpSrv.Dialer())),
		Remote:   f.remote,
		Shells:   f.shells,
		Tunnels:  tunnel.NewManager(f.opener, "tok", logger.Nop()),
		Config:   cfg,
		Logger:   logger.Nop(),
	})
	r := chi.NewRouter()
	h.Mount(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("op", "x"), http.StatusNotFound},
		{apperr.InvalidInput("op", "x"), http.StatusBadRequest},
		{apperr.AlreadyInState("op", "x"), http.StatusConflict},
		{apperr.Connection("op", apperr.ReasonAuthenticationFailed, errors.New("x")), http.StatusBadGateway},
		{apperr.Connection("op", apperr.ReasonTimeout, errors.New("x")), http.StatusGatewayTimeout},
		{apperr.ConfigurationMissing("op", "x"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || body["status"] != "ok" || body["engine"] != true || body["tunnels"] != true || body["version"] != version.Get() {
		t.Errorf("health = %d %v", status, body)
	}
}

func TestListServers(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/servers", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	servers := body["servers"].([]any)
	if len(servers) != 4 {
		t.Fatalf("servers = %d", len(servers))
	}
	for i, want := range []string{"ssh-target-1", "ftp-target-1", "web-target-1", "legacy-box"} {
		s := servers[i].(map[string]any)
		if s["name"] != want || s["ordinal"] != float64(i+1) {
			t.Errorf("servers[%d] = %v", i, s)
		}
	}
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "s3cret") || strings.Contains(string(raw), "ftp123") {
		t.Error("credentials leaked into the listing")
	}
}

func TestListServers_EngineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.rt.ListFunc = func(ctx context.Context) ([]*container.Instance, error) {
		return nil, errors.New("daemon down")
	}
	status, body := f.do(t, http.MethodGet, "/api/servers", nil)
	if status != http.StatusOK || len(body["servers"].([]any)) != 1 || body["engineError"] != "daemon down" {
		t.Errorf("degraded listing = %d %v", status, body)
	}
}

func TestCustomServers(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/servers/custom", map[string]any{
		"name": "nas", "type": "ftp", "host": "192.168.1.9", "user": "u", "password": "p",
	})
	if status != http.StatusCreated || body["port"] != float64(21) {
		t.Fatalf("add = %d %v", status, body)
	}
	if _, ok := body["credential"]; ok {
		t.Error("credential must not be echoed")
	}
	id := body["id"].(string)

	status, body = f.do(t, http.MethodPost, "/api/servers/custom", map[string]any{"name": "x", "type": "telnet", "host": "h"})
	if status != http.StatusBadRequest || body["kind"] != string(apperr.KindInvalidInput) {
		t.Errorf("invalid kind = %d %v", status, body)
	}

	if status, _ = f.do(t, http.MethodDelete, "/api/servers/custom/"+id, nil); status != http.StatusNoContent {
		t.Errorf("remove = %d", status)
	}
	_, body = f.do(t, http.MethodGet, "/api/servers", nil)
	if len(body["servers"].([]any)) != 4 {
		t.Errorf("custom server not removed: %v", body)
	}
}

func TestContainerLifecycle(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/servers/docker", map[string]any{
		"name": "ssh-target-2", "type": "ssh", "cpuLimit": 0.5, "memoryLimitMB": 256,
	})
	if status != http.StatusCreated || body["state"] != "running" || body["kind"] != "shell" {
		t.Fatalf("create = %d %v", status, body)
	}

	status, body = f.do(t, http.MethodPost, "/api/servers/ssh-target-2/start", nil)
	if status != http.StatusConflict || body["warning"] == nil || body["error"] != nil {
		t.Errorf("start running = %d %v", status, body)
	}

	if status, body = f.do(t, http.MethodPost, "/api/servers/ssh-target-2/stop", nil); status != http.StatusOK || body["status"] != "stopped" {
		t.Errorf("stop = %d %v", status, body)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/servers/ssh-target-2/stop", nil); status != http.StatusConflict {
		t.Errorf("stop stopped = %d", status)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/servers/ssh-target-2/restart", nil); status != http.StatusOK {
		t.Errorf("restart = %d", status)
	}

	status, body = f.do(t, http.MethodGet, "/api/servers/ssh-target-2/inspect", nil)
	if status != http.StatusOK || body["cpuLimit"] != 0.5 || body["memoryLimitMB"] != float64(256) {
		t.Errorf("inspect = %d %v", status, body)
	}

	status, body = f.do(t, http.MethodPut, "/api/servers/ssh-target-2/resources", map[string]any{"cpuLimit": 1.5})
	if status != http.StatusOK || body["restartRecommended"] != false {
		t.Errorf("update = %d %v", status, body)
	}
	_, body = f.do(t, http.MethodGet, "/api/servers/ssh-target-2/inspect", nil)
	if body["cpuLimit"] != 1.5 || body["memoryLimitMB"] != float64(256) {
		t.Errorf("partial update changed memory: %v", body)
	}
	if status, _ = f.do(t, http.MethodPut, "/api/servers/ssh-target-2/resources", map[string]any{}); status != http.StatusBadRequest {
		t.Errorf("empty update = %d", status)
	}

	if status, _ = f.do(t, http.MethodDelete, "/api/servers/docker/ssh-target-2", nil); status != http.StatusOK {
		t.Errorf("delete = %d", status)
	}
	if status, _ = f.do(t, http.MethodGet, "/api/servers/ssh-target-2/inspect", nil); status != http.StatusNotFound {
		t.Errorf("inspect deleted = %d", status)
	}
}

func TestLifecycleRejectsCustomServers(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/servers/legacy-box/stop", nil)
	if status != http.StatusBadRequest || !strings.Contains(body["error"].(string), "custom server") {
		t.Errorf("stop custom = %d %v", status, body)
	}
}

func TestLifecycleByOrdinal(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/servers/3/start", nil)
	if status != http.StatusOK || body["name"] != "web-target-1" {
		t.Errorf("start #3 = %d %v", status, body)
	}
}

func TestServerStatsUsageLogs(t *testing.T) {
	f := newFixture(t)
	f.remote.stats = gateway.Stats{CPUPercent: 12.5, MemoryPercent: 40, Errors: map[string]string{gateway.MetricDisk: "df failed"}}
	f.rt.SetLogs("ssh-target-1", "a\nb\nc\n")

	status, body := f.do(t, http.MethodGet, "/api/servers/1/stats", nil)
	if status != http.StatusOK || body["cpu"] != 12.5 || body["disk"] != float64(0) {
		t.Errorf("stats = %d %v", status, body)
	}
	if errs := body["errors"].(map[string]any); errs[gateway.MetricDisk] != "df failed" {
		t.Errorf("partial stats errors = %v", errs)
	}
	if got := f.remote.targets[0]; got.Host != "ssh-target-1" || got.Port != 22 || got.User != "root" {
		t.Errorf("stats target = %+v", got)
	}

	if status, _ = f.do(t, http.MethodGet, "/api/servers/web-target-1/stats", nil); status != http.StatusBadRequest {
		t.Errorf("stats on stopped server = %d", status)
	}

	status, body = f.do(t, http.MethodGet, "/api/servers/1/usage", nil)
	if status != http.StatusOK || body["cpuPercent"] != 1.5 {
		t.Errorf("usage = %d %v", status, body)
	}

	status, body = f.do(t, http.MethodGet, "/api/servers/1/logs?tail=2", nil)
	if status != http.StatusOK || body["logs"] != "b\nc" {
		t.Errorf("logs = %d %v", status, body)
	}
	if status, _ = f.do(t, http.MethodGet, "/api/servers/1/logs?tail=x", nil); status != http.StatusBadRequest {
		t.Errorf("bad tail = %d", status)
	}
	if status, _ = f.do(t, http.MethodGet, "/api/servers/99/logs", nil); status != http.StatusNotFound {
		t.Errorf("unknown server = %d", status)
	}
}

func TestEngineMissing(t *testing.T) {
	h := New(Options{Registry: registry.New(nil, store.NewMemoryStore(), &config.Config{}, logger.Nop())})
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, "/api/servers/docker", strings.NewReader(`{"name":"x","type":"ssh"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("create without engine = %d", rec.Code)
	}
}

func TestFTPOperations(t *testing.T) {
	f := newFixture(t)
	conn := map[string]any{"server": "ftp-target-1"}
	with := func(extra map[string]any) map[string]any {
		out := map[string]any{}
		for k, v := range conn {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	status, body := f.do(t, http.MethodPost, "/api/ftp/list", with(nil))
	if status != http.StatusOK {
		t.Fatalf("list = %d %v", status, body)
	}
	entries := body["entries"].([]any)
	if len(entries) != 2 || entries[0].(map[string]any)["name"] != "pub" {
		t.Errorf("entries = %v", entries)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/ftp/save", with(map[string]any{"path": "/pub/new.txt", "content": "data"})); status != http.StatusOK {
		t.Errorf("save = %d", status)
	}
	if data, ok := f.ftp.Get("/pub/new.txt"); !ok || string(data) != "data" {
		t.Errorf("saved file = %q %v", data, ok)
	}

	status, body = f.do(t, http.MethodPost, "/api/ftp/read", with(map[string]any{"path": "/pub/new.txt"}))
	if status != http.StatusOK || body["content"] != "data" {
		t.Errorf("read = %d %v", status, body)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/ftp/rename", with(map[string]any{"path": "/pub/new.txt", "newPath": "/pub/old.txt"})); status != http.StatusOK {
		t.Errorf("rename = %d", status)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/ftp/mkdir", with(map[string]any{"path": "/a/b"})); status != http.StatusCreated {
		t.Errorf("mkdir = %d", status)
	}

	status, body = f.do(t, http.MethodPost, "/api/ftp/preview", with(map[string]any{"path": "/readme.txt"}))
	if status != http.StatusOK || !strings.HasPrefix(body["dataUrl"].(string), "data:application/octet-stream;base64,") {
		t.Errorf("preview = %d %v", status, body)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/ftp/delete", with(map[string]any{"path": "/pub/old.txt"})); status != http.StatusOK {
		t.Errorf("delete = %d", status)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/ftp/read", with(map[string]any{"path": "/pub/old.txt"})); status != http.StatusNotFound {
		t.Errorf("read deleted = %d", status)
	}
	if status, _ = f.do(t, http.MethodPost, "/api/ftp/delete", with(nil)); status != http.StatusBadRequest {
		t.Errorf("delete without path = %d", status)
	}
	if f.ftp.OpenConns() != 0 {
		t.Errorf("connections left open: %d", f.ftp.OpenConns())
	}
}

func TestFTPTargetSelection(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/ftp/list", map[string]any{"server": "ssh-target-1"})
	if status != http.StatusBadRequest || !strings.Contains(body["error"].(string), "not a FTP server") {
		t.Errorf("wrong kind = %d %v", status, body)
	}

	status, _ = f.do(t, http.MethodPost, "/api/ftp/list", map[string]any{"host": "files.example", "username": "ftpuser", "password": "ftp123"})
	if status != http.StatusOK {
		t.Errorf("explicit target = %d", status)
	}

	status, body = f.do(t, http.MethodPost, "/api/ftp/list", map[string]any{"host": "files.example", "username": "ftpuser", "password": "nope"})
	if status != http.StatusBadGateway || body["reason"] != string(apperr.ReasonAuthenticationFailed) {
		t.Errorf("bad credentials = %d %v", status, body)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/ftp/list", map[string]any{}); status != http.StatusBadRequest {
		t.Errorf("no target = %d", status)
	}
}

func TestFTPDownload(t *testing.T) {
	f := newFixture(t)
	raw, _ := json.Marshal(map[string]any{"server": "2", "path": "/readme.txt"})
	resp, err := http.Post(f.srv.URL+"/api/ftp/download", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "hello" {
		t.Errorf("download = %d %q", resp.StatusCode, data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="readme.txt"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestFTPUpload(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("server", "ftp-target-1")
	_ = mw.WriteField("path", "/pub")
	fw, err := mw.CreateFormFile("file", "report.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("a,b\n1,2\n"))
	_ = mw.Close()

	resp, err := http.Post(f.srv.URL+"/api/ftp/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload = %d", resp.StatusCode)
	}
	if data, ok := f.ftp.Get("/pub/report.csv"); !ok || string(data) != "a,b\n1,2\n" {
		t.Errorf("uploaded file = %q %v", data, ok)
	}
}

func TestWebEndpoints(t *testing.T) {
	f := newFixture(t)
	f.remote.nginx = true
	f.remote.logs = "GET / 200"

	if status, _ := f.do(t, http.MethodPost, "/api/web/status", map[string]any{"server": "web-target-1"}); status != http.StatusBadRequest {
		t.Errorf("status on stopped server = %d", status)
	}
	f.do(t, http.MethodPost, "/api/servers/web-target-1/start", nil)

	status, body := f.do(t, http.MethodPost, "/api/web/status", map[string]any{"server": "web-target-1"})
	if status != http.StatusOK || body["running"] != true {
		t.Errorf("web status = %d %v", status, body)
	}
	if got := f.remote.targets[0]; got.Host != "web-target-1" || got.Port != 22 {
		t.Errorf("web status must use the shell channel, got %+v", got)
	}

	status, body = f.do(t, http.MethodPost, "/api/web/logs", map[string]any{"server": "web-target-1", "lines": 100000})
	if status != http.StatusOK || body["logs"] != "GET / 200" || body["lines"] != float64(gateway.ClampLogLines(100000)) {
		t.Errorf("web logs = %d %v", status, body)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/web/status", map[string]any{"server": "ftp-target-1"}); status != http.StatusBadRequest {
		t.Errorf("web status on ftp = %d", status)
	}
}

func TestTunnels(t *testing.T) {
	f := newFixture(t)
	target := map[string]any{"host": "localhost", "port": 8080}

	status, body := f.do(t, http.MethodPost, "/api/tunnels", target)
	if status != http.StatusOK || body["url"] != "https://localhost-8080.ngrok.example" {
		t.Fatalf("open = %d %v", status, body)
	}
	f.do(t, http.MethodPost, "/api/tunnels", target)
	if f.opener.opens != 1 {
		t.Errorf("opens = %d, want 1", f.opener.opens)
	}

	_, body = f.do(t, http.MethodGet, "/api/tunnels", nil)
	if list := body["tunnels"].([]any); len(list) != 1 || list[0].(map[string]any)["port"] != float64(8080) {
		t.Errorf("list = %v", body)
	}

	if status, _ = f.do(t, http.MethodDelete, "/api/tunnels", target); status != http.StatusNoContent {
		t.Errorf("close = %d", status)
	}
	if status, _ = f.do(t, http.MethodDelete, "/api/tunnels", target); status != http.StatusNoContent {
		t.Errorf("second close = %d", status)
	}
	_, body = f.do(t, http.MethodGet, "/api/tunnels", nil)
	if len(body["tunnels"].([]any)) != 0 {
		t.Errorf("tunnel not closed: %v", body)
	}

	if status, _ = f.do(t, http.MethodPost, "/api/tunnels", map[string]any{"host": "localhost"}); status != http.StatusBadRequest {
		t.Errorf("missing port = %d", status)
	}
}

func TestTunnelsNotConfigured(t *testing.T) {
	h := New(Options{Tunnels: tunnel.NewManager(&fakeOpener{}, "", logger.Nop())})
	req := httptest.NewRequest(http.MethodPost, "/api/tunnels", strings.NewReader(`{"host":"localhost","port":80}`))
	rec := httptest.NewRecorder()
	h.OpenTunnel(rec, req)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), string(apperr.KindConfigurationMissing)) {
		t.Errorf("open without token = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutesTable(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/routes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var routes []Route
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, r := range routes {
		key := r.Method + " " + r.Path
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
	}
	for _, want := range []string{"GET /api/servers", "POST /api/ftp/upload", "GET /api/terminal/ws", "DELETE /api/tunnels"} {
		if !seen[want] {
			t.Errorf("missing route %s", want)
		}
	}
}
