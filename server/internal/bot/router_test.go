package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

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
)

type fakeRemote struct {
	mu       sync.Mutex
	commands []string
	targets  []gateway.Target

	output string
	err    error
	stats  gateway.Stats
	nginx  bool
	logs   string
}

func (f *fakeRemote) record(t gateway.Target, cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.targets = append(f.targets, t)
}

func (f *fakeRemote) RunCommand(ctx context.Context, t gateway.Target, command string) (string, error) {
	f.record(t, command)
	return f.output, f.err
}

func (f *fakeRemote) SystemStats(ctx context.Context, t gateway.Target) (*gateway.Stats, error) {
	f.record(t, "stats")
	s := f.stats
	return &s, f.err
}

func (f *fakeRemote) NginxStatus(ctx context.Context, t gateway.Target) (*gateway.WebStatus, error) {
	f.record(t, "nginx")
	return &gateway.WebStatus{Running: f.nginx}, f.err
}

func (f *fakeRemote) AccessLogs(ctx context.Context, t gateway.Target, lines int) (string, error) {
	f.record(t, fmt.Sprintf("logs %d", lines))
	return f.logs, f.err
}

type fakeHandle struct{ url string }

func (h *fakeHandle) URL() string  { return h.url }
func (h *fakeHandle) Close() error { return nil }

type fakeOpener struct {
	mu    sync.Mutex
	opens []string
}

func (o *fakeOpener) Open(ctx context.Context, host string, port int) (tunnel.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens = append(o.opens, fmt.Sprintf("%s:%d", host, port))
	return &fakeHandle{url: fmt.Sprintf("https://%s.ngrok.example", host)}, nil
}

type fixture struct {
	router *Router
	cfg    *config.Config
	rt     *mock.Provider
	ftp    *ftpmock.FTPServer
	remote *fakeRemote
	opener *fakeOpener
}

// newFixture lists ssh-target-1 (#1), ftp-target-1 (#2), web-target-1 (#3)
// and the custom legacy-box (#4).
func newFixture(t *testing.T, tunnelToken string) *fixture {
	t.Helper()
	cfg := &config.Config{
		ShellUser: "root", ShellPassword: "password",
		FTPUser: "ftpuser", FTPPassword: "ftp123",
		LocalWebURL: "http://localhost:8080",
	}

	rt := mock.NewProvider()
	rt.Add("ssh-target-1", model.KindShell, model.StateRunning)
	rt.Add("ftp-target-1", model.KindFTP, model.StateRunning)
	rt.Add("web-target-1", model.KindWeb, model.StateRunning)

	st := store.NewMemoryStore(model.CustomEndpoint{
		ID: "c-1", Name: "legacy-box", Kind: model.KindShell,
		Host: "10.0.0.5", Port: 2222, User: "admin", Credential: "s3cret",
	})

	srv := ftpmock.NewFTPServer("ftpuser", "ftp123")
	srv.Put("/readme.txt", []byte("hello"))
	srv.Put("/docs/a.txt", []byte("aaaa"))
	srv.Mkdir("/pub")

	gw := gateway.New(gateway.Options{LocalStoreDir: t.TempDir(), Logger: logger.Nop()}, gateway.WithFTPDialer(srv.Dialer()))
	opener := &fakeOpener{}
	remote := &fakeRemote{}

	r := NewRouter(Options{
		Registry:    registry.New(rt, st, cfg, logger.Nop()),
		Runtime:     rt,
		Remote:      remote,
		Navigator:   session.NewNavigator(gw, logger.Nop()),
		Tunnels:     tunnel.NewManager(opener, tunnelToken, logger.Nop()),
		LocalWebURL: cfg.LocalWebURL,
		Logger:      logger.Nop(),
	})
	return &fixture{router: r, cfg: cfg, rt: rt, ftp: srv, remote: remote, opener: opener}
}

const chat = int64(42)

func (f *fixture) text(t *testing.T, text string) Reply {
	t.Helper()
	replies := f.router.Handle(context.Background(), Inbound{ChatID: chat, Text: text})
	if len(replies) != 1 {
		t.Fatalf("%q produced %d replies", text, len(replies))
	}
	return replies[0]
}

func (f *fixture) press(t *testing.T, data string) Reply {
	t.Helper()
	replies := f.router.Handle(context.Background(), Inbound{ChatID: chat, Callback: &Callback{ID: "cb", Data: data}})
	if len(replies) != 1 {
		t.Fatalf("callback %q produced %d replies", data, len(replies))
	}
	return replies[0]
}

// button returns the data of the first button whose token has the action.
func button(t *testing.T, r Reply, action string) string {
	t.Helper()
	for _, row := range r.Buttons {
		for _, b := range row {
			if strings.HasPrefix(b.Data, action+":") {
				return b.Data
			}
		}
	}
	t.Fatalf("no %s button in %+v", action, r.Buttons)
	return ""
}

func buttonByText(t *testing.T, r Reply, text string) Button {
	t.Helper()
	for _, row := range r.Buttons {
		for _, b := range row {
			if strings.Contains(b.Text, text) {
				return b
			}
		}
	}
	t.Fatalf("no button labelled %q in %+v", text, r.Buttons)
	return Button{}
}

func TestRouter_WelcomeAndHelp(t *testing.T) {
	f := newFixture(t, "")

	r := f.text(t, "/start")
	if len(r.Keyboard) != 2 || r.Keyboard[0][0] != labelServers || r.Keyboard[1][0] != labelHelp {
		t.Errorf("keyboard = %v", r.Keyboard)
	}
	if !strings.Contains(f.text(t, labelHelp).Text, "/download") {
		t.Error("help label should render help")
	}
	if !strings.Contains(f.text(t, "/help@fleet_bot").Text, "Comandos Disponibles") {
		t.Error("command with bot suffix not recognized")
	}
	if !strings.Contains(f.text(t, "/bogus").Text, "desconocido") {
		t.Error("unknown command should be reported")
	}
}

func TestRouter_StartClearsListing(t *testing.T) {
	f := newFixture(t, "")

	f.text(t, "/ftp 2")
	if r := f.router.Handle(context.Background(), Inbound{ChatID: chat, Text: "/download 1"}); len(r) != 1 || r[0].Document == nil {
		t.Fatalf("download before /start = %+v", r)
	}
	f.text(t, "/start")
	if r := f.text(t, "/download 1"); !strings.Contains(r.Text, "Primero usa /ftp") {
		t.Errorf("download after /start = %s", r.Text)
	}
}

func TestRouter_ServerList(t *testing.T) {
	f := newFixture(t, "")

	r := f.text(t, labelServers)
	for i, name := range []string{"ssh-target-1", "ftp-target-1", "web-target-1", "legacy-box"} {
		if !strings.Contains(r.Text, fmt.Sprintf("*%d.* ", i+1)) || !strings.Contains(r.Text, name) {
			t.Errorf("list missing #%d %s:\n%s", i+1, name, r.Text)
		}
	}
	if len(r.Buttons) != 4 {
		t.Fatalf("buttons = %d rows", len(r.Buttons))
	}
	for _, row := range r.Buttons {
		if len(row[0].Data) > MaxTokenLen || !strings.HasPrefix(row[0].Data, actSelect+":") {
			t.Errorf("bad select token %q", row[0].Data)
		}
	}

	status := f.press(t, r.Buttons[1][0].Data)
	if !strings.Contains(status.Text, "ftp-target-1") || !strings.Contains(status.Text, "FTP - Archivos") {
		t.Errorf("status card = %s", status.Text)
	}
	button(t, status, actFTPList)
	button(t, status, actFTPUpload)
}

func TestRouter_StaleButtonAfterRenumbering(t *testing.T) {
	f := newFixture(t, "")

	list := f.text(t, "/servers")
	ftpSelect := list.Buttons[1][0].Data

	if err := f.rt.Delete(context.Background(), "ssh-target-1"); err != nil {
		t.Fatal(err)
	}
	r := f.press(t, ftpSelect)
	if !strings.HasPrefix(r.Text, "❌ No encontrado") || r.CallbackAnswer == "" {
		t.Errorf("stale button = %+v", r)
	}
	if strings.Contains(r.Text, "web-target-1") {
		t.Error("stale ordinal must not resolve to the endpoint that now holds it")
	}

	if r := f.press(t, "garbage"); r.CallbackAnswer != "Botón no válido" {
		t.Errorf("malformed token answer = %q", r.CallbackAnswer)
	}
}

func TestRouter_Lifecycle(t *testing.T) {
	f := newFixture(t, "")

	if r := f.text(t, "/stop 1"); !strings.Contains(r.Text, "detenido") || strings.HasPrefix(r.Text, "⚠️") {
		t.Errorf("stop = %s", r.Text)
	}
	if r := f.text(t, "/stop ssh-target-1"); r.Text != "⚠️ El servidor ya está detenido." {
		t.Errorf("second stop = %s", r.Text)
	}
	if r := f.text(t, "/ssh 1 uptime"); !strings.Contains(r.Text, "no está en ejecución") {
		t.Errorf("ssh on stopped = %s", r.Text)
	} else {
		button(t, r, actStart)
	}

	r := f.text(t, "/start 1")
	if !strings.Contains(r.Text, "iniciado") {
		t.Errorf("start = %s", r.Text)
	}
	button(t, r, actSSH)
	if r := f.text(t, "/start 1"); r.Text != "⚠️ El servidor ya está en ejecución." {
		t.Errorf("second start = %s", r.Text)
	}
	if r := f.text(t, "/restart web"); !strings.Contains(r.Text, "reiniciado") {
		t.Errorf("restart by substring = %s", r.Text)
	}
	if r := f.text(t, "/stop 4"); !strings.Contains(r.Text, "custom server") {
		t.Errorf("stop custom = %s", r.Text)
	}
	if r := f.text(t, "/stop 9"); !strings.HasPrefix(r.Text, "❌ No encontrado") {
		t.Errorf("stop unknown = %s", r.Text)
	}
}

func TestRouter_SSH(t *testing.T) {
	f := newFixture(t, "")
	f.remote.output = strings.Repeat("x", MaxCommandOutput+100)

	r := f.text(t, "/ssh 1 ls -la /tmp")
	if !r.Markdown || !strings.Contains(r.Text, "`ls -la /tmp`") {
		t.Errorf("ssh reply = %s", r.Text)
	}
	if strings.Count(r.Text, "x") != MaxCommandOutput || !strings.Contains(r.Text, "truncado") {
		t.Error("output should be truncated")
	}
	if f.remote.commands[0] != "ls -la /tmp" || f.remote.targets[0].Host != "ssh-target-1" || f.remote.targets[0].User != "root" {
		t.Errorf("remote call = %v %+v", f.remote.commands, f.remote.targets)
	}

	f.remote.output = ""
	if r := f.text(t, "/ssh legacy-box whoami"); !strings.Contains(r.Text, "(sin salida)") {
		t.Errorf("empty output = %s", r.Text)
	}
	if got := f.remote.targets[1]; got.Host != "10.0.0.5" || got.Port != 2222 || got.Credential != "s3cret" {
		t.Errorf("custom target = %+v", got)
	}

	if r := f.text(t, "/ssh 2 ls"); !strings.Contains(r.Text, "no es de tipo SSH") {
		t.Errorf("wrong kind = %s", r.Text)
	}
	if r := f.text(t, "/ssh 1"); !strings.Contains(r.Text, "Modo SSH") {
		t.Errorf("missing command = %s", r.Text)
	}
}

func TestRouter_Stats(t *testing.T) {
	f := newFixture(t, "")
	f.remote.stats = gateway.Stats{
		CPUPercent:    95,
		MemoryPercent: 55,
		Errors:        map[string]string{gateway.MetricDisk: "df failed"},
	}

	r := f.text(t, "/stats 3")
	if !strings.Contains(r.Text, "🔴 ██████████ *95.0%*") {
		t.Errorf("cpu line missing:\n%s", r.Text)
	}
	if !strings.Contains(r.Text, "🟡 ██████░░░░ *55.0%*") {
		t.Errorf("memory line missing:\n%s", r.Text)
	}
	if !strings.Contains(r.Text, "no disponible") {
		t.Error("failed disk probe should be marked")
	}
	if got := f.remote.targets[0]; got.Port != 22 || got.User != "root" {
		t.Errorf("stats should use the control channel, got %+v", got)
	}
}

func TestRouter_FTPNavigation(t *testing.T) {
	f := newFixture(t, "")

	root := f.text(t, "/ftp 2")
	if !strings.Contains(root.Text, "📁 `docs/`") || !strings.Contains(root.Text, "*1.* 📄 `readme.txt`") {
		t.Fatalf("root listing:\n%s", root.Text)
	}
	if len(root.Buttons) != 2 || len(root.Buttons[0]) != 2 {
		t.Fatalf("buttons = %+v", root.Buttons)
	}
	docs := buttonByText(t, root, "docs").Data
	if strings.Contains(docs, "/") {
		t.Errorf("navigation token carries a path: %s", docs)
	}

	inDocs := f.press(t, docs)
	if !strings.Contains(inDocs.Text, "Ruta: `/docs`") {
		t.Fatalf("after cd:\n%s", inDocs.Text)
	}
	button(t, inDocs, actFTPUp)

	// The root listing's button is stale once /docs is installed.
	if r := f.press(t, docs); !strings.HasPrefix(r.Text, "❌ No encontrado") {
		t.Errorf("stale cd = %s", r.Text)
	}

	dl := f.router.Handle(context.Background(), Inbound{ChatID: chat, Text: "/download 1"})
	if len(dl) != 1 || dl[0].Document == nil {
		t.Fatalf("download replies = %+v", dl)
	}
	data, err := os.ReadFile(dl[0].Document.Path)
	if err != nil || string(data) != "aaaa" || dl[0].Document.Name != "a.txt" || !dl[0].Document.Remove {
		t.Errorf("document = %+v, %q, %v", dl[0].Document, data, err)
	}
	if r := f.text(t, "/download 7"); !strings.Contains(r.Text, "Usa /ftp 2") {
		t.Errorf("missing file = %s", r.Text)
	}

	up := f.router.Handle(context.Background(), Inbound{ChatID: chat, Upload: &Upload{Name: "notes.txt", Data: []byte("n")}})
	if len(up) != 1 || !strings.Contains(up[0].Text, "/docs/notes.txt") {
		t.Errorf("upload = %+v", up)
	}
	if got, ok := f.ftp.Get("/docs/notes.txt"); !ok || string(got) != "n" {
		t.Error("uploaded file missing")
	}

	f.router.now = func() time.Time { return time.UnixMilli(1700000000123) }
	f.router.Handle(context.Background(), Inbound{ChatID: chat, Upload: &Upload{Name: "ignored", Data: []byte("jpg"), IsPhoto: true}})
	if _, ok := f.ftp.Get("/docs/photo_1700000000123.jpg"); !ok {
		t.Error("photo not stored under generated name")
	}

	back := f.press(t, button(t, f.text(t, "/ftp 2 /docs"), actFTPUp))
	if !strings.Contains(back.Text, "Ruta: `/`") {
		t.Errorf("up:\n%s", back.Text)
	}
	refreshed := f.press(t, button(t, back, actFTPRefresh))
	if refreshed.CallbackAnswer == "" || !strings.Contains(refreshed.Text, "readme.txt") {
		t.Errorf("refresh = %+v", refreshed)
	}
}

func TestRouter_TransfersDialCurrentAddress(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.PublishHost = "10.0.0.9"

	f.text(t, "/ftp 2")
	before := f.ftp.LastAddr()
	f.rt.Republish("ftp-target-1", 1000)

	dl := f.router.Handle(context.Background(), Inbound{ChatID: chat, Text: "/download 1"})
	if len(dl) != 1 || dl[0].Document == nil {
		t.Fatalf("download replies = %+v", dl)
	}
	after := f.ftp.LastAddr()
	if after == before {
		t.Fatalf("download dialed the address of the listing: %s", after)
	}
	if !strings.HasPrefix(after, "10.0.0.9:") {
		t.Errorf("download dialed %s", after)
	}

	f.rt.Republish("ftp-target-1", 1000)
	up := f.router.Handle(context.Background(), Inbound{ChatID: chat, Upload: &Upload{Name: "x.txt", Data: []byte("x")}})
	if len(up) != 1 || !strings.Contains(up[0].Text, "/x.txt") {
		t.Fatalf("upload = %+v", up)
	}
	if got := f.ftp.LastAddr(); got == after {
		t.Errorf("upload dialed the stale address %s", got)
	}
}

func TestRouter_TransfersNeedListing(t *testing.T) {
	f := newFixture(t, "")

	if r := f.text(t, "/download 1"); !strings.Contains(r.Text, "Primero usa /ftp") {
		t.Errorf("download without listing = %s", r.Text)
	}
	up := f.router.Handle(context.Background(), Inbound{ChatID: chat, Upload: &Upload{Name: "x", Data: []byte("x")}})
	if !strings.Contains(up[0].Text, "seleccionar un servidor FTP") {
		t.Errorf("upload without listing = %s", up[0].Text)
	}

	f.text(t, "/ftp 2")
	if err := f.rt.Stop(context.Background(), "ftp-target-1"); err != nil {
		t.Fatal(err)
	}
	if r := f.text(t, "/download 1"); !strings.Contains(r.Text, "no está en ejecución") {
		t.Errorf("download from stopped server = %s", r.Text)
	}
}

func TestRouter_WebAndTunnel(t *testing.T) {
	f := newFixture(t, "ngrok-token")
	f.remote.nginx = true

	r := f.text(t, "/web 3")
	if !strings.Contains(r.Text, "🟢 *Estado Nginx:* running") || !strings.Contains(r.Text, "http://localhost:8080") {
		t.Errorf("web card:\n%s", r.Text)
	}
	if r.Buttons[0][0].URL != "https://web-target-1.ngrok.example" {
		t.Errorf("first row = %+v", r.Buttons[0])
	}
	closeTok := button(t, r, actCloseTunnel)

	// Opening again reuses the tunnel.
	f.text(t, "/tunnel 3")
	if len(f.opener.opens) != 1 || f.opener.opens[0] != "web-target-1:80" {
		t.Errorf("opens = %v", f.opener.opens)
	}

	closed := f.press(t, closeTok)
	if closed.CallbackAnswer != "🔒 Túnel cerrado" {
		t.Errorf("close answer = %q", closed.CallbackAnswer)
	}
	button(t, closed, actWebStatus)
	if r := f.text(t, "/close 3"); r.CallbackAnswer == "" {
		t.Error("closing twice should still succeed")
	}

	f.remote.logs = "GET / 200\n"
	if r := f.text(t, "/logs 3"); !strings.Contains(r.Text, "GET / 200") || f.remote.commands[len(f.remote.commands)-1] != "logs 15" {
		t.Errorf("logs = %s", r.Text)
	}
	if r := f.text(t, "/web 1"); !strings.Contains(r.Text, "no es de tipo Web") {
		t.Errorf("wrong kind = %s", r.Text)
	}
}

func TestRouter_WebWithoutTunnelToken(t *testing.T) {
	f := newFixture(t, "")

	r := f.text(t, "/web 3")
	if !strings.Contains(r.Text, "NGROK_AUTHTOKEN") {
		t.Errorf("web card should hint at the token:\n%s", r.Text)
	}
	for _, row := range r.Buttons {
		for _, b := range row {
			if b.URL != "" {
				t.Error("no public URL expected")
			}
		}
	}
	if r := f.text(t, "/tunnel 3"); !strings.HasPrefix(r.Text, "⚙️") {
		t.Errorf("tunnel without token = %s", r.Text)
	}
}

func TestRouter_EngineUnavailable(t *testing.T) {
	f := newFixture(t, "")
	f.rt.ListFunc = func(ctx context.Context) ([]*container.Instance, error) {
		return nil, errors.New("cannot connect to the Docker daemon")
	}

	r := f.text(t, "/servers")
	if !strings.Contains(r.Text, "legacy-box") || !strings.Contains(r.Text, "no disponible") {
		t.Errorf("degraded list:\n%s", r.Text)
	}
	if len(r.Buttons) != 1 {
		t.Errorf("only the custom server should be listed, got %d", len(r.Buttons))
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, "")
	f.router.commands["/boom"] = func(ctx context.Context, chat int64, args string) []Reply {
		panic("boom")
	}
	if r := f.text(t, "/boom"); !strings.Contains(r.Text, "Error interno") {
		t.Errorf("panic reply = %s", r.Text)
	}
}
