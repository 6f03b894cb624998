package gateway_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/gateway/mock"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
)

var demoFTP = gateway.Target{Host: "demo-ftp", Port: 21, User: "ftpuser", Credential: "ftp123"}

func newFTPClient(t *testing.T) (*gateway.Client, *mock.FTPServer) {
	t.Helper()
	srv := mock.NewFTPServer("ftpuser", "ftp123")
	c := gateway.New(gateway.Options{
		LocalStoreDir: t.TempDir(),
		Logger:        logger.Nop(),
	}, gateway.WithFTPDialer(srv.Dialer()))
	return c, srv
}

func TestFTPScenario_UploadListDownloadDelete(t *testing.T) {
	c, srv := newFTPClient(t)
	ctx := context.Background()

	entries, err := c.ListDirectory(ctx, demoFTP, "/")
	if err != nil {
		t.Fatalf("ListDirectory() error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh server listing = %+v, want empty", entries)
	}

	content := []byte("hello from the local store\n")
	local := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(local, content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := c.UploadFromLocalStore(ctx, demoFTP, local, "/a.txt"); err != nil {
		t.Fatalf("UploadFromLocalStore() error: %v", err)
	}

	entries, err = c.ListDirectory(ctx, demoFTP, "/")
	if err != nil {
		t.Fatalf("ListDirectory() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" || entries[0].IsDir {
		t.Fatalf("listing after upload = %+v", entries)
	}

	downloaded, err := c.DownloadToLocalStore(ctx, demoFTP, "/a.txt")
	if err != nil {
		t.Fatalf("DownloadToLocalStore() error: %v", err)
	}
	if filepath.Base(downloaded) != "a.txt" {
		t.Errorf("local name = %s", filepath.Base(downloaded))
	}
	got, err := os.ReadFile(downloaded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("downloaded %q, want %q", got, content)
	}

	if err := c.DeleteFile(ctx, demoFTP, "/a.txt"); err != nil {
		t.Fatalf("DeleteFile() error: %v", err)
	}
	entries, _ = c.ListDirectory(ctx, demoFTP, "/")
	if len(entries) != 0 {
		t.Errorf("listing after delete = %+v", entries)
	}

	if open := srv.OpenConns(); open != 0 {
		t.Errorf("%d connections left open", open)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	c, _ := newFTPClient(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		{"ascii", "server_name example.com;\nlisten 80;\n"},
		{"multibyte", "¡Hola, señor! 日本語のテキスト 🚀\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := "/docs/" + tt.name + ".txt"
			if err := c.MakeDirectory(ctx, demoFTP, "/docs"); err != nil {
				t.Fatalf("MakeDirectory() error: %v", err)
			}
			if err := c.WriteFile(ctx, demoFTP, p, []byte(tt.content)); err != nil {
				t.Fatalf("WriteFile() error: %v", err)
			}
			got, err := c.ReadFile(ctx, demoFTP, p)
			if err != nil {
				t.Fatalf("ReadFile() error: %v", err)
			}
			if string(got) != tt.content {
				t.Errorf("ReadFile() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestListDirectory_Ordering(t *testing.T) {
	c, srv := newFTPClient(t)
	srv.Put("/b.txt", []byte("b"))
	srv.Put("/a.txt", []byte("a"))
	srv.Mkdir("/zeta")
	srv.Mkdir("/alpha")

	entries, err := c.ListDirectory(context.Background(), demoFTP, "")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "alpha,zeta,a.txt,b.txt" {
		t.Errorf("order = %v", names)
	}
}

func TestMakeDirectory_Nested(t *testing.T) {
	c, srv := newFTPClient(t)
	ctx := context.Background()

	if err := c.MakeDirectory(ctx, demoFTP, "/a/b/c"); err != nil {
		t.Fatalf("MakeDirectory() error: %v", err)
	}
	// Existing directories are fine.
	if err := c.MakeDirectory(ctx, demoFTP, "/a/b"); err != nil {
		t.Fatalf("MakeDirectory() on existing dir: %v", err)
	}
	srv.Put("/a/b/c/f.txt", []byte("x"))
	entries, err := c.ListDirectory(ctx, demoFTP, "/a/b/c")
	if err != nil || len(entries) != 1 {
		t.Errorf("nested listing = %+v, %v", entries, err)
	}
}

func TestRenameFile(t *testing.T) {
	c, srv := newFTPClient(t)
	srv.Put("/old.txt", []byte("x"))

	if err := c.RenameFile(context.Background(), demoFTP, "/old.txt", "/new.txt"); err != nil {
		t.Fatalf("RenameFile() error: %v", err)
	}
	if _, ok := srv.Get("/new.txt"); !ok {
		t.Error("renamed file missing")
	}
	if err := c.RenameFile(context.Background(), demoFTP, "/old.txt", ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty destination error = %v", err)
	}
}

func TestReadInline(t *testing.T) {
	c, srv := newFTPClient(t)
	srv.Put("/img/logo.PNG", []byte{0x89, 'P', 'N', 'G'})
	srv.Put("/bin/blob", []byte{0, 1})

	got, err := c.ReadInline(context.Background(), demoFTP, "/img/logo.PNG")
	if err != nil {
		t.Fatalf("ReadInline() error: %v", err)
	}
	if got.MIME != "image/png" || got.DataURL != "data:image/png;base64,iVBORw==" {
		t.Errorf("inline = %+v", got)
	}

	got, _ = c.ReadInline(context.Background(), demoFTP, "/bin/blob")
	if got.MIME != "application/octet-stream" {
		t.Errorf("MIME = %s", got.MIME)
	}
}

func TestReadInline_StopsAtLimit(t *testing.T) {
	c, srv := newFTPClient(t)
	srv.Put("/big.bin", make([]byte, gateway.MaxInlineSize+4096))

	_, err := c.ReadInline(context.Background(), demoFTP, "/big.bin")
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("oversize preview error = %v, want InvalidInput", err)
	}
	if served := srv.BytesServed(); served > gateway.MaxInlineSize+1 {
		t.Errorf("read %d bytes of an oversize file, limit %d", served, gateway.MaxInlineSize)
	}
	if srv.OpenConns() != 0 {
		t.Errorf("%d connections left open", srv.OpenConns())
	}

	srv.Put("/edge.bin", make([]byte, gateway.MaxInlineSize))
	got, err := c.ReadInline(context.Background(), demoFTP, "/edge.bin")
	if err != nil || got.Size != gateway.MaxInlineSize {
		t.Errorf("file at the limit = %v, %v", got, err)
	}
}

func TestClientLogsUnderGatewayName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, err := logger.New(logger.Options{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("logger.New() error: %v", err)
	}
	srv := mock.NewFTPServer("ftpuser", "ftp123")
	srv.DialErr = errors.New("connection refused")
	c := gateway.New(gateway.Options{LocalStoreDir: t.TempDir(), Logger: log}, gateway.WithFTPDialer(srv.Dialer()))

	if _, err := c.ListDirectory(context.Background(), demoFTP, "/"); err == nil {
		t.Fatal("ListDirectory() should fail")
	}
	_ = log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"logger":"gateway"`) || strings.Contains(out, "gateway.gateway") {
		t.Errorf("gateway log lines should be named once:\n%s", out)
	}
}

func TestFTPErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		c, _ := newFTPClient(t)
		_, err := c.ReadFile(ctx, demoFTP, "/nope.txt")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("error = %v, want NotFound", err)
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		c, srv := newFTPClient(t)
		bad := demoFTP
		bad.Credential = "wrong"
		_, err := c.ListDirectory(ctx, bad, "/")
		if !errors.Is(err, apperr.ErrAuthenticationFailed) {
			t.Errorf("error = %v, want AuthenticationFailed", err)
		}
		if srv.OpenConns() != 0 {
			t.Error("connection not closed after failed login")
		}
	})

	t.Run("refused", func(t *testing.T) {
		c, srv := newFTPClient(t)
		srv.DialErr = &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}
		_, err := c.ListDirectory(ctx, demoFTP, "/")
		if !errors.Is(err, apperr.ErrConnectionRefused) || !errors.Is(err, apperr.ErrConnectionFailure) {
			t.Errorf("error = %v, want ConnectionRefused", err)
		}
	})

	t.Run("missing host", func(t *testing.T) {
		c, _ := newFTPClient(t)
		_, err := c.ListDirectory(ctx, gateway.Target{}, "/")
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("error = %v, want InvalidInput", err)
		}
	})
}
