package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
)

// testSSHServer runs an in-process SSH server with canned command replies.
type testSSHServer struct {
	srv  *gliderssh.Server
	addr *net.TCPAddr

	mu      sync.Mutex
	resizes []gliderssh.Window
}

type cannedReply struct {
	stdout string
	stderr string
	exit   int
}

func startSSHServer(t *testing.T, replies map[string]cannedReply) *testSSHServer {
	t.Helper()
	ts := &testSSHServer{}
	ts.srv = &gliderssh.Server{
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			return ctx.User() == "root" && password == "password"
		},
		Handler: func(s gliderssh.Session) {
			if _, winCh, isPty := s.Pty(); isPty {
				go func() {
					for w := range winCh {
						ts.mu.Lock()
						ts.resizes = append(ts.resizes, w)
						ts.mu.Unlock()
					}
				}()
				ts.echoShell(s)
				return
			}
			reply, ok := replies[s.RawCommand()]
			if !ok {
				_, _ = io.WriteString(s.Stderr(), "sh: command not found\n")
				_ = s.Exit(127)
				return
			}
			if reply.stdout != "" {
				_, _ = io.WriteString(s, reply.stdout)
			}
			if reply.stderr != "" {
				_, _ = io.WriteString(s.Stderr(), reply.stderr)
			}
			_ = s.Exit(reply.exit)
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ts.addr = ln.Addr().(*net.TCPAddr)
	go func() { _ = ts.srv.Serve(ln) }()
	t.Cleanup(func() { _ = ts.srv.Close() })
	return ts
}

// echoShell echoes each input line and exits on "exit".
func (ts *testSSHServer) echoShell(s gliderssh.Session) {
	_, _ = io.WriteString(s, "$ ")
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := s.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line = append(line, b)
				continue
			}
			if string(line) == "exit" {
				_ = s.Exit(0)
				return
			}
			_, _ = fmt.Fprintf(s, "echo:%s\n$ ", line)
			line = line[:0]
		}
	}
}

func (ts *testSSHServer) target() Target {
	return Target{Host: "127.0.0.1", Port: ts.addr.Port, User: "root", Credential: "password"}
}

func newTestClient(timeout time.Duration) *Client {
	return New(Options{ConnectTimeout: timeout, Logger: logger.Nop()})
}

func TestRunCommand(t *testing.T) {
	ts := startSSHServer(t, map[string]cannedReply{
		"hostname": {stdout: "ssh-target-1\n"},
		"mixed":    {stdout: "out\n", stderr: "err\n", exit: 2},
	})
	c := newTestClient(2 * time.Second)
	ctx := context.Background()

	out, err := c.RunCommand(ctx, ts.target(), "hostname")
	if err != nil {
		t.Fatalf("RunCommand() error: %v", err)
	}
	if out != "ssh-target-1\n" {
		t.Errorf("output = %q", out)
	}

	out, err = c.RunCommand(ctx, ts.target(), "mixed")
	if err != nil {
		t.Fatalf("non-zero exit should not fail: %v", err)
	}
	if !strings.Contains(out, "out\n") || !strings.Contains(out, "err\n") {
		t.Errorf("combined output = %q", out)
	}
}

func TestRunCommand_Failures(t *testing.T) {
	ts := startSSHServer(t, nil)

	t.Run("authentication", func(t *testing.T) {
		c := newTestClient(2 * time.Second)
		target := ts.target()
		target.Credential = "nope"
		_, err := c.RunCommand(context.Background(), target, "true")
		if !errors.Is(err, apperr.ErrAuthenticationFailed) {
			t.Errorf("error = %v, want AuthenticationFailed", err)
		}
	})

	t.Run("refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		_ = ln.Close()

		c := newTestClient(2 * time.Second)
		_, err = c.RunCommand(context.Background(), Target{Host: "127.0.0.1", Port: port, User: "root", Credential: "x"}, "true")
		if !errors.Is(err, apperr.ErrConnectionRefused) {
			t.Errorf("error = %v, want ConnectionRefused", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		// Accepts but never speaks SSH.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		defer ln.Close()
		go func() {
			var held []net.Conn
			defer func() {
				for _, c := range held {
					_ = c.Close()
				}
			}()
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				held = append(held, conn)
			}
		}()

		c := newTestClient(200 * time.Millisecond)
		start := time.Now()
		_, err = c.RunCommand(context.Background(), Target{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, User: "root", Credential: "x"}, "true")
		if !errors.Is(err, apperr.ErrTimeout) {
			t.Errorf("error = %v, want Timeout", err)
		}
		if time.Since(start) > 3*time.Second {
			t.Errorf("call took %v, connect timeout not applied", time.Since(start))
		}
	})

	t.Run("custom dialer", func(t *testing.T) {
		c := New(Options{Logger: logger.Nop()}, WithSSHDialer(func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
			return nil, errors.New("ssh: handshake failed: EOF")
		}))
		_, err := c.RunCommand(context.Background(), ts.target(), "true")
		if !errors.Is(err, apperr.ErrProtocol) {
			t.Errorf("error = %v, want ProtocolError", err)
		}
	})
}

func TestSystemStats(t *testing.T) {
	ts := startSSHServer(t, map[string]cannedReply{
		cpuCommand:    {stdout: "12.5\n"},
		memoryCommand: {stdout: "40.00"},
		diskCommand:   {stdout: "", stderr: "df: /: no such device\n", exit: 1},
	})
	c := newTestClient(2 * time.Second)

	stats, err := c.SystemStats(context.Background(), ts.target())
	if err != nil {
		t.Fatalf("SystemStats() error: %v", err)
	}
	if stats.CPUPercent != 12.5 || stats.MemoryPercent != 40 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DiskPercent != 0 || stats.Errors[MetricDisk] == "" {
		t.Errorf("disk failure should degrade to 0 and be reported: %+v", stats)
	}
	if !stats.Partial() {
		t.Error("Partial() = false")
	}
}

func TestNginxStatusAndLogs(t *testing.T) {
	tail := func(n int) string { return "tail -n " + strconv.Itoa(n) + " " + accessLogPath }
	ts := startSSHServer(t, map[string]cannedReply{
		nginxStatusCommand:          {stdout: " * nginx is running\n"},
		tail(5):                     {stdout: "GET / 200\n"},
		tail(MaxAccessLogLines):     {stdout: "many\n"},
		tail(DefaultAccessLogLines): {stdout: "default\n"},
	})
	c := newTestClient(2 * time.Second)
	ctx := context.Background()

	st, err := c.NginxStatus(ctx, ts.target())
	if err != nil {
		t.Fatalf("NginxStatus() error: %v", err)
	}
	if !st.Running {
		t.Errorf("status = %+v", st)
	}

	for lines, want := range map[int]string{5: "GET / 200\n", 9999: "many\n", 0: "default\n"} {
		out, err := c.AccessLogs(ctx, ts.target(), lines)
		if err != nil || out != want {
			t.Errorf("AccessLogs(%d) = %q, %v; want %q", lines, out, err, want)
		}
	}
}

func TestOpenShell(t *testing.T) {
	ts := startSSHServer(t, nil)
	c := newTestClient(2 * time.Second)

	sh, err := c.OpenShell(context.Background(), ts.target(), 30, 100)
	if err != nil {
		t.Fatalf("OpenShell() error: %v", err)
	}
	defer sh.Close()

	if _, err := sh.Write([]byte("ls\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := sh.Resize(40, 120); err != nil {
		t.Fatalf("Resize() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		ts.mu.Lock()
		n := len(ts.resizes)
		var last gliderssh.Window
		if n > 0 {
			last = ts.resizes[n-1]
		}
		ts.mu.Unlock()
		if n > 0 && last.Height == 40 && last.Width == 120 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resize not observed, got %d events", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := sh.Write([]byte("exit\n")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	out, err := io.ReadAll(sh)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if !bytes.Contains(out, []byte("echo:ls")) {
		t.Errorf("shell output = %q", out)
	}
	if err := sh.Wait(); err != nil {
		t.Errorf("Wait() error: %v", err)
	}

	if err := sh.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12.5\n", 12.5, false},
		{"43%", 43, false},
		{"  7 ", 7, false},
		{"", 0, true},
		{"n/a", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePercent(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePercent(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, apperr.ErrTimeout},
		{"auth text", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]"), apperr.ErrAuthenticationFailed},
		{"dns", &net.DNSError{Err: "no such host", Name: "ftp-target-9"}, apperr.ErrConnectionRefused},
		{"other", errors.New("ssh: unexpected packet"), apperr.ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) || !errors.Is(got, apperr.ErrConnectionFailure) {
				t.Errorf("classify(%v) = %v", tt.err, got)
			}
		})
	}

	if classify("op", nil) != nil {
		t.Error("nil should stay nil")
	}
	pre := apperr.InvalidInput("x", "y")
	if classify("op", pre) != pre {
		t.Error("classified errors pass through")
	}
}
