package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHDialer opens an authenticated SSH client connection.
type SSHDialer func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// DialSSH dials addr and completes the handshake within config.Timeout.
func DialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (c *Client) clientConfig(t Target) *ssh.ClientConfig {
	password := t.Credential
	return &ssh.ClientConfig{
		User: t.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Target containers regenerate host keys on every build.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.timeout,
	}
}

func (c *Client) connectSSH(ctx context.Context, t Target) (*ssh.Client, error) {
	return c.dialSSH(ctx, t.Addr(), c.clientConfig(t))
}

// lockedWriter serializes writes from the stdout and stderr copy goroutines
// so both streams land in one buffer in arrival order.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// RunCommand executes command and returns stdout and stderr interleaved as
// they arrived. A non-zero exit status is not an error.
func (c *Client) RunCommand(ctx context.Context, t Target, command string) (string, error) {
	if err := validateTarget("ssh exec", t); err != nil {
		return "", err
	}

	var out bytes.Buffer
	err := c.observe(ctx, "ssh", "exec", t, func(ctx context.Context) error {
		client, err := c.connectSSH(ctx, t)
		if err != nil {
			return err
		}
		defer client.Close()
		stop := context.AfterFunc(ctx, func() { _ = client.Close() })
		defer stop()

		session, err := client.NewSession()
		if err != nil {
			return err
		}
		defer session.Close()

		w := &lockedWriter{w: &out}
		session.Stdout = w
		session.Stderr = w

		err = session.Run(command)
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &exitErr) || errors.As(err, &missingErr) {
			return nil
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// Shell is an interactive PTY shell. Reads return the merged terminal output
// and io.EOF once the remote side closes.
type Shell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     *io.PipeReader

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// OpenShell starts a login shell on an xterm-256color PTY.
func (c *Client) OpenShell(ctx context.Context, t Target, rows, cols int) (*Shell, error) {
	if err := validateTarget("ssh shell", t); err != nil {
		return nil, err
	}
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	var sh *Shell
	err := c.observe(ctx, "ssh", "shell", t, func(ctx context.Context) error {
		client, err := c.connectSSH(ctx, t)
		if err != nil {
			return err
		}
		session, err := client.NewSession()
		if err != nil {
			_ = client.Close()
			return err
		}

		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
			_ = session.Close()
			_ = client.Close()
			return err
		}

		stdin, err := session.StdinPipe()
		if err != nil {
			_ = session.Close()
			_ = client.Close()
			return err
		}
		pr, pw := io.Pipe()
		w := &lockedWriter{w: pw}
		session.Stdout = w
		session.Stderr = w

		if err := session.Shell(); err != nil {
			_ = session.Close()
			_ = client.Close()
			return err
		}

		sh = &Shell{
			client:  client,
			session: session,
			stdin:   stdin,
			out:     pr,
			done:    make(chan struct{}),
		}
		go func() {
			sh.waitErr = session.Wait()
			_ = pw.Close()
			close(sh.done)
		}()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Shell) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize sends a window-change request.
func (s *Shell) Resize(rows, cols int) error {
	return s.session.WindowChange(rows, cols)
}

// Wait blocks until the remote shell exits.
func (s *Shell) Wait() error {
	<-s.done
	var exitErr *ssh.ExitError
	if errors.As(s.waitErr, &exitErr) {
		return nil
	}
	return s.waitErr
}

// Close tears down the session and the connection. Safe to call repeatedly.
func (s *Shell) Close() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		_ = s.session.Close()
		_ = s.client.Close()
		_ = s.out.Close()
	})
	return nil
}
