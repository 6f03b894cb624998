// Package session holds the two kinds of long-lived per-client state: shell
// sessions bound to a realtime connection, and file navigation sessions bound
// to a conversational client.
package session

import (
	"context"
	"io"
	"sync"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// ShellState is the lifecycle state of a shell session.
type ShellState int

const (
	ShellClosed ShellState = iota
	ShellConnecting
	ShellEstablished
)

func (s ShellState) String() string {
	switch s {
	case ShellConnecting:
		return "connecting"
	case ShellEstablished:
		return "established"
	default:
		return "closed"
	}
}

// Size is a terminal size in character cells.
type Size struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Stream is a remote interactive shell.
type Stream interface {
	io.ReadWriteCloser
	Resize(rows, cols int) error
}

// waiter is implemented by streams that report how the remote side ended.
// Wait returns nil for a normal exit and the transport error otherwise.
type waiter interface {
	Wait() error
}

// OpenFunc opens a remote shell on target.
type OpenFunc func(ctx context.Context, target model.Connection, size Size) (Stream, error)

// Sink receives shell output in the order the remote produced it.
// Output is never called concurrently for one session.
type Sink interface {
	Output(data []byte)
	Closed(reason string)
}

type shellSession struct {
	connID string
	target model.Connection
	log    *logger.Logger
	sink   Sink

	state  ShellState
	stream Stream

	closeOnce sync.Once
	done      chan struct{}
}

// ShellManager keys shell sessions by connection id. A connection owns at
// most one session.
type ShellManager struct {
	open OpenFunc
	log  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*shellSession
}

// NewShellManager creates a manager that opens shells with open.
func NewShellManager(open OpenFunc, log *logger.Logger) *ShellManager {
	return &ShellManager{
		open:     open,
		log:      log.Named("shell"),
		sessions: make(map[string]*shellSession),
	}
}

// Start opens a shell for connID, replacing any previous one. It returns once
// the session is established; output then flows to sink until either side
// closes.
func (m *ShellManager) Start(ctx context.Context, connID string, target model.Connection, size Size, sink Sink) error {
	const op = "start shell"
	if connID == "" {
		return apperr.InvalidInput(op, "connection id is required")
	}

	s := &shellSession{
		connID: connID,
		target: target,
		log:    m.log.With("conn", connID, "addr", target.Addr()),
		sink:   sink,
		state:  ShellConnecting,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.sessions[connID]
	m.sessions[connID] = s
	m.mu.Unlock()
	if prev != nil {
		m.finish(prev, "replaced by a new session")
	}

	stream, err := m.open(ctx, target, size)
	if err != nil {
		m.mu.Lock()
		if m.sessions[connID] == s {
			delete(m.sessions, connID)
		}
		s.state = ShellClosed
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.sessions[connID] != s {
		m.mu.Unlock()
		_ = stream.Close()
		return apperr.InvalidInput(op, "connection closed while the shell was starting")
	}
	s.stream = stream
	s.state = ShellEstablished
	m.mu.Unlock()

	s.log.Info("shell established")
	go m.pump(s)
	return nil
}

// pump forwards every chunk as it arrives.
func (m *ShellManager) pump(s *shellSession) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.sink.Output(chunk)
		}
		if err != nil {
			reason := "remote closed"
			if err != io.EOF {
				reason = err.Error()
			} else if w, ok := s.stream.(waiter); ok {
				if werr := w.Wait(); werr != nil {
					reason = werr.Error()
				}
			}
			m.finish(s, reason)
			return
		}
	}
}

// finish evicts s and releases its stream. Only the first call has effect.
func (m *ShellManager) finish(s *shellSession, reason string) {
	s.closeOnce.Do(func() {
		m.mu.Lock()
		if m.sessions[s.connID] == s {
			delete(m.sessions, s.connID)
		}
		stream := s.stream
		s.state = ShellClosed
		m.mu.Unlock()

		if stream != nil {
			_ = stream.Close()
		}
		close(s.done)
		s.sink.Closed(reason)
		s.log.Info("shell closed", "reason", reason)
	})
}

func (m *ShellManager) established(connID string) (*shellSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[connID]
	if s == nil || s.state != ShellEstablished {
		return nil, apperr.InvalidInput("shell", "no established shell for this connection")
	}
	return s, nil
}

// Input forwards data to the remote shell.
func (m *ShellManager) Input(connID string, data []byte) error {
	s, err := m.established(connID)
	if err != nil {
		return err
	}
	if _, err := s.stream.Write(data); err != nil {
		m.finish(s, err.Error())
		return apperr.Connection("shell input", apperr.ReasonProtocolError, err)
	}
	return nil
}

// Resize changes the remote terminal size.
func (m *ShellManager) Resize(connID string, size Size) error {
	s, err := m.established(connID)
	if err != nil {
		return err
	}
	if size.Rows <= 0 || size.Cols <= 0 {
		return apperr.InvalidInput("shell resize", "rows and cols must be positive")
	}
	if err := s.stream.Resize(size.Rows, size.Cols); err != nil {
		return apperr.Connection("shell resize", apperr.ReasonProtocolError, err)
	}
	return nil
}

// Close ends the session of connID. Unknown ids are ignored.
func (m *ShellManager) Close(connID string) {
	m.mu.Lock()
	s := m.sessions[connID]
	m.mu.Unlock()
	if s != nil {
		m.finish(s, "client disconnected")
	}
}

// CloseAll ends every session.
func (m *ShellManager) CloseAll() {
	m.mu.Lock()
	all := make([]*shellSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.finish(s, "server shutting down")
	}
}

// State returns the state of connID's session.
func (m *ShellManager) State(connID string) ShellState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.sessions[connID]; s != nil {
		return s.state
	}
	return ShellClosed
}

// Count returns the number of live sessions.
func (m *ShellManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
