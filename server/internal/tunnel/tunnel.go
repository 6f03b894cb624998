// Package tunnel keeps at most one public tunnel per (host, port) pair.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
)

// ErrNoAuthToken is returned when no tunneling credential is configured.
var ErrNoAuthToken = apperr.ConfigurationMissing("open tunnel", "no tunnel auth token configured; only local access is available")

// Handle is a live tunnel.
type Handle interface {
	URL() string
	Close() error
}

// Opener creates tunnels to host:port.
type Opener interface {
	Open(ctx context.Context, host string, port int) (Handle, error)
}

// Key identifies a tunnel target.
type Key struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

// Tunnel describes a live tunnel.
type Tunnel struct {
	Key
	URL      string    `json:"url"`
	OpenedAt time.Time `json:"openedAt"`
}

type entry struct {
	handle   Handle
	openedAt time.Time
}

// Manager owns the process-wide tunnel table.
type Manager struct {
	opener Opener
	token  string
	log    *logger.Logger

	// opening collapses concurrent opens of one key. mu guards only the
	// table and is never held while a tunnel is being established.
	opening singleflight.Group

	mu      sync.Mutex
	tunnels map[Key]*entry
}

// NewManager creates a Manager. An empty token makes Open fail with
// ErrNoAuthToken.
func NewManager(opener Opener, token string, log *logger.Logger) *Manager {
	return &Manager{
		opener:  opener,
		token:   token,
		log:     log.Named("tunnel"),
		tunnels: make(map[Key]*entry),
	}
}

// Configured reports whether tunnels can be opened.
func (m *Manager) Configured() bool {
	return m.token != "" && m.opener != nil
}

// Open returns the URL of the tunnel for host:port, creating it if needed.
// Concurrent opens of one key create a single tunnel.
func (m *Manager) Open(ctx context.Context, host string, port int) (string, error) {
	if !m.Configured() {
		return "", ErrNoAuthToken
	}
	if host == "" || port <= 0 || port > 65535 {
		return "", apperr.InvalidInput("open tunnel", "host and a valid port are required")
	}
	key := Key{Host: host, Port: port}

	if url, ok := m.lookup(key); ok {
		return url, nil
	}

	v, err, _ := m.opening.Do(key.String(), func() (any, error) {
		if url, ok := m.lookup(key); ok {
			return url, nil
		}
		h, err := m.opener.Open(ctx, host, port)
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				return "", err
			}
			return "", apperr.Connection("open tunnel", apperr.ReasonProtocolError, err)
		}
		m.mu.Lock()
		m.tunnels[key] = &entry{handle: h, openedAt: time.Now()}
		m.mu.Unlock()
		m.log.Info("tunnel opened", "target", key.String(), "url", h.URL())
		return h.URL(), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) lookup(key Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tunnels[key]; ok {
		return e.handle.URL(), true
	}
	return "", false
}

// Close closes the tunnel for host:port if one exists.
func (m *Manager) Close(ctx context.Context, host string, port int) error {
	key := Key{Host: host, Port: port}

	m.mu.Lock()
	e, ok := m.tunnels[key]
	delete(m.tunnels, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := e.handle.Close(); err != nil {
		m.log.Warn("tunnel close failed", "target", key.String(), "error", err)
	}
	m.log.Info("tunnel closed", "target", key.String())
	return nil
}

// CloseAll closes every tunnel.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := m.tunnels
	m.tunnels = make(map[Key]*entry)
	m.mu.Unlock()

	for key, e := range all {
		if err := e.handle.Close(); err != nil {
			m.log.Warn("tunnel close failed", "target", key.String(), "error", err)
		}
	}
}

// Get returns the live tunnel for host:port.
func (m *Manager) Get(host string, port int) (*Tunnel, bool) {
	key := Key{Host: host, Port: port}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tunnels[key]
	if !ok {
		return nil, false
	}
	return &Tunnel{Key: key, URL: e.handle.URL(), OpenedAt: e.openedAt}, true
}

// List returns live tunnels ordered by target.
func (m *Manager) List() []Tunnel {
	m.mu.Lock()
	out := make([]Tunnel, 0, len(m.tunnels))
	for key, e := range m.tunnels {
		out = append(out, Tunnel{Key: key, URL: e.handle.URL(), OpenedAt: e.openedAt})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}
