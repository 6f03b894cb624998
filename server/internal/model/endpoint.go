package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind is the protocol family of an endpoint.
type Kind string

const (
	KindShell Kind = "shell"
	KindFTP   Kind = "ftp"
	KindWeb   Kind = "web"
)

// Capabilities is the set of operations an endpoint kind supports natively.
type Capabilities struct {
	RunsCommands bool `json:"runs_commands"`
	BrowsesFiles bool `json:"browses_files"`
	ServesHTTP   bool `json:"serves_http"`
}

// ParseKind accepts the canonical kind names and their common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shell", "ssh":
		return KindShell, nil
	case "ftp", "file-transfer":
		return KindFTP, nil
	case "web", "http":
		return KindWeb, nil
	default:
		return "", fmt.Errorf("invalid kind %q", s)
	}
}

// KindFromName derives the kind of a container-backed endpoint from its name.
func KindFromName(name string) Kind {
	switch {
	case strings.Contains(name, "ssh"):
		return KindShell
	case strings.Contains(name, "ftp"):
		return KindFTP
	default:
		return KindWeb
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindShell, KindFTP, KindWeb:
		return true
	}
	return false
}

func (k Kind) Capabilities() Capabilities {
	switch k {
	case KindShell:
		return Capabilities{RunsCommands: true}
	case KindFTP:
		return Capabilities{BrowsesFiles: true}
	case KindWeb:
		return Capabilities{ServesHTTP: true}
	}
	return Capabilities{}
}

// DefaultPort is the primary protocol port for the kind.
func (k Kind) DefaultPort() int {
	switch k {
	case KindShell:
		return 22
	case KindFTP:
		return 21
	case KindWeb:
		return 80
	}
	return 0
}

// ContainerPorts is the port set exposed by a container of this kind.
// Every container image also runs sshd on 22 for control commands.
func (k Kind) ContainerPorts() []int {
	switch k {
	case KindShell:
		return []int{22}
	case KindFTP:
		return []int{21, 22}
	case KindWeb:
		return []int{80, 22}
	}
	return nil
}

func (k Kind) Label() string {
	switch k {
	case KindShell:
		return "SSH"
	case KindFTP:
		return "FTP"
	case KindWeb:
		return "Web"
	}
	return string(k)
}

// Origin tells where an endpoint comes from.
type Origin string

const (
	OriginContainer Origin = "container"
	OriginCustom    Origin = "custom"
)

// State is the lifecycle state of an endpoint.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateUnknown State = "unknown"
)

// Connection is the address and credential set used to reach a protocol.
type Connection struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Credential string `json:"-"`
}

func (c Connection) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Resources holds the limits of a container-backed endpoint.
// Zero means unlimited.
type Resources struct {
	CPULimit      float64 `json:"cpu_limit"`
	MemoryLimitMB int64   `json:"memory_limit_mb"`
}

// Endpoint is one entry of the merged registry view.
type Endpoint struct {
	Ordinal    int          `json:"ordinal"`
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       Kind         `json:"kind"`
	Origin     Origin       `json:"origin"`
	State      State        `json:"state"`
	Status     string       `json:"status"`
	Connection Connection   `json:"connection"`
	Ports      map[int]int  `json:"ports,omitempty"`
	Resources  *Resources   `json:"resources,omitempty"`
	Caps       Capabilities `json:"capabilities"`

	// Control is the shell channel used for stats, logs and service status.
	// Nil when the endpoint offers none.
	Control *Connection `json:"-"`
}

// Running reports whether the endpoint is known to be up. Custom endpoints
// have unknown state and are treated as reachable.
func (e *Endpoint) Running() bool {
	return e.State != StateStopped
}

// Fingerprint is a short digest of the endpoint identifier, used to verify
// that an ordinal still designates the same endpoint.
func (e *Endpoint) Fingerprint() string {
	return Fingerprint(e.ID)
}

// Fingerprint returns the first 8 hex characters of sha256(id).
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}
