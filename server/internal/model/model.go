// Package model defines the endpoint types shared across the registry,
// lifecycle manager, gateway and front ends. CustomEndpoint is also the
// persisted record and works with both PostgreSQL and SQLite via GORM.
package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CustomEndpoint is an externally registered endpoint persisted across restarts.
type CustomEndpoint struct {
	ID         string `gorm:"primaryKey;type:text" json:"id" yaml:"id"`
	Name       string `gorm:"not null;type:text" json:"name" yaml:"name"`
	Kind       Kind   `gorm:"not null;type:text" json:"kind" yaml:"kind"`
	Host       string `gorm:"not null;type:text" json:"host" yaml:"host"`
	Port       int    `gorm:"not null" json:"port" yaml:"port"`
	User       string `gorm:"column:username;not null;type:text" json:"user" yaml:"user"`
	Credential string `gorm:"not null;type:text" json:"-" yaml:"credential"`
	Status     string `gorm:"type:text" json:"status" yaml:"status"`
	Position   int    `gorm:"not null;index" json:"-" yaml:"-"`
}

func (CustomEndpoint) TableName() string { return "custom_endpoints" }

func (c *CustomEndpoint) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// CustomStatusLabel is the static status shown for custom endpoints.
const CustomStatusLabel = "custom"

// Endpoint converts the record into its registry view. Custom endpoints carry
// no engine state, so their lifecycle state is unknown.
func (c CustomEndpoint) Endpoint() Endpoint {
	conn := Connection{Host: c.Host, Port: c.Port, User: c.User, Credential: c.Credential}
	ep := Endpoint{
		ID:         c.ID,
		Name:       c.Name,
		Kind:       c.Kind,
		Origin:     OriginCustom,
		State:      StateUnknown,
		Status:     c.Status,
		Connection: conn,
		Caps:       c.Kind.Capabilities(),
	}
	if c.Kind.Capabilities().RunsCommands {
		ctl := conn
		ep.Control = &ctl
	}
	return ep
}

// AllModels returns the models managed by AutoMigrate.
func AllModels() []any {
	return []any{&CustomEndpoint{}}
}
