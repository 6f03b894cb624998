package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/obot-platform/fleetdeck/server/internal/database"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// DBStore keeps the list in the custom_endpoints table, ordered by Position.
type DBStore struct {
	db *database.DB
}

// NewDBStore creates a DBStore over a migrated database.
func NewDBStore(db *database.DB) *DBStore {
	return &DBStore{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *DBStore) DB() *gorm.DB {
	return s.db.DB
}

func (s *DBStore) Load(ctx context.Context) ([]model.CustomEndpoint, error) {
	var endpoints []model.CustomEndpoint
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("load custom endpoints: %w", err)
	}
	return endpoints, nil
}

// Save replaces the table contents in one transaction.
func (s *DBStore) Save(ctx context.Context, endpoints []model.CustomEndpoint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.CustomEndpoint{}).Error; err != nil {
			return fmt.Errorf("clear custom endpoints: %w", err)
		}
		for i := range endpoints {
			rec := endpoints[i]
			rec.Position = i
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("save custom endpoint %s: %w", rec.Name, err)
			}
		}
		return nil
	})
}

func (s *DBStore) Close() error {
	return s.db.Close()
}
