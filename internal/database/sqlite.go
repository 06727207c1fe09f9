package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, registry *content.Registry, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("schema registry is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, registry); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or alters every table the API persists.
func Migrate(db *gorm.DB, registry *content.Registry) error {
	models := []any{&users.User{}, &migrationRecord{}}
	models = append(models, registry.Models()...)
	return db.AutoMigrate(models...)
}
