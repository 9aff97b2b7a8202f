package database

import (
	"fmt"
	"os"
	"path/filepath"

	"drivesync/internal/config"
)

// NewDatabaseFromConfig opens the tracking store selected by the database config.
// The sqlite file is named after the host so catalog snapshots of several hosts
// can share a vault.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(FilePath(cfg, hostID))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// FilePath returns the sqlite file used for hostID, or "" for in-memory databases.
func FilePath(cfg config.DatabaseConfig, hostID string) string {
	if cfg.Type != "sqlite" {
		return ""
	}
	return filepath.Join(cfg.DataDir, hostID+".db")
}
