package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"drivesync/internal/config"
	"drivesync/internal/database"
	"drivesync/internal/ds"
	"drivesync/internal/vault"
)

// checkCatalogVersion refuses to run against a local database that is older
// than the snapshot stored in the vault.
func checkCatalogVersion(db *database.SQLiteDatabase, v ds.CatalogVault, hostID string) error {
	if v == nil {
		return nil
	}
	remote, err := v.SnapshotVersion(hostID, catalogSnapshotName)
	if err != nil {
		return fmt.Errorf("checking catalog version: %w", err)
	}
	local, err := db.MaxOperationID()
	if err != nil {
		return fmt.Errorf("checking local catalog version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("local database is behind catalog vault (local=%d, remote=%d): run 'drivesync catalog restore'", local, remote)
	}
	return nil
}

// snapshotCatalog copies the tracking database with VACUUM INTO and uploads
// it with the highest operation id as its version.
func (a *DriveSyncApp) snapshotCatalog() error {
	version, err := a.db.MaxOperationID()
	if err != nil {
		return fmt.Errorf("reading catalog version: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "drivesync-catalog-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for catalog snapshot: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, catalogSnapshotName)
	if err := a.db.BackupTo(tmpPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("opening catalog snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog snapshot: %w", err)
	}
	if err := a.vault.PutSnapshot(a.cfg.HostID, catalogSnapshotName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading catalog snapshot: %w", err)
	}
	a.logger.Info("catalog snapshot stored", "version", version, "bytes", info.Size())
	return nil
}

// CatalogStatus reports the local and remote catalog versions. remote is 0
// when no vault is configured or nothing was stored yet.
func CatalogStatus(ctx context.Context, cfg *config.Config) (local, remote int64, err error) {
	v, err := vault.NewVaultFromConfig(ctx, cfg.Catalog)
	if err != nil {
		return 0, 0, fmt.Errorf("creating catalog vault: %w", err)
	}
	if v != nil {
		if err := v.ValidateSetup(); err != nil {
			return 0, 0, err
		}
		if remote, err = v.SnapshotVersion(cfg.HostID, catalogSnapshotName); err != nil {
			return 0, 0, fmt.Errorf("checking catalog version: %w", err)
		}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return 0, 0, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if local, err = db.MaxOperationID(); err != nil {
		return 0, 0, err
	}
	return local, remote, nil
}

// RestoreCatalog replaces the local tracking database with the snapshot
// stored in the catalog vault. It must run while no other command holds the
// database open. It returns the version of the restored snapshot.
func RestoreCatalog(ctx context.Context, cfg *config.Config) (int64, error) {
	dbPath := database.FilePath(cfg.Database, cfg.HostID)
	if dbPath == "" {
		return 0, fmt.Errorf("catalog restore needs a sqlite database")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Catalog)
	if err != nil {
		return 0, fmt.Errorf("creating catalog vault: %w", err)
	}
	if v == nil {
		return 0, fmt.Errorf("no catalog vault configured")
	}

	version, err := v.SnapshotVersion(cfg.HostID, catalogSnapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking catalog version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("catalog vault holds no snapshot for host %s", cfg.HostID)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return 0, fmt.Errorf("creating data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dbPath), ".restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := v.GetSnapshot(cfg.HostID, catalogSnapshotName, tmp); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("downloading catalog snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing catalog snapshot: %w", err)
	}

	// Opening the download migrates and checks it before it replaces anything.
	check, err := database.NewSQLiteDatabase(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("catalog snapshot is not a usable database: %w", err)
	}
	if err := check.Close(); err != nil {
		return 0, fmt.Errorf("closing catalog snapshot: %w", err)
	}

	for _, stale := range []string{dbPath + "-wal", dbPath + "-shm", tmpPath + "-wal", tmpPath + "-shm"} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("removing %s: %w", stale, err)
		}
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		return 0, fmt.Errorf("replacing database: %w", err)
	}
	return version, nil
}
