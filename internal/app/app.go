package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"drivesync/internal/config"
	"drivesync/internal/database"
	"drivesync/internal/drive"
	"drivesync/internal/ds"
	"drivesync/internal/groups"
	"drivesync/internal/vault"
	"drivesync/internal/watcher"
)

// catalogSnapshotName is the vault name of the tracking database snapshot.
const catalogSnapshotName = "tracking.db"

// DriveSyncApp is the application layer between the CLI and ds.Service.
// It constructs all dependencies from config and manages the tracking
// database lifecycle on Close.
type DriveSyncApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	vault    ds.CatalogVault
	groups   *groups.Store
	watchers *watcher.Manager
	service  *ds.Service
	logger   ds.Logger
	notifier ds.Notifier
	inv      *Invocation
	logFile  *os.File
}

// Options carries the interactive pieces the CLI injects.
type Options struct {
	// Confirmer decides Backup fallback when a Master is missing. Nil means
	// fallback is always declined.
	Confirmer ds.Confirmer
	// Out receives notifications from background syncs. Defaults to stderr.
	Out io.Writer
	// Fs backs the group store. Defaults to the OS filesystem.
	Fs afero.Fs
	// Detector overrides the detector selected by the config.
	Detector drive.Detector
}

// NewDriveSyncApp creates a fully wired app from the given config. command
// names the CLI command being run. The caller must call Close when done.
func NewDriveSyncApp(cfg *config.Config, command string, opts Options) (*DriveSyncApp, error) {
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	inv := NewInvocation(command, ds.RealClock{})
	slogger, logFile, err := newLogger(cfg.LogDir, inv.RunID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := build(cfg, inv, logger, opts)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func build(cfg *config.Config, inv *Invocation, logger ds.Logger, opts Options) (*DriveSyncApp, error) {
	detector := opts.Detector
	if detector == nil {
		var err error
		if detector, err = newDetector(cfg.Drives); err != nil {
			return nil, err
		}
	}

	groupStore, err := groups.Open(opts.Fs, cfg.GroupsFile, ds.RealClock{}, ds.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("opening groups file: %w", err)
	}

	v, err := vault.NewVaultFromConfig(context.Background(), cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("creating catalog vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	if err := checkCatalogVersion(db, v, cfg.HostID); err != nil {
		db.Close()
		return nil, err
	}

	notifier := NewNotifier(logger, opts.Out)
	watchers := watcher.NewManager(clockwork.NewRealClock(), logger, notifier)
	synchronizer := ds.NewSynchronizer(db, logger, ds.RealClock{})
	svc := ds.NewService(groupStore, db, detector, synchronizer, watchers, opts.Confirmer, logger, ds.RealClock{})

	return &DriveSyncApp{
		cfg:      cfg,
		db:       db,
		vault:    v,
		groups:   groupStore,
		watchers: watchers,
		service:  svc,
		logger:   logger,
		notifier: notifier,
		inv:      inv,
	}, nil
}

func newDetector(cfg config.DrivesConfig) (drive.Detector, error) {
	switch cfg.Type {
	case "", "lsblk":
		return drive.NewLsblkDetector(), nil
	case "static":
		vols := make([]drive.Volume, 0, len(cfg.Volumes))
		for _, v := range cfg.Volumes {
			vols = append(vols, v.Volume())
		}
		return drive.NewStaticDetector(vols...), nil
	default:
		return nil, fmt.Errorf("unknown drives type: %s", cfg.Type)
	}
}

// Service returns the orchestration layer.
func (a *DriveSyncApp) Service() *ds.Service { return a.service }

// Config returns the loaded configuration.
func (a *DriveSyncApp) Config() *config.Config { return a.cfg }

// Logger returns the app logger.
func (a *DriveSyncApp) Logger() ds.Logger { return a.logger }

// MarkMutated records that the command changed the tracking database, so
// Close uploads a catalog snapshot.
func (a *DriveSyncApp) MarkMutated() { a.inv.MarkMutated() }

// Close stops background work, snapshots the tracking database to the
// catalog vault when the command mutated it, and closes all resources.
func (a *DriveSyncApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.watchers.StopAll())

	if a.inv.Mutated() && a.vault != nil {
		keep(a.snapshotCatalog())
	}
	if err := a.db.Close(); err != nil {
		keep(fmt.Errorf("closing database: %w", err))
	}

	a.logger.Info("command finished", "command", a.inv.Command, "duration", a.inv.Elapsed(ds.RealClock{}).Truncate(time.Millisecond))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
