package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"drivesync/internal/ds"
)

var (
	ErrAlreadyWatching = errors.New("watcher id already in use")
	ErrNotWatching     = errors.New("no watcher with that id")
)

// Manager is the registry of realtime watchers, keyed by caller-chosen id.
type Manager struct {
	clock     clockwork.Clock
	logger    ds.Logger
	notifier  ds.Notifier
	newSource SourceFactory

	mu       sync.Mutex
	watchers map[string]*Watcher
}

var _ ds.WatchManager = (*Manager)(nil)

// NewManager creates a Manager backed by fsnotify.
func NewManager(clock clockwork.Clock, logger ds.Logger, notifier ds.Notifier) *Manager {
	return NewManagerWithSource(clock, logger, notifier, NewFSNotifyFactory(logger))
}

// NewManagerWithSource creates a Manager that takes events from newSource.
func NewManagerWithSource(clock clockwork.Clock, logger ds.Logger, notifier ds.Notifier, newSource SourceFactory) *Manager {
	if notifier == nil {
		notifier = ds.NopNotifier{}
	}
	return &Manager{
		clock:     clock,
		logger:    logger,
		notifier:  notifier,
		newSource: newSource,
		watchers:  make(map[string]*Watcher),
	}
}

// StartWatching registers and starts a watcher. Both roots must be set and
// the watched directory must exist.
func (m *Manager) StartWatching(ctx context.Context, req ds.WatchRequest) error {
	if req.ID == "" {
		return fmt.Errorf("watcher id must not be empty")
	}
	if req.MasterRoot == "" || req.BackupRoot == "" {
		return fmt.Errorf("%w: watcher %s needs both master and backup roots", ds.ErrDriveNotFound, req.ID)
	}
	if req.Replicator == nil {
		return fmt.Errorf("watcher %s has no replicator", req.ID)
	}
	root := filepath.Join(req.MasterRoot, req.SubPath)
	if info, err := os.Stat(root); err != nil {
		return fmt.Errorf("watch path: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("watch path is not a directory: %s", root)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[req.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyWatching, req.ID)
	}

	src, err := m.newSource(req)
	if err != nil {
		return fmt.Errorf("creating event source: %w", err)
	}
	w := newWatcher(req, src, m.clock, m.logger, m.notifier)
	if err := w.Start(ctx); err != nil {
		src.Close()
		return err
	}
	m.watchers[req.ID] = w
	return nil
}

// StopWatching stops and unregisters a watcher. The watcher is removed from
// the registry even when it fails to stop in time.
func (m *Manager) StopWatching(id string) error {
	m.mu.Lock()
	w, ok := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatching, id)
	}
	return w.Stop()
}

func (m *Manager) IsWatching(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[id]
	return ok
}

// ListWatchers returns snapshots ordered by id.
func (m *Manager) ListWatchers() []ds.WatcherInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]ds.WatcherInfo, 0, len(m.watchers))
	for _, w := range m.watchers {
		infos = append(infos, w.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StopAll stops every watcher and returns the joined errors.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*Watcher)
	m.mu.Unlock()

	var errs []error
	for id, w := range watchers {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
