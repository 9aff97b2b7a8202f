package ds

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"drivesync/internal/drive"
)

// Service is the orchestration layer used by the CLI, the scheduler and the
// daemon. It resolves groups to connected drives and drives the Synchronizer.
type Service struct {
	groups    GroupStore
	store     TrackingStore
	detector  drive.Detector
	sync      *Synchronizer
	watchers  WatchManager
	confirmer Confirmer
	logger    Logger
	clock     Clock
}

// NewService creates a Service with the provided dependencies. watchers and
// confirmer may be nil; realtime sync and Backup fallback are then unavailable.
func NewService(groups GroupStore, store TrackingStore, detector drive.Detector, sync *Synchronizer, watchers WatchManager, confirmer Confirmer, logger Logger, clock Clock) *Service {
	return &Service{
		groups:    groups,
		store:     store,
		detector:  detector,
		sync:      sync,
		watchers:  watchers,
		confirmer: confirmer,
		logger:    logger,
		clock:     clock,
	}
}

// Groups

func (s *Service) CreateGroup(name, description string, master, backup drive.Identity) (*DriveGroup, error) {
	g, err := s.groups.Create(name, description, master, backup)
	if err != nil {
		return nil, err
	}
	s.logger.Info("group created", "group", g.ID, "name", g.Name, "master", g.Master.String(), "backup", g.Backup.String())
	return g, nil
}

func (s *Service) UpdateGroup(group DriveGroup) (*DriveGroup, error) {
	g, err := s.groups.Update(group)
	if err != nil {
		return nil, err
	}
	s.logger.Info("group updated", "group", g.ID, "name", g.Name)
	return g, nil
}

// DeleteGroup stops the group's watchers, removes the group and forgets its
// tracked files. The operation history is kept.
func (s *Service) DeleteGroup(ref string) error {
	g, err := s.Group(ref)
	if err != nil {
		return err
	}

	if s.watchers != nil {
		for _, w := range s.watchers.ListWatchers() {
			if w.GroupID == g.ID {
				if err := s.watchers.StopWatching(w.ID); err != nil {
					s.logger.Warn("stopping watcher", "watcher", w.ID, "error", err)
				}
			}
		}
	}

	if err := s.groups.Delete(g.ID); err != nil {
		return err
	}
	if err := s.store.ClearGroup(g.ID); err != nil {
		return fmt.Errorf("clearing tracked files: %w", err)
	}
	s.logger.Info("group deleted", "group", g.ID, "name", g.Name)
	return nil
}

// Group finds a group by id, then by name.
func (s *Service) Group(ref string) (*DriveGroup, error) {
	g, err := s.groups.GetByID(ref)
	if err != nil {
		return nil, err
	}
	if g == nil {
		if g, err = s.groups.GetByName(ref); err != nil {
			return nil, err
		}
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, ref)
	}
	return g, nil
}

func (s *Service) ListGroups() []DriveGroup {
	return s.groups.List()
}

// Drives

// ConnectedVolumes lists the volumes currently reported by the detector.
func (s *Service) ConnectedVolumes(ctx context.Context) ([]drive.Volume, error) {
	return s.detector.Volumes(ctx)
}

// locate returns the mount points of the group's drives; empty when not connected.
func (s *Service) locate(ctx context.Context, g *DriveGroup) (master, backup string, err error) {
	volumes, err := s.detector.Volumes(ctx)
	if err != nil {
		return "", "", fmt.Errorf("listing volumes: %w", err)
	}
	if v, ok := drive.Locate(volumes, g.Master); ok {
		master = v.MountPoint
	}
	if v, ok := drive.Locate(volumes, g.Backup); ok {
		backup = v.MountPoint
	}
	return master, backup, nil
}

// ResolveRoots returns the mount points of both drives, or ErrDriveNotFound
// naming the missing drive.
func (s *Service) ResolveRoots(ctx context.Context, g *DriveGroup) (string, string, error) {
	master, backup, err := s.locate(ctx, g)
	if err != nil {
		return "", "", err
	}
	if master == "" {
		return "", "", fmt.Errorf("%w: master %q of group %q", ErrDriveNotFound, g.Master.Label, g.Name)
	}
	if backup == "" {
		return "", "", fmt.Errorf("%w: backup %q of group %q", ErrDriveNotFound, g.Backup.Label, g.Name)
	}
	return master, backup, nil
}

// ResolveDrive returns the root to work on for a group. Master is preferred.
// When only Backup is connected the Confirmer must approve the fallback; it
// is never taken silently.
func (s *Service) ResolveDrive(ctx context.Context, ref string) (*DriveResolution, error) {
	g, err := s.Group(ref)
	if err != nil {
		return nil, err
	}
	master, backup, err := s.locate(ctx, g)
	if err != nil {
		return nil, err
	}

	res := &DriveResolution{MasterLabel: g.Master.Label, BackupLabel: g.Backup.Label}
	switch {
	case master != "":
		res.Available, res.Root, res.Role = true, master, RoleMaster
	case backup != "":
		if s.confirmer == nil {
			res.Reason = fmt.Sprintf("master drive %q is not connected", g.Master.Label)
			break
		}
		ok, err := s.confirmer.ConfirmBackupFallback(ctx, *g)
		if err != nil {
			return nil, fmt.Errorf("confirming backup fallback: %w", err)
		}
		if ok {
			res.Available, res.Root, res.Role = true, backup, RoleBackup
			s.logger.Warn("using backup drive", "group", g.ID, "backup", g.Backup.Label)
		} else {
			res.Reason = fmt.Sprintf("master drive %q is not connected and backup fallback was declined", g.Master.Label)
		}
	default:
		res.Reason = fmt.Sprintf("%v: neither master %q nor backup %q is connected", ErrDriveNotFound, g.Master.Label, g.Backup.Label)
	}
	return res, nil
}

// Sync and restore

func cleanSubPath(subPath string) (string, error) {
	if subPath == "" || subPath == "." {
		return "", nil
	}
	local := filepath.Clean(filepath.FromSlash(subPath))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path %q must be relative to the drive root", subPath)
	}
	return local, nil
}

// SyncToBackup copies Master/subPath to Backup/subPath.
func (s *Service) SyncToBackup(ctx context.Context, ref, subPath string, opts SyncOptions) (*SyncStatistics, error) {
	g, err := s.Group(ref)
	if err != nil {
		return nil, err
	}
	sub, err := cleanSubPath(subPath)
	if err != nil {
		return nil, err
	}
	master, backup, err := s.ResolveRoots(ctx, g)
	if err != nil {
		return nil, err
	}

	opts.GroupID = g.ID
	opts.OperationType = OperationSync
	opts.TrackPrefix = filepath.ToSlash(sub)
	return s.sync.SyncDirectory(ctx, filepath.Join(master, sub), filepath.Join(backup, sub), opts)
}

// RestoreFromBackup copies Backup/subPath to targetPath, or back to
// Master/subPath when targetPath is empty. Restores always verify checksums
// and always overwrite.
func (s *Service) RestoreFromBackup(ctx context.Context, ref, subPath, targetPath string, opts SyncOptions) (*SyncStatistics, error) {
	g, err := s.Group(ref)
	if err != nil {
		return nil, err
	}
	sub, err := cleanSubPath(subPath)
	if err != nil {
		return nil, err
	}
	master, backup, err := s.locate(ctx, g)
	if err != nil {
		return nil, err
	}
	if backup == "" {
		return nil, fmt.Errorf("%w: backup %q of group %q", ErrDriveNotFound, g.Backup.Label, g.Name)
	}

	opts.GroupID = g.ID
	opts.OperationType = OperationRestore
	opts.VerifyChecksums = true
	opts.Incremental = false
	opts.SkipExisting = false

	dest := targetPath
	if dest == "" {
		if master == "" {
			return nil, fmt.Errorf("%w: master %q of group %q", ErrDriveNotFound, g.Master.Label, g.Name)
		}
		dest = filepath.Join(master, sub)
		opts.TrackPrefix = filepath.ToSlash(sub)
	} else {
		opts.SkipTracking = true
	}
	return s.sync.SyncDirectory(ctx, filepath.Join(backup, sub), dest, opts)
}

// Conflicts

func (s *Service) DetectConflicts(ctx context.Context, ref, subPath string, withChecksums bool) ([]FileConflict, error) {
	g, err := s.Group(ref)
	if err != nil {
		return nil, err
	}
	sub, err := cleanSubPath(subPath)
	if err != nil {
		return nil, err
	}
	master, backup, err := s.ResolveRoots(ctx, g)
	if err != nil {
		return nil, err
	}
	return s.sync.DetectConflicts(ctx, filepath.Join(master, sub), filepath.Join(backup, sub), withChecksums)
}

func (s *Service) ResolveConflicts(ctx context.Context, ref, subPath string, actions map[string]Resolution) (ResolutionSummary, error) {
	g, err := s.Group(ref)
	if err != nil {
		return ResolutionSummary{}, err
	}
	sub, err := cleanSubPath(subPath)
	if err != nil {
		return ResolutionSummary{}, err
	}
	master, backup, err := s.ResolveRoots(ctx, g)
	if err != nil {
		return ResolutionSummary{}, err
	}
	summary := s.sync.ResolveConflicts(ctx, filepath.Join(master, sub), filepath.Join(backup, sub), actions)
	s.logger.Info("conflicts resolved", "group", g.ID, "resolved", summary.Resolved, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// Realtime

// EnableRealtimeSync starts a watcher mirroring Master/subPath to Backup.
// An empty id defaults to the group id.
func (s *Service) EnableRealtimeSync(ctx context.Context, id, ref, subPath string, debounce time.Duration, opts SyncOptions) error {
	if s.watchers == nil {
		return fmt.Errorf("realtime sync is not available")
	}
	g, err := s.Group(ref)
	if err != nil {
		return err
	}
	sub, err := cleanSubPath(subPath)
	if err != nil {
		return err
	}
	master, backup, err := s.ResolveRoots(ctx, g)
	if err != nil {
		return err
	}
	if id == "" {
		id = g.ID
	}

	return s.watchers.StartWatching(ctx, WatchRequest{
		ID:         id,
		GroupID:    g.ID,
		MasterRoot: master,
		BackupRoot: backup,
		SubPath:    sub,
		Debounce:   debounce,
		Options:    opts,
		Replicator: s.sync,
	})
}

func (s *Service) DisableRealtimeSync(id string) error {
	if s.watchers == nil {
		return fmt.Errorf("realtime sync is not available")
	}
	return s.watchers.StopWatching(id)
}

func (s *Service) ListRealtimeWatchers() []WatcherInfo {
	if s.watchers == nil {
		return nil
	}
	return s.watchers.ListWatchers()
}

// History

func (s *Service) GetSyncHistory(ref string, limit int) ([]*SyncOperation, error) {
	g, err := s.Group(ref)
	if err != nil {
		return nil, err
	}
	return s.store.History(g.ID, limit)
}

func (s *Service) GetOperation(id int64) (*SyncOperation, error) {
	return s.store.GetOperation(id)
}

func (s *Service) GetOperationFiles(id int64) ([]*FileRecord, error) {
	return s.store.OperationFiles(id)
}
