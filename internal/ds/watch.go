package ds

import (
	"context"
	"time"
)

// ChangeOp is the last file-system event observed for a path.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeModify ChangeOp = "modify"
	ChangeRemove ChangeOp = "remove"
	ChangeRename ChangeOp = "rename"
)

// Change is one debounced path handed to a Replicator. RelativePath is
// relative to the Master root.
type Change struct {
	RelativePath string
	Op           ChangeOp
}

// Replicator applies a batch of Master changes to the Backup tree.
type Replicator interface {
	ApplyChanges(ctx context.Context, groupID, masterRoot, backupRoot string, changes []Change, opts SyncOptions) (*SyncStatistics, error)
}

// Watcher states.
const (
	WatchIdle     = "idle"
	WatchWatching = "watching"
	WatchStopped  = "stopped"
)

// WatchRequest starts realtime mirroring of MasterRoot/SubPath to BackupRoot/SubPath.
type WatchRequest struct {
	ID         string
	GroupID    string
	MasterRoot string
	BackupRoot string
	SubPath    string
	Debounce   time.Duration
	Options    SyncOptions
	Replicator Replicator
}

// WatcherInfo is a snapshot of a registered watcher.
type WatcherInfo struct {
	ID        string
	GroupID   string
	Path      string
	State     string
	Debounce  time.Duration
	StartedAt time.Time
	Batches   int
	Dropped   int
}

// WatchManager owns the registry of realtime watchers.
type WatchManager interface {
	StartWatching(ctx context.Context, req WatchRequest) error
	StopWatching(id string) error
	IsWatching(id string) bool
	ListWatchers() []WatcherInfo
	StopAll() error
}
