package ds

import (
	"context"
	"io"
	"time"

	"drivesync/internal/drive"
)

// TrackingStore records sync operations and the synchronized state of every
// file. It is shared by manual, scheduled and realtime syncs, so
// implementations must be safe for concurrent use. Every write is durable
// before the method returns.
type TrackingStore interface {
	// StartOperation inserts an in_progress operation and returns its id.
	// GroupID, OperationType, Trigger, SourcePath, DestinationPath and StartedAt are used.
	StartOperation(op SyncOperation) (int64, error)

	// CompleteOperation closes an in_progress operation. Completing an
	// operation twice is an error.
	CompleteOperation(id int64, result OperationResult) error

	// GetOperation returns nil if the operation does not exist.
	GetOperation(id int64) (*SyncOperation, error)

	// TrackFile upserts the record keyed by (GroupID, RelativePath).
	TrackFile(rec FileRecord) error

	// GetFile returns nil if the path is not tracked.
	GetFile(groupID, relativePath string) (*FileRecord, error)

	// UntrackFile removes the record for relativePath and any records below it.
	UntrackFile(groupID, relativePath string) error

	// NeedsSync reports whether a file must be copied. Untracked paths and
	// size changes always need a sync. A changed mtime needs a sync unless
	// checksum is non-empty and equals the stored checksum.
	NeedsSync(groupID, relativePath string, size int64, modTime time.Time, checksum string) (bool, error)

	// History returns the most recent operations of a group, newest first.
	History(groupID string, limit int) ([]*SyncOperation, error)

	// OperationFiles returns the files whose current record was written by the operation.
	OperationFiles(operationID int64) ([]*FileRecord, error)

	// ClearGroup forgets every tracked file of the group. Operation history is kept.
	ClearGroup(groupID string) error

	MaxOperationID() (int64, error)
	BackupTo(destPath string) error
	CheckMigrations() error
	Close() error
}

// GroupStore persists storage groups. Readers see a cached copy and must call
// Refresh to observe edits made by other processes.
type GroupStore interface {
	Create(name, description string, master, backup drive.Identity) (*DriveGroup, error)
	Update(group DriveGroup) (*DriveGroup, error)
	Delete(id string) error

	// GetByID and GetByName return nil when no group matches. Names compare case-insensitively.
	GetByID(id string) (*DriveGroup, error)
	GetByName(name string) (*DriveGroup, error)

	List() []DriveGroup
	Refresh() error
}

// CatalogVault stores snapshots of the tracking database away from the host,
// so the audit history survives the loss of the machine.
type CatalogVault interface {
	// PutSnapshot stores a named snapshot for a host. size is the number of
	// bytes that will be read from r; version is stored alongside it.
	PutSnapshot(hostID, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes a stored snapshot to w.
	GetSnapshot(hostID, name string, w io.Writer) error

	// SnapshotVersion returns 0 when nothing was stored yet.
	SnapshotVersion(hostID, name string) (int64, error)

	ValidateSetup() error
}

// Notification statuses.
const (
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"
)

// Notifier receives the outcome of every asynchronous sync (realtime batch or
// scheduled job). It is injected by the owner of the engine.
type Notifier interface {
	Notify(groupID, status, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(groupID, status, message string)

func (f NotifierFunc) Notify(groupID, status, message string) { f(groupID, status, message) }

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string, string) {}

// Confirmer asks the operator whether the Backup drive may stand in for a
// disconnected Master.
type Confirmer interface {
	ConfirmBackupFallback(ctx context.Context, group DriveGroup) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, group DriveGroup) (bool, error)

func (f ConfirmerFunc) ConfirmBackupFallback(ctx context.Context, group DriveGroup) (bool, error) {
	return f(ctx, group)
}
