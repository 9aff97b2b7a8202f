package ds

import (
	"time"

	"drivesync/internal/compress"
	"drivesync/internal/drive"
	"drivesync/internal/encryption"
)

// DriveGroup pairs a Master drive with the Backup drive that mirrors it.
// Master and Backup never match each other.
type DriveGroup struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Master      drive.Identity `yaml:"master"`
	Backup      drive.Identity `yaml:"backup"`
	CreatedAt   time.Time      `yaml:"created_at"`
	ModifiedAt  time.Time      `yaml:"modified_at"`
}

// Operation types recorded in the tracking store.
const (
	OperationSync    = "sync"
	OperationRestore = "restore"
)

// Operation statuses. An operation starts in_progress and is completed exactly once.
const (
	StatusInProgress          = "in_progress"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// What started an operation.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerRealtime  = "realtime"
)

// SyncOperation is the audit record of one sync or restore run.
type SyncOperation struct {
	ID              int64
	GroupID         string
	OperationType   string
	Trigger         string
	SourcePath      string
	DestinationPath string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          string
	FilesCopied     int
	BytesCopied     int64
	DurationSeconds float64
	ErrorMessage    string
}

// OperationResult closes out a SyncOperation.
type OperationResult struct {
	Status       string
	FilesCopied  int
	BytesCopied  int64
	Duration     time.Duration
	CompletedAt  time.Time
	ErrorMessage string
}

// FileRecord is the last synchronized state of one file in a group.
// FileSize and LastModified describe the source file; Checksum is the
// SHA-256 of its content.
type FileRecord struct {
	GroupID         string
	RelativePath    string
	FileSize        int64
	Checksum        string
	LastSynced      time.Time
	LastModified    time.Time
	SyncOperationID int64
}

// ConflictType classifies how Master and Backup diverge for a path.
type ConflictType string

const (
	ConflictModifiedBoth  ConflictType = "modified_both"
	ConflictDeletedMaster ConflictType = "deleted_master"
	ConflictSizeMismatch  ConflictType = "size_mismatch"
)

// FileConflict describes one diverging path. It is computed on demand and never stored.
type FileConflict struct {
	RelativePath   string
	Type           ConflictType
	MasterModTime  time.Time
	BackupModTime  time.Time
	MasterSize     int64
	BackupSize     int64
	MasterChecksum string
	BackupChecksum string
}

// Resolution is the action applied to a conflicting path.
type Resolution string

const (
	ResolveMaster Resolution = "master"
	ResolveBackup Resolution = "backup"
	ResolveSkip   Resolution = "skip"
	ResolveBoth   Resolution = "both"
)

// ParseResolution validates a user supplied resolution action.
func ParseResolution(s string) (Resolution, bool) {
	switch r := Resolution(s); r {
	case ResolveMaster, ResolveBackup, ResolveSkip, ResolveBoth:
		return r, true
	}
	return "", false
}

// ResolutionSummary reports the outcome of ResolveConflicts.
type ResolutionSummary struct {
	Resolved int
	Failed   int
	Skipped  int
	Errors   []string
}

// SyncStatistics is returned by every sync call.
type SyncStatistics struct {
	OperationID       int64
	Status            string
	FilesCopied       int
	FilesSkipped      int
	FilesFailed       int
	BytesCopied       int64
	ConflictsDetected int
	StartTime         time.Time
	EndTime           time.Time
	// Savings is set when compression savings were requested.
	Savings *compress.Savings
}

// Duration returns the wall time of the run.
func (s *SyncStatistics) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// ProgressEvent is emitted after each file is processed.
type ProgressEvent struct {
	FilesDone  int
	FilesTotal int
	BytesDone  int64
	// Speed is the average throughput of the run so far, in bytes per second.
	Speed float64
	Path  string
}

// ProgressFunc receives progress events. It is called from copy goroutines
// and must be safe for concurrent use when Parallel > 1.
type ProgressFunc func(ProgressEvent)

// CompressionOptions selects a compression codec for stored files.
type CompressionOptions struct {
	Type  string // "", "gzip" or "zstd"
	Level int
}

// AdvancedSyncOptions configures the optional transforms of the copy path.
type AdvancedSyncOptions struct {
	// BandwidthLimit in bytes per second. Zero means unlimited.
	BandwidthLimit int64
	Encryption     encryption.Options
	Compression    CompressionOptions
	// Parallel is the number of files copied concurrently. Values below 2 copy sequentially.
	Parallel      int
	ReportSavings bool
}

// SyncOptions controls a single SyncDirectory run.
type SyncOptions struct {
	GroupID       string
	OperationType string
	Trigger       string

	Incremental     bool
	VerifyChecksums bool
	SkipExisting    bool

	// Ignore holds extra ignore patterns on top of the source's .syncignore.
	Ignore []string

	// TrackPrefix is prepended to every relative path recorded in the tracking
	// store, so syncing a subdirectory shares records with a full sync.
	TrackPrefix string

	// SkipTracking records the operation but no file records. Used for
	// restores into a directory other than the Master root.
	SkipTracking bool

	Advanced AdvancedSyncOptions
	Progress ProgressFunc
}

// DriveResolution is the outcome of ResolveDrive.
type DriveResolution struct {
	Available   bool
	Root        string
	Role        string // "master" or "backup"
	MasterLabel string
	BackupLabel string
	Reason      string
}

// Volume roles.
const (
	RoleMaster = "master"
	RoleBackup = "backup"
)
