package ds

import (
	"errors"

	"drivesync/internal/drive"
	"drivesync/internal/encryption"
)

var (
	// ErrDuplicateAssignment is returned when a drive is already the Master or
	// Backup of another storage group.
	ErrDuplicateAssignment = errors.New("drive already assigned to another group")

	// ErrInvalidGroup is returned for groups that can never be valid: an empty
	// or duplicate name, a malformed identity, or Master matching Backup.
	ErrInvalidGroup = errors.New("invalid storage group")

	// ErrGroupNotFound is returned when a group id or name is unknown.
	ErrGroupNotFound = errors.New("storage group not found")

	// ErrChecksumMismatch marks a copied file whose content does not match its source.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrStore marks tracking store failures. Use errors.Is(err, ErrStore).
	ErrStore = errors.New("tracking store failure")

	// ErrConfig marks malformed configuration documents.
	ErrConfig = errors.New("invalid configuration")

	// ErrDriveNotFound is re-exported so callers of the service only need this package.
	ErrDriveNotFound = drive.ErrDriveNotFound

	// ErrDecryptionFailure is re-exported for the same reason.
	ErrDecryptionFailure = encryption.ErrDecryptionFailure
)

// StoreError wraps an underlying tracking store failure with the operation
// that caused it. It matches ErrStore under errors.Is.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
