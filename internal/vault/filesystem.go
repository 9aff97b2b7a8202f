package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"drivesync/internal/ds"
)

// ErrSnapshotNotFound is returned by GetSnapshot when nothing was stored under
// the requested host and name.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// FileSystemVault keeps catalog snapshots in a directory tree, typically on a
// network share or a third drive:
//
//	<root>/
//	  snapshots/
//	    <hostID>/
//	      <name>          (snapshot bytes)
//	      <name>.version  (decimal version marker)
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		snapshotsDir: snapshotsDir,
	}, nil
}

func (v *FileSystemVault) hostDir(hostID string) (string, error) {
	if err := checkKey(hostID, "host id"); err != nil {
		return "", err
	}
	return filepath.Join(v.snapshotsDir, hostID), nil
}

// checkKey rejects components that would leave the host directory.
func checkKey(s, what string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid %s %q", what, s)
	}
	return nil
}

// PutSnapshot stores a snapshot and its version. The snapshot is replaced
// atomically; the version file is written after it.
func (v *FileSystemVault) PutSnapshot(hostID, name string, r io.Reader, size int64, version int64) error {
	dir, err := v.hostDir(hostID)
	if err != nil {
		return err
	}
	if err := checkKey(name, "snapshot name"); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create host directory: %w", err)
	}

	if err := v.writeFile(filepath.Join(dir, name), r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return v.writeFile(filepath.Join(dir, name+".version"), strings.NewReader(versionData), int64(len(versionData)))
}

// GetSnapshot writes a stored snapshot to w.
func (v *FileSystemVault) GetSnapshot(hostID, name string, w io.Writer) error {
	dir, err := v.hostDir(hostID)
	if err != nil {
		return err
	}
	if err := checkKey(name, "snapshot name"); err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, hostID, name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if no version file exists.
func (v *FileSystemVault) SnapshotVersion(hostID, name string) (int64, error) {
	dir, err := v.hostDir(hostID)
	if err != nil {
		return 0, err
	}
	if err := checkKey(name, "snapshot name"); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(filepath.Join(dir, name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.snapshotsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes r to destPath through a temp file in the same directory
// followed by a rename.
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

var _ ds.CatalogVault = (*FileSystemVault)(nil)
