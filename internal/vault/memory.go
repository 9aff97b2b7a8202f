package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"drivesync/internal/ds"
)

// MemoryVault keeps snapshots in memory. It is safe for concurrent use and is
// mostly useful in tests.
type MemoryVault struct {
	name      string
	snapshots map[string][]byte // "hostID/name" -> snapshot
	versions  map[string]int64
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

func snapshotKey(hostID, name string) string {
	return hostID + "/" + name
}

// PutSnapshot stores a named snapshot for a host.
func (m *MemoryVault) PutSnapshot(hostID, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := snapshotKey(hostID, name)
	m.snapshots[key] = data
	m.versions[key] = version
	return nil
}

// SnapshotVersion returns 0 if nothing has been stored for this host/name.
func (m *MemoryVault) SnapshotVersion(hostID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[snapshotKey(hostID, name)], nil
}

// GetSnapshot writes a stored snapshot to w.
func (m *MemoryVault) GetSnapshot(hostID, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[snapshotKey(hostID, name)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, hostID, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ ds.CatalogVault = (*MemoryVault)(nil)
