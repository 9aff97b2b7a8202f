package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"drivesync/internal/ds"
)

// vaultFactories builds one of each implementation for the shared tests.
func vaultFactories(t *testing.T) map[string]func() ds.CatalogVault {
	t.Helper()
	return map[string]func() ds.CatalogVault{
		"memory":     func() ds.CatalogVault { return NewMemoryVault("test") },
		"filesystem": func() ds.CatalogVault { return newTestFileSystemVault(t) },
		"s3":         func() ds.CatalogVault { return newS3Vault("test", "bucket", "catalog", newFakeS3()) },
	}
}

func newTestFileSystemVault(t *testing.T) *FileSystemVault {
	t.Helper()
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	return v
}

func TestCatalogVault_Snapshots(t *testing.T) {
	for kind, newVault := range vaultFactories(t) {
		t.Run(kind, func(t *testing.T) {
			t.Run("put and get", func(t *testing.T) {
				v := newVault()
				data := "sqlite snapshot bytes"
				if err := v.PutSnapshot("host-1", "tracking.db", strings.NewReader(data), int64(len(data)), 42); err != nil {
					t.Fatalf("PutSnapshot() error = %v", err)
				}

				var buf bytes.Buffer
				if err := v.GetSnapshot("host-1", "tracking.db", &buf); err != nil {
					t.Fatalf("GetSnapshot() error = %v", err)
				}
				if buf.String() != data {
					t.Errorf("snapshot = %q, want %q", buf.String(), data)
				}

				version, err := v.SnapshotVersion("host-1", "tracking.db")
				if err != nil {
					t.Fatalf("SnapshotVersion() error = %v", err)
				}
				if version != 42 {
					t.Errorf("version = %d, want 42", version)
				}
			})

			t.Run("overwrite replaces data and version", func(t *testing.T) {
				v := newVault()
				for i, data := range []string{"version one", "version two"} {
					if err := v.PutSnapshot("host-1", "tracking.db", strings.NewReader(data), int64(len(data)), int64(i+1)); err != nil {
						t.Fatalf("PutSnapshot(%d) error = %v", i, err)
					}
				}

				var buf bytes.Buffer
				if err := v.GetSnapshot("host-1", "tracking.db", &buf); err != nil {
					t.Fatalf("GetSnapshot() error = %v", err)
				}
				if buf.String() != "version two" {
					t.Errorf("snapshot = %q, want %q", buf.String(), "version two")
				}
				if version, _ := v.SnapshotVersion("host-1", "tracking.db"); version != 2 {
					t.Errorf("version = %d, want 2", version)
				}
			})

			t.Run("hosts are isolated", func(t *testing.T) {
				v := newVault()
				if err := v.PutSnapshot("host-1", "tracking.db", strings.NewReader("a"), 1, 7); err != nil {
					t.Fatalf("PutSnapshot() error = %v", err)
				}
				if version, _ := v.SnapshotVersion("host-2", "tracking.db"); version != 0 {
					t.Errorf("host-2 version = %d, want 0", version)
				}
				err := v.GetSnapshot("host-2", "tracking.db", &bytes.Buffer{})
				if !errors.Is(err, ErrSnapshotNotFound) {
					t.Errorf("GetSnapshot() error = %v, want ErrSnapshotNotFound", err)
				}
			})

			t.Run("missing snapshot has version zero", func(t *testing.T) {
				v := newVault()
				version, err := v.SnapshotVersion("host-1", "nothing")
				if err != nil {
					t.Fatalf("SnapshotVersion() error = %v", err)
				}
				if version != 0 {
					t.Errorf("version = %d, want 0", version)
				}
			})

			t.Run("short reader is rejected", func(t *testing.T) {
				v := newVault()
				if err := v.PutSnapshot("host-1", "tracking.db", strings.NewReader("abc"), 10, 1); err == nil {
					t.Error("PutSnapshot() expected size mismatch error")
				}
			})

			t.Run("empty snapshot", func(t *testing.T) {
				v := newVault()
				if err := v.PutSnapshot("host-1", "empty.db", strings.NewReader(""), 0, 1); err != nil {
					t.Fatalf("PutSnapshot() error = %v", err)
				}
				var buf bytes.Buffer
				if err := v.GetSnapshot("host-1", "empty.db", &buf); err != nil {
					t.Fatalf("GetSnapshot() error = %v", err)
				}
				if buf.Len() != 0 {
					t.Errorf("snapshot length = %d, want 0", buf.Len())
				}
			})

			t.Run("validate setup", func(t *testing.T) {
				if err := newVault().ValidateSetup(); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			})
		})
	}
}
