package testutil

import (
	"testing"

	"drivesync/internal/database"
	"drivesync/internal/ds"
)

// NewTestStore creates a migrated in-memory tracking store.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) ds.TrackingStore {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open tracking store: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
