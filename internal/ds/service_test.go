package ds_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"drivesync/internal/drive"
	"drivesync/internal/ds"
	"drivesync/internal/groups"
	"drivesync/internal/testutil"
)

var (
	masterID = drive.Identity{SerialNumber: "M-1", Label: "Photos", TotalSize: 1 << 40}
	backupID = drive.Identity{SerialNumber: "B-1", Label: "PhotosBackup", TotalSize: 1 << 40}
)

type serviceFixture struct {
	svc        *ds.Service
	store      ds.TrackingStore
	group      *ds.DriveGroup
	masterRoot string
	backupRoot string
}

// newServiceFixture mounts the given drives in temporary directories.
func newServiceFixture(t *testing.T, mountMaster, mountBackup bool, confirmer ds.Confirmer) *serviceFixture {
	t.Helper()
	clock := testutil.FixedClock()

	gs, err := groups.Open(afero.NewMemMapFs(), "/groups.yaml", clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatal(err)
	}
	g, err := gs.Create("photos", "family photos", masterID, backupID)
	if err != nil {
		t.Fatal(err)
	}

	f := &serviceFixture{group: g, masterRoot: t.TempDir(), backupRoot: t.TempDir()}
	var volumes []drive.Volume
	if mountMaster {
		volumes = append(volumes, drive.Volume{Identity: masterID, MountPoint: f.masterRoot})
	}
	if mountBackup {
		volumes = append(volumes, drive.Volume{Identity: backupID, MountPoint: f.backupRoot})
	}

	f.store = testutil.NewTestStore(t)
	logger := ds.NewNopLogger()
	f.svc = ds.NewService(gs, f.store, drive.NewStaticDetector(volumes...),
		ds.NewSynchronizer(f.store, logger, clock), nil, confirmer, logger, clock)
	return f
}

func confirmWith(answer bool, asked *int) ds.Confirmer {
	return ds.ConfirmerFunc(func(context.Context, ds.DriveGroup) (bool, error) {
		*asked++
		return answer, nil
	})
}

func TestService_ResolveDrive(t *testing.T) {
	tests := []struct {
		name        string
		master      bool
		backup      bool
		answer      bool
		noConfirmer bool
		wantRole    string
		wantAsked   int
		wantReason  string
	}{
		{name: "master connected", master: true, backup: true, wantRole: ds.RoleMaster},
		{name: "master only", master: true, wantRole: ds.RoleMaster},
		{name: "backup confirmed", backup: true, answer: true, wantRole: ds.RoleBackup, wantAsked: 1},
		{name: "backup declined", backup: true, wantAsked: 1, wantReason: "declined"},
		{name: "backup without confirmer", backup: true, noConfirmer: true, wantReason: "not connected"},
		{name: "nothing connected", wantReason: "neither master"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asked := 0
			var c ds.Confirmer
			if !tt.noConfirmer {
				c = confirmWith(tt.answer, &asked)
			}
			f := newServiceFixture(t, tt.master, tt.backup, c)

			res, err := f.svc.ResolveDrive(context.Background(), "photos")
			if err != nil {
				t.Fatalf("ResolveDrive() error = %v", err)
			}
			if asked != tt.wantAsked {
				t.Errorf("confirmer asked %d times, want %d", asked, tt.wantAsked)
			}
			if tt.wantRole != "" {
				if !res.Available || res.Role != tt.wantRole {
					t.Errorf("resolution = %+v, want %s", res, tt.wantRole)
				}
				return
			}
			if res.Available || !strings.Contains(res.Reason, tt.wantReason) {
				t.Errorf("resolution = %+v, want unavailable with %q", res, tt.wantReason)
			}
			if res.MasterLabel != "Photos" || res.BackupLabel != "PhotosBackup" {
				t.Errorf("labels = %q/%q", res.MasterLabel, res.BackupLabel)
			}
		})
	}
}

func TestService_SyncAndRestore(t *testing.T) {
	f := newServiceFixture(t, true, true, nil)
	ctx := context.Background()

	testutil.WriteTree(t, f.masterRoot, testutil.Tree{
		"2024/jan/a.jpg": "jpeg a",
		"2024/feb/b.jpg": "jpeg b",
		"notes.txt":      "n",
	})

	stats, err := f.svc.SyncToBackup(ctx, f.group.ID, "2024", ds.SyncOptions{Incremental: true})
	if err != nil {
		t.Fatalf("SyncToBackup() error = %v", err)
	}
	if stats.FilesCopied != 2 {
		t.Errorf("FilesCopied = %d, want 2", stats.FilesCopied)
	}
	if testutil.Exists(f.backupRoot, "notes.txt") {
		t.Error("file outside the sub path was synced")
	}
	if rec, _ := f.store.GetFile(f.group.ID, "2024/jan/a.jpg"); rec == nil {
		t.Error("sub path sync not tracked under its full relative path")
	}

	t.Run("full sync shares tracking with sub path sync", func(t *testing.T) {
		stats, err := f.svc.SyncToBackup(ctx, "photos", "", ds.SyncOptions{Incremental: true})
		if err != nil {
			t.Fatal(err)
		}
		if stats.FilesCopied != 1 || stats.FilesSkipped != 2 {
			t.Errorf("stats = copied %d skipped %d, want 1/2", stats.FilesCopied, stats.FilesSkipped)
		}
	})

	t.Run("restore to master", func(t *testing.T) {
		os.Remove(filepath.Join(f.masterRoot, "2024", "jan", "a.jpg"))
		stats, err := f.svc.RestoreFromBackup(ctx, "photos", "2024/jan", "", ds.SyncOptions{Incremental: true})
		if err != nil {
			t.Fatal(err)
		}
		if stats.FilesCopied != 1 {
			t.Errorf("FilesCopied = %d, want 1", stats.FilesCopied)
		}
		if got := testutil.ReadTree(t, f.masterRoot)["2024/jan/a.jpg"]; got != "jpeg a" {
			t.Errorf("restored content = %q", got)
		}
		op, _ := f.store.GetOperation(stats.OperationID)
		if op.OperationType != ds.OperationRestore {
			t.Errorf("OperationType = %q, want restore", op.OperationType)
		}
	})

	t.Run("restore elsewhere", func(t *testing.T) {
		target := t.TempDir()
		if _, err := f.svc.RestoreFromBackup(ctx, "photos", "", target, ds.SyncOptions{}); err != nil {
			t.Fatal(err)
		}
		if len(testutil.ReadTree(t, target)) != 3 {
			t.Errorf("restored %v", testutil.ReadTree(t, target).Paths())
		}
	})

	t.Run("history", func(t *testing.T) {
		ops, err := f.svc.GetSyncHistory("photos", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 4 {
			t.Fatalf("got %d operations, want 4", len(ops))
		}
		if ops[0].ID < ops[len(ops)-1].ID {
			t.Error("history not newest first")
		}
		files, err := f.svc.GetOperationFiles(ops[len(ops)-1].ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 1 || files[0].RelativePath != "2024/feb/b.jpg" {
			t.Errorf("files of first operation = %+v", files)
		}
	})

	t.Run("escaping sub path", func(t *testing.T) {
		if _, err := f.svc.SyncToBackup(ctx, "photos", "../etc", ds.SyncOptions{}); err == nil {
			t.Error("expected error for sub path outside the drive")
		}
	})
}

func TestService_MissingDrives(t *testing.T) {
	ctx := context.Background()

	f := newServiceFixture(t, true, false, nil)
	_, err := f.svc.SyncToBackup(ctx, "photos", "", ds.SyncOptions{})
	if !errors.Is(err, ds.ErrDriveNotFound) || !strings.Contains(err.Error(), "PhotosBackup") {
		t.Errorf("SyncToBackup() error = %v, want ErrDriveNotFound naming the backup", err)
	}

	_, err = f.svc.RestoreFromBackup(ctx, "photos", "", "", ds.SyncOptions{})
	if !errors.Is(err, ds.ErrDriveNotFound) {
		t.Errorf("RestoreFromBackup() error = %v, want ErrDriveNotFound", err)
	}

	_, err = f.svc.SyncToBackup(ctx, "nope", "", ds.SyncOptions{})
	if !errors.Is(err, ds.ErrGroupNotFound) {
		t.Errorf("unknown group error = %v, want ErrGroupNotFound", err)
	}

	if err := f.svc.EnableRealtimeSync(ctx, "", "photos", "", 0, ds.SyncOptions{}); err == nil {
		t.Error("EnableRealtimeSync() without a watch manager expected error")
	}
}

func TestService_DeleteGroup(t *testing.T) {
	f := newServiceFixture(t, true, true, nil)
	ctx := context.Background()

	testutil.WriteFile(t, f.masterRoot, "a.txt", "a")
	stats, err := f.svc.SyncToBackup(ctx, "photos", "", ds.SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.DeleteGroup("photos"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, err := f.svc.Group(f.group.ID); !errors.Is(err, ds.ErrGroupNotFound) {
		t.Errorf("Group() after delete error = %v", err)
	}
	if rec, _ := f.store.GetFile(f.group.ID, "a.txt"); rec != nil {
		t.Error("tracked files survived group deletion")
	}
	if op, _ := f.svc.GetOperation(stats.OperationID); op == nil {
		t.Error("operation history removed with the group")
	}
}

func TestService_Conflicts(t *testing.T) {
	f := newServiceFixture(t, true, true, nil)
	ctx := context.Background()

	testutil.WriteFile(t, f.masterRoot, "docs/a.txt", "master")
	testutil.WriteFile(t, f.backupRoot, "docs/a.txt", "backup copy")
	testutil.WriteFile(t, f.backupRoot, "docs/orphan.txt", "o")

	conflicts, err := f.svc.DetectConflicts(ctx, "photos", "docs", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("got %d conflicts, want 2", len(conflicts))
	}

	summary, err := f.svc.ResolveConflicts(ctx, "photos", "docs", map[string]ds.Resolution{
		"a.txt":      ds.ResolveMaster,
		"orphan.txt": ds.ResolveBackup,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Resolved != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if got := testutil.ReadTree(t, f.masterRoot)["docs/orphan.txt"]; got != "o" {
		t.Errorf("orphan not restored to master: %q", got)
	}
}
