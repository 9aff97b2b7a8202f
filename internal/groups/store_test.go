package groups

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"drivesync/internal/drive"
	"drivesync/internal/ds"
)

const docPath = "/config/groups.yaml"

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (g *seqIDs) New() string {
	g.n++
	return fmt.Sprintf("group-%d", g.n)
}

func newTestStore(t *testing.T, fs afero.Fs) (*Store, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	s, err := Open(fs, docPath, clock, &seqIDs{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s, clock
}

var (
	workMaster = drive.Identity{SerialNumber: "WM1", Label: "WORK", TotalSize: 1_000_000}
	workBackup = drive.Identity{SerialNumber: "WB1", Label: "WORK-BAK", TotalSize: 2_000_000}
	photoA     = drive.Identity{Label: "PHOTOS", TotalSize: 500_000}
	photoB     = drive.Identity{Label: "PHOTOS-BAK", TotalSize: 500_000}
)

func TestStore_CreateAndGet(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, clock := newTestStore(t, fs)

	g, err := s.Create("Work", "daily work files", workMaster, workBackup)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if g.ID != "group-1" {
		t.Errorf("ID = %q, want group-1", g.ID)
	}
	if !g.CreatedAt.Equal(clock.t) || !g.ModifiedAt.Equal(clock.t) {
		t.Errorf("timestamps = %v/%v, want %v", g.CreatedAt, g.ModifiedAt, clock.t)
	}

	byName, _ := s.GetByName("work")
	if byName == nil || byName.ID != g.ID {
		t.Errorf("GetByName(work) = %v, want case-insensitive match", byName)
	}
	byID, _ := s.GetByID(g.ID)
	if byID == nil || byID.Name != "Work" {
		t.Errorf("GetByID() = %v", byID)
	}
	if missing, _ := s.GetByID("nope"); missing != nil {
		t.Errorf("GetByID(nope) = %v, want nil", missing)
	}

	// A second store on the same filesystem sees the persisted document.
	other, _ := newTestStore(t, fs)
	if got := other.List(); len(got) != 1 || got[0].Master != workMaster {
		t.Errorf("reopened List() = %+v", got)
	}
}

func TestStore_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		gname   string
		master  drive.Identity
		backup  drive.Identity
		wantErr error
	}{
		{"empty name", "  ", photoA, photoB, ErrInvalidGroup},
		{"duplicate name", "WORK", photoA, photoB, ErrInvalidGroup},
		{"invalid master", "p", drive.Identity{Label: "", TotalSize: 1}, photoB, ErrInvalidGroup},
		{"invalid backup", "p", photoA, drive.Identity{Label: "X"}, ErrInvalidGroup},
		{"master equals backup", "p", photoA, drive.Identity{Label: "photos", TotalSize: 510_000}, ErrInvalidGroup},
		{"master reused as master", "p", workMaster, photoB, ErrDuplicateAssignment},
		{"backup reused as master", "p", photoA, workMaster, ErrDuplicateAssignment},
		{"existing backup reused", "p", workBackup, photoB, ErrDuplicateAssignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t, afero.NewMemMapFs())
			if _, err := s.Create("work", "", workMaster, workBackup); err != nil {
				t.Fatalf("seed Create() error = %v", err)
			}

			_, err := s.Create(tt.gname, "", tt.master, tt.backup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(s.List()); n != 1 {
				t.Errorf("List() has %d groups after rejected Create, want 1", n)
			}
		})
	}
}

func TestStore_Update(t *testing.T) {
	s, clock := newTestStore(t, afero.NewMemMapFs())
	work, _ := s.Create("work", "", workMaster, workBackup)
	photos, _ := s.Create("photos", "", photoA, photoB)

	t.Run("rename and swap drive", func(t *testing.T) {
		clock.t = clock.t.Add(time.Hour)
		changed := *photos
		changed.Name = "Pictures"
		changed.Backup = drive.Identity{SerialNumber: "NEW", Label: "NEWBAK", TotalSize: 9}

		got, err := s.Update(changed)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.Name != "Pictures" || got.Backup.SerialNumber != "NEW" {
			t.Errorf("Update() = %+v", got)
		}
		if !got.ModifiedAt.Equal(clock.t) || got.CreatedAt.Equal(clock.t) {
			t.Errorf("ModifiedAt/CreatedAt = %v/%v", got.ModifiedAt, got.CreatedAt)
		}
	})

	t.Run("keeps own drives", func(t *testing.T) {
		changed := *work
		changed.Description = "updated"
		if _, err := s.Update(changed); err != nil {
			t.Errorf("Update() with unchanged drives error = %v", err)
		}
	})

	t.Run("rejects drive of another group", func(t *testing.T) {
		changed := *work
		changed.Backup = photoA
		_, err := s.Update(changed)
		if !errors.Is(err, ErrDuplicateAssignment) {
			t.Fatalf("Update() error = %v, want ErrDuplicateAssignment", err)
		}
		got, _ := s.GetByID(work.ID)
		if got.Backup != workBackup {
			t.Errorf("rejected Update mutated the group: %+v", got.Backup)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.Update(ds.DriveGroup{ID: "missing", Name: "x", Master: photoA, Backup: photoB})
		if !errors.Is(err, ds.ErrGroupNotFound) {
			t.Errorf("Update() error = %v, want ErrGroupNotFound", err)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, afero.NewMemMapFs())
	work, _ := s.Create("work", "", workMaster, workBackup)

	if err := s.Delete(work.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("List() not empty after Delete")
	}
	if err := s.Delete(work.ID); !errors.Is(err, ds.ErrGroupNotFound) {
		t.Errorf("second Delete() error = %v, want ErrGroupNotFound", err)
	}

	// The drives are free again.
	if _, err := s.Create("again", "", workMaster, workBackup); err != nil {
		t.Errorf("Create() after Delete error = %v", err)
	}
}

func TestStore_Refresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, _ := newTestStore(t, fs)
	b, _ := newTestStore(t, fs)

	if _, err := a.Create("work", "", workMaster, workBackup); err != nil {
		t.Fatal(err)
	}
	if len(b.List()) != 0 {
		t.Fatal("b should not see the edit before Refresh")
	}
	if err := b.Refresh(); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(b.List()) != 1 {
		t.Errorf("b.List() after Refresh = %d groups, want 1", len(b.List()))
	}
}

func TestStore_MalformedDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, docPath, []byte("groups: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(fs, docPath, &fixedClock{}, &seqIDs{})
	if !errors.Is(err, ErrMalformedDocument) || !errors.Is(err, ds.ErrConfig) {
		t.Errorf("Open() error = %v, want ErrMalformedDocument wrapping ErrConfig", err)
	}
}

func TestStore_FailedWriteKeepsCache(t *testing.T) {
	base := afero.NewMemMapFs()
	s, err := Open(afero.NewReadOnlyFs(base), docPath, &fixedClock{}, &seqIDs{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := s.Create("work", "", workMaster, workBackup); err == nil {
		t.Fatal("Create() on read-only fs expected error")
	}
	if len(s.List()) != 0 {
		t.Error("cache changed after failed write")
	}
}

func TestStore_DocumentShape(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, _ := newTestStore(t, fs)
	if _, err := s.Create("photos", "", photoA, photoB); err != nil {
		t.Fatal(err)
	}

	data, err := afero.ReadFile(fs, docPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"version: 1", "name: photos", "label: PHOTOS", "total_size: 500000"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("document missing %q:\n%s", want, data)
		}
	}
	// Empty serials are omitted.
	if strings.Contains(string(data), "serial_number:") {
		t.Errorf("document should omit empty serial_number:\n%s", data)
	}
}
