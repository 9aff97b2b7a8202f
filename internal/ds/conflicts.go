package ds

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	fsutil "drivesync/internal/fs"
)

// BackupSuffix is appended to the Backup copy kept by the "both" resolution.
const BackupSuffix = ".backup"

func (s *Synchronizer) tree(root string) (map[string]fsutil.File, error) {
	matcher, err := fsutil.LoadMatcher(root, nil)
	if err != nil {
		return nil, err
	}
	files, err := fsutil.Walk(root, matcher, func(path string, err error) {
		s.logger.Warn("skipping unreadable path", "path", path, "error", err)
	})
	if err != nil {
		return nil, err
	}
	m := make(map[string]fsutil.File, len(files))
	for _, f := range files {
		m[filepath.ToSlash(f.RelativePath)] = f
	}
	return m, nil
}

// DetectConflicts compares the Master and Backup trees without modifying
// either. A file present only on Master is not a conflict. A file present
// only on Backup is deleted_master; different sizes are size_mismatch; equal
// sizes with a newer Backup copy are modified_both. The last rule relies on
// modification times alone and clock skew between machines can trigger it.
// With withChecksums, both checksums are filled in for files on both sides.
func (s *Synchronizer) DetectConflicts(ctx context.Context, masterRoot, backupRoot string, withChecksums bool) ([]FileConflict, error) {
	master, err := s.tree(masterRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning master: %w", err)
	}
	backup, err := s.tree(backupRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning backup: %w", err)
	}

	var conflicts []FileConflict
	for rel, b := range backup {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c := FileConflict{
			RelativePath:  rel,
			BackupModTime: b.Info.ModTime(),
			BackupSize:    b.Info.Size(),
		}

		m, ok := master[rel]
		if !ok {
			c.Type = ConflictDeletedMaster
			conflicts = append(conflicts, c)
			continue
		}
		c.MasterModTime = m.Info.ModTime()
		c.MasterSize = m.Info.Size()

		switch {
		case c.MasterSize != c.BackupSize:
			c.Type = ConflictSizeMismatch
		case c.BackupModTime.After(c.MasterModTime):
			c.Type = ConflictModifiedBoth
		default:
			continue
		}

		if withChecksums {
			if c.MasterChecksum, err = hashFile(m.Path); err != nil {
				return nil, fmt.Errorf("hashing %s: %w", m.Path, err)
			}
			if c.BackupChecksum, err = hashFile(b.Path); err != nil {
				return nil, fmt.Errorf("hashing %s: %w", b.Path, err)
			}
		}
		conflicts = append(conflicts, c)
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].RelativePath < conflicts[j].RelativePath
	})
	return conflicts, nil
}

// ResolveConflicts applies one action per path. Paths are independent: a
// failure is recorded in the summary and the remaining paths are still
// processed. Paths must be relative and stay inside both roots.
func (s *Synchronizer) ResolveConflicts(ctx context.Context, masterRoot, backupRoot string, actions map[string]Resolution) ResolutionSummary {
	var summary ResolutionSummary

	paths := make([]string, 0, len(actions))
	for p := range actions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rel, err))
			continue
		}

		action := actions[rel]
		if action == ResolveSkip {
			summary.Skipped++
			continue
		}

		if err := s.resolveOne(masterRoot, backupRoot, rel, action); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rel, err))
			s.logger.Warn("conflict resolution failed", "path", rel, "action", string(action), "error", err)
			continue
		}
		summary.Resolved++
		s.logger.Info("conflict resolved", "path", rel, "action", string(action))
	}
	return summary
}

func (s *Synchronizer) resolveOne(masterRoot, backupRoot, rel string, action Resolution) error {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return fmt.Errorf("path escapes the group roots")
	}
	masterPath := filepath.Join(masterRoot, local)
	backupPath := filepath.Join(backupRoot, local)

	switch action {
	case ResolveMaster:
		if !exists(masterPath) {
			// Master deleted the file; make Backup agree.
			if err := os.Remove(backupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		}
		return copyPlain(masterPath, backupPath)

	case ResolveBackup:
		if !exists(backupPath) {
			return fmt.Errorf("no backup copy to restore")
		}
		return copyPlain(backupPath, masterPath)

	case ResolveBoth:
		if exists(backupPath) {
			if err := os.Rename(backupPath, backupPath+BackupSuffix); err != nil {
				return fmt.Errorf("keeping backup copy: %w", err)
			}
		}
		if !exists(masterPath) {
			return nil
		}
		return copyPlain(masterPath, backupPath)

	default:
		return fmt.Errorf("unknown resolution %q", action)
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
