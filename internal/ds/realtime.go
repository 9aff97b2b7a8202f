package ds

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	fsutil "drivesync/internal/fs"
)

var _ Replicator = (*Synchronizer)(nil)

// ApplyChanges mirrors a debounced batch of Master changes to Backup as one
// realtime operation. Each path is re-examined on disk rather than trusting
// the event type: an existing file is copied, an existing directory is
// mirrored recursively and a missing path is removed from Backup and
// untracked.
func (s *Synchronizer) ApplyChanges(ctx context.Context, groupID, masterRoot, backupRoot string, changes []Change, opts SyncOptions) (*SyncStatistics, error) {
	opts.GroupID = groupID
	opts.OperationType = OperationSync
	opts.Trigger = TriggerRealtime

	r, err := s.start(opts, masterRoot, backupRoot)
	if err != nil {
		return nil, err
	}
	if r.xf, err = newTransform(opts.Advanced); err != nil {
		return r.finish(ctx, err)
	}

	matcher, err := fsutil.LoadMatcher(masterRoot, opts.Ignore)
	if err != nil {
		return r.finish(ctx, fmt.Errorf("loading ignore patterns: %w", err))
	}

	var files []fsutil.File
	for _, c := range changes {
		if ctx.Err() != nil {
			break
		}
		rel := filepath.FromSlash(c.RelativePath)
		if !filepath.IsLocal(rel) || matcher.Match(rel) {
			continue
		}

		src := filepath.Join(masterRoot, rel)
		info, err := os.Lstat(src)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.remove(rel, backupRoot)
		case err != nil:
			r.fail(rel, err)
		case info.Mode().IsRegular():
			files = append(files, fsutil.File{RelativePath: rel, Path: src, Info: info})
		case info.IsDir():
			if matcher.MatchDir(rel) {
				continue
			}
			sub, err := fsutil.Walk(src, matcher, func(path string, err error) {
				s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			})
			if err != nil {
				r.fail(rel, err)
				continue
			}
			for _, f := range sub {
				f.RelativePath = filepath.Join(rel, f.RelativePath)
				files = append(files, f)
			}
		}
	}

	r.total = len(files)
	r.copyAll(ctx, files, backupRoot)
	return r.finish(ctx, nil)
}

// remove deletes the Backup copy of rel, in plain or stored form, and forgets it.
func (r *run) remove(rel, backupRoot string) {
	targets := []string{filepath.Join(backupRoot, rel)}
	if suf := r.xf.suffix(); suf != "" {
		targets = append(targets, filepath.Join(backupRoot, rel+suf))
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			r.fail(rel, err)
			return
		}
	}
	if err := r.s.store.UntrackFile(r.opts.GroupID, trackKey(r.opts.TrackPrefix, rel)); err != nil {
		r.fail(rel, err)
		return
	}
	r.s.logger.Debug("removed from backup", "operation", r.opID, "path", rel)
}

func (r *run) fail(rel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.FilesFailed++
	if len(r.errs) < maxErrorMessages {
		r.errs = append(r.errs, fmt.Sprintf("%s: %v", rel, err))
	}
	r.s.logger.Warn("file failed", "operation", r.opID, "path", rel, "error", err)
}
