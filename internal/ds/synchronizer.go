package ds

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drivesync/internal/compress"
	fsutil "drivesync/internal/fs"
	"drivesync/internal/throttle"
)

// maxErrorMessages bounds the per-file errors kept in an operation's error message.
const maxErrorMessages = 5

// Synchronizer replicates directory trees and records every operation and
// copied file in the tracking store. One Synchronizer is shared by manual,
// scheduled and realtime syncs.
type Synchronizer struct {
	store  TrackingStore
	logger Logger
	clock  Clock
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(store TrackingStore, logger Logger, clock Clock) *Synchronizer {
	return &Synchronizer{store: store, logger: logger, clock: clock}
}

// run holds the state of one operation.
type run struct {
	s       *Synchronizer
	opID    int64
	opts    SyncOptions
	xf      *transform
	plain   *transform
	th      *throttle.Throttler
	restore bool

	mu    sync.Mutex
	stats SyncStatistics
	total int
	errs  []string
}

func (s *Synchronizer) start(opts SyncOptions, source, destination string) (*run, error) {
	if opts.OperationType == "" {
		opts.OperationType = OperationSync
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	now := s.clock.Now()
	id, err := s.store.StartOperation(SyncOperation{
		GroupID:         opts.GroupID,
		OperationType:   opts.OperationType,
		Trigger:         opts.Trigger,
		SourcePath:      source,
		DestinationPath: destination,
		StartedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("starting operation: %w", err)
	}

	r := &run{
		s:       s,
		opID:    id,
		opts:    opts,
		plain:   &transform{},
		th:      throttle.New(opts.Advanced.BandwidthLimit),
		restore: opts.OperationType == OperationRestore,
		stats:   SyncStatistics{OperationID: id, StartTime: now},
	}
	if opts.Advanced.ReportSavings && opts.Advanced.Compression.Type != "" {
		r.stats.Savings = &compress.Savings{}
	}
	return r, nil
}

// finish completes the operation row. opErr marks an operation-level failure.
func (r *run) finish(ctx context.Context, opErr error) (*SyncStatistics, error) {
	r.mu.Lock()
	r.stats.EndTime = r.s.clock.Now()
	stats := r.stats
	errs := append([]string(nil), r.errs...)
	r.mu.Unlock()

	status := StatusCompleted
	msg := strings.Join(errs, "; ")
	switch {
	case opErr != nil:
		status = StatusFailed
		msg = opErr.Error()
	case ctx.Err() != nil:
		status = StatusCancelled
		msg = ctx.Err().Error()
	case stats.FilesFailed > 0:
		status = StatusCompletedWithErrors
		if stats.FilesFailed > len(errs) {
			msg = fmt.Sprintf("%s (and %d more)", msg, stats.FilesFailed-len(errs))
		}
	}
	stats.Status = status

	err := r.s.store.CompleteOperation(r.opID, OperationResult{
		Status:       status,
		FilesCopied:  stats.FilesCopied,
		BytesCopied:  stats.BytesCopied,
		Duration:     stats.Duration(),
		CompletedAt:  stats.EndTime,
		ErrorMessage: msg,
	})
	if err != nil {
		r.s.logger.Error("completing operation", "operation", r.opID, "error", err)
		if opErr == nil {
			opErr = fmt.Errorf("completing operation: %w", err)
		}
	}

	r.s.logger.Info("operation finished",
		"operation", r.opID,
		"group", r.opts.GroupID,
		"type", r.opts.OperationType,
		"status", status,
		"copied", stats.FilesCopied,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"bytes", stats.BytesCopied,
	)

	if opErr != nil {
		return &stats, opErr
	}
	if status == StatusCancelled {
		return &stats, ctx.Err()
	}
	return &stats, nil
}

// SyncDirectory replicates every regular file below source into destination.
//
// The operation is recorded before any validation, so failures are visible in
// the history. Per-file failures are counted and do not stop the run. On
// cancellation the partial statistics are returned together with ctx.Err().
// For restores, stored names are decoded back to plaintext names and
// Incremental is ignored.
func (s *Synchronizer) SyncDirectory(ctx context.Context, source, destination string, opts SyncOptions) (*SyncStatistics, error) {
	r, err := s.start(opts, source, destination)
	if err != nil {
		return nil, err
	}
	s.logger.Info("operation started", "operation", r.opID, "group", opts.GroupID,
		"type", r.opts.OperationType, "trigger", r.opts.Trigger, "source", source, "destination", destination)

	if r.xf, err = newTransform(opts.Advanced); err != nil {
		return r.finish(ctx, err)
	}

	info, err := os.Stat(source)
	if err != nil {
		return r.finish(ctx, fmt.Errorf("source: %w", err))
	}
	if !info.IsDir() {
		return r.finish(ctx, fmt.Errorf("source is not a directory: %s", source))
	}
	if err := os.MkdirAll(destination, 0755); err != nil {
		return r.finish(ctx, fmt.Errorf("creating destination: %w", err))
	}

	matcher, err := fsutil.LoadMatcher(source, opts.Ignore)
	if err != nil {
		return r.finish(ctx, fmt.Errorf("loading ignore patterns: %w", err))
	}
	files, err := fsutil.Walk(source, matcher, func(path string, err error) {
		s.logger.Warn("skipping unreadable path", "path", path, "error", err)
	})
	if err != nil {
		return r.finish(ctx, err)
	}

	r.total = len(files)
	r.copyAll(ctx, files, destination)
	return r.finish(ctx, nil)
}

// copyAll processes files sequentially, or Parallel at a time.
func (r *run) copyAll(ctx context.Context, files []fsutil.File, destRoot string) {
	limit := r.opts.Advanced.Parallel
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.processFile(ctx, f, destRoot)
			return nil
		})
	}
	g.Wait()
}

// processFile copies one file and updates the run statistics.
func (r *run) processFile(ctx context.Context, f fsutil.File, destRoot string) {
	copied, bytes, err := r.copyOne(ctx, f, destRoot)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err != nil:
		r.stats.FilesFailed++
		if len(r.errs) < maxErrorMessages {
			r.errs = append(r.errs, fmt.Sprintf("%s: %v", f.RelativePath, err))
		}
		r.s.logger.Warn("file failed", "operation", r.opID, "path", f.RelativePath, "error", err)
	case copied:
		r.stats.FilesCopied++
		r.stats.BytesCopied += bytes
	default:
		r.stats.FilesSkipped++
	}

	if r.opts.Progress != nil {
		done := r.stats.FilesCopied + r.stats.FilesSkipped + r.stats.FilesFailed
		elapsed := r.s.clock.Now().Sub(r.stats.StartTime).Seconds()
		var speed float64
		if elapsed > 0 {
			speed = float64(r.stats.BytesCopied) / elapsed
		}
		r.opts.Progress(ProgressEvent{
			FilesDone:  done,
			FilesTotal: r.total,
			BytesDone:  r.stats.BytesCopied,
			Speed:      speed,
			Path:       filepath.ToSlash(f.RelativePath),
		})
	}
}

// copyOne returns whether the file was copied and how many plaintext bytes were moved.
func (r *run) copyOne(ctx context.Context, f fsutil.File, destRoot string) (bool, int64, error) {
	if r.restore {
		return r.restoreOne(ctx, f, destRoot)
	}

	key := trackKey(r.opts.TrackPrefix, f.RelativePath)
	dst := filepath.Join(destRoot, f.RelativePath+r.xf.suffix())
	size := f.Info.Size()
	mtime := f.Info.ModTime()

	_, statErr := os.Lstat(dst)
	dstExists := statErr == nil

	if r.opts.SkipExisting && dstExists {
		return false, 0, nil
	}

	if r.opts.Incremental && dstExists && !r.opts.SkipTracking {
		need, err := r.needsSync(key, f.Path, size, mtime)
		if err != nil {
			return false, 0, err
		}
		if !need {
			return false, 0, nil
		}
	}

	if dstExists && r.xf.identity() {
		if dinfo, err := os.Stat(dst); err == nil && dinfo.Size() == size && dinfo.ModTime().After(mtime) {
			r.mu.Lock()
			r.stats.ConflictsDetected++
			r.mu.Unlock()
			r.s.logger.Warn("overwriting newer backup copy", "path", key)
		}
	}

	src, err := os.Open(f.Path)
	if err != nil {
		return false, 0, err
	}
	defer src.Close()

	// A file that has started is finished; cancellation is honoured between files.
	h := newHash()
	plain := io.TeeReader(throttle.NewReader(context.WithoutCancel(ctx), src, r.th), h)

	stored, err := writeAtomic(dst, f.Info.Mode().Perm(), fsutil.AccessTime(f.Info), mtime, func(w io.Writer) error {
		return r.xf.encode(plain, w)
	})
	if err != nil {
		return false, 0, err
	}
	checksum := hexSum(h)

	if r.opts.VerifyChecksums {
		got, err := hashDecoded(dst, r.xf)
		if err != nil {
			return false, 0, fmt.Errorf("verifying: %w", err)
		}
		if got != checksum {
			return false, 0, fmt.Errorf("%w: source %s, destination %s", ErrChecksumMismatch, checksum, got)
		}
	}

	if r.stats.Savings != nil {
		r.mu.Lock()
		r.stats.Savings.Add(size, stored)
		r.mu.Unlock()
	}

	if err := r.track(key, size, checksum, mtime); err != nil {
		return false, 0, err
	}
	return true, size, nil
}

// needsSync consults the tracking store. A touched file of unchanged size is
// hashed so that a bare mtime change does not force a copy.
func (r *run) needsSync(key, path string, size int64, mtime time.Time) (bool, error) {
	store := r.s.store
	var checksum string

	rec, err := store.GetFile(r.opts.GroupID, key)
	if err != nil {
		return false, err
	}
	if rec != nil && rec.FileSize == size && !rec.LastModified.Equal(mtime) {
		if checksum, err = hashFile(path); err != nil {
			return false, err
		}
	}
	return store.NeedsSync(r.opts.GroupID, key, size, mtime, checksum)
}

func (r *run) restoreOne(ctx context.Context, f fsutil.File, destRoot string) (bool, int64, error) {
	xf := r.xf
	plainRel, ok := xf.plainName(f.RelativePath)
	if !ok {
		// Not written through this transform; restore as is.
		xf = r.plain
	}
	key := trackKey(r.opts.TrackPrefix, plainRel)
	dst := filepath.Join(destRoot, plainRel)
	mtime := f.Info.ModTime()

	if r.opts.SkipExisting {
		if _, err := os.Lstat(dst); err == nil {
			return false, 0, nil
		}
	}

	src, err := os.Open(f.Path)
	if err != nil {
		return false, 0, err
	}
	defer src.Close()

	h := newHash()
	in := throttle.NewReader(context.WithoutCancel(ctx), src, r.th)
	written, err := writeAtomic(dst, f.Info.Mode().Perm(), fsutil.AccessTime(f.Info), mtime, func(w io.Writer) error {
		return xf.decode(in, io.MultiWriter(w, h))
	})
	if err != nil {
		return false, 0, err
	}
	checksum := hexSum(h)

	if r.opts.VerifyChecksums {
		got, err := hashFile(dst)
		if err != nil {
			return false, 0, fmt.Errorf("verifying: %w", err)
		}
		if got != checksum {
			return false, 0, fmt.Errorf("%w: expected %s, restored %s", ErrChecksumMismatch, checksum, got)
		}
	}

	if r.stats.Savings != nil && xf != r.plain {
		r.mu.Lock()
		r.stats.Savings.Add(written, f.Info.Size())
		r.mu.Unlock()
	}

	if err := r.track(key, written, checksum, mtime); err != nil {
		return false, 0, err
	}
	return true, written, nil
}

func (r *run) track(key string, size int64, checksum string, mtime time.Time) error {
	if r.opts.SkipTracking || r.opts.GroupID == "" {
		return nil
	}
	return r.s.store.TrackFile(FileRecord{
		GroupID:         r.opts.GroupID,
		RelativePath:    key,
		FileSize:        size,
		Checksum:        checksum,
		LastSynced:      r.s.clock.Now(),
		LastModified:    mtime,
		SyncOperationID: r.opID,
	})
}
