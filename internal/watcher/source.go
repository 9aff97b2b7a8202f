package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"drivesync/internal/ds"
	fsutil "drivesync/internal/fs"
)

// EmitFunc receives one raw file-system event. It must not block.
type EmitFunc func(path string, op ds.ChangeOp)

// Source delivers file-system events for a directory tree.
type Source interface {
	Start(root string, emit EmitFunc) error
	Close() error
}

// SourceFactory creates a Source for a watch request.
type SourceFactory func(req ds.WatchRequest) (Source, error)

// FSNotifySource watches a tree recursively with fsnotify. fsnotify only
// watches single directories, so every directory is added on start and new
// directories are added as they appear.
type FSNotifySource struct {
	watcher *fsnotify.Watcher
	matcher *fsutil.IgnoreMatcher
	base    string // ignore patterns are relative to base
	root    string
	emit    EmitFunc
	logger  ds.Logger

	mu   sync.Mutex
	dirs map[string]bool
	done chan struct{}
	wg   sync.WaitGroup
}

var _ Source = (*FSNotifySource)(nil)

// NewFSNotifySource creates a source that skips directories matched by
// matcher. Patterns are matched against paths relative to base.
func NewFSNotifySource(base string, matcher *fsutil.IgnoreMatcher, logger ds.Logger) (*FSNotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &FSNotifySource{
		watcher: w,
		matcher: matcher,
		base:    base,
		logger:  logger,
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

func (s *FSNotifySource) Start(root string, emit EmitFunc) error {
	s.root = root
	s.emit = emit
	if err := s.addTree(root); err != nil {
		s.watcher.Close()
		return err
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *FSNotifySource) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && errors.Is(err, fs.ErrPermission) {
				s.logger.Warn("not watching unreadable directory", "path", p, "error", err)
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(s.base, p); rel != "." && s.matcher.MatchDir(rel) {
			return filepath.SkipDir
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dirs[p] {
			return nil
		}
		if err := s.watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		s.dirs[p] = true
		return nil
	})
}

func (s *FSNotifySource) run() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "root", s.root, "error", err)
		case <-s.done:
			return
		}
	}
}

func (s *FSNotifySource) handle(ev fsnotify.Event) {
	var op ds.ChangeOp
	switch {
	case ev.Has(fsnotify.Create):
		op = ds.ChangeCreate
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := s.addTree(ev.Name); err != nil {
				s.logger.Warn("watching new directory", "path", ev.Name, "error", err)
			}
		}
	case ev.Has(fsnotify.Write):
		op = ds.ChangeModify
	case ev.Has(fsnotify.Remove):
		op = ds.ChangeRemove
		s.forget(ev.Name)
	case ev.Has(fsnotify.Rename):
		op = ds.ChangeRename
		s.forget(ev.Name)
	default:
		return
	}
	s.emit(ev.Name, op)
}

// forget drops a removed directory; fsnotify stops watching it on its own.
func (s *FSNotifySource) forget(path string) {
	s.mu.Lock()
	delete(s.dirs, path)
	s.mu.Unlock()
}

// Close stops the event loop and releases the watch descriptors.
func (s *FSNotifySource) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// NewFSNotifyFactory returns the SourceFactory used outside tests.
func NewFSNotifyFactory(logger ds.Logger) SourceFactory {
	return func(req ds.WatchRequest) (Source, error) {
		matcher, err := fsutil.LoadMatcher(req.MasterRoot, req.Options.Ignore)
		if err != nil {
			return nil, err
		}
		return NewFSNotifySource(req.MasterRoot, matcher, logger)
	}
}
