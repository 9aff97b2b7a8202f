package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"drivesync/internal/ds"
	fsutil "drivesync/internal/fs"
)

const (
	// DefaultDebounce is used when a request does not set one.
	DefaultDebounce = 2 * time.Second

	// PollInterval is how often pending paths are checked against the debounce window.
	PollInterval = 100 * time.Millisecond

	// EventBuffer bounds the queue between the event source and the consumer.
	// Events that do not fit are dropped and counted.
	EventBuffer = 1024

	// StopTimeout bounds how long Stop waits for the consumer to exit.
	StopTimeout = 5 * time.Second
)

type event struct {
	path string
	op   ds.ChangeOp
	at   time.Time
}

type pendingChange struct {
	op ds.ChangeOp
	at time.Time
}

// Watcher mirrors one Master subtree to Backup in debounced batches.
//
// The source goroutine only enqueues events. A single consumer goroutine owns
// the pending map and the applying window: events stamped while a batch was
// being applied are the watcher's own echo, or arrived too late, and are
// dropped.
type Watcher struct {
	req      ds.WatchRequest
	root     string
	src      Source
	clock    clockwork.Clock
	logger   ds.Logger
	notifier ds.Notifier

	events chan event
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	// Owned by the consumer goroutine. [applyStart, applyFinish] is the
	// loop-prevention window of the last batch.
	pending     map[string]pendingChange
	applyStart  time.Time
	applyFinish time.Time

	dropped atomic.Int64

	mu        sync.Mutex
	state     string
	startedAt time.Time
	batches   int
}

func newWatcher(req ds.WatchRequest, src Source, clock clockwork.Clock, logger ds.Logger, notifier ds.Notifier) *Watcher {
	if req.Debounce <= 0 {
		req.Debounce = DefaultDebounce
	}
	return &Watcher{
		req:      req,
		root:     filepath.Join(req.MasterRoot, req.SubPath),
		src:      src,
		clock:    clock,
		logger:   logger,
		notifier: notifier,
		events:   make(chan event, EventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]pendingChange),
		state:    ds.WatchIdle,
	}
}

// Start subscribes to the source and starts the consumer. The watcher outlives
// ctx's deadline; only Stop ends it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != ds.WatchIdle {
		return fmt.Errorf("watcher %s is %s", w.req.ID, w.state)
	}

	if err := w.src.Start(w.root, w.emit); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.state = ds.WatchWatching
	w.startedAt = w.clock.Now()

	go w.loop(runCtx)
	w.logger.Info("watcher started", "watcher", w.req.ID, "group", w.req.GroupID, "path", w.root, "debounce", w.req.Debounce)
	return nil
}

// emit is called from the source goroutine.
func (w *Watcher) emit(path string, op ds.ChangeOp) {
	if strings.HasPrefix(filepath.Base(path), fsutil.TempPrefix) {
		return
	}
	select {
	case w.events <- event{path: path, op: op, at: w.clock.Now()}:
	default:
		w.dropped.Add(1)
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := w.clock.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev := <-w.events:
			w.record(ev)
		case <-ticker.Chan():
			w.flush(ctx)
		}
	}
}

func (w *Watcher) record(ev event) {
	if !w.applyStart.IsZero() && !ev.at.Before(w.applyStart) && !ev.at.After(w.applyFinish) {
		w.dropped.Add(1)
		return
	}
	rel, err := filepath.Rel(w.req.MasterRoot, ev.path)
	if err != nil || !filepath.IsLocal(rel) {
		return
	}
	// Last event wins.
	w.pending[rel] = pendingChange{op: ev.op, at: ev.at}
}

// flush applies every pending path that has been quiet for the debounce window.
func (w *Watcher) flush(ctx context.Context) {
	now := w.clock.Now()
	var changes []ds.Change
	for rel, p := range w.pending {
		if now.Sub(p.at) >= w.req.Debounce {
			changes = append(changes, ds.Change{RelativePath: filepath.ToSlash(rel), Op: p.op})
			delete(w.pending, rel)
		}
	}
	if len(changes) == 0 {
		return
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].RelativePath < changes[j].RelativePath })

	w.apply(ctx, changes)
}

func (w *Watcher) apply(ctx context.Context, changes []ds.Change) {
	// Closed by the defer on every exit path.
	w.applyStart = w.clock.Now()
	defer func() {
		w.applyFinish = w.clock.Now()
	}()

	stats, err := w.req.Replicator.ApplyChanges(ctx, w.req.GroupID, w.req.MasterRoot, w.req.BackupRoot, changes, w.req.Options)

	w.mu.Lock()
	w.batches++
	w.mu.Unlock()

	switch {
	case err != nil:
		w.logger.Error("realtime batch failed", "watcher", w.req.ID, "group", w.req.GroupID, "error", err)
		w.notifier.Notify(w.req.GroupID, ds.NotifyError, fmt.Sprintf("realtime sync failed: %v", err))
	case stats.FilesFailed > 0:
		w.notifier.Notify(w.req.GroupID, ds.NotifyWarning,
			fmt.Sprintf("realtime sync: %d copied, %d failed", stats.FilesCopied, stats.FilesFailed))
	default:
		w.notifier.Notify(w.req.GroupID, ds.NotifySuccess,
			fmt.Sprintf("realtime sync: %d changes applied, %d files copied", len(changes), stats.FilesCopied))
	}
}

// Stop unsubscribes and waits up to StopTimeout for the consumer to exit.
// Pending changes that have not reached the debounce window are discarded.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state != ds.WatchWatching {
		w.state = ds.WatchStopped
		w.mu.Unlock()
		return nil
	}
	w.state = ds.WatchStopped
	w.mu.Unlock()

	srcErr := w.src.Close()
	close(w.stop)
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(StopTimeout):
		return fmt.Errorf("watcher %s did not stop within %s", w.req.ID, StopTimeout)
	}
	w.logger.Info("watcher stopped", "watcher", w.req.ID, "group", w.req.GroupID)
	return srcErr
}

// Info returns a snapshot of the watcher.
func (w *Watcher) Info() ds.WatcherInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ds.WatcherInfo{
		ID:        w.req.ID,
		GroupID:   w.req.GroupID,
		Path:      w.root,
		State:     w.state,
		Debounce:  w.req.Debounce,
		StartedAt: w.startedAt,
		Batches:   w.batches,
		Dropped:   int(w.dropped.Load()),
	}
}
