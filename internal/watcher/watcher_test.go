package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivesync/internal/ds"
	"drivesync/internal/testutil"
)

type fakeSource struct {
	mu     sync.Mutex
	emit   EmitFunc
	root   string
	closed bool
}

func (s *fakeSource) Start(root string, emit EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root, s.emit = root, emit
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) send(path string, op ds.ChangeOp) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	emit(path, op)
}

type recordingReplicator struct {
	mu      sync.Mutex
	batches [][]ds.Change
	err     error
	during  func()
}

func (r *recordingReplicator) ApplyChanges(_ context.Context, _, _, _ string, changes []ds.Change, _ ds.SyncOptions) (*ds.SyncStatistics, error) {
	if r.during != nil {
		r.during()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, changes)
	if r.err != nil {
		return nil, r.err
	}
	return &ds.SyncStatistics{FilesCopied: len(changes)}, nil
}

func (r *recordingReplicator) Batches() [][]ds.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]ds.Change(nil), r.batches...)
}

type notification struct {
	group, status, message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []notification
}

func (n *recordingNotifier) Notify(groupID, status, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, notification{groupID, status, message})
}

func (n *recordingNotifier) All() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.seen...)
}

type harness struct {
	clock    clockwork.FakeClock
	src      *fakeSource
	repl     *recordingReplicator
	notifier *recordingNotifier
	manager  *Manager
	master   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		src:      &fakeSource{},
		repl:     &recordingReplicator{},
		notifier: &recordingNotifier{},
		master:   t.TempDir(),
	}
	h.manager = NewManagerWithSource(h.clock, ds.NewNopLogger(), h.notifier, func(ds.WatchRequest) (Source, error) {
		return h.src, nil
	})
	t.Cleanup(func() { h.manager.StopAll() })
	return h
}

func (h *harness) start(t *testing.T, id string, debounce time.Duration) {
	t.Helper()
	err := h.manager.StartWatching(context.Background(), ds.WatchRequest{
		ID:         id,
		GroupID:    "g1",
		MasterRoot: h.master,
		BackupRoot: t.TempDir(),
		Debounce:   debounce,
		Replicator: h.repl,
	})
	require.NoError(t, err)
}

// advanceUntil moves the fake clock in poll steps until cond holds.
func (h *harness) advanceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.clock.Advance(PollInterval)
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func TestWatcher_DebounceCoalescesEvents(t *testing.T) {
	h := newHarness(t)
	h.start(t, "w1", 2*time.Second)

	file := filepath.Join(h.master, "doc.txt")
	for i := 0; i < 10; i++ {
		h.src.send(file, ds.ChangeModify)
	}

	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) > 0 })

	// Keep the clock moving; nothing else may be applied.
	for i := 0; i < 30; i++ {
		h.clock.Advance(PollInterval)
	}
	time.Sleep(20 * time.Millisecond)

	batches := h.repl.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []ds.Change{{RelativePath: "doc.txt", Op: ds.ChangeModify}}, batches[0])
}

func TestWatcher_NotAppliedBeforeDebounce(t *testing.T) {
	h := newHarness(t)
	h.start(t, "w1", 2*time.Second)

	h.src.send(filepath.Join(h.master, "a.txt"), ds.ChangeCreate)
	for i := 0; i < 15; i++ {
		h.clock.Advance(PollInterval)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.repl.Batches(), "applied before the debounce window elapsed")

	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) == 1 })
}

func TestWatcher_LastEventWins(t *testing.T) {
	h := newHarness(t)
	h.start(t, "w1", time.Second)

	h.src.send(filepath.Join(h.master, "b.txt"), ds.ChangeCreate)
	h.src.send(filepath.Join(h.master, "a.txt"), ds.ChangeCreate)
	h.src.send(filepath.Join(h.master, "a.txt"), ds.ChangeRemove)
	h.src.send(filepath.Join(h.master, "..", "outside.txt"), ds.ChangeCreate)

	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) == 1 })
	assert.Equal(t, []ds.Change{
		{RelativePath: "a.txt", Op: ds.ChangeRemove},
		{RelativePath: "b.txt", Op: ds.ChangeCreate},
	}, h.repl.Batches()[0])
}

func TestWatcher_DropsEventsDuringBatch(t *testing.T) {
	h := newHarness(t)
	echo := filepath.Join(h.master, "echo.txt")
	h.repl.during = func() { h.src.send(echo, ds.ChangeModify) }
	h.start(t, "w1", time.Second)

	h.src.send(filepath.Join(h.master, "a.txt"), ds.ChangeModify)
	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) == 1 })

	require.Eventually(t, func() bool {
		return h.manager.ListWatchers()[0].Dropped >= 1
	}, time.Second, time.Millisecond)

	for i := 0; i < 30; i++ {
		h.clock.Advance(PollInterval)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.repl.Batches(), 1, "echo event was applied")

	// Events after the batch are processed normally.
	h.src.send(filepath.Join(h.master, "later.txt"), ds.ChangeCreate)
	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) == 2 })
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	h := newHarness(t)
	h.start(t, "w1", time.Second)

	h.src.send(filepath.Join(h.master, ".drivesync-tmp-123"), ds.ChangeCreate)
	h.src.send(filepath.Join(h.master, "real.txt"), ds.ChangeCreate)

	h.advanceUntil(t, func() bool { return len(h.repl.Batches()) == 1 })
	assert.Equal(t, "real.txt", h.repl.Batches()[0][0].RelativePath)
	assert.Len(t, h.repl.Batches()[0], 1)
}

func TestWatcher_Notifications(t *testing.T) {
	h := newHarness(t)
	h.start(t, "w1", time.Second)

	h.src.send(filepath.Join(h.master, "a.txt"), ds.ChangeCreate)
	h.advanceUntil(t, func() bool { return len(h.notifier.All()) == 1 })
	assert.Equal(t, ds.NotifySuccess, h.notifier.All()[0].status)
	assert.Equal(t, "g1", h.notifier.All()[0].group)

	h.repl.mu.Lock()
	h.repl.err = errors.New("backup unplugged")
	h.repl.mu.Unlock()

	h.clock.Advance(time.Millisecond)
	h.src.send(filepath.Join(h.master, "b.txt"), ds.ChangeCreate)
	h.advanceUntil(t, func() bool { return len(h.notifier.All()) == 2 })

	last := h.notifier.All()[1]
	assert.Equal(t, ds.NotifyError, last.status)
	assert.Contains(t, last.message, "backup unplugged")
	assert.True(t, h.manager.IsWatching("w1"), "a failed batch must not stop the watcher")
}

func TestManager_Registry(t *testing.T) {
	h := newHarness(t)
	h.start(t, "b", time.Second)
	h.start(t, "a", time.Second)

	err := h.manager.StartWatching(context.Background(), ds.WatchRequest{
		ID: "a", GroupID: "g1", MasterRoot: h.master, BackupRoot: t.TempDir(), Replicator: h.repl,
	})
	assert.ErrorIs(t, err, ErrAlreadyWatching)

	infos := h.manager.ListWatchers()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, ds.WatchWatching, infos[0].State)
	assert.Equal(t, h.master, infos[0].Path)

	require.NoError(t, h.manager.StopWatching("a"))
	assert.False(t, h.manager.IsWatching("a"))
	assert.True(t, h.manager.IsWatching("b"))
	assert.ErrorIs(t, h.manager.StopWatching("a"), ErrNotWatching)

	require.NoError(t, h.manager.StopAll())
	assert.Empty(t, h.manager.ListWatchers())
	assert.True(t, h.src.closed)
}

func TestManager_StartValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ds.WatchRequest
	}{
		{"empty id", ds.WatchRequest{MasterRoot: h.master, BackupRoot: h.master, Replicator: h.repl}},
		{"no backup", ds.WatchRequest{ID: "x", MasterRoot: h.master, Replicator: h.repl}},
		{"no replicator", ds.WatchRequest{ID: "x", MasterRoot: h.master, BackupRoot: h.master}},
		{"missing sub path", ds.WatchRequest{ID: "x", MasterRoot: h.master, BackupRoot: h.master, SubPath: "nope", Replicator: h.repl}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, h.manager.StartWatching(ctx, tt.req))
			assert.False(t, h.manager.IsWatching("x"))
		})
	}

	err := h.manager.StartWatching(ctx, ds.WatchRequest{ID: "x", MasterRoot: h.master, Replicator: h.repl})
	assert.ErrorIs(t, err, ds.ErrDriveNotFound)
}

func TestFSNotify_EndToEnd(t *testing.T) {
	master, backup := t.TempDir(), t.TempDir()
	store := testutil.NewTestStore(t)
	synchronizer := ds.NewSynchronizer(store, ds.NewNopLogger(), ds.RealClock{})
	notifier := &recordingNotifier{}

	m := NewManager(clockwork.NewRealClock(), ds.NewNopLogger(), notifier)
	t.Cleanup(func() { m.StopAll() })

	require.NoError(t, m.StartWatching(context.Background(), ds.WatchRequest{
		ID:         "photos",
		GroupID:    "g1",
		MasterRoot: master,
		BackupRoot: backup,
		Debounce:   50 * time.Millisecond,
		Options:    ds.SyncOptions{Incremental: true},
		Replicator: synchronizer,
	}))

	testutil.WriteFile(t, master, "album/one.jpg", "jpeg")
	testutil.WriteFile(t, master, "two.jpg", "jpeg 2")

	require.Eventually(t, func() bool {
		tree := testutil.ReadTree(t, backup)
		return tree["album/one.jpg"] == "jpeg" && tree["two.jpg"] == "jpeg 2"
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(master, "two.jpg")))
	require.Eventually(t, func() bool {
		return !testutil.Exists(backup, "two.jpg")
	}, 10*time.Second, 20*time.Millisecond)

	rec, err := store.GetFile("g1", "two.jpg")
	require.NoError(t, err)
	assert.Nil(t, rec)

	ops, err := store.History("g1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, ds.TriggerRealtime, ops[0].Trigger)
}
