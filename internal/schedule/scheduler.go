package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"drivesync/internal/ds"
)

var (
	ErrDuplicateJob = errors.New("job id already registered")
	ErrJobNotFound  = errors.New("job not found")
)

// RunFunc performs one scheduled sync.
type RunFunc func(ctx context.Context) (*ds.SyncStatistics, error)

// Job is a named, triggered sync of one group.
type Job struct {
	ID      string
	GroupID string
	Trigger Trigger
	Run     RunFunc
}

// JobInfo is a snapshot of a registered job.
type JobInfo struct {
	ID         string
	GroupID    string
	Trigger    string
	Paused     bool
	Running    bool
	Runs       int
	LastRun    time.Time
	NextRun    time.Time
	LastStatus string
	LastError  string
}

type jobState struct {
	job     Job
	paused  bool
	running bool
	runs    int
	lastRun time.Time
	nextRun time.Time
	status  string
	lastErr string
	gen     int // bumped whenever queued entries for this job become stale
}

type entry struct {
	id  string
	at  time.Time
	gen int
}

// queue is a min-heap of run times.
type queue []entry

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)        { *q = append(*q, x.(entry)) }

func (q *queue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}

func (q queue) peek() (entry, bool) {
	if len(q) == 0 {
		return entry{}, false
	}
	return q[0], true
}

// Scheduler runs jobs when their triggers fire. A job that is still running
// when it fires again is skipped for that slot. Job failures and panics are
// reported to the notifier and never stop the scheduler.
type Scheduler struct {
	clock    clockwork.Clock
	logger   ds.Logger
	notifier ds.Notifier

	mu      sync.Mutex
	jobs    map[string]*jobState
	queue   queue
	started bool

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a stopped Scheduler.
func New(clock clockwork.Clock, logger ds.Logger, notifier ds.Notifier) *Scheduler {
	if notifier == nil {
		notifier = ds.NopNotifier{}
	}
	return &Scheduler{
		clock:    clock,
		logger:   logger,
		notifier: notifier,
		jobs:     make(map[string]*jobState),
		wake:     make(chan struct{}, 1),
	}
}

// Add registers a job. Its first run is one trigger period from now.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id must not be empty")
	}
	if job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("job %s needs a trigger and a run function", job.ID)
	}
	if iv, ok := job.Trigger.(Interval); ok && iv.Minutes <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	st := &jobState{job: job}
	s.jobs[job.ID] = st
	s.enqueue(st, s.clock.Now())
	s.signal()
	s.logger.Info("job added", "job", job.ID, "group", job.GroupID, "trigger", job.Trigger.String(), "next", st.nextRun)
	return nil
}

// enqueue schedules st after t and invalidates its older entries. Callers
// hold s.mu and wake the loop when the earliest run may have changed.
func (s *Scheduler) enqueue(st *jobState, t time.Time) {
	st.gen++
	st.nextRun = st.job.Trigger.Next(t)
	if st.nextRun.IsZero() || st.paused {
		st.nextRun = time.Time{}
		return
	}
	heap.Push(&s.queue, entry{id: st.job.ID, at: st.nextRun, gen: st.gen})
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Remove unregisters a job. A run in progress finishes.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	st.gen++
	delete(s.jobs, id)
	s.signal()
	return nil
}

// Pause keeps the job registered without running it.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	st.paused = true
	st.gen++
	st.nextRun = time.Time{}
	s.signal()
	return nil
}

// Resume schedules a paused job again from now.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !st.paused {
		return nil
	}
	st.paused = false
	s.enqueue(st, s.clock.Now())
	s.signal()
	return nil
}

// Jobs returns snapshots ordered by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, st := range s.jobs {
		infos = append(infos, JobInfo{
			ID:         st.job.ID,
			GroupID:    st.job.GroupID,
			Trigger:    st.job.Trigger.String(),
			Paused:     st.paused,
			Running:    st.running,
			Runs:       st.runs,
			LastRun:    st.lastRun,
			NextRun:    st.nextRun,
			LastStatus: st.status,
			LastError:  st.lastErr,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Start runs the scheduling loop until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(runCtx)
	return nil
}

// Stop ends the loop, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	<-s.done
	s.cancel()
	s.running.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		wait, ok := s.untilNext()

		var fire <-chan time.Time
		var timer clockwork.Timer
		if ok {
			timer = s.clock.NewTimer(wait)
			fire = timer.Chan()
		}

		select {
		case <-s.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			s.runDue(ctx)
		}
	}
}

// untilNext drops stale entries and returns the wait until the earliest run.
func (s *Scheduler) untilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		e, ok := s.queue.peek()
		if !ok {
			return 0, false
		}
		if st, live := s.jobs[e.id]; !live || st.gen != e.gen {
			heap.Pop(&s.queue)
			continue
		}
		d := e.at.Sub(s.clock.Now())
		if d < 0 {
			d = 0
		}
		return d, true
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for {
		e, ok := s.queue.peek()
		if !ok || e.at.After(now) {
			return
		}
		heap.Pop(&s.queue)

		st, live := s.jobs[e.id]
		if !live || st.gen != e.gen {
			continue
		}
		// Interval triggers count from the slot, so a slow run does not drift the schedule.
		s.enqueue(st, e.at)
		if !st.nextRun.IsZero() && !st.nextRun.After(now) {
			// Missed slots collapse into one run.
			s.enqueue(st, now)
		}

		if st.running {
			s.logger.Warn("job still running, skipping slot", "job", st.job.ID)
			continue
		}
		st.running = true
		s.running.Add(1)
		go s.execute(ctx, st)
	}
}

func (s *Scheduler) execute(ctx context.Context, st *jobState) {
	defer s.running.Done()
	id, group := st.job.ID, st.job.GroupID
	started := s.clock.Now()

	stats, err := safeRun(ctx, st.job.Run)

	status, message := ds.NotifySuccess, ""
	switch {
	case err != nil:
		status, message = ds.NotifyError, fmt.Sprintf("scheduled sync %s failed: %v", id, err)
		s.logger.Error("scheduled sync failed", "job", id, "group", group, "error", err)
	case stats != nil && stats.FilesFailed > 0:
		status = ds.NotifyWarning
		message = fmt.Sprintf("scheduled sync %s: %d copied, %d failed", id, stats.FilesCopied, stats.FilesFailed)
	default:
		var copied int
		if stats != nil {
			copied = stats.FilesCopied
		}
		message = fmt.Sprintf("scheduled sync %s: %d files copied", id, copied)
		s.logger.Info("scheduled sync completed", "job", id, "group", group, "copied", copied)
	}

	s.mu.Lock()
	st.running = false
	st.runs++
	st.lastRun = started
	st.status = status
	st.lastErr = ""
	if err != nil {
		st.lastErr = err.Error()
	}
	s.mu.Unlock()

	s.notifier.Notify(group, status, message)
}

func safeRun(ctx context.Context, run RunFunc) (stats *ds.SyncStatistics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}
