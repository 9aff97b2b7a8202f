package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"drivesync/internal/ds"
	"drivesync/internal/schedule"
)

// RunDaemon starts the configured realtime watchers and scheduled syncs and
// blocks until ctx is cancelled. Watchers whose drives are missing are
// reported and skipped; the daemon keeps running with the rest.
func (a *DriveSyncApp) RunDaemon(ctx context.Context, flags SyncFlags) error {
	base, err := SyncOptions(a.cfg, flags)
	if err != nil {
		return err
	}

	sched := schedule.New(clockwork.NewRealClock(), a.logger, a.notifier)
	for _, sc := range a.cfg.Schedules {
		if err := a.addSchedule(sched, sc.ID, sc.Group, sc.IntervalMinutes, sc.Cron, base); err != nil {
			return err
		}
	}

	started := 0
	for _, wc := range a.cfg.Watch.Groups {
		debounce := time.Duration(a.cfg.Watch.DebounceMS) * time.Millisecond
		if wc.DebounceMS > 0 {
			debounce = time.Duration(wc.DebounceMS) * time.Millisecond
		}
		opts := base
		opts.Trigger = ds.TriggerRealtime
		if err := a.service.EnableRealtimeSync(ctx, "", wc.Group, wc.Path, debounce, opts); err != nil {
			a.notifier.Notify(wc.Group, ds.NotifyError, fmt.Sprintf("realtime sync not started: %v", err))
			continue
		}
		started++
	}
	if started > 0 {
		a.MarkMutated()
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("daemon started", "schedules", len(a.cfg.Schedules), "watchers", started)

	<-ctx.Done()
	sched.Stop()
	a.logger.Info("daemon stopping")
	return nil
}

func (a *DriveSyncApp) addSchedule(sched *schedule.Scheduler, id, group string, intervalMinutes int, cron string, base ds.SyncOptions) error {
	trigger, err := schedule.ParseTrigger(intervalMinutes, cron)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	g, err := a.service.Group(group)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}

	opts := base
	opts.Trigger = ds.TriggerScheduled
	return sched.Add(schedule.Job{
		ID:      id,
		GroupID: g.ID,
		Trigger: trigger,
		Run: func(ctx context.Context) (*ds.SyncStatistics, error) {
			a.MarkMutated()
			return a.service.SyncToBackup(ctx, g.ID, "", opts)
		},
	})
}
