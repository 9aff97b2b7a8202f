package app

import (
	"sync/atomic"
	"time"

	"drivesync/internal/ds"
)

// Invocation tracks one CLI command. Commands that change the tracking
// database mark it mutated so the catalog is snapshotted on Close.
type Invocation struct {
	Command string
	RunID   string // tags every log line of this run
	Started time.Time

	mutated atomic.Bool
}

// NewInvocation creates an unmutated invocation stamped with clock.
func NewInvocation(command string, clock ds.Clock) *Invocation {
	now := clock.Now().UTC()
	return &Invocation{
		Command: command,
		RunID:   now.Format("20060102T150405Z"),
		Started: now,
	}
}

// Elapsed returns the time since the invocation started.
func (inv *Invocation) Elapsed(clock ds.Clock) time.Duration {
	return clock.Now().Sub(inv.Started)
}

// MarkMutated may be called from any goroutine.
func (inv *Invocation) MarkMutated() { inv.mutated.Store(true) }

func (inv *Invocation) Mutated() bool { return inv.mutated.Load() }
