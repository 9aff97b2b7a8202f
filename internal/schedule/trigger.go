package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes the run times of a job.
type Trigger interface {
	// Next returns the first run time strictly after t, or the zero time if
	// the trigger never fires again.
	Next(t time.Time) time.Time
	String() string
}

// Interval fires every Minutes minutes, counted from the previous run.
type Interval struct {
	Minutes int
}

func (i Interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i.Minutes) * time.Minute)
}

func (i Interval) String() string {
	return fmt.Sprintf("every %dm", i.Minutes)
}

// Cron fires on a standard five-field expression: minute hour day-of-month
// month day-of-week, plus the @hourly/@daily style descriptors. Month and
// weekday names are accepted; day-of-week runs 0-6 from Sunday. When both
// day fields are restricted a day matches if either matches.
type Cron struct {
	Expr string

	sched cron.Schedule
}

// ParseCron validates expr and returns a ready Cron.
func ParseCron(expr string) (*Cron, error) {
	expr = strings.TrimSpace(expr)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	return &Cron{Expr: expr, sched: sched}, nil
}

// Next returns the zero time for an expression that does not parse or never
// matches within five years. A Cron built as a literal is parsed on each call.
func (c Cron) Next(t time.Time) time.Time {
	sched := c.sched
	if sched == nil {
		var err error
		if sched, err = cron.ParseStandard(strings.TrimSpace(c.Expr)); err != nil {
			return time.Time{}
		}
	}
	return sched.Next(t)
}

func (c Cron) String() string {
	return "cron " + c.Expr
}

// ParseTrigger builds a trigger from configuration. Exactly one of
// intervalMinutes and cronExpr must be set.
func ParseTrigger(intervalMinutes int, cronExpr string) (Trigger, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	switch {
	case intervalMinutes != 0 && cronExpr != "":
		return nil, fmt.Errorf("interval and cron are mutually exclusive")
	case cronExpr != "":
		c, err := ParseCron(cronExpr)
		if err != nil {
			return nil, err
		}
		return c, nil
	case intervalMinutes > 0:
		return Interval{Minutes: intervalMinutes}, nil
	default:
		return nil, fmt.Errorf("a positive interval or a cron expression is required")
	}
}
