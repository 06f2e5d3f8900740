package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// nextRunHorizon bounds the search for the next fire time; expressions
// like "0 0 30 2 *" never match and would otherwise scan forever.
const nextRunHorizon = 366 * 24 * time.Hour

// CronSchedule wraps a parsed five-field cron expression
type CronSchedule struct {
	expr     string
	schedule cron.Schedule
}

// ParseCron parses a standard five-field cron expression
// (minute hour day-of-month month day-of-week)
func ParseCron(expr string) (*CronSchedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronSchedule{expr: expr, schedule: schedule}, nil
}

// String returns the original expression
func (s *CronSchedule) String() string { return s.expr }

// ShouldRun reports whether the schedule matches the calendar minute
// containing now
func (s *CronSchedule) ShouldRun(now time.Time) bool {
	minute := now.Truncate(time.Minute)
	next := s.schedule.Next(minute.Add(-time.Second))
	return !next.Before(minute) && next.Before(minute.Add(time.Minute))
}

// Next returns the first fire time strictly after the given instant,
// or false when no match exists within the horizon
func (s *CronSchedule) Next(after time.Time) (time.Time, bool) {
	next := s.schedule.Next(after)
	if next.IsZero() || next.Sub(after) > nextRunHorizon {
		return time.Time{}, false
	}
	return next, true
}
