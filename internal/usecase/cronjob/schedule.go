package cronjob

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"chasingclaw/internal/domain"
)

// parser accepts standard five-field expressions plus @descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func scheduleError(detail string) error {
	return domain.NewDomainError("cronjob.ValidateSchedule", domain.ErrInvalidSchedule, detail)
}

// ValidateSchedule checks a schedule definition without computing a run time.
// Past-dated "at" schedules are valid; they fire on the next tick.
func ValidateSchedule(s domain.CronSchedule) error {
	switch s.Kind {
	case domain.ScheduleEvery:
		if s.EveryMs <= 0 {
			return scheduleError("schedule kind 'every' requires positive every_ms")
		}
	case domain.ScheduleCron:
		if s.Expr == "" {
			return scheduleError("schedule kind 'cron' requires expr")
		}
		if _, err := parser.Parse(s.Expr); err != nil {
			return scheduleError(fmt.Sprintf("invalid cron expression %q: %v", s.Expr, err))
		}
		if s.TZ != "" {
			if _, err := time.LoadLocation(s.TZ); err != nil {
				return scheduleError(fmt.Sprintf("invalid tz %q: %v", s.TZ, err))
			}
		}
	case domain.ScheduleAt:
		if s.AtMs <= 0 {
			return scheduleError("schedule kind 'at' requires at_ms")
		}
	default:
		return scheduleError(fmt.Sprintf("unknown schedule kind %q (want: every, cron, at)", s.Kind))
	}
	return nil
}

// FirstRun computes the initial next_run_at_ms for a schedule evaluated at
// nowMs. def is the location used for cron expressions without a tz.
func FirstRun(s domain.CronSchedule, nowMs int64, def *time.Location) (int64, error) {
	if err := ValidateSchedule(s); err != nil {
		return 0, err
	}
	switch s.Kind {
	case domain.ScheduleEvery:
		return nowMs + s.EveryMs, nil
	case domain.ScheduleCron:
		return nextCron(s, nowMs, def)
	default:
		return s.AtMs, nil
	}
}

// NextAfterFire computes the schedule state after a scheduled firing.
// prevMs is the next_run_at_ms that was due. It returns the new target and
// whether the job stays enabled; one-shot jobs return (0, false).
func NextAfterFire(s domain.CronSchedule, prevMs, nowMs int64, def *time.Location) (int64, bool, error) {
	switch s.Kind {
	case domain.ScheduleEvery:
		if s.EveryMs <= 0 {
			return 0, false, scheduleError("schedule kind 'every' requires positive every_ms")
		}
		// Anchor on the scheduled time so drift does not accumulate. When more
		// than one period was missed, fire once and re-base from now.
		next := prevMs + s.EveryMs
		if next < nowMs {
			next = nowMs + s.EveryMs
		}
		return next, true, nil
	case domain.ScheduleCron:
		next, err := nextCron(s, nowMs, def)
		return next, err == nil, err
	case domain.ScheduleAt:
		return 0, false, nil
	default:
		return 0, false, scheduleError(fmt.Sprintf("unknown schedule kind %q", s.Kind))
	}
}

// nextCron returns the first minute strictly after nowMs matching the expression.
func nextCron(s domain.CronSchedule, nowMs int64, def *time.Location) (int64, error) {
	sched, err := parser.Parse(s.Expr)
	if err != nil {
		return 0, scheduleError(fmt.Sprintf("invalid cron expression %q: %v", s.Expr, err))
	}
	loc := def
	if s.TZ != "" {
		if loc, err = time.LoadLocation(s.TZ); err != nil {
			return 0, scheduleError(fmt.Sprintf("invalid tz %q: %v", s.TZ, err))
		}
	}
	if loc == nil {
		loc = time.Local
	}
	next := sched.Next(time.UnixMilli(nowMs).In(loc))
	if next.IsZero() {
		return 0, scheduleError(fmt.Sprintf("cron expression %q never fires", s.Expr))
	}
	return next.UnixMilli(), nil
}
