package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleType string

const (
	ScheduleOneTime    ScheduleType = "one-time"
	ScheduleCron       ScheduleType = "cron"
	ScheduleFixedDelay ScheduleType = "fixed-delay"
	ScheduleDaily      ScheduleType = "daily"
)

// cronParser accepts the standard five fields plus an optional leading
// seconds field. Restricted day-of-month and day-of-week are OR'd, per
// classic cron semantics.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a closed variant describing when a task fires. Construct it
// only through the New* constructors; they validate, and for Cron they
// pre-parse the expression so Next never fails at execution time.
type Schedule struct {
	Type ScheduleType

	FireAt     time.Time      // one-time
	Expression string         // cron
	Delay      time.Duration  // fixed-delay
	Hour       int            // daily
	Minute     int            // daily
	Location   *time.Location // cron, daily; UTC when unset

	cronSched cron.Schedule
}

func NewOneTime(fireAt time.Time) (Schedule, error) {
	if fireAt.IsZero() {
		return Schedule{}, fmt.Errorf("%w: one-time schedule requires an execution time", ErrValidation)
	}
	return Schedule{Type: ScheduleOneTime, FireAt: fireAt.UTC()}, nil
}

func NewCron(expression string, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, expression, err)
	}
	// Expressions like "0 0 30 2 *" (Feb 30) parse but never match; the
	// cron library signals that with a zero next-fire time.
	if sched.Next(time.Now().In(loc)).IsZero() {
		return Schedule{}, fmt.Errorf("%w: %q never fires", ErrInvalidCronExpr, expression)
	}
	return Schedule{Type: ScheduleCron, Expression: expression, Location: loc, cronSched: sched}, nil
}

func NewFixedDelay(delay time.Duration) (Schedule, error) {
	if delay <= 0 {
		return Schedule{}, fmt.Errorf("%w: fixed delay must be positive, got %s", ErrValidation, delay)
	}
	return Schedule{Type: ScheduleFixedDelay, Delay: delay}, nil
}

func NewDaily(hour, minute int, loc *time.Location) (Schedule, error) {
	if hour < 0 || hour > 23 {
		return Schedule{}, fmt.Errorf("%w: daily hour must be in [0,23], got %d", ErrValidation, hour)
	}
	if minute < 0 || minute > 59 {
		return Schedule{}, fmt.Errorf("%w: daily minute must be in [0,59], got %d", ErrValidation, minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Schedule{Type: ScheduleDaily, Hour: hour, Minute: minute, Location: loc}, nil
}

// Recurring reports whether the schedule produces more than one fire.
func (s Schedule) Recurring() bool {
	return s.Type != ScheduleOneTime
}

// Next returns the first fire instant strictly after the given instant.
// ok is false when the schedule is exhausted (a one-time schedule whose
// fire instant is not in the future of after).
func (s Schedule) Next(after time.Time) (next time.Time, ok bool) {
	switch s.Type {
	case ScheduleOneTime:
		if after.Before(s.FireAt) {
			return s.FireAt, true
		}
		return time.Time{}, false

	case ScheduleCron:
		sched := s.cronSched
		if sched == nil {
			// Rebuilt from a descriptor without the constructor; the
			// expression was validated before persistence, so parse
			// cannot fail here.
			sched, _ = cronParser.Parse(s.Expression)
			if sched == nil {
				return time.Time{}, false
			}
		}
		// A zero result means no match within the cron library's search
		// horizon; treat the schedule as exhausted rather than handing
		// back an instantly-due zero time.
		n := sched.Next(after.In(s.location()))
		if n.IsZero() || !n.After(after) {
			return time.Time{}, false
		}
		return n.UTC(), true

	case ScheduleFixedDelay:
		return after.Add(s.Delay).UTC(), true

	case ScheduleDaily:
		local := after.In(s.location())
		candidate := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.location())
		if !candidate.After(after) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate.UTC(), true
	}
	return time.Time{}, false
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// ScheduleDescriptor is the JSON form of a Schedule, persisted inside the
// task payload and reconstructed (re-validated) at execution time.
type ScheduleDescriptor struct {
	Type         ScheduleType `json:"type"`
	FireAtMillis int64        `json:"fireAtMillis,omitempty"`
	Expression   string       `json:"expression,omitempty"`
	DelaySeconds int64        `json:"delaySeconds,omitempty"`
	Hour         int          `json:"hour,omitempty"`
	Minute       int          `json:"minute,omitempty"`
	Zone         string       `json:"zone,omitempty"`
}

// Descriptor returns the persistable form of the schedule.
func (s Schedule) Descriptor() ScheduleDescriptor {
	d := ScheduleDescriptor{Type: s.Type}
	switch s.Type {
	case ScheduleOneTime:
		d.FireAtMillis = s.FireAt.UnixMilli()
	case ScheduleCron:
		d.Expression = s.Expression
		d.Zone = s.location().String()
	case ScheduleFixedDelay:
		d.DelaySeconds = int64(s.Delay / time.Second)
	case ScheduleDaily:
		d.Hour = s.Hour
		d.Minute = s.Minute
		d.Zone = s.location().String()
	}
	return d
}

// Schedule rebuilds a validated Schedule from its persisted form.
func (d ScheduleDescriptor) Schedule() (Schedule, error) {
	loc := time.UTC
	if d.Zone != "" {
		var err error
		if loc, err = time.LoadLocation(d.Zone); err != nil {
			return Schedule{}, fmt.Errorf("%w: unknown zone %q", ErrValidation, d.Zone)
		}
	}

	switch d.Type {
	case ScheduleOneTime:
		return NewOneTime(time.UnixMilli(d.FireAtMillis))
	case ScheduleCron:
		return NewCron(d.Expression, loc)
	case ScheduleFixedDelay:
		return NewFixedDelay(time.Duration(d.DelaySeconds) * time.Second)
	case ScheduleDaily:
		return NewDaily(d.Hour, d.Minute, loc)
	}
	return Schedule{}, fmt.Errorf("%w: unknown schedule type %q", ErrValidation, d.Type)
}
