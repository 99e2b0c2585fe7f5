package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/harvest-tasks/pkg/security"
)

// Schedule yields run times.
type Schedule interface {
	Next(from time.Time) time.Time
}

type everySchedule struct {
	interval time.Duration
}

// Every runs at a fixed interval.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily runs once a day at hour:minute UTC.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly runs once a week on day at hour:minute UTC.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	days := int(s.day - from.Weekday())
	if days < 0 {
		days += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+days, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

type cronSchedule struct {
	expr     string
	schedule cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five field cron expression or a descriptor such as
// "@hourly" or "@every 5m".
func ParseCron(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{expr: expr, schedule: s}, nil
}

// Cron is ParseCron for expressions known to be valid. It panics otherwise.
func Cron(expr string) Schedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *cronSchedule) String() string { return s.expr }

// ErrNoSchedule is returned for an entry without a schedule.
var ErrNoSchedule = errors.New("harvest: schedule entry has no schedule")

// Entry queues the template Category/Name whenever Schedule fires.
type Entry struct {
	Name     string
	Schedule Schedule
	Priority int
	Category string
	Template string
	Config   map[string]any
}

// Validate checks the entry before it is scheduled.
func (e *Entry) Validate() error {
	if err := security.ValidateName(e.Name); err != nil {
		return fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	if e.Schedule == nil {
		return fmt.Errorf("schedule %q: %w", e.Name, ErrNoSchedule)
	}
	if err := security.ValidatePriority(e.Priority); err != nil {
		return fmt.Errorf("schedule %q: %w", e.Name, err)
	}
	if err := security.ValidateName(e.Category); err != nil {
		return fmt.Errorf("schedule %q category: %w", e.Name, err)
	}
	if err := security.ValidateName(e.Template); err != nil {
		return fmt.Errorf("schedule %q template: %w", e.Name, err)
	}
	return nil
}
