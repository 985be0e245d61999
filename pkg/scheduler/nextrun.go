package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// DefaultMonthlySearchLimit bounds the monthly forward search
const DefaultMonthlySearchLimit = 24

// Schedule is the frequency specification of a job, resolved and validated
type Schedule struct {
	Frequency  string
	Hour       int
	Minute     int
	DayOfWeek  time.Weekday
	DayOfMonth int
	Location   *time.Location
	// MonthlyLimit is how many months the monthly search inspects
	MonthlyLimit int
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, outcome.Fail(outcome.Configuration, "Invalid time of day %q, expected HH:MM", s)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, outcome.Fail(outcome.Configuration, "Invalid time of day %q, expected HH:MM", s)
	}
	return hour, minute, nil
}

// ScheduleFor validates the frequency fields of job
func ScheduleFor(job *metadata.Job, loc *time.Location, monthlyLimit int) (Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	timeOfDay := job.TimeOfDay
	if timeOfDay == "" {
		timeOfDay = "01:00"
	}
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return Schedule{}, err
	}

	s := Schedule{
		Frequency:    job.Frequency,
		Hour:         hour,
		Minute:       minute,
		Location:     loc,
		MonthlyLimit: monthlyLimit,
	}

	switch job.Frequency {
	case metadata.FrequencyDaily:
	case metadata.FrequencyWeekly:
		if job.DayOfWeek == nil || *job.DayOfWeek < 0 || *job.DayOfWeek > 6 {
			return Schedule{}, outcome.Fail(outcome.Configuration, "Weekly job %q needs a day of week between 0 (Sunday) and 6", job.Name)
		}
		s.DayOfWeek = time.Weekday(*job.DayOfWeek)
	case metadata.FrequencyMonthly:
		if job.DayOfMonth == nil || *job.DayOfMonth < 1 || *job.DayOfMonth > 31 {
			return Schedule{}, outcome.Fail(outcome.Configuration, "Monthly job %q needs a day of month between 1 and 31", job.Name)
		}
		s.DayOfMonth = *job.DayOfMonth
	default:
		return Schedule{}, outcome.Fail(outcome.Configuration, "Unsupported frequency %q", job.Frequency)
	}
	return s, nil
}

// ComputeNextRun returns the first run time of s strictly after now. It
// depends only on its arguments.
func ComputeNextRun(s Schedule, now time.Time) (time.Time, error) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	y, m, d := now.Date()

	switch s.Frequency {
	case metadata.FrequencyDaily:
		candidate := time.Date(y, m, d, s.Hour, s.Minute, 0, 0, loc)
		if !candidate.After(now) {
			candidate = time.Date(y, m, d+1, s.Hour, s.Minute, 0, 0, loc)
		}
		return candidate, nil

	case metadata.FrequencyWeekly:
		delta := int(s.DayOfWeek) - int(now.Weekday())
		candidate := time.Date(y, m, d+delta, s.Hour, s.Minute, 0, 0, loc)
		if delta < 0 || (delta == 0 && !candidate.After(now)) {
			candidate = time.Date(y, m, d+delta+7, s.Hour, s.Minute, 0, 0, loc)
		}
		return candidate, nil

	case metadata.FrequencyMonthly:
		limit := s.MonthlyLimit
		if limit <= 0 {
			limit = DefaultMonthlySearchLimit
		}
		for i := 0; i < limit; i++ {
			candidate := time.Date(y, m+time.Month(i), s.DayOfMonth, s.Hour, s.Minute, 0, 0, loc)
			// time.Date normalizes day 31 of a 30 day month into the next month
			if candidate.Day() != s.DayOfMonth {
				continue
			}
			if candidate.After(now) {
				return candidate, nil
			}
		}
		return time.Time{}, outcome.Fail(outcome.Scheduling,
			"No valid run date for day %d within %d months", s.DayOfMonth, limit)
	}

	return time.Time{}, outcome.Fail(outcome.Configuration, "Unsupported frequency %q", s.Frequency)
}

// NextRun validates job and computes its next run after now
func NextRun(job *metadata.Job, now time.Time, loc *time.Location, monthlyLimit int) (time.Time, error) {
	s, err := ScheduleFor(job, loc, monthlyLimit)
	if err != nil {
		return time.Time{}, err
	}
	next, err := ComputeNextRun(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("job %s: %w", job.Name, err)
	}
	return next, nil
}
