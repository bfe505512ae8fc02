package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleFrequency string

const (
	FrequencyHourly  ScheduleFrequency = "hourly"
	FrequencyDaily   ScheduleFrequency = "daily"
	FrequencyWeekly  ScheduleFrequency = "weekly"
	FrequencyMonthly ScheduleFrequency = "monthly"
	FrequencyCustom  ScheduleFrequency = "custom"
)

// Standard 5-field expressions plus @daily style descriptors.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression. Every parse failure is reported as
// ErrInvalidSchedule so callers can treat it uniformly.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// NextRun returns the first activation of expr strictly after the given time.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, expr)
	}
	return next, nil
}

// PresetExpression translates the convenience schedule fields into a cron
// expression.
//
// Cron format: minute hour day_of_month month day_of_week
func PresetExpression(frequency ScheduleFrequency, timeOfDay *string, dayOfWeek *int) (string, error) {
	minute, hour := 0, 0
	if timeOfDay != nil && *timeOfDay != "" {
		h, m, err := parseTimeOfDay(*timeOfDay)
		if err != nil {
			return "", err
		}
		hour, minute = h, m
	}

	switch frequency {
	case FrequencyHourly:
		return fmt.Sprintf("%d * * * *", minute), nil
	case FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case FrequencyWeekly:
		dow := 0
		if dayOfWeek != nil {
			if *dayOfWeek < 0 || *dayOfWeek > 6 {
				return "", fmt.Errorf("%w: day_of_week must be 0-6, got %d", ErrInvalidSchedule, *dayOfWeek)
			}
			dow = *dayOfWeek
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, dow), nil
	case FrequencyMonthly:
		return fmt.Sprintf("%d %d 1 * *", minute, hour), nil
	default:
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, frequency)
	}
}

func parseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time_of_day must be HH:MM, got %q", ErrInvalidSchedule, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidSchedule, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidSchedule, value)
	}
	return hour, minute, nil
}
