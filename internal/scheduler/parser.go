package scheduler

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

var (
	// Seconds are optional so "*/30 * * * * *" and "0 2 * * *" both parse.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	// "every 5m", "every 2 hours", "every 30s"
	intervalRegex = regexp.MustCompile(`^every\s+(\d+)\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)

	maxInterval = 365 * 24 * time.Hour
)

// ParseSchedule parses an automation schedule. Accepted forms:
//   - cron expressions with 5 or 6 fields: "0 2 * * *", "*/10 * * * * *"
//   - intervals: "every 5m", "every 2 hours"
//   - descriptors: "@hourly", "@daily", "@every 90s"
//
// A leading "CRON_TZ=<zone>" pins a cron expression to a time zone.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("schedule expression cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(expr), "every ") {
		schedule, err := parseInterval(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid interval expression %q", expr)
		}
		return schedule, nil
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "invalid cron expression %q", expr),
			`use 5 or 6 cron fields, a descriptor such as "@daily", or "every <n><unit>"`)
	}
	return schedule, nil
}

func parseInterval(expr string) (cron.Schedule, error) {
	matches := intervalRegex.FindStringSubmatch(strings.ToLower(expr))
	if len(matches) != 3 {
		return nil, errors.New("expected 'every <number> <unit>' (e.g. 'every 5m')")
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil || value <= 0 {
		return nil, errors.New("interval must be a positive integer")
	}

	var unit time.Duration
	switch matches[2] {
	case "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		return nil, errors.Newf("unsupported time unit %q", matches[2])
	}

	if int64(value) > int64(maxInterval/unit) {
		return nil, errors.New("interval cannot exceed 1 year")
	}
	return cron.Every(time.Duration(value) * unit), nil
}

// ValidateSchedule reports whether expr parses.
func ValidateSchedule(expr string) error {
	_, err := ParseSchedule(expr)
	return err
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

// NextRuns returns the next n activations of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, max(n, 0))
	t := from
	for range n {
		t = schedule.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}
