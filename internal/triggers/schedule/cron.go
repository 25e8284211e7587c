// Package schedule computes cron fire times in a schedule's own timezone.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"agent-triggers/internal/common/errors"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Expression is a parsed cron expression bound to an IANA location
type Expression struct {
	spec     string
	timezone string
	sched    cron.Schedule
	loc      *time.Location
}

// Parse validates expr and timezone. An empty timezone means UTC. The server's
// local zone is never used, and inline CRON_TZ/TZ prefixes are rejected
// because the timezone field governs evaluation.
func Parse(expr, timezone string) (*Expression, error) {
	spec := strings.TrimSpace(expr)
	if spec == "" {
		return nil, errors.InvalidScheduleConfigError("cron expression is required", nil)
	}
	if strings.HasPrefix(spec, "TZ=") || strings.HasPrefix(spec, "CRON_TZ=") {
		return nil, errors.InvalidScheduleConfigError("cron expression must not embed a timezone; use the timezone field", nil)
	}

	tz := strings.TrimSpace(timezone)
	if tz == "" {
		tz = "UTC"
	}
	if tz == "Local" {
		return nil, errors.InvalidScheduleConfigError("timezone must be an IANA name, not Local", nil)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.InvalidScheduleConfigError(fmt.Sprintf("unknown timezone %q", timezone), err)
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.InvalidScheduleConfigError(fmt.Sprintf("invalid cron expression %q", expr), err)
	}

	return &Expression{spec: spec, timezone: tz, sched: sched, loc: loc}, nil
}

// Next returns the first fire instant strictly after from, in UTC.
// The zero time means the expression never fires.
func (e *Expression) Next(from time.Time) time.Time {
	next := e.sched.Next(from.In(e.loc))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}

// Timezone returns the resolved IANA name
func (e *Expression) Timezone() string {
	return e.timezone
}

// String returns the normalized expression
func (e *Expression) String() string {
	return e.spec
}

// NextRunAt computes the next fire instant strictly after from. It fails with
// an invalid_schedule_config error when the expression or timezone cannot be
// resolved, or when the expression can never fire.
func NextRunAt(expr, timezone string, from time.Time) (time.Time, error) {
	e, err := Parse(expr, timezone)
	if err != nil {
		return time.Time{}, err
	}
	next := e.Next(from)
	if next.IsZero() {
		return time.Time{}, errors.InvalidScheduleConfigError(fmt.Sprintf("cron expression %q never fires", expr), nil)
	}
	return next, nil
}

// Validate checks that expr and timezone resolve and fire at least once after now
func Validate(expr, timezone string, now time.Time) error {
	_, err := NextRunAt(expr, timezone, now)
	return err
}

// Upcoming lists the next n fire instants after from
func Upcoming(expr, timezone string, from time.Time, n int) ([]time.Time, error) {
	e, err := Parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cursor := from
	for i := 0; i < n; i++ {
		next := e.Next(cursor)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}
