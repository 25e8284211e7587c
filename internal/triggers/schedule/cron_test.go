package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-triggers/internal/common/errors"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestNextRunAt_WeekdayAcrossSpringForward(t *testing.T) {
	from := mustTime(t, "2024-03-08T23:00:00Z")

	next, err := NextRunAt("0 9 * * MON-FRI", "America/New_York", from)
	require.NoError(t, err)

	assert.Equal(t, mustTime(t, "2024-03-11T13:00:00Z"), next)
}

func TestNextRunAt_UsesScheduleTimezoneNotServer(t *testing.T) {
	from := mustTime(t, "2024-06-01T00:00:00Z")

	tokyo, err := NextRunAt("30 8 * * *", "Asia/Tokyo", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-06-01T23:30:00Z"), tokyo)

	utc, err := NextRunAt("30 8 * * *", "", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-06-01T08:30:00Z"), utc)
}

func TestNextRunAt_FallBackTransition(t *testing.T) {
	// 2024-11-03 01:30 happens twice in New York; the first occurrence is EDT.
	from := mustTime(t, "2024-11-03T04:00:00Z")

	next, err := NextRunAt("30 1 * * *", "America/New_York", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-11-03T05:30:00Z"), next)
}

func TestNextRunAt_StrictlyAfterFrom(t *testing.T) {
	from := mustTime(t, "2024-01-01T09:00:00Z")

	next, err := NextRunAt("0 9 * * *", "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-01-02T09:00:00Z"), next)
}

func TestNextRunAt_Monotonic(t *testing.T) {
	exprs := []string{"*/5 * * * *", "0 9 * * MON-FRI", "0 0 1 * *", "@hourly", "15 2 * * SUN"}
	zones := []string{"UTC", "America/New_York", "Europe/London", "Europe/Berlin", "Asia/Kolkata"}
	start := mustTime(t, "2024-03-09T12:34:56Z")

	for _, expr := range exprs {
		for _, tz := range zones {
			cursor := start
			for i := 0; i < 40; i++ {
				next, err := NextRunAt(expr, tz, cursor)
				require.NoError(t, err, "%s %s", expr, tz)
				require.True(t, next.After(cursor), "%s %s: %s !> %s", expr, tz, next, cursor)
				cursor = next
			}
		}
	}
}

func TestNextRunAt_Invalid(t *testing.T) {
	from := mustTime(t, "2024-01-01T00:00:00Z")

	tests := []struct {
		name, expr, tz string
	}{
		{"empty expression", "", "UTC"},
		{"garbage", "every day at noon", "UTC"},
		{"six fields", "0 0 9 * * *", "UTC"},
		{"out of range", "61 * * * *", "UTC"},
		{"unknown timezone", "0 9 * * *", "Mars/Olympus_Mons"},
		{"server local", "0 9 * * *", "Local"},
		{"inline timezone", "CRON_TZ=UTC 0 9 * * *", "UTC"},
		{"never fires", "0 0 30 2 *", "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextRunAt(tt.expr, tt.tz, from)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeInvalidScheduleConfig))
		})
	}
}

func TestUpcoming(t *testing.T) {
	from := mustTime(t, "2024-03-08T23:00:00Z")

	got, err := Upcoming("0 9 * * MON-FRI", "America/New_York", from, 3)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		mustTime(t, "2024-03-11T13:00:00Z"),
		mustTime(t, "2024-03-12T13:00:00Z"),
		mustTime(t, "2024-03-13T13:00:00Z"),
	}, got)
}
