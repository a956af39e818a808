package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05", value)
	require.NoError(t, err)
	return parsed
}

func TestNextTime(t *testing.T) {
	cases := []struct {
		name string
		expr string
		now  string
		want string
	}{
		{
			name: "every n minutes rounds up",
			expr: "*/15 * * * *",
			now:  "2026-04-14 10:07:00",
			want: "2026-04-14 10:15:00",
		},
		{
			name: "every n minutes on the boundary advances a full step",
			expr: "*/15 * * * *",
			now:  "2026-04-14 10:15:00",
			want: "2026-04-14 10:30:00",
		},
		{
			name: "every n hours rounds up",
			expr: "0 */3 * * *",
			now:  "2026-04-14 13:00:01",
			want: "2026-04-14 15:00:00",
		},
		{
			name: "daily still ahead today",
			expr: "30 9 * * *",
			now:  "2026-04-14 08:00:00",
			want: "2026-04-14 09:30:00",
		},
		{
			name: "daily already past rolls to tomorrow",
			expr: "30 9 * * *",
			now:  "2026-04-14 09:30:00",
			want: "2026-04-15 09:30:00",
		},
		{
			// 2026-04-14 is a Tuesday
			name: "weekly picks the earliest listed weekday",
			expr: "30 9 * * 1,3,5",
			now:  "2026-04-14 08:00:00",
			want: "2026-04-15 09:30:00",
		},
		{
			name: "weekly can fire later today",
			expr: "30 9 * * 2",
			now:  "2026-04-14 08:00:00",
			want: "2026-04-14 09:30:00",
		},
		{
			name: "weekly today already past rolls a week",
			expr: "30 9 * * 2",
			now:  "2026-04-14 10:00:00",
			want: "2026-04-21 09:30:00",
		},
		{
			name: "monthly earliest upcoming day",
			expr: "0 6 1,15,28 * *",
			now:  "2026-04-14 12:00:00",
			want: "2026-04-15 06:00:00",
		},
		{
			name: "monthly all days past rolls to next month",
			expr: "0 6 1,5 * *",
			now:  "2026-04-14 12:00:00",
			want: "2026-05-01 06:00:00",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := NextTime(c.expr, at(t, c.now))
			require.True(t, ok)
			require.Equal(t, at(t, c.want), got)
		})
	}
}

func TestNextTimeUnsupportedShapes(t *testing.T) {
	now := at(t, "2026-04-14 10:00:00")

	for _, expr := range []string{
		"",
		"* * * * *",
		"*/5 */2 * * *",
		"30 9 * 6 *",
		"30 9 1,15 * 2",
		"*/0 * * * *",
		"30 9 * * 7,9",
		"not a cron",
		"* * * *",
	} {
		_, ok := NextTime(expr, now)
		require.False(t, ok, "expression %q should have no prediction", expr)
	}
}
