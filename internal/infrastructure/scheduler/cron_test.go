package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "every minute", expr: "* * * * *"},
		{name: "nightly at three", expr: "0 3 * * *"},
		{name: "every five minutes", expr: "*/5 * * * *"},
		{name: "range", expr: "0 9-17 * * *"},
		{name: "list", expr: "0 0 * * 1,3,5"},
		{name: "too few fields", expr: "0 3 * *", wantErr: true},
		{name: "too many fields", expr: "0 3 * * * *", wantErr: true},
		{name: "minute out of range", expr: "60 * * * *", wantErr: true},
		{name: "hour out of range", expr: "0 24 * * *", wantErr: true},
		{name: "garbage field", expr: "x * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestCronExpressionNext(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "nightly archive before three",
			expr:  "0 3 * * *",
			after: time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
		},
		{
			name:  "nightly archive after three rolls to next day",
			expr:  "0 3 * * *",
			after: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC),
		},
		{
			name:  "every five minutes",
			expr:  "*/5 * * * *",
			after: time.Date(2026, 3, 2, 10, 2, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC),
		},
		{
			name:  "strictly after an exact match",
			expr:  "*/5 * * * *",
			after: time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC),
		},
		{
			name:  "sunday midnight",
			expr:  "0 0 * * 0",
			after: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), // Monday
			want:  time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "first of month",
			expr:  "0 0 1 * *",
			after: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(tt.after))
		})
	}
}

func TestCronSchedule(t *testing.T) {
	s, err := NewCronSchedule("0 3 * * *")
	require.NoError(t, err)
	assert.Equal(t, "cron(0 3 * * *)", s.String())

	after := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), s.Next(after))

	_, err = NewCronSchedule("not a cron")
	assert.Error(t, err)
}

func TestMustCronSchedule(t *testing.T) {
	assert.NotPanics(t, func() { MustCronSchedule("0 3 * * *") })
	assert.Panics(t, func() { MustCronSchedule("bogus") })
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(10 * time.Minute)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(10*time.Minute), s.Next(now))
	assert.Equal(t, "@every 10m0s", s.String())
}
