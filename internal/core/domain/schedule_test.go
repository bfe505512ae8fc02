package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresetExpression(t *testing.T) {
	tests := []struct {
		name      string
		frequency ScheduleFrequency
		timeOfDay *string
		dayOfWeek *int
		want      string
		wantErr   bool
	}{
		{name: "hourly uses minute only", frequency: FrequencyHourly, timeOfDay: strPtr("13:45"), want: "45 * * * *"},
		{name: "daily", frequency: FrequencyDaily, timeOfDay: strPtr("02:30"), want: "30 2 * * *"},
		{name: "daily defaults to midnight", frequency: FrequencyDaily, want: "0 0 * * *"},
		{name: "weekly", frequency: FrequencyWeekly, timeOfDay: strPtr("23:05"), dayOfWeek: intPtr(5), want: "5 23 * * 5"},
		{name: "monthly on the first", frequency: FrequencyMonthly, timeOfDay: strPtr("04:00"), want: "0 4 1 * *"},
		{name: "weekly day out of range", frequency: FrequencyWeekly, dayOfWeek: intPtr(7), wantErr: true},
		{name: "bad hour", frequency: FrequencyDaily, timeOfDay: strPtr("24:00"), wantErr: true},
		{name: "bad format", frequency: FrequencyDaily, timeOfDay: strPtr("0230"), wantErr: true},
		{name: "unknown frequency", frequency: "fortnightly", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PresetExpression(tt.frequency, tt.timeOfDay, tt.dayOfWeek)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRun(t *testing.T) {
	after := time.Date(2025, 11, 1, 2, 0, 0, 0, time.UTC)

	next, err := NextRun("0 2 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 2, 2, 0, 0, 0, time.UTC), next, "an exact match is not strictly after")

	next, err = NextRun("@hourly", after)
	require.NoError(t, err)
	assert.Equal(t, after.Add(time.Hour), next)

	for _, expr := range []string{"", "   ", "61 * * * *", "not a cron", "* * * *"} {
		_, err := NextRun(expr, after)
		assert.ErrorIs(t, err, ErrInvalidSchedule, expr)
	}

	// February 30th never exists.
	_, err = NextRun("0 0 30 2 *", after)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestNextRunIsStrictlyAfterAndMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	expressions := []string{"*/5 * * * *", "0 2 * * *", "30 4 * * 1", "0 0 1 * *", "15 * * * *"}
	origin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("next run is after the pass time and never moves backwards", prop.ForAll(
		func(exprIdx int, offsetMinutes, gapMinutes int64) bool {
			expr := expressions[exprIdx]
			t1 := origin.Add(time.Duration(offsetMinutes) * time.Minute)
			t2 := t1.Add(time.Duration(gapMinutes) * time.Minute)

			n1, err := NextRun(expr, t1)
			if err != nil {
				return false
			}
			n2, err := NextRun(expr, t2)
			if err != nil {
				return false
			}
			return n1.After(t1) && n2.After(t2) && !n2.Before(n1)
		},
		gen.IntRange(0, len(expressions)-1),
		gen.Int64Range(0, 525600),
		gen.Int64Range(0, 20160),
	))

	properties.TestingRun(t)
}

func TestBackupConfigScheduling(t *testing.T) {
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

	cfg := NewBackupConfig(1, "daily files", BackupTypeFiles, now)
	cfg.Frequency = FrequencyDaily
	cfg.TimeOfDay = strPtr("02:00")
	require.NoError(t, cfg.RecomputeNextRun(now))
	assert.Equal(t, "0 2 * * *", cfg.Schedule)
	assert.Equal(t, time.Date(2025, 11, 2, 2, 0, 0, 0, time.UTC), *cfg.NextRunAt)

	assert.False(t, cfg.IsDue(now))
	assert.True(t, cfg.IsDue(*cfg.NextRunAt))

	pass := cfg.NextRunAt.Add(30 * time.Second)
	require.NoError(t, cfg.MarkRun(pass))
	assert.Equal(t, pass, *cfg.LastRunAt)
	assert.True(t, cfg.NextRunAt.After(pass))

	cfg.IsActive = false
	assert.False(t, cfg.IsDue(cfg.NextRunAt.Add(time.Hour)))
}

func TestInvalidCustomScheduleIsNeverDue(t *testing.T) {
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	cfg := NewBackupConfig(1, "broken", BackupTypeConfig, now)
	cfg.Frequency = FrequencyCustom
	cfg.Schedule = "every tuesday"
	past := now.Add(-time.Hour)
	cfg.NextRunAt = &past

	err := cfg.RecomputeNextRun(now)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Nil(t, cfg.NextRunAt)

	for _, at := range []time.Time{now, now.Add(24 * time.Hour), now.AddDate(1, 0, 0)} {
		assert.False(t, cfg.IsDue(at))
	}

	assert.ErrorIs(t, cfg.MarkRun(now), ErrInvalidSchedule)
	assert.Equal(t, now, *cfg.LastRunAt)
	assert.Nil(t, cfg.NextRunAt)
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
