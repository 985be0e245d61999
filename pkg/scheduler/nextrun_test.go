package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

func intPtr(i int) *int { return &i }

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestComputeNextRun_Daily(t *testing.T) {
	s := Schedule{Frequency: metadata.FrequencyDaily, Hour: 2, Minute: 30, Location: time.UTC}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before time today", at(2024, 3, 10, 1, 0), at(2024, 3, 10, 2, 30)},
		{"exactly at time", at(2024, 3, 10, 2, 30), at(2024, 3, 11, 2, 30)},
		{"after time today", at(2024, 3, 10, 23, 59), at(2024, 3, 11, 2, 30)},
		{"end of month", at(2024, 2, 29, 3, 0), at(2024, 3, 1, 2, 30)},
		{"end of year", at(2024, 12, 31, 3, 0), at(2025, 1, 1, 2, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun(s, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestComputeNextRun_Weekly(t *testing.T) {
	// 2024-03-13 is a Wednesday
	s := Schedule{Frequency: metadata.FrequencyWeekly, Hour: 4, Minute: 0, DayOfWeek: time.Wednesday, Location: time.UTC}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"same day before time", at(2024, 3, 13, 3, 0), at(2024, 3, 13, 4, 0)},
		{"same day at time", at(2024, 3, 13, 4, 0), at(2024, 3, 20, 4, 0)},
		{"same day after time", at(2024, 3, 13, 5, 0), at(2024, 3, 20, 4, 0)},
		{"earlier in week", at(2024, 3, 11, 12, 0), at(2024, 3, 13, 4, 0)},
		{"later in week", at(2024, 3, 15, 12, 0), at(2024, 3, 20, 4, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun(s, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.Wednesday, got.Weekday())
		})
	}
}

func TestComputeNextRun_WeeklyEveryWeekday(t *testing.T) {
	now := at(2024, 3, 13, 12, 0)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		s := Schedule{Frequency: metadata.FrequencyWeekly, Hour: 12, Minute: 0, DayOfWeek: wd, Location: time.UTC}
		got, err := ComputeNextRun(s, now)
		require.NoError(t, err)
		assert.Equal(t, wd, got.Weekday())
		assert.True(t, got.After(now))
		assert.True(t, got.Sub(now) <= 7*24*time.Hour)
	}
}

func TestComputeNextRun_MonthlySkipsShortMonths(t *testing.T) {
	s := Schedule{Frequency: metadata.FrequencyMonthly, Hour: 1, Minute: 0, DayOfMonth: 31, Location: time.UTC}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"january before", at(2024, 1, 15, 0, 0), at(2024, 1, 31, 1, 0)},
		{"january passed skips february", at(2024, 1, 31, 2, 0), at(2024, 3, 31, 1, 0)},
		{"april skipped", at(2024, 3, 31, 1, 0), at(2024, 5, 31, 1, 0)},
		{"september skipped", at(2024, 8, 31, 6, 0), at(2024, 10, 31, 1, 0)},
		{"across year", at(2024, 12, 31, 2, 0), at(2025, 1, 31, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun(s, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeNextRun_MonthlyLeapDay(t *testing.T) {
	s := Schedule{Frequency: metadata.FrequencyMonthly, Hour: 0, Minute: 0, DayOfMonth: 29, Location: time.UTC}

	got, err := ComputeNextRun(s, at(2025, 1, 30, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, at(2025, 3, 29, 0, 0), got)

	got, err = ComputeNextRun(s, at(2024, 1, 30, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, at(2024, 2, 29, 0, 0), got)
}

func TestComputeNextRun_MonthlySearchCap(t *testing.T) {
	s := Schedule{Frequency: metadata.FrequencyMonthly, Hour: 1, Minute: 0, DayOfMonth: 31, Location: time.UTC, MonthlyLimit: 1}

	_, err := ComputeNextRun(s, at(2024, 2, 1, 0, 0))
	require.Error(t, err)
	assert.Equal(t, outcome.Scheduling, outcome.KindOf(err))
}

func TestComputeNextRun_Idempotent(t *testing.T) {
	now := at(2024, 7, 4, 8, 15)
	schedules := []Schedule{
		{Frequency: metadata.FrequencyDaily, Hour: 8, Minute: 15, Location: time.UTC},
		{Frequency: metadata.FrequencyWeekly, Hour: 9, Minute: 0, DayOfWeek: time.Monday, Location: time.UTC},
		{Frequency: metadata.FrequencyMonthly, Hour: 0, Minute: 5, DayOfMonth: 30, Location: time.UTC},
	}
	for _, s := range schedules {
		first, err := ComputeNextRun(s, now)
		require.NoError(t, err)
		second, err := ComputeNextRun(s, now)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestComputeNextRun_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s := Schedule{Frequency: metadata.FrequencyDaily, Hour: 1, Minute: 0, Location: loc}

	// 23:30 UTC is 01:30 the next day in UTC+2
	got, err := ComputeNextRun(s, at(2024, 3, 10, 23, 30))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 12, 1, 0, 0, 0, loc), got)
}

func TestScheduleFor_Validation(t *testing.T) {
	tests := []struct {
		name string
		job  metadata.Job
	}{
		{"bad time", metadata.Job{Frequency: metadata.FrequencyDaily, TimeOfDay: "25:00"}},
		{"bad time format", metadata.Job{Frequency: metadata.FrequencyDaily, TimeOfDay: "1am"}},
		{"weekly without day", metadata.Job{Frequency: metadata.FrequencyWeekly, TimeOfDay: "01:00"}},
		{"weekly out of range", metadata.Job{Frequency: metadata.FrequencyWeekly, TimeOfDay: "01:00", DayOfWeek: intPtr(7)}},
		{"monthly without day", metadata.Job{Frequency: metadata.FrequencyMonthly, TimeOfDay: "01:00"}},
		{"monthly out of range", metadata.Job{Frequency: metadata.FrequencyMonthly, TimeOfDay: "01:00", DayOfMonth: intPtr(32)}},
		{"unknown frequency", metadata.Job{Frequency: "hourly", TimeOfDay: "01:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScheduleFor(&tt.job, time.UTC, 24)
			require.Error(t, err)
			assert.Equal(t, outcome.Configuration, outcome.KindOf(err))
		})
	}
}

func TestNextRun_DefaultTimeOfDay(t *testing.T) {
	job := &metadata.Job{Name: "nightly", Frequency: metadata.FrequencyDaily}

	got, err := NextRun(job, at(2024, 3, 10, 0, 30), time.UTC, 24)
	require.NoError(t, err)
	assert.Equal(t, at(2024, 3, 10, 1, 0), got)
}
