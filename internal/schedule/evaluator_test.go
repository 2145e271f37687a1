package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uplifthq/uplift/internal/model"
)

func dailySchedule(times []string, tz string) model.Schedule {
	return model.Schedule{
		Frequency: model.FrequencyDaily,
		Times:     times,
		Timezone:  tz,
	}
}

func TestDueSlots_DailyUTC(t *testing.T) {
	s := dailySchedule([]string{"08:00"}, "UTC")
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), eval.Due[0])
	assert.False(t, eval.SkipConsumed)
}

func TestDueSlots_NotYetDue(t *testing.T) {
	s := dailySchedule([]string{"08:00"}, "UTC")
	now := time.Date(2024, 1, 10, 7, 59, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
}

func TestDueSlots_IdempotentAfterDispatch(t *testing.T) {
	s := dailySchedule([]string{"08:00"}, "UTC")
	slot := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	first, err := DueSlots(s, slot, nil)
	require.NoError(t, err)
	require.Len(t, first.Due, 1)

	second, err := DueSlots(s, slot.Add(30*time.Second), first.Due)
	require.NoError(t, err)
	assert.Empty(t, second.Due, "already-dispatched slot must not fire again")
}

func TestDueSlots_TimezoneOffsets(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "America/New_York")

	// EST: 09:00 local is 14:00 UTC.
	winter := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	eval, err := DueSlots(s, winter, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, winter, eval.Due[0])

	// EDT: 09:00 local is 13:00 UTC.
	summer := time.Date(2024, 7, 15, 13, 0, 0, 0, time.UTC)
	eval, err = DueSlots(s, summer, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, summer, eval.Due[0])
}

func TestDueSlots_DSTNonexistentTimeShiftsForward(t *testing.T) {
	// 2024-03-10 02:30 does not exist in New York; the clock jumps from
	// 02:00 EST to 03:00 EDT. The slot shifts forward past the gap.
	s := dailySchedule([]string{"02:30"}, "America/New_York")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)

	loc, _ := time.LoadLocation("America/New_York")
	local := eval.Due[0].In(loc)
	assert.Equal(t, 3, local.Hour())
	assert.Equal(t, 30, local.Minute())
	assert.Equal(t, 10, local.Day())
}

func TestDueSlots_DSTAmbiguousTimeFirstOccurrence(t *testing.T) {
	// 2024-11-03 01:30 occurs twice in New York (EDT then EST). The first
	// occurrence (01:30 EDT = 05:30 UTC) wins; 06:30 UTC would be the second.
	s := dailySchedule([]string{"01:30"}, "America/New_York")
	now := time.Date(2024, 11, 3, 12, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), eval.Due[0])
}

func TestDueSlots_PausedSuppressesEverything(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.Paused = true
	s.SkipNext = true
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
	assert.False(t, eval.SkipConsumed, "paused schedules must not consume skip_next")
}

func TestDueSlots_SkipNextConsumesOneSlot(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.SkipNext = true
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
	assert.True(t, eval.SkipConsumed)
	assert.Equal(t, now, eval.SkippedSlot)

	// Once the consumed slot is recorded as dispatched, re-evaluation with
	// the flag still set must not consume anything else today.
	eval, err = DueSlots(s, now, []time.Time{eval.SkippedSlot})
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
	assert.False(t, eval.SkipConsumed)

	// The following day fires normally once the flag is cleared.
	s.SkipNext = false
	nextDay := now.Add(24 * time.Hour)
	eval, err = DueSlots(s, nextDay, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
}

func TestDueSlots_SkipNextConsumesEarliestOfSeveral(t *testing.T) {
	s := dailySchedule([]string{"08:00", "12:00"}, "UTC")
	s.SkipNext = true
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	require.True(t, eval.SkipConsumed)
	assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), eval.SkippedSlot)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), eval.Due[0])
}

func TestDueSlots_WeeklyFiresOnConfiguredWeekdays(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.Frequency = model.FrequencyWeekly
	s.Weekdays = []int{1} // Monday

	monday := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	eval, err := DueSlots(s, monday, nil)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 1)

	tuesday := monday.Add(24 * time.Hour)
	eval, err = DueSlots(s, tuesday, nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
}

func TestDueSlots_MonthlyFiresOnConfiguredDates(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.Frequency = model.FrequencyMonthly
	s.MonthlyDates = []int{1, 15}

	eval, err := DueSlots(s, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 1)

	eval, err = DueSlots(s, time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
}

func TestDueSlots_CustomIntervalAnchoredOnStartDate(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.Frequency = model.FrequencyCustom
	s.IntervalDays = 3
	s.StartDate = &anchor

	// Days 0, 3, 6... match.
	eval, err := DueSlots(s, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 1)

	eval, err = DueSlots(s, time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due)
}

func TestDueSlots_DateBounds(t *testing.T) {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	s := dailySchedule([]string{"09:00"}, "UTC")
	s.StartDate = &start
	s.EndDate = &end

	eval, err := DueSlots(s, time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due, "before start_date")

	eval, err = DueSlots(s, time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 1, "inside bounds")

	eval, err = DueSlots(s, time.Date(2024, 1, 13, 9, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Empty(t, eval.Due, "after end_date")
}

func TestDueSlots_WindowFiltersCandidates(t *testing.T) {
	s := dailySchedule([]string{"07:00", "10:00"}, "UTC")
	s.Windows = []model.Window{{Start: "09:00", End: "12:00", Timezone: "UTC", MaxSends: 5}}

	now := time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)
	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	require.Len(t, eval.Due, 1)
	assert.Equal(t, 10, eval.Due[0].Hour(), "07:00 falls outside the window")
}

func TestDueSlots_WindowMaxSendsCap(t *testing.T) {
	s := dailySchedule([]string{"09:00", "10:00", "11:00"}, "UTC")
	s.Windows = []model.Window{{Start: "09:00", End: "12:00", Timezone: "UTC", MaxSends: 2}}

	now := time.Date(2024, 1, 10, 11, 30, 0, 0, time.UTC)
	eval, err := DueSlots(s, now, nil)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 2, "window cap limits a single pass")

	// With one slot already dispatched inside the window only one remains.
	dispatched := []time.Time{time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	eval, err = DueSlots(s, now, dispatched)
	require.NoError(t, err)
	assert.Len(t, eval.Due, 1)
}

func TestDueSlots_NoDoubleFireAcrossDSTBoundary(t *testing.T) {
	s := dailySchedule([]string{"09:00"}, "America/New_York")

	// Evaluate every tick of the transition day plus the day after; each
	// local date must produce exactly one slot. The loop starts at local
	// midnight on the transition day (05:00 UTC while still EST) and covers
	// two full local days.
	seen := map[time.Time]struct{}{}
	var dispatched []time.Time

	start := time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC)
	for now := start; now.Before(start.Add(47 * time.Hour)); now = now.Add(time.Minute) {
		eval, err := DueSlots(s, now, dispatched)
		require.NoError(t, err)
		for _, slot := range eval.Due {
			_, dup := seen[slot]
			require.False(t, dup, "slot %v fired twice", slot)
			seen[slot] = struct{}{}
			dispatched = append(dispatched, slot)
		}
	}

	assert.Len(t, seen, 2)
}

func TestValidate(t *testing.T) {
	valid := dailySchedule([]string{"09:00"}, "UTC")
	assert.NoError(t, Validate(valid))

	cases := []struct {
		name   string
		mutate func(*model.Schedule)
	}{
		{"empty times", func(s *model.Schedule) { s.Times = nil }},
		{"bad time", func(s *model.Schedule) { s.Times = []string{"25:00"} }},
		{"duplicate time", func(s *model.Schedule) { s.Times = []string{"09:00", "09:00"} }},
		{"bad timezone", func(s *model.Schedule) { s.Timezone = "Mars/Olympus" }},
		{"weekly without weekdays", func(s *model.Schedule) { s.Frequency = model.FrequencyWeekly }},
		{"monthly without dates", func(s *model.Schedule) { s.Frequency = model.FrequencyMonthly }},
		{"custom without interval", func(s *model.Schedule) { s.Frequency = model.FrequencyCustom }},
		{"too many windows", func(s *model.Schedule) {
			for i := 0; i < 6; i++ {
				s.Windows = append(s.Windows, model.Window{Start: "09:00", End: "10:00", Timezone: "UTC", MaxSends: 1})
			}
		}},
		{"window zero cap", func(s *model.Schedule) {
			s.Windows = []model.Window{{Start: "09:00", End: "10:00", Timezone: "UTC"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := dailySchedule([]string{"09:00"}, "UTC")
			tc.mutate(&s)

			err := Validate(s)
			require.Error(t, err)

			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
