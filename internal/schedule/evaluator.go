// Package schedule decides when a user's schedule is due to fire. The
// evaluator is a pure function over a schedule snapshot, the current instant
// and the set of already-dispatched slots, which is what makes re-evaluation
// after a crash or from a second scheduler instance safe.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uplifthq/uplift/internal/model"
)

// Evaluation is the result of one evaluator pass for a single schedule.
type Evaluation struct {
	// Due holds slot-instants (UTC) that should be dispatched now, ascending.
	Due []time.Time

	// SkipConsumed reports that the schedule's one-shot skip_next flag
	// consumed an otherwise-due slot; SkippedSlot is that slot's instant
	// (UTC). The caller must durably record the consumed slot and clear the
	// flag with conditional writes, or the slot stays due forever.
	SkipConsumed bool
	SkippedSlot  time.Time
}

// DueSlots returns the slot-instants of the given schedule that are due at
// nowUTC and not present in dispatched. dispatched holds slot-instants of
// jobs already enqueued for this schedule (any status).
//
// Candidates are generated from Times for the current local date in the
// schedule's zone, then filtered by frequency, date bounds and windows. If
// skip_next is set, the earliest due candidate is consumed instead of being
// returned.
func DueSlots(s model.Schedule, nowUTC time.Time, dispatched []time.Time) (Evaluation, error) {
	if s.Paused {
		return Evaluation{}, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load schedule timezone: %w", err)
	}

	local := nowUTC.In(loc)
	year, month, day := local.Date()
	localDate := time.Date(year, month, day, 0, 0, 0, 0, loc)

	if !withinDateBounds(s, localDate) {
		return Evaluation{}, nil
	}
	if !dateMatches(s, localDate) {
		return Evaluation{}, nil
	}

	dispatchedSet := make(map[int64]struct{}, len(dispatched))
	for _, d := range dispatched {
		dispatchedSet[d.Unix()] = struct{}{}
	}

	var due []time.Time
	for _, hhmm := range s.Times {
		hh, mm, err := parseHHMM(hhmm)
		if err != nil {
			return Evaluation{}, fmt.Errorf("parse schedule time %q: %w", hhmm, err)
		}

		slot := resolveWallClock(year, month, day, hh, mm, loc).UTC()
		if slot.After(nowUTC) {
			continue
		}
		if _, ok := dispatchedSet[slot.Unix()]; ok {
			continue
		}
		ok, err := windowsAdmit(s.Windows, slot, dispatched, due)
		if err != nil {
			return Evaluation{}, err
		}
		if !ok {
			continue
		}

		due = append(due, slot)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].Before(due[j]) })

	if s.SkipNext && len(due) > 0 {
		return Evaluation{Due: due[1:], SkipConsumed: true, SkippedSlot: due[0]}, nil
	}

	return Evaluation{Due: due}, nil
}

func withinDateBounds(s model.Schedule, localDate time.Time) bool {
	if s.StartDate != nil {
		start := dateOnly(s.StartDate.In(localDate.Location()))
		if localDate.Before(start) {
			return false
		}
	}
	if s.EndDate != nil {
		end := dateOnly(s.EndDate.In(localDate.Location()))
		if localDate.After(end) {
			return false
		}
	}
	return true
}

func dateMatches(s model.Schedule, localDate time.Time) bool {
	switch s.Frequency {
	case model.FrequencyDaily:
		return true
	case model.FrequencyWeekly:
		wd := int(localDate.Weekday())
		for _, d := range s.Weekdays {
			if d == wd {
				return true
			}
		}
		return false
	case model.FrequencyMonthly:
		dom := localDate.Day()
		for _, d := range s.MonthlyDates {
			if d == dom {
				return true
			}
		}
		return false
	case model.FrequencyCustom:
		if s.StartDate == nil || s.IntervalDays <= 0 {
			return false
		}
		anchor := dateOnly(s.StartDate.In(localDate.Location()))
		days := daysBetween(anchor, localDate)
		if days < 0 {
			return false
		}
		return days%s.IntervalDays == 0
	default:
		return false
	}
}

// windowsAdmit reports whether slot falls inside at least one window with
// remaining budget. accepted holds candidates already admitted during this
// evaluation so one pass cannot overshoot a window cap.
func windowsAdmit(windows []model.Window, slot time.Time, dispatched, accepted []time.Time) (bool, error) {
	if len(windows) == 0 {
		return true, nil
	}

	for _, w := range windows {
		in, err := inWindow(w, slot)
		if err != nil {
			return false, err
		}
		if !in {
			continue
		}

		used := 0
		for _, d := range dispatched {
			if ok, _ := inWindowSameDay(w, d, slot); ok {
				used++
			}
		}
		for _, d := range accepted {
			if ok, _ := inWindowSameDay(w, d, slot); ok {
				used++
			}
		}
		if used < w.MaxSends {
			return true, nil
		}
	}

	return false, nil
}

func inWindow(w model.Window, slot time.Time) (bool, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, fmt.Errorf("load window timezone: %w", err)
	}

	startH, startM, err := parseHHMM(w.Start)
	if err != nil {
		return false, fmt.Errorf("parse window start: %w", err)
	}
	endH, endM, err := parseHHMM(w.End)
	if err != nil {
		return false, fmt.Errorf("parse window end: %w", err)
	}

	local := slot.In(loc)
	minute := local.Hour()*60 + local.Minute()
	return minute >= startH*60+startM && minute <= endH*60+endM, nil
}

func inWindowSameDay(w model.Window, candidate, slot time.Time) (bool, error) {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return false, err
	}
	if candidate.In(loc).Format(time.DateOnly) != slot.In(loc).Format(time.DateOnly) {
		return false, nil
	}
	return inWindow(w, candidate)
}

// resolveWallClock maps a local (date, HH:MM) pair to a concrete instant.
// During a spring-forward gap the wall time does not exist and the slot
// shifts forward by the gap width. During a fall-back overlap the wall time
// occurs twice; the first occurrence wins.
func resolveWallClock(year int, month time.Month, day, hh, mm int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hh, mm, 0, 0, loc)
	if t.Hour() != hh || t.Minute() != mm {
		// time.Date normalized to one side of the gap; which side is
		// unspecified. When it landed early, advancing by the wall-clock
		// shortfall crosses the gap and lands on requested+gap.
		want := hh*60 + mm
		got := t.Hour()*60 + t.Minute()
		ty, tm, td := t.Date()
		if ty != year || tm != month || td != day {
			if t.Before(time.Date(year, month, day, 12, 0, 0, 0, loc)) {
				got -= 24 * 60 // landed on the previous day
			} else {
				got += 24 * 60 // landed on the next day
			}
		}
		if diff := want - got; diff > 0 {
			t = t.Add(time.Duration(diff) * time.Minute)
		}
		return t
	}
	earlier := t.Add(-time.Hour)
	if earlier.Hour() == hh && earlier.Minute() == mm && earlier.Day() == day {
		return earlier
	}
	return t
}

func parseHHMM(v string) (int, int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hh, mm, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST-induced
// day-length variation.
func daysBetween(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au) / (24 * time.Hour))
}
