// Package streak computes consecutive-day delivery streaks. The computation
// is a pure function of a user's success history so it can be replayed at any
// time, including as a bulk admin operation.
package streak

import (
	"sort"
	"time"
)

// Compute returns the length of the trailing run of consecutive calendar days
// with at least one successful delivery, anchored at the most recent success.
// days holds user-local dates in "2006-01-02" form, in any order, possibly
// with duplicates. Unparseable entries are ignored.
func Compute(days []string) int {
	uniq := make(map[string]struct{}, len(days))
	parsed := make([]time.Time, 0, len(days))
	for _, d := range days {
		if _, ok := uniq[d]; ok {
			continue
		}
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			continue
		}
		uniq[d] = struct{}{}
		parsed = append(parsed, t)
	}

	if len(parsed) == 0 {
		return 0
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].After(parsed[j]) })

	streak := 1
	for i := 1; i < len(parsed); i++ {
		gap := parsed[i-1].Sub(parsed[i])
		if gap != 24*time.Hour {
			break
		}
		streak++
	}

	return streak
}

// MostRecent returns the latest valid date in days, or "" when there is none.
func MostRecent(days []string) string {
	var latest time.Time
	var found bool
	for _, d := range days {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return ""
	}
	return latest.Format(time.DateOnly)
}
