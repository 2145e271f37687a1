package streak

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name string
		days []string
		want int
	}{
		{"empty history", nil, 0},
		{"single day", []string{"2024-01-10"}, 1},
		{"three consecutive days", []string{"2024-01-08", "2024-01-09", "2024-01-10"}, 3},
		{"unordered input", []string{"2024-01-10", "2024-01-08", "2024-01-09"}, 3},
		{"duplicates collapse", []string{"2024-01-09", "2024-01-09", "2024-01-10"}, 2},
		{"two-day gap resets", []string{"2024-01-05", "2024-01-06", "2024-01-09", "2024-01-10"}, 2},
		{"one-day gap breaks the run", []string{"2024-01-07", "2024-01-09", "2024-01-10"}, 2},
		{"month boundary", []string{"2024-01-31", "2024-02-01"}, 2},
		{"garbage ignored", []string{"not-a-date", "2024-01-10"}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compute(tc.days))
		})
	}
}

func TestCompute_Idempotent(t *testing.T) {
	days := []string{"2024-01-08", "2024-01-09", "2024-01-10"}
	first := Compute(days)
	assert.Equal(t, first, Compute(days), "recompute over the same history must agree")
}

func TestMostRecent(t *testing.T) {
	assert.Equal(t, "", MostRecent(nil))
	assert.Equal(t, "2024-02-01", MostRecent([]string{"2024-01-31", "2024-02-01", "2024-01-01"}))
}
