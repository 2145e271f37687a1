package model

import (
	"time"

	"github.com/google/uuid"
)

// Frequency determines how often a schedule produces send slots.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Window restricts firing to a wall-clock sub-range and caps sends within it.
type Window struct {
	Start    string `json:"start"`     // "HH:MM"
	End      string `json:"end"`       // "HH:MM", inclusive
	Timezone string `json:"timezone"`  // IANA zone the range is evaluated in
	MaxSends int    `json:"max_sends"` // cap per window-local calendar day
}

// Schedule describes a user's recurring motivational-email schedule.
//
// All time-of-day values in Times are interpreted in Timezone. A schedule
// belongs to one user; GoalID is Nil for the user-level schedule and set for
// goal-specific ones.
type Schedule struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	GoalID       uuid.UUID  `json:"goal_id,omitempty"`
	Frequency    Frequency  `json:"frequency"`
	Times        []string   `json:"times"`    // ordered "HH:MM" values, unique
	Timezone     string     `json:"timezone"` // IANA zone identifier
	Weekdays     []int      `json:"weekdays,omitempty"`      // 0=Sunday..6, weekly only
	MonthlyDates []int      `json:"monthly_dates,omitempty"` // 1..31, monthly only
	IntervalDays int        `json:"interval_days,omitempty"` // custom only
	Windows      []Window   `json:"windows,omitempty"`       // max 5
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Paused       bool       `json:"paused"`
	SkipNext     bool       `json:"skip_next"` // one-shot, cleared when consumed
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
