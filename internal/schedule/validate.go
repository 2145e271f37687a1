package schedule

import (
	"fmt"
	"time"

	"github.com/uplifthq/uplift/internal/model"
)

const maxWindows = 5

// ConfigError reports a malformed schedule. It is surfaced at configuration
// time and never allowed to reach the evaluator.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("schedule config: %s: %s", e.Field, e.Reason)
}

// Validate checks a schedule definition before it is persisted.
func Validate(s model.Schedule) error {
	if len(s.Times) == 0 {
		return &ConfigError{Field: "times", Reason: "must not be empty"}
	}

	seen := make(map[string]struct{}, len(s.Times))
	for _, t := range s.Times {
		if _, _, err := parseHHMM(t); err != nil {
			return &ConfigError{Field: "times", Reason: fmt.Sprintf("invalid time %q", t)}
		}
		if _, ok := seen[t]; ok {
			return &ConfigError{Field: "times", Reason: fmt.Sprintf("duplicate time %q", t)}
		}
		seen[t] = struct{}{}
	}

	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return &ConfigError{Field: "timezone", Reason: fmt.Sprintf("unknown zone %q", s.Timezone)}
	}

	switch s.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if len(s.Weekdays) == 0 {
			return &ConfigError{Field: "weekdays", Reason: "required for weekly frequency"}
		}
		for _, d := range s.Weekdays {
			if d < 0 || d > 6 {
				return &ConfigError{Field: "weekdays", Reason: fmt.Sprintf("invalid weekday %d", d)}
			}
		}
	case model.FrequencyMonthly:
		if len(s.MonthlyDates) == 0 {
			return &ConfigError{Field: "monthly_dates", Reason: "required for monthly frequency"}
		}
		for _, d := range s.MonthlyDates {
			if d < 1 || d > 31 {
				return &ConfigError{Field: "monthly_dates", Reason: fmt.Sprintf("invalid day of month %d", d)}
			}
		}
	case model.FrequencyCustom:
		if s.IntervalDays <= 0 {
			return &ConfigError{Field: "interval_days", Reason: "must be a positive integer"}
		}
		if s.StartDate == nil {
			return &ConfigError{Field: "start_date", Reason: "required as anchor for custom frequency"}
		}
	default:
		return &ConfigError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}

	if len(s.Windows) > maxWindows {
		return &ConfigError{Field: "windows", Reason: fmt.Sprintf("at most %d windows allowed", maxWindows)}
	}
	for i, w := range s.Windows {
		if _, _, err := parseHHMM(w.Start); err != nil {
			return &ConfigError{Field: "windows", Reason: fmt.Sprintf("window %d: invalid start %q", i, w.Start)}
		}
		if _, _, err := parseHHMM(w.End); err != nil {
			return &ConfigError{Field: "windows", Reason: fmt.Sprintf("window %d: invalid end %q", i, w.End)}
		}
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return &ConfigError{Field: "windows", Reason: fmt.Sprintf("window %d: unknown zone %q", i, w.Timezone)}
		}
		if w.MaxSends <= 0 {
			return &ConfigError{Field: "windows", Reason: fmt.Sprintf("window %d: max_sends must be positive", i)}
		}
	}

	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return &ConfigError{Field: "end_date", Reason: "must not precede start_date"}
	}

	return nil
}
