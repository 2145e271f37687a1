package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome is the terminal result recorded for a delivery attempt.
type DeliveryOutcome string

const (
	OutcomeSent    DeliveryOutcome = "sent"
	OutcomeFailed  DeliveryOutcome = "failed"
	OutcomeSkipped DeliveryOutcome = "skipped"
)

// HistoryEntry is one append-only record per terminal delivery attempt.
// DeliveredOn is the user-local calendar day ("2006-01-02") the slot fired on;
// streaks are computed over these days. Fingerprint identifies the message
// content for anti-repetition hints to the generator.
type HistoryEntry struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	JobID            uuid.UUID       `json:"job_id"`
	ScheduleID       uuid.UUID       `json:"schedule_id"`
	SlotInstant      time.Time       `json:"slot_instant"`
	Outcome          DeliveryOutcome `json:"outcome"`
	PersonalityValue string          `json:"personality_value"`
	UsedFallback     bool            `json:"used_fallback"`
	Fingerprint      string          `json:"fingerprint,omitempty"`
	Error            string          `json:"error,omitempty"`
	DeliveredOn      string          `json:"delivered_on"`
	CreatedAt        time.Time       `json:"created_at"`
}

// StreakState is derived from a user's history and can be recomputed by
// replay at any time; it is never the sole source of truth.
type StreakState struct {
	UserID        uuid.UUID `json:"user_id"`
	Current       int       `json:"current"`
	TotalSent     int       `json:"total_sent"`
	LastSuccessOn string    `json:"last_success_on,omitempty"` // "2006-01-02"
	UpdatedAt     time.Time `json:"updated_at"`
}
