package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a delivery job. A job is immutable once
// terminal; retries re-attempt the same job, they never create a new one.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobInFlight JobStatus = "in_flight"
	JobSent     JobStatus = "sent"
	JobFailed   JobStatus = "failed"
	JobSkipped  JobStatus = "skipped"
)

// DeliveryJob is one dispatched send for a (schedule, slot-instant) pair.
// At most one job exists per pair; the unique key lives in the jobs table.
type DeliveryJob struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	ScheduleID       uuid.UUID  `json:"schedule_id"`
	SlotInstant      time.Time  `json:"slot_instant"` // concrete UTC firing time
	PersonalityID    uuid.UUID  `json:"personality_id"`
	PersonalityValue string     `json:"personality_value"`
	Status           JobStatus  `json:"status"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"max_attempts"`
	LeaseExpiresAt   *time.Time `json:"lease_expires_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	UsedFallback     bool       `json:"used_fallback"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
