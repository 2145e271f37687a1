package model

import (
	"time"

	"github.com/google/uuid"
)

// PersonalityKind tags the variant of a personality voice.
type PersonalityKind string

const (
	PersonalityFamous PersonalityKind = "famous"
	PersonalityTone   PersonalityKind = "tone"
	PersonalityCustom PersonalityKind = "custom"
)

// Personality is one voice in a user's roster. Value is the shared projection
// used by the rotation selector and the message generator regardless of Kind:
// a famous person's name, a tone label, or a custom prompt.
type Personality struct {
	ID       uuid.UUID       `json:"id"`
	UserID   uuid.UUID       `json:"user_id"`
	Kind     PersonalityKind `json:"kind"`
	Value    string          `json:"value"`
	Active   bool            `json:"active"`
	UseCount int             `json:"use_count"`
	Position int             `json:"position"` // stable roster order
}

// RotationMode is the policy for choosing the next personality voice.
type RotationMode string

const (
	RotationSequential RotationMode = "sequential"
	RotationRandom     RotationMode = "random"
	RotationDailyFixed RotationMode = "daily_fixed"
)

// RotationState is the per-user rotation cursor, always passed explicitly so
// concurrent evaluations for different users never interfere.
type RotationState struct {
	UserID     uuid.UUID    `json:"user_id"`
	Mode       RotationMode `json:"mode"`
	LastUsedID uuid.UUID    `json:"last_used_id"` // Nil when nothing used yet
	UpdatedAt  time.Time    `json:"updated_at"`
}
