package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the recipient of motivational emails. Goals feed the message
// generator. ReviewFlagged is set when the mail transport hard-bounces the
// address so an admin can intervene.
type User struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Timezone      string    `json:"timezone"`
	Goals         []string  `json:"goals"`
	ReviewFlagged bool      `json:"review_flagged"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
