// Package rotation picks which personality voice a send should use. State is
// explicit: the selector takes the stored cursor and returns the updated one,
// leaving the durable write to the caller.
package rotation

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/uplifthq/uplift/internal/model"
)

// ErrNoPersonalityAvailable means the roster has no active entries. The
// caller skips dispatch for the slot and records a warning; there is nothing
// to retry.
var ErrNoPersonalityAvailable = errors.New("no active personality available")

type Selector struct {
	rng *rand.Rand
}

func New() *Selector {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded builds a selector with a deterministic random source, for tests.
func NewSeeded(seed int64) *Selector {
	return &Selector{rng: rand.New(rand.NewSource(seed))}
}

// Next returns the personality for the next send and the advanced rotation
// state. localDate is the send's calendar day in the user's zone; it only
// matters for daily_fixed mode, where every slot of one day must agree even
// when evaluated independently.
func (s *Selector) Next(
	roster []model.Personality,
	state model.RotationState,
	localDate time.Time,
) (model.Personality, model.RotationState, error) {
	active := activeByPosition(roster)
	if len(active) == 0 {
		return model.Personality{}, state, ErrNoPersonalityAvailable
	}

	var picked model.Personality
	switch state.Mode {
	case model.RotationRandom:
		picked = active[s.rng.Intn(len(active))]
	case model.RotationDailyFixed:
		picked = active[dailyIndex(state.UserID.String(), localDate, len(active))]
	default: // sequential
		picked = active[nextSequentialIndex(active, state.LastUsedID)]
	}

	state.LastUsedID = picked.ID
	return picked, state, nil
}

func activeByPosition(roster []model.Personality) []model.Personality {
	active := make([]model.Personality, 0, len(roster))
	for _, p := range roster {
		if p.Active {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Position < active[j].Position })
	return active
}

// nextSequentialIndex advances past the last-used entry, wrapping. If the
// last-used entry was removed or deactivated, the cursor normalizes to the
// first active entry.
func nextSequentialIndex(active []model.Personality, lastUsed uuid.UUID) int {
	for i, p := range active {
		if p.ID == lastUsed {
			return (i + 1) % len(active)
		}
	}
	return 0
}

func dailyIndex(userID string, localDate time.Time, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte(localDate.Format(time.DateOnly)))
	return int(h.Sum32() % uint32(n))
}
