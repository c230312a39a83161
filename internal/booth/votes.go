package booth

import "github.com/google/uuid"

// Direction is an up or down vote on the current play.
type Direction int

const (
	DirectionUp   Direction = 1
	DirectionDown Direction = -1
)

// voteTally holds the deduplicated vote sets for the current booth entry.
// A user is in at most one of the two sets. Not safe for concurrent use; the
// engine's state mutex guards it.
type voteTally struct {
	upvotes   map[uuid.UUID]struct{}
	downvotes map[uuid.UUID]struct{}
}

func newVoteTally() voteTally {
	return voteTally{
		upvotes:   make(map[uuid.UUID]struct{}),
		downvotes: make(map[uuid.UUID]struct{}),
	}
}

// cast removes the user from both sets and inserts into the set matching
// direction. Re-casting the same direction keeps the same net membership.
func (t *voteTally) cast(userID uuid.UUID, direction Direction) {
	delete(t.upvotes, userID)
	delete(t.downvotes, userID)
	if direction == DirectionUp {
		t.upvotes[userID] = struct{}{}
	} else {
		t.downvotes[userID] = struct{}{}
	}
}

func (t *voteTally) reset() {
	t.upvotes = make(map[uuid.UUID]struct{})
	t.downvotes = make(map[uuid.UUID]struct{})
}

func (t *voteTally) counts() (upvotes, downvotes int) {
	return len(t.upvotes), len(t.downvotes)
}
