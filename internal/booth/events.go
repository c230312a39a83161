package booth

import (
	"time"

	"github.com/google/uuid"

	"github.com/media-booth-system/pkg/models"
)

type EventType string

const (
	EventBoothAdvance  EventType = "booth:advance"
	EventBoothSkip     EventType = "booth:skip"
	EventBoothReplace  EventType = "booth:replace"
	EventBoothVote     EventType = "booth:vote"
	EventBoothFavorite EventType = "booth:favorite"
	EventWaitlistJoin  EventType = "waitlist:join"
	EventWaitlistLeave EventType = "waitlist:leave"
	EventWaitlistMove  EventType = "waitlist:move"
	EventWaitlistClear EventType = "waitlist:clear"
	EventWaitlistLock  EventType = "waitlist:lock"
	EventUserLeave     EventType = "user:leave"
)

// Event is the domain event value produced by a mutation. Mutations build
// events while state is still locked and the engine dispatches them after the
// state change commits, in the same order.
type Event struct {
	Type    EventType
	Payload any
}

type AdvancePayload struct {
	HistoryID  *uuid.UUID            `json:"history_id"`
	UserID     *uuid.UUID            `json:"user_id"`
	PlaylistID *uuid.UUID            `json:"playlist_id"`
	Media      *models.MediaSnapshot `json:"media"`
	PlayedAt   *time.Time            `json:"played_at"`
	Waitlist   []uuid.UUID           `json:"waitlist"`
}

type SkipPayload struct {
	ModeratorID *uuid.UUID `json:"moderator_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Reason      string     `json:"reason"`
}

type ReplacePayload struct {
	ModeratorID uuid.UUID `json:"moderator_id"`
	UserID      uuid.UUID `json:"user_id"`
}

type VotePayload struct {
	UserID    uuid.UUID `json:"user_id"`
	Direction int       `json:"direction"`
}

type FavoritePayload struct {
	UserID     uuid.UUID `json:"user_id"`
	PlaylistID uuid.UUID `json:"playlist_id"`
	HistoryID  uuid.UUID `json:"history_id"`
}

type WaitlistJoinPayload struct {
	UserID   uuid.UUID   `json:"user_id"`
	Waitlist []uuid.UUID `json:"waitlist"`
}

type WaitlistLeavePayload struct {
	UserID   uuid.UUID   `json:"user_id"`
	Waitlist []uuid.UUID `json:"waitlist"`
}

type WaitlistMovePayload struct {
	UserID      uuid.UUID   `json:"user_id"`
	ModeratorID uuid.UUID   `json:"moderator_id"`
	Position    int         `json:"position"`
	Waitlist    []uuid.UUID `json:"waitlist"`
}

type WaitlistClearPayload struct {
	ModeratorID uuid.UUID `json:"moderator_id"`
}

type WaitlistLockPayload struct {
	ModeratorID uuid.UUID `json:"moderator_id"`
	Locked      bool      `json:"locked"`
}

type UserLeavePayload struct {
	UserID uuid.UUID `json:"user_id"`
}
