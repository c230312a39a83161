package booth

import (
	"context"

	"github.com/google/uuid"

	"github.com/media-booth-system/pkg/models"
)

// UserDirectory resolves user identities. Implemented by pkg/database.
type UserDirectory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// HistoryStore is the durable, append-only record of past plays.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistory(ctx context.Context, id uuid.UUID) (*models.HistoryEntry, error)
	ListHistory(ctx context.Context, userID *uuid.UUID, offset, limit int) ([]models.HistoryEntry, int64, error)
}

// PlaylistStore supplies the next media for a DJ taking the booth and
// receives favorited snapshots.
type PlaylistStore interface {
	GetPlaylist(ctx context.Context, id uuid.UUID) (*models.Playlist, error)
	AppendPlaylistItem(ctx context.Context, playlistID uuid.UUID, media models.MediaSnapshot) (*models.PlaylistItem, error)
	// NextPlaylistItem returns the next media from the user's active playlist
	// along with the playlist id, cycling the item to the back.
	NextPlaylistItem(ctx context.Context, userID uuid.UUID) (models.MediaSnapshot, uuid.UUID, error)
}

// Store is the combined external store consumed by the engine.
type Store interface {
	UserDirectory
	HistoryStore
	PlaylistStore
}

// Broadcaster fans domain events out to connected clients. Publish is
// fire-and-forget; the engine logs failures and never rolls state back.
type Broadcaster interface {
	Publish(ctx context.Context, eventType string, payload any) error
}

// Presence reports whether a user has a live real-time connection. Joining
// the waitlist requires one.
type Presence interface {
	IsConnected(userID uuid.UUID) bool
}
