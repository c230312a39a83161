package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is an ordered privilege level. Capabilities are granted to every role
// at or above the capability's threshold.
type Role int

const (
	RoleUser Role = iota
	RoleModerator
	RoleManager
	RoleAdmin
)

// Capability names an action gated behind an elevated role.
type Capability string

const (
	CapWaitlistAdd         Capability = "waitlist.add"
	CapWaitlistRemoveOther Capability = "waitlist.remove.other"
	CapWaitlistMove        Capability = "waitlist.move"
	CapWaitlistClear       Capability = "waitlist.clear"
	CapWaitlistLock        Capability = "waitlist.lock"
	CapWaitlistJoinLocked  Capability = "waitlist.join.locked"
	CapBoothSkipOther      Capability = "booth.skip.other"
	CapBoothReplace        Capability = "booth.replace"
)

var capabilityRoles = map[Capability]Role{
	CapWaitlistAdd:         RoleModerator,
	CapWaitlistRemoveOther: RoleModerator,
	CapWaitlistMove:        RoleModerator,
	CapWaitlistClear:       RoleManager,
	CapWaitlistLock:        RoleModerator,
	CapWaitlistJoinLocked:  RoleModerator,
	CapBoothSkipOther:      RoleModerator,
	CapBoothReplace:        RoleModerator,
}

type User struct {
	ID               uuid.UUID  `json:"id" gorm:"primaryKey"`
	Username         string     `json:"username" gorm:"unique"`
	Email            string     `json:"email" gorm:"unique"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	ActivePlaylistID *uuid.UUID `json:"active_playlist_id,omitempty"`
	BannedUntil      *time.Time `json:"banned_until,omitempty"`
	MutedUntil       *time.Time `json:"muted_until,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Can reports whether the user's role grants the capability.
func (u *User) Can(c Capability) bool {
	min, ok := capabilityRoles[c]
	if !ok {
		return false
	}
	return u.Role >= min
}

// Banned reports whether the user is currently banned. A nil BannedUntil means
// no ban; a zero time means a permanent ban.
func (u *User) Banned() bool {
	if u.BannedUntil == nil {
		return false
	}
	if u.BannedUntil.IsZero() {
		return true
	}
	return time.Now().Before(*u.BannedUntil)
}

// MediaSnapshot is the denormalized media description carried on playlist
// items and history entries. History keeps its own copy so later playlist
// edits never rewrite what was actually played.
type MediaSnapshot struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	Duration   int    `json:"duration"` // seconds
}

type Playlist struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	OwnerID   uuid.UUID `json:"owner_id" gorm:"index"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PlaylistItem struct {
	ID         uuid.UUID     `json:"id" gorm:"primaryKey"`
	PlaylistID uuid.UUID     `json:"playlist_id" gorm:"index"`
	Media      MediaSnapshot `json:"media" gorm:"embedded;embeddedPrefix:media_"`
	Position   int           `json:"position"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// HistoryEntry is the immutable record of one completed play. Written once
// when a booth entry is retired, never updated.
type HistoryEntry struct {
	ID         uuid.UUID     `json:"id" gorm:"primaryKey"`
	UserID     uuid.UUID     `json:"user_id" gorm:"index"`
	PlaylistID uuid.UUID     `json:"playlist_id"`
	Media      MediaSnapshot `json:"media" gorm:"embedded;embeddedPrefix:media_"`
	PlayedAt   time.Time     `json:"played_at" gorm:"index"`
}
