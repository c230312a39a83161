package booth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/media-booth-system/internal/errs"
	"github.com/media-booth-system/pkg/models"
)

// Booth identifies the currently playing entry. HistoryID is assigned when
// the DJ takes the booth and becomes the durable history record's id when the
// entry is retired.
type Booth struct {
	HistoryID  uuid.UUID            `json:"history_id"`
	PlaylistID uuid.UUID            `json:"playlist_id"`
	UserID     uuid.UUID            `json:"user_id"`
	Media      models.MediaSnapshot `json:"media"`
	PlayedAt   time.Time            `json:"played_at"`
}

type AdvanceOptions struct {
	// Remove drops the retiring DJ instead of cycling them back to the
	// waitlist tail. Removed users must re-join explicitly.
	Remove bool
	// Successor, when set, takes the booth ahead of the waitlist head.
	Successor *uuid.UUID
}

type SkipRequest struct {
	// UserID is the skip target for moderator skips. Nil plus an empty
	// Reason means the actor is skipping themselves.
	UserID *uuid.UUID
	Reason string
	Remove bool
}

// Snapshot is a point-in-time read of the whole session used by the now
// endpoint.
type Snapshot struct {
	Booth     *Booth      `json:"booth"`
	Upvotes   int         `json:"upvotes"`
	Downvotes int         `json:"downvotes"`
	Waitlist  []uuid.UUID `json:"waitlist"`
	Locked    bool        `json:"locked"`
}

// Engine owns the booth, waitlist and vote state for one live session. All
// handler access goes through its methods; there is no shared-memory path.
//
// advanceMu serializes the retire-pop-write transition (advance, skip,
// replace, disconnect-of-DJ) so the same booth entry can never be retired
// twice nor the waitlist head popped twice. mu guards the in-memory state for
// the short individual mutations.
type Engine struct {
	store    Store
	events   Broadcaster
	presence Presence
	log      *zap.Logger

	advanceMu sync.Mutex
	mu        sync.Mutex
	current   *Booth
	wl        waitlist
	votes     voteTally
	timer     *time.Timer
}

func NewEngine(store Store, events Broadcaster, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:  store,
		events: events,
		votes:  newVoteTally(),
		log:    log,
	}
}

// SetPresence wires the live-connection check. Set once during startup,
// before requests are served.
func (e *Engine) SetPresence(p Presence) { e.presence = p }

// Close stops the auto-advance timer.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
}

// dispatch publishes events in the order the corresponding state changes
// committed. Publishing is fire-and-forget.
func (e *Engine) dispatch(ctx context.Context, events ...Event) {
	if e.events == nil {
		return
	}
	for _, ev := range events {
		if err := e.events.Publish(ctx, string(ev.Type), ev.Payload); err != nil {
			e.log.Warn("publish event failed",
				zap.String("event", string(ev.Type)),
				zap.Error(err))
		}
	}
}

// Waitlist

// JoinWaitlist enqueues targetID. Self-joins append at the tail; naming a
// position or another user requires the waitlist.add capability. The target
// must have a live connection.
func (e *Engine) JoinWaitlist(ctx context.Context, actorID, targetID uuid.UUID, position int) ([]uuid.UUID, error) {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if (targetID != actorID || position >= 0) && !actor.Can(models.CapWaitlistAdd) {
		return nil, fmt.Errorf("inserting into the waitlist requires the %s capability: %w", models.CapWaitlistAdd, errs.ErrForbidden)
	}
	if e.presence != nil && !e.presence.IsConnected(targetID) {
		return nil, fmt.Errorf("user has no active connection: %w", errs.ErrPreconditionFailed)
	}

	e.mu.Lock()
	if e.wl.locked && !actor.Can(models.CapWaitlistJoinLocked) {
		e.mu.Unlock()
		return nil, fmt.Errorf("waitlist is locked: %w", errs.ErrForbidden)
	}
	if e.current != nil && e.current.UserID == targetID {
		e.mu.Unlock()
		return nil, fmt.Errorf("user is currently playing: %w", errs.ErrConflict)
	}
	if e.wl.contains(targetID) {
		e.mu.Unlock()
		return nil, fmt.Errorf("user is already in the waitlist: %w", errs.ErrConflict)
	}
	if position >= 0 {
		e.wl.insertAt(targetID, position)
	} else {
		e.wl.append(targetID)
	}
	snap := e.wl.snapshot()
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventWaitlistJoin, WaitlistJoinPayload{UserID: targetID, Waitlist: snap}})
	return snap, nil
}

// RemoveFromWaitlist removes targetID. Self-removal is always allowed;
// removing another user requires waitlist.remove.other.
func (e *Engine) RemoveFromWaitlist(ctx context.Context, actorID, targetID uuid.UUID) ([]uuid.UUID, error) {
	if actorID != targetID {
		actor, err := e.store.FindUser(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if !actor.Can(models.CapWaitlistRemoveOther) {
			return nil, fmt.Errorf("removing another user requires the %s capability: %w", models.CapWaitlistRemoveOther, errs.ErrForbidden)
		}
	}

	e.mu.Lock()
	if !e.wl.remove(targetID) {
		e.mu.Unlock()
		return nil, fmt.Errorf("user is not in the waitlist: %w", errs.ErrNotFound)
	}
	snap := e.wl.snapshot()
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventWaitlistLeave, WaitlistLeavePayload{UserID: targetID, Waitlist: snap}})
	return snap, nil
}

// MoveWaitlist re-splices targetID to position, clamped to the list bounds.
func (e *Engine) MoveWaitlist(ctx context.Context, actorID, targetID uuid.UUID, position int) ([]uuid.UUID, error) {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Can(models.CapWaitlistMove) {
		return nil, fmt.Errorf("moving waitlist entries requires the %s capability: %w", models.CapWaitlistMove, errs.ErrForbidden)
	}

	e.mu.Lock()
	if !e.wl.moveTo(targetID, position) {
		e.mu.Unlock()
		return nil, fmt.Errorf("user is not in the waitlist: %w", errs.ErrNotFound)
	}
	snap := e.wl.snapshot()
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventWaitlistMove, WaitlistMovePayload{
		UserID:      targetID,
		ModeratorID: actorID,
		Position:    position,
		Waitlist:    snap,
	}})
	return snap, nil
}

// ClearWaitlist empties the list, emitting a single cleared event.
func (e *Engine) ClearWaitlist(ctx context.Context, actorID uuid.UUID) ([]uuid.UUID, error) {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Can(models.CapWaitlistClear) {
		return nil, fmt.Errorf("clearing the waitlist requires the %s capability: %w", models.CapWaitlistClear, errs.ErrForbidden)
	}

	e.mu.Lock()
	e.wl.clear()
	snap := e.wl.snapshot()
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventWaitlistClear, WaitlistClearPayload{ModeratorID: actorID}})
	return snap, nil
}

// SetLocked toggles whether unprivileged self-joins are accepted. Idempotent.
func (e *Engine) SetLocked(ctx context.Context, actorID uuid.UUID, locked bool) (bool, error) {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return false, err
	}
	if !actor.Can(models.CapWaitlistLock) {
		return false, fmt.Errorf("locking the waitlist requires the %s capability: %w", models.CapWaitlistLock, errs.ErrForbidden)
	}

	e.mu.Lock()
	e.wl.locked = locked
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventWaitlistLock, WaitlistLockPayload{ModeratorID: actorID, Locked: locked}})
	return locked, nil
}

func (e *Engine) Waitlist() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wl.snapshot()
}

func (e *Engine) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wl.locked
}

// Votes

// CastVote records an up/down vote on the current play. No-op when nothing is
// playing or the voter is the current DJ. A vote event is emitted on every
// effective call, including repeat votes in the same direction.
func (e *Engine) CastVote(ctx context.Context, voterID uuid.UUID, direction Direction) error {
	e.mu.Lock()
	if e.current == nil || e.current.UserID == voterID {
		e.mu.Unlock()
		return nil
	}
	e.votes.cast(voterID, direction)
	e.mu.Unlock()

	e.dispatch(ctx, Event{EventBoothVote, VotePayload{UserID: voterID, Direction: int(direction)}})
	return nil
}

// Tally returns the current vote counts.
func (e *Engine) Tally() (upvotes, downvotes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.votes.counts()
}

// Reads

// Current returns a copy of the active booth entry, or nil when empty.
func (e *Engine) Current() *Booth {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	b := *e.current
	return &b
}

// CurrentDJ returns the active DJ's id.
func (e *Engine) CurrentDJ() (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return uuid.Nil, false
	}
	return e.current.UserID, true
}

// SnapshotState returns the full session view for the now endpoint.
func (e *Engine) SnapshotState() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	up, down := e.votes.counts()
	s := Snapshot{
		Upvotes:   up,
		Downvotes: down,
		Waitlist:  e.wl.snapshot(),
		Locked:    e.wl.locked,
	}
	if e.current != nil {
		b := *e.current
		s.Booth = &b
	}
	return s
}

// Rotation

// Advance retires the current booth entry into history, resets votes and
// promotes the next waitlist head. Returns the new booth entry, or nil when
// the session lands empty. Concurrent calls are serialized.
func (e *Engine) Advance(ctx context.Context, opts AdvanceOptions) (*Booth, error) {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()
	return e.advanceLocked(ctx, opts)
}

// advanceLocked does every store call before the first in-memory mutation, so
// a store failure returns the error with the booth, waitlist, votes and timer
// exactly as they were and no event dispatched. The pre events, if any, are
// published after the commit, ahead of the advance event.
func (e *Engine) advanceLocked(ctx context.Context, opts AdvanceOptions, pre ...Event) (*Booth, error) {
	e.mu.Lock()
	var prev *Booth
	if e.current != nil {
		b := *e.current
		prev = &b
	}
	candidates := e.wl.snapshot()
	e.mu.Unlock()

	if opts.Successor != nil {
		ordered := make([]uuid.UUID, 0, len(candidates)+1)
		ordered = append(ordered, *opts.Successor)
		for _, id := range candidates {
			if id != *opts.Successor {
				ordered = append(ordered, id)
			}
		}
		candidates = ordered
	}
	if prev != nil && !opts.Remove && !containsID(candidates, prev.UserID) {
		candidates = append(candidates, prev.UserID)
	}

	// Pick the successor first. Candidates without playable media are noted
	// for removal at commit time; a store failure aborts before anything
	// changed.
	var (
		next    *Booth
		skipped []uuid.UUID
	)
	for _, userID := range candidates {
		media, playlistID, err := e.store.NextPlaylistItem(ctx, userID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				e.log.Warn("next DJ has no playable media, skipping",
					zap.String("user_id", userID.String()))
				skipped = append(skipped, userID)
				continue
			}
			return nil, fmt.Errorf("select next media: %w", err)
		}
		next = &Booth{
			HistoryID:  uuid.New(),
			PlaylistID: playlistID,
			UserID:     userID,
			Media:      media,
			PlayedAt:   time.Now(),
		}
		break
	}

	if prev != nil {
		entry := &models.HistoryEntry{
			ID:         prev.HistoryID,
			UserID:     prev.UserID,
			PlaylistID: prev.PlaylistID,
			Media:      prev.Media,
			PlayedAt:   prev.PlayedAt,
		}
		if err := e.store.AppendHistory(ctx, entry); err != nil {
			return nil, fmt.Errorf("retire booth entry: %w", err)
		}
		e.log.Info("booth entry retired",
			zap.String("history_id", prev.HistoryID.String()),
			zap.String("user_id", prev.UserID.String()))
	}

	e.mu.Lock()
	e.stopTimerLocked()
	e.votes.reset()
	e.current = next
	for _, userID := range skipped {
		e.wl.remove(userID)
	}
	if next != nil {
		e.wl.remove(next.UserID)
		e.armTimerLocked(next)
	}
	if prev != nil && !opts.Remove &&
		(next == nil || next.UserID != prev.UserID) &&
		!containsID(skipped, prev.UserID) &&
		!e.wl.contains(prev.UserID) {
		e.wl.append(prev.UserID)
	}
	snap := e.wl.snapshot()
	e.mu.Unlock()

	if next == nil {
		e.log.Info("booth empty")
		e.dispatch(ctx, append(pre, Event{EventBoothAdvance, AdvancePayload{Waitlist: snap}})...)
		return nil, nil
	}

	out := *next
	e.log.Info("booth advanced",
		zap.String("history_id", out.HistoryID.String()),
		zap.String("user_id", out.UserID.String()),
		zap.String("media", out.Media.Title))
	hid, pid, uid, playedAt := out.HistoryID, out.PlaylistID, out.UserID, out.PlayedAt
	mediaCopy := out.Media
	e.dispatch(ctx, append(pre, Event{EventBoothAdvance, AdvancePayload{
		HistoryID:  &hid,
		UserID:     &uid,
		PlaylistID: &pid,
		Media:      &mediaCopy,
		PlayedAt:   &playedAt,
		Waitlist:   snap,
	}})...)
	return &out, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Skip triggers an advance by policy. A self-skip (explicit or via an empty
// request body) requires the actor to be the current DJ; skipping another
// user requires booth.skip.other plus a target and a reason.
func (e *Engine) Skip(ctx context.Context, actorID uuid.UUID, req SkipRequest) error {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return err
	}

	bodyEmpty := req.UserID == nil && req.Reason == ""
	skippingSelf := bodyEmpty || (req.UserID != nil && *req.UserID == actorID)

	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	var target uuid.UUID
	var moderatorID *uuid.UUID
	if skippingSelf {
		dj, ok := e.CurrentDJ()
		if !ok || dj != actorID {
			return fmt.Errorf("you are not currently playing: %w", errs.ErrPreconditionFailed)
		}
		target = actorID
	} else {
		if !actor.Can(models.CapBoothSkipOther) {
			return fmt.Errorf("skipping another user requires the %s capability: %w", models.CapBoothSkipOther, errs.ErrForbidden)
		}
		if req.UserID == nil || req.Reason == "" {
			return fmt.Errorf("skipping another user requires a target and a reason: %w", errs.ErrInvalidArgument)
		}
		target = *req.UserID
		moderatorID = &actorID
	}

	// The skip event precedes the advance event and only goes out if the
	// advance commits.
	skipEvent := Event{EventBoothSkip, SkipPayload{
		ModeratorID: moderatorID,
		UserID:      target,
		Reason:      req.Reason,
	}}
	_, err = e.advanceLocked(ctx, AdvanceOptions{Remove: req.Remove}, skipEvent)
	return err
}

// Replace advances immediately with targetID as the successor, regardless of
// who is playing.
func (e *Engine) Replace(ctx context.Context, actorID, targetID uuid.UUID) error {
	actor, err := e.store.FindUser(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.Can(models.CapBoothReplace) {
		return fmt.Errorf("replacing the booth requires the %s capability: %w", models.CapBoothReplace, errs.ErrForbidden)
	}

	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	e.mu.Lock()
	empty := len(e.wl.order) == 0
	e.mu.Unlock()
	if empty {
		return fmt.Errorf("waitlist is empty: %w", errs.ErrNotFound)
	}

	replaceEvent := Event{EventBoothReplace, ReplacePayload{ModeratorID: actorID, UserID: targetID}}
	_, err = e.advanceLocked(ctx, AdvanceOptions{Remove: true, Successor: &targetID}, replaceEvent)
	return err
}

// FavoriteCurrent copies a played media snapshot into one of the caller's
// playlists. Favoriting your own play is not allowed.
func (e *Engine) FavoriteCurrent(ctx context.Context, userID, playlistID, historyID uuid.UUID) (*models.PlaylistItem, error) {
	var (
		owner uuid.UUID
		media models.MediaSnapshot
		found bool
	)
	e.mu.Lock()
	if e.current != nil && e.current.HistoryID == historyID {
		owner = e.current.UserID
		media = e.current.Media
		found = true
	}
	e.mu.Unlock()

	if !found {
		entry, err := e.store.GetHistory(ctx, historyID)
		if err != nil {
			return nil, err
		}
		owner = entry.UserID
		media = entry.Media
	}

	if owner == userID {
		return nil, fmt.Errorf("you can't favorite your own plays: %w", errs.ErrForbidden)
	}

	playlist, err := e.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if playlist.OwnerID != userID {
		return nil, fmt.Errorf("you can't edit another user's playlist: %w", errs.ErrForbidden)
	}

	item, err := e.store.AppendPlaylistItem(ctx, playlistID, media)
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, Event{EventBoothFavorite, FavoritePayload{
		UserID:     userID,
		PlaylistID: playlistID,
		HistoryID:  historyID,
	}})
	return item, nil
}

// OnUserDisconnect treats a vanished DJ like a self-skip-and-leave, then
// best-effort removes the user from the waitlist. Never returns an error;
// disconnect handling must not block on cleanup.
func (e *Engine) OnUserDisconnect(ctx context.Context, userID uuid.UUID) {
	if dj, ok := e.CurrentDJ(); ok && dj == userID {
		if _, err := e.Advance(ctx, AdvanceOptions{Remove: true}); err != nil {
			e.log.Warn("advance after DJ disconnect failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	e.mu.Lock()
	removed := e.wl.remove(userID)
	snap := e.wl.snapshot()
	e.mu.Unlock()

	events := make([]Event, 0, 2)
	if removed {
		events = append(events, Event{EventWaitlistLeave, WaitlistLeavePayload{UserID: userID, Waitlist: snap}})
	}
	events = append(events, Event{EventUserLeave, UserLeavePayload{UserID: userID}})
	e.dispatch(ctx, events...)
}

// Timer

const autoAdvanceRetryDelay = 5 * time.Second

func (e *Engine) armTimerLocked(b *Booth) {
	e.stopTimerLocked()
	if b.Media.Duration <= 0 {
		return
	}
	historyID := b.HistoryID
	e.timer = time.AfterFunc(time.Duration(b.Media.Duration)*time.Second, func() {
		e.autoAdvance(historyID)
	})
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// autoAdvance fires when a track's duration elapses. The history id pins the
// entry the timer was armed for, so a stale timer that lost the race against
// a manual skip does nothing.
func (e *Engine) autoAdvance(historyID uuid.UUID) {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	e.mu.Lock()
	stale := e.current == nil || e.current.HistoryID != historyID
	e.mu.Unlock()
	if stale {
		return
	}

	if _, err := e.advanceLocked(context.Background(), AdvanceOptions{}); err != nil {
		// The failed advance left everything in place, so try again once
		// the store has had a moment to recover.
		e.log.Warn("auto-advance failed, retrying", zap.Error(err))
		e.mu.Lock()
		if e.current != nil && e.current.HistoryID == historyID {
			e.timer = time.AfterFunc(autoAdvanceRetryDelay, func() {
				e.autoAdvance(historyID)
			})
		}
		e.mu.Unlock()
	}
}
