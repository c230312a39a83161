package booth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/media-booth-system/internal/errs"
	"github.com/media-booth-system/pkg/models"
)

// fakeStore is an in-memory implementation of the Store contract.
type fakeStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	history   map[uuid.UUID]*models.HistoryEntry
	order     []uuid.UUID
	playlists map[uuid.UUID]*models.Playlist
	items     map[uuid.UUID][]models.PlaylistItem

	appendHistoryErr error
	nextItemErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[uuid.UUID]*models.User),
		history:   make(map[uuid.UUID]*models.HistoryEntry),
		playlists: make(map[uuid.UUID]*models.Playlist),
		items:     make(map[uuid.UUID][]models.PlaylistItem),
	}
}

// addUser registers a user with a single-item active playlist.
func (s *fakeStore) addUser(role models.Role) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := uuid.New()
	playlistID := uuid.New()
	s.users[userID] = &models.User{
		ID:               userID,
		Username:         fmt.Sprintf("user-%s", userID.String()[:8]),
		Role:             role,
		ActivePlaylistID: &playlistID,
	}
	s.playlists[playlistID] = &models.Playlist{ID: playlistID, OwnerID: userID}
	s.items[playlistID] = []models.PlaylistItem{{
		ID:         uuid.New(),
		PlaylistID: playlistID,
		Media: models.MediaSnapshot{
			SourceType: "youtube",
			SourceID:   userID.String()[:8],
			Title:      "track of " + userID.String()[:8],
			Duration:   0,
		},
	}}
	return userID
}

func (s *fakeStore) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("find user: %w", errs.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendHistoryErr != nil {
		return s.appendHistoryErr
	}
	cp := *entry
	s.history[entry.ID] = &cp
	s.order = append(s.order, entry.ID)
	return nil
}

func (s *fakeStore) GetHistory(_ context.Context, id uuid.UUID) (*models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.history[id]
	if !ok {
		return nil, fmt.Errorf("get history entry: %w", errs.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) ListHistory(_ context.Context, userID *uuid.UUID, offset, limit int) ([]models.HistoryEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HistoryEntry
	for _, id := range s.order {
		e := s.history[id]
		if userID != nil && e.UserID != *userID {
			continue
		}
		out = append(out, *e)
	}
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *fakeStore) GetPlaylist(_ context.Context, id uuid.UUID) (*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playlists[id]
	if !ok {
		return nil, fmt.Errorf("get playlist: %w", errs.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) AppendPlaylistItem(_ context.Context, playlistID uuid.UUID, media models.MediaSnapshot) (*models.PlaylistItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playlists[playlistID]; !ok {
		return nil, fmt.Errorf("get playlist: %w", errs.ErrNotFound)
	}
	item := models.PlaylistItem{
		ID:         uuid.New(),
		PlaylistID: playlistID,
		Media:      media,
		Position:   len(s.items[playlistID]),
	}
	s.items[playlistID] = append(s.items[playlistID], item)
	return &item, nil
}

func (s *fakeStore) NextPlaylistItem(_ context.Context, userID uuid.UUID) (models.MediaSnapshot, uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextItemErr != nil {
		return models.MediaSnapshot{}, uuid.Nil, s.nextItemErr
	}
	u, ok := s.users[userID]
	if !ok || u.ActivePlaylistID == nil {
		return models.MediaSnapshot{}, uuid.Nil, fmt.Errorf("user has no active playlist: %w", errs.ErrNotFound)
	}
	items := s.items[*u.ActivePlaylistID]
	if len(items) == 0 {
		return models.MediaSnapshot{}, uuid.Nil, fmt.Errorf("user has no active playlist: %w", errs.ErrNotFound)
	}
	return items[0].Media, *u.ActivePlaylistID, nil
}

// fakeBroadcaster records published events in order.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *fakeBroadcaster) Publish(_ context.Context, eventType string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Event{Type: EventType(eventType), Payload: payload})
	return nil
}

func (b *fakeBroadcaster) types() []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

func (b *fakeBroadcaster) count(t EventType) int {
	n := 0
	for _, typ := range b.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// allConnected satisfies the Presence contract for tests that don't exercise
// the live-connection requirement.
type allConnected struct{}

func (allConnected) IsConnected(uuid.UUID) bool { return true }

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeBroadcaster) {
	t.Helper()
	store := newFakeStore()
	bus := &fakeBroadcaster{}
	e := NewEngine(store, bus, nil)
	e.SetPresence(allConnected{})
	return e, store, bus
}

func mustJoin(t *testing.T, e *Engine, id uuid.UUID) {
	t.Helper()
	if _, err := e.JoinWaitlist(context.Background(), id, id, -1); err != nil {
		t.Fatalf("join waitlist: %v", err)
	}
}

func wantKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("got error %v, want %v", err, kind)
	}
}

func TestAdvancePromotesHeadAndRetiresToHistory(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	c := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	mustJoin(t, e, c)

	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if booth == nil || booth.UserID != a {
		t.Fatalf("expected %s in the booth, got %+v", a, booth)
	}
	if got := e.Waitlist(); len(got) != 2 || got[0] != b || got[1] != c {
		t.Fatalf("waitlist after first advance = %v", got)
	}
	if len(store.order) != 0 {
		t.Fatalf("nothing should be retired yet, history has %d entries", len(store.order))
	}

	booth2, err := e.Advance(ctx, AdvanceOptions{Remove: true})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if booth2.UserID != b {
		t.Fatalf("expected %s in the booth, got %s", b, booth2.UserID)
	}
	if got := e.Waitlist(); len(got) != 1 || got[0] != c {
		t.Fatalf("waitlist after remove-advance = %v", got)
	}

	if len(store.order) != 1 {
		t.Fatalf("expected one history entry, got %d", len(store.order))
	}
	entry := store.history[store.order[0]]
	if entry.UserID != a {
		t.Fatalf("history entry is for %s, want %s", entry.UserID, a)
	}
	if entry.ID != booth.HistoryID {
		t.Fatalf("history entry id %s does not match retired booth id %s", entry.ID, booth.HistoryID)
	}
}

func TestAdvanceCyclesRetiringDJToTail(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)

	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if booth.UserID != b {
		t.Fatalf("expected %s in the booth, got %s", b, booth.UserID)
	}
	if got := e.Waitlist(); len(got) != 1 || got[0] != a {
		t.Fatalf("retiring DJ should rejoin at the tail, waitlist = %v", got)
	}
}

func TestAdvanceEmptyWaitlistLandsEmpty(t *testing.T) {
	e, _, bus := newTestEngine(t)

	booth, err := e.Advance(context.Background(), AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if booth != nil {
		t.Fatalf("expected empty booth, got %+v", booth)
	}
	if _, ok := e.CurrentDJ(); ok {
		t.Fatal("no DJ expected")
	}
	if bus.count(EventBoothAdvance) != 1 {
		t.Fatalf("expected one advance event, got %d", bus.count(EventBoothAdvance))
	}
}

func TestAdvanceHistoryFailureLeavesStateUntouched(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	store.appendHistoryErr = fmt.Errorf("timeout: %w", errs.ErrStoreUnavailable)
	_, err := e.Advance(ctx, AdvanceOptions{})
	wantKind(t, err, errs.ErrStoreUnavailable)

	if dj, ok := e.CurrentDJ(); !ok || dj != a {
		t.Fatalf("booth should be unchanged, DJ = %v", dj)
	}
	if got := e.Waitlist(); len(got) != 1 || got[0] != b {
		t.Fatalf("waitlist should be unchanged, got %v", got)
	}
}

func TestAdvanceMediaFailureLeavesStateUntouched(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	voter := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := e.CastVote(ctx, voter, DirectionUp); err != nil {
		t.Fatalf("vote: %v", err)
	}
	bus.reset()

	store.nextItemErr = fmt.Errorf("timeout: %w", errs.ErrStoreUnavailable)
	_, err := e.Advance(ctx, AdvanceOptions{})
	wantKind(t, err, errs.ErrStoreUnavailable)

	if dj, ok := e.CurrentDJ(); !ok || dj != a {
		t.Fatalf("booth should be unchanged, DJ = %v ok = %v", dj, ok)
	}
	if got := e.Waitlist(); len(got) != 1 || got[0] != b {
		t.Fatalf("waitlist should be unchanged, got %v", got)
	}
	if len(store.order) != 0 {
		t.Fatalf("nothing may be retired on failure, history has %d entries", len(store.order))
	}
	if up, down := e.Tally(); up != 1 || down != 0 {
		t.Fatalf("tally = %d/%d, votes must survive a failed advance", up, down)
	}
	if len(bus.types()) != 0 {
		t.Fatalf("a failed advance must not emit events, got %v", bus.types())
	}

	// Once the store recovers the same advance goes through.
	store.nextItemErr = nil
	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance after recovery: %v", err)
	}
	if booth.UserID != b {
		t.Fatalf("expected %s after recovery, got %s", b, booth.UserID)
	}
	if len(store.order) != 1 || store.history[store.order[0]].UserID != a {
		t.Fatal("the retired entry must be written exactly once")
	}
}

func TestSkipMediaFailureEmitsNoEvents(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	bus.reset()

	store.nextItemErr = fmt.Errorf("timeout: %w", errs.ErrStoreUnavailable)
	err := e.Skip(ctx, a, SkipRequest{})
	wantKind(t, err, errs.ErrStoreUnavailable)

	if dj, _ := e.CurrentDJ(); dj != a {
		t.Fatalf("booth should be unchanged, DJ = %v", dj)
	}
	if len(bus.types()) != 0 {
		t.Fatalf("a failed skip must not announce anything, got %v", bus.types())
	}
}

func TestReplaceMediaFailureKeepsWaitlistOrder(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	mod := store.addUser(models.RoleModerator)
	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	c := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	mustJoin(t, e, c)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	bus.reset()

	store.nextItemErr = fmt.Errorf("timeout: %w", errs.ErrStoreUnavailable)
	err := e.Replace(ctx, mod, c)
	wantKind(t, err, errs.ErrStoreUnavailable)

	if dj, _ := e.CurrentDJ(); dj != a {
		t.Fatalf("booth should be unchanged, DJ = %v", dj)
	}
	if got := e.Waitlist(); len(got) != 2 || got[0] != b || got[1] != c {
		t.Fatalf("waitlist order must be unchanged, got %v", got)
	}
	if len(bus.types()) != 0 {
		t.Fatalf("a failed replace must not emit events, got %v", bus.types())
	}
}

func TestAdvanceSkipsDJWithoutMedia(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	store.mu.Lock()
	store.users[a].ActivePlaylistID = nil
	store.mu.Unlock()
	mustJoin(t, e, a)
	mustJoin(t, e, b)

	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if booth.UserID != b {
		t.Fatalf("expected %s after skipping media-less DJ, got %s", b, booth.UserID)
	}
}

func TestSkipSelfWhenNotDJFails(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	bus.reset()

	err := e.Skip(ctx, b, SkipRequest{})
	wantKind(t, err, errs.ErrPreconditionFailed)

	if dj, ok := e.CurrentDJ(); !ok || dj != a {
		t.Fatalf("booth should be unchanged, DJ = %v", dj)
	}
	if len(bus.types()) != 0 {
		t.Fatalf("failed skip must not emit events, got %v", bus.types())
	}
}

func TestSkipSelfWithEmptyBody(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	bus.reset()

	if err := e.Skip(ctx, a, SkipRequest{}); err != nil {
		t.Fatalf("self-skip: %v", err)
	}
	if dj, _ := e.CurrentDJ(); dj != b {
		t.Fatalf("expected %s after skip, got %s", b, dj)
	}

	types := bus.types()
	if len(types) < 2 || types[0] != EventBoothSkip || types[1] != EventBoothAdvance {
		t.Fatalf("skip event must precede advance event, got %v", types)
	}
	payload := bus.events[0].Payload.(SkipPayload)
	if payload.ModeratorID != nil {
		t.Fatalf("self-skip must carry a nil moderator, got %v", payload.ModeratorID)
	}
	if payload.UserID != a {
		t.Fatalf("skip payload user = %s, want %s", payload.UserID, a)
	}
}

func TestSkipOther(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	mod := store.addUser(models.RoleModerator)
	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	t.Run("requires capability", func(t *testing.T) {
		target := a
		err := e.Skip(ctx, b, SkipRequest{UserID: &target, Reason: "spam"})
		wantKind(t, err, errs.ErrForbidden)
	})

	t.Run("requires reason", func(t *testing.T) {
		target := a
		err := e.Skip(ctx, mod, SkipRequest{UserID: &target})
		wantKind(t, err, errs.ErrInvalidArgument)
	})

	t.Run("succeeds with target and reason", func(t *testing.T) {
		bus.reset()
		target := a
		if err := e.Skip(ctx, mod, SkipRequest{UserID: &target, Reason: "offensive track"}); err != nil {
			t.Fatalf("moderator skip: %v", err)
		}
		payload := bus.events[0].Payload.(SkipPayload)
		if payload.ModeratorID == nil || *payload.ModeratorID != mod {
			t.Fatalf("moderator skip payload = %+v", payload)
		}
		if payload.Reason != "offensive track" {
			t.Fatalf("reason = %q", payload.Reason)
		}
	})
}

func TestReplaceForcesTargetIntoBooth(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	mod := store.addUser(models.RoleModerator)
	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	c := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	mustJoin(t, e, c)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// Booth: a. Waitlist: [b, c].

	if err := e.Replace(ctx, mod, c); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if dj, _ := e.CurrentDJ(); dj != c {
		t.Fatalf("expected %s in the booth, got %s", c, dj)
	}
	if got := e.Waitlist(); len(got) != 1 || got[0] != b {
		t.Fatalf("waitlist = %v, want [%s]", got, b)
	}
	if len(store.order) != 1 || store.history[store.order[0]].UserID != a {
		t.Fatal("the replaced DJ's play must be retired to history")
	}
}

func TestReplaceEmptyWaitlist(t *testing.T) {
	e, store, _ := newTestEngine(t)
	mod := store.addUser(models.RoleModerator)
	target := store.addUser(models.RoleUser)

	err := e.Replace(context.Background(), mod, target)
	wantKind(t, err, errs.ErrNotFound)
}

func TestReplaceRequiresCapability(t *testing.T) {
	e, store, _ := newTestEngine(t)
	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, b)

	err := e.Replace(context.Background(), a, b)
	wantKind(t, err, errs.ErrForbidden)
}

func TestFavorite(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	bPlaylist := *store.users[b].ActivePlaylistID
	aPlaylist := *store.users[a].ActivePlaylistID

	t.Run("current play favorited from memory", func(t *testing.T) {
		item, err := e.FavoriteCurrent(ctx, b, bPlaylist, booth.HistoryID)
		if err != nil {
			t.Fatalf("favorite: %v", err)
		}
		if item.Media.SourceID != booth.Media.SourceID {
			t.Fatalf("favorited media %+v, want %+v", item.Media, booth.Media)
		}
	})

	t.Run("own play rejected", func(t *testing.T) {
		_, err := e.FavoriteCurrent(ctx, a, aPlaylist, booth.HistoryID)
		wantKind(t, err, errs.ErrForbidden)
	})

	t.Run("someone else's playlist rejected", func(t *testing.T) {
		_, err := e.FavoriteCurrent(ctx, b, aPlaylist, booth.HistoryID)
		wantKind(t, err, errs.ErrForbidden)
	})

	t.Run("unknown history entry", func(t *testing.T) {
		_, err := e.FavoriteCurrent(ctx, b, bPlaylist, uuid.New())
		wantKind(t, err, errs.ErrNotFound)
	})

	t.Run("retired play favorited from history", func(t *testing.T) {
		if _, err := e.Advance(ctx, AdvanceOptions{Remove: true}); err != nil {
			t.Fatalf("advance: %v", err)
		}
		item, err := e.FavoriteCurrent(ctx, b, bPlaylist, booth.HistoryID)
		if err != nil {
			t.Fatalf("favorite: %v", err)
		}
		if item.Media.SourceID != booth.Media.SourceID {
			t.Fatalf("favorited media %+v, want %+v", item.Media, booth.Media)
		}
	})
}

func TestOnUserDisconnect(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	if _, err := e.Advance(ctx, AdvanceOptions{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	bus.reset()

	e.OnUserDisconnect(ctx, a)

	if dj, _ := e.CurrentDJ(); dj != b {
		t.Fatalf("expected %s after DJ disconnect, got %s", b, dj)
	}
	for _, id := range e.Waitlist() {
		if id == a {
			t.Fatal("disconnected DJ must not rejoin the waitlist")
		}
	}
	if bus.count(EventUserLeave) != 1 {
		t.Fatalf("expected one user:leave event, got %d", bus.count(EventUserLeave))
	}

	// Disconnecting again must not panic or disturb the booth.
	e.OnUserDisconnect(ctx, a)
	if dj, _ := e.CurrentDJ(); dj != b {
		t.Fatalf("repeated disconnect changed the DJ to %s", dj)
	}
}

func TestOnUserDisconnectWaitlistOnly(t *testing.T) {
	e, store, bus := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	bus.reset()

	e.OnUserDisconnect(ctx, a)

	if len(e.Waitlist()) != 0 {
		t.Fatalf("waitlist = %v, want empty", e.Waitlist())
	}
	types := bus.types()
	if len(types) != 2 || types[0] != EventWaitlistLeave || types[1] != EventUserLeave {
		t.Fatalf("events = %v", types)
	}
}

func TestConcurrentAdvancesAreSerialized(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	const users = 8
	for i := 0; i < users; i++ {
		mustJoin(t, e, store.addUser(models.RoleUser))
	}

	var wg sync.WaitGroup
	for i := 0; i < users+2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Advance(ctx, AdvanceOptions{Remove: true})
		}()
	}
	wg.Wait()

	// No booth entry may be retired twice and no user may be popped twice.
	seenUsers := make(map[uuid.UUID]int)
	for _, id := range store.order {
		seenUsers[store.history[id].UserID]++
	}
	for user, n := range seenUsers {
		if n > 1 {
			t.Fatalf("user %s retired %d times", user, n)
		}
	}
	if len(store.order) != len(store.history) {
		t.Fatal("duplicate history ids recorded")
	}

	if dj, ok := e.CurrentDJ(); ok {
		for _, id := range e.Waitlist() {
			if id == dj {
				t.Fatal("waitlist contains the current DJ")
			}
		}
	}
}

func TestAutoAdvanceIgnoresStaleTimer(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	a := store.addUser(models.RoleUser)
	b := store.addUser(models.RoleUser)
	mustJoin(t, e, a)
	mustJoin(t, e, b)
	booth, err := e.Advance(ctx, AdvanceOptions{})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	// A timer armed for an entry that already left the booth does nothing.
	e.autoAdvance(uuid.New())
	if dj, _ := e.CurrentDJ(); dj != a {
		t.Fatalf("stale auto-advance changed the DJ to %s", dj)
	}

	// The timer for the live entry advances normally.
	e.autoAdvance(booth.HistoryID)
	if dj, _ := e.CurrentDJ(); dj != b {
		t.Fatalf("expected %s after auto-advance, got %s", b, dj)
	}
}
