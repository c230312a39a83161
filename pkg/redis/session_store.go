package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/media-booth-system/internal/errs"
)

// TokenLength is the fixed hex length of a socket session token.
const TokenLength = 128

const (
	tokenTTL      = 60 * time.Second
	disconnectTTL = 2 * time.Minute

	socketKeyPrefix     = "socket:"
	disconnectKeyPrefix = "disconnected:"
)

// SessionStore holds single-use socket tokens and short-lived disconnect
// markers in Redis.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// CreateToken mints a single-use token bound to the user. Unredeemed tokens
// expire after a short window.
func (s *SessionStore) CreateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	buf := make([]byte, TokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	key := socketKeyPrefix + token
	if err := s.client.Set(ctx, key, userID.String(), tokenTTL).Err(); err != nil {
		return "", fmt.Errorf("store socket token: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return token, nil
}

// RedeemToken consumes a token and returns the bound user id. The fetch and
// delete are a single GETDEL, so a token redeems at most once even under
// concurrent attempts. Tokens of the wrong length fail fast without a lookup.
func (s *SessionStore) RedeemToken(ctx context.Context, token string) (uuid.UUID, error) {
	if len(token) != TokenLength {
		return uuid.Nil, fmt.Errorf("token must be %d characters: %w", TokenLength, errs.ErrInvalidArgument)
	}

	val, err := s.client.GetDel(ctx, socketKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, fmt.Errorf("unknown or already redeemed token: %w", errs.ErrInvalidToken)
		}
		return uuid.Nil, fmt.Errorf("redeem socket token: %v: %w", err, errs.ErrStoreUnavailable)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed token session: %w", errs.ErrInvalidToken)
	}
	return userID, nil
}

// MarkDisconnected records that a user dropped, so a handshake within the
// window counts as a reconnect.
func (s *SessionStore) MarkDisconnected(ctx context.Context, userID uuid.UUID) error {
	key := disconnectKeyPrefix + userID.String()
	if err := s.client.Set(ctx, key, "1", disconnectTTL).Err(); err != nil {
		return fmt.Errorf("mark disconnected: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return nil
}

// TakeDisconnected consumes the disconnect marker, reporting whether the
// handshake is a reconnect.
func (s *SessionStore) TakeDisconnected(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := disconnectKeyPrefix + userID.String()
	_, err := s.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("check reconnect: %v: %w", err, errs.ErrStoreUnavailable)
	}
	return true, nil
}
