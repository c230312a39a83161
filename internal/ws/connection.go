package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/media-booth-system/internal/booth"
	"github.com/media-booth-system/internal/errs"
)

// State of a real-time connection. Every connection starts as a guest and
// may upgrade exactly once by redeeming a socket token.
type State int

const (
	StateGuest State = iota
	StateAuthenticated
)

// SessionStore is the slice of the redis session store the handshake needs.
type SessionStore interface {
	RedeemToken(ctx context.Context, token string) (uuid.UUID, error)
	MarkDisconnected(ctx context.Context, userID uuid.UUID) error
	TakeDisconnected(ctx context.Context, userID uuid.UUID) (bool, error)
}

// socket is the subset of *websocket.Conn the connection uses.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// command is the client-to-server message frame.
type command struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

type authData struct {
	Token string `json:"token"`
}

type voteData struct {
	Direction int `json:"direction"`
}

// Connection is the per-client actor. Its state field decides which commands
// are accepted; there are no callbacks, just the read loop dispatching on
// (state, command).
type Connection struct {
	hub      *Hub
	socket   socket
	sessions SessionStore
	users    booth.UserDirectory
	engine   *booth.Engine
	log      *zap.Logger

	send chan []byte

	mu         sync.Mutex
	sendClosed bool
	state      State
	userID     uuid.UUID
}

func newConnection(hub *Hub, sock socket, sessions SessionStore, users booth.UserDirectory, engine *booth.Engine, log *zap.Logger) *Connection {
	return &Connection{
		hub:      hub,
		socket:   sock,
		sessions: sessions,
		users:    users,
		engine:   engine,
		log:      log,
		send:     make(chan []byte, 64),
		state:    StateGuest,
	}
}

// State returns the connection's current auth state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID returns the authenticated identity, if any.
func (c *Connection) UserID() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return uuid.Nil, false
	}
	return c.userID, true
}

// trySend queues data for the write loop. Returns false when the connection
// is already closed or the client can't keep up. The closed check and the
// send share the mutex, so a concurrent closeSend can never race a send onto
// the closed channel.
func (c *Connection) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel down exactly once. After it returns,
// trySend is a no-op; the write loop drains and exits.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// sendFrame queues a server-to-client message, dropping it if the client
// can't keep up.
func (c *Connection) sendFrame(cmd string, data any) {
	raw, err := json.Marshal(map[string]any{"command": cmd, "data": data})
	if err != nil {
		return
	}
	if !c.trySend(raw) {
		c.log.Warn("dropping frame", zap.String("command", cmd))
	}
}

func (c *Connection) writeLoop() {
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readLoop runs until the socket closes, dispatching one command at a time.
func (c *Connection) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(ctx, raw)
	}
}

func (c *Connection) handleMessage(ctx context.Context, raw []byte) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.sendFrame("error", "malformed message")
		return
	}

	switch c.State() {
	case StateGuest:
		// Guests may only attempt the handshake; everything else is ignored.
		if cmd.Command != "auth" {
			return
		}
		var data authData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			c.sendFrame("error", "malformed auth payload")
			return
		}
		if err := c.AttemptAuth(ctx, data.Token); err != nil {
			c.sendFrame("error", err.Error())
		}
	case StateAuthenticated:
		c.handleAuthenticated(ctx, cmd)
	}
}

func (c *Connection) handleAuthenticated(ctx context.Context, cmd command) {
	userID, _ := c.UserID()

	switch cmd.Command {
	case "vote":
		var data voteData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			c.sendFrame("error", "malformed vote payload")
			return
		}
		if data.Direction != int(booth.DirectionUp) && data.Direction != int(booth.DirectionDown) {
			c.sendFrame("error", "direction must be 1 or -1")
			return
		}
		if err := c.engine.CastVote(ctx, userID, booth.Direction(data.Direction)); err != nil {
			c.sendFrame("error", err.Error())
		}
	case "ping":
		c.sendFrame("pong", nil)
	case "logout":
		c.downgrade(ctx)
	}
}

// AttemptAuth redeems a single-use token and upgrades the connection to the
// bound identity. Banned users fail the upgrade but the connection stays
// open as a guest: they may observe the session, never assume an identity.
func (c *Connection) AttemptAuth(ctx context.Context, token string) error {
	userID, err := c.sessions.RedeemToken(ctx, token)
	if err != nil {
		return err
	}

	user, err := c.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("token session has no user: %w", errs.ErrInvalidToken)
		}
		return err
	}

	// Re-check the ban at redemption time; bans issued after the token was
	// minted must still block login.
	if user.Banned() {
		return fmt.Errorf("you have been banned: %w", errs.ErrForbidden)
	}

	c.mu.Lock()
	c.state = StateAuthenticated
	c.userID = user.ID
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.bind(user.ID, c)
	}

	reconnect, err := c.sessions.TakeDisconnected(ctx, user.ID)
	if err != nil {
		c.log.Warn("reconnect check failed", zap.Error(err))
	}
	c.log.Info("connection authenticated",
		zap.String("user_id", user.ID.String()),
		zap.Bool("reconnect", reconnect))

	c.sendFrame("authenticated", map[string]any{
		"user_id":   user.ID,
		"reconnect": reconnect,
	})
	return nil
}

// downgrade drops the authenticated identity, returning to guest state.
func (c *Connection) downgrade(ctx context.Context) {
	c.mu.Lock()
	userID := c.userID
	wasAuth := c.state == StateAuthenticated
	c.state = StateGuest
	c.userID = uuid.Nil
	c.mu.Unlock()

	if !wasAuth {
		return
	}
	if c.hub != nil {
		c.hub.unbind(userID, c)
	}
	c.engine.OnUserDisconnect(ctx, userID)
}
