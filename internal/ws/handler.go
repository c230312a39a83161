package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/media-booth-system/internal/booth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, implement proper origin checking
	},
}

type Handler struct {
	hub      *Hub
	engine   *booth.Engine
	sessions SessionStore
	users    booth.UserDirectory
	log      *zap.Logger
}

func NewHandler(hub *Hub, engine *booth.Engine, sessions SessionStore, users booth.UserDirectory, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      hub,
		engine:   engine,
		sessions: sessions,
		users:    users,
		log:      log,
	}
}

// HandleWebSocket upgrades the request and runs the connection actor. The
// endpoint is public: every connection starts as a guest and upgrades itself
// by redeeming a socket token over the wire.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := newConnection(h.hub, sock, h.sessions, h.users, h.engine, h.log)
	h.hub.add(conn)

	go conn.writeLoop()
	conn.readLoop(c.Request.Context())

	// Socket closed: best-effort cleanup. Disconnect handling never blocks
	// on secondary failures.
	userID, wasAuth := h.hub.remove(conn)
	conn.closeSend()
	_ = sock.Close()

	if wasAuth {
		// The request context died with the socket; cleanup gets its own.
		ctx := context.Background()
		if err := h.sessions.MarkDisconnected(ctx, userID); err != nil {
			h.log.Warn("mark disconnected failed", zap.Error(err))
		}
		h.engine.OnUserDisconnect(ctx, userID)
	}
}
