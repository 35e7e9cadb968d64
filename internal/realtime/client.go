package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Identity is the resolved identity attached to a connection at admission.
// Anonymous connections have no user id and no role.
type Identity struct {
	UserID    *uuid.UUID
	Role      string
	Anonymous bool
}

func (id Identity) String() string {
	if id.Anonymous || id.UserID == nil {
		return "anonymous"
	}
	return id.UserID.String()
}

// TokenVerifier checks a bearer token and returns the user id and role.
type TokenVerifier func(token string) (userID uuid.UUID, role string, err error)

// Client represents a single admitted WebSocket connection. A client may
// join any number of activity rooms over its lifetime.
type Client struct {
	ID       string
	Identity Identity

	hub    *Hub
	router *Router
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade with authenticate-or-anonymous
// admission. A missing token admits an anonymous connection; an invalid one
// is rejected with 401 before any upgrade.
func ServeWs(hub *Hub, router *Router, logger *zap.Logger, verify TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity{Anonymous: true}
		if token := c.Query("token"); token != "" {
			userID, role, err := verify(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			identity = Identity{UserID: &userID, Role: role}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			Identity: identity,
			hub:      hub,
			router:   router,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
		}
		hub.RegisterConn(client)
		logger.Info("client connected",
			zap.String("conn_id", client.ID),
			zap.String("identity", client.Identity.String()),
		)
		go client.writePump()
		client.readPump()
	}
}

// enqueue hands a message to the write pump without blocking; a full buffer
// drops the message (broadcasts are best-effort).
func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.router.HandleDisconnect(c)
		c.hub.UnregisterConn(c)
		_ = c.conn.Close()
		c.logger.Info("client disconnected",
			zap.String("conn_id", c.ID),
			zap.String("identity", c.Identity.String()),
		)
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.router.Dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
