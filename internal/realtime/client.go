package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shoplive-labs/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60

	writeWait     = 10 * time.Second
	maxMessageLen = 65536
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection. It carries an identity
// from the moment of upgrade but no stream session until a join event.
type Client struct {
	ID       string
	Identity models.Identity

	hub    *Hub
	co     *Coordinator
	conn   *websocket.Conn
	send   chan Envelope
	logger *zap.Logger
}

// CustomerValidator resolves an upstream-issued token to a customer id.
type CustomerValidator func(token string) (customerID uuid.UUID, role string, err error)

// ServeWS handles the WebSocket upgrade and runs the client loops. Identity
// is resolved at upgrade: a customer token, or a guest id issued upstream.
func ServeWS(hub *Hub, co *Coordinator, logger *zap.Logger, validate CustomerValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := resolveIdentity(c, validate)
		if !ok {
			return
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
			co:       co,
			conn:     conn,
			send:     make(chan Envelope, sendBuffer),
			logger:   logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func resolveIdentity(c *gin.Context, validate CustomerValidator) (models.Identity, bool) {
	if token := c.Query("token"); token != "" {
		customerID, _, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return models.Identity{}, false
		}
		return models.CustomerIdentity(customerID), true
	}
	if guestID := c.Query("guest_id"); guestID != "" {
		return models.GuestIdentity(guestID, c.Query("guest_name")), true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "token or guest_id required"})
	return models.Identity{}, false
}

func (c *Client) readPump() {
	defer func() {
		c.co.Disconnect(context.Background(), c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageLen)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.co.Dispatch(context.Background(), c, msg)
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
