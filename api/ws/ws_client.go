package ws

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/zlnvch/sketchroom/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Replies written by the read pump itself (pong).
	directBuffer = 8
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, cfg config.WSConfig, handler MessageHandler, logger *zap.Logger) *Client {
	id := uuid.Must(uuid.NewV4()).String()
	return &Client{
		id:             id,
		hub:            hub,
		conn:           conn,
		handler:        handler,
		joinedRooms:    make(map[string]struct{}),
		Send:           make(chan []byte, cfg.SendBuffer),
		direct:         make(chan []byte, directBuffer),
		limiter:        rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		maxMessageSize: cfg.MaxMessageSize,
		logger:         logger.With(zap.String("connId", id)),
	}
}

// Client is a middleman between the websocket connection and the hub.
// joinedRooms and closed belong to the hub goroutine.
type Client struct {
	id             string
	hub            *Hub
	conn           *websocket.Conn
	handler        MessageHandler
	joinedRooms    map[string]struct{}
	closed         bool
	Send           chan []byte // Buffered channel of outbound messages. Closed by the hub.
	direct         chan []byte // Never closed.
	limiter        *rate.Limiter
	maxMessageSize int64
	logger         *zap.Logger
}

func (c *Client) Id() string {
	return c.id
}

// SendDirect queues a reply without going through the hub. It drops the
// message instead of blocking when the peer is not reading.
func (c *Client) SendDirect(message []byte) bool {
	select {
	case c.direct <- message:
		return true
	default:
		return false
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.enqueueClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Info("ws close error", zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			c.logger.Warn("closing connection: message rate limit exceeded")
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("ws send error", zap.Error(err))
				return
			}

		case message := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("ws send error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			return
		}
	}
}
