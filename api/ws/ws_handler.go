package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/zlnvch/sketchroom/config"
	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/service"
	"go.uber.org/zap"
)

const Subprotocol = "sketchroom-v1"

// Client to server message types.
const (
	msgJoin         = "join"
	msgStrokeSubmit = "stroke-submit"
	msgPointBatch   = "point-batch"
	msgCursorMove   = "cursor-move"
	msgUndo         = "undo"
	msgRedo         = "redo"
	msgClearCanvas  = "clear-canvas"
	msgPing         = "ping"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
	wsCfg   config.WSConfig
	logger  *zap.Logger
}

func NewHandler(svc *service.Service, hub *Hub, wsCfg config.WSConfig, logger *zap.Logger) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
		wsCfg:   wsCfg,
		logger:  logger.Named("ws"),
	}
}

// NewWsUpgrader accepts browsers whose Origin is in allowedOrigins. "*"
// accepts every origin. Requests without an Origin header come from
// non-browser clients and are accepted.
func (h *Handler) NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		Subprotocols: []string{Subprotocol},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("failed to upgrade ws connection", zap.Error(err))
		return
	}

	client := NewClient(h.Hub, conn, h.wsCfg, h.HandleWsMessage, h.logger)
	client.logger.Debug("connection opened", zap.String("remoteAddr", r.RemoteAddr))

	if !h.Hub.enqueueOpen(client) {
		conn.Close()
		return
	}

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// roomPayload is the union of the fields of every room message.
type roomPayload struct {
	RoomId   string         `json:"roomId"`
	Username string         `json:"username"`
	Points   []models.Point `json:"points"`
	Point    models.Point   `json:"point"`
	Cursor   models.Point   `json:"cursor"`
	Color    string         `json:"color"`
	Width    float64        `json:"width"`
	Tool     models.Tool    `json:"tool"`
}

// HandleWsMessage runs on the client's read pump. Pings are answered here;
// every room message is queued for the hub.
func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage {
		client.logger.Warn("ignoring non-text frame", zap.Int("messageType", messageType))
		return
	}

	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		client.logger.Warn("invalid JSON", zap.Error(err))
		return
	}

	switch msg.Type {
	case msgPing:
		pong := service.Event{Type: service.EventPong}
		if len(msg.Data) > 0 {
			pong.Data = msg.Data
		}
		pongBytes, err := json.Marshal(pong)
		if err != nil {
			client.logger.Warn("failed to marshal pong", zap.Error(err))
			return
		}
		if !client.SendDirect(pongBytes) {
			client.logger.Debug("pong dropped")
		}

	case msgJoin, msgStrokeSubmit, msgPointBatch, msgCursorMove, msgUndo, msgRedo, msgClearCanvas:
		var payload roomPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				client.logger.Warn("invalid message data", zap.String("type", msg.Type), zap.Error(err))
				return
			}
		}
		h.Hub.enqueueInbound(inboundMessage{client: client, msgType: msg.Type, payload: payload})

	default:
		client.logger.Warn("unknown message type", zap.String("type", msg.Type))
	}
}
