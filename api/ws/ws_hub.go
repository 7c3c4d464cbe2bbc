package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zlnvch/sketchroom/cache"
	"github.com/zlnvch/sketchroom/service"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

// inboundMessage is a decoded room message waiting for the hub.
type inboundMessage struct {
	client  *Client
	msgType string
	payload roomPayload
}

// ControlMessage is published on cache.RoomControlChannel and handed to the
// hub of every instance.
type ControlMessage struct {
	Action string `json:"action"`
	RoomId string `json:"roomId"`
}

const ControlActionClear = "clear"

var errHubStopped = errors.New("hub stopped")

// Hub owns every client and room broadcast group of this process. Run is the
// only goroutine that calls room operations of the service, so messages of a
// room are handled one at a time in arrival order. Cluster claims run
// elsewhere and come back on claimCh.
type Hub struct {
	service       *service.Service
	roomCache     cache.RoomCache // nil when not clustered
	OpenCh        chan *Client
	CloseCh       chan *Client
	InboundCh     chan inboundMessage
	ControlCh     chan ControlMessage
	claimCh       chan worker.ClaimResult
	clientsById   map[string]*Client
	roomToClients map[string]map[*Client]struct{}
	// Messages of rooms with a claim in flight, in arrival order.
	awaitingClaim map[string][]inboundMessage
	done          chan struct{}
	logger        *zap.Logger
}

func NewHub(svc *service.Service, roomCache cache.RoomCache, logger *zap.Logger) *Hub {
	return &Hub{
		service:       svc,
		roomCache:     roomCache,
		OpenCh:        make(chan *Client, 256),
		CloseCh:       make(chan *Client, 256),
		InboundCh:     make(chan inboundMessage, 4096),
		ControlCh:     make(chan ControlMessage, 64),
		claimCh:       make(chan worker.ClaimResult, 256),
		clientsById:   make(map[string]*Client),
		roomToClients: make(map[string]map[*Client]struct{}),
		awaitingClaim: make(map[string][]inboundMessage),
		done:          make(chan struct{}),
		logger:        logger.Named("hub"),
	}
}

// Run serves the hub until shutdownCtx is done. Before returning it closes
// every client, so every hosted room is closed and released.
func (h *Hub) Run(shutdownCtx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.OpenCh:
			h.register(client)

		case client := <-h.CloseCh:
			h.closeClient(shutdownCtx, client)

		case msg := <-h.InboundCh:
			if msg.client.closed {
				continue
			}
			// OpenCh and InboundCh are not ordered relative to each other.
			h.register(msg.client)
			h.deliver(h.route(shutdownCtx, msg))

		case result := <-h.claimCh:
			h.handleClaim(shutdownCtx, result)

		case ctrl := <-h.ControlCh:
			h.handleControl(shutdownCtx, ctrl)

		case <-shutdownCtx.Done():
			h.closeAll()
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) closeAll() {
	// shutdownCtx is already done.
	ctx := context.Background()
	for _, client := range h.clientsById {
		h.closeClient(ctx, client)
	}
	h.logger.Info("hub stopped", zap.Int("roomsLeft", h.service.Rooms.RoomCount()))
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// The enqueue helpers give up once the hub has stopped.

func (h *Hub) enqueueOpen(client *Client) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.OpenCh <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) enqueueClose(client *Client) {
	if h.stopped() {
		return
	}
	select {
	case h.CloseCh <- client:
	case <-h.done:
	}
}

func (h *Hub) enqueueInbound(msg inboundMessage) {
	if h.stopped() {
		return
	}
	select {
	case h.InboundCh <- msg:
	case <-h.done:
	}
}

// InitSubscriptions forwards room-control messages published by any instance
// to this hub. It is a no-op outside cluster mode.
func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	if h.roomCache == nil {
		return nil
	}
	err := h.roomCache.Subscribe(shutdownCtx, cache.RoomControlChannel, func(message []byte) {
		var ctrl ControlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			h.logger.Warn("failed to unmarshal room-control message", zap.Error(err))
			return
		}
		select {
		case h.ControlCh <- ctrl:
		case <-h.done:
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe to room-control", zap.Error(err))
		return err
	}
	return nil
}

// RequestClear clears a room wherever it is hosted. In cluster mode the
// request is published so that the owning instance performs it.
func (h *Hub) RequestClear(ctx context.Context, roomId string) error {
	ctrl := ControlMessage{Action: ControlActionClear, RoomId: h.service.NormalizeRoomId(roomId)}
	if h.roomCache == nil {
		select {
		case h.ControlCh <- ctrl:
			return nil
		case <-h.done:
			return errHubStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	body, err := json.Marshal(ctrl)
	if err != nil {
		return err
	}
	return h.roomCache.Publish(ctx, cache.RoomControlChannel, body)
}

func (h *Hub) register(client *Client) {
	if client.closed {
		return
	}
	if _, ok := h.clientsById[client.id]; !ok {
		h.clientsById[client.id] = client
	}
}

// closeClient is idempotent. A client closed before it was registered is
// never registered afterwards.
func (h *Hub) closeClient(ctx context.Context, client *Client) {
	for roomId := range client.joinedRooms {
		h.leaveRoom(client, roomId)
		h.deliver(h.service.Leave(ctx, client.id, roomId))
	}
	delete(h.clientsById, client.id)

	if !client.closed {
		client.closed = true
		close(client.Send)
	}
}

func (h *Hub) joinRoom(client *Client, roomId string) {
	if h.roomToClients[roomId] == nil {
		h.roomToClients[roomId] = make(map[*Client]struct{})
	}
	h.roomToClients[roomId][client] = struct{}{}
	client.joinedRooms[roomId] = struct{}{}
}

func (h *Hub) leaveRoom(client *Client, roomId string) {
	delete(client.joinedRooms, roomId)
	delete(h.roomToClients[roomId], client)
	if len(h.roomToClients[roomId]) == 0 {
		delete(h.roomToClients, roomId)
	}
}

func (h *Hub) route(ctx context.Context, msg inboundMessage) []service.Delivery {
	client := msg.client
	p := msg.payload
	roomId := h.service.NormalizeRoomId(p.RoomId)

	if h.service.NeedsClaim(roomId) {
		h.awaitClaim(roomId, msg)
		return nil
	}

	if msg.msgType == msgJoin {
		deliveries := h.service.Join(ctx, joinParams(client, roomId, p))
		h.joinRoom(client, roomId)
		return deliveries
	}

	if _, joined := client.joinedRooms[roomId]; !joined {
		h.logger.Warn("message for a room the connection has not joined",
			zap.String("connId", client.id),
			zap.String("roomId", roomId),
			zap.String("type", msg.msgType),
		)
		return nil
	}

	switch msg.msgType {
	case msgStrokeSubmit:
		return h.service.SubmitStroke(ctx, service.StrokeParams{
			ConnId: client.id,
			RoomId: roomId,
			Points: p.Points,
			Color:  p.Color,
			Width:  p.Width,
			Tool:   p.Tool,
		})
	case msgPointBatch:
		return h.service.DrawPoint(ctx, service.PointParams{
			ConnId: client.id,
			RoomId: roomId,
			Point:  p.Point,
			Color:  p.Color,
			Width:  p.Width,
			Tool:   p.Tool,
		})
	case msgCursorMove:
		return h.service.MoveCursor(ctx, client.id, roomId, p.Cursor)
	case msgUndo:
		return h.service.Undo(ctx, client.id, roomId)
	case msgRedo:
		return h.service.Redo(ctx, client.id, roomId)
	case msgClearCanvas:
		return h.service.Clear(ctx, client.id, roomId)
	}
	return nil
}

func joinParams(client *Client, roomId string, p roomPayload) service.JoinParams {
	return service.JoinParams{ConnId: client.id, RoomId: roomId, Username: p.Username}
}

// awaitClaim holds messages of a room that is not hosted here until its claim
// is settled. Only joins start a claim; anything else from a client without a
// pending join is dropped.
func (h *Hub) awaitClaim(roomId string, msg inboundMessage) {
	queued := h.awaitingClaim[roomId]
	if msg.msgType != msgJoin && !hasPendingJoin(queued, msg.client) {
		h.logger.Warn("message for a room the connection has not joined",
			zap.String("connId", msg.client.id),
			zap.String("roomId", roomId),
			zap.String("type", msg.msgType),
		)
		return
	}

	h.awaitingClaim[roomId] = append(queued, msg)
	if len(queued) > 0 {
		return
	}
	h.service.ClaimRoom(roomId, func(result worker.ClaimResult) {
		select {
		case h.claimCh <- result:
		case <-h.done:
		}
	})
}

func hasPendingJoin(queued []inboundMessage, client *Client) bool {
	for _, msg := range queued {
		if msg.client == client && msg.msgType == msgJoin {
			return true
		}
	}
	return false
}

// handleClaim replays the messages held for the claimed room. When the lease
// went to another instance every pending join is refused.
func (h *Hub) handleClaim(ctx context.Context, result worker.ClaimResult) {
	queued := h.awaitingClaim[result.RoomId]
	delete(h.awaitingClaim, result.RoomId)

	joined := false
	for _, msg := range queued {
		if msg.client.closed {
			continue
		}
		if msg.msgType != msgJoin {
			// A non-member message again when the join was refused.
			h.deliver(h.route(ctx, msg))
			continue
		}
		params := joinParams(msg.client, result.RoomId, msg.payload)
		if !result.Owned {
			h.deliver(h.service.RejectJoin(params, result.Owner))
			continue
		}
		deliveries := h.service.Join(ctx, params)
		h.joinRoom(msg.client, result.RoomId)
		h.deliver(deliveries)
		joined = true
	}

	if result.Owned && !joined {
		h.service.ReleaseClaim(result.RoomId)
	}
}

func (h *Hub) handleControl(ctx context.Context, ctrl ControlMessage) {
	if ctrl.Action != ControlActionClear {
		h.logger.Warn("unknown room-control action", zap.String("action", ctrl.Action))
		return
	}
	// Only the instance hosting the room acts on it.
	if _, hosted := h.service.Rooms.Room(ctrl.RoomId); !hosted {
		return
	}
	h.logger.Info("clearing room on request", zap.String("roomId", ctrl.RoomId))
	h.deliver(h.service.Clear(ctx, "", ctrl.RoomId))
}

func (h *Hub) deliver(deliveries []service.Delivery) {
	for _, d := range deliveries {
		message, err := json.Marshal(d.Event)
		if err != nil {
			h.logger.Error("failed to marshal event", zap.String("type", d.Event.Type), zap.Error(err))
			continue
		}

		switch d.Audience {
		case service.AudienceSender:
			if client, ok := h.clientsById[d.SenderId]; ok {
				h.send(client, message)
			}
		case service.AudienceOthers:
			for client := range h.roomToClients[d.RoomId] {
				if client.id != d.SenderId {
					h.send(client, message)
				}
			}
		case service.AudienceRoom:
			for client := range h.roomToClients[d.RoomId] {
				h.send(client, message)
			}
		}
	}
}

// send never blocks the hub. A client that cannot keep up is disconnected;
// its read pump then reports it on CloseCh and it leaves its rooms.
func (h *Hub) send(client *Client, message []byte) {
	if client.closed {
		return
	}
	select {
	case client.Send <- message:
	default:
		h.logger.Warn("send buffer full, dropping client", zap.String("connId", client.id))
		client.closed = true
		close(client.Send)
	}
}
