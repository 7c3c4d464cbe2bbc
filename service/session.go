package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/mq"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

// Error codes sent to clients in error events.
const (
	ErrCodeRoomOwnedElsewhere = "room-owned-elsewhere"
)

type JoinParams struct {
	ConnId   string
	RoomId   string
	Username string
}

type StrokeParams struct {
	ConnId string
	RoomId string
	Points []models.Point
	Color  string
	Width  float64
	Tool   models.Tool
}

type PointParams struct {
	ConnId string
	RoomId string
	Point  models.Point
	Color  string
	Width  float64
	Tool   models.Tool
}

// NeedsClaim reports whether roomId has to be claimed from the cluster before
// a connection may join it on this instance.
func (s *Service) NeedsClaim(roomId string) bool {
	if s.CacheSync == nil {
		return false
	}
	_, hosted := s.Rooms.Room(s.NormalizeRoomId(roomId))
	return !hosted
}

// ClaimRoom asks the cluster for the lease of roomId without blocking; done is
// called from another goroutine once the claim is settled.
func (s *Service) ClaimRoom(roomId string, done func(worker.ClaimResult)) {
	s.CacheSync.Claim(s.NormalizeRoomId(roomId), done)
}

// ReleaseClaim gives back a lease that was claimed but never used.
func (s *Service) ReleaseClaim(roomId string) {
	if s.CacheSync == nil {
		return
	}
	s.CacheSync.Release(s.NormalizeRoomId(roomId))
}

// Join adds the connection to the room and returns the room snapshot for the
// joiner plus the announcement for everyone else. In cluster mode the room
// must be hosted here already or claimed first, see NeedsClaim.
func (s *Service) Join(ctx context.Context, p JoinParams) []Delivery {
	roomId := s.NormalizeRoomId(p.RoomId)

	room, user := s.Rooms.AddUser(roomId, p.ConnId, NormalizeUsername(p.Username))
	users := s.Rooms.ListUsers(roomId)
	strokes := room.DrawingState.ActiveStrokes()

	s.logger.Debug("user joined",
		zap.String("roomId", roomId),
		zap.String("connId", p.ConnId),
		zap.String("username", user.Username),
		zap.Int("members", len(users)),
	)
	s.publishMemberCount(roomId, len(users))

	return []Delivery{
		{
			RoomId:   roomId,
			SenderId: p.ConnId,
			Audience: AudienceSender,
			Event: Event{
				Type: EventJoined,
				Data: JoinedData{UserId: p.ConnId, User: user, Users: users, Strokes: strokes},
			},
		},
		{
			RoomId:   roomId,
			SenderId: p.ConnId,
			Audience: AudienceOthers,
			Event:    Event{Type: EventMemberJoined, Data: user},
		},
	}
}

// RejectJoin answers a join of a room whose lease another instance holds.
func (s *Service) RejectJoin(p JoinParams, owner string) []Delivery {
	roomId := s.NormalizeRoomId(p.RoomId)
	return []Delivery{{
		RoomId:   roomId,
		SenderId: p.ConnId,
		Audience: AudienceSender,
		Event: Event{
			Type: EventError,
			Data: ErrorData{Code: ErrCodeRoomOwnedElsewhere, RoomId: roomId, Owner: owner},
		},
	}}
}

// Leave removes the connection from the room. When it was the last member the
// room is discarded and its summary is handed to the archive.
func (s *Service) Leave(ctx context.Context, connId string, roomId string) []Delivery {
	roomId = s.NormalizeRoomId(roomId)

	removed, closed := s.Rooms.RemoveUser(roomId, connId)
	if !removed {
		return nil
	}

	if closed != nil {
		s.onRoomClosed(*closed)
		return nil
	}

	s.publishMemberCount(roomId, s.Rooms.MemberCount(roomId))
	return []Delivery{{
		RoomId:   roomId,
		SenderId: connId,
		Audience: AudienceOthers,
		Event:    Event{Type: EventMemberLeft, Data: MemberLeftData{UserId: connId}},
	}}
}

func (s *Service) SubmitStroke(ctx context.Context, p StrokeParams) []Delivery {
	roomId := s.NormalizeRoomId(p.RoomId)
	if err := ValidateStroke(p.Points, p.Color, p.Width, p.Tool, s.Limits); err != nil {
		s.logger.Debug("dropping stroke", zap.String("roomId", roomId), zap.String("connId", p.ConnId), zap.Error(err))
		return nil
	}

	stroke := models.Stroke{
		Points: p.Points,
		Color:  p.Color,
		Width:  p.Width,
		Tool:   p.Tool,
		UserId: p.ConnId,
	}
	room := s.Rooms.GetOrCreateRoom(roomId)
	op := room.DrawingState.AddStroke(stroke)
	s.journal(room, models.JournalAppend, op.Id, &stroke)

	return []Delivery{{
		RoomId:   roomId,
		SenderId: p.ConnId,
		Audience: AudienceOthers,
		Event:    Event{Type: EventStrokeAdded, Data: StrokeAddedData{Operation: op, Stroke: stroke}},
	}}
}

// DrawPoint relays in-progress drawing. Nothing is stored.
func (s *Service) DrawPoint(ctx context.Context, p PointParams) []Delivery {
	roomId := s.NormalizeRoomId(p.RoomId)
	if err := ValidateBrush(p.Color, p.Width, p.Tool, s.Limits); err != nil {
		s.logger.Debug("dropping point batch", zap.String("roomId", roomId), zap.String("connId", p.ConnId), zap.Error(err))
		return nil
	}

	return []Delivery{{
		RoomId:   roomId,
		SenderId: p.ConnId,
		Audience: AudienceOthers,
		Event: Event{
			Type: EventPointDrawn,
			Data: PointDrawnData{UserId: p.ConnId, Point: p.Point, Color: p.Color, Width: p.Width, Tool: p.Tool},
		},
	}}
}

func (s *Service) MoveCursor(ctx context.Context, connId string, roomId string, cursor models.Point) []Delivery {
	roomId = s.NormalizeRoomId(roomId)
	s.Rooms.UpdateCursor(roomId, connId, cursor)

	return []Delivery{{
		RoomId:   roomId,
		SenderId: connId,
		Audience: AudienceOthers,
		Event:    Event{Type: EventCursorMoved, Data: CursorMovedData{UserId: connId, Cursor: cursor}},
	}}
}

// Undo hides the newest visible stroke of the room, whoever drew it.
func (s *Service) Undo(ctx context.Context, connId string, roomId string) []Delivery {
	roomId = s.NormalizeRoomId(roomId)
	room := s.Rooms.GetOrCreateRoom(roomId)

	op, ok := room.DrawingState.Undo()
	if !ok {
		return nil
	}
	s.journal(room, models.JournalUndo, op.Id, nil)

	return []Delivery{{
		RoomId:   roomId,
		SenderId: connId,
		Audience: AudienceRoom,
		Event:    Event{Type: EventOperationUndone, Data: OperationUndoneData{OperationId: op.Id}},
	}}
}

// Redo restores the oldest hidden stroke of the room.
func (s *Service) Redo(ctx context.Context, connId string, roomId string) []Delivery {
	roomId = s.NormalizeRoomId(roomId)
	room := s.Rooms.GetOrCreateRoom(roomId)

	op, ok := room.DrawingState.Redo()
	if !ok {
		return nil
	}
	s.journal(room, models.JournalRedo, op.Id, nil)

	return []Delivery{{
		RoomId:   roomId,
		SenderId: connId,
		Audience: AudienceRoom,
		Event:    Event{Type: EventOperationRedone, Data: OperationRedoneData{OperationId: op.Id, Stroke: op.Data}},
	}}
}

// Clear wipes the room's history. connId is empty when the clear came from
// the REST API or another instance.
func (s *Service) Clear(ctx context.Context, connId string, roomId string) []Delivery {
	roomId = s.NormalizeRoomId(roomId)
	room := s.Rooms.GetOrCreateRoom(roomId)

	room.DrawingState.Clear()
	s.journal(room, models.JournalClear, 0, nil)

	return []Delivery{{
		RoomId:   roomId,
		SenderId: connId,
		Audience: AudienceRoom,
		Event:    Event{Type: EventCanvasCleared},
	}}
}

func (s *Service) journal(room *Room, event models.JournalEvent, opId int, stroke *models.Stroke) {
	if s.JournalBatcher == nil {
		return
	}
	entry := models.JournalEntry{
		RoomId:        room.Id,
		RoomSessionId: room.SessionId,
		Seq:           room.NextJournalSeq(),
		Event:         event,
		OperationId:   opId,
		Stroke:        stroke,
		Timestamp:     time.Now().UnixMilli(),
	}
	select {
	case s.JournalBatcher.WriteCh <- entry:
	default:
		s.logger.Warn("journal queue full, dropping entry", zap.String("roomId", room.Id), zap.Int64("seq", entry.Seq))
	}
}

func (s *Service) publishMemberCount(roomId string, count int) {
	if s.CacheSync == nil {
		return
	}
	s.CacheSync.SetMemberCount(roomId, count)
}

func (s *Service) onRoomClosed(snapshot RoomSnapshot) {
	s.logger.Info("room closed",
		zap.String("roomId", snapshot.Id),
		zap.String("roomSessionId", snapshot.SessionId),
		zap.Int("peakMembers", snapshot.PeakMembers),
		zap.Int("operations", snapshot.Operations),
	)

	// Queued behind every earlier write of this room, and ahead of any
	// later claim of it.
	if s.CacheSync != nil {
		s.CacheSync.Release(snapshot.Id)
	}

	if s.MQ == nil {
		return
	}

	msg := mq.RoomClosedMessage{
		RoomId:          snapshot.Id,
		RoomSessionId:   snapshot.SessionId,
		Created:         snapshot.Created,
		Closed:          time.Now().UnixMilli(),
		PeakMembers:     snapshot.PeakMembers,
		ActiveStrokes:   snapshot.ActiveStrokes,
		TotalOperations: snapshot.Operations,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal room closed message", zap.Error(err))
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.MQ.Send(ctx, string(body)); err != nil {
			s.logger.Error("failed to queue room closed message", zap.String("roomId", msg.RoomId), zap.Error(err))
		}
	}()
}
