package service

import "github.com/zlnvch/sketchroom/models"

// Server to client event names.
const (
	EventJoined          = "joined"
	EventMemberJoined    = "member-joined"
	EventMemberLeft      = "member-left"
	EventStrokeAdded     = "stroke-added"
	EventPointDrawn      = "point-drawn"
	EventCursorMoved     = "cursor-moved"
	EventOperationUndone = "operation-undone"
	EventOperationRedone = "operation-redone"
	EventCanvasCleared   = "canvas-cleared"
	EventPong            = "pong"
	EventError           = "error"
)

// Audience selects the connections of a room that receive an event.
type Audience int

const (
	// AudienceSender is only the connection that caused the event.
	AudienceSender Audience = iota
	// AudienceOthers is every member of the room except the sender.
	AudienceOthers
	// AudienceRoom is every member of the room, sender included.
	AudienceRoom
)

func (a Audience) String() string {
	switch a {
	case AudienceSender:
		return "sender"
	case AudienceOthers:
		return "others"
	case AudienceRoom:
		return "room"
	}
	return "unknown"
}

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Delivery is an event together with who must receive it. Session
// operations return deliveries instead of writing to connections.
type Delivery struct {
	RoomId   string
	SenderId string
	Audience Audience
	Event    Event
}

type JoinedData struct {
	UserId  string          `json:"userId"`
	User    models.User     `json:"user"`
	Users   []models.User   `json:"users"`
	Strokes []models.Stroke `json:"strokes"`
}

type StrokeAddedData struct {
	Operation models.Operation `json:"operation"`
	Stroke    models.Stroke    `json:"stroke"`
}

type PointDrawnData struct {
	UserId string       `json:"userId"`
	Point  models.Point `json:"point"`
	Color  string       `json:"color"`
	Width  float64      `json:"width"`
	Tool   models.Tool  `json:"tool"`
}

type CursorMovedData struct {
	UserId string       `json:"userId"`
	Cursor models.Point `json:"cursor"`
}

type OperationUndoneData struct {
	OperationId int `json:"operationId"`
}

type OperationRedoneData struct {
	OperationId int           `json:"operationId"`
	Stroke      models.Stroke `json:"stroke"`
}

type MemberLeftData struct {
	UserId string `json:"userId"`
}

type ErrorData struct {
	Code   string `json:"code"`
	RoomId string `json:"roomId"`
	Owner  string `json:"owner,omitempty"`
}
