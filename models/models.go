package models

// Point is a canvas coordinate normalized to the sender's canvas size.
// The server never interprets the range.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Tool string

const (
	ToolDraw  Tool = "draw"
	ToolErase Tool = "erase"
)

func (t Tool) Valid() bool {
	return t == ToolDraw || t == ToolErase
}

type Stroke struct {
	Points []Point `json:"points"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Tool   Tool    `json:"tool"`
	UserId string  `json:"userId"`
}

type OperationKind string

const (
	OperationStroke OperationKind = "stroke"
)

// Operation is one entry of a room's drawing history.
type Operation struct {
	Id        int           `json:"id"`
	Kind      OperationKind `json:"kind"`
	Data      Stroke        `json:"data"`
	Undone    bool          `json:"undone"`
	Timestamp int64         `json:"ts"`
}

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Cursor   Point  `json:"cursor"`
}

type JournalEvent string

const (
	JournalAppend JournalEvent = "append"
	JournalUndo   JournalEvent = "undo"
	JournalRedo   JournalEvent = "redo"
	JournalClear  JournalEvent = "clear"
)

// JournalEntry records one mutation of a room's drawing history for the archive.
// Seq is strictly increasing within a room session and survives Clear.
type JournalEntry struct {
	RoomId        string       `json:"roomId"`
	RoomSessionId string       `json:"roomSessionId"`
	Seq           int64        `json:"seq"`
	Event         JournalEvent `json:"event"`
	OperationId   int          `json:"operationId,omitempty"`
	Stroke        *Stroke      `json:"stroke,omitempty"`
	Timestamp     int64        `json:"ts"`
}

// RoomSession is the archived summary of one incarnation of a room, from
// its first join until its last member left.
type RoomSession struct {
	RoomId          string `json:"roomId"`
	RoomSessionId   string `json:"roomSessionId"`
	Created         int64  `json:"created"`
	Closed          int64  `json:"closed"`
	PeakMembers     int    `json:"peakMembers"`
	ActiveStrokes   int    `json:"activeStrokes"`
	TotalOperations int    `json:"totalOperations"`
	StrokeCount     int    `json:"strokeCount"`
}
