package dynamo

import (
	"fmt"
	"strings"

	"github.com/zlnvch/sketchroom/models"
)

func journalPK(roomSessionId string) string {
	return "JOURNAL#" + roomSessionId
}

// Zero padded so that SK order is sequence order.
func journalSK(seq int64) string {
	return fmt.Sprintf("%020d", seq)
}

func roomPK(roomId string) string {
	return "ROOM#" + roomId
}

func roomSessionSK(roomSessionId string) string {
	return "SESSION#" + roomSessionId
}

type dynamoJournalEntry struct {
	PK          string         `dynamodbav:"PK"`
	SK          string         `dynamodbav:"SK"`
	RoomId      string         `dynamodbav:"RoomId"`
	Seq         int64          `dynamodbav:"Seq"`
	Event       string         `dynamodbav:"Event"`
	OperationId int            `dynamodbav:"OperationId,omitempty"`
	Stroke      *models.Stroke `dynamodbav:"Stroke,omitempty"`
	Timestamp   int64          `dynamodbav:"Timestamp"`
}

// Map domain JournalEntry -> Dynamo
func journalEntryToDynamo(e models.JournalEntry) dynamoJournalEntry {
	return dynamoJournalEntry{
		PK:          journalPK(e.RoomSessionId),
		SK:          journalSK(e.Seq),
		RoomId:      e.RoomId,
		Seq:         e.Seq,
		Event:       string(e.Event),
		OperationId: e.OperationId,
		Stroke:      e.Stroke,
		Timestamp:   e.Timestamp,
	}
}

// Map Dynamo -> domain JournalEntry
func journalEntryFromDynamo(de dynamoJournalEntry) models.JournalEntry {
	return models.JournalEntry{
		RoomId:        de.RoomId,
		RoomSessionId: strings.TrimPrefix(de.PK, "JOURNAL#"),
		Seq:           de.Seq,
		Event:         models.JournalEvent(de.Event),
		OperationId:   de.OperationId,
		Stroke:        de.Stroke,
		Timestamp:     de.Timestamp,
	}
}

type dynamoRoomSession struct {
	PK              string `dynamodbav:"PK"`
	SK              string `dynamodbav:"SK"`
	RoomId          string `dynamodbav:"RoomId"`
	RoomSessionId   string `dynamodbav:"RoomSessionId"`
	Created         int64  `dynamodbav:"Created"`
	Closed          int64  `dynamodbav:"Closed"`
	PeakMembers     int    `dynamodbav:"PeakMembers"`
	ActiveStrokes   int    `dynamodbav:"ActiveStrokes"`
	TotalOperations int    `dynamodbav:"TotalOperations"`
	StrokeCount     int    `dynamodbav:"StrokeCount"`
}

// Map domain RoomSession -> Dynamo
func roomSessionToDynamo(s models.RoomSession) dynamoRoomSession {
	return dynamoRoomSession{
		PK:              roomPK(s.RoomId),
		SK:              roomSessionSK(s.RoomSessionId),
		RoomId:          s.RoomId,
		RoomSessionId:   s.RoomSessionId,
		Created:         s.Created,
		Closed:          s.Closed,
		PeakMembers:     s.PeakMembers,
		ActiveStrokes:   s.ActiveStrokes,
		TotalOperations: s.TotalOperations,
		StrokeCount:     s.StrokeCount,
	}
}

// Map Dynamo -> domain RoomSession. Rows created only by the stroke counter
// carry nothing but their keys.
func roomSessionFromDynamo(ds dynamoRoomSession) models.RoomSession {
	session := models.RoomSession{
		RoomId:          ds.RoomId,
		RoomSessionId:   ds.RoomSessionId,
		Created:         ds.Created,
		Closed:          ds.Closed,
		PeakMembers:     ds.PeakMembers,
		ActiveStrokes:   ds.ActiveStrokes,
		TotalOperations: ds.TotalOperations,
		StrokeCount:     ds.StrokeCount,
	}
	if session.RoomId == "" {
		session.RoomId = strings.TrimPrefix(ds.PK, "ROOM#")
	}
	if session.RoomSessionId == "" {
		session.RoomSessionId = strings.TrimPrefix(ds.SK, "SESSION#")
	}
	return session
}
