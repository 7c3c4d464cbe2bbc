package store

import (
	"context"
	"errors"

	"github.com/zlnvch/sketchroom/models"
)

// ArchiveStore keeps the write-behind history of rooms. It is never used to
// rebuild a live room.
type ArchiveStore interface {
	WriteJournalBatch(ctx context.Context, entries []models.JournalEntry) ([]models.JournalEntry, error)
	GetJournal(ctx context.Context, roomSessionId string) ([]models.JournalEntry, error)
	PutRoomSession(ctx context.Context, session models.RoomSession) error
	GetRoomSessions(ctx context.Context, roomId string) ([]models.RoomSession, error)
	IncrementRoomSessionStrokeCount(ctx context.Context, roomId string, roomSessionId string, count int) error
}

var ErrItemNotFound = errors.New("item does not exist")
