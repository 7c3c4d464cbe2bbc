package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/sketchroom/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) WriteJournalBatch(ctx context.Context, entries []models.JournalEntry) ([]models.JournalEntry, error) {
	args := m.Called(ctx, entries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JournalEntry), args.Error(1)
}

func (m *MockStore) GetJournal(ctx context.Context, roomSessionId string) ([]models.JournalEntry, error) {
	args := m.Called(ctx, roomSessionId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JournalEntry), args.Error(1)
}

func (m *MockStore) PutRoomSession(ctx context.Context, session models.RoomSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) GetRoomSessions(ctx context.Context, roomId string) ([]models.RoomSession, error) {
	args := m.Called(ctx, roomId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RoomSession), args.Error(1)
}

func (m *MockStore) IncrementRoomSessionStrokeCount(ctx context.Context, roomId string, roomSessionId string, count int) error {
	args := m.Called(ctx, roomId, roomSessionId, count)
	return args.Error(0)
}
