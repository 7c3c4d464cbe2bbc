package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) ClaimRoom(ctx context.Context, roomId string, instanceId string) (string, error) {
	args := m.Called(ctx, roomId, instanceId)
	return args.String(0), args.Error(1)
}

func (m *MockCache) RefreshRoomClaims(ctx context.Context, roomIds []string, instanceId string) error {
	args := m.Called(ctx, roomIds, instanceId)
	return args.Error(0)
}

func (m *MockCache) ReleaseRoom(ctx context.Context, roomId string, instanceId string) error {
	args := m.Called(ctx, roomId, instanceId)
	return args.Error(0)
}

func (m *MockCache) SetRoomMemberCount(ctx context.Context, roomId string, count int) error {
	args := m.Called(ctx, roomId, count)
	return args.Error(0)
}

func (m *MockCache) ListRooms(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}
