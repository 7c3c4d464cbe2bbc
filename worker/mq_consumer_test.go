package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/sketchroom/models"
	mqmocks "github.com/zlnvch/sketchroom/mq/mocks"
	storemocks "github.com/zlnvch/sketchroom/store/mocks"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

func TestMQConsumer_ArchivesAndDeletes(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)

	msg := mqmocks.NewMessage("m1", `{"roomId":"demo","roomSessionId":"s1","created":100,"closed":200,"peakMembers":3,"activeStrokes":4,"totalOperations":6}`, 1)
	mockMQ.DeliverThenStop(msg)
	mockMQ.On("Delete", mock.Anything, msg).Return(nil).Once()
	mockStore.On("PutRoomSession", mock.Anything, models.RoomSession{
		RoomId:          "demo",
		RoomSessionId:   "s1",
		Created:         100,
		Closed:          200,
		PeakMembers:     3,
		ActiveStrokes:   4,
		TotalOperations: 6,
	}).Return(nil).Once()

	worker.NewMQConsumer(mockMQ, mockStore, zap.NewNop()).Run(context.Background())

	mockStore.AssertExpectations(t)
	mockMQ.AssertCalled(t, "Receive", mock.Anything, int32(30))
	assert.Equal(t, []string{"m1"}, mockMQ.DeletedIds())
}

func TestMQConsumer_RetriesFailedArchive(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)

	mockMQ.DeliverThenStop(nil, mqmocks.NewMessage("m1", `{"roomId":"demo","roomSessionId":"s2"}`, 1))
	mockStore.On("PutRoomSession", mock.Anything, mock.Anything).Return(errors.New("throttled")).Once()

	worker.NewMQConsumer(mockMQ, mockStore, zap.NewNop()).Run(context.Background())

	// Left on the queue to become visible again.
	assert.Empty(t, mockMQ.DeletedIds())
	mockStore.AssertNumberOfCalls(t, "PutRoomSession", 1)
}

func TestMQConsumer_DropsPoisonMessages(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)

	mockMQ.DeliverThenStop(
		mqmocks.NewMessage("garbage", "not json", 1),
		mqmocks.NewMessage("anonymous", `{"closed":5}`, 1),
		mqmocks.NewMessage("exhausted", `{"roomId":"demo","roomSessionId":"s3"}`, 5),
		mqmocks.NewMessage("retried", `{"roomId":"demo","roomSessionId":"s4"}`, 4),
	)
	mockMQ.On("Delete", mock.Anything, mock.Anything).Return(nil)
	mockStore.On("PutRoomSession", mock.Anything, mock.Anything).Return(errors.New("throttled"))

	worker.NewMQConsumer(mockMQ, mockStore, zap.NewNop()).Run(context.Background())

	// Four receives short of the limit still get another try.
	assert.Equal(t, []string{"garbage", "anonymous", "exhausted"}, mockMQ.DeletedIds())
	mockStore.AssertNumberOfCalls(t, "PutRoomSession", 2)
}
