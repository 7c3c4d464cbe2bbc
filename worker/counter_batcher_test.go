package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	storemocks "github.com/zlnvch/sketchroom/store/mocks"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

func signalOnCall(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func TestCounterBatcher_AggregatesPerSession(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	batcher := worker.NewCounterBatcher(mockStore, 60000, zap.NewNop())

	first := signalOnCall(mockStore.On("IncrementRoomSessionStrokeCount", mock.Anything, "r1", "s1", 3).Return(nil).Once())
	second := signalOnCall(mockStore.On("IncrementRoomSessionStrokeCount", mock.Anything, "r2", "s2", 2).Return(nil).Once())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		batcher.Run(ctx)
		close(stopped)
	}()

	updates := []worker.CounterUpdate{
		{RoomId: "r1", RoomSessionId: "s1", Delta: 1},
		{RoomId: "r2", RoomSessionId: "s2", Delta: 1},
		{RoomId: "r1", RoomSessionId: "s1", Delta: 1},
		{RoomId: "", RoomSessionId: "s3", Delta: 1},
		{RoomId: "r1", RoomSessionId: "s1", Delta: 1},
		{RoomId: "r2", RoomSessionId: "s2", Delta: 1},
	}
	for _, u := range updates {
		batcher.UpdateCh <- u
	}
	assert.Eventually(t, func() bool { return len(batcher.UpdateCh) == 0 }, time.Second, 5*time.Millisecond)

	// Shutdown flushes what was aggregated.
	cancel()
	<-stopped

	for _, done := range []chan struct{}{first, second} {
		select {
		case <-done:
		case <-time.After(time.Second):
			assert.Fail(t, "timed out waiting for IncrementRoomSessionStrokeCount")
		}
	}
	mockStore.AssertNumberOfCalls(t, "IncrementRoomSessionStrokeCount", 2)
}
