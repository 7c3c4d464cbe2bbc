package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/sketchroom/models"
	storemocks "github.com/zlnvch/sketchroom/store/mocks"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

func journalEntries(n int, event models.JournalEvent) []models.JournalEntry {
	entries := make([]models.JournalEntry, n)
	for i := range entries {
		entries[i] = models.JournalEntry{
			RoomId:        "demo",
			RoomSessionId: "session-1",
			Seq:           int64(i + 1),
			Event:         event,
		}
	}
	return entries
}

func TestJournalBatcher_FlushesFullBatch(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, 60000, zap.NewNop())
	batcher := worker.NewJournalBatcher(mockStore, 60000, counterBatcher, zap.NewNop())

	entries := journalEntries(25, models.JournalAppend)
	for i := 20; i < 25; i++ {
		entries[i].Event = models.JournalUndo
	}

	written := make(chan int, 1)
	mockStore.On("WriteJournalBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written <- len(args.Get(1).([]models.JournalEntry))
		}).
		Return([]models.JournalEntry{entries[0]}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	for _, e := range entries {
		batcher.WriteCh <- e
	}

	select {
	case n := <-written:
		assert.Equal(t, 25, n)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for WriteJournalBatch")
	}

	// 20 appends, one of which was not processed.
	for i := 0; i < 19; i++ {
		select {
		case u := <-counterBatcher.UpdateCh:
			assert.Equal(t, worker.CounterUpdate{RoomId: "demo", RoomSessionId: "session-1", Delta: 1}, u)
		case <-time.After(time.Second):
			require.Fail(t, fmt.Sprintf("timed out waiting for counter update %d", i))
		}
	}
	select {
	case u := <-counterBatcher.UpdateCh:
		assert.Fail(t, "unexpected counter update", "%+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJournalBatcher_FlushesOnTicker(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, 60000, zap.NewNop())
	batcher := worker.NewJournalBatcher(mockStore, 20, counterBatcher, zap.NewNop())

	written := make(chan int, 1)
	mockStore.On("WriteJournalBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written <- len(args.Get(1).([]models.JournalEntry))
		}).
		Return(nil, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go batcher.Run(ctx)

	for _, e := range journalEntries(3, models.JournalClear) {
		batcher.WriteCh <- e
	}

	select {
	case n := <-written:
		assert.Equal(t, 3, n)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for WriteJournalBatch")
	}
	assert.Len(t, counterBatcher.UpdateCh, 0, "clears do not count as strokes")
}

func TestJournalBatcher_DrainsOnShutdown(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	counterBatcher := worker.NewCounterBatcher(mockStore, 60000, zap.NewNop())
	batcher := worker.NewJournalBatcher(mockStore, 60000, counterBatcher, zap.NewNop())

	var total int
	mockStore.On("WriteJournalBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			total += len(args.Get(1).([]models.JournalEntry))
		}).
		Return(nil, nil)

	for _, e := range journalEntries(30, models.JournalAppend) {
		batcher.WriteCh <- e
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batcher.Run(ctx)

	assert.Equal(t, 30, total)
	assert.Len(t, counterBatcher.UpdateCh, 30)
}
