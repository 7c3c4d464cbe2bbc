package worker

import (
	"context"
	"time"

	"github.com/zlnvch/sketchroom/store"
	"go.uber.org/zap"
)

type CounterUpdate struct {
	RoomId        string
	RoomSessionId string
	Delta         int
}

// CounterBatcher aggregates per room session stroke counts and flushes
// them to the archive on a ticker.
type CounterBatcher struct {
	UpdateCh           chan CounterUpdate
	archiveStore       store.ArchiveStore
	tickerMilliseconds int
	logger             *zap.Logger
}

func NewCounterBatcher(archiveStore store.ArchiveStore, tickerMilliseconds int, logger *zap.Logger) *CounterBatcher {
	return &CounterBatcher{
		UpdateCh:           make(chan CounterUpdate, 1024),
		archiveStore:       archiveStore,
		tickerMilliseconds: tickerMilliseconds,
		logger:             logger.Named("counter-batcher"),
	}
}

func (b *CounterBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// Key: "roomId#roomSessionId" -> count
	counts := make(map[string]int)
	type sessionKeys struct {
		roomId    string
		sessionId string
	}
	keys := make(map[string]sessionKeys)

	flush := func() {
		for key, count := range counts {
			if count == 0 {
				continue
			}
			sk := keys[key]
			go func(roomId string, sessionId string, c int) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.archiveStore.IncrementRoomSessionStrokeCount(ctx, roomId, sessionId, c); err != nil {
					b.logger.Warn("failed to update stroke count",
						zap.String("roomId", roomId),
						zap.String("roomSessionId", sessionId),
						zap.Error(err),
					)
				}
			}(sk.roomId, sk.sessionId, count)
		}
		counts = make(map[string]int)
		keys = make(map[string]sessionKeys)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.RoomId != "" && update.RoomSessionId != "" {
				key := update.RoomId + "#" + update.RoomSessionId
				counts[key] += update.Delta
				keys[key] = sessionKeys{roomId: update.RoomId, sessionId: update.RoomSessionId}
			}

			if len(counts) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
