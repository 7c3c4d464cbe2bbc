package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/store"
	"go.uber.org/zap"
)

const journalBatchSize = 25

// JournalBatcher writes room history entries to the archive in batches of
// journalBatchSize, or whatever is pending when the ticker fires.
type JournalBatcher struct {
	WriteCh            chan models.JournalEntry
	archiveStore       store.ArchiveStore
	counterBatcher     *CounterBatcher
	tickerMilliseconds int
	logger             *zap.Logger
}

func NewJournalBatcher(archiveStore store.ArchiveStore, tickerMilliseconds int, counterBatcher *CounterBatcher, logger *zap.Logger) *JournalBatcher {
	return &JournalBatcher{
		WriteCh:            make(chan models.JournalEntry, 1024), // buffer to absorb bursts
		archiveStore:       archiveStore,
		counterBatcher:     counterBatcher,
		tickerMilliseconds: tickerMilliseconds,
		logger:             logger.Named("journal-batcher"),
	}
}

func journalKey(e models.JournalEntry) string {
	return e.RoomSessionId + "#" + strconv.FormatInt(e.Seq, 10)
}

func (b *JournalBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.JournalEntry, 0, journalBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx: the final flush must still complete.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.archiveStore.WriteJournalBatch(ctx, batch)
		if err != nil {
			b.logger.Error("failed to write journal batch", zap.Int("size", len(batch)), zap.Error(err))
		}

		failed := make(map[string]bool, len(unprocessed))
		for _, u := range unprocessed {
			failed[journalKey(u)] = true
		}

		for _, e := range batch {
			if failed[journalKey(e)] || e.Event != models.JournalAppend {
				continue
			}
			b.counterBatcher.UpdateCh <- CounterUpdate{
				RoomId:        e.RoomId,
				RoomSessionId: e.RoomSessionId,
				Delta:         1,
			}
		}

		batch = batch[:0]
	}

	for {
		select {
		case entry := <-b.WriteCh:
			batch = append(batch, entry)
			if len(batch) == journalBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			// Drain whatever was queued before shutdown.
			for {
				select {
				case entry := <-b.WriteCh:
					batch = append(batch, entry)
					if len(batch) == journalBatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}
