package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/mq"
	"github.com/zlnvch/sketchroom/store"
	"go.uber.org/zap"
)

// MQConsumer archives room session summaries queued when rooms close.
type MQConsumer struct {
	roomClosedQueue mq.MessageQueue
	archiveStore    store.ArchiveStore
	logger          *zap.Logger
}

func NewMQConsumer(roomClosedQueue mq.MessageQueue, archiveStore store.ArchiveStore, logger *zap.Logger) *MQConsumer {
	return &MQConsumer{
		roomClosedQueue: roomClosedQueue,
		archiveStore:    archiveStore,
		logger:          logger.Named("mq-consumer"),
	}
}

const (
	visibilityTimeout = 30
	// A summary that failed to archive this many times is dropped.
	maxReceives = 5

	receiveRetryDelay = time.Second
)

var errMalformedMessage = errors.New("malformed room closed message")

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.roomClosedQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			mqConsumer.logger.Warn("receive failed", zap.Error(err))
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		if msg == nil {
			if shutdownCtx.Err() != nil {
				return
			}
			continue
		}

		if err := mqConsumer.handle(msg); err != nil {
			if !errors.Is(err, errMalformedMessage) && msg.ReceiveCount < maxReceives {
				mqConsumer.logger.Warn("failed to archive room session, will retry",
					zap.String("messageId", msg.Id),
					zap.Int("receiveCount", msg.ReceiveCount),
					zap.Error(err),
				)
				continue
			}
			mqConsumer.logger.Error("dropping room closed message",
				zap.String("messageId", msg.Id),
				zap.Int("receiveCount", msg.ReceiveCount),
				zap.Error(err),
			)
		}

		if err := mqConsumer.roomClosedQueue.Delete(context.Background(), msg); err != nil {
			mqConsumer.logger.Warn("delete failed", zap.String("messageId", msg.Id), zap.Error(err))
		}
	}
}

func (mqConsumer *MQConsumer) handle(msg *mq.Message) error {
	var closed mq.RoomClosedMessage
	if err := json.Unmarshal([]byte(msg.Body), &closed); err != nil {
		return fmt.Errorf("%w: %v", errMalformedMessage, err)
	}
	if closed.RoomId == "" || closed.RoomSessionId == "" {
		return fmt.Errorf("%w: missing room or session id", errMalformedMessage)
	}

	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)
	defer cancel()

	return mqConsumer.archiveStore.PutRoomSession(ctx, models.RoomSession{
		RoomId:          closed.RoomId,
		RoomSessionId:   closed.RoomSessionId,
		Created:         closed.Created,
		Closed:          closed.Closed,
		PeakMembers:     closed.PeakMembers,
		ActiveStrokes:   closed.ActiveStrokes,
		TotalOperations: closed.TotalOperations,
	})
}
