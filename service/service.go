package service

import (
	"sync"

	"github.com/zlnvch/sketchroom/cache"
	"github.com/zlnvch/sketchroom/mq"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

// Limits bounds what a stroke submitted by a client may look like.
type Limits struct {
	DefaultRoomId   string
	MaxStrokePoints int
	MaxWidth        float64
}

// Service binds client sessions to rooms. Cache and CacheSync are nil outside
// cluster mode; MQ and JournalBatcher are nil when the archive is disabled.
type Service struct {
	Rooms          *RoomManager
	Cache          cache.RoomCache
	CacheSync      *worker.CacheSync
	MQ             mq.MessageQueue
	JournalBatcher *worker.JournalBatcher
	Limits         Limits
	InstanceId     string
	logger         *zap.Logger
	pending        sync.WaitGroup
}

func NewService(
	rooms *RoomManager,
	roomCache cache.RoomCache,
	cacheSync *worker.CacheSync,
	roomClosedQueue mq.MessageQueue,
	journalBatcher *worker.JournalBatcher,
	limits Limits,
	instanceId string,
	logger *zap.Logger,
) *Service {
	if limits.DefaultRoomId == "" {
		limits.DefaultRoomId = "default"
	}
	return &Service{
		Rooms:          rooms,
		Cache:          roomCache,
		CacheSync:      cacheSync,
		MQ:             roomClosedQueue,
		JournalBatcher: journalBatcher,
		Limits:         limits,
		InstanceId:     instanceId,
		logger:         logger.Named("service"),
	}
}

// Wait blocks until the room closed messages already handed to the queue have
// been sent.
func (s *Service) Wait() {
	s.pending.Wait()
}
