package worker

import (
	"context"
	"time"

	"github.com/zlnvch/sketchroom/cache"
	"go.uber.org/zap"
)

const cacheOpTimeout = 5 * time.Second

// ClaimResult tells who holds the lease of a room after a claim.
type ClaimResult struct {
	RoomId string
	Owner  string
	Owned  bool
}

type cacheOpKind int

const (
	cacheOpClaim cacheOpKind = iota
	cacheOpRelease
	cacheOpMemberCount
)

type cacheOp struct {
	kind   cacheOpKind
	roomId string
	count  int
	done   func(ClaimResult)
}

// CacheSync applies the lease and directory writes of this instance to the
// cluster cache one at a time, in the order they were requested. A room
// released here is therefore released before any later claim of it is made,
// and directory entries never go back in time.
type CacheSync struct {
	roomCache    cache.RoomCache
	instanceId   string
	claimTimeout time.Duration
	opCh         chan cacheOp
	logger       *zap.Logger
}

func NewCacheSync(roomCache cache.RoomCache, instanceId string, claimTimeout time.Duration, logger *zap.Logger) *CacheSync {
	return &CacheSync{
		roomCache:    roomCache,
		instanceId:   instanceId,
		claimTimeout: claimTimeout,
		opCh:         make(chan cacheOp, 4096),
		logger:       logger.Named("cache-sync"),
	}
}

// Claim requests the lease of roomId. done runs on the CacheSync goroutine
// once the claim is settled.
func (s *CacheSync) Claim(roomId string, done func(ClaimResult)) {
	if !s.enqueue(cacheOp{kind: cacheOpClaim, roomId: roomId, done: done}) {
		// Same answer as an unreachable cache.
		go done(ClaimResult{RoomId: roomId, Owner: s.instanceId, Owned: true})
	}
}

// Release gives up the lease of roomId and drops it from the directory.
// A release that does not fit in the queue is left to the lease TTL.
func (s *CacheSync) Release(roomId string) {
	s.enqueue(cacheOp{kind: cacheOpRelease, roomId: roomId})
}

func (s *CacheSync) SetMemberCount(roomId string, count int) {
	s.enqueue(cacheOp{kind: cacheOpMemberCount, roomId: roomId, count: count})
}

func (s *CacheSync) enqueue(op cacheOp) bool {
	select {
	case s.opCh <- op:
		return true
	default:
		s.logger.Warn("cache queue full, dropping operation", zap.String("roomId", op.roomId), zap.Int("kind", int(op.kind)))
		return false
	}
}

// Run applies queued operations until shutdown, then applies whatever is
// still queued so the leases of rooms closed while stopping are released.
func (s *CacheSync) Run(shutdownCtx context.Context) {
	for {
		select {
		case op := <-s.opCh:
			s.apply(shutdownCtx, op)

		case <-shutdownCtx.Done():
			for {
				select {
				case op := <-s.opCh:
					s.apply(context.Background(), op)
				default:
					return
				}
			}
		}
	}
}

func (s *CacheSync) apply(ctx context.Context, op cacheOp) {
	switch op.kind {
	case cacheOpClaim:
		op.done(s.claim(ctx, op.roomId))

	case cacheOpRelease:
		ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		defer cancel()
		if err := s.roomCache.ReleaseRoom(ctx, op.roomId, s.instanceId); err != nil {
			s.logger.Warn("failed to release room", zap.String("roomId", op.roomId), zap.Error(err))
		}

	case cacheOpMemberCount:
		ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		defer cancel()
		if err := s.roomCache.SetRoomMemberCount(ctx, op.roomId, op.count); err != nil {
			s.logger.Warn("failed to update room directory", zap.String("roomId", op.roomId), zap.Error(err))
		}
	}
}

// A failing cache never blocks a join: the room is hosted locally.
func (s *CacheSync) claim(ctx context.Context, roomId string) ClaimResult {
	if s.claimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.claimTimeout)
		defer cancel()
	}

	owner, err := s.roomCache.ClaimRoom(ctx, roomId, s.instanceId)
	if err != nil {
		s.logger.Warn("room claim failed, hosting locally", zap.String("roomId", roomId), zap.Error(err))
		return ClaimResult{RoomId: roomId, Owner: s.instanceId, Owned: true}
	}
	if owner != s.instanceId {
		s.logger.Info("room owned by another instance", zap.String("roomId", roomId), zap.String("owner", owner))
		return ClaimResult{RoomId: roomId, Owner: owner, Owned: false}
	}
	return ClaimResult{RoomId: roomId, Owner: owner, Owned: true}
}
