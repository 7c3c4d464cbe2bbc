package worker

import (
	"context"
	"time"

	"github.com/zlnvch/sketchroom/cache"
	"go.uber.org/zap"
)

// RoomLister reports the rooms hosted by this instance.
type RoomLister interface {
	RoomIds() []string
}

// ClaimKeeper extends the ownership leases of every locally hosted room so
// they outlive the lease TTL for as long as the room has members.
type ClaimKeeper struct {
	roomCache  cache.RoomCache
	rooms      RoomLister
	instanceId string
	interval   time.Duration
	logger     *zap.Logger
}

func NewClaimKeeper(roomCache cache.RoomCache, rooms RoomLister, instanceId string, claimTTL time.Duration, logger *zap.Logger) *ClaimKeeper {
	interval := claimTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	return &ClaimKeeper{
		roomCache:  roomCache,
		rooms:      rooms,
		instanceId: instanceId,
		interval:   interval,
		logger:     logger.Named("claim-keeper"),
	}
}

func (k *ClaimKeeper) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.refresh(shutdownCtx)

		case <-shutdownCtx.Done():
			return
		}
	}
}

func (k *ClaimKeeper) refresh(ctx context.Context) {
	roomIds := k.rooms.RoomIds()
	if len(roomIds) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, k.interval)
	defer cancel()
	if err := k.roomCache.RefreshRoomClaims(ctx, roomIds, k.instanceId); err != nil {
		k.logger.Warn("failed to refresh room claims", zap.Int("rooms", len(roomIds)), zap.Error(err))
	}
}
