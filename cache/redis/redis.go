package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const roomDirectoryKey = "rooms:directory"

// Sets the lease when free, extends it when instanceId already holds it, and
// returns the holder either way.
var claimScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return ARGV[1]
end
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return owner
`)

// Extends the lease only while instanceId still holds it.
var refreshClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Deletes the lease only while instanceId still holds it.
var releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisRoomCache struct {
	client   redis.UniversalClient
	claimTTL time.Duration
	logger   *zap.Logger
}

func NewRedisRoomCache(ctx context.Context, devMode bool, redisEndpoint string, claimTTL time.Duration, logger *zap.Logger) (*RedisRoomCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, err
	}

	return newRedisRoomCache(client, claimTTL, logger), nil
}

func newRedisRoomCache(client redis.UniversalClient, claimTTL time.Duration, logger *zap.Logger) *RedisRoomCache {
	return &RedisRoomCache{client: client, claimTTL: claimTTL, logger: logger.Named("redis")}
}

func (redisCache *RedisRoomCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisRoomCache) Publish(ctx context.Context, channel string, message []byte) error {
	if err := redisCache.client.Publish(ctx, channel, message).Err(); err != nil {
		return err
	}
	return nil
}

func (redisCache *RedisRoomCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		redisCache.logger.Warn("pubsub channel closed", zap.String("channel", channel), zap.Error(err))
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Hash tag keeps every key of a room in one cluster slot.
func buildRoomOwnerKey(roomId string) string {
	return "room:{" + roomId + "}:owner"
}

// ClaimRoom takes the lease of roomId when it is free and returns the owner.
// A lease already held by instanceId is extended.
func (redisCache *RedisRoomCache) ClaimRoom(ctx context.Context, roomId string, instanceId string) (string, error) {
	ttl := strconv.FormatInt(redisCache.claimTTL.Milliseconds(), 10)
	owner, err := claimScript.Run(ctx, redisCache.client, []string{buildRoomOwnerKey(roomId)}, instanceId, ttl).Text()
	if err != nil {
		return "", err
	}
	return owner, nil
}

// RefreshRoomClaims extends every lease still held by instanceId. Keys live in
// different slots so each room is its own script call, sent in one pipeline.
// Queued commands cannot fall back from EVALSHA, so the pipeline uses EVAL.
func (redisCache *RedisRoomCache) RefreshRoomClaims(ctx context.Context, roomIds []string, instanceId string) error {
	if len(roomIds) == 0 {
		return nil
	}

	ttl := strconv.FormatInt(redisCache.claimTTL.Milliseconds(), 10)
	pipe := redisCache.client.Pipeline()
	for _, roomId := range roomIds {
		refreshClaimScript.Eval(ctx, pipe, []string{buildRoomOwnerKey(roomId)}, instanceId, ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("refresh room claims: %w", err)
	}
	return nil
}

func (redisCache *RedisRoomCache) ReleaseRoom(ctx context.Context, roomId string, instanceId string) error {
	err := releaseClaimScript.Run(ctx, redisCache.client, []string{buildRoomOwnerKey(roomId)}, instanceId).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return redisCache.client.HDel(ctx, roomDirectoryKey, roomId).Err()
}

// SetRoomMemberCount records the member count of a room in the cluster wide
// directory. A zero count removes the room.
func (redisCache *RedisRoomCache) SetRoomMemberCount(ctx context.Context, roomId string, count int) error {
	if count <= 0 {
		return redisCache.client.HDel(ctx, roomDirectoryKey, roomId).Err()
	}
	return redisCache.client.HSet(ctx, roomDirectoryKey, roomId, count).Err()
}

func (redisCache *RedisRoomCache) ListRooms(ctx context.Context) (map[string]int, error) {
	raw, err := redisCache.client.HGetAll(ctx, roomDirectoryKey).Result()
	if err != nil {
		return nil, err
	}

	rooms := make(map[string]int, len(raw))
	for roomId, value := range raw {
		count, err := strconv.Atoi(value)
		if err != nil {
			redisCache.logger.Warn("bad room directory entry", zap.String("roomId", roomId), zap.String("value", value))
			continue
		}
		rooms[roomId] = count
	}
	return rooms, nil
}
