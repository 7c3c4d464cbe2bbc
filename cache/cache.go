package cache

import "context"

// Pub/sub channels shared by every instance.
const (
	RoomControlChannel = "room-control"
)

// RoomCache is the cluster-wide coordination layer: room ownership leases,
// the room directory and pub/sub between instances.
type RoomCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// ClaimRoom takes the ownership lease of roomId for instanceId if it is free
	// and returns the current owner, which is instanceId on success.
	ClaimRoom(ctx context.Context, roomId string, instanceId string) (string, error)
	RefreshRoomClaims(ctx context.Context, roomIds []string, instanceId string) error
	ReleaseRoom(ctx context.Context, roomId string, instanceId string) error

	SetRoomMemberCount(ctx context.Context, roomId string, count int) error
	ListRooms(ctx context.Context) (map[string]int, error)
}
