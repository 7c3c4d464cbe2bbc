package service

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/sketchroom/models"
)

var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
}

// Room owns one drawing log and the users currently connected to it.
// Membership fields are guarded by the owning RoomManager.
type Room struct {
	Id           string
	SessionId    string
	Created      time.Time
	DrawingState *DrawingState

	users       map[string]*models.User
	order       []string
	peakMembers int
	journalSeq  atomic.Int64
}

// NextJournalSeq returns the next archive sequence number for this room session.
func (r *Room) NextJournalSeq() int64 {
	return r.journalSeq.Add(1)
}

// RoomSnapshot is a point-in-time copy of a room, safe to hand to other goroutines.
type RoomSnapshot struct {
	Id            string        `json:"roomId"`
	SessionId     string        `json:"roomSessionId"`
	Created       int64         `json:"created"`
	Users         []models.User `json:"users"`
	PeakMembers   int           `json:"peakMembers"`
	ActiveStrokes int           `json:"activeStrokes"`
	Operations    int           `json:"operations"`
	JournalSeq    int64         `json:"journalSeq"`
}

// RoomManager maps room ids to rooms. A room exists from its first reference
// until its last member leaves.
type RoomManager struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	colorIndex int
	now        func() time.Time
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

func (m *RoomManager) GetOrCreateRoom(roomId string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(roomId)
}

func (m *RoomManager) getOrCreateLocked(roomId string) *Room {
	if room, ok := m.rooms[roomId]; ok {
		return room
	}
	room := &Room{
		Id:           roomId,
		SessionId:    uuid.Must(uuid.NewV7()).String(),
		Created:      m.now(),
		DrawingState: NewDrawingState(),
		users:        make(map[string]*models.User),
		order:        make([]string, 0),
	}
	m.rooms[roomId] = room
	return room
}

// AddUser registers sessionId in the room, creating the room if needed.
// Colors rotate through the palette on a counter shared by every room.
// Re-adding an existing session replaces its user in place.
func (m *RoomManager) AddUser(roomId string, sessionId string, username string) (*Room, models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.getOrCreateLocked(roomId)
	color := userColors[m.colorIndex%len(userColors)]
	m.colorIndex++

	if username == "" {
		username = fmt.Sprintf("User%d", len(room.users)+1)
	}

	user := &models.User{
		Id:       sessionId,
		Username: username,
		Color:    color,
		Cursor:   models.Point{X: 0, Y: 0},
	}

	if _, exists := room.users[sessionId]; !exists {
		room.order = append(room.order, sessionId)
	}
	room.users[sessionId] = user
	if len(room.users) > room.peakMembers {
		room.peakMembers = len(room.users)
	}

	return room, *user
}

// RemoveUser removes sessionId from the room. When the room becomes empty it
// is discarded and a final snapshot of it is returned.
func (m *RoomManager) RemoveUser(roomId string, sessionId string) (bool, *RoomSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return false, nil
	}
	if _, ok := room.users[sessionId]; !ok {
		return false, nil
	}

	delete(room.users, sessionId)
	for i, id := range room.order {
		if id == sessionId {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}

	if len(room.users) == 0 {
		snapshot := snapshotLocked(room)
		delete(m.rooms, roomId)
		return true, &snapshot
	}
	return true, nil
}

func (m *RoomManager) UpdateCursor(roomId string, sessionId string, cursor models.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return
	}
	if user, ok := room.users[sessionId]; ok {
		user.Cursor = cursor
	}
}

// ListUsers returns the room's users in join order, or an empty slice.
func (m *RoomManager) ListUsers(roomId string) []models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return []models.User{}
	}
	return usersLocked(room)
}

func (m *RoomManager) DrawingStateOf(roomId string) *DrawingState {
	return m.GetOrCreateRoom(roomId).DrawingState
}

// Room returns the room without creating it.
func (m *RoomManager) Room(roomId string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomId]
	return room, ok
}

func (m *RoomManager) HasUser(roomId string, sessionId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return false
	}
	_, ok = room.users[sessionId]
	return ok
}

func (m *RoomManager) MemberCount(roomId string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if room, ok := m.rooms[roomId]; ok {
		return len(room.users)
	}
	return 0
}

// RoomIds returns the ids of every room hosted by this process, sorted.
func (m *RoomManager) RoomIds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Snapshot copies a room without creating it.
func (m *RoomManager) Snapshot(roomId string) (RoomSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return RoomSnapshot{}, false
	}
	return snapshotLocked(room), true
}

func usersLocked(room *Room) []models.User {
	users := make([]models.User, 0, len(room.order))
	for _, id := range room.order {
		users = append(users, *room.users[id])
	}
	return users
}

func snapshotLocked(room *Room) RoomSnapshot {
	return RoomSnapshot{
		Id:            room.Id,
		SessionId:     room.SessionId,
		Created:       room.Created.UnixMilli(),
		Users:         usersLocked(room),
		PeakMembers:   room.peakMembers,
		ActiveStrokes: len(room.DrawingState.ActiveStrokes()),
		Operations:    room.DrawingState.Len(),
		JournalSeq:    room.journalSeq.Load(),
	}
}
