package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cachemocks "github.com/zlnvch/sketchroom/cache/mocks"
	"github.com/zlnvch/sketchroom/models"
	mqmocks "github.com/zlnvch/sketchroom/mq/mocks"
	"github.com/zlnvch/sketchroom/service"
	storemocks "github.com/zlnvch/sketchroom/store/mocks"
	"github.com/zlnvch/sketchroom/worker"
	"go.uber.org/zap"
)

const instanceId = "instance-1"

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.JournalBatcher) {
	t.Helper()
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// The batchers are never started; tests read their channels directly.
	counterBatcher := worker.NewCounterBatcher(mockStore, 1000, zap.NewNop())
	journalBatcher := worker.NewJournalBatcher(mockStore, 1000, counterBatcher, zap.NewNop())

	cacheSync := worker.NewCacheSync(mockCache, instanceId, time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		cacheSync.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	svc := service.NewService(
		service.NewRoomManager(),
		mockCache,
		cacheSync,
		mockMQ,
		journalBatcher,
		service.Limits{MaxStrokePoints: 100, MaxWidth: 50},
		instanceId,
		zap.NewNop(),
	)
	return svc, mockCache, mockMQ, journalBatcher
}

// setupLocalService has no cluster cache and no archive.
func setupLocalService() *service.Service {
	return service.NewService(
		service.NewRoomManager(),
		nil,
		nil,
		nil,
		nil,
		service.Limits{MaxStrokePoints: 100, MaxWidth: 50},
		instanceId,
		zap.NewNop(),
	)
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func waitFor(t *testing.T, done chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for "+what)
	}
}

func nextJournalEntry(t *testing.T, b *worker.JournalBatcher) models.JournalEntry {
	t.Helper()
	select {
	case e := <-b.WriteCh:
		return e
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timed out waiting for journal batcher")
	}
	return models.JournalEntry{}
}

func assertNoJournalEntry(t *testing.T, b *worker.JournalBatcher) {
	t.Helper()
	select {
	case e := <-b.WriteCh:
		assert.Fail(t, "unexpected journal entry", "%+v", e)
	default:
	}
}

func redStroke() service.StrokeParams {
	return service.StrokeParams{
		ConnId: "a",
		RoomId: "demo",
		Points: []models.Point{{X: 0.1, Y: 0.1}, {X: 0.2, Y: 0.2}},
		Color:  "#ff0000",
		Width:  4,
		Tool:   models.ToolDraw,
	}
}

func TestJoin_AnnouncesAndPublishesCount(t *testing.T) {
	svc, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	countDone := wrapMockWithSignal(mockCache.On("SetRoomMemberCount", mock.Anything, "demo", 1).Return(nil))

	deliveries := svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo", Username: "  Alice  "})
	require.Len(t, deliveries, 2)

	joined := deliveries[0]
	assert.Equal(t, service.AudienceSender, joined.Audience)
	assert.Equal(t, "a", joined.SenderId)
	assert.Equal(t, service.EventJoined, joined.Event.Type)
	data := joined.Event.Data.(service.JoinedData)
	assert.Equal(t, "a", data.UserId)
	assert.Equal(t, "Alice", data.User.Username)
	assert.Equal(t, []models.User{data.User}, data.Users)
	assert.Empty(t, data.Strokes)

	announced := deliveries[1]
	assert.Equal(t, service.AudienceOthers, announced.Audience)
	assert.Equal(t, service.EventMemberJoined, announced.Event.Type)
	assert.Equal(t, data.User, announced.Event.Data)

	waitFor(t, countDone, "SetRoomMemberCount")
	mockCache.AssertNotCalled(t, "ClaimRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestNeedsClaim(t *testing.T) {
	svc, mockCache, _, _ := setupService(t)
	mockCache.On("SetRoomMemberCount", mock.Anything, "demo", mock.Anything).Return(nil).Maybe()

	assert.True(t, svc.NeedsClaim("demo"))
	svc.Join(context.Background(), service.JoinParams{ConnId: "a", RoomId: "demo"})
	assert.False(t, svc.NeedsClaim("demo"), "hosted rooms are not claimed again")
	assert.True(t, svc.NeedsClaim("other"))

	assert.False(t, setupLocalService().NeedsClaim("demo"), "single instance never claims")
}

func TestClaimRoom_ReportsOwner(t *testing.T) {
	svc, mockCache, _, _ := setupService(t)
	mockCache.On("ClaimRoom", mock.Anything, "default", instanceId).Return("instance-2", nil).Once()

	results := make(chan worker.ClaimResult, 1)
	svc.ClaimRoom("", func(r worker.ClaimResult) { results <- r })

	select {
	case result := <-results:
		assert.Equal(t, worker.ClaimResult{RoomId: "default", Owner: "instance-2", Owned: false}, result)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for claim")
	}
}

func TestRejectJoin_RoomOwnedElsewhere(t *testing.T) {
	svc, mockCache, _, _ := setupService(t)

	deliveries := svc.RejectJoin(service.JoinParams{ConnId: "a", RoomId: "demo"}, "instance-2")
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceSender, deliveries[0].Audience)
	assert.Equal(t, "a", deliveries[0].SenderId)
	assert.Equal(t, service.EventError, deliveries[0].Event.Type)
	assert.Equal(t, service.ErrorData{
		Code:   service.ErrCodeRoomOwnedElsewhere,
		RoomId: "demo",
		Owner:  "instance-2",
	}, deliveries[0].Event.Data)

	_, hosted := svc.Rooms.Room("demo")
	assert.False(t, hosted)
	mockCache.AssertNotCalled(t, "SetRoomMemberCount", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoin_EmptyRoomIdUsesDefault(t *testing.T) {
	svc := setupLocalService()

	deliveries := svc.Join(context.Background(), service.JoinParams{ConnId: "a"})
	assert.Equal(t, "default", deliveries[0].RoomId)
	assert.True(t, svc.Rooms.HasUser("default", "a"))
}

func TestJoin_SnapshotContainsActiveStrokes(t *testing.T) {
	svc := setupLocalService()
	ctx := context.Background()

	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	svc.SubmitStroke(ctx, redStroke())
	svc.SubmitStroke(ctx, redStroke())
	svc.Undo(ctx, "a", "demo")

	deliveries := svc.Join(ctx, service.JoinParams{ConnId: "b", RoomId: "demo"})
	data := deliveries[0].Event.Data.(service.JoinedData)
	require.Len(t, data.Strokes, 1)
	assert.Equal(t, "#ff0000", data.Strokes[0].Color)
	assert.Equal(t, 4.0, data.Strokes[0].Width)
	assert.Equal(t, "a", data.Strokes[0].UserId)
}

func TestSubmitStroke_AppendsAndJournals(t *testing.T) {
	svc, _, _, journal := setupService(t)
	ctx := context.Background()

	deliveries := svc.SubmitStroke(ctx, redStroke())
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceOthers, deliveries[0].Audience)
	assert.Equal(t, service.EventStrokeAdded, deliveries[0].Event.Type)

	data := deliveries[0].Event.Data.(service.StrokeAddedData)
	assert.Equal(t, 1, data.Operation.Id)
	assert.Equal(t, "a", data.Stroke.UserId)

	room, ok := svc.Rooms.Room("demo")
	require.True(t, ok)
	entry := nextJournalEntry(t, journal)
	assert.Equal(t, "demo", entry.RoomId)
	assert.Equal(t, room.SessionId, entry.RoomSessionId)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, models.JournalAppend, entry.Event)
	assert.Equal(t, 1, entry.OperationId)
	require.NotNil(t, entry.Stroke)
	assert.Equal(t, data.Stroke, *entry.Stroke)
}

func TestSubmitStroke_InvalidIsDropped(t *testing.T) {
	svc, _, _, journal := setupService(t)
	ctx := context.Background()

	cases := map[string]func(p *service.StrokeParams){
		"empty":     func(p *service.StrokeParams) { p.Points = nil },
		"tool":      func(p *service.StrokeParams) { p.Tool = "spray" },
		"width":     func(p *service.StrokeParams) { p.Width = 0 },
		"too wide":  func(p *service.StrokeParams) { p.Width = 51 },
		"too long":  func(p *service.StrokeParams) { p.Points = make([]models.Point, 101) },
		"color len": func(p *service.StrokeParams) { p.Color = string(make([]byte, 65)) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := redStroke()
			mutate(&p)
			assert.Nil(t, svc.SubmitStroke(ctx, p))
		})
	}

	assertNoJournalEntry(t, journal)
	assert.Equal(t, 0, svc.Rooms.DrawingStateOf("demo").Len())
}

func TestDrawPointAndMoveCursor_RelayToOthers(t *testing.T) {
	svc := setupLocalService()
	ctx := context.Background()
	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})

	deliveries := svc.DrawPoint(ctx, service.PointParams{
		ConnId: "a", RoomId: "demo", Point: models.Point{X: 0.5, Y: 0.5}, Color: "#000", Width: 2, Tool: models.ToolErase,
	})
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceOthers, deliveries[0].Audience)
	assert.Equal(t, service.PointDrawnData{
		UserId: "a", Point: models.Point{X: 0.5, Y: 0.5}, Color: "#000", Width: 2, Tool: models.ToolErase,
	}, deliveries[0].Event.Data)
	assert.Equal(t, 0, svc.Rooms.DrawingStateOf("demo").Len(), "points are not stored")

	assert.Nil(t, svc.DrawPoint(ctx, service.PointParams{ConnId: "a", RoomId: "demo", Width: 2, Tool: "laser"}))

	deliveries = svc.MoveCursor(ctx, "a", "demo", models.Point{X: 0.3, Y: 0.4})
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.EventCursorMoved, deliveries[0].Event.Type)
	assert.Equal(t, models.Point{X: 0.3, Y: 0.4}, svc.Rooms.ListUsers("demo")[0].Cursor)
}

func TestUndoRedo_BroadcastToWholeRoom(t *testing.T) {
	svc, _, _, journal := setupService(t)
	ctx := context.Background()

	assert.Nil(t, svc.Undo(ctx, "a", "demo"), "nothing to undo")
	assert.Nil(t, svc.Redo(ctx, "a", "demo"), "nothing to redo")

	svc.SubmitStroke(ctx, redStroke())
	nextJournalEntry(t, journal)

	// Undo is global: b undoes a's stroke.
	deliveries := svc.Undo(ctx, "b", "demo")
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceRoom, deliveries[0].Audience)
	assert.Equal(t, service.OperationUndoneData{OperationId: 1}, deliveries[0].Event.Data)
	entry := nextJournalEntry(t, journal)
	assert.Equal(t, models.JournalUndo, entry.Event)
	assert.Equal(t, int64(2), entry.Seq)
	assert.Nil(t, entry.Stroke)

	deliveries = svc.Redo(ctx, "b", "demo")
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceRoom, deliveries[0].Audience)
	redone := deliveries[0].Event.Data.(service.OperationRedoneData)
	assert.Equal(t, 1, redone.OperationId)
	assert.Equal(t, "#ff0000", redone.Stroke.Color)
	assert.Equal(t, models.JournalRedo, nextJournalEntry(t, journal).Event)

	assertNoJournalEntry(t, journal)
}

func TestClear_ResetsLogButNotJournalSeq(t *testing.T) {
	svc, _, _, journal := setupService(t)
	ctx := context.Background()

	svc.SubmitStroke(ctx, redStroke())
	nextJournalEntry(t, journal)

	deliveries := svc.Clear(ctx, "", "demo")
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceRoom, deliveries[0].Audience)
	assert.Equal(t, service.EventCanvasCleared, deliveries[0].Event.Type)
	assert.Equal(t, "", deliveries[0].SenderId)

	entry := nextJournalEntry(t, journal)
	assert.Equal(t, models.JournalClear, entry.Event)
	assert.Equal(t, int64(2), entry.Seq)

	deliveries = svc.SubmitStroke(ctx, redStroke())
	assert.Equal(t, 1, deliveries[0].Event.Data.(service.StrokeAddedData).Operation.Id)
	assert.Equal(t, int64(3), nextJournalEntry(t, journal).Seq)
}

func TestLeave_AnnouncesToRemainingMembers(t *testing.T) {
	svc := setupLocalService()
	ctx := context.Background()
	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	svc.Join(ctx, service.JoinParams{ConnId: "b", RoomId: "demo"})

	deliveries := svc.Leave(ctx, "a", "demo")
	require.Len(t, deliveries, 1)
	assert.Equal(t, service.AudienceOthers, deliveries[0].Audience)
	assert.Equal(t, service.EventMemberLeft, deliveries[0].Event.Type)
	assert.Equal(t, service.MemberLeftData{UserId: "a"}, deliveries[0].Event.Data)

	assert.Nil(t, svc.Leave(ctx, "a", "demo"), "second leave is a no-op")
	assert.Nil(t, svc.Leave(ctx, "ghost", "nowhere"))
}

func TestLeave_LastMemberClosesRoom(t *testing.T) {
	svc, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	mockCache.On("SetRoomMemberCount", mock.Anything, "demo", mock.Anything).Return(nil).Maybe()
	releaseDone := wrapMockWithSignal(mockCache.On("ReleaseRoom", mock.Anything, "demo", instanceId).Return(nil))
	mockMQ.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	svc.SubmitStroke(ctx, redStroke())
	room, _ := svc.Rooms.Room("demo")
	sessionId := room.SessionId

	assert.Nil(t, svc.Leave(ctx, "a", "demo"))
	svc.Wait()
	waitFor(t, releaseDone, "ReleaseRoom")

	sent := mockMQ.SentRoomClosed()
	require.Len(t, sent, 1)
	assert.Equal(t, "demo", sent[0].RoomId)
	assert.Equal(t, sessionId, sent[0].RoomSessionId)
	assert.Equal(t, 1, sent[0].PeakMembers)
	assert.Equal(t, 1, sent[0].ActiveStrokes)
	assert.Equal(t, 1, sent[0].TotalOperations)
	assert.GreaterOrEqual(t, sent[0].Closed, sent[0].Created)

	_, hosted := svc.Rooms.Room("demo")
	assert.False(t, hosted)
	assert.True(t, svc.NeedsClaim("demo"))
}

// Closing a room and joining it again straight away must not let the late
// release of the old lease drop the new one.
func TestLeave_RejoinClaimWaitsForRelease(t *testing.T) {
	svc, mockCache, mockMQ, _ := setupService(t)
	ctx := context.Background()

	releaseGate := make(chan struct{})
	var order []string
	mockCache.On("SetRoomMemberCount", mock.Anything, "demo", mock.Anything).Return(nil).Maybe()
	mockCache.On("ReleaseRoom", mock.Anything, "demo", instanceId).
		Run(func(mock.Arguments) {
			<-releaseGate
			order = append(order, "release")
		}).
		Return(nil).Once()
	mockCache.On("ClaimRoom", mock.Anything, "demo", instanceId).
		Run(func(mock.Arguments) { order = append(order, "claim") }).
		Return(instanceId, nil).Once()
	mockMQ.On("Send", mock.Anything, mock.Anything).Return(nil)

	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	svc.Leave(ctx, "a", "demo")

	require.True(t, svc.NeedsClaim("demo"))
	results := make(chan worker.ClaimResult, 1)
	svc.ClaimRoom("demo", func(r worker.ClaimResult) { results <- r })

	select {
	case <-results:
		require.Fail(t, "claim settled while the release was still pending")
	case <-time.After(50 * time.Millisecond):
	}
	close(releaseGate)

	select {
	case result := <-results:
		assert.True(t, result.Owned)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for claim")
	}
	// Both ran on the CacheSync goroutine, which has handed over the result.
	assert.Equal(t, []string{"release", "claim"}, order)
}

func TestLeave_RejoinAfterCloseStartsFresh(t *testing.T) {
	svc := setupLocalService()
	ctx := context.Background()

	svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	svc.SubmitStroke(ctx, redStroke())
	svc.Leave(ctx, "a", "demo")

	deliveries := svc.Join(ctx, service.JoinParams{ConnId: "a", RoomId: "demo"})
	assert.Empty(t, deliveries[0].Event.Data.(service.JoinedData).Strokes)
}
