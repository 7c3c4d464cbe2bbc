package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/zlnvch/sketchroom/models"
	"github.com/zlnvch/sketchroom/store"
)

const maxRoomSessions = 100

type DynamoArchiveStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoArchiveStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoArchiveStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	if err := checkTable(ctx, client, tableName); err != nil {
		return nil, err
	}

	return &DynamoArchiveStore{client: client, tableName: tableName}, nil
}

// WriteJournalBatch returns the entries that could not be written.
func (dynamoStore *DynamoArchiveStore) WriteJournalBatch(ctx context.Context, entries []models.JournalEntry) ([]models.JournalEntry, error) {
	items := make([]dynamoJournalEntry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, journalEntryToDynamo(entry))
	}

	unprocessed, err := putBatch(dynamoStore, ctx, items)

	failed := make([]models.JournalEntry, 0, len(unprocessed))
	for _, u := range unprocessed {
		failed = append(failed, journalEntryFromDynamo(u))
	}
	return failed, err
}

// GetJournal returns every archived entry of a room session in sequence order,
// or store.ErrItemNotFound if nothing was archived for it.
func (dynamoStore *DynamoArchiveStore) GetJournal(ctx context.Context, roomSessionId string) ([]models.JournalEntry, error) {
	items, err := queryByPK[dynamoJournalEntry](dynamoStore, ctx, journalPK(roomSessionId), true, 0)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, store.ErrItemNotFound
	}

	entries := make([]models.JournalEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, journalEntryFromDynamo(item))
	}
	return entries, nil
}

// PutRoomSession writes the closing summary of a room session. StrokeCount is
// owned by the counter batcher and is left untouched.
func (dynamoStore *DynamoArchiveStore) PutRoomSession(ctx context.Context, session models.RoomSession) error {
	return upsertItem(dynamoStore, ctx, roomSessionToDynamo(session),
		[]string{"RoomId", "RoomSessionId", "Created", "Closed", "PeakMembers", "ActiveStrokes", "TotalOperations"})
}

// GetRoomSessions returns the newest archived sessions of a room first.
func (dynamoStore *DynamoArchiveStore) GetRoomSessions(ctx context.Context, roomId string) ([]models.RoomSession, error) {
	items, err := queryByPK[dynamoRoomSession](dynamoStore, ctx, roomPK(roomId), false, maxRoomSessions)
	if err != nil {
		return nil, err
	}

	sessions := make([]models.RoomSession, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, roomSessionFromDynamo(item))
	}
	return sessions, nil
}

func (dynamoStore *DynamoArchiveStore) IncrementRoomSessionStrokeCount(ctx context.Context, roomId string, roomSessionId string, count int) error {
	// The summary row may not exist until the room closes.
	return incrementCounter(dynamoStore, ctx, roomPK(roomId), roomSessionSK(roomSessionId), "StrokeCount", count)
}
