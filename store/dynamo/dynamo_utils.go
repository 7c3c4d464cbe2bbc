package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchWriteItem accepts at most this many requests per call.
const maxBatchWrite = 25

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if !devMode {
		// Task role credentials and the regional endpoint.
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewFromConfig(cfg), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
		),
	)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(dynamodbEndpoint)
	}), nil
}

func checkTable(ctx context.Context, client *dynamodb.Client, tableName string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}
	if err != nil {
		return fmt.Errorf("describe table %s: %w", tableName, err)
	}
	return nil
}

// queryByPK returns the items of partition pk in SK order, ascending when
// forward is set. A positive limit caps the number of items returned.
func queryByPK[T any](dynamoStore *DynamoArchiveStore, ctx context.Context, pk string, forward bool, limit int) ([]T, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(forward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var results []T
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() && (limit <= 0 || len(results) < limit) {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", pk, err)
		}

		var items []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", pk, err)
		}
		results = append(results, items...)
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// putBatch writes items in chunks of maxBatchWrite, retrying throttled
// requests with backoff until ctx expires. The items that were never written
// are returned, together with the error that stopped the retries.
func putBatch[T any](dynamoStore *DynamoArchiveStore, ctx context.Context, items []T) ([]T, error) {
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		avMap, err := attributevalue.MarshalMap(item)
		if err != nil {
			return items, fmt.Errorf("marshal error: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: avMap}})
	}

	var unprocessed []types.WriteRequest
	var firstErr error
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))
		left, err := dynamoStore.writeChunk(ctx, requests[start:end])
		unprocessed = append(unprocessed, left...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return putRequestItems[T](unprocessed), firstErr
}

func (dynamoStore *DynamoArchiveStore) writeChunk(ctx context.Context, requests []types.WriteRequest) ([]types.WriteRequest, error) {
	backoff := 50 * time.Millisecond

	for {
		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return requests, fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		requests = resp.UnprocessedItems[dynamoStore.tableName]
		if len(requests) == 0 {
			return nil, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return requests, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, time.Second)
	}
}

func putRequestItems[T any](requests []types.WriteRequest) []T {
	items := make([]T, 0, len(requests))
	for _, request := range requests {
		if request.PutRequest == nil {
			continue
		}
		var item T
		if err := attributevalue.UnmarshalMap(request.PutRequest.Item, &item); err == nil {
			items = append(items, item)
		}
	}
	return items
}

// upsertItem sets only the listed attributes of item, creating the item if it
// does not exist. Attributes not listed keep their stored values.
func upsertItem[T any](dynamoStore *DynamoArchiveStore, ctx context.Context, item T, fields []string) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	key := make(map[string]types.AttributeValue, 2)
	for _, name := range []string{"PK", "SK"} {
		attr, ok := avMap[name]
		if !ok {
			return fmt.Errorf("item has no %s attribute", name)
		}
		key[name] = attr
	}

	sets := make([]string, 0, len(fields))
	names := make(map[string]string, len(fields))
	values := make(map[string]types.AttributeValue, len(fields))
	for _, field := range fields {
		val, ok := avMap[field]
		if !ok || field == "PK" || field == "SK" {
			continue
		}
		sets = append(sets, "#"+field+" = :"+field)
		names["#"+field] = field
		values[":"+field] = val
	}
	if len(sets) == 0 {
		return errors.New("nothing to update")
	}

	_, err = dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(dynamoStore.tableName),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

// incrementCounter atomically adds count to a numeric field, creating the item
// and the field when they do not exist yet.
func incrementCounter(
	dynamoStore *DynamoArchiveStore,
	ctx context.Context,
	pk string,
	sk string,
	counterField string,
	count int,
) error {
	_, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET #c = if_not_exists(#c, :zero) + :val"),
		ExpressionAttributeNames: map[string]string{
			"#c": counterField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":val":  &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("increment %s on PK=%s, SK=%s: %w", counterField, pk, sk, err)
	}
	return nil
}
