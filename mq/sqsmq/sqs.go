package sqsmq

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/zlnvch/sketchroom/mq"
)

// Long polling wait per Receive call.
const waitTimeSeconds = 20

// SQSMessageQueue is a single SQS queue found by name at startup.
type SQSMessageQueue struct {
	client    *sqs.Client
	queueURL  string
	queueName string
}

func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, err
	}

	queueURL, err := findQueue(ctx, client, queueName)
	if err != nil {
		return nil, err
	}

	return &SQSMessageQueue{client: client, queueURL: queueURL, queueName: queueName}, nil
}

func newSQSClient(ctx context.Context, devMode bool, sqsEndpoint string) (*sqs.Client, error) {
	if !devMode {
		// Task role credentials and the regional endpoint.
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sqs.NewFromConfig(cfg), nil
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
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(sqsEndpoint)
	}), nil
}

func findQueue(ctx context.Context, client *sqs.Client, queueName string) (string, error) {
	paginator := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{
		QueueNamePrefix: aws.String(queueName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list queues: %w", err)
		}
		for _, url := range page.QueueUrls {
			if strings.HasSuffix(url, "/"+queueName) {
				return url, nil
			}
		}
	}
	return "", fmt.Errorf("given queue name '%s' not found in SQS", queueName)
}

func (sqsmq *SQSMessageQueue) Send(ctx context.Context, body string) error {
	_, err := sqsmq.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(sqsmq.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", sqsmq.queueName, err)
	}
	return nil
}

// Receive long polls for one message. It returns nil, nil when the poll
// ended without a message.
func (sqsmq *SQSMessageQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	resp, err := sqsmq.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(sqsmq.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitTimeSeconds,
		VisibilityTimeout:   visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", sqsmq.queueName, err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	msg := resp.Messages[0]
	receiveCount, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	return &mq.Message{
		Id:            aws.ToString(msg.MessageId),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		Body:          aws.ToString(msg.Body),
		ReceiveCount:  receiveCount,
	}, nil
}

func (sqsmq *SQSMessageQueue) Delete(ctx context.Context, msg *mq.Message) error {
	_, err := sqsmq.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(sqsmq.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", msg.Id, sqsmq.queueName, err)
	}
	return nil
}
