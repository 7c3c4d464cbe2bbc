package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/sketchroom/mq"
)

// MockMQ is a testify mock of mq.MessageQueue. Besides plain On/Return setups
// it can play back a fixed list of deliveries, see DeliverThenStop.
type MockMQ struct {
	mock.Mock
}

// NewMessage builds a delivery the way the queue hands it out.
func NewMessage(id string, body string, receiveCount int) *mq.Message {
	return &mq.Message{
		Id:            id,
		ReceiptHandle: "receipt-" + id,
		Body:          body,
		ReceiveCount:  receiveCount,
	}
}

// DeliverThenStop makes Receive return msgs in order, a nil entry standing for
// an empty poll, and context.Canceled afterwards so a consumer loop ends.
func (m *MockMQ) DeliverThenStop(msgs ...*mq.Message) {
	for _, msg := range msgs {
		if msg == nil {
			m.On("Receive", mock.Anything, mock.Anything).Return(nil, nil).Once()
			continue
		}
		m.On("Receive", mock.Anything, mock.Anything).Return(msg, nil).Once()
	}
	m.On("Receive", mock.Anything, mock.Anything).Return(nil, context.Canceled)
}

// DeletedIds lists the ids of the messages passed to Delete.
func (m *MockMQ) DeletedIds() []string {
	var ids []string
	for _, call := range m.Calls {
		if call.Method == "Delete" {
			ids = append(ids, call.Arguments.Get(1).(*mq.Message).Id)
		}
	}
	return ids
}

// SentRoomClosed decodes the bodies passed to Send. Bodies that are not room
// closed messages are skipped.
func (m *MockMQ) SentRoomClosed() []mq.RoomClosedMessage {
	var sent []mq.RoomClosedMessage
	for _, call := range m.Calls {
		if call.Method != "Send" {
			continue
		}
		var msg mq.RoomClosedMessage
		if err := json.Unmarshal([]byte(call.Arguments.String(1)), &msg); err == nil {
			sent = append(sent, msg)
		}
	}
	return sent
}

func (m *MockMQ) Send(ctx context.Context, body string) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

func (m *MockMQ) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	args := m.Called(ctx, visibilityTimeout)
	msg, _ := args.Get(0).(*mq.Message)
	return msg, args.Error(1)
}

func (m *MockMQ) Delete(ctx context.Context, msg *mq.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
