package mq

import "context"

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id            string
	ReceiptHandle string
	Body          string
	// ReceiveCount is how many times the queue has handed out this message,
	// this delivery included. Zero when the queue does not track it.
	ReceiveCount int
}

// RoomClosedMessage is queued when the last member leaves a room.
type RoomClosedMessage struct {
	RoomId          string `json:"roomId"`
	RoomSessionId   string `json:"roomSessionId"`
	Created         int64  `json:"created"`
	Closed          int64  `json:"closed"`
	PeakMembers     int    `json:"peakMembers"`
	ActiveStrokes   int    `json:"activeStrokes"`
	TotalOperations int    `json:"totalOperations"`
}
