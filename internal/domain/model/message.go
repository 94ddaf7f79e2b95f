package model

import "time"

// Message is a queue-transport envelope. ID is unique per in-flight message; AckToken is
// single-use per receive and is required to delete the message.
type Message struct {
	ID         string    `json:"id"`
	AckToken   string    `json:"ack_token"`
	Body       string    `json:"body"`
	GroupID    string    `json:"group_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Image is a loaded chart image reference handed to the reasoning backend. Either Data
// (inline bytes) or URI is set.
type Image struct {
	Ref      string
	URI      string
	MIMEType string
	Data     []byte
}
