// Package ws holds the wire protocol spoken over the realtime socket.
// Every frame in either direction is an Envelope.
package ws

import (
	"encoding/json"
	"time"
)

// Inbound event types
const (
	EventUserConnected  = "user_connected"
	EventUpdateActivity = "update_activity"
	EventSendMessage    = "send_message"
)

// Outbound event types
const (
	EventUsersOnline      = "users_online"
	EventActivities       = "activities"
	EventActivityUpdated  = "activity_updated"
	EventReceiveMessage   = "receive_message"
	EventMessageSent      = "message_sent"
	EventMessageError     = "message_error"
	EventUserDisconnected = "user_disconnected"
	EventError            = "error"
)

// Envelope is the frame format: {"type": "<event>", "data": <payload>}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ActivityUpdate is the payload of update_activity and activity_updated
type ActivityUpdate struct {
	UserID   string `json:"userId" validate:"required,max=128"`
	Activity string `json:"activity" validate:"max=256"`
}

// SendMessageRequest is the payload of send_message
type SendMessageRequest struct {
	SenderID   string `json:"senderId" validate:"required,max=128"`
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Content    string `json:"content" validate:"required,max=4096"`
}

// ChatMessage is a persisted direct message as seen by clients
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ActivityPair is one [userId, activity] entry of the activities event
type ActivityPair [2]string

// ErrorPayload is the payload of the error event
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Event   string `json:"event,omitempty"`
}

// Encode builds a frame ready to be written to a socket
func Encode(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}
