package service

import (
	"context"
	"errors"

	"music-stream/backend/internal/models"
	"music-stream/backend/pkg/resilience"
	pkgws "music-stream/backend/pkg/ws"
)

// MessageStoreAdapter adapts MessageService to the realtime gateway. Writes
// go through a circuit breaker so a failing database is not hammered by
// every send_message.
type MessageStoreAdapter struct {
	messages *MessageService
	breaker  *resilience.CircuitBreaker
}

// NewMessageStoreAdapter creates a new message store adapter
func NewMessageStoreAdapter(messages *MessageService, breaker *resilience.CircuitBreaker) *MessageStoreAdapter {
	return &MessageStoreAdapter{
		messages: messages,
		breaker:  breaker,
	}
}

// Append persists a message and returns its wire form
func (a *MessageStoreAdapter) Append(ctx context.Context, senderID, receiverID, content string) (*pkgws.ChatMessage, error) {
	var stored *models.Message
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		stored, err = a.messages.Append(ctx, senderID, receiverID, content)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &PersistenceError{Op: "append", Err: err}
		}
		return nil, err
	}

	return ToChatMessage(stored), nil
}

// Breaker exposes the breaker guarding the store for health reporting
func (a *MessageStoreAdapter) Breaker() *resilience.CircuitBreaker {
	return a.breaker
}

// ToChatMessage converts a stored message to its wire form
func ToChatMessage(m *models.Message) *pkgws.ChatMessage {
	return &pkgws.ChatMessage{
		ID:         m.ExternalID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
