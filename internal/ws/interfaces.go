package ws

//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../mocks/mock_interfaces.go -package=mocks

import (
	"context"

	pkgws "music-stream/backend/pkg/ws"
)

// MessageStore persists direct messages sent over the socket
type MessageStore interface {
	Append(ctx context.Context, senderID, receiverID, content string) (*pkgws.ChatMessage, error)
}

// IdentityProvider verifies the bearer token presented when a socket opens
type IdentityProvider interface {
	Verify(token string) (string, error)
}
