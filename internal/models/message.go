package models

import (
	"time"
)

// Message is a direct message between two users
type Message struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	ExternalID string    `json:"id" gorm:"size:36;uniqueIndex"`
	SenderID   string    `json:"senderId" gorm:"size:128;not null;index:idx_messages_conversation,priority:1"`
	ReceiverID string    `json:"receiverId" gorm:"size:128;not null;index:idx_messages_conversation,priority:2"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;index:idx_messages_conversation,priority:3"`
}
