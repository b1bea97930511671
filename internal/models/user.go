package models

import (
	"time"
)

// User is a profile in the user directory. ClerkID is the identity
// provider's id for the user and is what every other table refers to.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	ClerkID   string    `gorm:"size:128;uniqueIndex;not null" json:"clerkId"`
	FullName  string    `json:"fullName"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllModels lists every model the service migrates on startup
func AllModels() []any {
	return []any{&User{}, &Message{}}
}
