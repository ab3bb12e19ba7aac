package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name,omitempty"`
	PicturePath  string    `json:"picture_path,omitempty"`
	IsOnline     bool      `json:"is_online"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserSummary is the subset of a user embedded in chats and messages
// (the display fields a client needs to render a sender or member).
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	PicturePath string    `json:"picture_path,omitempty"`
	IsOnline    bool      `json:"is_online"`
}

// Summary returns the embeddable view of a user.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PicturePath: u.PicturePath,
		IsOnline:    u.IsOnline,
	}
}
