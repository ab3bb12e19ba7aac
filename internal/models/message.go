package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message. Immutable once stored except for
// IsRead, which only ever transitions false to true.
type Message struct {
	ID          string       `json:"id"` // ULID
	Seq         int64        `json:"-"`  // store insertion order, breaks timestamp ties
	ChatID      uuid.UUID    `json:"chat_id"`
	SenderID    uuid.UUID    `json:"sender_id"`
	RecipientID *uuid.UUID   `json:"recipient_id,omitempty"`
	Content     string       `json:"content"`
	IsRead      bool         `json:"is_read"`
	Sender      *UserSummary `json:"sender,omitempty"` // populated for delivery pushes
	CreatedAt   time.Time    `json:"created_at"`
}
