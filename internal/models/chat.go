package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Chat represents a one-to-one or group conversation.
type Chat struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	IsGroup       bool          `json:"is_group"`
	AdminID       *uuid.UUID    `json:"admin_id,omitempty"` // group admin, nil for direct chats
	Members       []UserSummary `json:"members"`
	LatestMessage *Message      `json:"latest_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DirectChatName is the placeholder name given to one-to-one chats;
// clients render the other member's name instead.
const DirectChatName = "direct"

// PairKey returns the canonical key identifying the unordered pair of
// members of a direct chat. The unique index on this key is what makes
// concurrent find-or-create calls converge on a single chat.
func PairKey(a, b uuid.UUID) string {
	if b.String() < a.String() {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s", a, b)
}

// HasMember reports whether userID is a member of the chat.
func (c *Chat) HasMember(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}
