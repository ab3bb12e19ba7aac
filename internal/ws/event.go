// Package ws is the realtime gateway: a gorilla/websocket hub carrying
// JSON events between authenticated clients and the chat core, with
// optional Redis pub/sub fan-out between instances.
package ws

import (
	"encoding/json"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

// Client-to-server events.
const (
	EventUserOnline    = "userOnline"
	EventUserOffline   = "userOffline"
	EventJoinChatRooms = "joinChatRooms"
	EventJoinChat      = "joinChat"
	EventLeaveChat     = "leaveChat"
	EventSendMessage   = "sendMessage"
	EventMarkRead      = "markMessagesAsRead"
)

// Server-to-client events.
const (
	EventNewChat        = "newChat"
	EventStatusChanged  = "userStatusChanged"
	EventReceiveMessage = "receiveMessage"
	EventMarkedRead     = "messagesMarkedAsRead"
	EventError          = "error"
)

// Envelope frames every message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserPayload carries a user id (userOnline, userOffline, joinChatRooms).
type UserPayload struct {
	UserID string `json:"userId"`
}

// ChatPayload carries a chat id (joinChat, leaveChat).
type ChatPayload struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload is the sendMessage request. RecipientID is empty for
// group messages.
type SendMessagePayload struct {
	ChatID      string `json:"chatId"`
	SenderID    string `json:"senderId"`
	Content     string `json:"content"`
	RecipientID string `json:"recipientId,omitempty"`
}

// MarkReadPayload is the markMessagesAsRead request.
type MarkReadPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// StatusChangedPayload announces a presence change.
type StatusChangedPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// NewChatPayload announces a freshly created chat to its participants.
type NewChatPayload struct {
	Chat *models.Chat `json:"chat"`
}

// MarkedReadPayload confirms a markMessagesAsRead request to its caller.
type MarkedReadPayload struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

// ErrorPayload reports an operation failure to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// marshalEvent frames an event and its payload for the wire.
func marshalEvent(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = body
	}
	return json.Marshal(env)
}
