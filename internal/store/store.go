package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

// DataStore defines the interface for durable storage of users, chats and
// messages. PostgresStore, SQLiteStore and MemoryStore implement this
// interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error)
	SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error
	CountUsers(ctx context.Context) (int64, error)

	// Chat operations. GetOrCreateDirectChat is the atomic find-or-insert
	// for the one-to-one chat of an unordered user pair: concurrent calls
	// for the same pair always converge on a single chat. The boolean
	// result reports whether the chat was created by this call.
	GetOrCreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error)
	CreateGroupChat(ctx context.Context, name string, memberIDs []uuid.UUID, adminID uuid.UUID) (*models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	RenameChat(ctx context.Context, id uuid.UUID, name string) (*models.Chat, error)
	AddChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error)
	RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)
	IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	SetLatestMessage(ctx context.Context, chatID uuid.UUID, messageID string) error
	CountChats(ctx context.Context) (int64, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, chatID, recipientID uuid.UUID) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
}
