// Package chat implements the conversation core: the chat directory
// (find-or-create, groups, membership), the message pipeline
// (persist, point, fan out) and the read-state tracker.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// Notifier pushes realtime events to connected clients. Implementations
// must not block.
type Notifier interface {
	// NewChat tells a user a chat now exists for them.
	NewChat(userID uuid.UUID, chat *models.Chat)
	// ReceiveMessage delivers a message to a single recipient.
	ReceiveMessage(userID uuid.UUID, msg *models.Message)
	// ChatMessage broadcasts a message to everyone joined to the chat's
	// room except the given user.
	ChatMessage(chatID, exceptUserID uuid.UUID, msg *models.Message)
}

// opTimeout bounds every durable-store call issued by the chat core so a
// stalled store surfaces as a timeout instead of hanging the request.
const opTimeout = 5 * time.Second

// Directory resolves and mutates chats and their membership.
type Directory struct {
	store  store.DataStore
	notify Notifier
	logger zerolog.Logger
}

// NewDirectory creates a chat directory.
func NewDirectory(st store.DataStore, notify Notifier, logger zerolog.Logger) *Directory {
	return &Directory{
		store:  st,
		notify: notify,
		logger: logger.With().Str("component", "chat-directory").Logger(),
	}
}

// GetOrCreateDirectChat returns the one-to-one chat between me and other,
// creating it on first contact. Idempotent under concurrent calls for the
// same pair: the store's atomic find-or-insert guarantees a single chat.
// On creation both participants are pushed a newChat event; repeat calls
// return the same chat and emit nothing.
func (d *Directory) GetOrCreateDirectChat(ctx context.Context, me, other uuid.UUID) (*models.Chat, error) {
	if other == uuid.Nil {
		return nil, apperr.New(apperr.Validation, "userId is required")
	}
	if me == other {
		return nil, apperr.New(apperr.Validation, "cannot open a chat with yourself")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	peer, err := d.store.GetUserByID(ctx, other)
	if err != nil {
		return nil, apperr.FromStore("failed to look up user", err)
	}
	if peer == nil {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}

	chat, created, err := d.store.GetOrCreateDirectChat(ctx, me, other)
	if err != nil {
		return nil, apperr.FromStore("failed to access chat", err)
	}

	if created {
		metrics.ChatsCreated.WithLabelValues("direct").Inc()
		d.logger.Info().
			Stringer("chat_id", chat.ID).
			Stringer("user_a", me).
			Stringer("user_b", other).
			Msg("direct chat created")
		if d.notify != nil {
			d.notify.NewChat(me, chat)
			d.notify.NewChat(other, chat)
		}
	}
	return chat, nil
}

// CreateGroupChat creates a group conversation. The creator is added as a
// member and becomes the group admin. At least two other members are
// required.
func (d *Directory) CreateGroupChat(ctx context.Context, name string, memberIDs []uuid.UUID, creatorID uuid.UUID) (*models.Chat, error) {
	if name == "" {
		return nil, apperr.New(apperr.Validation, "group chat requires a name")
	}

	// Count distinct invitees, excluding the creator.
	invitees := make(map[uuid.UUID]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if id != creatorID && id != uuid.Nil {
			invitees[id] = struct{}{}
		}
	}
	if len(invitees) < 2 {
		return nil, apperr.New(apperr.Validation, "a group chat needs at least 2 invited members")
	}

	members := make([]uuid.UUID, 0, len(invitees))
	for id := range invitees {
		members = append(members, id)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := d.store.CreateGroupChat(ctx, name, members, creatorID)
	if err != nil {
		return nil, apperr.FromStore("failed to create group chat", err)
	}

	metrics.ChatsCreated.WithLabelValues("group").Inc()
	d.logger.Info().
		Stringer("chat_id", chat.ID).
		Stringer("admin_id", creatorID).
		Int("members", len(chat.Members)).
		Msg("group chat created")
	return chat, nil
}

// RenameChat changes a chat's name.
func (d *Directory) RenameChat(ctx context.Context, chatID uuid.UUID, name string) (*models.Chat, error) {
	if name == "" {
		return nil, apperr.New(apperr.Validation, "chat name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := d.store.RenameChat(ctx, chatID, name)
	if err != nil {
		return nil, apperr.FromStore("failed to rename chat", err)
	}
	if chat == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	return chat, nil
}

// AddMember adds userID to a group chat. Only the group admin may add
// members.
func (d *Directory) AddMember(ctx context.Context, chatID, actorID, userID uuid.UUID) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := d.authorizeMemberChange(ctx, chatID, actorID, userID)
	if err != nil {
		return nil, err
	}
	if chat.HasMember(userID) {
		return chat, nil
	}

	chat, err = d.store.AddChatMember(ctx, chatID, userID)
	if err != nil {
		return nil, apperr.FromStore("failed to add member", err)
	}
	return chat, nil
}

// RemoveMember removes userID from a group chat. The group admin may
// remove anyone; a member may remove themself (leave).
func (d *Directory) RemoveMember(ctx context.Context, chatID, actorID, userID uuid.UUID) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := d.authorizeMemberChange(ctx, chatID, actorID, userID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(userID) {
		return chat, nil
	}

	chat, err = d.store.RemoveChatMember(ctx, chatID, userID)
	if err != nil {
		return nil, apperr.FromStore("failed to remove member", err)
	}
	return chat, nil
}

func (d *Directory) authorizeMemberChange(ctx context.Context, chatID, actorID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := d.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromStore("failed to load chat", err)
	}
	if chat == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	if !chat.IsGroup {
		return nil, apperr.New(apperr.Validation, "cannot modify members of a direct chat")
	}

	isAdmin := chat.AdminID != nil && *chat.AdminID == actorID
	if !isAdmin && actorID != userID {
		return nil, apperr.New(apperr.Forbidden, "only the group admin can manage members")
	}
	return chat, nil
}

// ListChatsForUser returns the chats userID belongs to, most recently
// updated first. A chat's update timestamp advances whenever its
// latest-message pointer moves.
func (d *Directory) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chats, err := d.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore("failed to list chats", err)
	}
	return chats, nil
}
