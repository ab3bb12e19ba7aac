package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// PresenceResolver answers whether a user currently holds an active
// connection, on this instance or a sibling.
type PresenceResolver interface {
	IsOnline(userID uuid.UUID) bool
}

// Pipeline accepts a send request, persists the message, advances the
// owning chat's latest-message pointer, and fans delivery out to online
// recipients.
type Pipeline struct {
	store    store.DataStore
	presence PresenceResolver
	notify   Notifier
	logger   zerolog.Logger
}

// NewPipeline creates a message pipeline.
func NewPipeline(st store.DataStore, pr PresenceResolver, notify Notifier, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    st,
		presence: pr,
		notify:   notify,
		logger:   logger.With().Str("component", "message-pipeline").Logger(),
	}
}

// Send persists and delivers a message. recipientID is uuid.Nil for group
// messages, which fan out over the chat's room instead of a direct push.
//
// The message is fully persisted before the latest-message pointer is
// updated, so the pointer can never reference a message that does not
// exist. A persistence failure aborts the whole operation.
func (p *Pipeline) Send(ctx context.Context, chatID, senderID, recipientID uuid.UUID, content string) (*models.Message, error) {
	if content == "" {
		return nil, apperr.New(apperr.Validation, "message content is required")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromStore("failed to load chat", err)
	}
	if chat == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	if !chat.HasMember(senderID) {
		return nil, apperr.New(apperr.Forbidden, "sender is not a member of this chat")
	}

	msg := &models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	}
	if recipientID != uuid.Nil {
		r := recipientID
		msg.RecipientID = &r
	}

	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.FromStore("failed to save message", err)
	}

	// The pointer only tracks the temporal maximum; if this update fails
	// the message is still durable and the pointer merely goes stale.
	if err := p.store.SetLatestMessage(ctx, chatID, msg.ID); err != nil {
		p.logger.Warn().
			Err(err).
			Stringer("chat_id", chatID).
			Str("message_id", msg.ID).
			Msg("failed to advance latest-message pointer")
	}

	if sender, err := p.store.GetUserByID(ctx, senderID); err != nil {
		p.logger.Warn().
			Err(err).
			Stringer("sender_id", senderID).
			Str("message_id", msg.ID).
			Msg("failed to load sender for delivery")
	} else if sender != nil {
		summary := sender.Summary()
		msg.Sender = &summary
	}

	p.deliver(chatID, senderID, recipientID, msg)
	return msg, nil
}

// deliver pushes the message to whoever can receive it right now. Offline
// recipients get nothing; the message is discoverable through history.
func (p *Pipeline) deliver(chatID, senderID, recipientID uuid.UUID, msg *models.Message) {
	if p.notify == nil {
		return
	}

	if recipientID == uuid.Nil {
		// Group message: broadcast over the chat room.
		p.notify.ChatMessage(chatID, senderID, msg)
		metrics.MessagesSent.WithLabelValues("pushed").Inc()
		return
	}

	if p.presence != nil && p.presence.IsOnline(recipientID) {
		p.notify.ReceiveMessage(recipientID, msg)
		metrics.MessagesSent.WithLabelValues("pushed").Inc()
	} else {
		metrics.MessagesSent.WithLabelValues("stored").Inc()
	}
}

// History returns a chat's messages, newest first, for members only.
// beforeSeq > 0 pages backwards from that insertion sequence.
func (p *Pipeline) History(ctx context.Context, chatID, userID uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	chat, err := p.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.FromStore("failed to load chat", err)
	}
	if chat == nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}
	if !chat.HasMember(userID) {
		return nil, apperr.New(apperr.Forbidden, "not a member of this chat")
	}

	msgs, err := p.store.ListMessages(ctx, chatID, limit, beforeSeq)
	if err != nil {
		return nil, apperr.FromStore("failed to load messages", err)
	}
	return msgs, nil
}
