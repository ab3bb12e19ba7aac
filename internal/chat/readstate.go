package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// ReadTracker marks messages as read for a (chat, user) pair.
type ReadTracker struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewReadTracker creates a read-state tracker.
func NewReadTracker(st store.DataStore, logger zerolog.Logger) *ReadTracker {
	return &ReadTracker{
		store:  st,
		logger: logger.With().Str("component", "read-tracker").Logger(),
	}
}

// MarkRead transitions every unread message in chatID addressed to userID
// to read, in bulk, and returns how many transitioned. Idempotent: a
// second call is a no-op returning zero.
func (t *ReadTracker) MarkRead(ctx context.Context, chatID, userID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := t.store.MarkMessagesRead(ctx, chatID, userID)
	if err != nil {
		return 0, apperr.FromStore("failed to mark messages as read", err)
	}
	if n > 0 {
		metrics.MessagesMarkedRead.Add(float64(n))
	}
	return n, nil
}
