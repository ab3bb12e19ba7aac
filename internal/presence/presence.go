// Package presence tracks which users currently hold an active realtime
// connection. The tracker owns the user-to-connection map explicitly: it is
// created at startup, cleared at shutdown, and rebuilt from nothing after a
// restart. Only the online flag survives in the durable store.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
)

// Connection is the handle the tracker keeps per online user. Pushing must
// never block the caller.
type Connection interface {
	Push(event string, payload any)
}

// StatusStore persists the durable online flag.
type StatusStore interface {
	SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error
}

// Cache optionally mirrors the online set to a shared cache so sibling
// instances can answer presence queries. May be nil.
type Cache interface {
	SetOnline(ctx context.Context, userID uuid.UUID, online bool) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Announcer broadcasts a presence change to other connections.
type Announcer interface {
	AnnounceStatus(userID uuid.UUID, online bool)
}

const (
	persistTimeout = 3 * time.Second
	resolveTimeout = 2 * time.Second
)

// Tracker maps user ids to their single active connection. Last connection
// wins: a second MarkOnline for the same user replaces the previous handle.
type Tracker struct {
	store    StatusStore
	cache    Cache
	announce Announcer
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]Connection
}

// New creates a tracker. announce may be set later with SetAnnouncer since
// the realtime hub is constructed after the tracker.
func New(store StatusStore, cache Cache, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "presence").Logger(),
		conns:  make(map[uuid.UUID]Connection),
	}
	return t
}

// SetAnnouncer wires the broadcast sink for presence changes.
func (t *Tracker) SetAnnouncer(a Announcer) {
	t.mu.Lock()
	t.announce = a
	t.mu.Unlock()
}

// MarkOnline registers conn as the active connection for userID,
// overwriting any prior handle. The durable write is fire-and-forget; the
// presence change is announced to other connections.
func (t *Tracker) MarkOnline(userID uuid.UUID, conn Connection) {
	t.mu.Lock()
	_, wasOnline := t.conns[userID]
	t.conns[userID] = conn
	announce := t.announce
	t.mu.Unlock()

	if !wasOnline {
		metrics.UsersOnline.Inc()
	}
	t.persist(userID, true)
	if announce != nil {
		announce.AnnounceStatus(userID, true)
	}
}

// MarkOffline removes the mapping for userID. When conn is non-nil the
// removal only happens if conn is still the registered handle, so a stale
// disconnect cannot knock out a newer session.
func (t *Tracker) MarkOffline(userID uuid.UUID, conn Connection) {
	t.mu.Lock()
	current, ok := t.conns[userID]
	if !ok || (conn != nil && current != conn) {
		t.mu.Unlock()
		return
	}
	delete(t.conns, userID)
	announce := t.announce
	t.mu.Unlock()

	metrics.UsersOnline.Dec()
	t.persist(userID, false)
	if announce != nil {
		announce.AnnounceStatus(userID, false)
	}
}

// Resolve returns the active connection for userID, if any. Lookup only.
func (t *Tracker) Resolve(userID uuid.UUID) (Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.conns[userID]
	return conn, ok
}

// IsOnline reports whether userID has an active connection, here or on a
// sibling instance when a shared cache is configured. A cache failure is
// logged and reads as offline; the message stays durable either way.
func (t *Tracker) IsOnline(userID uuid.UUID) bool {
	if _, ok := t.Resolve(userID); ok {
		return true
	}
	if t.cache == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	online, err := t.cache.IsOnline(ctx, userID)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Stringer("user_id", userID).
			Msg("failed to resolve presence from cache")
		return false
	}
	return online
}

// Online returns the ids of all users with an active connection.
func (t *Tracker) Online() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	return ids
}

// Reset clears the map. Part of the shutdown lifecycle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	n := len(t.conns)
	t.conns = make(map[uuid.UUID]Connection)
	t.mu.Unlock()
	metrics.UsersOnline.Sub(float64(n))
}

// persist writes the online flag without blocking the caller. Failure is
// logged, never fatal: delivery must not wait on the durable store.
func (t *Tracker) persist(userID uuid.UUID, online bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := t.store.SetUserOnline(ctx, userID, online); err != nil {
			t.logger.Warn().
				Err(err).
				Stringer("user_id", userID).
				Bool("online", online).
				Msg("failed to persist online flag")
		}
		if t.cache != nil {
			if err := t.cache.SetOnline(ctx, userID, online); err != nil {
				t.logger.Warn().
					Err(err).
					Stringer("user_id", userID).
					Msg("failed to mirror presence to cache")
			}
		}
	}()
}
