package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// faultStore wraps a DataStore and fails selected operations.
type faultStore struct {
	store.DataStore
	failCreateMessage bool
	failSetLatest     bool
	failGetUser       bool
}

var errInjected = errors.New("injected failure")

func (f *faultStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if f.failCreateMessage {
		return errInjected
	}
	return f.DataStore.CreateMessage(ctx, msg)
}

func (f *faultStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if f.failGetUser {
		return nil, errInjected
	}
	return f.DataStore.GetUserByID(ctx, id)
}

func (f *faultStore) SetLatestMessage(ctx context.Context, chatID uuid.UUID, messageID string) error {
	if f.failSetLatest {
		return errInjected
	}
	return f.DataStore.SetLatestMessage(ctx, chatID, messageID)
}

// fixedPresence answers online for a fixed set of users.
type fixedPresence map[uuid.UUID]bool

func (p fixedPresence) IsOnline(userID uuid.UUID) bool { return p[userID] }

func seedDirectChat(t *testing.T, st store.DataStore) (alice, bob *models.User, chat *models.Chat) {
	t.Helper()
	alice = seedUser(t, st, "alice")
	bob = seedUser(t, st, "bob")
	var err error
	chat, _, err = st.GetOrCreateDirectChat(context.Background(), alice.ID, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	return alice, bob, chat
}

func TestSendPersistsAndPushesToOnlineRecipient(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, st)
	pipe := NewPipeline(st, fixedPresence{bob.ID: true}, rec, zerolog.Nop())

	msg, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "hello")
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.CreatedAt.IsZero())
	req.NotNil(msg.Sender)
	req.Equal("alice", msg.Sender.Username)

	// Recipient got a live push.
	req.Len(rec.direct[bob.ID], 1)
	req.Equal("hello", rec.direct[bob.ID][0].Content)

	// The message is durable and the pointer advanced.
	stored, err := st.GetChat(ctx, chat.ID)
	req.NoError(err)
	req.NotNil(stored.LatestMessage)
	req.Equal(msg.ID, stored.LatestMessage.ID)
}

func TestSendToOfflineRecipientStoresOnly(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, st)
	pipe := NewPipeline(st, fixedPresence{}, rec, zerolog.Nop())

	msg, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "hello")
	req.NoError(err)

	// No push, but the message is retrievable through history.
	req.Empty(rec.direct[bob.ID])
	history, err := pipe.History(ctx, chat.ID, bob.ID, 10, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg.ID, history[0].ID)
}

func TestSendGroupBroadcasts(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	admin := seedUser(t, st, "admin")
	m1 := seedUser(t, st, "m1")
	m2 := seedUser(t, st, "m2")
	chat, err := st.CreateGroupChat(ctx, "kitchen", []uuid.UUID{m1.ID, m2.ID}, admin.ID)
	req.NoError(err)

	pipe := NewPipeline(st, fixedPresence{}, rec, zerolog.Nop())

	msg, err := pipe.Send(ctx, chat.ID, admin.ID, uuid.Nil, "service!")
	req.NoError(err)
	req.Nil(msg.RecipientID)

	req.Len(rec.rooms, 1)
	req.Equal(chat.ID, rec.rooms[0].chatID)
	req.Equal(admin.ID, rec.rooms[0].except)
}

func TestSendValidation(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, st)
	eve := seedUser(t, st, "eve")
	pipe := NewPipeline(st, fixedPresence{}, newRecorder(), zerolog.Nop())

	_, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "")
	req.Equal(apperr.Validation, apperr.KindOf(err))

	_, err = pipe.Send(ctx, uuid.New(), alice.ID, bob.ID, "hi")
	req.Equal(apperr.NotFound, apperr.KindOf(err))

	// Non-members cannot send.
	_, err = pipe.Send(ctx, chat.ID, eve.ID, bob.ID, "hi")
	req.Equal(apperr.Forbidden, apperr.KindOf(err))
}

func TestSendAbortsWhenPersistFails(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, mem)
	st := &faultStore{DataStore: mem, failCreateMessage: true}
	pipe := NewPipeline(st, fixedPresence{bob.ID: true}, rec, zerolog.Nop())

	_, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "hello")
	req.Error(err)
	req.Equal(apperr.Persistence, apperr.KindOf(err))

	// Nothing was delivered and the pointer never moved.
	req.Empty(rec.direct[bob.ID])
	stored, err := mem.GetChat(ctx, chat.ID)
	req.NoError(err)
	req.Nil(stored.LatestMessage)
}

func TestSendSurvivesPointerFailure(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, mem)
	st := &faultStore{DataStore: mem, failSetLatest: true}
	pipe := NewPipeline(st, fixedPresence{bob.ID: true}, rec, zerolog.Nop())

	// The message is durable even though the pointer update failed, so
	// the send succeeds and delivery happens.
	msg, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "hello")
	req.NoError(err)
	req.Len(rec.direct[bob.ID], 1)

	history, err := pipe.History(ctx, chat.ID, alice.ID, 10, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg.ID, history[0].ID)
}

func TestSendDeliversWithoutSenderLookup(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemoryStore()
	rec := newRecorder()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, mem)
	st := &faultStore{DataStore: mem, failGetUser: true}
	pipe := NewPipeline(st, fixedPresence{bob.ID: true}, rec, zerolog.Nop())

	// The display-field lookup is best effort; its failure must not block
	// delivery of an already durable message.
	msg, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "hello")
	req.NoError(err)
	req.Nil(msg.Sender)
	req.Len(rec.direct[bob.ID], 1)
	req.Equal(msg.ID, rec.direct[bob.ID][0].ID)
}

func TestHistoryPagination(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	ctx := context.Background()

	alice, bob, chat := seedDirectChat(t, st)
	pipe := NewPipeline(st, fixedPresence{}, newRecorder(), zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := pipe.Send(ctx, chat.ID, alice.ID, bob.ID, "msg")
		req.NoError(err)
	}

	// Newest first.
	page, err := pipe.History(ctx, chat.ID, alice.ID, 2, 0)
	req.NoError(err)
	req.Len(page, 2)
	req.Greater(page[0].Seq, page[1].Seq)

	// Page backwards from the oldest seq of the previous page.
	next, err := pipe.History(ctx, chat.ID, alice.ID, 10, page[1].Seq)
	req.NoError(err)
	req.Len(next, 3)
	for _, m := range next {
		req.Less(m.Seq, page[1].Seq)
	}
}

func TestHistoryMembersOnly(t *testing.T) {
	req := require.New(t)
	st := store.NewMemoryStore()
	ctx := context.Background()

	_, _, chat := seedDirectChat(t, st)
	eve := seedUser(t, st, "eve")
	pipe := NewPipeline(st, fixedPresence{}, newRecorder(), zerolog.Nop())

	_, err := pipe.History(ctx, chat.ID, eve.ID, 10, 0)
	req.Equal(apperr.Forbidden, apperr.KindOf(err))
}
