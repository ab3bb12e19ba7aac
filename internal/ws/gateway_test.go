package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/chat"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/presence"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// harness wires a gateway against the in-memory store with local-only
// delivery, bypassing real websocket connections.
type harness struct {
	store   *store.MemoryStore
	hub     *Hub
	tracker *presence.Tracker
	gateway *Gateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	hub := NewHub(nil, zerolog.Nop())
	tracker := presence.New(st, nil, zerolog.Nop())
	tracker.SetAnnouncer(hub)

	directory := chat.NewDirectory(st, hub, zerolog.Nop())
	pipeline := chat.NewPipeline(st, tracker, hub, zerolog.Nop())
	reader := chat.NewReadTracker(st, zerolog.Nop())

	return &harness{
		store:   st,
		hub:     hub,
		tracker: tracker,
		gateway: NewGateway(hub, tracker, directory, pipeline, reader, zerolog.Nop()),
	}
}

// connect creates a registered test client for a fresh user.
func (h *harness) connect(t *testing.T, username string) *Client {
	t.Helper()
	u, err := h.store.CreateUser(context.Background(), &models.User{
		Username:    username,
		DisplayName: username,
	})
	require.NoError(t, err)

	c := &Client{
		hub:      h.hub,
		gateway:  h.gateway,
		send:     make(chan []byte, sendBuffer),
		userID:   u.ID,
		username: username,
		logger:   zerolog.Nop(),
	}
	h.gateway.connected(c)
	return c
}

func dispatch(t *testing.T, g *Gateway, c *Client, event string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(Envelope{Event: event, Payload: body})
	require.NoError(t, err)
	g.Dispatch(c, raw)
}

// drain decodes every queued frame on the client's send channel.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventNames(envs []Envelope) []string {
	names := make([]string, len(envs))
	for i, e := range envs {
		names[i] = e.Event
	}
	return names
}

func TestConnectMarksOnlineAndAnnounces(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	req.True(h.tracker.IsOnline(alice.UserID()))
	req.True(h.tracker.IsOnline(bob.UserID()))

	// Alice hears about bob's arrival; bob does not hear about himself.
	aliceEvents := drain(t, alice)
	req.Contains(eventNames(aliceEvents), EventStatusChanged)

	var status StatusChangedPayload
	for _, e := range aliceEvents {
		if e.Event == EventStatusChanged {
			req.NoError(json.Unmarshal(e.Payload, &status))
		}
	}
	req.Equal(bob.UserID().String(), status.UserID)
	req.True(status.IsOnline)

	req.NotContains(eventNames(drain(t, bob)), EventStatusChanged)
}

func TestIdentityMismatchRejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")
	drain(t, alice)

	dispatch(t, h.gateway, alice, EventUserOnline, UserPayload{UserID: uuid.New().String()})

	events := drain(t, alice)
	req.Equal([]string{EventError}, eventNames(events))

	var ep ErrorPayload
	req.NoError(json.Unmarshal(events[0].Payload, &ep))
	req.Equal("identity mismatch", ep.Message)
}

func TestMalformedFrameReturnsError(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")
	drain(t, alice)

	h.gateway.Dispatch(alice, []byte("not json"))
	req.Equal([]string{EventError}, eventNames(drain(t, alice)))

	dispatch(t, h.gateway, alice, "bogusEvent", struct{}{})
	req.Equal([]string{EventError}, eventNames(drain(t, alice)))
}

func TestSendMessageDeliveredAndEchoed(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	directChat, _, err := h.store.GetOrCreateDirectChat(ctx, alice.UserID(), bob.UserID())
	req.NoError(err)
	drain(t, alice)
	drain(t, bob)

	dispatch(t, h.gateway, alice, EventSendMessage, SendMessagePayload{
		ChatID:      directChat.ID.String(),
		SenderID:    alice.UserID().String(),
		RecipientID: bob.UserID().String(),
		Content:     "hello bob",
	})

	bobEvents := drain(t, bob)
	req.Equal([]string{EventReceiveMessage}, eventNames(bobEvents))
	var got models.Message
	req.NoError(json.Unmarshal(bobEvents[0].Payload, &got))
	req.Equal("hello bob", got.Content)
	req.NotNil(got.Sender)
	req.Equal("alice", got.Sender.Username)

	// Sender gets the stored message back.
	aliceEvents := drain(t, alice)
	req.Equal([]string{EventReceiveMessage}, eventNames(aliceEvents))
}

func TestSendMessageNonMemberGetsError(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	eve := h.connect(t, "eve")
	directChat, _, err := h.store.GetOrCreateDirectChat(ctx, alice.UserID(), bob.UserID())
	req.NoError(err)
	drain(t, eve)

	dispatch(t, h.gateway, eve, EventSendMessage, SendMessagePayload{
		ChatID:   directChat.ID.String(),
		SenderID: eve.UserID().String(),
		Content:  "let me in",
	})

	events := drain(t, eve)
	req.Equal([]string{EventError}, eventNames(events))
}

func TestGroupRoomBroadcast(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	admin := h.connect(t, "admin")
	m1 := h.connect(t, "m1")
	m2 := h.connect(t, "m2")
	group, err := h.store.CreateGroupChat(ctx, "kitchen",
		[]uuid.UUID{m1.UserID(), m2.UserID()}, admin.UserID())
	req.NoError(err)

	payload := ChatPayload{ChatID: group.ID.String()}
	dispatch(t, h.gateway, admin, EventJoinChat, payload)
	dispatch(t, h.gateway, m1, EventJoinChat, payload)
	drain(t, admin)
	drain(t, m1)
	drain(t, m2)

	dispatch(t, h.gateway, admin, EventSendMessage, SendMessagePayload{
		ChatID:   group.ID.String(),
		SenderID: admin.UserID().String(),
		Content:  "service!",
	})

	// Joined members receive the broadcast; the sender only gets the
	// echo; members who never joined the room get nothing.
	req.Equal([]string{EventReceiveMessage}, eventNames(drain(t, m1)))
	req.Equal([]string{EventReceiveMessage}, eventNames(drain(t, admin)))
	req.Empty(drain(t, m2))

	// Leaving the room stops delivery.
	dispatch(t, h.gateway, m1, EventLeaveChat, payload)
	dispatch(t, h.gateway, admin, EventSendMessage, SendMessagePayload{
		ChatID:   group.ID.String(),
		SenderID: admin.UserID().String(),
		Content:  "again",
	})
	req.Empty(drain(t, m1))
}

func TestMarkReadConfirmation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	directChat, _, err := h.store.GetOrCreateDirectChat(ctx, alice.UserID(), bob.UserID())
	req.NoError(err)

	for i := 0; i < 2; i++ {
		dispatch(t, h.gateway, alice, EventSendMessage, SendMessagePayload{
			ChatID:      directChat.ID.String(),
			SenderID:    alice.UserID().String(),
			RecipientID: bob.UserID().String(),
			Content:     fmt.Sprintf("msg %d", i),
		})
	}
	drain(t, alice)
	drain(t, bob)

	dispatch(t, h.gateway, bob, EventMarkRead, MarkReadPayload{
		ChatID: directChat.ID.String(),
		UserID: bob.UserID().String(),
	})

	events := drain(t, bob)
	req.Equal([]string{EventMarkedRead}, eventNames(events))
	var confirm MarkedReadPayload
	req.NoError(json.Unmarshal(events[0].Payload, &confirm))
	req.EqualValues(2, confirm.Count)

	// Idempotent: repeating reports zero.
	dispatch(t, h.gateway, bob, EventMarkRead, MarkReadPayload{
		ChatID: directChat.ID.String(),
		UserID: bob.UserID().String(),
	})
	events = drain(t, bob)
	req.Equal([]string{EventMarkedRead}, eventNames(events))
	req.NoError(json.Unmarshal(events[0].Payload, &confirm))
	req.EqualValues(0, confirm.Count)
}

func TestDisconnectDropsPresenceAndRooms(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	drain(t, bob)

	h.gateway.disconnected(alice)
	req.False(h.tracker.IsOnline(alice.UserID()))

	events := drain(t, bob)
	req.Contains(eventNames(events), EventStatusChanged)
	var status StatusChangedPayload
	for _, e := range events {
		if e.Event == EventStatusChanged {
			req.NoError(json.Unmarshal(e.Payload, &status))
		}
	}
	req.False(status.IsOnline)

	// A second teardown for the same connection is harmless.
	h.gateway.disconnected(alice)
}

func TestStaleDisconnectKeepsNewSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	alice := h.connect(t, "alice")

	// Same user reconnects before the old socket's teardown runs.
	fresh := &Client{
		hub:      h.hub,
		gateway:  h.gateway,
		send:     make(chan []byte, sendBuffer),
		userID:   alice.UserID(),
		username: alice.username,
		logger:   zerolog.Nop(),
	}
	h.gateway.connected(fresh)

	h.gateway.disconnected(alice)
	req.True(h.tracker.IsOnline(alice.UserID()))

	// Direct pushes reach the surviving session.
	h.hub.SendToUser(alice.UserID(), EventNewChat, NewChatPayload{})
	req.Equal([]string{EventNewChat}, eventNames(drain(t, fresh)))
}
