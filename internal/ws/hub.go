package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/store"
)

// Hub owns the connection registry and the per-user and per-chat delivery
// channels. With Redis configured, outbound events travel through pub/sub
// so every instance can deliver to its local connections; without it
// delivery is local only.
type Hub struct {
	redis  *store.RedisStore // nil for single-instance deployments
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	// users maps a user id to the connection subscribed to their
	// presence room (joinChatRooms). Single session: last joiner wins.
	users map[uuid.UUID]*Client
	// chats holds per-chat broadcast rooms (joinChat / leaveChat).
	chats map[uuid.UUID]map[*Client]bool
}

// wireEvent is the envelope published between instances.
type wireEvent struct {
	Target  string          `json:"target"` // "user:<id>", "chat:<id>" or "all"
	Except  string          `json:"except,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewHub creates a hub. redis may be nil.
func NewHub(redis *store.RedisStore, logger zerolog.Logger) *Hub {
	return &Hub{
		redis:   redis,
		logger:  logger.With().Str("component", "ws-hub").Logger(),
		clients: make(map[*Client]bool),
		users:   make(map[uuid.UUID]*Client),
		chats:   make(map[uuid.UUID]map[*Client]bool),
	}
}

// Run consumes the cross-instance event channel until ctx is done.
// Returns immediately when Redis is not configured.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}

	pubsub := h.redis.SubscribeEvents(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn().Err(err).Msg("malformed wire event")
				continue
			}
			h.deliver(&ev)
		}
	}
}

// register adds a connection to the registry.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

// unregister removes a connection and all its room subscriptions.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	if h.users[c.userID] == c {
		delete(h.users, c.userID)
	}
	for chatID, room := range h.chats {
		delete(room, c)
		if len(room) == 0 {
			delete(h.chats, chatID)
		}
	}
	close(c.send)
	h.mu.Unlock()
	metrics.WSConnections.Dec()
}

// JoinUserRoom subscribes c to its user's presence room, replacing any
// earlier subscription for the same user.
func (h *Hub) JoinUserRoom(c *Client) {
	h.mu.Lock()
	h.users[c.userID] = c
	h.mu.Unlock()
}

// JoinChat subscribes c to a chat's broadcast room.
func (h *Hub) JoinChat(c *Client, chatID uuid.UUID) {
	h.mu.Lock()
	room, ok := h.chats[chatID]
	if !ok {
		room = make(map[*Client]bool)
		h.chats[chatID] = room
	}
	room[c] = true
	h.mu.Unlock()
}

// LeaveChat unsubscribes c from a chat's broadcast room.
func (h *Hub) LeaveChat(c *Client, chatID uuid.UUID) {
	h.mu.Lock()
	if room, ok := h.chats[chatID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.chats, chatID)
		}
	}
	h.mu.Unlock()
}

// SendToUser pushes an event to the user's presence-room connection,
// wherever in the cluster it lives.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	h.publish(&wireEvent{Target: "user:" + userID.String(), Event: event}, payload)
}

// SendToChat pushes an event to every connection in the chat's room except
// the given user's.
func (h *Hub) SendToChat(chatID, exceptUserID uuid.UUID, event string, payload any) {
	h.publish(&wireEvent{
		Target: "chat:" + chatID.String(),
		Except: exceptString(exceptUserID),
		Event:  event,
	}, payload)
}

// Broadcast pushes an event to every connection except the given user's.
func (h *Hub) Broadcast(event string, payload any, exceptUserID uuid.UUID) {
	h.publish(&wireEvent{Target: "all", Except: exceptString(exceptUserID), Event: event}, payload)
}

func exceptString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// publish routes an event through Redis when configured, else locally.
func (h *Hub) publish(ev *wireEvent, payload any) {
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error().Err(err).Str("event", ev.Event).Msg("failed to marshal payload")
			return
		}
		ev.Payload = body
	}

	if h.redis == nil {
		h.deliver(ev)
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Event).Msg("failed to marshal wire event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.redis.PublishEvent(ctx, data); err != nil {
		h.logger.Warn().Err(err).Str("event", ev.Event).Msg("failed to publish event, delivering locally")
		h.deliver(ev)
	}
}

// deliver fans a wire event out to matching local connections.
func (h *Hub) deliver(ev *wireEvent) {
	payload := json.RawMessage(ev.Payload)

	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case ev.Target == "all":
		for c := range h.clients {
			if ev.Except != "" && c.userID.String() == ev.Except {
				continue
			}
			c.Push(ev.Event, payload)
		}

	case len(ev.Target) > 5 && ev.Target[:5] == "user:":
		id, err := uuid.Parse(ev.Target[5:])
		if err != nil {
			return
		}
		if c, ok := h.users[id]; ok {
			c.Push(ev.Event, payload)
		}

	case len(ev.Target) > 5 && ev.Target[:5] == "chat:":
		id, err := uuid.Parse(ev.Target[5:])
		if err != nil {
			return
		}
		for c := range h.chats[id] {
			if ev.Except != "" && c.userID.String() == ev.Except {
				continue
			}
			c.Push(ev.Event, payload)
		}
	}
}

// AnnounceStatus implements presence.Announcer: a presence change goes to
// every connection except the affected user's own.
func (h *Hub) AnnounceStatus(userID uuid.UUID, online bool) {
	h.Broadcast(EventStatusChanged, StatusChangedPayload{
		UserID:   userID.String(),
		IsOnline: online,
	}, userID)
}

// NewChat implements chat.Notifier.
func (h *Hub) NewChat(userID uuid.UUID, c *models.Chat) {
	h.SendToUser(userID, EventNewChat, NewChatPayload{Chat: c})
}

// ReceiveMessage implements chat.Notifier.
func (h *Hub) ReceiveMessage(userID uuid.UUID, msg *models.Message) {
	h.SendToUser(userID, EventReceiveMessage, msg)
}

// ChatMessage implements chat.Notifier.
func (h *Hub) ChatMessage(chatID, exceptUserID uuid.UUID, msg *models.Message) {
	h.SendToChat(chatID, exceptUserID, EventReceiveMessage, msg)
}
