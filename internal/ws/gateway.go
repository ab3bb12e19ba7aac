package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/apperr"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/chat"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/metrics"
	"github.com/Mariohjr94/The-Chef-de-Partie/internal/presence"
)

// dispatchTimeout bounds the store work a single inbound event may do.
const dispatchTimeout = 10 * time.Second

// Gateway routes inbound websocket events to the presence tracker and the
// chat core. Identity always comes from the authenticated connection; any
// user id carried in a payload is only cross-checked against it.
type Gateway struct {
	hub       *Hub
	presence  *presence.Tracker
	directory *chat.Directory
	pipeline  *chat.Pipeline
	reader    *chat.ReadTracker
	logger    zerolog.Logger
}

// NewGateway creates the event dispatcher.
func NewGateway(hub *Hub, tracker *presence.Tracker, directory *chat.Directory, pipeline *chat.Pipeline, reader *chat.ReadTracker, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:       hub,
		presence:  tracker,
		directory: directory,
		pipeline:  pipeline,
		reader:    reader,
		logger:    logger.With().Str("component", "ws-gateway").Logger(),
	}
}

// Dispatch parses one inbound frame and runs the matching handler.
func (g *Gateway) Dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.pushError("malformed event")
		return
	}

	metrics.WSEventsTotal.WithLabelValues(eventLabel(env.Event)).Inc()

	switch env.Event {
	case EventUserOnline, EventJoinChatRooms:
		g.handleOnline(c, env.Payload)
	case EventUserOffline:
		g.handleOffline(c, env.Payload)
	case EventJoinChat:
		g.handleJoinChat(c, env.Payload)
	case EventLeaveChat:
		g.handleLeaveChat(c, env.Payload)
	case EventSendMessage:
		g.handleSendMessage(c, env.Payload)
	case EventMarkRead:
		g.handleMarkRead(c, env.Payload)
	default:
		c.pushError("unknown event: " + env.Event)
	}
}

// eventLabel clamps client-supplied event names to a fixed label set so a
// hostile client cannot inflate metric cardinality.
func eventLabel(event string) string {
	switch event {
	case EventUserOnline, EventUserOffline, EventJoinChatRooms,
		EventJoinChat, EventLeaveChat, EventSendMessage, EventMarkRead:
		return event
	default:
		return "unknown"
	}
}

// connected registers a fresh connection and marks its user online.
func (g *Gateway) connected(c *Client) {
	g.hub.register(c)
	g.hub.JoinUserRoom(c)
	g.presence.MarkOnline(c.userID, c)
}

// disconnected tears a connection down. The tracker ignores the offline
// mark when a newer connection has already replaced this one.
func (g *Gateway) disconnected(c *Client) {
	g.presence.MarkOffline(c.userID, c)
	g.hub.unregister(c)
}

// checkIdentity verifies that a payload-supplied user id, when present,
// matches the connection's authenticated identity.
func (g *Gateway) checkIdentity(c *Client, claimed string) bool {
	if claimed == "" || claimed == c.userID.String() {
		return true
	}
	g.logger.Warn().
		Str("user_id", c.userID.String()).
		Str("claimed", claimed).
		Msg("payload identity mismatch")
	c.pushError("identity mismatch")
	return false
}

func (g *Gateway) handleOnline(c *Client, raw json.RawMessage) {
	var p UserPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.pushError("malformed payload")
			return
		}
	}
	if !g.checkIdentity(c, p.UserID) {
		return
	}
	g.hub.JoinUserRoom(c)
	g.presence.MarkOnline(c.userID, c)
}

func (g *Gateway) handleOffline(c *Client, raw json.RawMessage) {
	var p UserPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			c.pushError("malformed payload")
			return
		}
	}
	if !g.checkIdentity(c, p.UserID) {
		return
	}
	g.presence.MarkOffline(c.userID, c)
}

func (g *Gateway) handleJoinChat(c *Client, raw json.RawMessage) {
	chatID, ok := g.parseChatID(c, raw)
	if !ok {
		return
	}
	g.hub.JoinChat(c, chatID)
}

func (g *Gateway) handleLeaveChat(c *Client, raw json.RawMessage) {
	chatID, ok := g.parseChatID(c, raw)
	if !ok {
		return
	}
	g.hub.LeaveChat(c, chatID)
}

func (g *Gateway) parseChatID(c *Client, raw json.RawMessage) (uuid.UUID, bool) {
	var p ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.pushError("malformed payload")
		return uuid.Nil, false
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		c.pushError("invalid chat id")
		return uuid.Nil, false
	}
	return chatID, true
}

func (g *Gateway) handleSendMessage(c *Client, raw json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.pushError("malformed payload")
		return
	}
	if !g.checkIdentity(c, p.SenderID) {
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		c.pushError("invalid chat id")
		return
	}
	recipientID := uuid.Nil
	if p.RecipientID != "" {
		recipientID, err = uuid.Parse(p.RecipientID)
		if err != nil {
			c.pushError("invalid recipient id")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	msg, err := g.pipeline.Send(ctx, chatID, c.userID, recipientID, p.Content)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("chat_id", chatID.String()).
			Str("user_id", c.userID.String()).
			Msg("sendMessage failed")
		c.pushError(apperr.Message(err))
		return
	}

	// Echo back so the sender sees the stored message with its id and
	// timestamp.
	c.Push(EventReceiveMessage, msg)
}

func (g *Gateway) handleMarkRead(c *Client, raw json.RawMessage) {
	var p MarkReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.pushError("malformed payload")
		return
	}
	if !g.checkIdentity(c, p.UserID) {
		return
	}
	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		c.pushError("invalid chat id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	count, err := g.reader.MarkRead(ctx, chatID, c.userID)
	if err != nil {
		g.logger.Warn().Err(err).
			Str("chat_id", chatID.String()).
			Str("user_id", c.userID.String()).
			Msg("markMessagesAsRead failed")
		c.pushError(apperr.Message(err))
		return
	}

	c.Push(EventMarkedRead, MarkedReadPayload{
		ChatID:  chatID.String(),
		Message: "messages marked as read",
		Count:   count,
	})
}
