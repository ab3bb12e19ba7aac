package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

// MemoryStore is an in-memory DataStore. It backs component tests and
// ephemeral development runs; it is not durable.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*models.User
	usersByName map[string]uuid.UUID
	chats       map[uuid.UUID]*memChat
	pairs       map[string]uuid.UUID // pair key -> direct chat id
	messages    map[string]*models.Message
	order       []string // message ids in insertion order
	seq         int64
}

type memChat struct {
	id        uuid.UUID
	name      string
	isGroup   bool
	adminID   *uuid.UUID
	pairKey   string
	latestID  string
	members   []uuid.UUID
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*models.User),
		usersByName: make(map[string]uuid.UUID),
		chats:       make(map[uuid.UUID]*memChat),
		pairs:       make(map[string]uuid.UUID),
		messages:    make(map[string]*models.Message),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateUser stores a new user.
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	cp := *user
	s.users[user.ID] = &cp
	s.usersByName[user.Username] = user.ID
	return user, nil
}

// GetUserByID retrieves a user by ID, nil if absent.
func (s *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username, nil if absent.
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	id, ok := s.usersByName[username]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetUserByID(ctx, id)
}

// SearchUsers finds users by substring match on username or display name.
func (s *MemoryStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []models.UserSummary
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.DisplayName), q) {
			out = append(out, u.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetUserOnline updates a user's online flag.
func (s *MemoryStore) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		u.IsOnline = online
		u.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CountUsers returns the number of users.
func (s *MemoryStore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

// GetOrCreateDirectChat finds or creates the direct chat for the pair.
func (s *MemoryStore) GetOrCreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error) {
	key := models.PairKey(userA, userB)

	s.mu.Lock()
	id, ok := s.pairs[key]
	created := false
	if !ok {
		id = uuid.New()
		now := time.Now().UTC()
		s.chats[id] = &memChat{
			id:        id,
			name:      models.DirectChatName,
			pairKey:   key,
			members:   []uuid.UUID{userA, userB},
			createdAt: now,
			updatedAt: now,
		}
		s.pairs[key] = id
		created = true
	}
	s.mu.Unlock()

	chat, err := s.GetChat(ctx, id)
	return chat, created, err
}

// CreateGroupChat creates a group chat; adminID becomes a member and admin.
func (s *MemoryStore) CreateGroupChat(ctx context.Context, name string, memberIDs []uuid.UUID, adminID uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	id := uuid.New()
	now := time.Now().UTC()
	admin := adminID
	members := append([]uuid.UUID{}, memberIDs...)
	members = append(members, adminID)
	s.chats[id] = &memChat{
		id:        id,
		name:      name,
		isGroup:   true,
		adminID:   &admin,
		members:   members,
		createdAt: now,
		updatedAt: now,
	}
	s.mu.Unlock()

	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat with members and latest message, nil if absent.
func (s *MemoryStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getChatLocked(id), nil
}

func (s *MemoryStore) getChatLocked(id uuid.UUID) *models.Chat {
	c, ok := s.chats[id]
	if !ok {
		return nil
	}

	chat := &models.Chat{
		ID:        c.id,
		Name:      c.name,
		IsGroup:   c.isGroup,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	if c.adminID != nil {
		admin := *c.adminID
		chat.AdminID = &admin
	}
	for _, uid := range c.members {
		chat.Members = append(chat.Members, s.userSummaryLocked(uid))
	}
	if c.latestID != "" {
		if m, ok := s.messages[c.latestID]; ok {
			chat.LatestMessage = s.populateLocked(m)
		}
	}
	return chat
}

func (s *MemoryStore) userSummaryLocked(id uuid.UUID) models.UserSummary {
	if u, ok := s.users[id]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: id}
}

func (s *MemoryStore) populateLocked(m *models.Message) *models.Message {
	cp := *m
	sender := s.userSummaryLocked(m.SenderID)
	cp.Sender = &sender
	return &cp
}

// RenameChat updates a chat's name, nil if the chat does not exist.
func (s *MemoryStore) RenameChat(ctx context.Context, id uuid.UUID, name string) (*models.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[id]
	if ok {
		c.name = name
		c.updatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetChat(ctx, id)
}

// AddChatMember adds a member, nil if the chat does not exist.
func (s *MemoryStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[chatID]
	if ok {
		present := false
		for _, m := range c.members {
			if m == userID {
				present = true
				break
			}
		}
		if !present {
			c.members = append(c.members, userID)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetChat(ctx, chatID)
}

// RemoveChatMember removes a member, nil if the chat does not exist.
func (s *MemoryStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[chatID]
	if ok {
		kept := c.members[:0]
		for _, m := range c.members {
			if m != userID {
				kept = append(kept, m)
			}
		}
		c.members = kept
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.GetChat(ctx, chatID)
}

// ListChatsForUser retrieves the user's chats, most recently updated first.
func (s *MemoryStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Chat
	for id, c := range s.chats {
		for _, m := range c.members {
			if m == userID {
				out = append(out, *s.getChatLocked(id))
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// IsChatMember reports whether userID belongs to chatID.
func (s *MemoryStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	for _, m := range c.members {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

// SetLatestMessage updates the latest-message pointer and update timestamp.
func (s *MemoryStore) SetLatestMessage(ctx context.Context, chatID uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.chats[chatID]; ok {
		c.latestID = messageID
		c.updatedAt = time.Now().UTC()
	}
	return nil
}

// CountChats returns the number of chats.
func (s *MemoryStore) CountChats(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chats)), nil
}

// CreateMessage stores a message, assigning id, timestamp and sequence.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.seq++
	msg.Seq = s.seq

	cp := *msg
	cp.Sender = nil
	s.messages[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return nil
}

// ListMessages retrieves a chat's messages, newest first.
func (s *MemoryStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if beforeSeq <= 0 {
		beforeSeq = int64(^uint64(0) >> 1)
	}

	var out []models.Message
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[s.order[i]]
		if m.ChatID == chatID && m.Seq < beforeSeq {
			out = append(out, *s.populateLocked(m))
		}
	}
	return out, nil
}

// MarkMessagesRead flags unread messages addressed to recipientID as read.
func (s *MemoryStore) MarkMessagesRead(ctx context.Context, chatID, recipientID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID && m.RecipientID != nil && *m.RecipientID == recipientID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

// CountMessages returns the number of messages.
func (s *MemoryStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}
