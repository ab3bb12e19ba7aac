package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			picture_path TEXT NOT NULL DEFAULT '',
			is_online BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			admin_id UUID REFERENCES users(id),
			pair_key TEXT,
			latest_message_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// One direct chat per unordered member pair. This index is what
		// makes GetOrCreateDirectChat race-free.
		`CREATE UNIQUE INDEX IF NOT EXISTS chats_direct_pair_idx
			ON chats (pair_key) WHERE is_group = FALSE`,
		`CREATE TABLE IF NOT EXISTS chat_members (
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, user_id)
		)`,
		// seq is the insertion-order tie-break for messages with equal
		// created_at.
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL REFERENCES users(id),
			recipient_id UUID REFERENCES users(id),
			content TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_idx
			ON messages (chat_id, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx
			ON messages (chat_id, recipient_id) WHERE is_read = FALSE`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, display_name, picture_path)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, user.Username, user.PasswordHash, user.DisplayName, user.PicturePath).Scan(
		&user.ID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, display_name, picture_path, is_online, created_at, updated_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.PicturePath,
		&user.IsOnline,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SearchUsers finds users whose username or display name matches query.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, display_name, picture_path, is_online
		FROM users
		WHERE username ILIKE $1 OR display_name ILIKE $1
		ORDER BY username
		LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.UserSummary
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PicturePath, &u.IsOnline); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserOnline updates a user's online flag.
func (s *PostgresStore) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET is_online = $2, updated_at = NOW() WHERE id = $1
	`, id, online)
	return err
}

// CountUsers returns the total number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// GetOrCreateDirectChat finds or atomically creates the one-to-one chat
// between userA and userB. The insert races through the partial unique
// index on pair_key, so two concurrent first contacts yield one chat.
func (s *PostgresStore) GetOrCreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error) {
	pairKey := models.PairKey(userA, userB)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	created := true
	err = tx.QueryRow(ctx, `
		INSERT INTO chats (name, is_group, pair_key)
		VALUES ($1, FALSE, $2)
		ON CONFLICT (pair_key) WHERE is_group = FALSE DO NOTHING
		RETURNING id
	`, models.DirectChatName, pairKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or the chat already existed.
		created = false
		err = tx.QueryRow(ctx, `
			SELECT id FROM chats WHERE pair_key = $1 AND is_group = FALSE
		`, pairKey).Scan(&id)
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2), ($1, $3)
		`, id, userA, userB); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	chat, err := s.GetChat(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return chat, created, nil
}

// CreateGroupChat creates a group chat with the given members; adminID is
// added as a member and recorded as the group admin.
func (s *PostgresStore) CreateGroupChat(ctx context.Context, name string, memberIDs []uuid.UUID, adminID uuid.UUID) (*models.Chat, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO chats (name, is_group, admin_id)
		VALUES ($1, TRUE, $2)
		RETURNING id
	`, name, adminID).Scan(&id)
	if err != nil {
		return nil, err
	}

	members := append([]uuid.UUID{}, memberIDs...)
	members = append(members, adminID)
	for _, userID := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, id, userID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat with its members and latest message populated.
// Returns nil if the chat does not exist.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	var latestID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_group, admin_id, latest_message_id, created_at, updated_at
		FROM chats WHERE id = $1
	`, id).Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&chat.AdminID,
		&latestID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if chat.Members, err = s.chatMembers(ctx, id); err != nil {
		return nil, err
	}
	if latestID != nil {
		if chat.LatestMessage, err = s.getMessage(ctx, *latestID); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

func (s *PostgresStore) chatMembers(ctx context.Context, chatID uuid.UUID) ([]models.UserSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY cm.joined_at
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.UserSummary
	for rows.Next() {
		var m models.UserSummary
		if err := rows.Scan(&m.ID, &m.Username, &m.DisplayName, &m.PicturePath, &m.IsOnline); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// getMessage retrieves a message with its sender summary populated.
func (s *PostgresStore) getMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{Sender: &models.UserSummary{}}
	err := s.pool.QueryRow(ctx, `
		SELECT m.seq, m.id, m.chat_id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at,
		       u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1
	`, id).Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.IsRead,
		&msg.CreatedAt,
		&msg.Sender.ID,
		&msg.Sender.Username,
		&msg.Sender.DisplayName,
		&msg.Sender.PicturePath,
		&msg.Sender.IsOnline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// RenameChat updates a chat's name. Returns nil if the chat does not exist.
func (s *PostgresStore) RenameChat(ctx context.Context, id uuid.UUID, name string) (*models.Chat, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chats SET name = $2, updated_at = NOW() WHERE id = $1
	`, id, name)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetChat(ctx, id)
}

// AddChatMember adds a user to a chat. Returns nil if the chat does not exist.
func (s *PostgresStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, chatID, userID); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, chatID)
}

// RemoveChatMember removes a user from a chat. Returns nil if the chat does
// not exist.
func (s *PostgresStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, chatID)
}

// ListChatsForUser retrieves the chats userID belongs to, most recently
// updated first.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chats := make([]models.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		if chat != nil {
			chats = append(chats, *chat)
		}
	}
	return chats, nil
}

// IsChatMember reports whether userID is a member of chatID.
func (s *PostgresStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

// SetLatestMessage updates a chat's latest-message pointer and advances its
// update timestamp. The caller must have fully persisted the message first.
func (s *PostgresStore) SetLatestMessage(ctx context.Context, chatID uuid.UUID, messageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chats SET latest_message_id = $2, updated_at = NOW() WHERE id = $1
	`, chatID, messageID)
	return err
}

// CountChats returns the total number of chats.
func (s *PostgresStore) CountChats(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// CreateMessage persists a message, generating its ULID and timestamp when
// unset, and fills in the assigned insertion sequence.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, recipient_id, content, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, msg.ID, msg.ChatID, msg.SenderID, msg.RecipientID, msg.Content, msg.IsRead, msg.CreatedAt).Scan(&msg.Seq)
}

// ListMessages retrieves messages of a chat, newest first, with sender
// summaries populated. beforeSeq > 0 restricts to messages inserted before
// that sequence (pagination cursor).
func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeSeq <= 0 {
		beforeSeq = int64(^uint64(0) >> 1) // max int64
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.seq, m.id, m.chat_id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at,
		       u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1 AND m.seq < $2
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT $3
	`, chatID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg := models.Message{Sender: &models.UserSummary{}}
		if err := rows.Scan(
			&msg.Seq,
			&msg.ID,
			&msg.ChatID,
			&msg.SenderID,
			&msg.RecipientID,
			&msg.Content,
			&msg.IsRead,
			&msg.CreatedAt,
			&msg.Sender.ID,
			&msg.Sender.Username,
			&msg.Sender.DisplayName,
			&msg.Sender.PicturePath,
			&msg.Sender.IsOnline,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flags every unread message in chatID addressed to
// recipientID as read and returns how many transitioned.
func (s *PostgresStore) MarkMessagesRead(ctx context.Context, chatID, recipientID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND recipient_id = $2 AND is_read = FALSE
	`, chatID, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
