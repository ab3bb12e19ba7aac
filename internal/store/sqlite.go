package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/models"
)

// SQLiteStore handles SQLite database operations. It mirrors PostgresStore
// and serves as the development fallback when no DATABASE_URL is set.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/partie.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/partie.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		picture_path TEXT NOT NULL DEFAULT '',
		is_online INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_group INTEGER NOT NULL DEFAULT 0,
		admin_id TEXT REFERENCES users(id),
		pair_key TEXT,
		latest_message_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS chats_direct_pair_idx
		ON chats (pair_key) WHERE is_group = 0;

	CREATE TABLE IF NOT EXISTS chat_members (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		recipient_id TEXT REFERENCES users(id),
		content TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS messages_chat_idx
		ON messages (chat_id, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, display_name, picture_path, is_online, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, user.ID, user.Username, user.PasswordHash, user.DisplayName, user.PicturePath, now, now)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SearchUsers finds users whose username or display name matches query.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, picture_path, is_online
		FROM users
		WHERE username LIKE ? OR display_name LIKE ?
		ORDER BY username
		LIMIT ?
	`, "%"+query+"%", "%"+query+"%", limit)
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
func (s *SQLiteStore) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = ?, updated_at = ? WHERE id = ?
	`, online, time.Now().UTC(), id)
	return err
}

// CountUsers returns the total number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// GetOrCreateDirectChat finds or atomically creates the one-to-one chat
// between userA and userB using INSERT OR IGNORE through the partial
// unique index on pair_key.
func (s *SQLiteStore) GetOrCreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error) {
	pairKey := models.PairKey(userA, userB)
	now := time.Now().UTC()
	newID := uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chats (id, name, is_group, pair_key, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
	`, newID, models.DirectChatName, pairKey, now, now)
	if err != nil {
		return nil, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	created := inserted > 0

	var id uuid.UUID
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM chats WHERE pair_key = ? AND is_group = 0
	`, pairKey).Scan(&id); err != nil {
		return nil, false, err
	}

	if created {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?), (?, ?, ?)
		`, id, userA, now, id, userB, now); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	chat, err := s.GetChat(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return chat, created, nil
}

// CreateGroupChat creates a group chat with the given members and admin.
func (s *SQLiteStore) CreateGroupChat(ctx context.Context, name string, memberIDs []uuid.UUID, adminID uuid.UUID) (*models.Chat, error) {
	now := time.Now().UTC()
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, name, is_group, admin_id, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
	`, id, name, adminID, now, now); err != nil {
		return nil, err
	}

	members := append([]uuid.UUID{}, memberIDs...)
	members = append(members, adminID)
	for _, userID := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)
		`, id, userID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat with members and latest message populated.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	var adminID uuid.NullUUID
	var latestID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_group, admin_id, latest_message_id, created_at, updated_at
		FROM chats WHERE id = ?
	`, id).Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&adminID,
		&latestID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if adminID.Valid {
		chat.AdminID = &adminID.UUID
	}

	if chat.Members, err = s.chatMembers(ctx, id); err != nil {
		return nil, err
	}
	if latestID.Valid {
		if chat.LatestMessage, err = s.getMessage(ctx, latestID.String); err != nil {
			return nil, err
		}
	}
	return chat, nil
}

func (s *SQLiteStore) chatMembers(ctx context.Context, chatID uuid.UUID) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = ?
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

func (s *SQLiteStore) getMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{Sender: &models.UserSummary{}}
	var recipient uuid.NullUUID
	err := s.db.QueryRowContext(ctx, `
		SELECT m.rowid, m.id, m.chat_id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at,
		       u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, id).Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&recipient,
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if recipient.Valid {
		msg.RecipientID = &recipient.UUID
	}
	return msg, nil
}

// RenameChat updates a chat's name. Returns nil if the chat does not exist.
func (s *SQLiteStore) RenameChat(ctx context.Context, id uuid.UUID, name string) (*models.Chat, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetChat(ctx, id)
}

// AddChatMember adds a user to a chat. Returns nil if the chat does not exist.
func (s *SQLiteStore) AddChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_members (chat_id, user_id, joined_at) VALUES (?, ?, ?)
	`, chatID, userID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, chatID)
}

// RemoveChatMember removes a user from a chat. Returns nil if the chat does
// not exist.
func (s *SQLiteStore) RemoveChatMember(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?
	`, chatID, userID); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, chatID)
}

// ListChatsForUser retrieves the chats userID belongs to, most recently
// updated first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = ?
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
func (s *SQLiteStore) IsChatMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_members WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(&n)
	return n > 0, err
}

// SetLatestMessage updates a chat's latest-message pointer and advances its
// update timestamp.
func (s *SQLiteStore) SetLatestMessage(ctx context.Context, chatID uuid.UUID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ?
	`, messageID, time.Now().UTC(), chatID)
	return err
}

// CountChats returns the total number of chats.
func (s *SQLiteStore) CountChats(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}

// CreateMessage persists a message; the implicit rowid is its insertion
// sequence.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var recipient any
	if msg.RecipientID != nil {
		recipient = *msg.RecipientID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, recipient_id, content, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, recipient, msg.Content, msg.IsRead, msg.CreatedAt)
	if err != nil {
		return err
	}
	msg.Seq, err = res.LastInsertId()
	return err
}

// ListMessages retrieves messages of a chat, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int, beforeSeq int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeSeq <= 0 {
		beforeSeq = int64(^uint64(0) >> 1)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.rowid, m.id, m.chat_id, m.sender_id, m.recipient_id, m.content, m.is_read, m.created_at,
		       u.id, u.username, u.display_name, u.picture_path, u.is_online
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ? AND m.rowid < ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?
	`, chatID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg := models.Message{Sender: &models.UserSummary{}}
		var recipient uuid.NullUUID
		if err := rows.Scan(
			&msg.Seq,
			&msg.ID,
			&msg.ChatID,
			&msg.SenderID,
			&recipient,
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
		if recipient.Valid {
			msg.RecipientID = &recipient.UUID
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flags unread messages addressed to recipientID as read.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, chatID, recipientID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE chat_id = ? AND recipient_id = ? AND is_read = 0
	`, chatID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}
