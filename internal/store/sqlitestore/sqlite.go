// Package sqlitestore is the SQLite-backed implementation of the
// store interface. One database file holds users, the direct-message
// buffer, and the permanent group history.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// compile-time check to ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and bootstraps the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode and a busy timeout for better concurrency.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "sqlite_store")),
	}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id    TEXT NOT NULL,
		receiver_id  TEXT NOT NULL,
		text         TEXT DEFAULT '',
		message_type TEXT DEFAULT 'text',
		media_url    TEXT DEFAULT '',
		file_name    TEXT DEFAULT '',
		file_size    INTEGER DEFAULT 0,
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages (receiver_id, created_at);
	CREATE TABLE IF NOT EXISTS groups (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_by TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL,
		user_id  TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS group_messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id     TEXT NOT NULL,
		sender_id    TEXT NOT NULL,
		text         TEXT DEFAULT '',
		message_type TEXT DEFAULT 'text',
		media_url    TEXT DEFAULT '',
		file_name    TEXT DEFAULT '',
		file_size    INTEGER DEFAULT 0,
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages (group_id, id);
`

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *Store) ResolveUsername(ctx context.Context, username string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve username: %w", err)
	}
	return id, nil
}

func (s *Store) Username(ctx context.Context, id string) (string, error) {
	var username string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup username: %w", err)
	}
	return username, nil
}

// CreateUser registers a user row. Account provisioning proper lives
// outside the engine; this exists for bootstrap and tests.
func (s *Store) CreateUser(ctx context.Context, id, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username) VALUES (?, ?)`, id, username)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// --- Direct messages ---

func (s *Store) PersistMessage(ctx context.Context, senderID, receiverID string, p store.Payload) (*store.Message, error) {
	senderName, err := s.Username(ctx, senderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, text, message_type, media_url, file_name, file_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		senderID, receiverID, p.Text, p.MessageType, p.MediaURL, p.FileName, p.FileSize, now)
	if err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("persist message id: %w", err)
	}

	return &store.Message{
		ID:         id,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		Payload:    p,
		CreatedAt:  now,
	}, nil
}

func (s *Store) FetchUndelivered(ctx context.Context, receiverID string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.sender_id, u.username, m.text, m.message_type, m.media_url, m.file_name, m.file_size, m.created_at
		 FROM messages m
		 JOIN users u ON m.sender_id = u.id
		 WHERE m.receiver_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`,
		receiverID)
	if err != nil {
		return nil, fmt.Errorf("fetch undelivered: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		m := &store.Message{ReceiverID: receiverID}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.MessageType, &m.MediaURL, &m.FileName, &m.FileSize, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// --- Group messages ---

func (s *Store) PersistGroupMessage(ctx context.Context, groupID, senderID string, p store.Payload) (*store.GroupMessage, error) {
	senderName, err := s.Username(ctx, senderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO group_messages (group_id, sender_id, text, message_type, media_url, file_name, file_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		groupID, senderID, p.Text, p.MessageType, p.MediaURL, p.FileName, p.FileSize, now)
	if err != nil {
		return nil, fmt.Errorf("persist group message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("persist group message id: %w", err)
	}

	return &store.GroupMessage{
		ID:         id,
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Payload:    p,
		CreatedAt:  now,
	}, nil
}

func (s *Store) GroupMessages(ctx context.Context, groupID string, limit int, beforeID int64) ([]*store.GroupMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT gm.id, gm.sender_id, u.username, gm.text, gm.message_type, gm.media_url, gm.file_name, gm.file_size, gm.created_at
		 FROM group_messages gm
		 JOIN users u ON gm.sender_id = u.id
		 WHERE gm.group_id = ?`
	args := []any{groupID}
	if beforeID > 0 {
		query += ` AND gm.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY gm.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch group messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.GroupMessage
	for rows.Next() {
		m := &store.GroupMessage{GroupID: groupID}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.MessageType, &m.MediaURL, &m.FileName, &m.FileSize, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- Groups & membership ---

// CreateGroup creates a group and records the creator as its first
// member. Like CreateUser, this is bootstrap/test surface.
func (s *Store) CreateGroup(ctx context.Context, id, name, creatorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, created_by) VALUES (?, ?, ?)`, id, name, creatorID); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`, id, creatorID); err != nil {
		return fmt.Errorf("create group membership: %w", err)
	}
	return tx.Commit()
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("fetch group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *Store) MemberGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id FROM group_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch member groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = ?`, groupID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check group: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, groupID, userID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}
