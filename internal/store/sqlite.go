package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// SQLite is a Directory, Archive and last-seen recorder backed by one
// SQLite database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &SQLite{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the database handle.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			last_online TEXT NOT NULL DEFAULT '',
			last_offline TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id TEXT NOT NULL REFERENCES users(id),
			friend_id TEXT NOT NULL REFERENCES users(id),
			PRIMARY KEY (user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			user_a TEXT NOT NULL,
			user_b TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			text TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(user_a, user_b, seq)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a user; a non-empty password is stored as a bcrypt hash.
func (db *SQLite) CreateUser(ctx context.Context, user relay.User, password string) error {
	if user.ID == "" {
		return fmt.Errorf("create user: %w", ErrInvalidUser)
	}
	var hashed []byte
	if password != "" {
		var err error
		if hashed, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err != nil {
			return fmt.Errorf("hash password for %s: %w", user.ID, err)
		}
	}
	if user.Username == "" {
		user.Username = user.ID
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	exists, err := db.UserExists(ctx, user.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create user %s: %w", user.ID, ErrUserExists)
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (id, username, display_name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.DisplayName, string(hashed), user.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Authenticate reports whether password matches the stored hash for userID.
func (db *SQLite) Authenticate(ctx context.Context, userID, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE id = ?", userID).Scan(&hashedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if hashedPassword == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil, nil
}

// AddFriendship records the symmetric edge a <-> b. Adding an existing edge is a no-op.
func (db *SQLite) AddFriendship(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("befriend %s: %w", a, ErrSelfFriendship)
	}
	for _, id := range []string{a, b} {
		exists, err := db.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("befriend %s: %w", id, relay.ErrUnknownUser)
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)", pair[0], pair[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FriendIDs returns the friends of userID, sorted.
func (db *SQLite) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY friend_id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserExists reports whether userID is known.
func (db *SQLite) UserExists(ctx context.Context, userID string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUser returns the record for userID.
func (db *SQLite) GetUser(ctx context.Context, userID string) (relay.User, error) {
	var u relay.User
	var createdAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, display_name, created_at FROM users WHERE id = ?", userID,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return relay.User{}, fmt.Errorf("get user %s: %w", userID, relay.ErrUnknownUser)
	}
	if err != nil {
		return relay.User{}, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return relay.User{}, fmt.Errorf("parse created_at of %s: %w", userID, err)
	}
	return u, nil
}

// SearchUsers returns users whose id, username or display name contains
// query, ignoring ASCII case, sorted by id. excludeID is left out of the result.
func (db *SQLite) SearchUsers(ctx context.Context, query, excludeID string) ([]relay.User, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, display_name, created_at FROM users
		WHERE id <> ? AND (id LIKE ? ESCAPE '\' OR username LIKE ? ESCAPE '\' OR display_name LIKE ? ESCAPE '\')
		ORDER BY id`,
		excludeID, pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]relay.User, 0)
	for rows.Next() {
		var u relay.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", u.ID, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// MarkOnline updates the user's last online timestamp.
func (db *SQLite) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET last_online = ? WHERE id = ?", at.UTC().Format(time.RFC3339Nano), userID)
	return err
}

// MarkOffline updates the user's last offline timestamp.
func (db *SQLite) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET last_offline = ? WHERE id = ?", at.UTC().Format(time.RFC3339Nano), userID)
	return err
}

// LastSeen returns the later of last online and last offline.
func (db *SQLite) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	var onlineStr, offlineStr string
	err := db.conn.QueryRowContext(ctx,
		"SELECT last_online, last_offline FROM users WHERE id = ?", userID,
	).Scan(&onlineStr, &offlineStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("last seen %s: %w", userID, relay.ErrUnknownUser)
	}
	if err != nil {
		return time.Time{}, err
	}

	var lastOnline, lastOffline time.Time
	if onlineStr != "" {
		lastOnline, _ = time.Parse(time.RFC3339Nano, onlineStr)
	}
	if offlineStr != "" {
		lastOffline, _ = time.Parse(time.RFC3339Nano, offlineStr)
	}
	return latest(lastOnline, lastOffline), nil
}

// Append stores msg under key.
func (db *SQLite) Append(ctx context.Context, key relay.ChatKey, msg relay.Message) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, user_a, user_b, sender_id, receiver_id, text, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, key.A, key.B, msg.SenderID, msg.ReceiverID, msg.Text, msg.Type,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message %s into %s: %w", msg.ID, key, err)
	}
	return nil
}

// Query returns the history of key in append order.
func (db *SQLite) Query(ctx context.Context, key relay.ChatKey) ([]relay.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, text, type, created_at
		 FROM messages WHERE user_a = ? AND user_b = ? ORDER BY seq ASC`,
		key.A, key.B,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []relay.Message{}
	for rows.Next() {
		var m relay.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Type, &createdAt); err != nil {
			return nil, err
		}
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Stats returns row counts, mainly for the seed command's summary.
func (db *SQLite) Stats(ctx context.Context) (string, error) {
	var parts []string
	for _, table := range []string{"users", "friendships", "messages"} {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s=%d", table, count))
	}
	return strings.Join(parts, ","), nil
}
