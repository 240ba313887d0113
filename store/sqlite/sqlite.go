// Package sqlite implements easel.SessionStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/easelhq/easel"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

const currentSchemaVersion = 2

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements easel.SessionStore backed by a local SQLite file.
// A single shared connection serializes all writers through one
// connection, eliminating SQLITE_BUSY errors from concurrent sessions.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ easel.SessionStore = (*Store)(nil)

var nopLogger = slog.New(slog.DiscardHandler)

// New opens (or creates) the session database at dbPath and applies
// schema migrations.
func New(dbPath string, opts ...StoreOption) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set wal: %w", err)
	}
	if _, err := s.db.Exec(schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.migrate()
}

// migrate applies additive schema bumps recorded in PRAGMA user_version.
// Each ALTER is idempotent: a failure from an already-existing column is
// ignored.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version < 2 {
		for _, stmt := range []string{
			"ALTER TABLE sessions ADD COLUMN parent_session_id TEXT DEFAULT NULL",
			"ALTER TABLE sessions ADD COLUMN summary_message_id INTEGER DEFAULT NULL",
			"ALTER TABLE sessions ADD COLUMN total_input_tokens INTEGER DEFAULT 0",
			"ALTER TABLE sessions ADD COLUMN total_output_tokens INTEGER DEFAULT 0",
			"ALTER TABLE messages ADD COLUMN ordinal INTEGER DEFAULT 0",
		} {
			_, _ = s.db.Exec(stmt)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
		s.logger.Info("sqlite: migrated", "version", currentSchemaVersion)
	}
	return nil
}

// CreateSession inserts a new top-level session and returns its id.
func (s *Store) CreateSession(ctx context.Context, title string) (string, error) {
	id := easel.NewID()
	now := easel.NowUnix()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, title, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// CreateChildSession inserts a sub-agent session tied to parentID.
func (s *Store) CreateChildSession(ctx context.Context, parentID, title string) (string, error) {
	id := easel.NewID()
	now := easel.NowUnix()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, title, created_at, updated_at, parent_session_id) VALUES (?, ?, ?, ?, ?)",
		id, title, now, now, parentID,
	)
	if err != nil {
		return "", fmt.Errorf("create child session: %w", err)
	}
	return id, nil
}

// ListSessions returns top-level sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]easel.SessionMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at, parent_session_id, summary_message_id,
		        total_input_tokens, total_output_tokens
		 FROM sessions WHERE parent_session_id IS NULL ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []easel.SessionMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and all of its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// AppendMessage appends one message, assigning the next ordinal
// atomically with the insert, and bumps the session's updated_at.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg easel.Message) (int64, error) {
	content, err := msg.EncodeContent()
	if err != nil {
		return 0, fmt.Errorf("encode content: %w", err)
	}
	now := easel.NowUnix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	var ordinal int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(ordinal), -1) + 1 FROM messages WHERE session_id = ?", sessionID,
	).Scan(&ordinal)
	if err != nil {
		return 0, fmt.Errorf("next ordinal: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, created_at, ordinal) VALUES (?, ?, ?, ?, ?)",
		sessionID, msg.Role, content, now, ordinal,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return 0, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return msgID, nil
}

// LoadMessages loads all of a session's messages in insertion order.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]easel.Message, error) {
	return s.loadFrom(ctx, sessionID, 0)
}

// LoadMessagesFrom loads messages with id >= fromID in insertion order.
func (s *Store) LoadMessagesFrom(ctx context.Context, sessionID string, fromID int64) ([]easel.Message, error) {
	return s.loadFrom(ctx, sessionID, fromID)
}

func (s *Store) loadFrom(ctx context.Context, sessionID string, fromID int64) ([]easel.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, ordinal, created_at FROM messages WHERE session_id = ? AND id >= ? ORDER BY id",
		sessionID, fromID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []easel.Message
	for rows.Next() {
		var (
			id, createdAt int64
			ordinal       int
			role, content string
		)
		if err := rows.Scan(&id, &role, &content, &ordinal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg := easel.DecodeContent(role, content)
		msg.ID = id
		msg.Ordinal = ordinal
		msg.CreatedAt = createdAt
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SaveMessages bulk-replaces a session's messages. Legacy path: clears
// and re-inserts with fresh ordinals.
func (s *Store) SaveMessages(ctx context.Context, sessionID string, messages []easel.Message) error {
	now := easel.NowUnix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, msg := range messages {
		content, err := msg.EncodeContent()
		if err != nil {
			return fmt.Errorf("encode content: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO messages (session_id, role, content, created_at, ordinal) VALUES (?, ?, ?, ?, ?)",
			sessionID, msg.Role, content, now, i,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// GetSessionMeta returns one session's metadata.
func (s *Store) GetSessionMeta(ctx context.Context, id string) (easel.SessionMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at, parent_session_id, summary_message_id,
		        total_input_tokens, total_output_tokens
		 FROM sessions WHERE id = ?`, id)
	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return easel.SessionMeta{}, fmt.Errorf("session %s not found", id)
	}
	return meta, err
}

// UpdateSessionMeta updates the allowed metadata fields and updated_at.
func (s *Store) UpdateSessionMeta(ctx context.Context, id string, update easel.MetaUpdate) error {
	var sets []string
	var args []any
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.SummaryMessageID != nil {
		sets = append(sets, "summary_message_id = ?")
		args = append(args, *update.SummaryMessageID)
	}
	if update.TotalInputTokens != nil {
		sets = append(sets, "total_input_tokens = ?")
		args = append(args, *update.TotalInputTokens)
	}
	if update.TotalOutputTokens != nil {
		sets = append(sets, "total_output_tokens = ?")
		args = append(args, *update.TotalOutputTokens)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, easel.NowUnix(), id)

	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update session meta: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (easel.SessionMeta, error) {
	var meta easel.SessionMeta
	var parent sql.NullString
	var summaryID sql.NullInt64
	err := row.Scan(&meta.ID, &meta.Title, &meta.CreatedAt, &meta.UpdatedAt,
		&parent, &summaryID, &meta.TotalInputTokens, &meta.TotalOutputTokens)
	if err != nil {
		if err == sql.ErrNoRows {
			return meta, err
		}
		return meta, fmt.Errorf("scan session: %w", err)
	}
	meta.ParentSessionID = parent.String
	meta.SummaryMessageID = summaryID.Int64
	return meta, nil
}
