package easel

import "context"

// SessionMeta is the durable metadata row for one session.
// SummaryMessageID is 0 when no summary checkpoint exists;
// ParentSessionID is empty for top-level sessions.
type SessionMeta struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
	ParentSessionID   string `json:"parent_session_id,omitempty"`
	SummaryMessageID  int64  `json:"summary_message_id,omitempty"`
	TotalInputTokens  int    `json:"total_input_tokens"`
	TotalOutputTokens int    `json:"total_output_tokens"`
}

// MetaUpdate selects session metadata fields to change. Nil fields are
// left untouched; only the fields here may ever be updated.
type MetaUpdate struct {
	Title             *string
	SummaryMessageID  *int64
	TotalInputTokens  *int
	TotalOutputTokens *int
}

// SessionStore is durable, append-only conversation storage. Writes
// within one session are serialized; operations on different sessions
// may run concurrently. Failures propagate to the caller — the store
// has no retry logic of its own.
type SessionStore interface {
	CreateSession(ctx context.Context, title string) (string, error)
	// CreateChildSession creates a sub-agent session hidden from
	// top-level listings.
	CreateChildSession(ctx context.Context, parentID, title string) (string, error)
	ListSessions(ctx context.Context) ([]SessionMeta, error)
	// DeleteSession removes a session and cascades to its messages.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage appends one message, assigning the next ordinal
	// atomically with insertion. Returns the new message id.
	AppendMessage(ctx context.Context, sessionID string, msg Message) (int64, error)
	LoadMessages(ctx context.Context, sessionID string) ([]Message, error)
	// LoadMessagesFrom loads messages with id >= fromID, in insertion
	// order. Used to resume from a summary checkpoint.
	LoadMessagesFrom(ctx context.Context, sessionID string, fromID int64) ([]Message, error)
	// SaveMessages bulk-replaces a session's messages (legacy path).
	SaveMessages(ctx context.Context, sessionID string, messages []Message) error

	GetSessionMeta(ctx context.Context, id string) (SessionMeta, error)
	UpdateSessionMeta(ctx context.Context, id string, update MetaUpdate) error

	Close() error
}
