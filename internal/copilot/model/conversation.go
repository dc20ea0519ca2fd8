package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type HistoryRepository interface {
	// AddMessage appends a message to the session's history log.
	AddMessage(ctx context.Context, sessionID string, message *schema.Message) error

	// LoadHistory retrieves up to limit most recent messages for a session.
	// limit <= 0 loads the whole log.
	LoadHistory(ctx context.Context, sessionID string, limit int) (*SessionHistory, error)

	// ClearHistory removes all history for a session.
	ClearHistory(ctx context.Context, sessionID string) error

	// GetMessageCount returns the number of stored messages for a session.
	GetMessageCount(ctx context.Context, sessionID string) (int, error)
}

// SessionHistory represents loaded session data with metadata.
type SessionHistory struct {
	SessionID string
	Messages  []*schema.Message
}
