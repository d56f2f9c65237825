package memory

import (
	"context"
	"encoding/json"
	"time"
)

// MessageRecord stores one finalized transcript message. ToolCalls holds the
// JSON-encoded tool-call cards attached to the message, nil when there were
// none.
type MessageRecord struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	TurnID         string          `json:"turn_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store persists finalized transcript messages. Mode names the backing
// backend for health reporting and error labels.
type Store interface {
	SaveMessage(ctx context.Context, record MessageRecord) error
	History(ctx context.Context, conversationID string, limit int) ([]MessageRecord, error)
	Mode() string
	Close() error
}
