package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants on the renderer feed.
type MessageType string

const (
	TypeClientControl      MessageType = "client_control"
	TypeTranscriptSnapshot MessageType = "transcript_snapshot"
	TypeSegmentUpsert      MessageType = "segment_upsert"
	TypeSegmentRemove      MessageType = "segment_remove"
	TypeTurnEnd            MessageType = "turn_end"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is the only inbound renderer message: activate switches the
// displayed conversation, abort cancels the conversation's in-flight turn.
type ClientControl struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Action         string      `json:"action"`
}

// ToolCallPayload mirrors a transcript tool-call record on the wire.
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
	Status    string          `json:"status"`
	Output    string          `json:"output,omitempty"`
	Stdout    string          `json:"stdout,omitempty"`
	Stderr    string          `json:"stderr,omitempty"`
	ExitCode  *int            `json:"exit_code,omitempty"`
	ParentID  string          `json:"parent_tool_use_id,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// SegmentPayload mirrors one transcript segment on the wire.
type SegmentPayload struct {
	ID          string            `json:"id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	ToolCalls   []ToolCallPayload `json:"tool_calls,omitempty"`
	IsStreaming bool              `json:"is_streaming"`
}

// TranscriptSnapshot replays the full displayed transcript on (re)connect and
// on conversation switch. Segments are in render order.
type TranscriptSnapshot struct {
	Type           MessageType      `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Segments       []SegmentPayload `json:"segments"`
}

// SegmentUpsert carries one segment update. Renderers append when the id is
// unknown and replace in place when it is known.
type SegmentUpsert struct {
	Type           MessageType    `json:"type"`
	ConversationID string         `json:"conversation_id"`
	Segment        SegmentPayload `json:"segment"`
}

// SegmentRemove retracts a placeholder segment after an aborted empty turn.
type SegmentRemove struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	SegmentID      string      `json:"segment_id"`
}

// TurnEnd signals that a turn finished. Reason is one of
// "completed", "aborted", "failed".
type TurnEnd struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	TurnID         string      `json:"turn_id"`
	Reason         string      `json:"reason"`
}

type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code"`
	Source         string      `json:"source"`
	Retryable      bool        `json:"retryable"`
	Detail         string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
