package protocol

import (
	"encoding/json"
	"fmt"
)

// StreamEventType discriminates partial stream events from the agent transport.
type StreamEventType string

const (
	TypeContentBlockStart StreamEventType = "content_block_start"
	TypeContentBlockDelta StreamEventType = "content_block_delta"
	TypeContentBlockStop  StreamEventType = "content_block_stop"
	TypeMessageStop       StreamEventType = "message_stop"
)

// Delta type tags inside a content_block_delta event.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// Content block type tags inside a content_block_start event.
const (
	BlockTypeText          = "text"
	BlockTypeToolUse       = "tool_use"
	BlockTypeServerToolUse = "server_tool_use"
)

// Event is the closed union of stream events the engine consumes.
// Unknown wire types parse into Unknown so consumers can no-op explicitly.
type Event interface {
	EventType() StreamEventType
}

// ContentBlock describes the block opened by a content_block_start event.
type ContentBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// IsToolUse reports whether the block carries a tool invocation.
func (b ContentBlock) IsToolUse() bool {
	return b.Type == BlockTypeToolUse || b.Type == BlockTypeServerToolUse
}

// ContentBlockStart opens a new content block at Index.
type ContentBlockStart struct {
	Index int          `json:"index"`
	Block ContentBlock `json:"content_block"`
}

func (ContentBlockStart) EventType() StreamEventType { return TypeContentBlockStart }

// BlockDelta is the inner payload of a content_block_delta event.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockDelta carries incremental content for the block at Index.
type ContentBlockDelta struct {
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

func (ContentBlockDelta) EventType() StreamEventType { return TypeContentBlockDelta }

// ContentBlockStop closes the block at Index.
type ContentBlockStop struct {
	Index int `json:"index"`
}

func (ContentBlockStop) EventType() StreamEventType { return TypeContentBlockStop }

// MessageStop marks the end of the streamed message.
type MessageStop struct{}

func (MessageStop) EventType() StreamEventType { return TypeMessageStop }

// Unknown preserves an unrecognized event tag. Consumers treat it as a no-op.
type Unknown struct {
	Type string `json:"type"`
}

func (u Unknown) EventType() StreamEventType { return StreamEventType(u.Type) }

// ParseStreamEvent decodes one raw transport event into the Event union.
// Unrecognized type tags are not an error; they decode into Unknown.
func ParseStreamEvent(raw []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid stream event envelope: %w", err)
	}

	switch StreamEventType(env.Type) {
	case TypeContentBlockStart:
		var ev ContentBlockStart
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeContentBlockDelta:
		var ev ContentBlockDelta
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeContentBlockStop:
		var ev ContentBlockStop
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeMessageStop:
		return MessageStop{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}
