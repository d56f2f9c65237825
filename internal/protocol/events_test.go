package protocol

import (
	"errors"
	"testing"
)

func TestParseStreamEvent(t *testing.T) {
	ev, err := ParseStreamEvent([]byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"search"}}`))
	if err != nil {
		t.Fatalf("ParseStreamEvent() error = %v", err)
	}
	start, ok := ev.(ContentBlockStart)
	if !ok {
		t.Fatalf("event = %T, want ContentBlockStart", ev)
	}
	if start.Index != 1 || start.Block.ID != "toolu_01" || !start.Block.IsToolUse() {
		t.Fatalf("start = %+v, want tool_use block", start)
	}

	ev, err = ParseStreamEvent([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseStreamEvent() error = %v", err)
	}
	delta, ok := ev.(ContentBlockDelta)
	if !ok || delta.Delta.Type != DeltaTypeText || delta.Delta.Text != "hi" {
		t.Fatalf("delta = %+v, want text delta", ev)
	}

	ev, err = ParseStreamEvent([]byte(`{"type":"message_stop"}`))
	if err != nil {
		t.Fatalf("ParseStreamEvent() error = %v", err)
	}
	if _, ok := ev.(MessageStop); !ok {
		t.Fatalf("event = %T, want MessageStop", ev)
	}
}

func TestParseStreamEventUnknownType(t *testing.T) {
	ev, err := ParseStreamEvent([]byte(`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`))
	if err != nil {
		t.Fatalf("ParseStreamEvent() error = %v, want unknown tags tolerated", err)
	}
	unknown, ok := ev.(Unknown)
	if !ok || unknown.Type != "message_delta" {
		t.Fatalf("event = %+v, want Unknown preserving the tag", ev)
	}
}

func TestParseStreamEventBadEnvelope(t *testing.T) {
	if _, err := ParseStreamEvent([]byte(`not json`)); err == nil {
		t.Fatalf("ParseStreamEvent() error = nil, want envelope error")
	}
}

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_control","conversation_id":"c1","action":"activate"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ctl, ok := msg.(ClientControl)
	if !ok || ctl.ConversationID != "c1" || ctl.Action != "activate" {
		t.Fatalf("message = %+v, want client_control", msg)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"activate"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want missing conversation_id rejected")
	}

	_, err = ParseClientMessage([]byte(`{"type":"segment_upsert"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType for server-only types", err)
	}
}
