package agentstream

import (
	"testing"

	"github.com/ent0n29/scribe/internal/transcript"
)

func TestEventDecoderReassemblesTornObjects(t *testing.T) {
	d := &eventDecoder{}

	out := d.Consume([]byte(`log noise {"type":"content_block_delta","index":0,"delta":{"type":"text_del`))
	if len(out) != 0 {
		t.Fatalf("objects from torn chunk = %d, want 0", len(out))
	}

	out = d.Consume([]byte(`ta","text":"hi"}}{"type":"content_bl`))
	if len(out) != 1 {
		t.Fatalf("objects after completing chunk = %d, want 1", len(out))
	}
	if string(out[0]) != `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}` {
		t.Fatalf("object = %s", out[0])
	}

	out = d.Consume([]byte(`ock_stop","index":0}`))
	if len(out) != 1 || string(out[0]) != `{"type":"content_block_stop","index":0}` {
		t.Fatalf("second object = %v", out)
	}
}

func TestEventDecoderIgnoresBracesInsideStrings(t *testing.T) {
	d := &eventDecoder{}
	out := d.Consume([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a } b \" {"}}`))
	if len(out) != 1 {
		t.Fatalf("objects = %d, want 1 despite braces inside the string", len(out))
	}
}

func TestParseCLIResult(t *testing.T) {
	raw := []byte(`{
		"type": "result",
		"text": "final answer",
		"tool_calls": [
			{"id": "toolu_01", "name": "bash", "status": "success", "output": "ok", "exit_code": 0},
			{"id": "toolu_02", "name": "fetch", "status": "weird"}
		]
	}`)

	res, err := parseCLIResult(raw)
	if err != nil {
		t.Fatalf("parseCLIResult() error = %v", err)
	}
	if res.Text == nil || *res.Text != "final answer" {
		t.Fatalf("Text = %v, want final answer", res.Text)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(res.ToolCalls))
	}
	first := res.ToolCalls[0]
	if first.Status != transcript.ToolSuccess || first.ExitCode == nil || *first.ExitCode != 0 {
		t.Fatalf("first call = %+v, want success with exit code 0", first)
	}
	if res.ToolCalls[1].Status != transcript.ToolSuccess {
		t.Fatalf("unknown status = %q, want coerced to success", res.ToolCalls[1].Status)
	}
}

func TestParseCLIResultErrorBody(t *testing.T) {
	if _, err := parseCLIResult([]byte(`{"type":"result","is_error":true,"error":"overloaded"}`)); err == nil {
		t.Fatalf("parseCLIResult() error = nil, want turn failure")
	}
}
