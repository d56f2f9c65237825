package agentstream

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

func TestMockSourceDrivesFullSegmentation(t *testing.T) {
	src := NewMockSource()
	acc := transcript.NewAccumulator(time.Nanosecond)
	tr := transcript.NewTranscript()
	turn := transcript.NewTurn("c1", nil)
	turn.Begin(tr, time.Now().UTC())

	now := time.Now().UTC()
	req := TurnRequest{ConversationID: "c1", TurnID: "t1", Prompt: "weather in Rome"}
	res, err := src.StreamTurn(context.Background(), req, func(ev protocol.Event) error {
		now = now.Add(time.Millisecond)
		if snap, ok := acc.Update("t1", ev, now); ok {
			turn.Apply(tr, snap)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTurn() error = %v", err)
	}

	final := acc.Finalize("t1", res.Text, res.ToolCalls, now.Add(time.Second))
	turn.Finalize(tr, final)

	segs := tr.Segments()
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want base + continuation after tool interleave", len(segs))
	}
	if segs[0].Content != "Let me check that for you." {
		t.Fatalf("base content = %q", segs[0].Content)
	}
	if len(segs[0].ToolCalls) != 1 {
		t.Fatalf("base tool calls = %+v, want the search call", segs[0].ToolCalls)
	}
	call := segs[0].ToolCalls[0]
	if call.Status != transcript.ToolSuccess || call.Output != "3 results" {
		t.Fatalf("reconciled call = %+v, want success with output", call)
	}
	if call.Input["query"] != "weather in Rome" {
		t.Fatalf("call input = %v, want streamed query", call.Input)
	}
	if segs[1].Content == "" || segs[1].IsStreaming {
		t.Fatalf("continuation = %+v, want finalized follow-up text", segs[1])
	}
}

func TestMockSourceHonorsCancellation(t *testing.T) {
	src := NewMockSource()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.StreamTurn(ctx, TurnRequest{ConversationID: "c1", TurnID: "t1"}, nil)
	if err == nil {
		t.Fatalf("StreamTurn() error = nil, want context error")
	}
}

func TestNewSourceModeSelection(t *testing.T) {
	if _, err := NewSource(Config{Mode: "anthropic"}); err == nil {
		t.Fatalf("anthropic mode without key should error")
	}
	if _, err := NewSource(Config{Mode: "cli"}); err == nil {
		t.Fatalf("cli mode without path should error")
	}
	if _, err := NewSource(Config{Mode: "bogus"}); err == nil {
		t.Fatalf("unknown mode should error")
	}
	src, err := NewSource(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if _, ok := src.(*MockSource); !ok {
		t.Fatalf("auto with nothing configured = %T, want mock", src)
	}
}
