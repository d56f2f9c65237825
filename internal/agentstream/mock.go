package agentstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

// MockSource replays a deterministic turn when no real agent is available:
// introductory text, one tool call streamed as torn JSON, then a follow-up
// paragraph. It exercises the whole segmentation path, splits included.
type MockSource struct{}

func NewMockSource() *MockSource { return &MockSource{} }

func (s *MockSource) StreamTurn(ctx context.Context, req TurnRequest, onEvent EventHandler) (TurnResult, error) {
	emit := func(ev protocol.Event) error {
		// Pace the script like a live stream so consumers see events land at
		// distinct times.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
		if onEvent == nil {
			return nil
		}
		return onEvent(ev)
	}

	intro := "Let me check that for you."
	followup := fmt.Sprintf("Here is what I found about %q.", mockTopic(req.Prompt))
	toolID := "toolu_mock_" + req.TurnID

	script := []protocol.Event{
		protocol.ContentBlockStart{Index: 0, Block: protocol.ContentBlock{Type: protocol.BlockTypeText}},
		protocol.ContentBlockDelta{Index: 0, Delta: protocol.BlockDelta{Type: protocol.DeltaTypeText, Text: intro[:12]}},
		protocol.ContentBlockDelta{Index: 0, Delta: protocol.BlockDelta{Type: protocol.DeltaTypeText, Text: intro[12:]}},
		protocol.ContentBlockStop{Index: 0},
		protocol.ContentBlockStart{Index: 1, Block: protocol.ContentBlock{
			Type: protocol.BlockTypeToolUse, ID: toolID, Name: "search",
		}},
		protocol.ContentBlockDelta{Index: 1, Delta: protocol.BlockDelta{Type: protocol.DeltaTypeInputJSON, PartialJSON: `{"query":`}},
		protocol.ContentBlockDelta{Index: 1, Delta: protocol.BlockDelta{Type: protocol.DeltaTypeInputJSON, PartialJSON: fmt.Sprintf("%q}", mockTopic(req.Prompt))}},
		protocol.ContentBlockStop{Index: 1},
		protocol.ContentBlockStart{Index: 2, Block: protocol.ContentBlock{Type: protocol.BlockTypeText}},
		protocol.ContentBlockDelta{Index: 2, Delta: protocol.BlockDelta{Type: protocol.DeltaTypeText, Text: "\n\n" + followup}},
		protocol.ContentBlockStop{Index: 2},
		protocol.MessageStop{},
	}
	for _, ev := range script {
		if err := emit(ev); err != nil {
			return TurnResult{}, err
		}
	}

	text := intro + "\n\n" + followup
	return TurnResult{
		Text: &text,
		ToolCalls: []transcript.ToolCall{{
			ID:     toolID,
			Name:   "search",
			Input:  map[string]any{"query": mockTopic(req.Prompt)},
			Status: transcript.ToolSuccess,
			Output: "3 results",
		}},
	}, nil
}

func mockTopic(prompt string) string {
	topic := strings.TrimSpace(prompt)
	if topic == "" {
		return "your question"
	}
	if len(topic) > 40 {
		topic = topic[:40]
	}
	return topic
}
