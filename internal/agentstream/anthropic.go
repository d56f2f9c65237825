package agentstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/reliability"
	"github.com/ent0n29/scribe/internal/transcript"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
)

// AnthropicSource streams turns through the Anthropic Messages API.
type AnthropicSource struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

func NewAnthropicSource(apiKey, model string, maxTokens int) *AnthropicSource {
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicSource{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (s *AnthropicSource) StreamTurn(ctx context.Context, req TurnRequest, onEvent EventHandler) (TurnResult, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages:  encodeHistory(req),
	}

	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var msg sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return TurnResult{}, fmt.Errorf("accumulate stream event: %w", err)
		}
		ev := translateEvent(event)
		if ev == nil {
			continue
		}
		if onEvent != nil {
			if err := onEvent(ev); err != nil {
				return TurnResult{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return TurnResult{}, ctx.Err()
		}
		return TurnResult{}, reliability.StreamFailure{Kind: "connection_lost", Err: err}
	}

	return resultFromMessage(msg), nil
}

func encodeHistory(req TurnRequest) []sdk.MessageParam {
	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, h := range req.History {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		if h.Role == transcript.RoleAssistant {
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(h.Content)))
			continue
		}
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(h.Content)))
	}
	return append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)))
}

// translateEvent maps one SDK stream event onto the wire-agnostic event
// union. Events the engine has no use for map to nil.
func translateEvent(event sdk.MessageStreamEventUnion) protocol.Event {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		block := protocol.ContentBlock{Type: protocol.BlockTypeText}
		if tool, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			block = protocol.ContentBlock{
				Type:  protocol.BlockTypeToolUse,
				ID:    tool.ID,
				Name:  tool.Name,
				Input: json.RawMessage(tool.Input),
			}
		}
		return protocol.ContentBlockStart{Index: int(ev.Index), Block: block}
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return protocol.ContentBlockDelta{
				Index: int(ev.Index),
				Delta: protocol.BlockDelta{Type: protocol.DeltaTypeText, Text: delta.Text},
			}
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			return protocol.ContentBlockDelta{
				Index: int(ev.Index),
				Delta: protocol.BlockDelta{Type: protocol.DeltaTypeInputJSON, PartialJSON: delta.PartialJSON},
			}
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		return protocol.ContentBlockStop{Index: int(ev.Index)}
	case sdk.MessageStopEvent:
		return protocol.MessageStop{}
	default:
		return nil
	}
}

func resultFromMessage(msg sdk.Message) TurnResult {
	var text strings.Builder
	var calls []transcript.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use", "server_tool_use":
			call := transcript.ToolCall{
				ID:     block.ID,
				Name:   block.Name,
				Status: transcript.ToolSuccess,
			}
			var input map[string]any
			if err := json.Unmarshal(block.Input, &input); err == nil {
				call.Input = input
			}
			calls = append(calls, call)
		}
	}
	final := text.String()
	return TurnResult{Text: &final, ToolCalls: calls}
}
