// Package agentstream produces the raw event stream for one agent turn. Each
// Source speaks one transport (Anthropic API, local CLI, mock) and normalizes
// it into protocol events plus an authoritative end-of-turn result.
package agentstream

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

// HistoryMessage is one prior finalized message replayed to the agent.
type HistoryMessage struct {
	Role    string
	Content string
}

// TurnRequest carries everything a source needs to run one turn.
type TurnRequest struct {
	ConversationID string
	TurnID         string
	Prompt         string
	History        []HistoryMessage
}

// TurnResult is the authoritative end-of-turn outcome. A nil Text means the
// transport reported no final text and the streamed accumulation stands.
type TurnResult struct {
	Text      *string
	ToolCalls []transcript.ToolCall
}

// EventHandler receives normalized stream events in arrival order. Returning
// an error stops the turn.
type EventHandler func(ev protocol.Event) error

// Source streams one agent turn. StreamTurn blocks until the turn finishes,
// fails, or ctx is cancelled.
type Source interface {
	StreamTurn(ctx context.Context, req TurnRequest, onEvent EventHandler) (TurnResult, error)
}

// Config controls source construction.
type Config struct {
	Mode            string
	CLIPath         string
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int
}

// NewSource builds the source for the configured mode. "auto" prefers the
// Anthropic API when a key is present, then a working CLI binary, then mock.
func NewSource(cfg Config) (Source, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoSource(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic api key is required for anthropic mode")
		}
		return NewAnthropicSource(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("agent CLI path is required for cli mode")
		}
		return NewCLISource(cfg.CLIPath), nil
	case "mock":
		return NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unsupported agent source mode %q", cfg.Mode)
	}
}

func newAutoSource(cfg Config) Source {
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		return NewAnthropicSource(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.MaxTokens)
	}
	cliPath := strings.TrimSpace(cfg.CLIPath)
	if cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			return NewCLISource(cliPath)
		}
	}
	return NewMockSource()
}
