// Package app assembles the service: config in, a ready-to-serve API plus its
// backing pieces out. The cmd binary stays a thin shell around Build.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/scribe/internal/agentstream"
	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/conversation"
	"github.com/ent0n29/scribe/internal/httpapi"
	"github.com/ent0n29/scribe/internal/memory"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/transcript"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Manager    *conversation.Manager
	Store      memory.Store
	Source     agentstream.Source
	SourceMode string
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("message store init failed: %w", err)
	}

	source, err := agentstream.NewSource(agentstream.Config{
		Mode:            cfg.AgentSourceMode,
		CLIPath:         cfg.AgentCLIPath,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		MaxTokens:       cfg.AgentMaxTokens,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("agent source init failed: %w", err)
	}

	manager := conversation.NewManager(cfg.ConversationInactivityTimeout, cfg.ThrottleInterval)
	manager.SetMetrics(metrics)
	manager.SetExpireHook(func(conv conversation.Conversation) {
		log.Printf("conversation %s expired after inactivity", conv.ID)
	})
	manager.SetTurnEndHook(func(record conversation.TurnRecord) {
		saveTurn(store, metrics, record)
	})

	api := httpapi.New(cfg, manager, store, source, metrics)

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Manager:    manager,
		Store:      store,
		Source:     source,
		SourceMode: sourceMode(source),
		Metrics:    metrics,
		Cleanup:    store.Close,
	}, nil
}

// saveTurn persists one finished agent turn as a single assistant message:
// the turn's segment texts joined in render order, with every tool-call card
// attached.
func saveTurn(store memory.Store, metrics *observability.Metrics, record conversation.TurnRecord) {
	var (
		parts []string
		calls []transcript.ToolCall
	)
	for _, seg := range record.Segments {
		if seg.Content != "" {
			parts = append(parts, seg.Content)
		}
		calls = append(calls, seg.ToolCalls...)
	}

	var rawCalls json.RawMessage
	if len(calls) > 0 {
		if encoded, err := json.Marshal(calls); err == nil {
			rawCalls = encoded
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := store.SaveMessage(ctx, memory.MessageRecord{
		ConversationID: record.ConversationID,
		TurnID:         record.TurnID,
		Role:           transcript.RoleAssistant,
		Content:        strings.Join(parts, "\n\n"),
		ToolCalls:      rawCalls,
		Reason:         record.Reason,
		CreatedAt:      record.EndedAt,
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues(store.Mode()).Inc()
		log.Printf("save turn %s: %v", record.TurnID, err)
	}
}

func sourceMode(src agentstream.Source) string {
	switch src.(type) {
	case *agentstream.AnthropicSource:
		return "anthropic"
	case *agentstream.CLISource:
		return "cli"
	case *agentstream.MockSource:
		return "mock"
	default:
		return "unknown"
	}
}
