package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/scribe/internal/agentstream"
	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/conversation"
	"github.com/ent0n29/scribe/internal/memory"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/reliability"
)

const maxTurnRetries = 2

type Server struct {
	cfg      config.Config
	manager  *conversation.Manager
	store    memory.Store
	source   agentstream.Source
	metrics  *observability.Metrics
	hub      *hub
	upgrader websocket.Upgrader

	mu    sync.Mutex
	turns map[string]*runningTurn
}

type runningTurn struct {
	handle conversation.TurnHandle
	cancel context.CancelFunc
}

func New(cfg config.Config, manager *conversation.Manager, store memory.Store, source agentstream.Source, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		store:   store,
		source:  source,
		metrics: metrics,
		hub:     newHub(metrics),
		turns:   make(map[string]*runningTurn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin, so other websites cannot drive the renderer feed if the
				// service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	manager.SetSink(s.hub)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Post("/v1/conversations/{id}/end", s.handleEndConversation)
	r.Post("/v1/conversations/{id}/activate", s.handleActivateConversation)
	r.Get("/v1/conversations/{id}/transcript", s.handleGetTranscript)
	r.Get("/v1/conversations/{id}/history", s.handleGetHistory)
	r.Post("/v1/conversations/{id}/messages", s.handlePostMessage)
	r.Post("/v1/conversations/{id}/abort", s.handleAbortTurn)
	r.Get("/v1/conversations/ws", s.handleTranscriptWS)
	r.Get("/v1/perf/turns", s.handlePerfTurns)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ready",
		"store_mode":           s.storeMode(),
		"active_conversations": s.manager.ActiveCount(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Activate bool `json:"activate"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	conv := s.manager.Create()
	if req.Activate {
		_ = s.manager.Activate(conv.ID)
		conv, _ = s.manager.Get(conv.ID)
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.manager.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.cancelTurn(id)
	conv, err := s.manager.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleActivateConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Activate(id); err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	conv, _ := s.manager.Get(id)
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	segments, err := s.manager.Transcript(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, protocol.TranscriptSnapshot{
		Type:           protocol.TypeTranscriptSnapshot,
		ConversationID: id,
		Segments:       segmentPayloads(segments),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store == nil {
		respondJSON(w, http.StatusOK, []memory.MessageRecord{})
		return
	}
	records, err := s.store.History(r.Context(), id, s.cfg.HistoryReplayMax)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if records == nil {
		records = []memory.MessageRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "content is required")
		return
	}

	history := s.loadHistory(r.Context(), id)

	userSeg, err := s.manager.AppendUserMessage(id, req.Content)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	s.saveUserMessage(r.Context(), id, userSeg.ID, req.Content)

	handle, err := s.manager.BeginTurn(id)
	if err != nil {
		respondConversationError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.turns[id] = &runningTurn{handle: handle, cancel: cancel}
	s.mu.Unlock()

	go s.driveTurn(ctx, handle, req.Content, history)

	respondJSON(w, http.StatusAccepted, map[string]any{
		"conversation_id": id,
		"turn_id":         handle.TurnID,
		"user_segment_id": userSeg.ID,
	})
}

func (s *Server) handleAbortTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cancelTurn(id) {
		respondError(w, http.StatusConflict, "no_active_turn", "no turn in flight")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"conversation_id": id, "status": "aborting"})
}

// driveTurn runs one agent turn to completion: it pumps source events into the
// manager, retries retryable upstream failures while the turn is still empty,
// and settles the turn as completed, aborted, or failed.
func (s *Server) driveTurn(ctx context.Context, h conversation.TurnHandle, prompt string, history []agentstream.HistoryMessage) {
	defer s.clearTurn(h)

	req := agentstream.TurnRequest{
		ConversationID: h.ConversationID,
		TurnID:         h.TurnID,
		Prompt:         prompt,
		History:        history,
	}

	var (
		result agentstream.TurnResult
		err    error
	)
	delivered := false
	for attempt := 0; ; attempt++ {
		result, err = s.source.StreamTurn(ctx, req, func(ev protocol.Event) error {
			delivered = true
			return s.manager.HandleEvent(h, ev, time.Now().UTC())
		})
		if err == nil {
			break
		}
		// Reconnecting mid-turn would replay deltas into a transcript that
		// already holds them, so retries stop once anything was delivered.
		if delivered || attempt >= maxTurnRetries || !reliability.IsRetryableStreamFailure(err) {
			break
		}
		if s.metrics != nil {
			s.metrics.SourceErrors.WithLabelValues(sourceName(s.source), "retried").Inc()
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)):
			continue
		}
		break
	}

	now := time.Now().UTC()
	switch {
	case err == nil:
		if ferr := s.manager.FinishTurn(h, result.Text, result.ToolCalls, conversation.ReasonCompleted, now); ferr != nil && !errors.Is(ferr, conversation.ErrStaleTurn) {
			log.Printf("finish turn %s: %v", h.TurnID, ferr)
		}
	case reliability.IsAbort(err):
		if aerr := s.manager.AbortTurn(h, now); aerr != nil && !errors.Is(aerr, conversation.ErrStaleTurn) {
			log.Printf("abort turn %s: %v", h.TurnID, aerr)
		}
	default:
		log.Printf("turn %s failed: %v", h.TurnID, err)
		if s.metrics != nil {
			s.metrics.SourceErrors.WithLabelValues(sourceName(s.source), failureKind(err)).Inc()
		}
		if ferr := s.manager.FinishTurn(h, nil, nil, conversation.ReasonFailed, now); ferr != nil && !errors.Is(ferr, conversation.ErrStaleTurn) {
			log.Printf("finish failed turn %s: %v", h.TurnID, ferr)
		}
	}
}

// cancelTurn cancels the conversation's in-flight turn, reporting whether one
// was running.
func (s *Server) cancelTurn(conversationID string) bool {
	s.mu.Lock()
	rt, ok := s.turns[conversationID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	rt.cancel()
	return true
}

func (s *Server) clearTurn(h conversation.TurnHandle) {
	s.mu.Lock()
	if rt, ok := s.turns[h.ConversationID]; ok && rt.handle.TurnID == h.TurnID {
		rt.cancel()
		delete(s.turns, h.ConversationID)
	}
	s.mu.Unlock()
}

func (s *Server) loadHistory(ctx context.Context, conversationID string) []agentstream.HistoryMessage {
	if s.store == nil || s.cfg.HistoryReplayMax == 0 {
		return nil
	}
	records, err := s.store.History(ctx, conversationID, s.cfg.HistoryReplayMax)
	if err != nil {
		if s.metrics != nil {
			s.metrics.StoreErrors.WithLabelValues(s.storeMode()).Inc()
		}
		log.Printf("history load for %s: %v", conversationID, err)
		return nil
	}
	out := make([]agentstream.HistoryMessage, 0, len(records))
	for _, rec := range records {
		if rec.Content == "" {
			continue
		}
		out = append(out, agentstream.HistoryMessage{Role: rec.Role, Content: rec.Content})
	}
	return out
}

func (s *Server) saveUserMessage(ctx context.Context, conversationID, segmentID, content string) {
	if s.store == nil {
		return
	}
	err := s.store.SaveMessage(ctx, memory.MessageRecord{
		ID:             segmentID,
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.StoreErrors.WithLabelValues(s.storeMode()).Inc()
		}
		log.Printf("save user message for %s: %v", conversationID, err)
	}
}

func (s *Server) storeMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

func respondConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
	case errors.Is(err, conversation.ErrEnded):
		respondError(w, http.StatusGone, "conversation_ended", err.Error())
	case errors.Is(err, conversation.ErrTurnInProgress):
		respondError(w, http.StatusConflict, "turn_in_progress", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func sourceName(src agentstream.Source) string {
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

func failureKind(err error) string {
	var f reliability.StreamFailure
	if errors.As(err, &f) {
		return f.Kind
	}
	return "error"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
