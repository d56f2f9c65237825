package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/scribe/internal/conversation"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

const outboundQueueSize = 256

// hub fans transcript notifications for the displayed conversation out to
// every connected renderer. It is the manager's Sink; the manager calls it
// outside its own lock.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	metrics *observability.Metrics
}

type wsClient struct {
	outbound chan any
}

func newHub(metrics *observability.Metrics) *hub {
	return &hub{clients: make(map[*wsClient]struct{}), metrics: metrics}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast queues msg on every client, dropping per client when its outbound
// queue is saturated. A renderer that falls behind loses intermediate upserts,
// not correctness: the next upsert for a segment id carries the full segment.
func (h *hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.outbound <- msg:
		default:
			if h.metrics != nil {
				if t, ok := messageTypeOf(msg); ok {
					h.metrics.WSMessages.WithLabelValues("dropped", string(t)).Inc()
				}
			}
		}
	}
}

func (h *hub) TranscriptSnapshot(conversationID string, segments []transcript.Segment) {
	h.broadcast(protocol.TranscriptSnapshot{
		Type:           protocol.TypeTranscriptSnapshot,
		ConversationID: conversationID,
		Segments:       segmentPayloads(segments),
	})
}

func (h *hub) SegmentUpserted(conversationID string, seg transcript.Segment) {
	h.broadcast(protocol.SegmentUpsert{
		Type:           protocol.TypeSegmentUpsert,
		ConversationID: conversationID,
		Segment:        segmentPayload(seg),
	})
}

func (h *hub) SegmentRemoved(conversationID, segmentID string) {
	h.broadcast(protocol.SegmentRemove{
		Type:           protocol.TypeSegmentRemove,
		ConversationID: conversationID,
		SegmentID:      segmentID,
	})
}

func (h *hub) TurnEnded(conversationID, turnID, reason string) {
	h.broadcast(protocol.TurnEnd{
		Type:           protocol.TypeTurnEnd,
		ConversationID: conversationID,
		TurnID:         turnID,
		Reason:         reason,
	})
}

func (s *Server) handleTranscriptWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &wsClient{outbound: make(chan any, outboundQueueSize)}
	s.hub.register(client)
	defer s.hub.unregister(client)

	// An explicit conversation_id activates that conversation on connect, so
	// the snapshot replay reaches this client before any live upserts.
	if id := strings.TrimSpace(r.URL.Query().Get("conversation_id")); id != "" {
		if err := s.manager.Activate(id); err != nil {
			client.outbound <- protocol.ErrorEvent{
				Type:           protocol.TypeErrorEvent,
				ConversationID: id,
				Code:           "conversation_not_found",
				Source:         "gateway",
				Retryable:      false,
				Detail:         err.Error(),
			}
		}
	}

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-done:
				return
			case msg := <-client.outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				if s.metrics != nil {
					if t, ok := messageTypeOf(msg); ok {
						s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
					}
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case client.outbound <- protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}:
			default:
				// Keep websocket writes single-threaded; drop if the outbound
				// queue is saturated.
			}
			continue
		}
		if s.metrics != nil {
			if t, ok := messageTypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		}
		if ctl, ok := parsed.(protocol.ClientControl); ok {
			s.handleClientControl(client, ctl)
		}
	}

	close(done)
	<-writerDone
}

func (s *Server) handleClientControl(client *wsClient, ctl protocol.ClientControl) {
	var err error
	switch ctl.Action {
	case "activate":
		err = s.manager.Activate(ctl.ConversationID)
	case "abort":
		if !s.cancelTurn(ctl.ConversationID) {
			err = conversation.ErrStaleTurn
		}
	default:
		select {
		case client.outbound <- protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: ctl.ConversationID,
			Code:           "unsupported_action",
			Source:         "gateway",
			Retryable:      false,
			Detail:         "unknown client_control action " + ctl.Action,
		}:
		default:
		}
		return
	}
	if err != nil {
		select {
		case client.outbound <- protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: ctl.ConversationID,
			Code:           ctl.Action + "_failed",
			Source:         "gateway",
			Retryable:      false,
			Detail:         err.Error(),
		}:
		default:
		}
	}
}

func segmentPayloads(segments []transcript.Segment) []protocol.SegmentPayload {
	out := make([]protocol.SegmentPayload, len(segments))
	for i, seg := range segments {
		out[i] = segmentPayload(seg)
	}
	return out
}

func segmentPayload(seg transcript.Segment) protocol.SegmentPayload {
	p := protocol.SegmentPayload{
		ID:          seg.ID,
		Role:        seg.Role,
		Content:     seg.Content,
		Timestamp:   seg.Timestamp,
		IsStreaming: seg.IsStreaming,
	}
	if len(seg.ToolCalls) > 0 {
		p.ToolCalls = make([]protocol.ToolCallPayload, len(seg.ToolCalls))
		for i, call := range seg.ToolCalls {
			p.ToolCalls[i] = toolCallPayload(call)
		}
	}
	return p
}

func toolCallPayload(call transcript.ToolCall) protocol.ToolCallPayload {
	p := protocol.ToolCallPayload{
		ID:        call.ID,
		Name:      call.Name,
		Status:    string(call.Status),
		Output:    call.Output,
		Stdout:    call.Stdout,
		Stderr:    call.Stderr,
		ExitCode:  call.ExitCode,
		ParentID:  call.ParentID,
		StartedAt: call.StartedAt,
		EndedAt:   call.EndedAt,
	}
	if call.Input != nil {
		if raw, err := json.Marshal(call.Input); err == nil {
			p.Input = raw
		}
	}
	return p
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.TranscriptSnapshot:
		return m.Type, true
	case protocol.SegmentUpsert:
		return m.Type, true
	case protocol.SegmentRemove:
		return m.Type, true
	case protocol.TurnEnd:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
