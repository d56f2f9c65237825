package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

type managed struct {
	meta           Conversation
	tr             *transcript.Transcript
	turn           *transcript.Turn
	acc            *transcript.Accumulator
	turnStartedAt  time.Time
	firstDeltaSeen bool
	firstToolSeen  bool
}

// Manager is the registry of conversations and the single writer of their
// transcripts. It serializes all transcript mutation behind one lock and
// dispatches sink notifications after releasing it.
type Manager struct {
	mu                sync.RWMutex
	convs             map[string]*managed
	displayedID       string
	inactivityTimeout time.Duration
	throttle          time.Duration
	policy            transcript.SplitPolicy
	sink              Sink
	metrics           *observability.Metrics
	onExpire          func(Conversation)
	onTurnEnd         func(TurnRecord)
}

func NewManager(inactivityTimeout, throttle time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		convs:             make(map[string]*managed),
		inactivityTimeout: inactivityTimeout,
		throttle:          throttle,
	}
}

func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

func (m *Manager) SetSplitPolicy(policy transcript.SplitPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

func (m *Manager) SetExpireHook(hook func(Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetTurnEndHook registers the hook called once per finished turn, after the
// transcript reflects the turn's final state. Used for persistence.
func (m *Manager) SetTurnEndHook(hook func(TurnRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTurnEnd = hook
}

func (m *Manager) Create() Conversation {
	now := time.Now().UTC()
	c := &managed{
		meta: Conversation{
			ID:             uuid.NewString(),
			Status:         StatusActive,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		tr: transcript.NewTranscript(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.meta.ID] = c
	if m.metrics != nil {
		m.metrics.ActiveConversations.Inc()
	}
	return c.meta
}

func (m *Manager) Get(conversationID string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.meta, nil
}

// Activate makes conversationID the displayed conversation and replays its
// full transcript to the sink. Updates for every other conversation stop
// reaching the sink until the next Activate.
func (m *Manager) Activate(conversationID string) error {
	m.mu.Lock()
	c, ok := m.convs[conversationID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.displayedID = conversationID
	c.meta.LastActivityAt = time.Now().UTC()
	sink := m.sink
	segments := c.tr.Segments()
	m.mu.Unlock()

	if sink != nil {
		sink.TranscriptSnapshot(conversationID, segments)
	}
	return nil
}

// DisplayedID returns the id of the displayed conversation, or "" when none
// has been activated yet.
func (m *Manager) DisplayedID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.displayedID
}

// Transcript returns a deep-copied snapshot of the conversation's segments.
func (m *Manager) Transcript(conversationID string) ([]transcript.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.tr.Segments(), nil
}

func (m *Manager) End(conversationID string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if c.meta.Status == StatusActive && m.metrics != nil {
		m.metrics.ActiveConversations.Dec()
	}
	c.meta.Status = StatusEnded
	c.meta.ActiveTurnID = ""
	c.meta.LastActivityAt = time.Now().UTC()
	c.turn = nil
	c.acc = nil
	return c.meta, nil
}

// AppendUserMessage appends a finished user segment to the conversation.
func (m *Manager) AppendUserMessage(conversationID, content string) (transcript.Segment, error) {
	m.mu.Lock()
	c, ok := m.convs[conversationID]
	if !ok {
		m.mu.Unlock()
		return transcript.Segment{}, ErrNotFound
	}
	if c.meta.Status != StatusActive {
		m.mu.Unlock()
		return transcript.Segment{}, ErrEnded
	}
	seg := transcript.Segment{
		ID:        uuid.NewString(),
		Role:      transcript.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	c.tr.Upsert(seg)
	c.meta.LastActivityAt = seg.Timestamp
	notify := m.sinkFor(conversationID)
	m.mu.Unlock()

	if notify != nil {
		notify.SegmentUpserted(conversationID, seg)
	}
	return seg, nil
}

// BeginTurn opens a new agent turn on the conversation and appends its
// placeholder segment. One turn per conversation at a time.
func (m *Manager) BeginTurn(conversationID string) (TurnHandle, error) {
	now := time.Now().UTC()

	m.mu.Lock()
	c, ok := m.convs[conversationID]
	if !ok {
		m.mu.Unlock()
		return TurnHandle{}, ErrNotFound
	}
	if c.meta.Status != StatusActive {
		m.mu.Unlock()
		return TurnHandle{}, ErrEnded
	}
	if c.meta.ActiveTurnID != "" {
		m.mu.Unlock()
		return TurnHandle{}, ErrTurnInProgress
	}

	c.turn = transcript.NewTurn(conversationID, m.policy)
	c.acc = transcript.NewAccumulator(m.throttle)
	c.turnStartedAt = now
	c.firstDeltaSeen = false
	c.firstToolSeen = false
	c.meta.ActiveTurnID = c.turn.ID
	c.meta.TurnCount++
	c.meta.LastActivityAt = now
	base := c.turn.Begin(c.tr, now)
	notify := m.sinkFor(conversationID)
	handle := TurnHandle{ConversationID: conversationID, TurnID: c.turn.ID}
	m.mu.Unlock()

	if notify != nil {
		notify.SegmentUpserted(conversationID, base)
	}
	return handle, nil
}

// HandleEvent applies one raw stream event to the turn identified by the
// handle. Events carried by a handle that no longer matches the
// conversation's live turn are dropped with ErrStaleTurn; the transcript is
// never touched by a superseded turn.
func (m *Manager) HandleEvent(h TurnHandle, ev protocol.Event, now time.Time) error {
	m.mu.Lock()
	c, err := m.liveTurn(h)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.metrics != nil {
		m.metrics.StreamEvents.WithLabelValues(string(ev.EventType())).Inc()
	}

	snap, emitted := c.acc.Update(h.TurnID, ev, now)
	if !emitted {
		if m.metrics != nil {
			m.metrics.Snapshots.WithLabelValues("throttled").Inc()
		}
		m.mu.Unlock()
		return nil
	}
	if m.metrics != nil {
		m.metrics.Snapshots.WithLabelValues("emitted").Inc()
		if !c.firstDeltaSeen && snap.Content != "" {
			c.firstDeltaSeen = true
			m.metrics.ObserveTurnStage(observability.StageFirstDelta, now.Sub(c.turnStartedAt))
		}
		if !c.firstToolSeen && len(snap.ToolCalls) > 0 {
			c.firstToolSeen = true
			m.metrics.ObserveTurnStage(observability.StageFirstTool, now.Sub(c.turnStartedAt))
		}
	}

	before := len(c.turn.SegmentIDs())
	changed := c.turn.Apply(c.tr, snap)
	if m.metrics != nil {
		if splits := len(c.turn.SegmentIDs()) - before; splits > 0 {
			m.metrics.SegmentSplits.Add(float64(splits))
		}
	}
	c.meta.LastActivityAt = now
	notify := m.sinkFor(h.ConversationID)
	m.mu.Unlock()

	if notify != nil {
		for _, seg := range changed {
			notify.SegmentUpserted(h.ConversationID, seg)
		}
	}
	return nil
}

// FinishTurn folds the authoritative end-of-turn result into the transcript,
// marks the turn's segments final, and fires the turn-end hook. reason is
// ReasonCompleted or ReasonFailed; aborted turns go through AbortTurn.
func (m *Manager) FinishTurn(h TurnHandle, finalText *string, toolCalls []transcript.ToolCall, reason string, now time.Time) error {
	m.mu.Lock()
	c, err := m.liveTurn(h)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	if m.metrics != nil && len(toolCalls) > 0 {
		seen := make(map[string]bool)
		for _, seg := range m.turnSegments(c) {
			for _, call := range seg.ToolCalls {
				seen[call.ID] = true
			}
		}
		for _, call := range toolCalls {
			if !seen[call.ID] {
				m.metrics.ObserveTurnIndicator("reconcile_fallback")
			}
		}
	}

	final := c.acc.Finalize(h.TurnID, finalText, toolCalls, now)
	changed := c.turn.Finalize(c.tr, final)
	record := TurnRecord{
		ConversationID: h.ConversationID,
		TurnID:         h.TurnID,
		Reason:         reason,
		EndedAt:        now,
		Segments:       m.turnSegments(c),
	}
	if m.metrics != nil {
		m.metrics.ObserveTurnDuration(now.Sub(c.turnStartedAt))
	}
	c.meta.ActiveTurnID = ""
	c.meta.LastActivityAt = now
	c.turn = nil
	c.acc = nil
	notify := m.sinkFor(h.ConversationID)
	hook := m.onTurnEnd
	m.mu.Unlock()

	if notify != nil {
		for _, seg := range changed {
			notify.SegmentUpserted(h.ConversationID, seg)
		}
		notify.TurnEnded(h.ConversationID, h.TurnID, reason)
	}
	if hook != nil {
		hook(record)
	}
	return nil
}

// AbortTurn cancels the in-flight turn. A turn that never produced content
// leaves no trace in the transcript; partial content is kept and marked
// final.
func (m *Manager) AbortTurn(h TurnHandle, now time.Time) error {
	m.mu.Lock()
	c, err := m.liveTurn(h)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	removed, changed := c.turn.Cancel(c.tr)
	var record *TurnRecord
	if c.turn.SawContent() {
		record = &TurnRecord{
			ConversationID: h.ConversationID,
			TurnID:         h.TurnID,
			Reason:         ReasonAborted,
			EndedAt:        now,
			Segments:       m.turnSegments(c),
		}
	}
	c.acc.Finalize(h.TurnID, nil, nil, now)
	c.meta.ActiveTurnID = ""
	c.meta.LastActivityAt = now
	c.turn = nil
	c.acc = nil
	notify := m.sinkFor(h.ConversationID)
	hook := m.onTurnEnd
	m.mu.Unlock()

	if notify != nil {
		for _, id := range removed {
			notify.SegmentRemoved(h.ConversationID, id)
		}
		for _, seg := range changed {
			notify.SegmentUpserted(h.ConversationID, seg)
		}
		notify.TurnEnded(h.ConversationID, h.TurnID, ReasonAborted)
	}
	if hook != nil && record != nil {
		hook(*record)
	}
	return nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.convs {
		if c.meta.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []Conversation

	m.mu.Lock()
	for _, c := range m.convs {
		if c.meta.Status != StatusActive {
			continue
		}
		if now.Sub(c.meta.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.meta.Status = StatusEnded
		c.meta.ActiveTurnID = ""
		c.meta.LastActivityAt = now
		c.turn = nil
		c.acc = nil
		if m.metrics != nil {
			m.metrics.ActiveConversations.Dec()
		}
		expired = append(expired, c.meta)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

// liveTurn resolves the handle to its conversation, or reports why the handle
// is no longer actionable. Callers hold m.mu.
func (m *Manager) liveTurn(h TurnHandle) (*managed, error) {
	c, ok := m.convs[h.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.meta.ActiveTurnID != h.TurnID || c.turn == nil {
		return nil, ErrStaleTurn
	}
	return c, nil
}

// sinkFor returns the sink when conversationID is the displayed conversation,
// nil otherwise. Callers hold m.mu and dispatch after unlocking.
func (m *Manager) sinkFor(conversationID string) Sink {
	if m.sink == nil || m.displayedID != conversationID {
		return nil
	}
	return m.sink
}

func (m *Manager) turnSegments(c *managed) []transcript.Segment {
	ids := c.turn.SegmentIDs()
	out := make([]transcript.Segment, 0, len(ids))
	for _, id := range ids {
		if seg, ok := c.tr.Get(id); ok {
			out = append(out, seg)
		}
	}
	return out
}
