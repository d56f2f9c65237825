package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/transcript"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sinkUpsert struct {
	conversationID string
	seg            transcript.Segment
}

type recordingSink struct {
	snapshots []string
	upserts   []sinkUpsert
	removed   []string
	turnEnds  []string
}

func (s *recordingSink) TranscriptSnapshot(conversationID string, _ []transcript.Segment) {
	s.snapshots = append(s.snapshots, conversationID)
}

func (s *recordingSink) SegmentUpserted(conversationID string, seg transcript.Segment) {
	s.upserts = append(s.upserts, sinkUpsert{conversationID, seg})
}

func (s *recordingSink) SegmentRemoved(_, segmentID string) {
	s.removed = append(s.removed, segmentID)
}

func (s *recordingSink) TurnEnded(conversationID, _, reason string) {
	s.turnEnds = append(s.turnEnds, conversationID+"/"+reason)
}

func textEvent(text string) protocol.Event {
	return protocol.ContentBlockDelta{
		Index: 0,
		Delta: protocol.BlockDelta{Type: protocol.DeltaTypeText, Text: text},
	}
}

func newTestManager() (*Manager, *recordingSink) {
	m := NewManager(time.Minute, time.Nanosecond)
	sink := &recordingSink{}
	m.SetSink(sink)
	return m, sink
}

func TestManagerCreateActivateEnd(t *testing.T) {
	m, sink := newTestManager()
	c := m.Create()
	if c.ID == "" || c.Status != StatusActive {
		t.Fatalf("created conversation = %+v", c)
	}

	if err := m.Activate(c.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if m.DisplayedID() != c.ID {
		t.Fatalf("DisplayedID() = %q, want %q", m.DisplayedID(), c.ID)
	}
	if len(sink.snapshots) != 1 {
		t.Fatalf("snapshots = %d, want full replay on activate", len(sink.snapshots))
	}

	ended, err := m.End(c.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.BeginTurn(c.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("BeginTurn() on ended conversation error = %v, want ErrEnded", err)
	}
}

func TestManagerTurnFlowNotifiesDisplayedSink(t *testing.T) {
	m, sink := newTestManager()
	var records []TurnRecord
	m.SetTurnEndHook(func(r TurnRecord) { records = append(records, r) })

	c := m.Create()
	if err := m.Activate(c.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	h, err := m.BeginTurn(c.ID)
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if len(sink.upserts) != 1 || sink.upserts[0].seg.Content != "" {
		t.Fatalf("upserts after begin = %+v, want one placeholder", sink.upserts)
	}

	if err := m.HandleEvent(h, textEvent("Hello"), base); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if err := m.HandleEvent(h, textEvent(" world"), base.Add(time.Millisecond)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	last := sink.upserts[len(sink.upserts)-1]
	if last.seg.Content != "Hello world" || !last.seg.IsStreaming {
		t.Fatalf("last upsert = %+v, want streaming cumulative text", last.seg)
	}

	if err := m.FinishTurn(h, nil, nil, ReasonCompleted, base.Add(time.Second)); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}
	if len(sink.turnEnds) != 1 || sink.turnEnds[0] != c.ID+"/completed" {
		t.Fatalf("turn ends = %v, want one completed", sink.turnEnds)
	}
	last = sink.upserts[len(sink.upserts)-1]
	if last.seg.IsStreaming {
		t.Fatalf("final upsert still streaming: %+v", last.seg)
	}

	if len(records) != 1 {
		t.Fatalf("turn records = %d, want exactly one per turn", len(records))
	}
	if records[0].Reason != ReasonCompleted || len(records[0].Segments) != 1 {
		t.Fatalf("record = %+v, want completed with one segment", records[0])
	}
	if records[0].Segments[0].Content != "Hello world" {
		t.Fatalf("recorded content = %q, want %q", records[0].Segments[0].Content, "Hello world")
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "" || got.TurnCount != 1 {
		t.Fatalf("conversation after turn = %+v, want cleared turn id", got)
	}
}

func TestManagerBackgroundConversationStaysSilent(t *testing.T) {
	m, sink := newTestManager()

	displayed := m.Create()
	background := m.Create()
	if err := m.Activate(displayed.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if _, err := m.AppendUserMessage(displayed.ID, "visible question"); err != nil {
		t.Fatalf("AppendUserMessage() error = %v", err)
	}
	displayedBefore, _ := m.Transcript(displayed.ID)
	upsertsBefore := len(sink.upserts)

	h, err := m.BeginTurn(background.ID)
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	m.HandleEvent(h, textEvent("background answer"), base)
	if err := m.FinishTurn(h, nil, nil, ReasonCompleted, base.Add(time.Second)); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}

	if len(sink.upserts) != upsertsBefore || len(sink.turnEnds) != 0 {
		t.Fatalf("sink received background traffic: upserts=%d turnEnds=%v", len(sink.upserts)-upsertsBefore, sink.turnEnds)
	}

	displayedAfter, _ := m.Transcript(displayed.ID)
	if len(displayedAfter) != len(displayedBefore) {
		t.Fatalf("displayed transcript changed: %d -> %d segments", len(displayedBefore), len(displayedAfter))
	}

	// The background conversation still accumulated everything.
	segs, err := m.Transcript(background.ID)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(segs) != 1 || segs[0].Content != "background answer" || segs[0].IsStreaming {
		t.Fatalf("background transcript = %+v, want one finalized segment", segs)
	}
}

func TestManagerStaleHandleDropped(t *testing.T) {
	m, _ := newTestManager()
	c := m.Create()

	h, err := m.BeginTurn(c.ID)
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	m.HandleEvent(h, textEvent("kept"), base)
	if err := m.FinishTurn(h, nil, nil, ReasonCompleted, base.Add(time.Second)); err != nil {
		t.Fatalf("FinishTurn() error = %v", err)
	}

	if err := m.HandleEvent(h, textEvent(" late delta"), base.Add(2*time.Second)); !errors.Is(err, ErrStaleTurn) {
		t.Fatalf("HandleEvent() after finish error = %v, want ErrStaleTurn", err)
	}
	segs, _ := m.Transcript(c.ID)
	if len(segs) != 1 || segs[0].Content != "kept" {
		t.Fatalf("transcript = %+v, want stale delta dropped", segs)
	}
}

func TestManagerAbortBeforeContentRemovesPlaceholder(t *testing.T) {
	m, sink := newTestManager()
	var records []TurnRecord
	m.SetTurnEndHook(func(r TurnRecord) { records = append(records, r) })

	c := m.Create()
	if err := m.Activate(c.ID); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	h, err := m.BeginTurn(c.ID)
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}

	if err := m.AbortTurn(h, base); err != nil {
		t.Fatalf("AbortTurn() error = %v", err)
	}
	if len(sink.removed) != 1 {
		t.Fatalf("removed = %v, want one placeholder removal", sink.removed)
	}
	segs, _ := m.Transcript(c.ID)
	if len(segs) != 0 {
		t.Fatalf("transcript = %+v, want empty after contentless abort", segs)
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want none for contentless abort", records)
	}
}

func TestManagerAbortAfterContentKeepsPartial(t *testing.T) {
	m, _ := newTestManager()
	var records []TurnRecord
	m.SetTurnEndHook(func(r TurnRecord) { records = append(records, r) })

	c := m.Create()
	h, err := m.BeginTurn(c.ID)
	if err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	m.HandleEvent(h, textEvent("partial thought"), base)

	if err := m.AbortTurn(h, base.Add(time.Second)); err != nil {
		t.Fatalf("AbortTurn() error = %v", err)
	}
	segs, _ := m.Transcript(c.ID)
	if len(segs) != 1 || segs[0].Content != "partial thought" || segs[0].IsStreaming {
		t.Fatalf("transcript = %+v, want finalized partial content", segs)
	}
	if len(records) != 1 || records[0].Reason != ReasonAborted {
		t.Fatalf("records = %+v, want one aborted record", records)
	}
}

func TestManagerRejectsConcurrentTurn(t *testing.T) {
	m, _ := newTestManager()
	c := m.Create()

	if _, err := m.BeginTurn(c.ID); err != nil {
		t.Fatalf("BeginTurn() error = %v", err)
	}
	if _, err := m.BeginTurn(c.ID); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("second BeginTurn() error = %v, want ErrTurnInProgress", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30*time.Millisecond, time.Nanosecond)
	var expired []Conversation
	done := make(chan struct{})
	m.SetExpireHook(func(c Conversation) {
		expired = append(expired, c)
		close(done)
	})
	c := m.Create()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor never expired the idle conversation")
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if len(expired) != 1 || expired[0].ID != c.ID {
		t.Fatalf("expired = %+v, want the created conversation", expired)
	}
}
