// Package conversation owns the mutable state around the transcript engine:
// a registry of conversations, each with its own transcript, the single
// displayed conversation, and the lifecycle of in-flight agent turns. All
// renderer-facing notifications flow through a Sink and are emitted only for
// the displayed conversation; background conversations keep accumulating
// silently.
package conversation

import (
	"errors"
	"time"

	"github.com/ent0n29/scribe/internal/transcript"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Turn end reasons reported to sinks and hooks.
const (
	ReasonCompleted = "completed"
	ReasonAborted   = "aborted"
	ReasonFailed    = "failed"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrEnded          = errors.New("conversation ended")
	ErrTurnInProgress = errors.New("turn already in progress")
	ErrStaleTurn      = errors.New("stale turn handle")
)

// Conversation is the externally visible metadata for one conversation.
type Conversation struct {
	ID             string    `json:"conversation_id"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TurnHandle identifies one in-flight turn. Every event delivery carries the
// handle, so updates from a superseded or aborted turn can be recognized and
// dropped instead of corrupting the transcript.
type TurnHandle struct {
	ConversationID string
	TurnID         string
}

// TurnRecord is handed to the turn-end hook once per finished turn, covering
// the turn's final segments. Aborted turns that produced no content are not
// recorded.
type TurnRecord struct {
	ConversationID string
	TurnID         string
	Reason         string
	EndedAt        time.Time
	Segments       []transcript.Segment
}

// Sink receives transcript changes for the displayed conversation. Calls are
// made outside the manager's lock; implementations may block briefly but must
// not call back into the Manager.
type Sink interface {
	TranscriptSnapshot(conversationID string, segments []transcript.Segment)
	SegmentUpserted(conversationID string, seg transcript.Segment)
	SegmentRemoved(conversationID, segmentID string)
	TurnEnded(conversationID, turnID, reason string)
}
