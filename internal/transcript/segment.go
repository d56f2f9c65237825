// Package transcript implements the streaming transcript reconciliation
// engine: a pure, synchronous reducer that turns an agent's out-of-order
// partial events into a stable, correctly ordered sequence of transcript
// segments. The Accumulator coalesces raw events into throttled snapshots, a
// Turn decides when tool-call cards force the displayed text to split into a
// frozen segment plus a continuation, and end-of-turn finalization reconciles
// the authoritative tool-call list back into the segments that reference it.
// Nothing in this package performs I/O, spawns goroutines, or locks.
package transcript

import "time"

// Segment roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Segment is one contiguous transcript entry rendered to the user.
type Segment struct {
	ID          string
	Role        string
	Content     string
	Timestamp   time.Time
	ToolCalls   []ToolCall
	IsStreaming bool
}

// Clone returns a copy with independent tool-call records.
func (s Segment) Clone() Segment {
	if s.ToolCalls != nil {
		calls := make([]ToolCall, len(s.ToolCalls))
		for i, call := range s.ToolCalls {
			calls[i] = call.Clone()
		}
		s.ToolCalls = calls
	}
	return s
}

// Transcript is an ordered, id-addressable segment list with upsert
// semantics: an unknown id appends, a known id replaces in place. Render
// order always matches insertion order. The zero value is not usable; call
// NewTranscript.
//
// Transcript is not safe for concurrent use; each conversation's transcript
// is owned by the goroutine driving that conversation's turns.
type Transcript struct {
	segments []Segment
	index    map[string]int
}

func NewTranscript() *Transcript {
	return &Transcript{index: make(map[string]int)}
}

// Upsert inserts or replaces the segment and reports whether it was appended.
func (t *Transcript) Upsert(seg Segment) bool {
	if i, ok := t.index[seg.ID]; ok {
		t.segments[i] = seg.Clone()
		return false
	}
	t.index[seg.ID] = len(t.segments)
	t.segments = append(t.segments, seg.Clone())
	return true
}

// Get returns a copy of the segment with the given id.
func (t *Transcript) Get(id string) (Segment, bool) {
	i, ok := t.index[id]
	if !ok {
		return Segment{}, false
	}
	return t.segments[i].Clone(), true
}

// Remove deletes the segment with the given id, preserving the order of the
// remaining segments.
func (t *Transcript) Remove(id string) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	t.segments = append(t.segments[:i], t.segments[i+1:]...)
	delete(t.index, id)
	for j := i; j < len(t.segments); j++ {
		t.index[t.segments[j].ID] = j
	}
	return true
}

// Segments returns a deep-copied snapshot of all segments in render order.
func (t *Transcript) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	for i, seg := range t.segments {
		out[i] = seg.Clone()
	}
	return out
}

// Len returns the number of segments.
func (t *Transcript) Len() int { return len(t.segments) }
