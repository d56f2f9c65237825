package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SplitPolicy decides whether an incoming cumulative text should freeze the
// current segment and open a continuation. toolCount is the number of tool
// calls attached to the segment after merging the latest snapshot.
//
// The default rule is inferred from observed transport behavior, not a
// documented ordering contract, so it is injectable rather than hard-coded.
type SplitPolicy func(toolCount int, current, incoming string) bool

// DefaultSplitPolicy splits once a segment owns at least one tool call and
// the incoming text strictly extends the segment's current content. A
// segment with no text yet never splits; the tool card simply leads it.
func DefaultSplitPolicy(toolCount int, current, incoming string) bool {
	return toolCount > 0 &&
		current != "" &&
		len(incoming) > len(current) &&
		strings.HasPrefix(incoming, current)
}

// Turn owns the per-turn segmentation bookkeeping: the base segment, the
// active continuation, the frozen text prefix, and the append-only ordered
// segment id list. A Turn mutates only segments it created; no two turns
// ever share one.
type Turn struct {
	ID             string
	ConversationID string
	BaseSegmentID  string

	// frozenRaw is the cumulative-text prefix already locked into earlier
	// segments. Tracking the raw prefix (whitespace included) keeps chained
	// splits literal-prefix-correct even though displayed continuations are
	// trimmed.
	frozenRaw string
	split     bool
	activeID  string
	order     []string

	sawContent bool
	policy     SplitPolicy
	newID      func() string
}

// NewTurn creates the bookkeeping for one agent turn owned by conversationID.
func NewTurn(conversationID string, policy SplitPolicy) *Turn {
	if policy == nil {
		policy = DefaultSplitPolicy
	}
	return &Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		policy:         policy,
		newID:          uuid.NewString,
	}
}

// Begin appends the turn's placeholder base segment to the transcript and
// returns it.
func (t *Turn) Begin(tr *Transcript, now time.Time) Segment {
	base := Segment{
		ID:          t.newID(),
		Role:        RoleAssistant,
		Timestamp:   now,
		IsStreaming: true,
	}
	t.BaseSegmentID = base.ID
	t.activeID = base.ID
	t.order = append(t.order, base.ID)
	tr.Upsert(base)
	return base
}

// SegmentIDs returns the append-only ordered segment id list for the turn.
func (t *Turn) SegmentIDs() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// SawContent reports whether any text or tool call has landed this turn.
func (t *Turn) SawContent() bool { return t.sawContent }

// Apply folds an accumulator snapshot into the transcript and returns the
// segments that changed, in the order they changed. Tool calls merge into
// whichever segment owns their id (new ids attach to the segment currently
// responsible for tool attribution); text grows the active segment or
// triggers a split per the turn's policy.
func (t *Turn) Apply(tr *Transcript, snap Segment) []Segment {
	if len(t.order) == 0 {
		return nil
	}
	if snap.Content != "" || len(snap.ToolCalls) > 0 {
		t.sawContent = true
	}

	var changed []Segment
	changed = t.applyToolCalls(tr, snap.ToolCalls, changed)
	if snap.Content != "" {
		changed = t.applyText(tr, snap.Content, snap.Timestamp, changed)
	}
	return changed
}

// Finalize marks every segment of the turn non-streaming after folding in the
// authoritative end-of-turn snapshot, and reconciles its tool-call list into
// the segments that reference each id. Ids no segment has seen attach to the
// last-created segment of the turn.
func (t *Turn) Finalize(tr *Transcript, final Segment) []Segment {
	changed := t.Apply(tr, final)
	for _, id := range t.order {
		seg, ok := tr.Get(id)
		if !ok {
			continue
		}
		if !seg.IsStreaming {
			continue
		}
		seg.IsStreaming = false
		tr.Upsert(seg)
		changed = upsertChanged(changed, seg)
	}
	return changed
}

// Cancel handles an aborted turn. A turn that never produced content removes
// its placeholder segments entirely; otherwise partial content stays and is
// marked non-streaming.
func (t *Turn) Cancel(tr *Transcript) (removed []string, changed []Segment) {
	if !t.sawContent {
		for _, id := range t.order {
			if tr.Remove(id) {
				removed = append(removed, id)
			}
		}
		return removed, nil
	}
	for _, id := range t.order {
		seg, ok := tr.Get(id)
		if !ok || !seg.IsStreaming {
			continue
		}
		seg.IsStreaming = false
		tr.Upsert(seg)
		changed = upsertChanged(changed, seg)
	}
	return nil, changed
}

func (t *Turn) applyToolCalls(tr *Transcript, calls []ToolCall, changed []Segment) []Segment {
	if len(calls) == 0 {
		return changed
	}

	var fresh []ToolCall
	for _, call := range calls {
		ownerID, ok := t.ownerOf(tr, call.ID)
		if !ok {
			fresh = append(fresh, call)
			continue
		}
		seg, ok := tr.Get(ownerID)
		if !ok {
			continue
		}
		seg.ToolCalls = MergeToolCallsForKnownIDs(seg.ToolCalls, []ToolCall{call})
		tr.Upsert(seg)
		changed = upsertChanged(changed, seg)
	}

	if len(fresh) == 0 {
		return changed
	}
	target, ok := tr.Get(t.attributionTarget())
	if !ok {
		return changed
	}
	target.ToolCalls = MergeToolCalls(target.ToolCalls, fresh)
	tr.Upsert(target)
	return upsertChanged(changed, target)
}

func (t *Turn) applyText(tr *Transcript, full string, ts time.Time, changed []Segment) []Segment {
	for {
		raw := full
		if t.split {
			// frozenRaw is a literal prefix of every cumulative text value
			// reported after a split; anything else is a transport anomaly
			// and must not rewrite frozen segments.
			if !strings.HasPrefix(full, t.frozenRaw) {
				return changed
			}
			raw = full[len(t.frozenRaw):]
		}
		rem := strings.TrimLeft(raw, " \t\r\n")
		ws := len(raw) - len(rem)

		if t.split && t.activeID == "" {
			// Frozen with no continuation yet: open one once there is text.
			if strings.TrimSpace(rem) == "" {
				return changed
			}
			seg := Segment{
				ID:          t.newID(),
				Role:        RoleAssistant,
				Content:     rem,
				Timestamp:   ts,
				IsStreaming: true,
			}
			t.activeID = seg.ID
			t.order = append(t.order, seg.ID)
			tr.Upsert(seg)
			return upsertChanged(changed, seg)
		}

		active, ok := tr.Get(t.activeID)
		if !ok {
			return changed
		}

		if t.policy(len(active.ToolCalls), active.Content, rem) {
			// Freeze the active segment; the next pass allocates the
			// continuation from the text beyond it.
			t.frozenRaw = t.frozenRaw + raw[:ws] + active.Content
			t.split = true
			t.activeID = ""
			continue
		}

		merged := MergeStreamingText(active.Content, rem)
		if merged == active.Content {
			return changed
		}
		active.Content = merged
		tr.Upsert(active)
		return upsertChanged(changed, active)
	}
}

// attributionTarget is the segment new tool ids attach to: the active text
// segment, or the last-created segment while a continuation is pending.
func (t *Turn) attributionTarget() string {
	if t.activeID != "" {
		return t.activeID
	}
	return t.order[len(t.order)-1]
}

func (t *Turn) ownerOf(tr *Transcript, callID string) (string, bool) {
	for _, id := range t.order {
		seg, ok := tr.Get(id)
		if !ok {
			continue
		}
		for _, call := range seg.ToolCalls {
			if call.ID == callID {
				return id, true
			}
		}
	}
	return "", false
}

// upsertChanged appends seg to the change list, replacing any earlier entry
// for the same segment id so callers forward one upsert per segment.
func upsertChanged(changed []Segment, seg Segment) []Segment {
	for i := range changed {
		if changed[i].ID == seg.ID {
			changed[i] = seg
			return changed
		}
	}
	return append(changed, seg)
}
