package transcript

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ent0n29/scribe/internal/protocol"
)

// DefaultThrottleInterval is the minimum gap between emitted snapshots while
// a message is streaming. Internal state is updated on every event regardless.
const DefaultThrottleInterval = 80 * time.Millisecond

// Accumulator ingests raw partial events per in-flight message id and emits
// rate-limited cumulative snapshots. It holds exactly one state per live
// message id; Finalize destroys the state for its id.
type Accumulator struct {
	throttle time.Duration
	states   map[string]*messageState
}

type messageState struct {
	text        strings.Builder
	toolCalls   map[string]*ToolCall
	toolOrder   []string
	blockToTool map[int]string
	pendingJSON map[string]*strings.Builder
	startedAt   time.Time
	lastEmitAt  time.Time
}

// NewAccumulator creates an accumulator with the given throttle interval.
// A non-positive interval falls back to DefaultThrottleInterval.
func NewAccumulator(throttle time.Duration) *Accumulator {
	if throttle <= 0 {
		throttle = DefaultThrottleInterval
	}
	return &Accumulator{
		throttle: throttle,
		states:   make(map[string]*messageState),
	}
}

// Update applies one stream event to the state for messageID and returns a
// cumulative snapshot, unless the event changed nothing or the throttle
// window since the last emission has not elapsed. Suppressed emissions never
// discard state; the next unthrottled snapshot reflects every update so far.
func (a *Accumulator) Update(messageID string, ev protocol.Event, now time.Time) (Segment, bool) {
	st := a.states[messageID]
	if st == nil {
		st = &messageState{
			toolCalls:   make(map[string]*ToolCall),
			blockToTool: make(map[int]string),
			pendingJSON: make(map[string]*strings.Builder),
			startedAt:   now,
		}
		a.states[messageID] = st
	}

	mutated := false
	switch e := ev.(type) {
	case protocol.ContentBlockStart:
		if e.Block.IsToolUse() && e.Block.ID != "" {
			call := &ToolCall{
				ID:        e.Block.ID,
				Name:      e.Block.Name,
				Status:    ToolRunning,
				StartedAt: now,
			}
			if len(e.Block.Input) > 0 {
				var input map[string]any
				if err := json.Unmarshal(e.Block.Input, &input); err == nil {
					call.Input = input
				}
			}
			if _, exists := st.toolCalls[call.ID]; !exists {
				st.toolOrder = append(st.toolOrder, call.ID)
			}
			st.toolCalls[call.ID] = call
			st.blockToTool[e.Index] = call.ID
			st.pendingJSON[call.ID] = &strings.Builder{}
			mutated = true
		}
	case protocol.ContentBlockDelta:
		switch e.Delta.Type {
		case protocol.DeltaTypeText:
			if e.Delta.Text != "" {
				st.text.WriteString(e.Delta.Text)
				mutated = true
			}
		case protocol.DeltaTypeInputJSON:
			if e.Delta.PartialJSON != "" {
				mutated = st.appendInputJSON(e.Index, e.Delta.PartialJSON)
			}
		}
	default:
		// content_block_stop, message_stop, and unknown tags carry nothing
		// the snapshot needs.
	}

	if !mutated {
		return Segment{}, false
	}
	if now.Sub(st.lastEmitAt) < a.throttle {
		return Segment{}, false
	}
	st.lastEmitAt = now
	return st.snapshot(messageID, true), true
}

// Finalize returns the complete non-streaming snapshot for messageID and
// discards its state. A non-nil finalText overwrites the accumulated text;
// toolCalls merge into the accumulated records with explicit values winning.
// Finalizing an id with no prior state yields an empty but valid snapshot.
func (a *Accumulator) Finalize(messageID string, finalText *string, toolCalls []ToolCall, now time.Time) Segment {
	st := a.states[messageID]
	if st == nil {
		st = &messageState{
			toolCalls:   make(map[string]*ToolCall),
			blockToTool: make(map[int]string),
			pendingJSON: make(map[string]*strings.Builder),
			startedAt:   now,
		}
	}
	delete(a.states, messageID)

	if finalText != nil {
		st.text.Reset()
		st.text.WriteString(*finalText)
	}
	for _, call := range toolCalls {
		prev, exists := st.toolCalls[call.ID]
		if !exists {
			c := call.Clone()
			st.toolCalls[call.ID] = &c
			st.toolOrder = append(st.toolOrder, call.ID)
			continue
		}
		merged := prev.merge(call)
		st.toolCalls[call.ID] = &merged
	}

	return st.snapshot(messageID, false)
}

// Active reports whether the accumulator currently holds state for messageID.
func (a *Accumulator) Active(messageID string) bool {
	_, ok := a.states[messageID]
	return ok
}

func (st *messageState) appendInputJSON(index int, partial string) bool {
	toolID, ok := st.blockToTool[index]
	if !ok {
		return false
	}
	buf := st.pendingJSON[toolID]
	if buf == nil {
		buf = &strings.Builder{}
		st.pendingJSON[toolID] = buf
	}
	buf.WriteString(partial)

	// Keep the previous value until the buffer parses cleanly; a torn JSON
	// prefix just means the field lags.
	var input map[string]any
	if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
		if call := st.toolCalls[toolID]; call != nil {
			call.Input = input
		}
	}
	return true
}

func (st *messageState) snapshot(messageID string, streaming bool) Segment {
	seg := Segment{
		ID:          messageID,
		Role:        RoleAssistant,
		Content:     st.text.String(),
		Timestamp:   st.startedAt,
		IsStreaming: streaming,
	}
	if len(st.toolOrder) > 0 {
		seg.ToolCalls = make([]ToolCall, 0, len(st.toolOrder))
		for _, id := range st.toolOrder {
			if call := st.toolCalls[id]; call != nil {
				seg.ToolCalls = append(seg.ToolCalls, call.Clone())
			}
		}
	}
	return seg
}
