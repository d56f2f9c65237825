package transcript

import "time"

// ToolCallStatus tracks the lifecycle of one tool invocation.
type ToolCallStatus string

const (
	ToolPending ToolCallStatus = "pending"
	ToolRunning ToolCallStatus = "running"
	ToolSuccess ToolCallStatus = "success"
	ToolError   ToolCallStatus = "error"
)

// ToolCall is the record attached to a segment for one tool invocation.
// Input evolves as partial JSON parses cleanly; result fields are filled in
// by end-of-turn reconciliation.
type ToolCall struct {
	ID        string
	Name      string
	Input     map[string]any
	Status    ToolCallStatus
	Output    string
	Stdout    string
	Stderr    string
	ExitCode  *int
	ParentID  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Clone returns a copy whose Input map is independent of the receiver's.
func (c ToolCall) Clone() ToolCall {
	c.Input = cloneInput(c.Input)
	return c
}

// merge overlays the set fields of incoming onto prev. Zero-valued incoming
// fields leave prev alone, mirroring a shallow spread of a sparse update.
func (c ToolCall) merge(incoming ToolCall) ToolCall {
	out := c.Clone()
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Input != nil {
		out.Input = cloneInput(incoming.Input)
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if incoming.Output != "" {
		out.Output = incoming.Output
	}
	if incoming.Stdout != "" {
		out.Stdout = incoming.Stdout
	}
	if incoming.Stderr != "" {
		out.Stderr = incoming.Stderr
	}
	if incoming.ExitCode != nil {
		code := *incoming.ExitCode
		out.ExitCode = &code
	}
	if incoming.ParentID != "" {
		out.ParentID = incoming.ParentID
	}
	if !incoming.StartedAt.IsZero() {
		out.StartedAt = incoming.StartedAt
	}
	if incoming.EndedAt != nil {
		ended := *incoming.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// MergeToolCalls unions two tool-call collections keyed by id. Order follows
// prev with new ids appended; for shared ids the incoming fields win.
// Returns nil only when both inputs are empty.
func MergeToolCalls(prev, incoming []ToolCall) []ToolCall {
	if len(prev) == 0 && len(incoming) == 0 {
		return nil
	}

	out := make([]ToolCall, 0, len(prev)+len(incoming))
	index := make(map[string]int, len(prev))
	for _, call := range prev {
		index[call.ID] = len(out)
		out = append(out, call.Clone())
	}
	for _, call := range incoming {
		if i, ok := index[call.ID]; ok {
			out[i] = out[i].merge(call)
			continue
		}
		index[call.ID] = len(out)
		out = append(out, call.Clone())
	}
	return out
}

// MergeToolCallsForKnownIDs merges like MergeToolCalls but only admits
// incoming entries whose id already exists in prev. It keeps a continuation
// segment's newly-seen tool ids from leaking backward onto a frozen segment.
func MergeToolCallsForKnownIDs(prev, incoming []ToolCall) []ToolCall {
	if len(prev) == 0 {
		return nil
	}

	out := make([]ToolCall, 0, len(prev))
	index := make(map[string]int, len(prev))
	for _, call := range prev {
		index[call.ID] = len(out)
		out = append(out, call.Clone())
	}
	for _, call := range incoming {
		if i, ok := index[call.ID]; ok {
			out[i] = out[i].merge(call)
		}
	}
	return out
}

func cloneInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the mutable container types JSON unmarshalling produces.
// Strings, numbers, bools, and nil are immutable and returned as-is.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
