package transcript

import (
	"testing"
	"time"
)

func TestMergeToolCallsUnionPreservesOrder(t *testing.T) {
	prev := []ToolCall{{ID: "a", Name: "read", Status: ToolRunning}}
	incoming := []ToolCall{
		{ID: "a", Status: ToolSuccess, Output: "ok"},
		{ID: "b", Name: "write", Status: ToolRunning},
	}

	got := MergeToolCalls(prev, incoming)
	if len(got) != 2 {
		t.Fatalf("merged len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("merged order = [%s %s], want [a b]", got[0].ID, got[1].ID)
	}
	if got[0].Status != ToolSuccess || got[0].Output != "ok" {
		t.Fatalf("shared id fields = %+v, want incoming to win", got[0])
	}
	if got[0].Name != "read" {
		t.Fatalf("unset incoming field overwrote name: %q", got[0].Name)
	}
}

func TestMergeToolCallsBothEmpty(t *testing.T) {
	if got := MergeToolCalls(nil, nil); got != nil {
		t.Fatalf("MergeToolCalls(nil, nil) = %v, want nil", got)
	}
}

func TestMergeToolCallsForKnownIDsRejectsNewIds(t *testing.T) {
	prev := []ToolCall{{ID: "a", Name: "read", Status: ToolRunning}}
	incoming := []ToolCall{
		{ID: "a", Status: ToolSuccess},
		{ID: "b", Name: "write"},
	}

	got := MergeToolCallsForKnownIDs(prev, incoming)
	if len(got) != 1 {
		t.Fatalf("merged len = %d, want 1 (new id must not leak in)", len(got))
	}
	if got[0].ID != "a" || got[0].Status != ToolSuccess {
		t.Fatalf("merged entry = %+v, want updated a", got[0])
	}
}

func TestMergeToolCallsForKnownIDsEmptyPrev(t *testing.T) {
	got := MergeToolCallsForKnownIDs(nil, []ToolCall{{ID: "b"}})
	if got != nil {
		t.Fatalf("MergeToolCallsForKnownIDs(nil, ...) = %v, want nil", got)
	}
}

func TestMergeToolCallsClonesInput(t *testing.T) {
	input := map[string]any{"query": "weather", "nested": map[string]any{"k": "v"}}
	prev := []ToolCall{{ID: "a", Input: input}}

	got := MergeToolCalls(prev, nil)
	got[0].Input["query"] = "mutated"
	got[0].Input["nested"].(map[string]any)["k"] = "mutated"

	if input["query"] != "weather" {
		t.Fatalf("prev input mutated through merged copy: %v", input["query"])
	}
	if input["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("nested prev input mutated through merged copy")
	}
}

func TestToolCallMergeKeepsTimes(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(2 * time.Second)
	prev := []ToolCall{{ID: "a", StartedAt: started}}
	incoming := []ToolCall{{ID: "a", EndedAt: &ended}}

	got := MergeToolCalls(prev, incoming)
	if !got[0].StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want preserved %v", got[0].StartedAt, started)
	}
	if got[0].EndedAt == nil || !got[0].EndedAt.Equal(ended) {
		t.Fatalf("EndedAt = %v, want %v", got[0].EndedAt, ended)
	}
}
