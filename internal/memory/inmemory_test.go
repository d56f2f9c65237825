package memory

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		err := s.SaveMessage(ctx, MessageRecord{
			ConversationID: "c1",
			TurnID:         "t1",
			Role:           "assistant",
			Content:        content,
		})
		if err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}
	if err := s.SaveMessage(ctx, MessageRecord{ConversationID: "c2", Content: "other"}); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := s.History(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(got))
	}
	if got[0].Content != "two" || got[1].Content != "three" {
		t.Fatalf("History tail = [%q %q], want newest-last window", got[0].Content, got[1].Content)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("record defaults not filled: %+v", got[0])
	}

	empty, err := s.History(ctx, "missing", 10)
	if err != nil || empty != nil {
		t.Fatalf("History(missing) = (%v, %v), want (nil, nil)", empty, err)
	}
}
