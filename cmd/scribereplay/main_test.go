package main

import "testing"

func TestWSURLForConversation(t *testing.T) {
	got, err := wsURLForConversation("http://127.0.0.1:8080", "c-123")
	if err != nil {
		t.Fatalf("wsURLForConversation() error = %v", err)
	}
	want := "ws://127.0.0.1:8080/v1/conversations/ws?conversation_id=c-123"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	got, err = wsURLForConversation("https://scribe.example/api/", "c-123")
	if err != nil {
		t.Fatalf("wsURLForConversation() error = %v", err)
	}
	want = "wss://scribe.example/api/v1/conversations/ws?conversation_id=c-123"
	if got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	if _, err := wsURLForConversation("ftp://host", "c-123"); err == nil {
		t.Fatalf("wsURLForConversation() error = nil, want unsupported scheme")
	}
}

func TestSplitPrompts(t *testing.T) {
	got := splitPrompts(" first | | second|")
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("splitPrompts() = %v, want [first second]", got)
	}
	if splitPrompts("   ") != nil {
		t.Fatalf("splitPrompts(blank) != nil")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate() = %q", got)
	}
	if got := truncate("0123456789", 4); got != "0123..." {
		t.Fatalf("truncate() = %q", got)
	}
}
