package transcript

import "testing"

func TestMergeStreamingTextEmptySides(t *testing.T) {
	if got := MergeStreamingText("", "abc"); got != "abc" {
		t.Fatalf("merge(\"\", abc) = %q, want %q", got, "abc")
	}
	if got := MergeStreamingText("abc", ""); got != "abc" {
		t.Fatalf("merge(abc, \"\") = %q, want %q", got, "abc")
	}
}

func TestMergeStreamingTextPrefixGrowth(t *testing.T) {
	if got := MergeStreamingText("Hello", "Hello world"); got != "Hello world" {
		t.Fatalf("merge() = %q, want %q", got, "Hello world")
	}
}

func TestMergeStreamingTextContainmentKeepsRicherSide(t *testing.T) {
	if got := MergeStreamingText("Hello world", "Hello"); got != "Hello world" {
		t.Fatalf("merge() = %q, want %q", got, "Hello world")
	}
	if got := MergeStreamingText("lo wor", "Hello world"); got != "Hello world" {
		t.Fatalf("merge() inner containment = %q, want %q", got, "Hello world")
	}
}

func TestMergeStreamingTextOverlapStitch(t *testing.T) {
	got := MergeStreamingText("Hello world", "world and beyond")
	if got != "Hello world and beyond" {
		t.Fatalf("merge() = %q, want %q", got, "Hello world and beyond")
	}
}

func TestMergeStreamingTextFallbackConcatenation(t *testing.T) {
	if got := MergeStreamingText("First part.", "Second part."); got != "First part.\n\nSecond part." {
		t.Fatalf("merge() = %q, want paragraph-separated concat", got)
	}
	// An existing boundary space suppresses the inserted separator.
	if got := MergeStreamingText("First part. ", "Second part."); got != "First part. Second part." {
		t.Fatalf("merge() with trailing space = %q, want plain concat", got)
	}
	if got := MergeStreamingText("First part.", " Second part."); got != "First part. Second part." {
		t.Fatalf("merge() with leading space = %q, want plain concat", got)
	}
}

func TestMergeStreamingTextIdempotent(t *testing.T) {
	cases := [][2]string{
		{"Hello world", "world and beyond"},
		{"Hello", "Hello world"},
		{"alpha", "beta"},
		{"", "x"},
		{"same", "same"},
	}
	for _, c := range cases {
		once := MergeStreamingText(c[0], c[1])
		twice := MergeStreamingText(once, c[1])
		if once != twice {
			t.Fatalf("merge(merge(%q,%q), %q) = %q, want %q", c[0], c[1], c[1], twice, once)
		}
	}
}

func TestMergeStreamingTextNeverLosesLength(t *testing.T) {
	cases := [][2]string{
		{"Hello world", "world and beyond"},
		{"Hello world", "Hello"},
		{"abc", "xyz"},
		{"", ""},
		{"alpha beta", "beta gamma"},
	}
	for _, c := range cases {
		got := MergeStreamingText(c[0], c[1])
		min := len(c[0])
		if len(c[1]) > min {
			min = len(c[1])
		}
		if len(got) < min {
			t.Fatalf("len(merge(%q,%q)) = %d, want >= %d", c[0], c[1], len(got), min)
		}
	}
}

func TestSuffixPrefixOverlapPicksLargest(t *testing.T) {
	if got := suffixPrefixOverlap("abcabc", "abcx"); got != 3 {
		t.Fatalf("suffixPrefixOverlap() = %d, want 3", got)
	}
	if got := suffixPrefixOverlap("abc", "xyz"); got != 0 {
		t.Fatalf("suffixPrefixOverlap() = %d, want 0", got)
	}
}
