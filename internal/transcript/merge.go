package transcript

import "strings"

// MergeStreamingText reconciles two candidate full-text values for the same
// message into their non-lossy union. The transport does not guarantee that
// text and tool-call boundaries arrive in emission order, so a later snapshot
// may repeat, extend, or overlap an earlier one; this merge tolerates all
// three instead of blindly appending.
//
// The result never loses content from either side: its length is always at
// least max(len(previous), len(incoming)), and merging the same incoming
// value twice is a no-op.
func MergeStreamingText(previous, incoming string) string {
	if previous == "" {
		return incoming
	}
	if incoming == "" {
		return previous
	}
	if previous == incoming {
		return previous
	}

	// Containment: a partial snapshot echoed inside a later cumulative one.
	// Covers plain prefix growth in both directions as well.
	if strings.Contains(incoming, previous) {
		return incoming
	}
	if strings.Contains(previous, incoming) {
		return previous
	}

	// Overlap stitch: the tail of previous reappears at the head of incoming.
	if k := suffixPrefixOverlap(previous, incoming); k > 0 {
		return previous + incoming[k:]
	}

	// No relation found; keep both sides. Insert a paragraph break unless a
	// boundary already carries whitespace.
	if hasTrailingSpace(previous) || hasLeadingSpace(incoming) {
		return previous + incoming
	}
	return previous + "\n\n" + incoming
}

// suffixPrefixOverlap returns the largest k such that the last k bytes of a
// equal the first k bytes of b.
func suffixPrefixOverlap(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if a[len(a)-n:] == b[:n] {
			return n
		}
	}
	return 0
}

func hasTrailingSpace(s string) bool {
	return s != strings.TrimRight(s, " \t\r\n")
}

func hasLeadingSpace(s string) bool {
	return s != strings.TrimLeft(s, " \t\r\n")
}
