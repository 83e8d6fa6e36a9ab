package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShortText(t *testing.T) {
	text := "hello world"
	parts := SplitMessage(text, DefaultChunkSize)
	if len(parts) != 1 {
		t.Fatalf("expected single part, got %d", len(parts))
	}
	if parts[0] != text {
		t.Fatalf("unexpected text: %q", parts[0])
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	parts := SplitMessage("   \n  ", DefaultChunkSize)
	if len(parts) != 0 {
		t.Fatalf("expected no parts for empty input, got %d", len(parts))
	}
}

func TestSplitMessagePrefersLateNewline(t *testing.T) {
	// Newline at position 80 of a 100-rune candidate chunk: inside the last
	// 30%, so the cut must land on it instead of the greedy boundary.
	text := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 40)
	parts := SplitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 80) {
		t.Fatalf("first part should end at the newline, got %d runes", len([]rune(parts[0])))
	}
	if parts[1] != strings.Repeat("b", 40) {
		t.Fatalf("unexpected second part: %d runes", len([]rune(parts[1])))
	}
}

func TestSplitMessageIgnoresEarlyNewline(t *testing.T) {
	// Newline at position 50 is before the 70% mark; backing off to it would
	// waste half the chunk, so the greedy cut wins.
	text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 70)
	parts := SplitMessage(text, 100)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if length := len([]rune(parts[0])); length != 100 {
		t.Fatalf("expected greedy 100-rune first part, got %d", length)
	}
	if !strings.Contains(parts[0], "\n") {
		t.Fatal("early newline should stay inside the first part")
	}
}

func TestSplitMessageParagraphs(t *testing.T) {
	// 50 paragraphs of 200 chars with blank-line separators: 10k chars of
	// content should fit in 3 chunks, each ending on a paragraph break.
	paragraph := strings.Repeat("x", 200)
	text := strings.Repeat(paragraph+"\n\n", 49) + paragraph

	parts := SplitMessage(text, DefaultChunkSize)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > DefaultChunkSize {
			t.Fatalf("part %d exceeds chunk size: %d", i, length)
		}
		if !strings.HasSuffix(part, paragraph) {
			t.Fatalf("part %d does not end on a paragraph break", i)
		}
	}
	if strings.Join(parts, "\n\n") != text {
		t.Fatal("joined parts should reproduce the original text")
	}
}

func TestSplitMessageNoNewlineReconstructs(t *testing.T) {
	text := strings.Repeat("a", 10000)
	parts := SplitMessage(text, DefaultChunkSize)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > DefaultChunkSize {
			t.Fatalf("part %d exceeds chunk size: %d", i, length)
		}
	}
	if strings.Join(parts, "") != text {
		t.Fatal("concatenated parts should reproduce the original text")
	}
}

func TestSplitMessageBadChunkSizeFallsBack(t *testing.T) {
	text := strings.Repeat("a", 5000)
	for _, size := range []int{0, -1, messageLimit + 1} {
		parts := SplitMessage(text, size)
		if len(parts) != 2 {
			t.Fatalf("chunk size %d: expected fallback to default, got %d parts", size, len(parts))
		}
	}
}
