package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, strings.Repeat("x", 30))
	}
	text := strings.Join(lines, "\n")

	got := splitTelegramText(text, 100, "")
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(got))
	}
	for i, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline-preferred splits land on line boundaries, so every chunk
		// is whole lines.
		for _, line := range strings.Split(c, "\n") {
			if len(line) != 30 {
				t.Fatalf("chunk %d split mid-line: %q", i, line)
			}
		}
	}
	if joined := strings.ReplaceAll(strings.Join(got, "\n"), "\n", ""); joined != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("content lost across chunks")
	}
}

func TestSplitTelegramTextHardSplit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 250) // no newlines at all
	got := splitTelegramText(text, 100, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if got[0] != strings.Repeat("a", 100) || got[2] != strings.Repeat("a", 50) {
		t.Fatalf("unexpected chunk sizes: %d/%d/%d", len(got[0]), len(got[1]), len(got[2]))
	}
}

func TestSplitTelegramTextAvoidsHTMLTagSplit(t *testing.T) {
	t.Parallel()
	// The "<" lands just inside the window, the ">" just outside.
	text := strings.Repeat("a", 98) + "<b>bold</b>"
	got := splitTelegramText(text, 100, "HTML")
	if got[0] != strings.Repeat("a", 98) {
		t.Fatalf("first chunk = %q, want the tag pushed to the next chunk", got[0])
	}
	for i, c := range got {
		open := strings.Count(c, "<")
		closed := strings.Count(c, ">")
		if open != closed {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}

func TestSplitTelegramTextDefaultLimit(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("b", telegramTextLimit+10)
	got := splitTelegramText(text, 0, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
}
