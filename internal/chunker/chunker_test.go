package chunker

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk_Deterministic(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	first := c.Chunk("doc-1", text)
	second := c.Chunk("doc-1", text)
	if len(first) == 0 {
		t.Fatal("no chunks produced")
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id differs across runs", i)
		}
		if first[i].Text != second[i].Text {
			t.Errorf("chunk %d text differs across runs", i)
		}
	}
}

func TestChunk_IDDependsOnDocAndIndexAndText(t *testing.T) {
	if ChunkID("doc-1", 0, "hello") == ChunkID("doc-2", 0, "hello") {
		t.Error("different documents produced the same chunk id")
	}
	if ChunkID("doc-1", 0, "hello") == ChunkID("doc-1", 1, "hello") {
		t.Error("different ordinals produced the same chunk id")
	}
	if ChunkID("doc-1", 0, "hello") == ChunkID("doc-1", 0, "hello!") {
		t.Error("different texts produced the same chunk id")
	}
	// Separator prevents ambiguity between (doc, index) concatenations.
	if ChunkID("a", 11, "x") == ChunkID("a1", 1, "x") {
		t.Error("id components must be unambiguous")
	}
}

func TestChunk_EmptyText(t *testing.T) {
	c := NewChunker(100, 20)
	if got := c.Chunk("doc", ""); got != nil {
		t.Errorf("empty text produced %d chunks", len(got))
	}
	if got := c.Chunk("doc", "   \n\n\t "); got != nil {
		t.Errorf("whitespace text produced %d chunks", len(got))
	}
}

func TestChunk_ShortText(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Chunk("doc", "just a short note")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Index=%d", chunks[0].Index)
	}
}

func TestChunk_Overlap(t *testing.T) {
	c := NewChunker(100, 30)
	text := strings.Repeat("word ", 200)
	chunks := c.Chunk("doc", text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Index != chunks[i-1].Index+1 {
			t.Errorf("chunk ordinals not sequential at %d", i)
		}
		if chunks[i].StartChar >= chunks[i].EndChar {
			t.Errorf("chunk %d has empty span", i)
		}
		// Each chunk starts before the previous one ended: overlap.
		if chunks[i].StartChar >= chunks[i-1].EndChar {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}

func TestChunk_PrefersParagraphBoundary(t *testing.T) {
	c := NewChunker(100, 10)
	para := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 80)
	chunks := c.Chunk("doc", para)
	if len(chunks) < 2 {
		t.Fatalf("expected split, got %d chunks", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "b") {
		t.Error("first chunk crossed the paragraph boundary")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a\r\nb", "a\nb"},
		{"a   b\t\tc", "a b c"},
		{"a\n\n\n\n\nb", "a\n\nb"},
		{"  padded  ", "padded"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_StableChunkIDs(t *testing.T) {
	c := NewChunker(100, 20)
	// Same content, different line endings and spacing.
	a := c.Chunk("doc", "Hello world.\r\nSecond   line.")
	b := c.Chunk("doc", "Hello world.\nSecond line.")
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d ids differ for equivalent content", i)
		}
	}
}

func TestHasTableHasList(t *testing.T) {
	if !HasTable("a | b | c") {
		t.Error("pipe row not detected as table")
	}
	if HasTable("plain sentence") {
		t.Error("plain text detected as table")
	}
	if !HasList("- first\n- second") {
		t.Error("dash list not detected")
	}
	if !HasList("1. first\n2. second") {
		t.Error("numbered list not detected")
	}
}

func TestChunk_MultibyteHardCutStaysValidUTF8(t *testing.T) {
	// Continuous CJK prose has no ASCII separators, so every cut is a hard
	// cut; none of them may land inside a rune.
	c := NewChunker(1000, 200)
	text := strings.Repeat("日本語の文章", 2000)

	chunks := c.Chunk("doc-1", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Fatalf("chunk %d contains invalid UTF-8: %q...", i, ch.Text[:12])
		}
		if ch.Text != string([]rune(ch.Text)) {
			t.Fatalf("chunk %d text not rune-clean", i)
		}
	}

	// Round-tripping through JSON must not alter the text the id was
	// computed from.
	for i, ch := range chunks {
		encoded, err := json.Marshal(ch.Text)
		if err != nil {
			t.Fatal(err)
		}
		var decoded string
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded != ch.Text {
			t.Fatalf("chunk %d text changed across JSON round trip", i)
		}
	}
}

func TestChunk_TinyWindowOverWideRunes(t *testing.T) {
	// Budget smaller than a few runes still makes progress and never splits one.
	c := NewChunker(4, 1)
	chunks := c.Chunk("doc-1", strings.Repeat("語", 10))
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	for i, ch := range chunks {
		if !utf8.ValidString(ch.Text) {
			t.Fatalf("chunk %d contains invalid UTF-8", i)
		}
		if ch.Text == "" {
			t.Errorf("chunk %d empty", i)
		}
	}
}
