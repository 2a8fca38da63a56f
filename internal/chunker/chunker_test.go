package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkTextEmptyInput(t *testing.T) {
	if got := ChunkText("", 4000); got != nil {
		t.Fatalf("expected no chunks for empty input, got %d", len(got))
	}
	if got := ChunkText("   \n\n  ", 4000); got != nil {
		t.Fatalf("expected no chunks for whitespace input, got %d", len(got))
	}
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("  hello world  ", 4000)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "hello world" {
		t.Fatalf("expected trimmed chunk, got %q", chunks[0])
	}
}

func TestChunkTextPrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", 900)
	second := strings.Repeat("b", 900)
	chunks := ChunkText(first+"\n\n"+second, 1000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != first {
		t.Fatalf("expected split at paragraph boundary, first chunk len %d", len(chunks[0]))
	}
	if chunks[1] != second {
		t.Fatalf("unexpected second chunk len %d", len(chunks[1]))
	}
}

func TestChunkTextFallsBackToSentenceBoundary(t *testing.T) {
	first := strings.Repeat("a", 898) + "."
	second := strings.Repeat("b", 600)
	chunks := ChunkText(first+" "+second, 1000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Fatalf("expected first chunk to end at sentence boundary, got suffix %q", chunks[0][len(chunks[0])-5:])
	}
	if chunks[1] != second {
		t.Fatalf("unexpected second chunk")
	}
}

func TestChunkTextHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := ChunkText(text, 1000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 1000 || len(chunks[1]) != 1000 || len(chunks[2]) != 500 {
		t.Fatalf("unexpected chunk lengths %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

// A hard cut that would land mid-rune backs off to the nearest rune
// boundary; every chunk stays valid UTF-8.
func TestChunkTextHardCutKeepsRunesIntact(t *testing.T) {
	// 3-byte runes with no paragraph, sentence, or comma boundaries:
	// 1000 is not a multiple of 3, so a naive byte cut splits a rune.
	text := strings.Repeat("語", 1200)
	chunks := ChunkText(text, 1000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if len(c) > 1000 {
			t.Fatalf("chunk %d exceeds max: %d bytes", i, len(c))
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Fatal("concatenated chunks do not reconstruct the input")
	}
}

// Reconstruction: chunks joined on a blank line textually equal a
// whitespace-normalized rendering of the input.
func TestChunkTextReconstruction(t *testing.T) {
	paragraphs := []string{
		"The quick brown fox jumps over the lazy dog. " + strings.Repeat("Again and again. ", 40),
		strings.Repeat("A second paragraph with more prose to narrate. ", 30),
		strings.Repeat("Closing remarks, short and sweet. ", 20),
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := ChunkText(text, 500)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for i, c := range chunks {
		if len(c) > 500 {
			t.Fatalf("chunk %d exceeds max: %d chars", i, len(c))
		}
		if c != strings.TrimSpace(c) {
			t.Fatalf("chunk %d not trimmed", i)
		}
	}

	normalize := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	if normalize(strings.Join(chunks, "\n\n")) != normalize(text) {
		t.Fatal("concatenated chunks do not reconstruct the input")
	}
}

func TestChunkTextNineThousandFiveHundredChars(t *testing.T) {
	var b strings.Builder
	sentence := "This sentence pads the narration with steady prose. "
	for b.Len() < 9500 {
		b.WriteString(sentence)
	}
	text := b.String()[:9500]

	chunks := ChunkText(text, 4000)
	if len(chunks) != 3 {
		t.Fatalf("expected exactly 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 4000 {
			t.Fatalf("chunk %d exceeds 4000 chars: %d", i, len(c))
		}
		if c != strings.TrimSpace(c) {
			t.Fatalf("chunk %d not trimmed", i)
		}
	}
}

func TestChunkCountUpperBound(t *testing.T) {
	for _, max := range []int{1, 7, 100, 4000} {
		text := strings.Repeat("word ", 500)
		chunks := ChunkText(text, max)
		trimmedLen := len(strings.TrimSpace(text))
		bound := (trimmedLen + max - 1) / max
		if len(chunks) > bound {
			t.Fatalf("maxChars=%d: %d chunks exceeds ceil bound %d", max, len(chunks), bound)
		}
		for i, c := range chunks {
			if len(c) > max {
				t.Fatalf("maxChars=%d: chunk %d too long (%d)", max, i, len(c))
			}
		}
	}
}

func TestEstimateDuration(t *testing.T) {
	// 1500 chars at 5 chars/word = 300 words; 150 wpm = 2 minutes.
	text := strings.Repeat("x", 1500)
	got := EstimateDuration(text, 150, 1.0)
	if got < 119.9 || got > 120.1 {
		t.Fatalf("expected ~120s, got %v", got)
	}

	// Doubling the speaking rate halves the estimate.
	fast := EstimateDuration(text, 150, 2.0)
	if fast < 59.9 || fast > 60.1 {
		t.Fatalf("expected ~60s at 2x rate, got %v", fast)
	}
}
