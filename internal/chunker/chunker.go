// Package chunker splits narration text into provider-sized pieces and
// estimates narration duration.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// avgCharsPerWord approximates English prose; used only for duration
	// estimates shown as progress, never for correctness.
	avgCharsPerWord = 5.0

	defaultWordsPerMinute = 150.0
	defaultSpeakingRate   = 1.0
)

// ChunkText splits text into an ordered sequence of pieces no longer than
// maxChars, preferring paragraph boundaries, then sentence boundaries, then
// commas. Every piece is trimmed of surrounding whitespace. Non-empty input
// always yields at least one chunk; empty input yields none.
func ChunkText(text string, maxChars int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxChars < 1 {
		maxChars = 1
	}

	var chunks []string
	remaining := trimmed
	for len(remaining) > maxChars {
		cut := breakPoint(remaining, maxChars)
		piece := strings.TrimSpace(remaining[:cut])
		if piece != "" {
			chunks = append(chunks, piece)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// breakPoint chooses where to split a string known to exceed maxChars.
func breakPoint(s string, maxChars int) int {
	window := s[:maxChars]
	floor := int(0.7 * float64(maxChars))

	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return idx
	}
	if idx := strings.LastIndex(window, ". "); idx >= floor {
		return idx + 2
	}
	commaFloor := int(0.8 * float64(maxChars))
	if idx := strings.LastIndex(window, ","); idx >= commaFloor {
		return idx + 1
	}
	// Hard cut, backed off to a rune boundary so a multi-byte
	// character is never split across chunks.
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// maxChars is smaller than the first rune; cut anyway so the
		// loop still makes progress.
		return maxChars
	}
	return cut
}

// EstimateDuration returns the expected narration length in seconds for the
// given text at the configured words-per-minute rate.
func EstimateDuration(text string, wordsPerMinute int, speakingRate float64) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = defaultWordsPerMinute
	}
	if speakingRate <= 0 {
		speakingRate = defaultSpeakingRate
	}
	words := float64(len(text)) / avgCharsPerWord
	minutes := words / float64(wordsPerMinute)
	return minutes * 60.0 / speakingRate
}
