// Package events defines the typed progress events a narration job streams to
// its caller and the write-side sink that delivers them.
package events

import (
	"time"

	"github.com/lecternlabs/lectern-core/internal/provider"
)

type Type string

const (
	TypeExtractionStart    Type = "extraction_start"
	TypeExtractionComplete Type = "extraction_complete"
	TypeArtworkGenerating  Type = "artwork_generating"
	TypeArtworkReady       Type = "artwork_ready"
	TypeChunkProcessing    Type = "chunk_processing"
	TypeChunkReady         Type = "chunk_ready"
	TypeComplete           Type = "complete"
	TypeError              Type = "error"
)

// Event is implemented by every progress event variant. Timestamps are
// assigned by the sink at delivery and are monotonically nondecreasing
// within one job's sequence.
type Event interface {
	Kind() Type
	stamp(t time.Time)
}

type base struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *base) Kind() Type         { return b.Type }
func (b *base) stamp(t time.Time) { b.Timestamp = t }

type ExtractionStart struct {
	base
}

func NewExtractionStart() *ExtractionStart {
	return &ExtractionStart{base: base{Type: TypeExtractionStart}}
}

type ExtractionComplete struct {
	base
	CharCount   int `json:"charCount"`
	TableCount  int `json:"tableCount"`
	PageCount   int `json:"pageCount"`
	TotalChunks int `json:"totalChunks"`
}

func NewExtractionComplete(charCount, tableCount, pageCount, totalChunks int) *ExtractionComplete {
	return &ExtractionComplete{
		base:        base{Type: TypeExtractionComplete},
		CharCount:   charCount,
		TableCount:  tableCount,
		PageCount:   pageCount,
		TotalChunks: totalChunks,
	}
}

type ArtworkGenerating struct {
	base
	Prompt string `json:"prompt"`
}

func NewArtworkGenerating(prompt string) *ArtworkGenerating {
	return &ArtworkGenerating{base: base{Type: TypeArtworkGenerating}, Prompt: prompt}
}

type ArtworkReady struct {
	base
	ImageData string  `json:"imageData"` // base64
	MIMEType  string  `json:"mimeType"`
	Prompt    string  `json:"prompt"`
	Cost      float64 `json:"cost"`
}

func NewArtworkReady(imageData, mimeType, prompt string, cost float64) *ArtworkReady {
	return &ArtworkReady{
		base:      base{Type: TypeArtworkReady},
		ImageData: imageData,
		MIMEType:  mimeType,
		Prompt:    prompt,
		Cost:      cost,
	}
}

type ChunkProcessing struct {
	base
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	TextPreview string `json:"textPreview"`
}

func NewChunkProcessing(index, total int, preview string) *ChunkProcessing {
	return &ChunkProcessing{
		base:        base{Type: TypeChunkProcessing},
		Index:       index,
		Total:       total,
		TextPreview: preview,
	}
}

type ChunkReady struct {
	base
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	AudioData string  `json:"audioData"` // base64
	Duration  float64 `json:"duration"`  // seconds, estimated
	CharCount int     `json:"charCount"`
}

func NewChunkReady(index, total int, audioData string, duration float64, charCount int) *ChunkReady {
	return &ChunkReady{
		base:      base{Type: TypeChunkReady},
		Index:     index,
		Total:     total,
		AudioData: audioData,
		Duration:  duration,
		CharCount: charCount,
	}
}

// CostBreakdown is recomputed once at completion; it is never accumulated
// incrementally, so partial failures cannot leave drift behind.
type CostBreakdown struct {
	Parsing float64 `json:"parsing"`
	Tables  float64 `json:"tables"`
	TTS     float64 `json:"tts"`
	Artwork float64 `json:"artwork"`
	Total   float64 `json:"total"`
}

type JobStats struct {
	Chunks    int                       `json:"chunks"`
	Pages     int                       `json:"pages"`
	Cost      CostBreakdown             `json:"cost"`
	Providers map[string]provider.Stats `json:"providers"`
}

type Complete struct {
	base
	DownloadURL   string   `json:"downloadUrl"`
	TotalDuration float64  `json:"totalDuration"`
	TotalCost     float64  `json:"totalCost"`
	Stats         JobStats `json:"stats"`
}

func NewComplete(downloadURL string, totalDuration, totalCost float64, stats JobStats) *Complete {
	return &Complete{
		base:          base{Type: TypeComplete},
		DownloadURL:   downloadURL,
		TotalDuration: totalDuration,
		TotalCost:     totalCost,
		Stats:         stats,
	}
}

type Error struct {
	base
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func NewError(message string, recoverable bool) *Error {
	return &Error{base: base{Type: TypeError}, Message: message, Recoverable: recoverable}
}
