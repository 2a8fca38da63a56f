// Package narrate turns an uploaded document into narration-ready text:
// extraction, table prose, image captions, and optional cover artwork.
package narrate

import "context"

// Table is a structured table lifted out of the source document, rendered
// as markdown for the narrator model.
type Table struct {
	Index    int    `json:"index"`
	Page     int    `json:"page,omitempty"`
	Markdown string `json:"markdown"`
}

// Image is an embedded figure extracted from the document.
type Image struct {
	Index    int    `json:"index"`
	Page     int    `json:"page,omitempty"`
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Document is the extraction result the pipeline assembles narration from.
type Document struct {
	Text   string  `json:"text"`
	Pages  int     `json:"pages"`
	Title  string  `json:"title,omitempty"`
	Tables []Table `json:"tables,omitempty"`
	Images []Image `json:"images,omitempty"`
}

// Extractor converts raw document bytes into a Document.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*Document, error)
}
