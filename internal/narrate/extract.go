package narrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// execExtractor shells out to an external extraction tool. The document
// bytes go to stdin; the tool prints a JSON Document on stdout. Images come
// back base64-encoded inside the JSON.
type execExtractor struct {
	cmd []string
	mu  sync.Mutex
}

type execDocument struct {
	Text   string `json:"text"`
	Pages  int    `json:"pages"`
	Title  string `json:"title,omitempty"`
	Tables []struct {
		Index    int    `json:"index"`
		Page     int    `json:"page,omitempty"`
		Markdown string `json:"markdown"`
	} `json:"tables,omitempty"`
	Images []struct {
		Index    int    `json:"index"`
		Page     int    `json:"page,omitempty"`
		Data     []byte `json:"data"`
		MIMEType string `json:"mime_type"`
	} `json:"images,omitempty"`
}

func NewExecExtractor(command string) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse extract command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("extract command empty")
	}
	return &execExtractor{cmd: args}, nil
}

func (e *execExtractor) Extract(ctx context.Context, filename string, data []byte) (*Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, filename)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("extract command failed: %w", err)
	}

	var raw execDocument
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("decode extract output: %w", err)
	}
	doc := &Document{Text: raw.Text, Pages: raw.Pages, Title: raw.Title}
	for _, t := range raw.Tables {
		doc.Tables = append(doc.Tables, Table{Index: t.Index, Page: t.Page, Markdown: t.Markdown})
	}
	for _, img := range raw.Images {
		doc.Images = append(doc.Images, Image{Index: img.Index, Page: img.Page, Data: img.Data, MIMEType: img.MIMEType})
	}
	return doc, nil
}

// mockExtractor treats the upload as plain UTF-8 text. Used in tests and
// for local development without an extraction tool installed.
type mockExtractor struct{}

func NewMockExtractor() Extractor { return &mockExtractor{} }

func (mockExtractor) Extract(_ context.Context, filename string, data []byte) (*Document, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("document %q contains no text", filename)
	}
	return &Document{Text: text, Pages: 1}, nil
}

// NewExtractor builds the configured extractor.
func NewExtractor(cfg config.ExtractConfig) (Extractor, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecExtractor(cfg.Command)
	case "mock", "":
		return NewMockExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extract mode %q", cfg.Mode)
	}
}
