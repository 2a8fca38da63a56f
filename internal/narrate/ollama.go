package narrate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/pool"
)

const (
	tableSystemPrompt = "You convert data tables into short spoken prose for an audiobook listener. " +
		"Describe the key figures and trends in two or three sentences. Do not read every cell."
	captionSystemPrompt = "You caption figures for an audiobook listener. " +
		"Describe what the image shows in one or two sentences."
)

type ollamaClient struct {
	endpoint string
	model    string
	http     *http.Client
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system,omitempty"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func newOllamaClient(endpoint, model string) *ollamaClient {
	return &ollamaClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		http:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *ollamaClient) generate(ctx context.Context, system, prompt string, images []string) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		System: system,
		Images: images,
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %s", resp.Status)
	}
	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// TableNarrator rewrites extracted tables as spoken prose.
type TableNarrator struct {
	client   *ollamaClient
	unitCost float64
	log      *slog.Logger
}

func NewTableNarrator(cfg config.NarrationConfig, log *slog.Logger) *TableNarrator {
	return &TableNarrator{
		client:   newOllamaClient(cfg.OllamaEndpoint, cfg.Model),
		unitCost: cfg.TableUnitCost,
		log:      log.With(slog.String("component", "narrate.tables")),
	}
}

func (n *TableNarrator) UnitCost() float64 { return n.unitCost }

// Narrate returns prose for one table. Failures degrade to an empty
// narration; the table then reads as plain document text with nothing
// injected, unlike captions where a placeholder is the contract.
func (n *TableNarrator) Narrate(ctx context.Context, table Table) string {
	prompt := "Table " + fmt.Sprint(table.Index+1) + ":\n\n" + table.Markdown
	prose, err := n.client.generate(ctx, tableSystemPrompt, prompt, nil)
	if err != nil || prose == "" {
		n.log.Warn("table narration failed",
			slog.Int("table", table.Index),
			slog.String("error", errString(err)))
		return ""
	}
	return prose
}

// NarrateAll processes tables in order, sequentially; tables are few and
// the model is the bottleneck.
func (n *TableNarrator) NarrateAll(ctx context.Context, tables []Table) []string {
	out := make([]string, len(tables))
	for i, table := range tables {
		out[i] = n.Narrate(ctx, table)
	}
	return out
}

// ImageCaptioner produces spoken captions for extracted figures using a
// vision-capable model.
type ImageCaptioner struct {
	client      *ollamaClient
	concurrency int
	unitCost    float64
	log         *slog.Logger
}

func NewImageCaptioner(cfg config.NarrationConfig, log *slog.Logger) *ImageCaptioner {
	concurrency := cfg.CaptionConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	return &ImageCaptioner{
		client:      newOllamaClient(cfg.OllamaEndpoint, cfg.Model),
		concurrency: concurrency,
		unitCost:    cfg.ImageUnitCost,
		log:         log.With(slog.String("component", "narrate.captions")),
	}
}

func (c *ImageCaptioner) UnitCost() float64 { return c.unitCost }

// CaptionAll captions images with bounded concurrency, preserving input
// order. A failed caption becomes a placeholder, never an error.
func (c *ImageCaptioner) CaptionAll(ctx context.Context, images []Image) []string {
	captions, errs := pool.RunBounded(ctx, images, c.concurrency,
		func(ctx context.Context, _ int, img Image) (string, error) {
			encoded := base64.StdEncoding.EncodeToString(img.Data)
			prompt := fmt.Sprintf("Caption figure %d for a listener.", img.Index+1)
			return c.client.generate(ctx, captionSystemPrompt, prompt, []string{encoded})
		})
	for i := range captions {
		if errs[i] != nil || captions[i] == "" {
			c.log.Warn("image caption failed",
				slog.Int("image", images[i].Index),
				slog.String("error", errString(errs[i])))
			captions[i] = fmt.Sprintf("The document includes figure %d.", images[i].Index+1)
		}
	}
	return captions
}

func errString(err error) string {
	if err == nil {
		return "empty response"
	}
	return err.Error()
}
