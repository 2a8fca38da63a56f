package narrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// Artwork is a generated cover image for the narration.
type Artwork struct {
	ImageB64 string
	MIMEType string
	Prompt   string
	Cost     float64
}

// ArtworkGenerator calls an image generation API. Artwork is a side task:
// callers race it against a deadline and drop it on failure.
type ArtworkGenerator struct {
	endpoint string
	apiKey   string
	model    string
	unitCost float64
	timeout  time.Duration
	http     *http.Client
}

func NewArtworkGenerator(cfg config.ArtworkConfig) *ArtworkGenerator {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/images/generations"
	}
	return &ArtworkGenerator{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		unitCost: cfg.UnitCost,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
	}
}

// Timeout is how long the pipeline holds the job open for artwork after
// audio is ready.
func (g *ArtworkGenerator) Timeout() time.Duration { return g.timeout }

// Prompt derives a cover-art prompt from the document title or opening text.
func (g *ArtworkGenerator) Prompt(doc *Document) string {
	subject := doc.Title
	if subject == "" {
		text := strings.TrimSpace(doc.Text)
		if len(text) > 120 {
			text = text[:120]
		}
		subject = text
	}
	return "Minimalist audiobook cover illustration for: " + subject
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate produces one cover image. The caller owns the deadline via ctx.
func (g *ArtworkGenerator) Generate(ctx context.Context, prompt string) (*Artwork, error) {
	payload := imageRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "b64_json",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("image api returned %d: %s", resp.StatusCode, snippet)
	}
	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image api returned no image")
	}
	return &Artwork{
		ImageB64: out.Data[0].B64JSON,
		MIMEType: "image/png",
		Prompt:   prompt,
		Cost:     g.unitCost,
	}, nil
}
