package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/audio/speech"

// OpenAI synthesizes speech through the OpenAI audio API, returning MP3.
type OpenAI struct {
	cfg      config.ProviderConfig
	endpoint string
	client   *http.Client
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	return &OpenAI{
		cfg:      cfg,
		endpoint: defaultOpenAIEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAI) Name() string         { return "openai" }
func (p *OpenAI) Priority() int        { return p.cfg.Priority }
func (p *OpenAI) CostPerChar() float64 { return p.cfg.CostPer1K / 1000 }
func (p *OpenAI) MaxChunkSize() int    { return p.cfg.MaxChunkSize }
func (p *OpenAI) Available() bool      { return p.cfg.Enabled && p.cfg.APIKey != "" }

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (p *OpenAI) Synthesize(ctx context.Context, req Request) ([]byte, string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	payload := openAISpeechRequest{
		Model:          p.cfg.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(b))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read openai audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("openai returned empty audio")
	}
	return audio, "audio/mpeg", nil
}
