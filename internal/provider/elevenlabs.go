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

const defaultElevenLabsEndpoint = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabs synthesizes speech through the ElevenLabs v1 API, returning MP3.
type ElevenLabs struct {
	cfg      config.ProviderConfig
	endpoint string
	client   *http.Client
}

var _ Provider = (*ElevenLabs)(nil)

func NewElevenLabs(cfg config.ProviderConfig) *ElevenLabs {
	return &ElevenLabs{
		cfg:      cfg,
		endpoint: defaultElevenLabsEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *ElevenLabs) Name() string         { return "elevenlabs" }
func (p *ElevenLabs) Priority() int        { return p.cfg.Priority }
func (p *ElevenLabs) CostPerChar() float64 { return p.cfg.CostPer1K / 1000 }
func (p *ElevenLabs) MaxChunkSize() int    { return p.cfg.MaxChunkSize }
func (p *ElevenLabs) Available() bool      { return p.cfg.Enabled && p.cfg.APIKey != "" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func (p *ElevenLabs) Synthesize(ctx context.Context, req Request) ([]byte, string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	body, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: p.cfg.Model})
	if err != nil {
		return nil, "", fmt.Errorf("encode elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", p.endpoint, voice)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build elevenlabs request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("elevenlabs returned status %d: %s", resp.StatusCode, string(b))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read elevenlabs audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("elevenlabs returned empty audio")
	}
	return audio, "audio/mpeg", nil
}
