package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lecternlabs/lectern-core/internal/config"
)

const defaultGoogleEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// GoogleTTS synthesizes speech through the Google Cloud Text-to-Speech REST
// API, returning MP3 decoded from the base64 JSON response.
type GoogleTTS struct {
	cfg      config.ProviderConfig
	endpoint string
	client   *http.Client
}

var _ Provider = (*GoogleTTS)(nil)

func NewGoogleTTS(cfg config.ProviderConfig) *GoogleTTS {
	return &GoogleTTS{
		cfg:      cfg,
		endpoint: defaultGoogleEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *GoogleTTS) Name() string         { return "google" }
func (p *GoogleTTS) Priority() int        { return p.cfg.Priority }
func (p *GoogleTTS) CostPerChar() float64 { return p.cfg.CostPer1K / 1000 }
func (p *GoogleTTS) MaxChunkSize() int    { return p.cfg.MaxChunkSize }
func (p *GoogleTTS) Available() bool      { return p.cfg.Enabled && p.cfg.APIKey != "" }

func (p *GoogleTTS) Synthesize(ctx context.Context, req Request) ([]byte, string, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.Voice
	}
	body := map[string]any{
		"input": map[string]string{"text": req.Text},
		"voice": map[string]string{
			"languageCode": "en-US",
			"name":         voice,
		},
		"audioConfig": map[string]any{"audioEncoding": "MP3"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, "", fmt.Errorf("encode google tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"?key="+p.cfg.APIKey, &buf)
	if err != nil {
		return nil, "", fmt.Errorf("build google tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("google tts http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("google tts returned status %d: %s", resp.StatusCode, string(b))
	}

	var respBody struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, "", fmt.Errorf("decode google tts response: %w", err)
	}
	if respBody.AudioContent == "" {
		return nil, "", fmt.Errorf("empty audioContent in google tts response")
	}

	audio, err := base64.StdEncoding.DecodeString(respBody.AudioContent)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 audioContent: %w", err)
	}
	return audio, "audio/mpeg", nil
}
