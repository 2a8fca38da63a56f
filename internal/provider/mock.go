package provider

import (
	"context"
	"fmt"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// Mock is a deterministic in-memory synthesizer for tests and development.
type Mock struct {
	cfg config.ProviderConfig

	// FailWith, when set, makes every synthesis call fail.
	FailWith error
}

var _ Provider = (*Mock)(nil)

func NewMock(cfg config.ProviderConfig) *Mock {
	return &Mock{cfg: cfg}
}

func (p *Mock) Name() string         { return "mock" }
func (p *Mock) Priority() int        { return p.cfg.Priority }
func (p *Mock) CostPerChar() float64 { return p.cfg.CostPer1K / 1000 }
func (p *Mock) MaxChunkSize() int    { return p.cfg.MaxChunkSize }
func (p *Mock) Available() bool      { return p.cfg.Enabled }

func (p *Mock) Synthesize(_ context.Context, req Request) ([]byte, string, error) {
	if p.FailWith != nil {
		return nil, "", p.FailWith
	}
	preview := req.Text
	if len(preview) > 16 {
		preview = preview[:16]
	}
	audio := []byte(fmt.Sprintf("mock-audio:%d:%s", len(req.Text), preview))
	return audio, "application/octet-stream", nil
}
