package provider

import (
	"fmt"
	"log/slog"

	"github.com/lecternlabs/lectern-core/internal/config"
)

// BuildRegistry constructs every enabled backend from config and wraps the
// set in a Manager.
func BuildRegistry(cfg config.ProvidersConfig, log *slog.Logger) (*Manager, error) {
	var providers []Provider

	if cfg.OpenAI.Enabled {
		providers = append(providers, NewOpenAI(cfg.OpenAI))
	}
	if cfg.Google.Enabled {
		providers = append(providers, NewGoogleTTS(cfg.Google))
	}
	if cfg.ElevenLabs.Enabled {
		providers = append(providers, NewElevenLabs(cfg.ElevenLabs))
	}
	if cfg.Exec.Enabled {
		execProvider, err := NewExec(cfg.Exec)
		if err != nil {
			return nil, fmt.Errorf("configure exec provider: %w", err)
		}
		providers = append(providers, execProvider)
	}
	if cfg.Mock.Enabled {
		providers = append(providers, NewMock(cfg.Mock))
	}

	for _, p := range providers {
		log.Info("synthesis provider registered",
			slog.String("provider", p.Name()),
			slog.Bool("available", p.Available()),
			slog.Int("max_chunk_size", p.MaxChunkSize()))
	}

	return NewManager(providers, log,
		WithABRatio(cfg.ABRatio),
		WithDefaultChunkLimit(cfg.DefaultChunkLimit)), nil
}
