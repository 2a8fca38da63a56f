package provider

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"
)

// Manager ranks providers by cost and executes synthesis with per-call
// fallback across untried backends. One Manager may be shared across
// concurrent jobs; its metrics are the only mutable shared state.
type Manager struct {
	providers    []Provider
	abRatio      float64
	defaultLimit int
	metrics      *metricsSet
	rng          func() float64
	log          *slog.Logger
}

type Option func(*Manager)

// WithABRatio diverts the given fraction of calls to the second-cheapest
// available provider for comparative telemetry.
func WithABRatio(ratio float64) Option {
	return func(m *Manager) { m.abRatio = ratio }
}

// WithDefaultChunkLimit sets the conservative chunk limit reported when no
// provider is available.
func WithDefaultChunkLimit(limit int) Option {
	return func(m *Manager) { m.defaultLimit = limit }
}

func withRand(rng func() float64) Option {
	return func(m *Manager) { m.rng = rng }
}

// DefaultChunkLimit is the conservative fallback reported by
// PrimaryChunkLimit when no provider is available.
const DefaultChunkLimit = 1500

func NewManager(providers []Provider, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		providers:    providers,
		defaultLimit: DefaultChunkLimit,
		metrics:      newMetricsSet(),
		rng:          rand.Float64,
		log:          log.With(slog.String("component", "provider-manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ranked returns available providers ordered ascending by cost per character,
// ties broken by fixed priority.
func (m *Manager) ranked() []Provider {
	candidates := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if p.Available() {
			candidates = append(candidates, p)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CostPerChar() != candidates[j].CostPerChar() {
			return candidates[i].CostPerChar() < candidates[j].CostPerChar()
		}
		return candidates[i].Priority() < candidates[j].Priority()
	})
	return candidates
}

// PrimaryChunkLimit returns the maximum chunk size of the cheapest available
// provider, so text is never split more finely than the primary requires.
func (m *Manager) PrimaryChunkLimit() int {
	candidates := m.ranked()
	if len(candidates) == 0 {
		return m.defaultLimit
	}
	return candidates[0].MaxChunkSize()
}

// EstimateCosts returns the cost each configured provider would charge for
// the text. Pure; no metrics side effects.
func (m *Manager) EstimateCosts(text string) map[string]float64 {
	costs := make(map[string]float64, len(m.providers))
	for _, p := range m.providers {
		costs[p.Name()] = float64(len(text)) * p.CostPerChar()
	}
	return costs
}

// Stats returns a snapshot of per-provider rolling metrics.
func (m *Manager) Stats() map[string]Stats {
	return m.metrics.snapshot()
}

// Synthesize runs the text against the cheapest available provider, falling
// back through untried eligible providers on retryable failure. Text longer
// than the primary candidate's limit is rejected before dispatch with
// TextTooLongError; that is a chunking bug upstream, not a provider fault,
// and never triggers fallback.
func (m *Manager) Synthesize(ctx context.Context, req Request) (*Result, error) {
	candidates := m.ranked()
	if len(candidates) == 0 {
		return nil, &AllProvidersFailedError{}
	}

	// Length is judged against the true primary: chunking is planned
	// around PrimaryChunkLimit, so oversize text here is an upstream bug.
	if limit := candidates[0].MaxChunkSize(); len(req.Text) > limit {
		return nil, &TextTooLongError{Provider: candidates[0].Name(), Length: len(req.Text), Limit: limit}
	}

	// A/B sampling substitutes the second-cheapest candidate as the first
	// attempt; fallback order past it is still by ascending cost. The
	// sample is skipped when the text does not fit the sampled provider,
	// so sampling never rejects a request the primary would accept.
	order := candidates
	if m.abRatio > 0 && len(candidates) > 1 && m.rng() < m.abRatio &&
		len(req.Text) <= candidates[1].MaxChunkSize() {
		order = make([]Provider, 0, len(candidates))
		order = append(order, candidates[1], candidates[0])
		order = append(order, candidates[2:]...)
		m.log.Debug("a/b sampling diverted call", slog.String("provider", order[0].Name()))
	}

	var lastErr error
	var lastName string
	attempts := 0
	for _, p := range order {
		if len(req.Text) > p.MaxChunkSize() {
			continue
		}
		attempts++
		start := time.Now()
		audio, mime, err := p.Synthesize(ctx, req)
		elapsed := time.Since(start)
		cost := float64(len(req.Text)) * p.CostPerChar()
		m.metrics.record(p.Name(), elapsed, cost, len(audio), err)
		if err != nil {
			lastErr = err
			lastName = p.Name()
			m.log.Warn("provider synthesis failed, falling back",
				slog.String("provider", p.Name()),
				slog.Int("chars", len(req.Text)),
				slog.String("error", err.Error()))
			continue
		}
		return &Result{
			Audio:    audio,
			MIMEType: mime,
			Provider: p.Name(),
			Cost:     cost,
			Elapsed:  elapsed,
		}, nil
	}
	return nil, &AllProvidersFailedError{Attempts: attempts, LastProvider: lastName, Err: lastErr}
}
