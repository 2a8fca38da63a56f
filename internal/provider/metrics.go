package provider

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats is a point-in-time snapshot of one provider's rolling metrics.
type Stats struct {
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TotalCost    float64 `json:"total_cost"`
	TotalBytes   int64   `json:"total_bytes"`
}

type rolling struct {
	requests     int64
	failures     int64
	totalLatency time.Duration
	totalCost    float64
	totalBytes   int64
}

// metricsSet aggregates per-provider request samples in memory and mirrors
// them onto OpenTelemetry instruments.
type metricsSet struct {
	mu         sync.Mutex
	byProvider map[string]*rolling

	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	cost     metric.Float64Counter
}

func newMetricsSet() *metricsSet {
	s := &metricsSet{byProvider: make(map[string]*rolling)}
	meter := otel.Meter("lectern/provider")
	s.requests, _ = meter.Int64Counter("tts.provider.requests",
		metric.WithDescription("Synthesis attempts per provider"))
	s.failures, _ = meter.Int64Counter("tts.provider.failures",
		metric.WithDescription("Failed synthesis attempts per provider"))
	s.latency, _ = meter.Float64Histogram("tts.provider.latency",
		metric.WithDescription("Synthesis latency per provider"), metric.WithUnit("s"))
	s.cost, _ = meter.Float64Counter("tts.provider.cost",
		metric.WithDescription("Accumulated synthesis cost per provider"))
	return s
}

func (s *metricsSet) record(name string, elapsed time.Duration, cost float64, audioBytes int, err error) {
	s.mu.Lock()
	r, ok := s.byProvider[name]
	if !ok {
		r = &rolling{}
		s.byProvider[name] = r
	}
	r.requests++
	r.totalLatency += elapsed
	if err != nil {
		r.failures++
	} else {
		r.totalCost += cost
		r.totalBytes += int64(audioBytes)
	}
	s.mu.Unlock()

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("provider", name))
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if err != nil && s.failures != nil {
		s.failures.Add(ctx, 1, attrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err == nil && s.cost != nil {
		s.cost.Add(ctx, cost, attrs)
	}
}

func (s *metricsSet) snapshot() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Stats, len(s.byProvider))
	for name, r := range s.byProvider {
		st := Stats{
			Requests:   r.requests,
			Failures:   r.failures,
			TotalCost:  r.totalCost,
			TotalBytes: r.totalBytes,
		}
		if r.requests > 0 {
			st.AvgLatencyMS = float64(r.totalLatency.Milliseconds()) / float64(r.requests)
		}
		out[name] = st
	}
	return out
}
