package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeProvider struct {
	name      string
	priority  int
	cost      float64
	limit     int
	available bool
	err       error
	calls     int
}

var _ Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) Priority() int        { return f.priority }
func (f *fakeProvider) CostPerChar() float64 { return f.cost }
func (f *fakeProvider) MaxChunkSize() int    { return f.limit }
func (f *fakeProvider) Available() bool      { return f.available }

func (f *fakeProvider) Synthesize(_ context.Context, req Request) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("audio-" + f.name), "audio/mpeg", nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSynthesizeUsesCheapestAvailable(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", cost: 0.001, limit: 4000, available: true}
	pricey := &fakeProvider{name: "pricey", cost: 0.005, limit: 4000, available: true}
	offline := &fakeProvider{name: "offline", cost: 0.0001, limit: 4000, available: false}

	m := NewManager([]Provider{pricey, cheap, offline}, newLogger())
	res, err := m.Synthesize(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "cheap" {
		t.Fatalf("expected cheapest provider, got %s", res.Provider)
	}
	if offline.calls != 0 {
		t.Fatal("unavailable provider must not be called")
	}
	wantCost := 5 * 0.001
	if res.Cost != wantCost {
		t.Fatalf("expected cost %v, got %v", wantCost, res.Cost)
	}
}

func TestSynthesizePriorityBreaksCostTies(t *testing.T) {
	second := &fakeProvider{name: "second", priority: 2, cost: 0.001, limit: 4000, available: true}
	first := &fakeProvider{name: "first", priority: 1, cost: 0.001, limit: 4000, available: true}

	m := NewManager([]Provider{second, first}, newLogger())
	res, err := m.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "first" {
		t.Fatalf("expected priority tie-break, got %s", res.Provider)
	}
}

// Two providers at cost 1 and 5 per char; the cheap one always fails. The
// fallback must report the expensive provider's name and cost.
func TestSynthesizeFallsBackOnFailure(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", cost: 1, limit: 4000, available: true, err: errors.New("synthesis down")}
	pricey := &fakeProvider{name: "pricey", cost: 5, limit: 4000, available: true}

	m := NewManager([]Provider{cheap, pricey}, newLogger())
	res, err := m.Synthesize(context.Background(), Request{Text: "abcde"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "pricey" {
		t.Fatalf("expected fallback provider, got %s", res.Provider)
	}
	if res.Cost != 25 {
		t.Fatalf("expected fallback cost 25, got %v", res.Cost)
	}
	if cheap.calls != 1 || pricey.calls != 1 {
		t.Fatalf("expected one attempt each, got %d/%d", cheap.calls, pricey.calls)
	}
}

func TestSynthesizeExhaustionReturnsAllProvidersFailed(t *testing.T) {
	a := &fakeProvider{name: "a", cost: 1, limit: 4000, available: true, err: errors.New("a down")}
	b := &fakeProvider{name: "b", cost: 2, limit: 4000, available: true, err: errors.New("b down")}

	m := NewManager([]Provider{a, b}, newLogger())
	_, err := m.Synthesize(context.Background(), Request{Text: "text"})

	var failed *AllProvidersFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if failed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", failed.Attempts)
	}
	if failed.LastProvider != "b" {
		t.Fatalf("expected last provider b, got %s", failed.LastProvider)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatal("no attempted provider may be retried within one call")
	}
}

func TestSynthesizeNoProvidersAvailable(t *testing.T) {
	offline := &fakeProvider{name: "offline", cost: 1, limit: 4000, available: false}
	m := NewManager([]Provider{offline}, newLogger())

	_, err := m.Synthesize(context.Background(), Request{Text: "text"})
	var failed *AllProvidersFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	if failed.Attempts != 0 {
		t.Fatalf("expected 0 attempts, got %d", failed.Attempts)
	}
}

func TestSynthesizeRejectsTextOverPrimaryLimit(t *testing.T) {
	small := &fakeProvider{name: "small", cost: 1, limit: 10, available: true}
	big := &fakeProvider{name: "big", cost: 2, limit: 100, available: true}

	m := NewManager([]Provider{small, big}, newLogger())
	_, err := m.Synthesize(context.Background(), Request{Text: "this text is far longer than ten characters"})

	var tooLong *TextTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TextTooLongError, got %v", err)
	}
	if small.calls != 0 || big.calls != 0 {
		t.Fatal("oversized text must never be dispatched")
	}
}

func TestSynthesizeFallbackSkipsTooSmallProviders(t *testing.T) {
	// Primary can take the text but fails; the next candidate by cost is too
	// small for it and must be skipped, not attempted.
	primary := &fakeProvider{name: "primary", cost: 1, limit: 100, available: true, err: errors.New("down")}
	tiny := &fakeProvider{name: "tiny", cost: 2, limit: 5, available: true}
	large := &fakeProvider{name: "large", cost: 3, limit: 100, available: true}

	m := NewManager([]Provider{primary, tiny, large}, newLogger())
	res, err := m.Synthesize(context.Background(), Request{Text: "twenty characters!!!"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "large" {
		t.Fatalf("expected large provider, got %s", res.Provider)
	}
	if tiny.calls != 0 {
		t.Fatal("provider with insufficient limit must not be dispatched")
	}
}

func TestSynthesizeABSampling(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", cost: 1, limit: 4000, available: true}
	second := &fakeProvider{name: "second", cost: 2, limit: 4000, available: true}

	m := NewManager([]Provider{cheap, second}, newLogger(),
		WithABRatio(0.5), withRand(func() float64 { return 0.1 }))

	res, err := m.Synthesize(context.Background(), Request{Text: "ab test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "second" {
		t.Fatalf("expected a/b diverted provider, got %s", res.Provider)
	}

	// Above the ratio the primary is used.
	m = NewManager([]Provider{cheap, second}, newLogger(),
		WithABRatio(0.5), withRand(func() float64 { return 0.9 }))
	res, err = m.Synthesize(context.Background(), Request{Text: "ab test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "cheap" {
		t.Fatalf("expected primary provider, got %s", res.Provider)
	}
}

func TestSynthesizeABDivertedCallStillFallsBack(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", cost: 1, limit: 4000, available: true}
	second := &fakeProvider{name: "second", cost: 2, limit: 4000, available: true, err: errors.New("down")}

	m := NewManager([]Provider{cheap, second}, newLogger(),
		WithABRatio(1.0), withRand(func() float64 { return 0.0 }))

	res, err := m.Synthesize(context.Background(), Request{Text: "ab test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "cheap" {
		t.Fatalf("expected fallback to primary after diverted failure, got %s", res.Provider)
	}
	if second.calls != 1 {
		t.Fatal("diverted provider should have been attempted first")
	}
}

func TestSynthesizeABSkipsSampleWhenTextExceedsSampledLimit(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", cost: 1, limit: 100, available: true}
	second := &fakeProvider{name: "second", cost: 2, limit: 10, available: true}

	m := NewManager([]Provider{cheap, second}, newLogger(),
		WithABRatio(1.0), withRand(func() float64 { return 0.0 }))

	// The text fits the primary but not the sampled provider; the call
	// must synthesize on the primary, never reject.
	text := "this text fits the primary provider comfortably"
	res, err := m.Synthesize(context.Background(), Request{Text: text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "cheap" {
		t.Fatalf("expected primary provider, got %s", res.Provider)
	}
	if second.calls != 0 {
		t.Fatal("sampled provider must not be dispatched when the text exceeds its limit")
	}
}

func TestPrimaryChunkLimit(t *testing.T) {
	m := NewManager(nil, newLogger(), WithDefaultChunkLimit(1500))
	if got := m.PrimaryChunkLimit(); got != 1500 {
		t.Fatalf("expected conservative default 1500, got %d", got)
	}

	cheap := &fakeProvider{name: "cheap", cost: 1, limit: 4096, available: true}
	pricey := &fakeProvider{name: "pricey", cost: 2, limit: 9999, available: true}
	m = NewManager([]Provider{pricey, cheap}, newLogger())
	if got := m.PrimaryChunkLimit(); got != 4096 {
		t.Fatalf("expected primary's limit 4096, got %d", got)
	}
}

func TestEstimateCostsIsPure(t *testing.T) {
	p := &fakeProvider{name: "p", cost: 0.01, limit: 4000, available: true}
	m := NewManager([]Provider{p}, newLogger())

	costs := m.EstimateCosts("ten chars!")
	if costs["p"] != 0.1 {
		t.Fatalf("expected cost 0.1, got %v", costs["p"])
	}
	if p.calls != 0 {
		t.Fatal("estimate must not dispatch")
	}
	if stats := m.Stats(); len(stats) != 0 {
		t.Fatal("estimate must not record metrics")
	}
}

func TestStatsRecordsSamples(t *testing.T) {
	failing := &fakeProvider{name: "failing", cost: 1, limit: 4000, available: true, err: errors.New("down")}
	working := &fakeProvider{name: "working", cost: 2, limit: 4000, available: true}

	m := NewManager([]Provider{failing, working}, newLogger())
	if _, err := m.Synthesize(context.Background(), Request{Text: "abc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := m.Stats()
	if stats["failing"].Requests != 1 || stats["failing"].Failures != 1 {
		t.Fatalf("unexpected failing stats: %+v", stats["failing"])
	}
	if stats["working"].Requests != 1 || stats["working"].Failures != 0 {
		t.Fatalf("unexpected working stats: %+v", stats["working"])
	}
	if stats["working"].TotalCost != 6 {
		t.Fatalf("expected recorded cost 6, got %v", stats["working"].TotalCost)
	}
}
