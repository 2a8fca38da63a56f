package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBoundedOrderedResults(t *testing.T) {
	items := []int{5, 4, 3, 2, 1, 0}
	results, errs := RunBounded(context.Background(), items, 3, func(_ context.Context, _ int, item int) (int, error) {
		// Later items finish first.
		time.Sleep(time.Duration(item) * time.Millisecond)
		return item * 10, nil
	})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("item %d: unexpected error %v", i, err)
		}
	}
	for i, item := range items {
		if results[i] != item*10 {
			t.Fatalf("result %d out of order: got %d want %d", i, results[i], item*10)
		}
	}
}

func TestRunBoundedRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	items := make([]int, 20)
	_, errs := RunBounded(context.Background(), items, 4, func(_ context.Context, _ int, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if p := peak.Load(); p > 4 {
		t.Fatalf("concurrency limit exceeded: peak %d", p)
	}
}

func TestRunBoundedRecordsErrorsInPlace(t *testing.T) {
	boom := errors.New("boom")
	items := []int{0, 1, 2, 3}
	results, errs := RunBounded(context.Background(), items, 2, func(_ context.Context, _ int, item int) (int, error) {
		if item%2 == 1 {
			return 0, boom
		}
		return item, nil
	})
	if errs[0] != nil || errs[2] != nil {
		t.Fatal("unexpected error on even items")
	}
	if !errors.Is(errs[1], boom) || !errors.Is(errs[3], boom) {
		t.Fatal("expected boom on odd items")
	}
	if results[0] != 0 || results[2] != 2 {
		t.Fatal("expected successful results preserved")
	}
}

func TestRunBoundedEmptyItems(t *testing.T) {
	results, errs := RunBounded(context.Background(), nil, 3, func(_ context.Context, _ int, _ int) (int, error) {
		t.Fatal("task must not run")
		return 0, nil
	})
	if len(results) != 0 || len(errs) != 0 {
		t.Fatal("expected empty results")
	}
}

func TestRunBoundedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := make([]int, 8)
	_, errs := RunBounded(ctx, items, 2, func(ctx context.Context, _ int, _ int) (struct{}, error) {
		return struct{}{}, nil
	})
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("item %d: expected context.Canceled, got %v", i, err)
		}
	}
}
