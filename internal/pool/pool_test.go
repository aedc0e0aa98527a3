package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/scraper"
	"imgscraper/pkg/searchkey"
)

// mockRunner records concurrency and returns a canned outcome per key
type mockRunner struct {
	delay   time.Duration
	running int32
	maxSeen int32
	calls   int32
	panicOn searchkey.Key
	failOn  searchkey.Key
}

func (m *mockRunner) Run(ctx context.Context, key searchkey.Key) scraper.Outcome {
	atomic.AddInt32(&m.calls, 1)
	n := atomic.AddInt32(&m.running, 1)
	defer atomic.AddInt32(&m.running, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, n) {
			break
		}
	}

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if key == m.panicOn {
		panic("boom")
	}
	if key == m.failOn {
		return scraper.FailedOutcome(key, errs.New(errs.ErrorTypeSession, "browser crashed"))
	}
	return scraper.Outcome{Key: key, SavedCount: 1, Reason: scraper.ReasonQuotaReached}
}

func runAll(t *testing.T, pool *WorkerPool, keys []searchkey.Key) []Result {
	t.Helper()

	var results []Result
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			results = append(results, result)
		}
	}()

	for i, key := range keys {
		pool.Submit(Job{Index: i, Key: key})
	}

	pool.Stop()
	wg.Wait()
	return results
}

func keysN(n int) []searchkey.Key {
	keys := make([]searchkey.Key, n)
	for i := range keys {
		keys[i] = searchkey.Key(fmt.Sprintf("key%d", i))
	}
	return keys
}

func TestWorkerPoolBasicFunctionality(t *testing.T) {
	runner := &mockRunner{delay: 5 * time.Millisecond}
	pool := NewWorkerPool(3, runner.Run, logger.NewTestLogger())
	pool.Start(context.Background())

	results := runAll(t, pool, keysN(10))

	if len(results) != 10 {
		t.Fatalf("Expected 10 results, got %d", len(results))
	}

	seen := make(map[int]bool)
	for _, result := range results {
		if result.Outcome.Key != result.Job.Key {
			t.Errorf("result for %q carries outcome for %q", result.Job.Key, result.Outcome.Key)
		}
		if result.Panicked {
			t.Errorf("unexpected panic for %q", result.Job.Key)
		}
		if result.Duration <= 0 {
			t.Errorf("expected positive duration for %q", result.Job.Key)
		}
		seen[result.Job.Index] = true
	}
	if len(seen) != 10 {
		t.Errorf("Expected 10 distinct job indexes, got %d", len(seen))
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	runner := &mockRunner{delay: 30 * time.Millisecond}
	pool := NewWorkerPool(2, runner.Run, nil)
	pool.Start(context.Background())

	runAll(t, pool, keysN(8))

	if got := atomic.LoadInt32(&runner.maxSeen); got > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, saw %d", got)
	}
	if got := atomic.LoadInt32(&runner.calls); got != 8 {
		t.Errorf("Expected 8 calls, got %d", got)
	}
}

func TestWorkerPoolRunsInParallel(t *testing.T) {
	runner := &mockRunner{delay: 100 * time.Millisecond}
	pool := NewWorkerPool(5, runner.Run, nil)
	pool.Start(context.Background())

	start := time.Now()
	runAll(t, pool, keysN(10))
	elapsed := time.Since(start)

	// 10 jobs at 100ms on 5 workers take about 200ms
	if elapsed > 600*time.Millisecond {
		t.Errorf("Expected parallel execution, took %v", elapsed)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	runner := &mockRunner{panicOn: "key1", failOn: "key2"}
	log := logger.NewTestLogger()
	pool := NewWorkerPool(2, runner.Run, log)
	pool.Start(context.Background())

	results := runAll(t, pool, keysN(4))

	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}

	for _, result := range results {
		switch result.Job.Key {
		case "key1":
			if !result.Panicked || result.Outcome.Reason != scraper.ReasonFailed || result.Outcome.Err == nil {
				t.Errorf("panic not converted to failed outcome: %+v", result)
			}
		case "key2":
			if result.Panicked || result.Outcome.Reason != scraper.ReasonFailed {
				t.Errorf("expected plain failed outcome: %+v", result)
			}
		default:
			if result.Outcome.Reason != scraper.ReasonQuotaReached || result.Outcome.SavedCount != 1 {
				t.Errorf("sibling affected by failure: %+v", result)
			}
		}
	}

	if !log.HasError() {
		t.Error("Expected recovered panic to be logged")
	}
}

func TestWorkerPoolCancelledContextStillYieldsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewWorkerPool(2, func(ctx context.Context, key searchkey.Key) scraper.Outcome {
		if ctx.Err() != nil {
			return scraper.Outcome{Key: key, Reason: scraper.ReasonCancelled}
		}
		return scraper.Outcome{Key: key, Reason: scraper.ReasonQuotaReached}
	}, nil)
	pool.Start(ctx)

	results := runAll(t, pool, keysN(5))

	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}
	for _, result := range results {
		if result.Outcome.Reason != scraper.ReasonCancelled {
			t.Errorf("Expected cancelled outcome, got %s", result.Outcome.Reason)
		}
	}
}

func TestWorkerPoolStopIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(0, (&mockRunner{}).Run, nil)
	if pool.GetActiveWorkers() != 1 {
		t.Errorf("Expected worker count clamped to 1, got %d", pool.GetActiveWorkers())
	}
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	if _, ok := <-pool.Results(); ok {
		t.Error("Expected closed results channel")
	}
}
