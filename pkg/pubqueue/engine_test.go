package pubqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "crosspub/pkg/logx"
)

func newTestEngine(t *testing.T, adapter Adapter, mut func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Adapter:           adapter,
		TickInterval:      10 * time.Millisecond,
		MaxConcurrent:     4,
		DefaultMaxRetries: 3,
		BaseRetryDelay:    5 * time.Millisecond,
		PublishTimeout:    2 * time.Second,
		Logger:            logx.Nop(),
	}
	if mut != nil {
		mut(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Stop(ctx)
	})
	return e
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", d, what)
}

func okAdapter() Adapter {
	return AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		return PublishResult{Success: true, RemoteID: "r-" + platform}, nil
	})
}

func enqueueOne(t *testing.T, e *Engine, mut func(*EnqueueRequest)) string {
	t.Helper()
	req := EnqueueRequest{
		ContentID: "c1",
		Title:     "hello",
		Body:      "body text",
		Platforms: []string{"p1"},
		Priority:  PriorityMedium,
	}
	if mut != nil {
		mut(&req)
	}
	id, err := e.Enqueue(req)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	tests := []struct {
		name string
		mut  func(*EnqueueRequest)
		want error
	}{
		{name: "no platforms", mut: func(r *EnqueueRequest) { r.Platforms = nil }, want: ErrNoPlatforms},
		{name: "blank platforms", mut: func(r *EnqueueRequest) { r.Platforms = []string{" ", ""} }, want: ErrNoPlatforms},
		{name: "empty body", mut: func(r *EnqueueRequest) { r.Body = "  " }, want: ErrEmptyContent},
		{name: "unknown priority", mut: func(r *EnqueueRequest) { r.Priority = "asap" }, want: ErrUnknownPriority},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := EnqueueRequest{Body: "b", Platforms: []string{"p"}, Priority: PriorityLow}
			tt.mut(&req)
			if _, err := e.Enqueue(req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnqueueStatusReflectsDueness(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	due := enqueueOne(t, e, nil)
	future := enqueueOne(t, e, func(r *EnqueueRequest) { r.ScheduledTime = time.Now().Add(time.Hour) })

	if it, _ := e.Get(due); it.Status != StatusPending {
		t.Fatalf("due item status = %s, want pending", it.Status)
	}
	if it, _ := e.Get(future); it.Status != StatusScheduled {
		t.Fatalf("future item status = %s, want scheduled", it.Status)
	}
}

// Urgent dispatches before low even with room for only one item in flight.
func TestUrgentDispatchesBeforeLow(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		order []string
	)
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		mu.Lock()
		order = append(order, item.ContentID)
		mu.Unlock()
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, func(c *Config) { c.MaxConcurrent = 1 })

	low := enqueueOne(t, e, func(r *EnqueueRequest) { r.ContentID = "B"; r.Priority = PriorityLow })
	urgent := enqueueOne(t, e, func(r *EnqueueRequest) { r.ContentID = "A"; r.Priority = PriorityUrgent })

	e.Start(context.Background())

	waitFor(t, 2*time.Second, "both items published", func() bool {
		a, _ := e.Get(urgent)
		b, _ := e.Get(low)
		return a.Status == StatusPublished && b.Status == StatusPublished
	})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("publish order = %v, want [A B]", order)
	}
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	t.Parallel()
	var inFlight, maxSeen int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if n <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, func(c *Config) {
		c.MaxConcurrent = 2
		c.TickInterval = 5 * time.Millisecond
	})

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, enqueueOne(t, e, nil))
	}
	e.Start(context.Background())

	waitFor(t, 5*time.Second, "all items published", func() bool {
		for _, id := range ids {
			if it, _ := e.Get(id); it.Status != StatusPublished {
				return false
			}
		}
		return true
	})

	if got := atomic.LoadInt64(&maxSeen); got > 2 {
		t.Fatalf("observed %d concurrent items, cap is 2", got)
	}
}

func TestRetryExhaustion(t *testing.T) {
	t.Parallel()
	var attempts int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		atomic.AddInt64(&attempts, 1)
		return PublishResult{}, errors.New("platform down")
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = 2 })
	e.Start(context.Background())

	waitFor(t, 5*time.Second, "item failed terminally", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusFailed
	})

	// maxRetries+1 total attempts, no more afterwards.
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Fatalf("terminal item was retried again: attempts = %d", got)
	}

	it, _ := e.Get(id)
	if it.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", it.RetryCount)
	}
	if it.LastError != "platform down" {
		t.Fatalf("LastError = %q, want adapter error", it.LastError)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	t.Parallel()
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		return PublishResult{}, errors.New("nope")
	})
	// Large base so the retry stays queued and we can inspect its schedule.
	e := newTestEngine(t, adapter, func(c *Config) { c.BaseRetryDelay = time.Hour })

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = 3 })
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "first retry scheduled", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusRetrying
	})

	it, _ := e.Get(id)
	if it.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", it.RetryCount)
	}
	// Both timestamps come from the same settle instant: delay is exactly
	// base * 2^(1-1).
	if got := it.ScheduledTime.Sub(it.UpdatedAt); got != time.Hour {
		t.Fatalf("backoff delay = %v, want 1h", got)
	}
}

func TestNoRetryFailsImmediately(t *testing.T) {
	t.Parallel()
	var attempts int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		atomic.AddInt64(&attempts, 1)
		return PublishResult{}, NoRetry(errors.New("content rejected"))
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = 5 })
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "item failed", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusFailed
	})
	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Fatalf("attempts = %d, want 1 (permanent failure)", got)
	}
	it, _ := e.Get(id)
	if it.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", it.RetryCount)
	}
}

// Item with two platforms: one fails on the first pass, both succeed on the
// retry. The item must pass through retrying exactly once and finish
// published with two success results.
func TestPartialFailureThenRetrySucceeds(t *testing.T) {
	t.Parallel()
	var p2Calls int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		if platform == "p2" && atomic.AddInt64(&p2Calls, 1) == 1 {
			return PublishResult{}, errors.New("p2 hiccup")
		}
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, nil)

	events, unsub := e.Events().Subscribe(64)
	defer unsub()

	id := enqueueOne(t, e, func(r *EnqueueRequest) {
		r.Platforms = []string{"p1", "p2"}
		r.MaxRetries = 1
	})
	e.Start(context.Background())

	waitFor(t, 3*time.Second, "item published", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusPublished
	})

	it, _ := e.Get(id)
	if it.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", it.RetryCount)
	}
	if len(it.Results) != 2 {
		t.Fatalf("Results = %d entries, want 2", len(it.Results))
	}
	for _, r := range it.Results {
		if !r.Success {
			t.Fatalf("result for %s not success: %q", r.Platform, r.Error)
		}
	}

	// The lifecycle must have passed through retrying.
	sawRetrying := false
	for {
		select {
		case ev := <-events:
			if ev.Type == EventItemRetrying {
				sawRetrying = true
			}
		default:
			if !sawRetrying {
				t.Fatal("no item.retrying event observed")
			}
			return
		}
	}
}

func TestRateLimiterGateFailsOverBudget(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), func(c *Config) {
		c.MaxConcurrent = 1
		c.Policies = PolicyTable{"x": {MaxPerHour: 2}}
	})

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueueOne(t, e, func(r *EnqueueRequest) {
			r.Platforms = []string{"x"}
			r.MaxRetries = -1 // no retries: the block surfaces as terminal failure
		}))
	}
	e.Start(context.Background())

	waitFor(t, 3*time.Second, "all items settled", func() bool {
		for _, id := range ids {
			if it, _ := e.Get(id); !it.Status.Terminal() {
				return false
			}
		}
		return true
	})

	published, limited := 0, 0
	for _, id := range ids {
		it, _ := e.Get(id)
		switch it.Status {
		case StatusPublished:
			published++
		case StatusFailed:
			limited++
			if it.LastError != reasonHourlyBudget {
				t.Fatalf("LastError = %q, want %q", it.LastError, reasonHourlyBudget)
			}
			if len(it.Results) != 1 || it.Results[0].Success {
				t.Fatalf("blocked item should carry one failed platform result, got %+v", it.Results)
			}
		}
	}
	if published != 2 || limited != 1 {
		t.Fatalf("published=%d limited=%d, want 2/1", published, limited)
	}
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.ScheduledTime = time.Now().Add(time.Hour) })

	if !e.Cancel(id) {
		t.Fatal("first Cancel should succeed")
	}
	if e.Cancel(id) {
		t.Fatal("second Cancel on a terminal item should report failure")
	}
	if e.Cancel("no-such-id") {
		t.Fatal("Cancel of unknown id should report failure")
	}
	it, _ := e.Get(id)
	if it.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", it.Status)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.ScheduledTime = time.Now().Add(time.Hour) })
	if !e.Remove(id) {
		t.Fatal("Remove of a queued item should succeed")
	}
	if _, ok := e.Get(id); ok {
		t.Fatal("removed item still present")
	}
	if e.Remove(id) {
		t.Fatal("Remove of unknown id should report failure")
	}
}

func TestRemoveInFlightDefersDeletion(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, nil)
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "item in flight", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusProcessing
	})

	if !e.Remove(id) {
		t.Fatal("Remove of in-flight item should succeed (mark-for-cancellation)")
	}
	// Still visible (cancelled) until its publish call returns.
	if it, ok := e.Get(id); !ok || it.Status != StatusCancelled {
		t.Fatalf("in-flight removed item should read cancelled, got ok=%v status=%s", ok, it.Status)
	}

	close(release)
	waitFor(t, 2*time.Second, "item deleted after release", func() bool {
		_, ok := e.Get(id)
		return !ok
	})
}

func TestSetPriorityRejections(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.ScheduledTime = time.Now().Add(time.Hour) })

	if e.SetPriority(id, "whenever") {
		t.Fatal("unknown priority should be rejected")
	}
	if e.SetPriority("no-such-id", PriorityHigh) {
		t.Fatal("unknown id should be rejected")
	}
	if !e.SetPriority(id, PriorityUrgent) {
		t.Fatal("valid reprioritize should succeed")
	}
	if it, _ := e.Get(id); it.Priority != PriorityUrgent {
		t.Fatalf("priority = %s, want urgent", it.Priority)
	}

	e.Cancel(id)
	if e.SetPriority(id, PriorityLow) {
		t.Fatal("terminal item should be rejected")
	}
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	e.Start(context.Background())
	e.Stop(context.Background())

	id := enqueueOne(t, e, nil)
	time.Sleep(100 * time.Millisecond)
	if it, _ := e.Get(id); it.Status != StatusPending {
		t.Fatalf("status after stop = %s, want pending (no ticks)", it.Status)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, okAdapter(), nil)

	e.Start(context.Background())
	e.Start(context.Background())
	if !e.Snapshot().Running {
		t.Fatal("engine should be running")
	}
	e.Stop(context.Background())
	e.Stop(context.Background())
	if e.Snapshot().Running {
		t.Fatal("engine should be stopped")
	}

	// Restart still works.
	e.Start(context.Background())
	id := enqueueOne(t, e, nil)
	waitFor(t, 2*time.Second, "item published after restart", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusPublished
	})
}

func TestEmergencyStopCancelsInFlight(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, nil)
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "item in flight", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusProcessing
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	e.EmergencyStop(ctx)
	cancel()

	it, _ := e.Get(id)
	if it.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", it.Status)
	}

	// The blocked platform call returns later; its result is discarded.
	close(release)
	waitFor(t, 2*time.Second, "in-flight drained", func() bool {
		return e.Snapshot().InFlight == 0
	})
	it, _ = e.Get(id)
	if it.Status != StatusCancelled || len(it.Results) != 0 {
		t.Fatalf("late results not discarded: status=%s results=%d", it.Status, len(it.Results))
	}
}

func TestAdapterPanicRecorded(t *testing.T) {
	t.Parallel()
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		panic("adapter bug")
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = -1 })
	e.Start(context.Background())

	waitFor(t, 2*time.Second, "item failed", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusFailed
	})
	it, _ := e.Get(id)
	if len(it.Results) != 1 || it.Results[0].Success {
		t.Fatalf("panic should record a failed platform result, got %+v", it.Results)
	}
}

func TestResultsReplacedEachPass(t *testing.T) {
	t.Parallel()
	var calls int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return PublishResult{}, errors.New("first pass fails")
		}
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, nil)

	id := enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = 1 })
	e.Start(context.Background())

	waitFor(t, 3*time.Second, "item published", func() bool {
		it, _ := e.Get(id)
		return it.Status == StatusPublished
	})
	it, _ := e.Get(id)
	// One platform: exactly one result from the latest pass, not two appended.
	if len(it.Results) != 1 {
		t.Fatalf("Results = %d entries, want 1 (replaced, not appended)", len(it.Results))
	}
	if !it.Results[0].Success {
		t.Fatalf("latest pass result should be success, got %+v", it.Results[0])
	}
}

func TestCircuitBreakerShortCircuitsPlatform(t *testing.T) {
	t.Parallel()
	var calls int64
	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		atomic.AddInt64(&calls, 1)
		return PublishResult{}, errors.New("down")
	})
	e := newTestEngine(t, adapter, func(c *Config) {
		c.MaxConcurrent = 1
		c.Breaker = BreakerConfig{TripFailures: 2, BaseDelay: time.Hour, MaxDelay: time.Hour, ResetAfter: time.Hour}
	})

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueueOne(t, e, func(r *EnqueueRequest) { r.MaxRetries = -1 }))
	}
	events, unsub := e.Events().Subscribe(16)
	defer unsub()
	e.Start(context.Background())

	waitFor(t, 3*time.Second, "all items settled", func() bool {
		for _, id := range ids {
			if it, _ := e.Get(id); !it.Status.Terminal() {
				return false
			}
		}
		return true
	})

	// Two real calls trip the breaker; the third item is short-circuited.
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("adapter calls = %d, want 2 (third short-circuited)", got)
	}
	last, _ := e.Get(ids[2])
	if last.LastError != reasonCircuitOpen {
		t.Fatalf("LastError = %q, want %q", last.LastError, reasonCircuitOpen)
	}

	sawOpen := false
	for {
		select {
		case ev := <-events:
			if ev.Type == EventBreakerOpen {
				sawOpen = true
			}
		default:
			if !sawOpen {
				t.Fatal("no breaker.open event observed")
			}
			return
		}
	}
}

func TestCancelWhileInFlightKeepsAdapterViewStable(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var seen atomic.Value // Status the adapter observed after the cancel

	adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
		close(entered)
		<-release
		seen.Store(item.Status)
		return PublishResult{Success: true}, nil
	})
	e := newTestEngine(t, adapter, nil)
	e.Start(context.Background())

	id := enqueueOne(t, e, nil)
	<-entered

	// Cancel mutates the live item while the adapter call is still running;
	// the adapter must keep seeing the snapshot taken at selection time.
	if !e.Cancel(id) {
		t.Fatal("Cancel should succeed for an in-flight item")
	}
	close(release)

	waitFor(t, time.Second, "adapter call finished", func() bool {
		return seen.Load() != nil
	})
	if got := seen.Load().(Status); got != StatusProcessing {
		t.Fatalf("adapter observed status %q, want %q", got, StatusProcessing)
	}
	if it, _ := e.Get(id); it.Status != StatusCancelled {
		t.Fatalf("item status = %q, want %q", it.Status, StatusCancelled)
	}
}

func TestStopWaitsForSelectedPasses(t *testing.T) {
	t.Parallel()

	// The selection-to-launch window is a few instructions wide; iterate to
	// give the scheduler a chance to land Stop inside it.
	for i := 0; i < 50; i++ {
		var calls int64
		adapter := AdapterFunc(func(ctx context.Context, item *Item, platform string) (PublishResult, error) {
			atomic.AddInt64(&calls, 1)
			return PublishResult{Success: true}, nil
		})
		e := newTestEngine(t, adapter, func(c *Config) { c.TickInterval = time.Millisecond })
		e.Start(context.Background())
		enqueueOne(t, e, nil)
		time.Sleep(2 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		e.Stop(ctx)
		cancel()

		// Stop's drain contract: every selected item has finished its pass.
		if n := e.Snapshot().InFlight; n != 0 {
			t.Fatalf("iteration %d: %d items in flight after Stop returned", i, n)
		}
		for _, it := range e.List(Filter{}) {
			if it.Status == StatusProcessing {
				t.Fatalf("iteration %d: item %s still processing after Stop returned", i, it.ID)
			}
		}
		before := atomic.LoadInt64(&calls)
		time.Sleep(3 * time.Millisecond)
		if after := atomic.LoadInt64(&calls); after != before {
			t.Fatalf("iteration %d: publish pass started after Stop returned", i)
		}
	}
}
