package pubqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"crosspub/pkg/eventbus"
	logx "crosspub/pkg/logx"
)

// loop is the single dispatcher goroutine. One tick runs to completion before
// the next begins; closing stopCh deterministically prevents further ticks,
// and done is closed only after the final tick has launched all of its
// passes, so Stop can safely wait on itemWG afterwards.
func (e *Engine) loop(stopCh <-chan struct{}, done chan<- struct{}, tick time.Duration) {
	defer close(done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick selects due items up to the free concurrency budget and launches one
// publish pass per item. Selection, marking and the retention sweep are
// atomic under the engine mutex.
func (e *Engine) tick() {
	now := e.now()

	e.mu.Lock()
	budget := e.cfg.MaxConcurrent - len(e.inFlight)
	selected := e.store.takeDue(now, budget)
	snaps := make([]Item, len(selected))
	for i, it := range selected {
		it.Status = StatusProcessing
		it.UpdatedAt = now
		e.inFlight[it.ID] = struct{}{}
		e.publishItemEvent(EventItemDispatched, now, it)
		snaps[i] = it.clone()
	}
	e.itemWG.Add(len(selected))
	sweepDue := e.cfg.Retention.enabled() && now.Sub(e.lastSweep) >= e.cfg.Retention.SweepInterval
	if sweepDue {
		e.lastSweep = now
	}
	e.mu.Unlock()

	for i, it := range selected {
		it, snap := it, &snaps[i]
		go func() {
			defer e.itemWG.Done()
			e.publishPass(it, snap)
		}()
	}

	if sweepDue {
		e.sweep(now)
	}
}

// publishPass fans out one item to all of its target platforms concurrently
// and settles the aggregate outcome. It never lets an adapter error or panic
// escape to the dispatcher.
//
// The adapter calls work on snap, a clone taken under the lock at selection
// time: the live item may be mutated concurrently by Cancel, Remove or
// EmergencyStop, and adapters never hold the engine lock.
func (e *Engine) publishPass(it *Item, snap *Item) {
	platforms := snap.Platforms
	results := make([]PlatformResult, len(platforms))
	callErrs := make([]error, len(platforms))

	var wg sync.WaitGroup
	for i, p := range platforms {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], callErrs[i] = e.publishOne(snap, p)
		}()
	}
	wg.Wait()

	e.finishItem(it, results, callErrs)
}

// publishOne gates and executes a single (item, platform) call.
func (e *Engine) publishOne(it *Item, platform string) (PlatformResult, error) {
	now := e.now()

	// Circuit gate: an open platform circuit short-circuits the call without
	// invoking the adapter and without counting as a breaker failure.
	e.mu.Lock()
	bcfg := e.cfg.Breaker
	policy := e.cfg.Policies.lookup(platform)
	e.mu.Unlock()

	if open, until := e.breaker.isOpen(now, platform, bcfg); open {
		e.log.Debug("platform skipped: circuit open",
			logx.String("id", it.ID),
			logx.String("platform", platform),
			logx.Time("until", until),
		)
		return PlatformResult{Platform: platform, Error: reasonCircuitOpen}, nil
	}

	// Sliding-window gate against the policy table. A block is recorded as a
	// failed result for this platform only and consumes the retry budget the
	// same way an adapter failure does.
	e.mu.Lock()
	ok, reason := e.gate.allow(now, platform, policy)
	e.mu.Unlock()
	if !ok {
		e.log.Debug("platform blocked",
			logx.String("id", it.ID),
			logx.String("platform", platform),
			logx.String("reason", reason),
		)
		return PlatformResult{Platform: platform, Error: reason}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
	defer cancel()

	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return PlatformResult{Platform: platform, Error: "publish pacer: " + err.Error()}, err
		}
	}

	res, err := e.callAdapter(ctx, it, platform)

	out := PlatformResult{
		Platform:  platform,
		Success:   err == nil && res.Success,
		RemoteID:  res.RemoteID,
		RemoteURL: res.RemoteURL,
		Metrics:   res.Metrics,
	}
	switch {
	case err != nil:
		out.Error = err.Error()
	case !res.Success:
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "publish rejected"
		}
	}

	if tripped := e.breaker.recordResult(e.now(), platform, out.Success, bcfg); tripped {
		_, until := e.breaker.isOpen(e.now(), platform, bcfg)
		e.log.Warn("platform circuit opened",
			logx.String("platform", platform),
			logx.Time("until", until),
		)
		e.bus.Publish(eventbus.Event{Type: EventBreakerOpen, Time: e.now(), Data: BreakerEvent{
			Platform:  platform,
			OpenUntil: until,
		}})
	}
	return out, err
}

// callAdapter invokes the adapter with panic recovery so one bad adapter
// cannot crash a dispatch tick.
func (e *Engine) callAdapter(ctx context.Context, it *Item, platform string) (res PublishResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
			e.log.Error("adapter panicked",
				logx.String("id", it.ID),
				logx.String("platform", platform),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return e.cfg.Adapter.Publish(ctx, it, platform)
}

// finishItem aggregates a completed pass and releases the item from the
// in-flight set regardless of outcome.
func (e *Engine) finishItem(it *Item, results []PlatformResult, callErrs []error) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, it.ID)
	it.UpdatedAt = now

	// Cancelled while in flight (Cancel, Remove or EmergencyStop): the pass
	// results are discarded.
	if it.Status == StatusCancelled {
		if it.removeOnRelease {
			e.store.delete(it)
		}
		return
	}

	// Results reflect exactly the most recent pass: replaced, not appended.
	it.Results = results

	allOK := true
	for _, r := range results {
		if !r.Success {
			allOK = false
			break
		}
	}

	if allOK {
		it.Status = StatusPublished
		it.PublishedAt = now
		it.LastError = ""
		e.gate.record(now, it.Platforms)
		e.publishItemEvent(EventItemPublished, now, it)
		e.log.Info("item published",
			logx.String("id", it.ID),
			logx.Int("platforms", len(it.Platforms)),
			logx.Int("attempts", it.RetryCount+1),
		)
		return
	}

	e.settleFailure(now, it, callErrs)
}
