package pubqueue

import (
	"errors"
	"time"

	logx "crosspub/pkg/logx"
)

// settleFailure decides the fate of an item whose publish pass was not fully
// successful. Called under the engine mutex with the item's fresh results
// already set.
//
// Baseline policy: the whole item is retried across all originally-requested
// platforms. Adapters are expected to no-op platforms that already succeeded.
func (e *Engine) settleFailure(now time.Time, it *Item, callErrs []error) {
	firstErr := firstFailure(it.Results)

	// A NoRetry-wrapped adapter error makes the failure permanent regardless
	// of the remaining budget.
	permanent := false
	var hint time.Duration = -1
	for _, err := range callErrs {
		if err == nil {
			continue
		}
		if IsNoRetry(err) {
			permanent = true
			break
		}
		var ra RetryAfterError
		if hint < 0 && errors.As(err, &ra) {
			hint = ra.RetryAfter()
		}
	}

	if permanent || it.RetryCount >= it.MaxRetries {
		it.Status = StatusFailed
		it.LastError = firstErr
		// scheduledTime is frozen on terminal failure.
		e.log.Warn("item failed permanently",
			logx.String("id", it.ID),
			logx.Int("retries", it.RetryCount),
			logx.String("err", firstErr),
		)
		e.publishItemEvent(EventItemFailed, now, it)
		return
	}

	it.RetryCount++
	it.Status = StatusRetrying
	it.LastError = firstErr

	delay := retryDelay(e.cfg.BaseRetryDelay, e.cfg.MaxRetryDelay, it.RetryCount)
	if hint >= 0 {
		delay = hint
	}
	it.ScheduledTime = now.Add(delay)
	e.store.insert(it)

	e.log.Debug("item retry scheduled",
		logx.String("id", it.ID),
		logx.Int("attempt", it.RetryCount+1),
		logx.Duration("delay", delay),
		logx.String("err", firstErr),
	)
	e.publishItemEvent(EventItemRetrying, now, it)
}

// retryDelay computes base * 2^(retryCount-1), optionally capped.
func retryDelay(base, max time.Duration, retryCount int) time.Duration {
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

// firstFailure returns the error text of the first failed platform result.
func firstFailure(results []PlatformResult) string {
	for _, r := range results {
		if !r.Success {
			if r.Error != "" {
				return r.Error
			}
			return "publish failed: " + r.Platform
		}
	}
	return ""
}
