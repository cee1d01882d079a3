package pubqueue

import "context"

// PublishResult is what an Adapter reports for one (item, platform) call.
type PublishResult struct {
	Success   bool
	RemoteID  string
	RemoteURL string
	Metrics   *Metrics
	Error     string
}

// Adapter performs the actual platform-specific publish call.
//
// The adapter owns per-platform content optimization (truncation, hashtag
// limits, media upload); the engine passes already-finalized content and does
// not inspect it. Because the baseline retry policy re-publishes the whole
// item across all requested platforms, adapters must handle an
// already-published platform idempotently.
//
// A non-nil error (or a panic) is recorded as a failed platform result and
// never crashes the dispatcher. Errors may be wrapped with NoRetry or
// RetryAfter to steer the retry controller.
type Adapter interface {
	Publish(ctx context.Context, item *Item, platform string) (PublishResult, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, item *Item, platform string) (PublishResult, error)

func (f AdapterFunc) Publish(ctx context.Context, item *Item, platform string) (PublishResult, error) {
	return f(ctx, item, platform)
}

// Archiver receives terminal items evicted by the retention sweeper.
//
// Implementations must not block: eviction happens inside the engine loop.
type Archiver interface {
	ArchiveItem(item Item)
}
