package pubqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crosspub/pkg/eventbus"
	logx "crosspub/pkg/logx"
)

// Engine is the publishing queue engine. Construct with New; multiple
// isolated engines may coexist (there is no package-global instance).
//
// All store mutations happen under a single mutex: the tick's scan/select/mark
// phase is atomic, and async publish completions and API calls take the same
// lock. Platform calls run outside the lock and are the only blocking points.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	store    *store
	inFlight map[string]struct{}
	gate     *windowGate
	breaker  breakerStore
	pacer    *rate.Limiter
	archiver Archiver

	recur *recurring

	lastSweep time.Time
	startedAt time.Time

	stopCh   chan struct{}
	stopDone chan struct{}
	loopDone chan struct{}

	// itemWG tracks in-flight publish passes so Stop can drain them.
	itemWG sync.WaitGroup

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

// New validates cfg and returns a stopped engine. Start begins dispatching.
func New(cfg Config) (*Engine, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}
	bus := cfg.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger.With(logx.String("comp", "pubqueue")),
		bus:      bus,
		loc:      loc,
		store:    newStore(),
		inFlight: make(map[string]struct{}),
		gate:     newWindowGate(),
		archiver: cfg.Archiver,
		now:      time.Now,
	}
	if cfg.PublishRatePerSec > 0 {
		burst := int(cfg.PublishRatePerSec)
		if burst < 1 {
			burst = 1
		}
		e.pacer = rate.NewLimiter(rate.Limit(cfg.PublishRatePerSec), burst)
	}
	e.recur = newRecurring(e)
	return e, nil
}

// Events returns the engine's event bus for observers.
func (e *Engine) Events() eventbus.Bus { return e.bus }

// Enqueue creates a new item and inserts it at its dispatch rank.
func (e *Engine) Enqueue(req EnqueueRequest) (string, error) {
	platforms := make([]string, 0, len(req.Platforms))
	for _, p := range req.Platforms {
		p = strings.TrimSpace(p)
		if p != "" {
			platforms = append(platforms, p)
		}
	}
	if len(platforms) == 0 {
		return "", ErrNoPlatforms
	}
	if strings.TrimSpace(req.Body) == "" {
		return "", ErrEmptyContent
	}
	prio := req.Priority
	if prio == "" {
		prio = PriorityMedium
	} else if _, ok := ParsePriority(string(prio)); !ok {
		return "", ErrUnknownPriority
	}

	now := e.now()
	scheduled := req.ScheduledTime
	if scheduled.IsZero() {
		scheduled = now
	}

	e.mu.Lock()
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.cfg.DefaultMaxRetries
	} else if maxRetries < 0 {
		maxRetries = 0
	}

	// pending and scheduled are equivalent eligibility states; the split is
	// kept for display only.
	status := StatusPending
	if scheduled.After(now) {
		status = StatusScheduled
	}

	it := &Item{
		ID:            uuid.NewString(),
		ContentID:     req.ContentID,
		Title:         req.Title,
		Body:          req.Body,
		Platforms:     platforms,
		Metadata:      req.Metadata,
		ScheduledTime: scheduled,
		Priority:      prio,
		Status:        status,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.store.add(it)
	e.publishItemEvent(EventItemEnqueued, now, it)
	e.mu.Unlock()

	e.log.Debug("item enqueued",
		logx.String("id", it.ID),
		logx.String("priority", string(prio)),
		logx.Int("platforms", len(platforms)),
		logx.Time("scheduled", scheduled),
	)
	return it.ID, nil
}

// Cancel marks a non-terminal item cancelled. The item is kept for
// inspection. Returns false for unknown ids and items already terminal, so a
// second Cancel on the same id reports failure.
func (e *Engine) Cancel(id string) bool {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.store.items[id]
	if !ok || it.Status.Terminal() {
		return false
	}
	// In-flight items stay in the in-flight set; the dispatcher observes the
	// cancelled status on completion and discards the pass results.
	e.store.unlink(it)
	it.Status = StatusCancelled
	it.UpdatedAt = now
	e.publishItemEvent(EventItemCancelled, now, it)
	return true
}

// Remove deletes a non-in-flight item outright. An in-flight item is instead
// marked cancelled and deleted once its publish pass returns, so the pass
// never holds a dangling reference.
func (e *Engine) Remove(id string) bool {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.store.items[id]
	if !ok {
		return false
	}
	if _, busy := e.inFlight[id]; busy {
		it.Status = StatusCancelled
		it.UpdatedAt = now
		it.removeOnRelease = true
		e.publishItemEvent(EventItemCancelled, now, it)
		return true
	}
	e.store.delete(it)
	return true
}

// SetPriority re-ranks a queued item. It is rejected (returns false) for
// in-flight, terminal and unknown items, and for unknown priorities.
func (e *Engine) SetPriority(id string, p Priority) bool {
	if _, ok := ParsePriority(string(p)); !ok {
		return false
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.store.items[id]
	if !ok || it.Status.Terminal() {
		return false
	}
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.store.reprioritize(it, p)
	it.UpdatedAt = now
	return true
}

// Get returns a copy of the item with the given id.
func (e *Engine) Get(id string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, ok := e.store.items[id]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

// List returns a filtered snapshot of items, newest first.
func (e *Engine) List(f Filter) []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.list(f)
}

// Start launches the dispatcher loop. It is idempotent; a concurrent Stop is
// waited out first.
func (e *Engine) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.stopCh != nil {
		done := e.stopDone
		e.mu.Unlock()
		if done == nil {
			return // already running
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		e.mu.Lock()
		if e.stopCh != nil {
			e.mu.Unlock()
			return
		}
	}

	e.stopCh = make(chan struct{})
	e.stopDone = nil
	e.loopDone = make(chan struct{})
	e.startedAt = e.now()
	e.lastSweep = e.startedAt
	stopCh := e.stopCh
	loopDone := e.loopDone
	tick := e.cfg.TickInterval
	e.mu.Unlock()

	e.recur.start()

	go e.loop(stopCh, loopDone, tick)

	e.bus.Publish(eventbus.Event{Type: EventEngineStarted, Time: e.now()})
	e.log.Info("engine started",
		logx.Duration("tick", tick),
		logx.Int("max_concurrent", e.cfg.MaxConcurrent),
	)
}

// Stop halts the dispatcher so no further tick starts, then drains in-flight
// publish passes bounded by ctx. In-flight work is not cancelled; its results
// are still recorded.
func (e *Engine) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	if e.stopDone != nil {
		done := e.stopDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	e.stopDone = done
	loopDone := e.loopDone
	close(e.stopCh)
	e.mu.Unlock()

	e.recur.stop()

	go func() {
		// Drain in the background; the caller can still time out via ctx.
		// The loop must exit before itemWG is waited on: a tick in progress
		// may still be about to launch passes for items it already selected.
		<-loopDone
		e.itemWG.Wait()
		e.mu.Lock()
		e.stopCh = nil
		e.stopDone = nil
		e.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("engine stopped")
	case <-ctx.Done():
		e.log.Warn("engine stop timed out; draining in background", logx.Err(ctx.Err()))
	}
	e.bus.Publish(eventbus.Event{Type: EventEngineStopped, Time: e.now()})
}

// EmergencyStop halts the dispatcher and cancels every in-flight item. It
// does not abort already-issued platform I/O; those results are discarded
// when the calls return.
func (e *Engine) EmergencyStop(ctx context.Context) {
	now := e.now()
	e.mu.Lock()
	for id := range e.inFlight {
		if it, ok := e.store.items[id]; ok && !it.Status.Terminal() {
			it.Status = StatusCancelled
			it.UpdatedAt = now
			e.publishItemEvent(EventItemCancelled, now, it)
		}
		delete(e.inFlight, id)
	}
	e.mu.Unlock()

	e.bus.Publish(eventbus.Event{Type: EventEngineEmergency, Time: now})
	e.log.Warn("emergency stop")
	e.Stop(ctx)
}

// ApplyPolicies swaps the platform policy table at runtime.
func (e *Engine) ApplyPolicies(t PolicyTable) {
	e.mu.Lock()
	e.cfg.Policies = t.normalize()
	e.mu.Unlock()
}

// ApplyRetention swaps the retention policy at runtime.
func (e *Engine) ApplyRetention(r RetentionConfig) {
	if r.TTL <= 0 {
		r.TTL = 24 * time.Hour
	}
	if r.MaxTerminal <= 0 {
		r.MaxTerminal = 2000
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = 5 * time.Minute
	}
	e.mu.Lock()
	e.cfg.Retention = r
	e.mu.Unlock()
}

// Snapshot is a point-in-time operational view of the engine.
type Snapshot struct {
	Running       bool          `json:"running"`
	TickInterval  time.Duration `json:"tick_interval"`
	MaxConcurrent int           `json:"max_concurrent"`
	Items         int           `json:"items"`
	Queued        int           `json:"queued"`
	InFlight      int           `json:"in_flight"`
	Terminal      int           `json:"terminal"`
	Recurring     int           `json:"recurring"`
	BreakerOpen   int           `json:"breaker_open"`
	Timezone      string        `json:"timezone"`
}

// Snapshot returns ops diagnostics; use Statistics for health reporting.
func (e *Engine) Snapshot() Snapshot {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	terminal := 0
	for _, it := range e.store.items {
		if it.Status.Terminal() {
			terminal++
		}
	}
	return Snapshot{
		Running:       e.stopCh != nil && e.stopDone == nil,
		TickInterval:  e.cfg.TickInterval,
		MaxConcurrent: e.cfg.MaxConcurrent,
		Items:         len(e.store.items),
		Queued:        len(e.store.order),
		InFlight:      len(e.inFlight),
		Terminal:      terminal,
		Recurring:     e.recur.count(),
		BreakerOpen:   e.breaker.openCount(now),
		Timezone:      e.loc.String(),
	}
}
