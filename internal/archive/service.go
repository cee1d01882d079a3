package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"crosspub/pkg/pubqueue"
	logx "crosspub/pkg/logx"
)

// Service is the async archiver handed to the queue engine. ArchiveItem is
// called from inside the engine's sweep and must never block, so items are
// queued on a buffered channel and written by a single worker. When the
// buffer is full the item is dropped and counted; archival is best-effort.
type Service struct {
	log   logx.Logger
	store Store

	ch      chan Record
	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

const defaultQueueSize = 256

// NewService wraps store in an async worker. store must be non-nil.
func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "archive")),
		store:  store,
		ch:     make(chan Record, defaultQueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop drains queued records, bounded by ctx, then closes the store.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.done:
	case <-ctx.Done():
		s.log.Warn("archive stop timed out", logx.Err(ctx.Err()))
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("archive store close failed", logx.Err(err))
	}
	if n := s.dropped.Load(); n > 0 {
		s.log.Warn("archive dropped records under backpressure", logx.Uint64("dropped", n))
	}
}

// ArchiveItem implements pubqueue.Archiver. Non-blocking.
func (s *Service) ArchiveItem(item pubqueue.Item) {
	select {
	case s.ch <- NewRecord(item, time.Now()):
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded because the queue was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case r := <-s.ch:
			s.write(r)
		case <-s.stopCh:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case r := <-s.ch:
					s.write(r)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Append(ctx, r); err != nil {
		s.log.Warn("archive append failed",
			logx.String("id", r.ID),
			logx.Err(err),
		)
	}
}
