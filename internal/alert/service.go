package alert

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"crosspub/pkg/eventbus"
	"crosspub/pkg/pubqueue"
	logx "crosspub/pkg/logx"
)

// Config controls the Telegram alert channel.
type Config struct {
	Enabled bool
	Token   string
	ChatID  int64

	// RatePerSec throttles outgoing messages. Default 1.
	RatePerSec int

	// Events filters which engine event types become alerts.
	// Empty means defaultEvents.
	Events []string

	// DigestInterval is the period of the queue-health digest. 0 disables it.
	DigestInterval time.Duration
}

// defaultEvents are the event types worth an operator ping out of the box.
var defaultEvents = []string{
	pubqueue.EventItemFailed,
	pubqueue.EventBreakerOpen,
	pubqueue.EventEngineEmergency,
}

type sender interface {
	Send(chatID int64, text string) error
}

type telebotSender struct{ bot *tele.Bot }

func (s telebotSender) Send(chatID int64, text string) error {
	_, err := s.bot.Send(tele.ChatID(chatID), text, tele.ModeHTML, tele.NoPreview)
	return err
}

// Service forwards selected engine events to a Telegram chat and periodically
// posts a queue-health digest. Alerts are throttled, never queued: when the
// rate limit is exceeded the alert is dropped and counted.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	stats func() pubqueue.Stats
	send  sender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	allowed map[string]struct{}

	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// New connects to Telegram and returns the alert service. cfg.Enabled must be
// true; the caller skips construction entirely when alerts are off.
func New(cfg Config, bus eventbus.Bus, stats func() pubqueue.Stats, log logx.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("alert: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("alert: chat id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, bus, stats, log, telebotSender{bot: bot}), nil
}

func newWithSender(cfg Config, bus eventbus.Bus, stats func() pubqueue.Stats, log logx.Logger, send sender) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "alert")),
		bus:    bus,
		stats:  stats,
		send:   send,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the runtime knobs (rate, event filter, digest interval). The
// chat and token are fixed for the life of the service.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	events := cfg.Events
	if len(events) == 0 {
		events = defaultEvents
	}
	allowed := make(map[string]struct{}, len(events))
	for _, t := range events {
		if t = strings.TrimSpace(t); t != "" {
			allowed[t] = struct{}{}
		}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.allowed = allowed
	s.mu.Unlock()
}

func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	if n := s.dropped.Load(); n > 0 {
		s.log.Warn("alerts dropped by throttle", logx.Uint64("dropped", n))
	}
}

// Dropped reports how many alerts the throttle discarded.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in alert loop",
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	events, unsub := s.bus.Subscribe(64)
	defer unsub()

	digest := time.NewTimer(s.digestWait())
	defer digest.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case <-digest.C:
			s.sendDigest()
			digest.Reset(s.digestWait())
		}
	}
}

// digestWait returns the current digest period, or a long idle wait when the
// digest is disabled so config reloads can still re-enable it.
func (s *Service) digestWait() time.Duration {
	s.mu.Lock()
	d := s.cfg.DigestInterval
	s.mu.Unlock()
	if d <= 0 {
		return time.Minute
	}
	return d
}

func (s *Service) handleEvent(ev eventbus.Event) {
	s.mu.Lock()
	_, want := s.allowed[ev.Type]
	limiter := s.limiter
	chatID := s.cfg.ChatID
	s.mu.Unlock()

	if !want {
		return
	}
	if !limiter.Allow() {
		s.dropped.Add(1)
		return
	}

	text := formatEvent(ev)
	if text == "" {
		return
	}
	if err := s.send.Send(chatID, text); err != nil {
		s.log.Warn("alert send failed",
			logx.String("event", ev.Type),
			logx.Err(err),
		)
	}
}

func (s *Service) sendDigest() {
	s.mu.Lock()
	enabled := s.cfg.DigestInterval > 0
	chatID := s.cfg.ChatID
	s.mu.Unlock()
	if !enabled || s.stats == nil {
		return
	}

	text := formatDigest(s.stats())
	if err := s.send.Send(chatID, text); err != nil {
		s.log.Warn("digest send failed", logx.Err(err))
	}
}
