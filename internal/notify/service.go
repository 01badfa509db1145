// Package notify delivers prayer announcements through one or more backends
// (adhan player command, optional Telegram message).
//
// The pipeline is asynchronous: a bounded queue, a small worker pool, and a
// token-bucket rate limit. Scheduling never blocks on delivery; Announce only
// reports whether delivery started.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int

	Player   PlayerConfig
	Telegram TelegramConfig
}

// Backend performs one concrete announcement.
type Backend interface {
	Name() string
	Announce(ctx context.Context, name prayer.Name) error
}

type item struct {
	name prayer.Name
	at   time.Time
}

type Service struct {
	mu sync.Mutex

	log      logx.Logger
	cfg      Config
	backends []Backend
	limiter  *rate.Limiter

	queue     chan item
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	started   bool
	wg        sync.WaitGroup
}

func New(cfg Config, backends []Backend, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, backends: backends}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the delivery workers. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.queue = make(chan item, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	s.wg.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer s.wg.Done()
			s.worker()
		}()
	}
	s.log.Debug("notify service started",
		logx.Int("workers", s.cfg.Workers), logx.Int("backends", len(s.backends)))
}

// Stop drains nothing: queued announcements are abandoned (an adhan played
// minutes late is worse than one skipped).
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Debug("notify service stopped")
}

// Announce enqueues a prayer announcement and reports whether delivery
// started. The return value is used only for logging by the caller.
func (s *Service) Announce(name prayer.Name) bool {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	started := s.started
	q := s.queue
	s.mu.Unlock()

	if !enabled || !started {
		s.log.Debug("announcement skipped; notify disabled", logx.String("prayer", string(name)))
		return false
	}
	select {
	case q <- item{name: name, at: time.Now()}:
		return true
	default:
		s.log.Warn("announcement dropped; notify queue full", logx.String("prayer", string(name)))
		return false
	}
}

func (s *Service) worker() {
	for {
		select {
		case <-s.stopCh:
			return
		case it := <-s.queue:
			s.deliver(it)
		}
	}
}

func (s *Service) deliver(it item) {
	s.mu.Lock()
	ctx := s.runCtx
	lim := s.limiter
	backends := s.backends
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	if err := lim.Wait(ctx); err != nil {
		return
	}

	for _, b := range backends {
		bctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		err := b.Announce(bctx, it.name)
		cancel()
		if err != nil {
			s.log.Warn("announcement backend failed",
				logx.String("backend", b.Name()),
				logx.String("prayer", string(it.name)),
				logx.Err(err))
			continue
		}
		s.log.Info("announcement delivered",
			logx.String("backend", b.Name()),
			logx.String("prayer", string(it.name)),
			logx.Duration("queued_for", time.Since(it.at)))
	}
}
