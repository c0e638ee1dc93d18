package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"surveysched/internal/activation"
	"surveysched/internal/eventbus"
	rtsup "surveysched/internal/runtime/supervisor"
	"surveysched/internal/task/scheduler"
	"surveysched/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

type sentState struct {
	active bool
	at     time.Time
}

// Service consumes bus events and sends one message per notable event.
// It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	sender  Sender
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter

	sup   *rtsup.Supervisor
	unsub func()

	last map[string]sentState

	sent, failed, suppressed atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		bus:    bus,
		last:   map[string]sentState{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender replaces the delivery backend, e.g. after a token change.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup != nil
}

// Start subscribes to the bus and begins sending. It returns ErrDisabled
// when notifications are off or there is no sender; a second Start is a
// no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	if !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		return ErrDisabled
	}
	ch, unsub := s.bus.Subscribe(s.cfg.Buffer, activation.EventTransition, scheduler.EventJobFailed)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.Go0("notifier.loop", func(ctx context.Context) { s.loop(ctx, ch) })
	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID), logx.Int("rate_per_sec", s.cfg.RatePerSec))
	return nil
}

// Stop unsubscribes and waits for the send loop, bounded by ctx. Messages
// still buffered are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()
	err := sup.Stop(ctx)
	s.log.Info("notifier stopped", logx.Uint64("sent", s.sent.Load()), logx.Uint64("failed", s.failed.Load()))
	return err
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Suppressed: s.suppressed.Load()}
}

func (s *Service) loop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var text string
	switch d := e.Data.(type) {
	case activation.TransitionEvent:
		if s.suppress(d.Update, e.Time, cfg.DedupWindow) {
			s.suppressed.Add(1)
			s.log.Debug("transition notice suppressed", logx.String("schedule", d.Update.ID))
			return
		}
		text = FormatTransition(d.Update)
	case scheduler.JobFailure:
		text = fmt.Sprintf("Job %s failed at %s: %s", d.Name, d.At.UTC().Format(time.RFC3339), d.Error)
	default:
		return
	}

	msg := Message{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID, Text: text}
	if err := s.sendWithRetry(ctx, cfg, msg); err != nil {
		s.failed.Add(1)
		if ctx.Err() == nil {
			s.log.Warn("notification send failed", logx.Err(err))
		}
		return
	}
	s.sent.Add(1)
}

// suppress reports whether the same state for this schedule was already
// announced within window, and records it otherwise.
func (s *Service) suppress(u activation.ScheduleUpdate, at time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.last[u.ID]
	if ok && prev.active == u.NewStatus && at.Sub(prev.at) < window {
		return true
	}
	s.last[u.ID] = sentState{active: u.NewStatus, at: at}
	// Expired entries only matter within window; prune when the map grows.
	if len(s.last) > 4096 {
		for id, st := range s.last {
			if at.Sub(st.at) >= window {
				delete(s.last, id)
			}
		}
	}
	return false
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, msg Message) error {
	s.mu.Lock()
	lim, sender := s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return ErrDisabled
	}

	backoff := cfg.RetryBase
	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			backoff *= 2
		}
		if werr := lim.Wait(ctx); werr != nil {
			return werr
		}
		if err = sender.Send(ctx, msg); err == nil {
			return nil
		}
		s.log.Debug("send attempt failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	return err
}

// FormatTransition renders one transition as a chat line.
func FormatTransition(u activation.ScheduleUpdate) string {
	state := "inactive"
	if u.NewStatus {
		state = "active"
	}
	return fmt.Sprintf("Survey %s is now %s (%s)", u.ID, state, u.Message)
}
