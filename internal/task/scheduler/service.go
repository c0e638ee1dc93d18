package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"surveysched/internal/eventbus"
	"surveysched/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		bus: bus,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config. A timezone change rebuilds the cron instance; toggling
// Enabled starts or stops triggering. Neither re-runs RunOnStart jobs.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if !s.started {
		return
	}
	switch {
	case old.Enabled && !cfg.Enabled:
		s.stopCronLocked()
		s.log.Info("triggers disabled")
	case !old.Enabled && cfg.Enabled:
		s.startCronLocked()
	case cfg.Enabled && strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins triggering and fires RunOnStart jobs. Jobs receive a context
// derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.ctxMu.Lock()
	s.runCtx, s.runCancel = runCtx, cancel
	s.ctxMu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("service started with triggers disabled", logx.Int("jobs", len(s.defs)))
		return
	}
	s.startCronLocked()
	for _, d := range s.defs {
		if d.opt.RunOnStart {
			s.runEagerLocked(d)
		}
	}
}

// Stop cancels the job context, stops triggering and waits, bounded by ctx,
// for running jobs to return.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()

	s.ctxMu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	s.ctxMu.Unlock()

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		s.eager.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running jobs", logx.Duration("took", time.Since(start)))
		return ctx.Err()
	}
}

func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	cl := cronLogger{log: s.log}
	s.c = cron.New(cron.WithLocation(loc), cron.WithLogger(cl))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.defs)))
}

// stopCronLocked stops triggering without waiting; jobs already running
// finish on their own and keep blocking new ticks through their chain.
func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
}

func (s *Service) registerLocked(d *jobDef) {
	sched, err := d.spec.Schedule()
	if err != nil {
		// ParseSchedule already validated the spec.
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.String()), logx.Err(err))
		return
	}
	d.entryID = s.c.Schedule(sched, d.wrapped)

	fields := []logx.Field{
		logx.String("name", d.name),
		logx.String("spec", d.spec.String()),
		logx.Duration("timeout", d.opt.Timeout),
	}
	if next := previewNextRuns(sched, s.loc, 3); next != "" && s.log.Enabled(logx.LevelDebug) {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
}

func (s *Service) runEagerLocked(d *jobDef) {
	s.eager.Add(1)
	go func() {
		defer s.eager.Done()
		d.wrapped.Run()
	}()
}

func (s *Service) jobContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.runCtx
}

// run executes one job invocation. It is the innermost link of the chain.
func (s *Service) run(d *jobDef) {
	ctx := s.jobContext()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	job, opt := d.job, d.opt
	s.mu.Unlock()

	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}

	start := time.Now()
	d.stats.begin(start)
	defer func() {
		// Record the panic, then let cron.Recover log it with a stack.
		if r := recover(); r != nil {
			d.stats.end(time.Since(start), fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err := job(ctx)
	took := time.Since(start)
	d.stats.end(took, err)

	if err == nil {
		s.log.Debug("job finished", logx.String("name", d.name), logx.Duration("took", took))
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		s.log.Debug("job cancelled", logx.String("name", d.name), logx.Duration("took", took))
		return
	}
	s.log.Error("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventJobFailed, Data: JobFailure{Name: d.name, At: start, Error: err.Error()}})
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

func previewNextRuns(sched cron.Schedule, loc *time.Location, n int) string {
	if loc == nil {
		loc = time.UTC
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
