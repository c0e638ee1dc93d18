package activation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveysched/internal/eventbus"
	"surveysched/pkg/logx"
)

const (
	EventTransition = "activation.transition"
	EventPass       = "activation.pass"
)

// TransitionEvent is published once per persisted flip of isActive.
type TransitionEvent struct {
	PassID string
	At     time.Time
	Update ScheduleUpdate
}

// Options tunes a Reconciler. Zero values fall back to defaults.
type Options struct {
	Location     *time.Location
	StoreTimeout time.Duration
	Workers      int
}

const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultWorkers      = 4
)

func (o Options) normalize() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Reconciler brings stored isActive flags in line with Evaluate.
//
// Passes may run concurrently (periodic and on-demand); each write is a
// single SetActive call and identical writes are harmless.
type Reconciler struct {
	store Store
	clock Clock
	log   logx.Logger
	bus   eventbus.Bus

	mu   sync.RWMutex
	opts Options
	last *Summary
}

func NewReconciler(store Store, clock Clock, opts Options, log logx.Logger, bus eventbus.Bus) *Reconciler {
	if clock == nil {
		clock = SystemClock
	}
	return &Reconciler{
		store: store,
		clock: clock,
		log:   log.With(logx.String("comp", "activation")),
		bus:   bus,
		opts:  opts.normalize(),
	}
}

// Apply swaps options; passes already running keep the old ones.
func (r *Reconciler) Apply(opts Options) {
	r.mu.Lock()
	r.opts = opts.normalize()
	r.mu.Unlock()
}

func (r *Reconciler) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

func (r *Reconciler) Location() *time.Location { return r.Options().Location }

func (r *Reconciler) Evaluator() Evaluator { return Evaluator{Location: r.Location()} }

func (r *Reconciler) Now() time.Time { return r.clock.Now() }

// Last returns the most recent completed pass, if any.
func (r *Reconciler) Last() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Summary{}, false
	}
	return *r.last, true
}

// Reconcile runs one pass. The error is non-nil only when the recurring
// schedules could not be listed; per-schedule problems land in
// Summary.Failures.
//
// Cancelling ctx stops dispatch of further schedules. Writes already started
// run to completion, bounded by the store timeout.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	opts := r.Options()
	began := time.Now()
	now := r.clock.Now()
	sum := Summary{PassID: uuid.NewString(), At: now, Updates: []ScheduleUpdate{}}

	var items []Schedule
	err := withTimeout(ctx, opts.StoreTimeout, func(c context.Context) error {
		var err error
		items, err = r.store.ListRecurring(c)
		return err
	})
	if err != nil && ctx.Err() != nil {
		sum.Took = time.Since(began)
		passTotal.WithLabelValues("cancelled").Inc()
		r.log.Info("reconcile: pass cancelled before listing",
			logx.String("pass", sum.PassID),
			logx.Err(ctx.Err()),
		)
		return sum, fmt.Errorf("list recurring schedules: %w", ctx.Err())
	}
	if err != nil {
		sum.Took = time.Since(began)
		passTotal.WithLabelValues("error").Inc()
		r.log.Error("reconcile: list recurring schedules failed",
			logx.String("pass", sum.PassID),
			logx.Err(err),
		)
		return sum, fmt.Errorf("list recurring schedules: %w", err)
	}

	ev := Evaluator{Location: opts.Location}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, opts.Workers)
	)
	dispatched := 0
dispatch:
	for _, s := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		dispatched++
		wg.Add(1)
		go func(s Schedule) {
			defer wg.Done()
			defer func() { <-sem }()
			upd, fail := r.reconcileOne(ctx, opts, ev, s, now)
			if upd == nil && fail == nil {
				return
			}
			mu.Lock()
			if upd != nil {
				sum.Updates = append(sum.Updates, *upd)
			}
			if fail != nil {
				sum.Failures = append(sum.Failures, *fail)
			}
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	sort.Slice(sum.Updates, func(i, j int) bool { return sum.Updates[i].ID < sum.Updates[j].ID })
	sort.Slice(sum.Failures, func(i, j int) bool { return sum.Failures[i].ID < sum.Failures[j].ID })
	sum.Evaluated = dispatched
	sum.UpdatedCount = len(sum.Updates)
	sum.Took = time.Since(began)

	passTotal.WithLabelValues("ok").Inc()
	passDuration.Observe(sum.Took.Seconds())
	schedulesEvaluated.Set(float64(len(items)))

	fields := []logx.Field{
		logx.String("pass", sum.PassID),
		logx.Int("evaluated", sum.Evaluated),
		logx.Int("updated", sum.UpdatedCount),
		logx.Int("failed", len(sum.Failures)),
		logx.Duration("took", sum.Took),
	}
	switch {
	case len(sum.Failures) > 0:
		r.log.Warn("reconcile: pass finished with failures", fields...)
	case sum.UpdatedCount > 0:
		r.log.Info("reconcile: pass finished", fields...)
	default:
		r.log.Debug("reconcile: pass finished", fields...)
	}
	if dispatched < len(items) {
		r.log.Info("reconcile: pass cancelled before all schedules were dispatched",
			logx.String("pass", sum.PassID),
			logx.Int("skipped", len(items)-dispatched),
		)
	}

	r.mu.Lock()
	last := sum
	r.last = &last
	r.mu.Unlock()

	for _, u := range sum.Updates {
		r.publish(EventTransition, TransitionEvent{PassID: sum.PassID, At: now, Update: u})
	}
	r.publish(EventPass, sum)
	return sum, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, opts Options, ev Evaluator, s Schedule, now time.Time) (*ScheduleUpdate, *ItemFailure) {
	if !s.IsRecurring {
		return nil, nil
	}
	res := ev.Evaluate(s, now)
	if res.Active == s.IsActive {
		return nil, nil
	}

	err := withTimeout(context.WithoutCancel(ctx), opts.StoreTimeout, func(c context.Context) error {
		return r.store.SetActive(c, s.ID, res.Active)
	})
	if err != nil {
		itemFailuresTotal.WithLabelValues("set_active").Inc()
		r.log.Warn("reconcile: write failed",
			logx.String("schedule", s.ID),
			logx.Bool("active", res.Active),
			logx.Err(err),
		)
		return nil, &ItemFailure{ID: s.ID, Op: "set_active", Error: err.Error()}
	}

	observeTransition(res.Active)
	r.log.Debug("reconcile: transition",
		logx.String("schedule", s.ID),
		logx.Bool("from", s.IsActive),
		logx.Bool("to", res.Active),
		logx.String("reason", res.Message),
	)
	return &ScheduleUpdate{ID: s.ID, OldStatus: s.IsActive, NewStatus: res.Active, Message: res.Message}, nil
}

func (r *Reconciler) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// errStoreTimeout is reported when a store call outlives its deadline
// without honouring ctx.
var errStoreTimeout = errors.New("store call timed out")

// withTimeout runs fn with a deadline and returns once either fn returns or
// the deadline passes, so a store that ignores ctx cannot stall the caller.
func withTimeout(parent context.Context, d time.Duration, fn func(context.Context) error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", errStoreTimeout, d)
		}
		return ctx.Err()
	}
}
