package activation

import (
	"context"
	"fmt"

	"surveysched/pkg/logx"
)

// Service is the operator surface over a Store and a Reconciler.
type Service struct {
	store Store
	rec   *Reconciler
	log   logx.Logger
}

func NewService(store Store, rec *Reconciler, log logx.Logger) *Service {
	return &Service{store: store, rec: rec, log: log.With(logx.String("comp", "activation"))}
}

func (s *Service) Reconciler() *Reconciler { return s.rec }

// SetSchedule validates in, stores it as the recurring schedule for id and
// runs one reconciliation pass so the returned isActive is current.
//
// Nothing is written when validation fails. A failed follow-up pass is
// logged; the stored bounds stand and the next periodic pass catches up.
func (s *Service) SetSchedule(ctx context.Context, id string, in Input) (Schedule, error) {
	b, err := Validate(in, s.rec.Location())
	if err != nil {
		return Schedule{}, err
	}
	if _, err := s.store.SetBounds(ctx, id, b); err != nil {
		return Schedule{}, fmt.Errorf("set schedule %s: %w", id, err)
	}
	if _, err := s.rec.Reconcile(ctx); err != nil {
		s.log.Warn("set schedule: follow-up reconcile failed", logx.String("schedule", id), logx.Err(err))
	}
	out, err := s.store.Get(ctx, id)
	if err != nil {
		return Schedule{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return out, nil
}

// Inspect returns the stored schedule and a live evaluation at the
// reconciler's current instant.
func (s *Service) Inspect(ctx context.Context, id string) (Schedule, Result, error) {
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return Schedule{}, Result{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return sc, s.rec.Evaluator().Evaluate(sc, s.rec.Now()), nil
}

func (s *Service) Reconcile(ctx context.Context) (Summary, error) {
	return s.rec.Reconcile(ctx)
}
