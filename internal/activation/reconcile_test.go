package activation

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"surveysched/internal/eventbus"
	"surveysched/pkg/logx"
)

type fakeStore struct {
	mu       sync.Mutex
	items    map[string]Schedule
	writes   int
	failIDs  map[string]bool
	blockIDs map[string]chan struct{}
	listErr  error
}

func newFakeStore(items ...Schedule) *fakeStore {
	fs := &fakeStore{items: map[string]Schedule{}, failIDs: map[string]bool{}, blockIDs: map[string]chan struct{}{}}
	for _, s := range items {
		fs.items[s.ID] = s
	}
	return fs
}

func (f *fakeStore) ListRecurring(ctx context.Context) ([]Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Schedule
	for _, s := range f.items {
		if s.IsRecurring {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) SetBounds(ctx context.Context, id string, b Bounds) (Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	b.Apply(&s)
	f.items[id] = s
	return s, nil
}

func (f *fakeStore) SetActive(ctx context.Context, id string, active bool) error {
	f.mu.Lock()
	block := f.blockIDs[id]
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[id] {
		return errors.New("disk on fire")
	}
	s, ok := f.items[id]
	if !ok {
		return ErrNotFound
	}
	s.IsActive = active
	f.items[id] = s
	f.writes++
	return nil
}

func (f *fakeStore) active(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].IsActive
}

func fixedClock(t time.Time) Clock { return ClockFunc(func() time.Time { return t }) }

func newTestReconciler(store Store, now time.Time, bus eventbus.Bus) *Reconciler {
	return NewReconciler(store, fixedClock(now), Options{Location: testLoc, StoreTimeout: time.Second, Workers: 2}, logx.Nop(), bus)
}

func TestReconcile_IdempotentPasses(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	store := newFakeStore(s)
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)

	first, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.UpdatedCount)
	require.Equal(t, []ScheduleUpdate{{ID: "survey-1", OldStatus: false, NewStatus: true, Message: "active until 17:00"}}, first.Updates)
	require.True(t, store.active("survey-1"))
	require.NotEmpty(t, first.PassID)

	second, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second.UpdatedCount)
	require.Empty(t, second.Updates)
	require.Equal(t, 1, store.writes)
	require.NotEqual(t, first.PassID, second.PassID)

	last, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, second.PassID, last.PassID)
}

func TestReconcile_DeactivatesOutsideWindow(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	s.IsActive = true
	store := newFakeStore(s)
	r := newTestReconciler(store, at(t, "2025-01-02T10:00"), nil)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.UpdatedCount)
	require.Equal(t, "ended on 2024-12-31", sum.Updates[0].Message)
	require.False(t, store.active("survey-1"))
}

func TestReconcile_ManualSchedulesUntouched(t *testing.T) {
	t.Parallel()

	manual := Schedule{ID: "manual", IsActive: true, DailyStartTime: "09:00", DailyEndTime: "10:00"}
	store := newFakeStore(manual)
	r := newTestReconciler(store, at(t, "2024-06-15T23:00"), nil)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, sum.UpdatedCount)
	require.True(t, store.active("manual"))
	require.Equal(t, 0, store.writes)

	// Even when handed a non-recurring record directly.
	upd, fail := r.reconcileOne(context.Background(), r.Options(), r.Evaluator(), manual, at(t, "2024-06-15T23:00"))
	require.Nil(t, upd)
	require.Nil(t, fail)
}

func TestReconcile_IsolatesItemFailures(t *testing.T) {
	t.Parallel()

	var items []Schedule
	for _, id := range []string{"a", "b", "c", "d"} {
		s := yearSchedule(t)
		s.ID = id
		items = append(items, s)
	}
	store := newFakeStore(items...)
	store.failIDs["b"] = true
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, sum.Evaluated)
	require.Equal(t, 3, sum.UpdatedCount)
	require.Len(t, sum.Failures, 1)
	require.Equal(t, "b", sum.Failures[0].ID)
	require.Equal(t, "set_active", sum.Failures[0].Op)
	for _, id := range []string{"a", "c", "d"} {
		require.True(t, store.active(id), id)
	}
	require.False(t, store.active("b"))

	ids := []string{sum.Updates[0].ID, sum.Updates[1].ID, sum.Updates[2].ID}
	require.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestReconcile_SlowWriteTimesOut(t *testing.T) {
	t.Parallel()

	slow, fast := yearSchedule(t), yearSchedule(t)
	slow.ID, fast.ID = "slow", "fast"
	store := newFakeStore(slow, fast)
	release := make(chan struct{})
	store.blockIDs["slow"] = release
	defer close(release)

	r := NewReconciler(store, fixedClock(at(t, "2024-06-15T10:00")), Options{Location: testLoc, StoreTimeout: 50 * time.Millisecond, Workers: 2}, logx.Nop(), nil)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.UpdatedCount)
	require.Equal(t, "fast", sum.Updates[0].ID)
	require.Len(t, sum.Failures, 1)
	require.Equal(t, "slow", sum.Failures[0].ID)
	require.Contains(t, sum.Failures[0].Error, "timed out")
}

func TestReconcile_ListFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore(yearSchedule(t))
	store.listErr = errors.New("connection refused")
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)

	_, err := r.Reconcile(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, store.listErr)
	_, ok := r.Last()
	require.False(t, ok)
}

func TestReconcile_CancelledStopsDispatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore(yearSchedule(t))
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, store.writes)
}

func TestReconcile_CancelledBeforeListIsNotAnError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := newFakeStore(yearSchedule(t))
	r := NewReconciler(store, fixedClock(at(t, "2024-06-15T10:00")), Options{Location: testLoc, StoreTimeout: time.Second}, logx.NewWriter(&buf, "debug"), nil)
	before := testutil.ToFloat64(passTotal.WithLabelValues("cancelled"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Contains(t, buf.String(), "pass cancelled before listing")
	require.NotContains(t, buf.String(), `"level":"error"`)
	require.GreaterOrEqual(t, testutil.ToFloat64(passTotal.WithLabelValues("cancelled")), before+1)
}

func TestReconcile_PublishesTransitions(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, EventTransition)
	defer unsub()

	store := newFakeStore(yearSchedule(t))
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), bus)

	sum, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	select {
	case e := <-ch:
		ev, ok := e.Data.(TransitionEvent)
		require.True(t, ok)
		require.Equal(t, sum.PassID, ev.PassID)
		require.Equal(t, "survey-1", ev.Update.ID)
		require.True(t, ev.Update.NewStatus)
	case <-time.After(time.Second):
		t.Fatal("no transition event")
	}
}

func TestService_SetSchedule(t *testing.T) {
	t.Parallel()

	store := newFakeStore(Schedule{ID: "survey-1"})
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)
	svc := NewService(store, r, logx.Nop())

	got, err := svc.SetSchedule(context.Background(), "survey-1", Input{
		StartDate:      "2024-01-01",
		EndDate:        "2024-12-31",
		DailyStartTime: "9:00",
		DailyEndTime:   "17:00",
	})
	require.NoError(t, err)
	require.True(t, got.IsRecurring)
	require.True(t, got.IsActive)
	require.Equal(t, "09:00", got.DailyStartTime)

	sc, res, err := svc.Inspect(context.Background(), "survey-1")
	require.NoError(t, err)
	require.Equal(t, got.ID, sc.ID)
	require.Equal(t, Result{Active: true, Message: "active until 17:00"}, res)
}

func TestService_SetScheduleRejectsWithoutWriting(t *testing.T) {
	t.Parallel()

	store := newFakeStore(Schedule{ID: "survey-1"})
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)
	svc := NewService(store, r, logx.Nop())

	_, err := svc.SetSchedule(context.Background(), "survey-1", Input{DailyStartTime: "17:00", DailyEndTime: "09:00"})
	require.ErrorIs(t, err, ErrValidation)

	s, err := store.Get(context.Background(), "survey-1")
	require.NoError(t, err)
	require.Equal(t, Schedule{ID: "survey-1"}, s)
}

func TestService_SetScheduleUnknownEntity(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	r := newTestReconciler(store, at(t, "2024-06-15T10:00"), nil)
	svc := NewService(store, r, logx.Nop())

	_, err := svc.SetSchedule(context.Background(), "nope", Input{DailyStartTime: "09:00", DailyEndTime: "10:00"})
	require.ErrorIs(t, err, ErrNotFound)
}
