package activation

import (
	"context"
	"time"
)

// Schedule is the recurrence configuration attached to a survey entity.
//
// IsActive is derived state while IsRecurring is true; only the reconciler
// writes it.
type Schedule struct {
	ID             string     `json:"id"`
	IsRecurring    bool       `json:"isRecurring"`
	IsActive       bool       `json:"isActive"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	DailyStartTime string     `json:"dailyStartTime,omitempty"`
	DailyEndTime   string     `json:"dailyEndTime,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Bounds is a validated activation window, ready to persist.
type Bounds struct {
	StartDate      *time.Time
	EndDate        *time.Time
	DailyStartTime string
	DailyEndTime   string
}

// Apply copies b onto s and marks it recurring.
func (b Bounds) Apply(s *Schedule) {
	s.IsRecurring = true
	s.StartDate = cloneTime(b.StartDate)
	s.EndDate = cloneTime(b.EndDate)
	s.DailyStartTime = b.DailyStartTime
	s.DailyEndTime = b.DailyEndTime
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Result is the outcome of evaluating a schedule at one instant.
type Result struct {
	Active  bool   `json:"isCurrentlyActive"`
	Message string `json:"statusMessage"`
}

// ScheduleUpdate records one persisted isActive transition.
type ScheduleUpdate struct {
	ID        string `json:"id"`
	OldStatus bool   `json:"oldStatus"`
	NewStatus bool   `json:"newStatus"`
	Message   string `json:"message"`
}

// ItemFailure is a non-fatal, per-schedule error inside a pass.
type ItemFailure struct {
	ID    string `json:"id"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// Summary is what one reconciliation pass did.
type Summary struct {
	PassID       string           `json:"passId"`
	At           time.Time        `json:"at"`
	Evaluated    int              `json:"evaluated"`
	UpdatedCount int              `json:"updatedCount"`
	Updates      []ScheduleUpdate `json:"updates"`
	Failures     []ItemFailure    `json:"failures,omitempty"`
	Took         time.Duration    `json:"took"`
}

// Store is the persistence the reconciler and service need.
//
// SetActive must be a single atomic update of one record. SetBounds marks the
// schedule recurring and returns the stored record.
type Store interface {
	ListRecurring(ctx context.Context) ([]Schedule, error)
	Get(ctx context.Context, id string) (Schedule, error)
	SetBounds(ctx context.Context, id string, b Bounds) (Schedule, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// Clock supplies the current instant. Tests substitute a fixed one.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
