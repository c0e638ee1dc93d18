package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("ref", 3*60*60)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation("2006-01-02T15:04", s, testLoc)
	require.NoError(t, err)
	return v
}

func ptr(t time.Time) *time.Time { return &t }

func yearSchedule(t *testing.T) Schedule {
	return Schedule{
		ID:             "survey-1",
		IsRecurring:    true,
		StartDate:      ptr(at(t, "2024-01-01T00:00")),
		EndDate:        ptr(at(t, "2024-12-31T00:00")),
		DailyStartTime: "09:00",
		DailyEndTime:   "17:00",
	}
}

func TestEvaluate_Scenarios(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		now    string
		active bool
		msg    string
	}{
		{"inside window", "2024-06-15T10:00", true, "active until 17:00"},
		{"after window", "2024-06-15T20:00", false, "next window starts 09:00"},
		{"before window", "2024-06-15T08:59", false, "next window starts 09:00"},
		{"after end date", "2025-01-02T10:00", false, "ended on 2024-12-31"},
		{"before start date", "2023-12-31T10:00", false, "starts on 2024-01-01"},
	}
	s := yearSchedule(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(s, at(t, tc.now), testLoc)
			require.Equal(t, tc.active, got.Active)
			require.Equal(t, tc.msg, got.Message)
		})
	}
}

func TestEvaluate_BoundariesInclusive(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	require.True(t, Evaluate(s, at(t, "2024-06-15T09:00"), testLoc).Active)
	require.True(t, Evaluate(s, at(t, "2024-06-15T17:00"), testLoc).Active)
	require.True(t, Evaluate(s, at(t, "2024-06-15T17:00").Add(59*time.Second), testLoc).Active)
	require.False(t, Evaluate(s, at(t, "2024-06-15T17:01"), testLoc).Active)
}

func TestEvaluate_DateBoundsAtExactInstant(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	s.StartDate = ptr(at(t, "2024-03-01T10:00"))
	s.EndDate = ptr(at(t, "2024-03-05T12:00"))

	require.True(t, Evaluate(s, *s.StartDate, testLoc).Active)
	require.True(t, Evaluate(s, *s.EndDate, testLoc).Active)
	require.False(t, Evaluate(s, s.StartDate.Add(-time.Nanosecond), testLoc).Active)

	got := Evaluate(s, s.EndDate.Add(time.Nanosecond), testLoc)
	require.False(t, got.Active)
	require.Equal(t, "ended on 2024-03-05", got.Message)
}

func TestEvaluate_UsesReferenceZone(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	// 07:30 UTC is 10:30 in the reference zone.
	now := time.Date(2024, 6, 15, 7, 30, 0, 0, time.UTC)
	require.True(t, Evaluate(s, now, testLoc).Active)
	require.False(t, Evaluate(s, now, time.UTC).Active)
}

func TestEvaluate_ManualPassthrough(t *testing.T) {
	t.Parallel()

	for _, stored := range []bool{true, false} {
		s := yearSchedule(t)
		s.IsRecurring = false
		s.IsActive = stored
		got := Evaluate(s, at(t, "2030-01-01T03:00"), testLoc)
		require.Equal(t, stored, got.Active)

		s = yearSchedule(t)
		s.IsActive = stored
		s.DailyEndTime = ""
		got = Evaluate(s, at(t, "2030-01-01T03:00"), testLoc)
		require.Equal(t, stored, got.Active)
	}
	require.Equal(t, "active", Evaluate(Schedule{IsActive: true}, time.Now(), testLoc).Message)
	require.Equal(t, "inactive", Evaluate(Schedule{}, time.Now(), testLoc).Message)
}

func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()

	s := yearSchedule(t)
	now := at(t, "2024-06-15T12:34")
	first := Evaluate(s, now, testLoc)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Evaluate(s, now, testLoc))
	}
	require.Equal(t, first, Evaluator{Location: testLoc}.Evaluate(s, now))
}

func TestEvaluate_NilLocationIsUTC(t *testing.T) {
	t.Parallel()

	s := Schedule{IsRecurring: true, DailyStartTime: "00:00", DailyEndTime: "01:00"}
	require.True(t, Evaluate(s, time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC), nil).Active)
}
