package activation

import (
	"time"
)

const dateLayout = "2006-01-02"

// Evaluator evaluates schedules in a fixed reference location.
type Evaluator struct {
	Location *time.Location
}

func (e Evaluator) Evaluate(s Schedule, now time.Time) Result {
	return Evaluate(s, now, e.Location)
}

// Evaluate reports whether s is active at now. Daily windows are compared by
// minute of day in loc and both ends are inclusive. Only instants strictly
// before StartDate or strictly after EndDate fall outside the calendar window.
//
// Non-recurring schedules, and recurring ones missing a daily time, keep
// their stored flag.
func Evaluate(s Schedule, now time.Time, loc *time.Location) Result {
	if loc == nil {
		loc = time.UTC
	}
	if !s.IsRecurring || s.DailyStartTime == "" || s.DailyEndTime == "" {
		return storedResult(s.IsActive)
	}
	local := now.In(loc)

	if s.StartDate != nil && local.Before(*s.StartDate) {
		return Result{Message: "starts on " + s.StartDate.In(loc).Format(dateLayout)}
	}
	if s.EndDate != nil && local.After(*s.EndDate) {
		return Result{Message: "ended on " + s.EndDate.In(loc).Format(dateLayout)}
	}

	start, errStart := ParseClock(s.DailyStartTime)
	end, errEnd := ParseClock(s.DailyEndTime)
	if errStart != nil || errEnd != nil {
		// Unreadable stored times cannot open a window.
		return Result{Message: "inactive"}
	}

	minute := local.Hour()*60 + local.Minute()
	if minute >= start && minute <= end {
		return Result{Active: true, Message: "active until " + FormatClock(end)}
	}
	return Result{Message: "next window starts " + FormatClock(start)}
}

func storedResult(active bool) Result {
	if active {
		return Result{Active: true, Message: "active"}
	}
	return Result{Message: "inactive"}
}
