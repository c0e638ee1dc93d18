package activation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var clockRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClock parses "H:MM" or "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return hh*60 + mm, nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// NormalizeClock returns s in zero-padded HH:MM form.
func NormalizeClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}

// Input is the raw set-schedule request. Empty dates mean unbounded.
type Input struct {
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	DailyStartTime string `json:"dailyStartTime"`
	DailyEndTime   string `json:"dailyEndTime"`
}

// Validate checks in and converts it to Bounds in loc.
//
// Dates accept YYYY-MM-DD or RFC3339. A date-only start is midnight of that
// day; a date-only end is the last instant of that day. Two date-only values
// must name different days; an RFC3339 start is compared against the
// expanded end. Instants outside years 0001-9999 UTC are rejected.
func Validate(in Input, loc *time.Location) (Bounds, error) {
	if loc == nil {
		loc = time.UTC
	}
	var b Bounds

	start, startDateOnly, err := parseDate(in.StartDate, loc)
	if err != nil {
		return Bounds{}, invalid("startDate", "%v", err)
	}
	end, endDateOnly, err := parseDate(in.EndDate, loc)
	if err != nil {
		return Bounds{}, invalid("endDate", "%v", err)
	}
	// Two plain dates are ordered as written, so equal days are rejected.
	// Otherwise a date-only end is compared by its last instant.
	if start != nil && end != nil && startDateOnly && endDateOnly && !end.After(*start) {
		return Bounds{}, invalid("endDate", "must be after startDate")
	}
	if end != nil && endDateOnly {
		eod := endOfDay(*end, loc)
		end = &eod
	}
	if start != nil && end != nil && !end.After(*start) {
		return Bounds{}, invalid("endDate", "must be after startDate")
	}
	if start != nil && !storable(*start) {
		return Bounds{}, invalid("startDate", "year must be between 0001 and 9999 in UTC")
	}
	if end != nil && !storable(*end) {
		return Bounds{}, invalid("endDate", "year must be between 0001 and 9999 in UTC")
	}
	b.StartDate, b.EndDate = start, end

	if strings.TrimSpace(in.DailyStartTime) == "" {
		return Bounds{}, invalid("dailyStartTime", "required")
	}
	if strings.TrimSpace(in.DailyEndTime) == "" {
		return Bounds{}, invalid("dailyEndTime", "required")
	}
	from, err := ParseClock(in.DailyStartTime)
	if err != nil {
		return Bounds{}, invalid("dailyStartTime", "%v", err)
	}
	to, err := ParseClock(in.DailyEndTime)
	if err != nil {
		return Bounds{}, invalid("dailyEndTime", "%v", err)
	}
	if to <= from {
		return Bounds{}, invalid("dailyEndTime", "must be after dailyStartTime")
	}
	b.DailyStartTime = FormatClock(from)
	b.DailyEndTime = FormatClock(to)
	return b, nil
}

func parseDate(s string, loc *time.Location) (*time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return &t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", s)
	}
	return &t, false, nil
}

// storable reports whether t survives RFC3339 encoding in UTC.
func storable(t time.Time) bool {
	y := t.UTC().Year()
	return y >= 1 && y <= 9999
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}
