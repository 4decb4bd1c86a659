package engine

import "time"

// =============================================================================
// PERIOD - Calendar-month contribution windows
// =============================================================================

// Period is one contribution window. Periods are calendar months: a
// contribution dated anywhere in month M belongs to period M.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodOf returns the calendar-month period containing t (UTC dates).
func PeriodOf(t time.Time) Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Period{Start: start, End: end}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Next returns the following calendar-month period.
func (p Period) Next() Period { return PeriodOf(p.Start.AddDate(0, 1, 0)) }

// GraceDeadline returns the last instant a contribution for this period can
// be settled without penalty: graceDays into the following month, end of day.
func (p Period) GraceDeadline(graceDays int) time.Time {
	next := p.Start.AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), graceDays, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

// SamePeriod reports whether two dates fall in the same contribution window.
func SamePeriod(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// MonthsBetween returns the whole months elapsed from 'from' to 'to'
// (0 when to <= from). Used for overdue-period counting and consistency
// scoring.
func MonthsBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// DateOnly truncates a timestamp to its UTC calendar date. Duplicate
// detection compares contribution dates at day granularity.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
