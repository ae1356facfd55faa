package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Closed date interval [Start, End]
// =============================================================================

// Period is a closed interval of calendar days. A one-day absence has
// Start == End.
//
// Examples:
//   - A week of vacation: 2024-07-01 .. 2024-07-05
//   - A blackout window:  2024-12-20 .. 2025-01-02
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod parses two YYYY-MM-DD strings. It does not check ordering; use Validate.
func NewPeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	return Period{Start: s, End: e}, nil
}

// MustPeriod is NewPeriod for literals in tests and seed data.
func MustPeriod(start, end string) Period {
	p, err := NewPeriod(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate returns ErrInvalidInterval when End is before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: missing start or end", ErrInvalidInterval)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, p)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps is closed-interval overlap: a.start <= b.end && b.start <= a.end.
// It is symmetric.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Intersect returns the shared days of two periods.
func (p Period) Intersect(other Period) (Period, bool) {
	if !p.Overlaps(other) {
		return Period{}, false
	}
	start, end := p.Start, p.End
	if other.Start.After(start) {
		start = other.Start
	}
	if other.End.Before(end) {
		end = other.End
	}
	return Period{Start: start, End: end}, true
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Workdays counts days in the period that are neither weekends nor holidays.
func (p Period) Workdays(calendar HolidayCalendar) int {
	n := 0
	for _, d := range p.Days() {
		if d.IsWorkday(calendar) {
			n++
		}
	}
	return n
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearPeriod is the calendar year containing the given year number.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// MonthPeriod is one calendar month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}
