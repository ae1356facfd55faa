package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
)

func TestPeriod_OverlapIsSymmetric(t *testing.T) {
	periods := []generic.Period{
		generic.MustPeriod("2024-07-01", "2024-07-05"),
		generic.MustPeriod("2024-07-05", "2024-07-05"),
		generic.MustPeriod("2024-07-06", "2024-07-10"),
		generic.MustPeriod("2024-06-01", "2024-08-01"),
		generic.MustPeriod("2024-07-03", "2024-07-04"),
	}
	for _, a := range periods {
		for _, b := range periods {
			assert.Equal(t, a.Overlaps(b), b.Overlaps(a), "%s vs %s", a, b)
		}
	}
}

func TestPeriod_ClosedIntervalOverlap(t *testing.T) {
	week := generic.MustPeriod("2024-07-01", "2024-07-05")

	assert.True(t, week.Overlaps(generic.MustPeriod("2024-07-05", "2024-07-09")), "shared last day")
	assert.True(t, week.Overlaps(generic.MustPeriod("2024-06-28", "2024-07-01")), "shared first day")
	assert.False(t, week.Overlaps(generic.MustPeriod("2024-07-06", "2024-07-09")), "adjacent")
}

func TestPeriod_Validate(t *testing.T) {
	require.NoError(t, generic.MustPeriod("2024-07-01", "2024-07-01").Validate())

	err := generic.MustPeriod("2024-07-02", "2024-07-01").Validate()
	assert.ErrorIs(t, err, generic.ErrInvalidInterval)

	assert.ErrorIs(t, generic.Period{}.Validate(), generic.ErrInvalidInterval)
}

func TestPeriod_Intersect(t *testing.T) {
	a := generic.MustPeriod("2024-07-01", "2024-07-10")
	b := generic.MustPeriod("2024-07-08", "2024-07-20")

	got, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, "2024-07-08", got.Start.String())
	assert.Equal(t, "2024-07-10", got.End.String())
	assert.Equal(t, 3, got.Len())

	_, ok = a.Intersect(generic.MustPeriod("2024-08-01", "2024-08-02"))
	assert.False(t, ok)
}

func TestPeriod_WorkdaysSkipsWeekendsAndHolidays(t *testing.T) {
	// 2024-06-03 (Mon) .. 2024-06-16 (Sun): 10 weekdays, 2024-06-10 and 06-13 are holidays
	p := generic.MustPeriod("2024-06-03", "2024-06-16")
	calendar := generic.NewHolidaySet([]generic.Holiday{
		{Date: generic.MustParseDate("2024-06-10"), Name: "Portugal Day"},
		{Date: generic.MustParseDate("2000-06-13"), Name: "Santo António", Recurring: true},
	})

	assert.Equal(t, 10, p.Workdays(generic.DefaultHolidayCalendar{}))
	assert.Equal(t, 8, p.Workdays(calendar))
}

func TestTimePoint_TextRoundTrip(t *testing.T) {
	tp := generic.NewTimePoint(2024, time.February, 29)
	b, err := tp.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", string(b))

	var parsed generic.TimePoint
	require.NoError(t, parsed.UnmarshalText(b))
	assert.True(t, parsed.Equal(tp))

	assert.Error(t, parsed.UnmarshalText([]byte("29/02/2024")))
}

func TestEndOfMonth(t *testing.T) {
	assert.Equal(t, "2024-02-29", generic.EndOfMonth(2024, time.February).String())
	assert.Equal(t, "2023-12-31", generic.EndOfMonth(2023, time.December).String())
}

func TestYearBoundsAndDaysBetween(t *testing.T) {
	start, end := generic.StartOfYear(2024), generic.EndOfYear(2024)

	assert.Equal(t, "2024-01-01", start.String())
	assert.Equal(t, "2024-12-31", end.String())
	assert.Equal(t, 365, generic.DaysBetween(start, end))
	assert.Equal(t, -1, generic.DaysBetween(end.AddDays(1), end))
	assert.True(t, generic.MustParseDate("2024-06-01").IsWeekend())
	assert.False(t, generic.MustParseDate("2024-06-03").IsWeekend())
}

func TestDaysArithmetic(t *testing.T) {
	d := generic.NewDaysFromInt(5).Sub(generic.NewDays(0.5)).Add(generic.ZeroDays())

	assert.Equal(t, "4.5", d.String())
	assert.True(t, generic.NewDaysFromInt(2).Sub(d).IsNegative())
	assert.True(t, d.Equal(generic.NewDays(4.5)))
}
