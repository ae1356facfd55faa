package absence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/absence-engine/generic"
)

// VacationSummary is one employee's vacation position for a year.
type VacationSummary struct {
	EmployeeID          generic.EmployeeID
	Sigla               string
	Name                string
	Year                int
	Entitlement         generic.Days // annual days for the contract
	PreviousYearBalance generic.Days
	Used                generic.Days // approved
	Pending             generic.Days
	Remaining           generic.Days // entitlement + carry-over - used - pending
}

// Summary computes the vacation position of every active employee for year.
// Only situation types that deduct vacation are counted; situations spanning
// the new year contribute only their days inside year.
func (s *Service) Summary(ctx context.Context, year int) ([]VacationSummary, error) {
	employees, err := s.Store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	usage, err := vacationUsage(ctx, s.Store, year, "")
	if err != nil {
		return nil, err
	}

	var out []VacationSummary
	for _, e := range employees {
		if !e.Active {
			continue
		}
		out = append(out, usage.summary(e, year))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// yearUsage holds deducted days per employee for one year.
type yearUsage struct {
	used     map[generic.EmployeeID]generic.Days
	pending  map[generic.EmployeeID]generic.Days
	calendar *generic.HolidaySet
	types    map[generic.SituationTypeID]SituationType
}

func (u yearUsage) summary(e Employee, year int) VacationSummary {
	sum := VacationSummary{
		EmployeeID:          e.ID,
		Sigla:               e.Sigla,
		Name:                e.Name,
		Year:                year,
		Entitlement:         generic.NewDaysFromInt(e.Entitlement(year)),
		PreviousYearBalance: addDays(e.PreviousYearBalance, generic.ZeroDays()),
		Used:                addDays(u.used[e.ID], generic.ZeroDays()),
		Pending:             addDays(u.pending[e.ID], generic.ZeroDays()),
	}
	sum.Remaining = sum.Entitlement.Add(sum.PreviousYearBalance).Sub(sum.Used).Sub(sum.Pending)
	return sum
}

// deduction is what a situation of type t over p costs inside window.
func (u yearUsage) deduction(t SituationType, p generic.Period, window generic.Period) generic.Days {
	inYear, ok := p.Intersect(window)
	if !ok {
		return generic.ZeroDays()
	}
	days := generic.NewDaysFromInt(inYear.Workdays(u.calendar))
	if !t.DeductionValue.IsZero() {
		days = days.Mul(t.DeductionValue)
	}
	return days
}

// vacationUsage sums approved and pending deducted days inside year.
// Situations spanning the new year contribute only their days inside year.
// exclude leaves one situation out, used when it is being edited.
func vacationUsage(ctx context.Context, store Store, year int, exclude generic.SituationID) (yearUsage, error) {
	u := yearUsage{
		used:    make(map[generic.EmployeeID]generic.Days),
		pending: make(map[generic.EmployeeID]generic.Days),
		types:   make(map[generic.SituationTypeID]SituationType),
	}
	types, err := store.ListSituationTypes(ctx)
	if err != nil {
		return u, fmt.Errorf("list situation types: %w", err)
	}
	for _, t := range types {
		if t.DeductsVacation {
			u.types[t.ID] = t
		}
	}
	holidays, err := store.ListHolidays(ctx)
	if err != nil {
		return u, fmt.Errorf("list holidays: %w", err)
	}
	u.calendar = generic.NewHolidaySet(holidays)

	window := generic.YearPeriod(year)
	situations, err := store.ListSituations(ctx, SituationFilter{Window: &window, Statuses: ActiveStatuses})
	if err != nil {
		return u, fmt.Errorf("list situations: %w", err)
	}
	for _, sit := range situations {
		t, ok := u.types[sit.SituationTypeID]
		if !ok || sit.ID == exclude {
			continue
		}
		days := u.deduction(t, sit.Period, window)
		if sit.Status == StatusApproved {
			u.used[sit.EmployeeID] = addDays(u.used[sit.EmployeeID], days)
		} else {
			u.pending[sit.EmployeeID] = addDays(u.pending[sit.EmployeeID], days)
		}
	}
	return u, nil
}

// CalendarDay is one employee absent on one date.
type CalendarDay struct {
	Date        generic.TimePoint
	EmployeeID  generic.EmployeeID
	Sigla       string
	SituationID generic.SituationID
	Code        string
	Status      Status
	Workday     bool
}

// Calendar lists absences day by day for a month, optionally restricted to
// one department. Rejected and cancelled situations are left out.
func (s *Service) Calendar(ctx context.Context, year int, month time.Month, departmentID string) ([]CalendarDay, error) {
	window := generic.MonthPeriod(year, month)

	employees, err := s.Store.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	byID := make(map[generic.EmployeeID]Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}
	types, err := s.Store.ListSituationTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list situation types: %w", err)
	}
	codes := make(map[generic.SituationTypeID]string, len(types))
	for _, t := range types {
		codes[t.ID] = t.Code
	}
	holidays, err := s.Store.ListHolidays(ctx)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	calendar := generic.NewHolidaySet(holidays)

	situations, err := s.Store.ListSituations(ctx, SituationFilter{Window: &window, Statuses: ActiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("list situations: %w", err)
	}

	var out []CalendarDay
	for _, sit := range situations {
		e, ok := byID[sit.EmployeeID]
		if departmentID != "" && (!ok || e.DepartmentID != departmentID) {
			continue
		}
		inMonth, ok := sit.Period.Intersect(window)
		if !ok {
			continue
		}
		for _, d := range inMonth.Days() {
			out = append(out, CalendarDay{
				Date:        d,
				EmployeeID:  sit.EmployeeID,
				Sigla:       e.Sigla,
				SituationID: sit.ID,
				Code:        codes[sit.SituationTypeID],
				Status:      sit.Status,
				Workday:     d.IsWorkday(calendar),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

// addDays treats the zero Days value (nil decimal) as zero.
func addDays(a, b generic.Days) generic.Days {
	return generic.ZeroDays().Add(a).Add(b)
}
