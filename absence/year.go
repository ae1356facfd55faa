package absence

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/generic"
)

// YearTransition closes year-1 and carries each active employee's unused
// days into year, clamped to [0, MaxCarryOverDays]:
//
//	carried = previous balance + entitlement(year-1) - approved days in year-1
//
// The result replaces PreviousYearBalance. A year transitions once; a repeated
// call returns the stored run and alreadyRun set.
func (s *Service) YearTransition(ctx context.Context, year int) (run YearTransitionRun, alreadyRun bool, err error) {
	closed := year - 1
	err = s.Store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetYearTransition(ctx, year)
		switch {
		case err == nil:
			run, alreadyRun = *existing, true
			return nil
		case !errors.Is(err, generic.ErrYearTransitionNotFound):
			return err
		}

		employees, err := tx.ListEmployees(ctx)
		if err != nil {
			return fmt.Errorf("list employees: %w", err)
		}
		usage, err := vacationUsage(ctx, tx, closed, "")
		if err != nil {
			return err
		}

		now := s.now()
		run = YearTransitionRun{Year: year, RanAt: now}
		for _, e := range employees {
			if !e.Active {
				continue
			}
			c := CarryOver{
				EmployeeID:  e.ID,
				Previous:    addDays(e.PreviousYearBalance, generic.ZeroDays()),
				Entitlement: generic.NewDaysFromInt(e.Entitlement(closed)),
				Used:        addDays(usage.used[e.ID], generic.ZeroDays()),
			}
			c.Carried = clampCarryOver(c.Previous.Add(c.Entitlement).Sub(c.Used))

			e.PreviousYearBalance = c.Carried
			e.UpdatedAt = now
			if err := tx.SaveEmployee(ctx, e); err != nil {
				return fmt.Errorf("save employee %s: %w", e.ID, err)
			}
			run.CarryOvers = append(run.CarryOvers, c)
			run.EmployeesUpdated++
		}
		return tx.SaveYearTransition(ctx, run)
	})
	if err != nil {
		return YearTransitionRun{}, false, err
	}

	log := s.Logger.WithFields(logrus.Fields{"year": year, "employees_updated": run.EmployeesUpdated})
	if alreadyRun {
		log.Info("year transition already ran, skipped")
	} else {
		log.Info("year transition completed")
	}
	return run, alreadyRun, nil
}

func clampCarryOver(d generic.Days) generic.Days {
	limit := generic.NewDaysFromInt(MaxCarryOverDays)
	switch {
	case d.IsNegative():
		return generic.ZeroDays()
	case limit.Sub(d).IsNegative():
		return limit
	}
	return d
}
