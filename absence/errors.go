package absence

import (
	"fmt"
	"strings"

	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// ConflictError is returned by Submit, Update and Approve when the situation
// breaks at least one conflict rule. It carries the full check result so the
// caller can show every reason.
type ConflictError struct {
	EmployeeID generic.EmployeeID
	Period     generic.Period
	Result     conflict.Result
}

func (e *ConflictError) Error() string {
	reasons := make([]string, len(e.Result.Violations))
	for i, v := range e.Result.Violations {
		reasons[i] = v.Reason()
	}
	return fmt.Sprintf("absence of %s in %s conflicts: %s", e.EmployeeID, e.Period, strings.Join(reasons, "; "))
}

func (e *ConflictError) Unwrap() error {
	return generic.ErrConflict
}

// OverlapError lists the employee's own absences already covering the requested days.
type OverlapError struct {
	EmployeeID  generic.EmployeeID
	Period      generic.Period
	Overlapping []Situation
}

func (e *OverlapError) Error() string {
	ids := make([]string, len(e.Overlapping))
	for i, s := range e.Overlapping {
		ids[i] = fmt.Sprintf("%s %s", s.ID, s.Period)
	}
	return fmt.Sprintf("employee %s already absent in %s: %s", e.EmployeeID, e.Period, strings.Join(ids, ", "))
}

func (e *OverlapError) Unwrap() error {
	return generic.ErrSelfOverlap
}

// EligibilityError is returned when a contract employee asks for vacation
// starting before EligibleFrom. Proposal.ForceEligibility overrides it.
type EligibilityError struct {
	EmployeeID   generic.EmployeeID
	Start        generic.TimePoint
	EligibleFrom generic.TimePoint
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("employee %s may take vacation from %s, requested %s", e.EmployeeID, e.EligibleFrom, e.Start)
}

func (e *EligibilityError) Unwrap() error {
	return generic.ErrNotYetEligible
}

// InsufficientBalanceError is returned when the requested days exceed what is
// left for the year. Proposal.ForceBalance overrides it.
type InsufficientBalanceError struct {
	EmployeeID generic.EmployeeID
	Year       int
	Remaining  generic.Days
	Requested  generic.Days
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("employee %s has %s vacation days left in %d, requested %s",
		e.EmployeeID, e.Remaining, e.Year, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return generic.ErrInsufficientBalance
}
