/*
errors.go - Centralized error types for the absence engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Evaluation errors - Malformed input to the conflict evaluator
     (InvalidInterval, UnresolvedScope). These mean "the system could not
     check", never "your request conflicts".
  2. Validation errors - Business rule violations (conflict, self overlap,
     eligibility, balance, status transitions)
  3. Store errors - Missing or duplicate records

USAGE:
  if errors.Is(err, generic.ErrInvalidInterval) {
      // surface as "could not evaluate conflicts"
  }

SEE ALSO:
  - conflict/evaluator.go: Returns evaluation errors
  - absence/errors.go: ConflictError and OverlapError carry results
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInterval is returned when a situation ends before it starts.
	ErrInvalidInterval = errors.New("invalid interval: end before start")

	// ErrUnresolvedScope is returned when a rule reaches the evaluator
	// without its membership expanded to employee identifiers.
	ErrUnresolvedScope = errors.New("rule scope not resolved")

	// ErrConflict is returned when a submission violates a conflict rule.
	ErrConflict = errors.New("absence conflicts with a conflict rule")

	// ErrSelfOverlap is returned when the employee already has an absence
	// registered on some of the requested days.
	ErrSelfOverlap = errors.New("employee already absent in period")

	// ErrNotYetEligible is returned when a contract employee asks for vacation
	// before completing the waiting period after admission.
	ErrNotYetEligible = errors.New("employee not yet eligible for vacation")

	// ErrInsufficientBalance is returned when a vacation would take the
	// employee's remaining days below zero.
	ErrInsufficientBalance = errors.New("insufficient vacation balance")

	// ErrInvalidStatusTransition is returned for e.g. approving a rejected situation.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrEntityNotFound is returned when a referenced employee doesn't exist.
	ErrEntityNotFound = errors.New("employee not found")

	// ErrRuleNotFound is returned when a referenced conflict rule doesn't exist.
	ErrRuleNotFound = errors.New("conflict rule not found")

	// ErrSituationNotFound is returned when a referenced situation doesn't exist.
	ErrSituationNotFound = errors.New("situation not found")

	// ErrSituationTypeNotFound is returned when a situation type id or code is unknown.
	ErrSituationTypeNotFound = errors.New("situation type not found")

	// ErrYearTransitionNotFound is returned when no carry-over ran for a year.
	ErrYearTransitionNotFound = errors.New("year transition not found")

	// ErrDuplicateID is returned when inserting a record whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidRule is returned for rule definitions that cannot be evaluated.
	ErrInvalidRule = errors.New("invalid conflict rule")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidIntervalError names the situation whose period is malformed.
type InvalidIntervalError struct {
	SituationID string
	EmployeeID  string
	Period      Period
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid interval for situation %q (employee %s): %s ends before it starts",
		e.SituationID, e.EmployeeID, e.Period)
}

func (e *InvalidIntervalError) Unwrap() error {
	return ErrInvalidInterval
}

// UnresolvedScopeError names the rule (and sub-rule) missing resolved membership.
type UnresolvedScopeError struct {
	RuleID    string
	SubRuleID string
}

func (e *UnresolvedScopeError) Error() string {
	if e.SubRuleID != "" {
		return fmt.Sprintf("rule %s sub-rule %s: membership not resolved", e.RuleID, e.SubRuleID)
	}
	return fmt.Sprintf("rule %s: membership not resolved", e.RuleID)
}

func (e *UnresolvedScopeError) Unwrap() error {
	return ErrUnresolvedScope
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsEvaluationError returns true if conflicts could not be evaluated at all.
func IsEvaluationError(err error) bool {
	return errors.Is(err, ErrInvalidInterval) || errors.Is(err, ErrUnresolvedScope)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrSelfOverlap) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotYetEligible) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrInvalidRule)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrSituationNotFound) ||
		errors.Is(err, ErrSituationTypeNotFound) ||
		errors.Is(err, ErrYearTransitionNotFound)
}
