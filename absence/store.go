/*
store.go - Persistence interface for the absence domain

PURPOSE:
  Defines the interface between the absence service and the database.
  Implementations: store/sqlite (database/sql + go-sqlite3), store/mongo
  (MongoDB), store/memory (tests and development).

SOFT LIFECYCLE:
  Situations are never deleted. Rejection and cancellation are status
  updates through UpdateSituation. Conflict rules may be deleted.

NOT FOUND:
  Get* methods return a wrapped generic.ErrXxxNotFound, never (nil, nil).
  GetYearTransition returns generic.ErrYearTransitionNotFound.

TRANSACTIONS:
  WithTx runs fn against a transactional view of the store. Submission and
  approval read occupancy and write the new status inside one WithTx call,
  so two concurrent submissions for the same scope cannot both pass on a
  stale count.

SEE ALSO:
  - service.go: Uses Store
*/
package absence

import (
	"context"

	"github.com/warp/absence-engine/generic"
)

type EmployeeStore interface {
	// SaveEmployee inserts or updates an employee.
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id generic.EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

type SituationTypeStore interface {
	// SaveSituationType inserts or updates a situation type.
	SaveSituationType(ctx context.Context, t SituationType) error
	ListSituationTypes(ctx context.Context) ([]SituationType, error)
}

// SituationFilter selects situations. Zero fields don't filter.
type SituationFilter struct {
	EmployeeID generic.EmployeeID
	Window     *generic.Period // situations overlapping the window
	Statuses   []Status
	ExcludeID  generic.SituationID
}

// Matches applies the filter in memory; stores may push it into queries instead.
func (f SituationFilter) Matches(s Situation) bool {
	if f.EmployeeID != "" && s.EmployeeID != f.EmployeeID {
		return false
	}
	if f.ExcludeID != "" && s.ID == f.ExcludeID {
		return false
	}
	if f.Window != nil && !f.Window.Overlaps(s.Period) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, st := range f.Statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	}
	return true
}

type SituationStore interface {
	// CreateSituation inserts a new situation; an existing id is generic.ErrDuplicateID.
	CreateSituation(ctx context.Context, s Situation) error
	// UpdateSituation replaces a stored situation; unknown ids are generic.ErrSituationNotFound.
	UpdateSituation(ctx context.Context, s Situation) error
	GetSituation(ctx context.Context, id generic.SituationID) (*Situation, error)
	// ListSituations returns matches ordered by start date, employee and id.
	ListSituations(ctx context.Context, filter SituationFilter) ([]Situation, error)
}

type RuleStore interface {
	// SaveRule inserts or replaces a rule together with its scope and sub-rules.
	SaveRule(ctx context.Context, r ConflictRule) error
	GetRule(ctx context.Context, id generic.RuleID) (*ConflictRule, error)
	// ListRules returns rules ordered by priority then id.
	ListRules(ctx context.Context, activeOnly bool) ([]ConflictRule, error)
	DeleteRule(ctx context.Context, id generic.RuleID) error
}

type HolidayStore interface {
	SaveHoliday(ctx context.Context, h generic.Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context) ([]generic.Holiday, error)
}

type AuditStore interface {
	SaveAuditRun(ctx context.Context, run AuditRun) error
	// ListAuditRuns returns the most recent runs first.
	ListAuditRuns(ctx context.Context, limit int) ([]AuditRun, error)
}

type YearTransitionStore interface {
	// SaveYearTransition records a run; a second run for the same year is
	// generic.ErrDuplicateID.
	SaveYearTransition(ctx context.Context, run YearTransitionRun) error
	GetYearTransition(ctx context.Context, year int) (*YearTransitionRun, error)
	// ListYearTransitions returns runs newest year first.
	ListYearTransitions(ctx context.Context) ([]YearTransitionRun, error)
}

// Store is everything the service needs.
type Store interface {
	EmployeeStore
	SituationTypeStore
	SituationStore
	RuleStore
	HolidayStore
	AuditStore
	YearTransitionStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Reset removes all data. Development and demo scenarios only.
	Reset(ctx context.Context) error
}
