/*
service.go - Absence request lifecycle with conflict checking

PURPOSE:
  Orchestrates the store and the conflict evaluator:
  1. Preview:  CheckConflicts evaluates a proposal without persisting (dry run)
  2. Submit:   Self-overlap check, eligibility and balance checks,
               conflict check, persist as pending
  3. Decide:   Approve re-checks conflicts inside the transaction, then
               flips the status; Reject and Cancel are status changes only
  4. Audit:    AuditPending re-evaluates pending situations after rule edits

REQUEST FLOW:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │  Proposal ──▶ load employee, types, rules, occupancy (in tx)    │
  │                        │                                        │
  │                        ▼                                        │
  │              resolve scopes ──▶ conflict.Evaluate               │
  │                                      │                          │
  │                    ┌─────────────────┴──────────┐               │
  │                    ▼                            ▼               │
  │              violations && !Force          passed / Force       │
  │              ConflictError (409)           persist pending      │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

CHECK-THEN-ACT:
  The occupancy read and the insert happen inside Store.WithTx. Stores
  serialize WithTx calls (mutex for memory/sqlite, session transaction for
  mongo), so two concurrent submissions for the same scope cannot both pass.

SEE ALSO:
  - conflict/evaluator.go: The pure evaluator
  - store.go: Store interface
  - api/handlers.go: HTTP surface
*/
package absence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/metrics"
)

// Service implements the absence request lifecycle.
type Service struct {
	Store     Store
	Evaluator *conflict.Evaluator
	Logger    logrus.FieldLogger

	// AutoApprove stores conflict-free submissions as approved instead of pending.
	AutoApprove bool

	// Now is overridable in tests.
	Now func() time.Time
}

// NewService creates a service over store. A nil logger uses the logrus standard logger.
func NewService(store Store, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		Store:     store,
		Evaluator: conflict.NewEvaluator(logger),
		Logger:    logger,
		Now:       time.Now,
	}
}

// Proposal is a requested absence, new or edited.
type Proposal struct {
	SituationID     generic.SituationID // optional on submit
	EmployeeID      generic.EmployeeID
	SituationTypeID generic.SituationTypeID
	Period          generic.Period
	Notes           string
	CreatedBy       string

	// ExcludeID leaves one stored situation out of occupancy (the one being edited).
	ExcludeID generic.SituationID

	// Force persists despite conflicts, after the user saw the warning.
	Force bool

	// ForceEligibility lets a vacation start inside the waiting period.
	ForceEligibility bool
	// ForceBalance lets a vacation exceed the remaining days.
	ForceBalance     bool
}

// =============================================================================
// PREVIEW
// =============================================================================

// CheckConflicts evaluates a proposal without persisting anything.
func (s *Service) CheckConflicts(ctx context.Context, p Proposal) (conflict.Result, error) {
	in, err := s.loadInput(ctx, s.Store, p, p.SituationID)
	if err != nil {
		return conflict.Result{}, err
	}
	return s.evaluate(in)
}

// CheckOverlap returns the employee's own active situations overlapping period.
func (s *Service) CheckOverlap(ctx context.Context, employeeID generic.EmployeeID, period generic.Period, excludeID generic.SituationID) ([]Situation, error) {
	return s.ownOverlaps(ctx, s.Store, employeeID, period, excludeID)
}

func (s *Service) ownOverlaps(ctx context.Context, st Store, employeeID generic.EmployeeID, period generic.Period, excludeID generic.SituationID) ([]Situation, error) {
	if err := period.Validate(); err != nil {
		return nil, &generic.InvalidIntervalError{EmployeeID: string(employeeID), Period: period}
	}
	return st.ListSituations(ctx, SituationFilter{
		EmployeeID: employeeID,
		Window:     &period,
		Statuses:   ActiveStatuses,
		ExcludeID:  excludeID,
	})
}

// =============================================================================
// SUBMIT / UPDATE
// =============================================================================

// Submit validates and persists a new situation. On conflict without Force it
// returns *ConflictError; when the employee is already absent on some of the
// days it returns *OverlapError. The returned result is the conflict check
// that was performed, also when Force let a conflicting proposal through.
func (s *Service) Submit(ctx context.Context, p Proposal) (*Situation, conflict.Result, error) {
	id := p.SituationID
	if id == "" {
		id = generic.SituationID(newID("sit"))
	}

	var (
		created Situation
		result  conflict.Result
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		if err := s.rejectOwnOverlap(ctx, tx, p.EmployeeID, p.Period, ""); err != nil {
			return err
		}

		in, err := s.loadInput(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if err := s.checkEntitlement(ctx, tx, p, in); err != nil {
			return err
		}
		result, err = s.evaluate(in)
		if err != nil {
			return err
		}
		if result.HasConflicts() && !p.Force {
			return &ConflictError{EmployeeID: p.EmployeeID, Period: p.Period, Result: result}
		}

		days, err := s.businessDays(ctx, tx, p.Period, in.situationType)
		if err != nil {
			return err
		}

		now := s.now()
		created = Situation{
			ID:              id,
			EmployeeID:      p.EmployeeID,
			SituationTypeID: p.SituationTypeID,
			Period:          p.Period,
			BusinessDays:    days,
			Status:          StatusPending,
			Notes:           p.Notes,
			CreatedBy:       p.CreatedBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if s.AutoApprove && result.Passed {
			created.Status = StatusApproved
			created.DecidedBy = "system"
		}
		return tx.CreateSituation(ctx, created)
	})
	s.recordSubmission("submit", err)
	if err != nil {
		return nil, result, err
	}

	s.Logger.WithFields(logrus.Fields{
		"situation_id": created.ID,
		"employee_id":  created.EmployeeID,
		"period":       created.Period.String(),
		"status":       created.Status,
		"forced":       p.Force && result.HasConflicts(),
	}).Info("situation submitted")
	return &created, result, nil
}

// Update changes type, period or notes of an active situation, re-checking
// overlap and conflicts with the situation itself left out of occupancy.
func (s *Service) Update(ctx context.Context, id generic.SituationID, p Proposal) (*Situation, conflict.Result, error) {
	var (
		updated Situation
		result  conflict.Result
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetSituation(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CountsTowardOccupancy() {
			return fmt.Errorf("%w: cannot edit a %s situation", generic.ErrInvalidStatusTransition, current.Status)
		}

		p.EmployeeID = current.EmployeeID
		p.ExcludeID = id
		if p.SituationTypeID == "" {
			p.SituationTypeID = current.SituationTypeID
		}
		if p.Period.Start.IsZero() && p.Period.End.IsZero() {
			p.Period = current.Period
		}

		if err := s.rejectOwnOverlap(ctx, tx, p.EmployeeID, p.Period, id); err != nil {
			return err
		}
		in, err := s.loadInput(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if err := s.checkEntitlement(ctx, tx, p, in); err != nil {
			return err
		}
		result, err = s.evaluate(in)
		if err != nil {
			return err
		}
		if result.HasConflicts() && !p.Force {
			return &ConflictError{EmployeeID: p.EmployeeID, Period: p.Period, Result: result}
		}
		days, err := s.businessDays(ctx, tx, p.Period, in.situationType)
		if err != nil {
			return err
		}

		updated = *current
		updated.SituationTypeID = p.SituationTypeID
		updated.Period = p.Period
		updated.BusinessDays = days
		if p.Notes != "" {
			updated.Notes = p.Notes
		}
		updated.UpdatedAt = s.now()
		return tx.UpdateSituation(ctx, updated)
	})
	s.recordSubmission("update", err)
	if err != nil {
		return nil, result, err
	}
	return &updated, result, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve re-evaluates a pending situation against current rules and
// occupancy, then marks it approved. force skips the conflict outcome.
func (s *Service) Approve(ctx context.Context, id generic.SituationID, actor string, force bool) (*Situation, conflict.Result, error) {
	var (
		approved Situation
		result   conflict.Result
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetSituation(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(StatusApproved) {
			return fmt.Errorf("%w: %s -> %s", generic.ErrInvalidStatusTransition, current.Status, StatusApproved)
		}

		in, err := s.loadInput(ctx, tx, proposalOf(*current), id)
		if err != nil {
			return err
		}
		result, err = s.evaluate(in)
		if err != nil {
			return err
		}
		if result.HasConflicts() && !force {
			return &ConflictError{EmployeeID: current.EmployeeID, Period: current.Period, Result: result}
		}

		approved = *current
		approved.Status = StatusApproved
		approved.DecidedBy = actor
		approved.UpdatedAt = s.now()
		return tx.UpdateSituation(ctx, approved)
	})
	s.recordSubmission("approve", err)
	if err != nil {
		return nil, result, err
	}
	s.Logger.WithFields(logrus.Fields{"situation_id": id, "actor": actor}).Info("situation approved")
	return &approved, result, nil
}

// Reject marks a pending situation rejected. It stops counting toward occupancy.
func (s *Service) Reject(ctx context.Context, id generic.SituationID, actor, reason string) (*Situation, error) {
	return s.transition(ctx, id, StatusRejected, actor, reason)
}

// Cancel withdraws a pending or approved situation.
func (s *Service) Cancel(ctx context.Context, id generic.SituationID, actor, reason string) (*Situation, error) {
	return s.transition(ctx, id, StatusCancelled, actor, reason)
}

func (s *Service) transition(ctx context.Context, id generic.SituationID, next Status, actor, reason string) (*Situation, error) {
	var out Situation
	err := s.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetSituation(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", generic.ErrInvalidStatusTransition, current.Status, next)
		}
		out = *current
		out.Status = next
		out.DecidedBy = actor
		out.DecisionReason = reason
		out.UpdatedAt = s.now()
		return tx.UpdateSituation(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"situation_id": id, "status": next, "actor": actor}).Info("situation status changed")
	return &out, nil
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditFinding is a pending situation that now conflicts.
type AuditFinding struct {
	Situation Situation
	Result    conflict.Result
}

// AuditPending re-evaluates every pending situation overlapping window
// against the current rules and records an AuditRun.
func (s *Service) AuditPending(ctx context.Context, window generic.Period) (AuditRun, []AuditFinding, error) {
	run := AuditRun{ID: newID("audit"), Window: window, StartedAt: s.now()}
	var findings []AuditFinding

	pending, err := s.Store.ListSituations(ctx, SituationFilter{Window: &window, Statuses: []Status{StatusPending}})
	if err != nil {
		run.Error = err.Error()
	}
	for _, sit := range pending {
		run.Checked++
		in, err := s.loadInput(ctx, s.Store, proposalOf(sit), sit.ID)
		if err == nil {
			var result conflict.Result
			result, err = s.evaluate(in)
			if err == nil && result.HasConflicts() {
				run.Conflicting++
				findings = append(findings, AuditFinding{Situation: sit, Result: result})
			}
		}
		if err != nil {
			run.Failed++
			s.Logger.WithError(err).WithField("situation_id", sit.ID).Warn("audit could not evaluate situation")
		}
	}
	run.CompletedAt = s.now()

	metrics.AuditRuns.Inc()
	metrics.AuditConflicting.Set(float64(run.Conflicting))

	if err := s.Store.SaveAuditRun(ctx, run); err != nil {
		return run, findings, fmt.Errorf("save audit run: %w", err)
	}
	s.Logger.WithFields(logrus.Fields{
		"window":      window.String(),
		"checked":     run.Checked,
		"conflicting": run.Conflicting,
		"failed":      run.Failed,
	}).Info("pending situations audited")
	return run, findings, nil
}

// =============================================================================
// BUSINESS DAYS
// =============================================================================

// BusinessDays counts working days in period (weekends and holidays excluded)
// weighted by the situation type's deduction value.
func (s *Service) BusinessDays(ctx context.Context, period generic.Period, typeID generic.SituationTypeID) (generic.Days, error) {
	if err := period.Validate(); err != nil {
		return generic.Days{}, err
	}
	st, err := s.situationType(ctx, s.Store, typeID)
	if err != nil {
		return generic.Days{}, err
	}
	return s.businessDays(ctx, s.Store, period, st)
}

func (s *Service) businessDays(ctx context.Context, st Store, period generic.Period, typ SituationType) (generic.Days, error) {
	holidays, err := st.ListHolidays(ctx)
	if err != nil {
		return generic.Days{}, fmt.Errorf("list holidays: %w", err)
	}
	workdays := period.Workdays(generic.NewHolidaySet(holidays))
	value := typ.DeductionValue
	if value.IsZero() {
		return generic.NewDaysFromInt(workdays), nil
	}
	return generic.NewDaysFromInt(workdays).Mul(value), nil
}

// =============================================================================
// INPUT LOADING
// =============================================================================

type evaluationInput struct {
	candidate     conflict.Situation
	existing      []conflict.Situation
	rules         []conflict.Rule
	situationType SituationType
	employee      Employee
}

// loadInput gathers everything the evaluator needs. Scopes are resolved
// against the current employee directory on every call.
func (s *Service) loadInput(ctx context.Context, st Store, p Proposal, candidateID generic.SituationID) (evaluationInput, error) {
	if err := p.Period.Validate(); err != nil {
		return evaluationInput{}, &generic.InvalidIntervalError{
			SituationID: string(candidateID),
			EmployeeID:  string(p.EmployeeID),
			Period:      p.Period,
		}
	}

	emp, err := st.GetEmployee(ctx, p.EmployeeID)
	if err != nil {
		return evaluationInput{}, err
	}

	types, err := st.ListSituationTypes(ctx)
	if err != nil {
		return evaluationInput{}, fmt.Errorf("list situation types: %w", err)
	}
	byID := make(map[generic.SituationTypeID]SituationType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}
	typ, ok := byID[p.SituationTypeID]
	if !ok {
		return evaluationInput{}, fmt.Errorf("%w: %s", generic.ErrSituationTypeNotFound, p.SituationTypeID)
	}

	exclude := p.ExcludeID
	if exclude == "" {
		exclude = candidateID
	}
	others, err := st.ListSituations(ctx, SituationFilter{
		Window:    &p.Period,
		Statuses:  ActiveStatuses,
		ExcludeID: exclude,
	})
	if err != nil {
		return evaluationInput{}, fmt.Errorf("list situations: %w", err)
	}
	existing := make([]conflict.Situation, 0, len(others))
	for _, o := range others {
		t, ok := byID[o.SituationTypeID]
		if !ok {
			s.Logger.WithFields(logrus.Fields{
				"situation_id":      o.ID,
				"situation_type_id": o.SituationTypeID,
			}).Warn("situation has unknown type, counting it as other")
			t.Category = CategoryOther
		}
		existing = append(existing, o.ForEvaluation(t.Category))
	}

	records, err := st.ListRules(ctx, true)
	if err != nil {
		return evaluationInput{}, fmt.Errorf("list rules: %w", err)
	}
	employees, err := st.ListEmployees(ctx)
	if err != nil {
		return evaluationInput{}, fmt.Errorf("list employees: %w", err)
	}
	directory := make([]conflict.Member, len(employees))
	for i, e := range employees {
		directory[i] = e.Member()
	}
	defs := make([]conflict.RuleDefinition, len(records))
	for i, r := range records {
		defs[i] = r.Definition()
	}

	return evaluationInput{
		candidate: conflict.Situation{
			ID:         candidateID,
			EmployeeID: p.EmployeeID,
			Type:       string(typ.Category),
			Period:     p.Period,
		},
		existing:      existing,
		rules:         conflict.ResolveRules(defs, directory),
		situationType: typ,
		employee:      *emp,
	}, nil
}

// checkEntitlement rejects vacation inside the admission waiting period and
// vacation the employee has no days left for, unless the proposal forces it.
// A period spanning the new year is checked against each year's balance.
func (s *Service) checkEntitlement(ctx context.Context, st Store, p Proposal, in evaluationInput) error {
	emp, typ := in.employee, in.situationType
	if typ.Category == CategoryVacation && !p.ForceEligibility {
		if from, ok := emp.EligibleFrom(); ok && p.Period.Start.Before(from) {
			return &EligibilityError{EmployeeID: emp.ID, Start: p.Period.Start, EligibleFrom: from}
		}
	}
	if !typ.DeductsVacation || p.ForceBalance {
		return nil
	}

	exclude := p.ExcludeID
	if exclude == "" {
		exclude = in.candidate.ID
	}
	for year := p.Period.Start.Year(); year <= p.Period.End.Year(); year++ {
		usage, err := vacationUsage(ctx, st, year, exclude)
		if err != nil {
			return err
		}
		requested := usage.deduction(typ, p.Period, generic.YearPeriod(year))
		remaining := usage.summary(emp, year).Remaining
		if remaining.Sub(requested).IsNegative() {
			return &InsufficientBalanceError{EmployeeID: emp.ID, Year: year, Remaining: remaining, Requested: requested}
		}
	}
	return nil
}

func (s *Service) evaluate(in evaluationInput) (conflict.Result, error) {
	result, err := s.Evaluator.Evaluate(in.candidate, in.existing, in.rules)
	switch {
	case err != nil:
		metrics.ConflictChecks.WithLabelValues("error").Inc()
		s.Logger.WithError(err).WithField("employee_id", in.candidate.EmployeeID).Error("could not evaluate conflicts")
	case result.HasConflicts():
		metrics.ConflictChecks.WithLabelValues("conflict").Inc()
		for _, v := range result.Violations {
			metrics.Violations.WithLabelValues(string(v.RuleID)).Inc()
		}
	default:
		metrics.ConflictChecks.WithLabelValues("passed").Inc()
	}
	return result, err
}

func (s *Service) rejectOwnOverlap(ctx context.Context, st Store, employeeID generic.EmployeeID, period generic.Period, excludeID generic.SituationID) error {
	overlapping, err := s.ownOverlaps(ctx, st, employeeID, period, excludeID)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return &OverlapError{EmployeeID: employeeID, Period: period, Overlapping: overlapping}
	}
	return nil
}

func (s *Service) situationType(ctx context.Context, st Store, id generic.SituationTypeID) (SituationType, error) {
	types, err := st.ListSituationTypes(ctx)
	if err != nil {
		return SituationType{}, err
	}
	for _, t := range types {
		if t.ID == id {
			return t, nil
		}
	}
	return SituationType{}, fmt.Errorf("%w: %s", generic.ErrSituationTypeNotFound, id)
}

func (s *Service) recordSubmission(action string, err error) {
	outcome := "ok"
	var ce *ConflictError
	switch {
	case err == nil:
	case errors.As(err, &ce):
		outcome = "conflict"
	case errors.Is(err, generic.ErrSelfOverlap):
		outcome = "overlap"
	case errors.Is(err, generic.ErrNotYetEligible):
		outcome = "not_eligible"
	case errors.Is(err, generic.ErrInsufficientBalance):
		outcome = "insufficient_balance"
	default:
		outcome = "error"
	}
	metrics.Submissions.WithLabelValues(action, outcome).Inc()
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func proposalOf(sit Situation) Proposal {
	return Proposal{
		SituationID:     sit.ID,
		EmployeeID:      sit.EmployeeID,
		SituationTypeID: sit.SituationTypeID,
		Period:          sit.Period,
		ExcludeID:       sit.ID,
	}
}

func newID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + hex.EncodeToString(b)
}
