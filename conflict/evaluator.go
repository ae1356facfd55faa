package conflict

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator checks a candidate absence against conflict rules.
// It holds no state between calls and is safe for concurrent use.
type Evaluator struct {
	Logger logrus.FieldLogger
}

// NewEvaluator creates an evaluator. A nil logger uses the logrus standard logger.
func NewEvaluator(logger logrus.FieldLogger) *Evaluator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evaluator{Logger: logger}
}

// Evaluate is shorthand for NewEvaluator(nil).Evaluate.
func Evaluate(candidate Situation, existing []Situation, rules []Rule) (Result, error) {
	return NewEvaluator(nil).Evaluate(candidate, existing, rules)
}

// Evaluate decides whether candidate breaks any rule given the absences in
// existing. existing must only hold situations that currently count toward
// occupancy (pending or approved); rejected or cancelled ones must be
// filtered out by the caller.
//
// Input is validated before any rule is looked at: a situation ending before
// it starts fails with ErrInvalidInterval, a rule or sub-rule with nil
// Members fails with ErrUnresolvedScope.
func (e *Evaluator) Evaluate(candidate Situation, existing []Situation, rules []Rule) (Result, error) {
	if err := validateSituation(candidate); err != nil {
		return Result{}, err
	}
	for _, s := range existing {
		if err := validateSituation(s); err != nil {
			return Result{}, err
		}
	}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return Result{}, err
		}
	}

	violations := []Violation{}
	seen := make(map[generic.RuleID]bool, len(rules))

	for _, rule := range rules {
		if seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true

		if len(rule.Members) == 0 {
			e.logger().WithField("rule_id", rule.ID).Warn("conflict rule scope resolved to no employees, skipping")
			continue
		}
		if !rule.AppliesTo(candidate.Type) ||
			!rule.Members.Contains(candidate.EmployeeID) ||
			!rule.ActiveDuring(candidate.Period) {
			continue
		}

		if v, broken := checkRule(rule, candidate, existing); broken {
			violations = append(violations, v)
		}
	}

	sortViolations(violations)
	return Result{Passed: len(violations) == 0, Violations: violations}, nil
}

func (e *Evaluator) logger() logrus.FieldLogger {
	if e == nil || e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// checkRule counts the distinct employees of the rule's scope absent during
// the candidate's interval and compares against the effective threshold.
func checkRule(rule Rule, candidate Situation, existing []Situation) (Violation, bool) {
	var overlapping []Situation
	absent := NewMemberSet()

	for _, s := range existing {
		// The candidate counts once on its own; an edit must not see itself
		// and a second absence of the same person adds no one.
		if s.EmployeeID == candidate.EmployeeID {
			continue
		}
		if candidate.ID != "" && s.ID == candidate.ID {
			continue
		}
		if !rule.Members.Contains(s.EmployeeID) || !rule.AppliesTo(s.Type) {
			continue
		}
		if !s.Period.Overlaps(candidate.Period) {
			continue
		}
		overlapping = append(overlapping, s)
		absent.Add(s.EmployeeID)
	}

	concurrency := absent.Len() + 1
	threshold, binding := effectiveThreshold(rule, candidate)
	if concurrency <= threshold {
		return Violation{}, false
	}

	sortSituations(overlapping)
	v := Violation{
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		RuleDescription: rule.Description,
		Priority:        rule.Priority,
		Kind:            KindMaxAbsent,
		Concurrency:     concurrency,
		Threshold:       threshold,
		Situations:      overlapping,
		AbsentEmployees: absent.Sorted(),
	}
	if binding != nil {
		v.Kind = KindSubRuleMaxAbsent
		v.SubRuleID = binding.ID
		v.SubRuleDescription = binding.Description
	}
	return v, true
}

// effectiveThreshold is the minimum of the rule's limit and every sub-rule
// covering the candidate. Ties keep the parent, then the lowest sub-rule id.
func effectiveThreshold(rule Rule, candidate Situation) (int, *SubRule) {
	threshold := rule.MaxAbsent
	var binding *SubRule

	for i := range rule.SubRules {
		sub := &rule.SubRules[i]
		if !sub.Members.Contains(candidate.EmployeeID) || !sub.ActiveDuring(candidate.Period) {
			continue
		}
		switch {
		case sub.MaxAbsent < threshold:
			threshold, binding = sub.MaxAbsent, sub
		case sub.MaxAbsent == threshold && binding != nil && sub.ID < binding.ID:
			binding = sub
		}
	}
	return threshold, binding
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateSituation(s Situation) error {
	if err := s.Period.Validate(); err != nil {
		return &generic.InvalidIntervalError{
			SituationID: string(s.ID),
			EmployeeID:  string(s.EmployeeID),
			Period:      s.Period,
		}
	}
	return nil
}

func validateRule(r Rule) error {
	if r.Members == nil {
		return &generic.UnresolvedScopeError{RuleID: string(r.ID)}
	}
	if r.Window != nil {
		if err := r.Window.Validate(); err != nil {
			return fmt.Errorf("rule %s window: %w", r.ID, err)
		}
	}
	for _, sub := range r.SubRules {
		if sub.Members == nil {
			return &generic.UnresolvedScopeError{RuleID: string(r.ID), SubRuleID: string(sub.ID)}
		}
		if sub.Window != nil {
			if err := sub.Window.Validate(); err != nil {
				return fmt.Errorf("rule %s sub-rule %s window: %w", r.ID, sub.ID, err)
			}
		}
	}
	return nil
}
