/*
Package conflict detects absences that break team-coverage rules.

PURPOSE:
  Given a candidate absence, the other absences that currently count toward
  occupancy, and a snapshot of conflict rules with resolved membership,
  decide whether the candidate would put too many people of a rule's scope
  away at the same time.

KEY CONCEPTS IN THIS FILE (types.go):
  - Situation: One absence interval of one employee
  - Rule:      "At most N of these people absent at once", optionally
               restricted to some situation types and a date window
  - SubRule:   A stricter limit for a subset of the rule's members
  - Violation: One rule broken by the candidate
  - Result:    Pass/fail plus ordered violations

PURITY:
  The evaluator performs no I/O and keeps no state between calls. Scope
  resolution (department/role -> employees) happens before evaluation, see
  scope.go. Rules are passed per call; there is no rule registry.

SEE ALSO:
  - evaluator.go: The algorithm
  - scope.go: Member set construction
  - absence/service.go: Loads inputs and calls Evaluate
*/
package conflict

import (
	"fmt"
	"sort"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// SITUATION - One absence interval
// =============================================================================

// Situation is an absence as seen by the evaluator. Type is the category
// tag rules match on (e.g. "vacation", "sick").
type Situation struct {
	ID         generic.SituationID
	EmployeeID generic.EmployeeID
	Type       string
	Period     generic.Period
}

// =============================================================================
// RULES
// =============================================================================

// Rule limits how many members may be absent simultaneously.
//
// Members must be resolved before evaluation. A nil Members means the caller
// forgot to resolve the scope and is an error; an empty non-nil set means the
// scope resolved to nobody and the rule is skipped.
type Rule struct {
	ID          generic.RuleID
	Name        string
	Description string
	MaxAbsent   int
	Priority    int

	// SituationTypes lists the applicable type tags. Empty applies to every type.
	SituationTypes []string

	// Window restricts the rule to candidates intersecting it (blackout periods).
	Window *generic.Period

	Members  MemberSet
	SubRules []SubRule
}

// SubRule narrows a parent rule. It can only lower the threshold.
type SubRule struct {
	ID          generic.SubRuleID
	Description string
	MaxAbsent   int
	Window      *generic.Period
	Members     MemberSet
}

// AppliesTo reports whether the rule covers the situation type tag.
func (r Rule) AppliesTo(situationType string) bool {
	if len(r.SituationTypes) == 0 {
		return true
	}
	for _, t := range r.SituationTypes {
		if t == situationType {
			return true
		}
	}
	return false
}

// ActiveDuring reports whether the rule's window, if any, intersects p.
func (r Rule) ActiveDuring(p generic.Period) bool {
	return r.Window == nil || r.Window.Overlaps(p)
}

func (s SubRule) ActiveDuring(p generic.Period) bool {
	return s.Window == nil || s.Window.Overlaps(p)
}

// =============================================================================
// OUTPUT
// =============================================================================

// ViolationKind distinguishes which limit was broken.
type ViolationKind string

const (
	// KindMaxAbsent means the parent rule's own limit was exceeded.
	KindMaxAbsent ViolationKind = "max_absent_exceeded"
	// KindSubRuleMaxAbsent means a stricter sub-rule limit was exceeded.
	KindSubRuleMaxAbsent ViolationKind = "sub_rule_max_absent_exceeded"
)

// Violation names a broken rule and the absences that caused it.
type Violation struct {
	RuleID          generic.RuleID
	RuleName        string
	RuleDescription string
	Priority        int

	// SubRuleID is set when a sub-rule supplied the binding threshold.
	SubRuleID          generic.SubRuleID
	SubRuleDescription string

	Kind        ViolationKind
	Concurrency int // distinct employees absent including the candidate
	Threshold   int // effective (minimum) threshold

	// Situations are the existing absences overlapping the candidate,
	// sorted by start, employee and id.
	Situations      []Situation
	AbsentEmployees []generic.EmployeeID
}

// IsSubRule reports whether the binding limit came from a sub-rule.
func (v Violation) IsSubRule() bool {
	return v.SubRuleID != ""
}

// Reason is a plain English explanation. Localised text lives in package i18n.
func (v Violation) Reason() string {
	if v.IsSubRule() {
		return fmt.Sprintf("rule %q (sub-rule %s): %d employees would be absent, at most %d allowed",
			v.RuleName, v.SubRuleID, v.Concurrency, v.Threshold)
	}
	return fmt.Sprintf("rule %q: %d employees would be absent, at most %d allowed",
		v.RuleName, v.Concurrency, v.Threshold)
}

// Result is the outcome of one evaluation.
type Result struct {
	Passed     bool
	Violations []Violation
}

// HasConflicts is the negation of Passed.
func (r Result) HasConflicts() bool {
	return !r.Passed
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Priority != vs[j].Priority {
			return vs[i].Priority < vs[j].Priority
		}
		return vs[i].RuleID < vs[j].RuleID
	})
}

func sortSituations(ss []Situation) {
	sort.Slice(ss, func(i, j int) bool {
		a, b := ss[i], ss[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Period.End.Before(b.Period.End)
	})
}
