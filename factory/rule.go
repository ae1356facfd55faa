/*
Package factory provides JSON to Go conflict rule conversion.

PURPOSE:
  Converts JSON rule definitions into absence.ConflictRule records. Rules
  are configured by HR without code changes; the factory fills defaults
  and validates before anything reaches a store.

JSON SCHEMA:
  {
    "id": "dev-coverage",
    "name": "Dev team coverage",
    "max_absent": 2,
    "priority": 10,
    "scope": {
      "department_ids": ["dev"],
      "roles": ["sre"],
      "employee_ids": ["emp-7"]
    },
    "categories": ["vacation", "absence"],
    "window": {"start": "2024-12-20", "end": "2025-01-02"},
    "sub_rules": [
      {"id": "seniors", "employee_ids": ["emp-1", "emp-2"], "max_absent": 1}
    ]
  }

DEFAULTS:
  - priority:  100 (lower numbers are reported first)
  - active:    true, for the rule and every sub-rule
  - sub-rule id: "<rule id>-sub-<n>" when omitted

USAGE:
  f := NewRuleFactory()
  rule, err := f.ParseRule(jsonString)
  if err != nil { ... }               // wraps generic.ErrInvalidRule
  store.SaveRule(ctx, *rule)

SEE ALSO:
  - absence/types.go: ConflictRule and Validate
  - api/handlers.go: POST /api/rules decodes RuleJSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a conflict rule.
type RuleJSON struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	MaxAbsent   *int          `json:"max_absent"`
	Priority    *int          `json:"priority,omitempty"`
	Active      *bool         `json:"active,omitempty"`
	Scope       ScopeJSON     `json:"scope"`
	Categories  []string      `json:"categories,omitempty"` // empty applies to every category
	Window      *WindowJSON   `json:"window,omitempty"`
	SubRules    []SubRuleJSON `json:"sub_rules,omitempty"`
}

// ScopeJSON lists who the rule covers. Entries are unioned.
type ScopeJSON struct {
	DepartmentIDs []string `json:"department_ids,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	EmployeeIDs   []string `json:"employee_ids,omitempty"`
}

// WindowJSON is an inclusive YYYY-MM-DD date range.
type WindowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SubRuleJSON is a stricter limit for a subset of the rule's members.
type SubRuleJSON struct {
	ID          string      `json:"id,omitempty"`
	EmployeeIDs []string    `json:"employee_ids"`
	MaxAbsent   *int        `json:"max_absent"`
	Description string      `json:"description,omitempty"`
	Window      *WindowJSON `json:"window,omitempty"`
	Active      *bool       `json:"active,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to absence.ConflictRule records.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses one JSON object into a validated rule.
func (f *RuleFactory) ParseRule(jsonStr string) (*absence.ConflictRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rule JSON: %v", generic.ErrInvalidRule, err)
	}
	return f.FromJSON(rj)
}

// ParseRules parses a JSON array of rules. Any invalid rule fails the whole batch.
func (f *RuleFactory) ParseRules(jsonStr string) ([]absence.ConflictRule, error) {
	var rjs []RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rjs); err != nil {
		return nil, fmt.Errorf("%w: failed to parse rules JSON: %v", generic.ErrInvalidRule, err)
	}

	rules := make([]absence.ConflictRule, 0, len(rjs))
	seen := make(map[generic.RuleID]bool, len(rjs))
	for i, rj := range rjs {
		rule, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("%w: rule %s defined twice", generic.ErrInvalidRule, rule.ID)
		}
		seen[rule.ID] = true
		rules = append(rules, *rule)
	}
	return rules, nil
}

// FromJSON converts RuleJSON to a validated absence.ConflictRule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*absence.ConflictRule, error) {
	if rj.MaxAbsent == nil {
		return nil, fmt.Errorf("%w: rule %q requires max_absent", generic.ErrInvalidRule, rj.ID)
	}

	rule := &absence.ConflictRule{
		ID:          generic.RuleID(strings.TrimSpace(rj.ID)),
		Name:        strings.TrimSpace(rj.Name),
		Description: rj.Description,
		MaxAbsent:   *rj.MaxAbsent,
		Priority:    absence.DefaultRulePriority,
		Active:      true,
		Scope:       parseScope(rj.Scope),
	}
	if rj.Priority != nil {
		rule.Priority = *rj.Priority
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}
	for _, c := range rj.Categories {
		rule.Categories = append(rule.Categories, absence.Category(strings.ToLower(strings.TrimSpace(c))))
	}

	window, err := parseWindow(rj.Window)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q window: %v", generic.ErrInvalidRule, rj.ID, err)
	}
	rule.Window = window

	for i, sj := range rj.SubRules {
		sub, err := f.SubRuleFromJSON(rule.ID, i+1, sj)
		if err != nil {
			return nil, err
		}
		rule.SubRules = append(rule.SubRules, *sub)
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// SubRuleFromJSON converts one sub-rule of ruleID. n numbers generated ids.
func (f *RuleFactory) SubRuleFromJSON(ruleID generic.RuleID, n int, sj SubRuleJSON) (*absence.ConflictSubRule, error) {
	if sj.MaxAbsent == nil {
		return nil, fmt.Errorf("%w: sub-rule %d of rule %s requires max_absent", generic.ErrInvalidRule, n, ruleID)
	}
	sub := &absence.ConflictSubRule{
		ID:          generic.SubRuleID(strings.TrimSpace(sj.ID)),
		RuleID:      ruleID,
		EmployeeIDs: employeeIDs(sj.EmployeeIDs),
		MaxAbsent:   *sj.MaxAbsent,
		Description: sj.Description,
		Active:      true,
	}
	if sub.ID == "" {
		sub.ID = generic.SubRuleID(fmt.Sprintf("%s-sub-%d", ruleID, n))
	}
	if sj.Active != nil {
		sub.Active = *sj.Active
	}
	window, err := parseWindow(sj.Window)
	if err != nil {
		return nil, fmt.Errorf("%w: sub-rule %s window: %v", generic.ErrInvalidRule, sub.ID, err)
	}
	sub.Window = window
	return sub, nil
}

// ToJSON converts a rule back to its JSON form.
func (f *RuleFactory) ToJSON(rule absence.ConflictRule) RuleJSON {
	maxAbsent, priority, active := rule.MaxAbsent, rule.Priority, rule.Active
	rj := RuleJSON{
		ID:          string(rule.ID),
		Name:        rule.Name,
		Description: rule.Description,
		MaxAbsent:   &maxAbsent,
		Priority:    &priority,
		Active:      &active,
		Scope: ScopeJSON{
			DepartmentIDs: rule.Scope.DepartmentIDs,
			Roles:         rule.Scope.Roles,
			EmployeeIDs:   employeeIDStrings(rule.Scope.EmployeeIDs),
		},
		Window: windowJSON(rule.Window),
	}
	for _, c := range rule.Categories {
		rj.Categories = append(rj.Categories, string(c))
	}
	for _, sub := range rule.SubRules {
		subMax, subActive := sub.MaxAbsent, sub.Active
		rj.SubRules = append(rj.SubRules, SubRuleJSON{
			ID:          string(sub.ID),
			EmployeeIDs: employeeIDStrings(sub.EmployeeIDs),
			MaxAbsent:   &subMax,
			Description: sub.Description,
			Window:      windowJSON(sub.Window),
			Active:      &subActive,
		})
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseScope(sj ScopeJSON) conflict.Scope {
	return conflict.Scope{
		DepartmentIDs: trimAll(sj.DepartmentIDs),
		Roles:         trimAll(sj.Roles),
		EmployeeIDs:   employeeIDs(sj.EmployeeIDs),
	}
}

func parseWindow(wj *WindowJSON) (*generic.Period, error) {
	if wj == nil || (wj.Start == "" && wj.End == "") {
		return nil, nil
	}
	p, err := generic.NewPeriod(wj.Start, wj.End)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func windowJSON(p *generic.Period) *WindowJSON {
	if p == nil {
		return nil
	}
	return &WindowJSON{Start: p.Start.String(), End: p.End.String()}
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func employeeIDs(values []string) []generic.EmployeeID {
	var out []generic.EmployeeID
	for _, v := range trimAll(values) {
		out = append(out, generic.EmployeeID(v))
	}
	return out
}

func employeeIDStrings(ids []generic.EmployeeID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
