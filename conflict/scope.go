package conflict

import (
	"sort"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// MEMBER SET
// =============================================================================

// MemberSet is a resolved set of employee ids.
type MemberSet map[generic.EmployeeID]struct{}

// NewMemberSet always returns a non-nil (resolved) set.
func NewMemberSet(ids ...generic.EmployeeID) MemberSet {
	m := make(MemberSet, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (m MemberSet) Add(id generic.EmployeeID) { m[id] = struct{}{} }
func (m MemberSet) Len() int                  { return len(m) }

func (m MemberSet) Contains(id generic.EmployeeID) bool {
	_, ok := m[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (m MemberSet) Sorted() []generic.EmployeeID {
	ids := make([]generic.EmployeeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// =============================================================================
// SCOPE RESOLUTION
// =============================================================================

// Member is the directory view of an employee used for scope resolution.
type Member struct {
	ID         generic.EmployeeID
	Department string
	Role       string
	Active     bool
}

// Scope describes who a rule applies to before resolution.
type Scope struct {
	DepartmentIDs []string
	Roles         []string
	EmployeeIDs   []generic.EmployeeID
}

// IsEmpty reports whether the scope names nobody at all.
func (s Scope) IsEmpty() bool {
	return len(s.DepartmentIDs) == 0 && len(s.Roles) == 0 && len(s.EmployeeIDs) == 0
}

// ResolveScope builds the concrete member set of a scope: the explicit
// employee ids plus every active directory member whose department or role
// matches. Explicit ids of employees known to be inactive are dropped.
// Nothing is cached; call it for every evaluation.
func ResolveScope(scope Scope, directory []Member) MemberSet {
	byID := make(map[generic.EmployeeID]Member, len(directory))
	for _, m := range directory {
		byID[m.ID] = m
	}

	set := NewMemberSet()
	for _, id := range scope.EmployeeIDs {
		if m, known := byID[id]; known && !m.Active {
			continue
		}
		set.Add(id)
	}

	if len(scope.DepartmentIDs) == 0 && len(scope.Roles) == 0 {
		return set
	}
	departments := toSet(scope.DepartmentIDs)
	roles := toSet(scope.Roles)
	for _, m := range directory {
		if !m.Active {
			continue
		}
		if (m.Department != "" && departments[m.Department]) || (m.Role != "" && roles[m.Role]) {
			set.Add(m.ID)
		}
	}
	return set
}

// RuleDefinition is a rule before its scopes are resolved.
type RuleDefinition struct {
	Rule     Rule // Members and SubRules[].Members are ignored
	Scope    Scope
	SubRules []SubRuleDefinition
}

// SubRuleDefinition pairs a sub-rule with its unresolved scope.
type SubRuleDefinition struct {
	SubRule SubRule
	Scope   Scope
}

// ResolveRules expands every definition against the directory and returns
// evaluator-ready rules. The returned rules share no maps with each other.
func ResolveRules(defs []RuleDefinition, directory []Member) []Rule {
	rules := make([]Rule, 0, len(defs))
	for _, def := range defs {
		r := def.Rule
		r.Members = ResolveScope(def.Scope, directory)
		r.SubRules = make([]SubRule, 0, len(def.SubRules))
		for _, sd := range def.SubRules {
			sub := sd.SubRule
			sub.Members = ResolveScope(sd.Scope, directory)
			r.SubRules = append(r.SubRules, sub)
		}
		rules = append(rules, r)
	}
	return rules
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
