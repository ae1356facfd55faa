package conflict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

func directory() []conflict.Member {
	return []conflict.Member{
		{ID: "ana", Department: "design", Role: "designer", Active: true},
		{ID: "bruno", Department: "design", Role: "lead", Active: true},
		{ID: "carla", Department: "production", Role: "operator", Active: true},
		{ID: "duarte", Department: "production", Role: "lead", Active: false},
		{ID: "eva", Department: "", Role: "lead", Active: true},
	}
}

func TestResolveScope_Department(t *testing.T) {
	set := conflict.ResolveScope(conflict.Scope{DepartmentIDs: []string{"design"}}, directory())
	assert.Equal(t, []generic.EmployeeID{"ana", "bruno"}, set.Sorted())
}

func TestResolveScope_RoleSkipsInactive(t *testing.T) {
	set := conflict.ResolveScope(conflict.Scope{Roles: []string{"lead"}}, directory())
	assert.Equal(t, []generic.EmployeeID{"bruno", "eva"}, set.Sorted())
}

func TestResolveScope_UnionWithExplicitMembers(t *testing.T) {
	scope := conflict.Scope{
		DepartmentIDs: []string{"production"},
		EmployeeIDs:   []generic.EmployeeID{"ana", "duarte", "external"},
	}
	set := conflict.ResolveScope(scope, directory())

	// duarte is known and inactive; external is unknown and kept as given.
	assert.Equal(t, []generic.EmployeeID{"ana", "carla", "external"}, set.Sorted())
}

func TestResolveScope_EmptyScopeIsResolvedButEmpty(t *testing.T) {
	set := conflict.ResolveScope(conflict.Scope{}, directory())
	require.NotNil(t, set)
	assert.Equal(t, 0, set.Len())
}

func TestResolveRules_FeedsEvaluator(t *testing.T) {
	defs := []conflict.RuleDefinition{{
		Rule:  conflict.Rule{ID: "design-coverage", Name: "Design coverage", MaxAbsent: 1},
		Scope: conflict.Scope{DepartmentIDs: []string{"design"}},
		SubRules: []conflict.SubRuleDefinition{{
			SubRule: conflict.SubRule{ID: "lead-stays", MaxAbsent: 0},
			Scope:   conflict.Scope{EmployeeIDs: []generic.EmployeeID{"bruno"}},
		}},
	}}

	rules := conflict.ResolveRules(defs, directory())
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Members.Contains("ana"))
	assert.True(t, rules[0].SubRules[0].Members.Contains("bruno"))

	candidate := absence("s-1", "bruno", "2024-05-06", "2024-05-06")
	result, err := newEvaluator().Evaluate(candidate, nil, rules)
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, generic.SubRuleID("lead-stays"), result.Violations[0].SubRuleID)
}
