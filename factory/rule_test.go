package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

func TestParseRule_Full(t *testing.T) {
	// GIVEN: A rule with scope, categories, a blackout window and a sub-rule
	jsonStr := `{
		"id": "dev-coverage",
		"name": "Dev team coverage",
		"max_absent": 2,
		"priority": 10,
		"scope": {"department_ids": ["dev"], "roles": [" sre "], "employee_ids": ["emp-7"]},
		"categories": ["Vacation", "absence"],
		"window": {"start": "2024-12-20", "end": "2025-01-02"},
		"sub_rules": [
			{"id": "seniors", "employee_ids": ["emp-1", "emp-2"], "max_absent": 1, "description": "seniors"}
		]
	}`

	// WHEN: Parsed
	rule, err := NewRuleFactory().ParseRule(jsonStr)

	// THEN: Every field is carried over
	require.NoError(t, err)
	assert.Equal(t, generic.RuleID("dev-coverage"), rule.ID)
	assert.Equal(t, 2, rule.MaxAbsent)
	assert.Equal(t, 10, rule.Priority)
	assert.True(t, rule.Active)
	assert.Equal(t, []string{"dev"}, rule.Scope.DepartmentIDs)
	assert.Equal(t, []string{"sre"}, rule.Scope.Roles)
	assert.Equal(t, []generic.EmployeeID{"emp-7"}, rule.Scope.EmployeeIDs)
	assert.Equal(t, []absence.Category{absence.CategoryVacation, absence.CategoryAbsence}, rule.Categories)
	require.NotNil(t, rule.Window)
	assert.Equal(t, generic.MustPeriod("2024-12-20", "2025-01-02"), *rule.Window)

	require.Len(t, rule.SubRules, 1)
	sub := rule.SubRules[0]
	assert.Equal(t, generic.SubRuleID("seniors"), sub.ID)
	assert.Equal(t, rule.ID, sub.RuleID)
	assert.Equal(t, 1, sub.MaxAbsent)
	assert.True(t, sub.Active)
}

func TestParseRule_Defaults(t *testing.T) {
	jsonStr := `{
		"id": "ops",
		"name": "Ops",
		"max_absent": 0,
		"scope": {"department_ids": ["ops"]},
		"sub_rules": [{"employee_ids": ["a"], "max_absent": 0}]
	}`

	rule, err := NewRuleFactory().ParseRule(jsonStr)
	require.NoError(t, err)

	assert.Equal(t, absence.DefaultRulePriority, rule.Priority)
	assert.True(t, rule.Active)
	assert.Empty(t, rule.Categories, "no categories applies to every category")
	assert.Nil(t, rule.Window)
	require.Len(t, rule.SubRules, 1)
	assert.Equal(t, generic.SubRuleID("ops-sub-1"), rule.SubRules[0].ID)
}

func TestParseRule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id": `},
		{"missing max_absent", `{"id": "r", "name": "R"}`},
		{"negative max_absent", `{"id": "r", "name": "R", "max_absent": -1}`},
		{"missing id", `{"name": "R", "max_absent": 1}`},
		{"missing name", `{"id": "r", "max_absent": 1}`},
		{"inverted window", `{"id": "r", "name": "R", "max_absent": 1, "window": {"start": "2024-02-01", "end": "2024-01-01"}}`},
		{"bad date", `{"id": "r", "name": "R", "max_absent": 1, "window": {"start": "2024-13-01", "end": "2024-12-01"}}`},
		{"sub-rule without employees", `{"id": "r", "name": "R", "max_absent": 1, "sub_rules": [{"max_absent": 0}]}`},
		{"sub-rule without max_absent", `{"id": "r", "name": "R", "max_absent": 1, "sub_rules": [{"employee_ids": ["a"]}]}`},
		{"duplicate sub-rule", `{"id": "r", "name": "R", "max_absent": 1, "sub_rules": [
			{"id": "s", "employee_ids": ["a"], "max_absent": 0},
			{"id": "s", "employee_ids": ["b"], "max_absent": 0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleFactory().ParseRule(tt.json)
			require.Error(t, err)
			assert.ErrorIs(t, err, generic.ErrInvalidRule)
		})
	}
}

func TestParseRules_Batch(t *testing.T) {
	f := NewRuleFactory()

	rules, err := f.ParseRules(`[
		{"id": "a", "name": "A", "max_absent": 1, "scope": {"department_ids": ["dev"]}},
		{"id": "b", "name": "B", "max_absent": 2, "scope": {"roles": ["qa"]}, "active": false}
	]`)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.False(t, rules[1].Active)

	// Duplicate ids fail the whole batch
	_, err = f.ParseRules(`[
		{"id": "a", "name": "A", "max_absent": 1},
		{"id": "a", "name": "A again", "max_absent": 1}
	]`)
	assert.ErrorIs(t, err, generic.ErrInvalidRule)
}

func TestToJSON_ParsesBack(t *testing.T) {
	// GIVEN: A parsed rule
	f := NewRuleFactory()
	rule, err := f.ParseRule(`{
		"id": "r", "name": "R", "max_absent": 3, "priority": 5,
		"scope": {"department_ids": ["dev"], "employee_ids": ["x"]},
		"categories": ["sick"],
		"window": {"start": "2024-08-01", "end": "2024-08-31"},
		"sub_rules": [{"id": "s", "employee_ids": ["x", "y"], "max_absent": 1, "active": false}]
	}`)
	require.NoError(t, err)

	// WHEN: Converted to JSON and back
	again, err := f.FromJSON(f.ToJSON(*rule))

	// THEN: Nothing is lost
	require.NoError(t, err)
	assert.Equal(t, rule, again)
}
