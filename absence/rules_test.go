package absence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

func TestSaveRule_KeepsCreatedAtOnReplace(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	saved, err := svc.SaveRule(ctx, devRule(2))
	require.NoError(t, err)
	assert.Equal(t, fixedNow, saved.CreatedAt)

	later := fixedNow.AddDate(0, 0, 3)
	svc.Now = func() time.Time { return later }
	replaced, err := svc.SaveRule(ctx, devRule(1))
	require.NoError(t, err)
	assert.Equal(t, fixedNow, replaced.CreatedAt)
	assert.Equal(t, later, replaced.UpdatedAt)

	stored, err := store.GetRule(ctx, "dev-coverage")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.MaxAbsent)
}

func TestSaveRule_RejectsInvalid(t *testing.T) {
	svc, _ := newService(t)
	rule := devRule(-1)

	_, err := svc.SaveRule(context.Background(), rule)
	assert.ErrorIs(t, err, generic.ErrInvalidRule)
}

func TestDeactivateRule_StopsConflicts(t *testing.T) {
	// GIVEN: A one-at-a-time rule with Ana already away
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.SaveRule(ctx, devRule(1))
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// WHEN: The rule is deactivated
	rule, err := svc.DeactivateRule(ctx, "dev-coverage")
	require.NoError(t, err)
	assert.False(t, rule.Active)

	// THEN: Bruno's overlapping request passes
	_, result, err := svc.Submit(ctx, vacation("bruno", "2024-07-02", "2024-07-03"))
	require.NoError(t, err)
	assert.True(t, result.Passed)

	_, err = svc.DeactivateRule(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrRuleNotFound)
}

func TestSubRules_AddAndRemove(t *testing.T) {
	// GIVEN: dev allows two absent, Ana is away
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.SaveRule(ctx, devRule(2))
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// WHEN: A sub-rule limits Ana and Bruno to one at a time
	rule, err := svc.AddSubRule(ctx, "dev-coverage", absence.ConflictSubRule{
		EmployeeIDs: []generic.EmployeeID{"ana", "bruno"},
		MaxAbsent:   1,
		Active:      true,
	})
	require.NoError(t, err)
	require.Len(t, rule.SubRules, 1)
	subID := rule.SubRules[0].ID
	assert.Equal(t, generic.SubRuleID("dev-coverage-sub-1"), subID)

	// THEN: Bruno conflicts through the sub-rule, Carla does not
	result, err := svc.CheckConflicts(ctx, vacation("bruno", "2024-07-02", "2024-07-02"))
	require.NoError(t, err)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, subID, result.Violations[0].SubRuleID)

	result, err = svc.CheckConflicts(ctx, vacation("carla", "2024-07-02", "2024-07-02"))
	require.NoError(t, err)
	assert.True(t, result.Passed)

	// Duplicate ids are refused
	_, err = svc.AddSubRule(ctx, "dev-coverage", absence.ConflictSubRule{
		ID: subID, EmployeeIDs: []generic.EmployeeID{"ana"}, MaxAbsent: 0, Active: true,
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateID)

	// WHEN: The sub-rule is removed, Bruno passes again
	rule, err = svc.RemoveSubRule(ctx, "dev-coverage", subID)
	require.NoError(t, err)
	assert.Empty(t, rule.SubRules)

	result, err = svc.CheckConflicts(ctx, vacation("bruno", "2024-07-02", "2024-07-02"))
	require.NoError(t, err)
	assert.True(t, result.Passed)

	_, err = svc.RemoveSubRule(ctx, "dev-coverage", subID)
	assert.ErrorIs(t, err, generic.ErrRuleNotFound)
}

func TestSubRules_DefaultIDNotReusedAfterRemoval(t *testing.T) {
	// GIVEN: Two sub-rules with generated ids, the first one removed
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.SaveRule(ctx, devRule(2))
	require.NoError(t, err)
	for _, emp := range []generic.EmployeeID{"ana", "bruno"} {
		_, err = svc.AddSubRule(ctx, "dev-coverage", absence.ConflictSubRule{
			EmployeeIDs: []generic.EmployeeID{emp}, MaxAbsent: 0, Active: true,
		})
		require.NoError(t, err)
	}
	_, err = svc.RemoveSubRule(ctx, "dev-coverage", "dev-coverage-sub-1")
	require.NoError(t, err)

	// WHEN: A third sub-rule is added without an id
	rule, err := svc.AddSubRule(ctx, "dev-coverage", absence.ConflictSubRule{
		EmployeeIDs: []generic.EmployeeID{"carla"}, MaxAbsent: 0, Active: true,
	})

	// THEN: It gets a fresh id instead of colliding with sub-2
	require.NoError(t, err)
	require.Len(t, rule.SubRules, 2)
	assert.Equal(t, generic.SubRuleID("dev-coverage-sub-2"), rule.SubRules[0].ID)
	assert.Equal(t, generic.SubRuleID("dev-coverage-sub-3"), rule.SubRules[1].ID)
}

func TestConflictRule_NextSubRuleIndex(t *testing.T) {
	r := absence.ConflictRule{ID: "r", SubRules: []absence.ConflictSubRule{
		{ID: "r-sub-4"}, {ID: "custom"}, {ID: "other-sub-9"},
	}}
	assert.Equal(t, 5, r.NextSubRuleIndex())
	assert.Equal(t, generic.SubRuleID("r-sub-5"), r.NextSubRuleID())

	assert.Equal(t, 1, absence.ConflictRule{ID: "r"}.NextSubRuleIndex())
	assert.Equal(t, 4, absence.ConflictRule{ID: "r", SubRules: []absence.ConflictSubRule{{ID: "a"}, {ID: "b"}, {ID: "c"}}}.NextSubRuleIndex())
}
