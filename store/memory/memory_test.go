package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

func situation(id, emp, start, end string, status absence.Status) absence.Situation {
	return absence.Situation{
		ID:              generic.SituationID(id),
		EmployeeID:      generic.EmployeeID(emp),
		SituationTypeID: "st-H",
		Period:          generic.MustPeriod(start, end),
		Status:          status,
	}
}

func TestMemory_ListSituationsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateSituation(ctx, situation("s3", "bruno", "2024-07-01", "2024-07-05", absence.StatusPending)))
	require.NoError(t, m.CreateSituation(ctx, situation("s1", "ana", "2024-07-03", "2024-07-04", absence.StatusApproved)))
	require.NoError(t, m.CreateSituation(ctx, situation("s2", "ana", "2024-07-01", "2024-07-01", absence.StatusRejected)))
	require.NoError(t, m.CreateSituation(ctx, situation("s4", "carla", "2024-08-01", "2024-08-02", absence.StatusPending)))

	window := generic.MustPeriod("2024-07-01", "2024-07-31")
	got, err := m.ListSituations(ctx, absence.SituationFilter{Window: &window, Statuses: absence.ActiveStatuses})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.SituationID("s3"), got[0].ID)
	assert.Equal(t, generic.SituationID("s1"), got[1].ID)

	got, err = m.ListSituations(ctx, absence.SituationFilter{EmployeeID: "ana", ExcludeID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, generic.SituationID("s2"), got[0].ID)
}

func TestMemory_CreateDuplicateAndUpdateMissing(t *testing.T) {
	ctx := context.Background()
	m := New()
	s := situation("s1", "ana", "2024-07-01", "2024-07-02", absence.StatusPending)
	require.NoError(t, m.CreateSituation(ctx, s))

	assert.ErrorIs(t, m.CreateSituation(ctx, s), generic.ErrDuplicateID)
	assert.ErrorIs(t, m.UpdateSituation(ctx, situation("nope", "ana", "2024-07-01", "2024-07-02", absence.StatusPending)), generic.ErrSituationNotFound)

	_, err := m.GetSituation(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrSituationNotFound)
	_, err = m.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrEntityNotFound)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := New()
	boom := errors.New("boom")

	// WHEN: a transaction writes then fails
	err := m.WithTx(ctx, func(tx absence.Store) error {
		require.NoError(t, tx.CreateSituation(ctx, situation("s1", "ana", "2024-07-01", "2024-07-02", absence.StatusPending)))
		return boom
	})

	// THEN: the write is gone
	assert.ErrorIs(t, err, boom)
	_, err = m.GetSituation(ctx, "s1")
	assert.ErrorIs(t, err, generic.ErrSituationNotFound)

	// AND: a successful transaction commits
	require.NoError(t, m.WithTx(ctx, func(tx absence.Store) error {
		return tx.CreateSituation(ctx, situation("s2", "ana", "2024-07-01", "2024-07-02", absence.StatusPending))
	}))
	_, err = m.GetSituation(ctx, "s2")
	assert.NoError(t, err)
}

func TestMemory_RulesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := New()
	rule := absence.ConflictRule{
		ID: "r1", Name: "Dev", MaxAbsent: 1, Priority: 10, Active: true,
		Scope: conflict.Scope{EmployeeIDs: []generic.EmployeeID{"ana", "bruno"}},
	}
	require.NoError(t, m.SaveRule(ctx, rule))
	rule.Scope.EmployeeIDs[0] = "mallory"

	got, err := m.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, generic.EmployeeID("ana"), got.Scope.EmployeeIDs[0])

	require.NoError(t, m.SaveRule(ctx, absence.ConflictRule{ID: "r0", Name: "Off", Priority: 10}))
	active, err := m.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)

	all, err := m.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.RuleID("r0"), all[0].ID)

	require.NoError(t, m.DeleteRule(ctx, "r0"))
	assert.ErrorIs(t, m.DeleteRule(ctx, "r0"), generic.ErrRuleNotFound)
}

func TestMemory_AuditRunsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, m.SaveAuditRun(ctx, absence.AuditRun{ID: id}))
	}
	runs, err := m.ListAuditRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a3", runs[0].ID)
	assert.Equal(t, "a2", runs[1].ID)
}

func TestMemory_YearTransitionsOncePerYear(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.SaveYearTransition(ctx, absence.YearTransitionRun{Year: 2024, EmployeesUpdated: 2}))
	require.NoError(t, m.SaveYearTransition(ctx, absence.YearTransitionRun{Year: 2025}))

	err := m.SaveYearTransition(ctx, absence.YearTransitionRun{Year: 2024})
	assert.ErrorIs(t, err, generic.ErrDuplicateID)

	run, err := m.GetYearTransition(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, run.EmployeesUpdated)
	_, err = m.GetYearTransition(ctx, 2023)
	assert.ErrorIs(t, err, generic.ErrYearTransitionNotFound)

	runs, err := m.ListYearTransitions(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2025, runs[0].Year)

	require.NoError(t, m.Reset(ctx))
	runs, err = m.ListYearTransitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
