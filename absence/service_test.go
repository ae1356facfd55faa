package absence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*absence.Service, *memory.Memory) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, st := range absence.DefaultSituationTypes() {
		require.NoError(t, store.SaveSituationType(ctx, st))
	}
	for _, e := range []absence.Employee{
		{ID: "ana", Sigla: "ANA", Name: "Ana", DepartmentID: "dev", Role: "engineer", ContractType: absence.ContractEmployee, Active: true},
		{ID: "bruno", Sigla: "BRU", Name: "Bruno", DepartmentID: "dev", Role: "engineer", ContractType: absence.ContractEmployee, Active: true},
		{ID: "carla", Sigla: "CAR", Name: "Carla", DepartmentID: "dev", Role: "lead", ContractType: absence.ContractFreelancer, Active: true},
		{ID: "dora", Sigla: "DOR", Name: "Dora", DepartmentID: "ops", Role: "engineer", ContractType: absence.ContractEmployee, Active: true},
	} {
		require.NoError(t, store.SaveEmployee(ctx, e))
	}

	logger, _ := logtest.NewNullLogger()
	svc := absence.NewService(store, logger)
	svc.Now = func() time.Time { return fixedNow }
	return svc, store
}

func devRule(maxAbsent int) absence.ConflictRule {
	return absence.ConflictRule{
		ID:         "dev-coverage",
		Name:       "Dev coverage",
		MaxAbsent:  maxAbsent,
		Priority:   absence.DefaultRulePriority,
		Active:     true,
		Scope:      conflict.Scope{DepartmentIDs: []string{"dev"}},
		Categories: []absence.Category{absence.CategoryVacation},
	}
}

func vacation(emp, start, end string) absence.Proposal {
	return absence.Proposal{
		EmployeeID:      generic.EmployeeID(emp),
		SituationTypeID: "st-H",
		Period:          generic.MustPeriod(start, end),
		CreatedBy:       emp,
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_PersistsPendingWithBusinessDays(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))

	// 2024-07-01 is a Monday; the week has 5 business days
	sit, result, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-07"))
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, absence.StatusPending, sit.Status)
	assert.Equal(t, "5", sit.BusinessDays.String())
	assert.Equal(t, fixedNow, sit.CreatedAt)

	stored, err := store.GetSituation(ctx, sit.ID)
	require.NoError(t, err)
	assert.Equal(t, sit.Period, stored.Period)
}

func TestSubmit_ConflictIsRejectedWithResult(t *testing.T) {
	// GIVEN: dev allows one absent at a time and Ana is away 07-01..07-05
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// WHEN: Bruno asks for 07-03..07-04
	_, result, err := svc.Submit(ctx, vacation("bruno", "2024-07-03", "2024-07-04"))

	// THEN: ConflictError carrying the violation, nothing stored
	var ce *absence.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, generic.ErrConflict)
	require.Len(t, ce.Result.Violations, 1)
	assert.Equal(t, 2, ce.Result.Violations[0].Concurrency)
	assert.Equal(t, 1, ce.Result.Violations[0].Threshold)
	assert.False(t, result.Passed)

	bruno, err := store.ListSituations(ctx, absence.SituationFilter{EmployeeID: "bruno"})
	require.NoError(t, err)
	assert.Empty(t, bruno)
}

func TestSubmit_ForcePersistsDespiteConflict(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	p := vacation("bruno", "2024-07-03", "2024-07-04")
	p.Force = true
	sit, result, err := svc.Submit(ctx, p)
	require.NoError(t, err)
	assert.True(t, result.HasConflicts())
	assert.Equal(t, absence.StatusPending, sit.Status)
}

func TestSubmit_OtherDepartmentAndCategoryDoNotConflict(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// Dora is in ops
	_, _, err = svc.Submit(ctx, vacation("dora", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// Remote work is not a vacation category
	remote := vacation("bruno", "2024-07-01", "2024-07-05")
	remote.SituationTypeID = "st-W"
	_, _, err = svc.Submit(ctx, remote)
	require.NoError(t, err)
}

func TestSubmit_SelfOverlap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	_, _, err = svc.Submit(ctx, vacation("ana", "2024-07-05", "2024-07-08"))
	var oe *absence.OverlapError
	require.ErrorAs(t, err, &oe)
	assert.ErrorIs(t, err, generic.ErrSelfOverlap)
	require.Len(t, oe.Overlapping, 1)
}

func TestSubmit_InvalidIntervalIsEvaluationError(t *testing.T) {
	svc, _ := newService(t)
	p := vacation("ana", "2024-07-05", "2024-07-01")

	_, _, err := svc.Submit(context.Background(), p)
	assert.ErrorIs(t, err, generic.ErrInvalidInterval)
	assert.True(t, generic.IsEvaluationError(err))
}

func TestSubmit_UnknownEmployeeAndType(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.Submit(ctx, vacation("ghost", "2024-07-01", "2024-07-02"))
	assert.True(t, generic.IsNotFound(err))

	p := vacation("ana", "2024-07-01", "2024-07-02")
	p.SituationTypeID = "st-?"
	_, _, err = svc.Submit(ctx, p)
	assert.ErrorIs(t, err, generic.ErrSituationTypeNotFound)
}

func TestSubmit_AutoApprove(t *testing.T) {
	svc, _ := newService(t)
	svc.AutoApprove = true

	sit, _, err := svc.Submit(context.Background(), vacation("ana", "2024-07-01", "2024-07-02"))
	require.NoError(t, err)
	assert.Equal(t, absence.StatusApproved, sit.Status)
}

func TestSubmit_ConcurrentSubmissionsCannotBothPass(t *testing.T) {
	// GIVEN: at most one of dev absent
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))

	// WHEN: three dev members submit the same week at once
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, emp := range []string{"ana", "bruno", "carla"} {
		wg.Add(1)
		go func(emp string) {
			defer wg.Done()
			_, _, err := svc.Submit(ctx, vacation(emp, "2024-07-01", "2024-07-05"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, generic.ErrConflict):
				conflicts++
			}
		}(emp)
	}
	wg.Wait()

	// THEN: exactly one got through
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, conflicts)
}

// =============================================================================
// PREVIEW / OVERLAP
// =============================================================================

func TestCheckConflicts_DoesNotPersist(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(0)))

	result, err := svc.CheckConflicts(ctx, vacation("ana", "2024-07-01", "2024-07-01"))
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.Violations[0].Concurrency)

	all, err := store.ListSituations(ctx, absence.SituationFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckConflicts_ExcludeIDWhenEditing(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	bruno, _, err := svc.Submit(ctx, vacation("bruno", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	// Ana previews the same week while Bruno's request is left out
	p := vacation("ana", "2024-07-01", "2024-07-05")
	result, err := svc.CheckConflicts(ctx, p)
	require.NoError(t, err)
	assert.False(t, result.Passed)

	p.ExcludeID = bruno.ID
	result, err = svc.CheckConflicts(ctx, p)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestCheckOverlap(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sit, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	overlapping, err := svc.CheckOverlap(ctx, "ana", generic.MustPeriod("2024-07-04", "2024-07-10"), "")
	require.NoError(t, err)
	require.Len(t, overlapping, 1)

	overlapping, err = svc.CheckOverlap(ctx, "ana", generic.MustPeriod("2024-07-04", "2024-07-10"), sit.ID)
	require.NoError(t, err)
	assert.Empty(t, overlapping)
}

// =============================================================================
// UPDATE / DECISIONS
// =============================================================================

func TestUpdate_MovesDatesWithoutSelfConflict(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	sit, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	updated, result, err := svc.Update(ctx, sit.ID, absence.Proposal{Period: generic.MustPeriod("2024-07-03", "2024-07-09")})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "2024-07-03", updated.Period.Start.String())
	assert.Equal(t, "5", updated.BusinessDays.String())
	assert.Equal(t, generic.SituationTypeID("st-H"), updated.SituationTypeID)
}

func TestApprove_RechecksAgainstRulesAddedLater(t *testing.T) {
	// GIVEN: two overlapping pending requests submitted with no rules
	svc, store := newService(t)
	ctx := context.Background()
	ana, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)
	bruno, _, err := svc.Submit(ctx, vacation("bruno", "2024-07-02", "2024-07-03"))
	require.NoError(t, err)

	// WHEN: a rule is added, then a manager approves Bruno
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	_, _, err = svc.Approve(ctx, bruno.ID, "manager", false)

	// THEN: approval is refused, Bruno stays pending
	assert.ErrorIs(t, err, generic.ErrConflict)
	stored, err := store.GetSituation(ctx, bruno.ID)
	require.NoError(t, err)
	assert.Equal(t, absence.StatusPending, stored.Status)

	// AND: rejecting Ana frees the slot
	_, err = svc.Reject(ctx, ana.ID, "manager", "coverage")
	require.NoError(t, err)
	approved, result, err := svc.Approve(ctx, bruno.ID, "manager", false)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, absence.StatusApproved, approved.Status)
	assert.Equal(t, "manager", approved.DecidedBy)
}

func TestStatusTransitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sit, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, sit.ID, "manager", "busy week")
	require.NoError(t, err)
	assert.Equal(t, "busy week", rejected.DecisionReason)

	_, _, err = svc.Approve(ctx, sit.ID, "manager", false)
	assert.ErrorIs(t, err, generic.ErrInvalidStatusTransition)
	_, err = svc.Cancel(ctx, sit.ID, "ana", "")
	assert.ErrorIs(t, err, generic.ErrInvalidStatusTransition)

	_, err = svc.Cancel(ctx, "missing", "ana", "")
	assert.ErrorIs(t, err, generic.ErrSituationNotFound)
}

func TestCancel_ApprovedStopsCounting(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, devRule(1)))
	sit, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)
	_, _, err = svc.Approve(ctx, sit.ID, "manager", false)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, sit.ID, "ana", "plans changed")
	require.NoError(t, err)

	_, _, err = svc.Submit(ctx, vacation("bruno", "2024-07-01", "2024-07-05"))
	assert.NoError(t, err)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditPending_FindsConflictsAfterRuleChange(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("bruno", "2024-07-02", "2024-07-03"))
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("dora", "2024-07-02", "2024-07-03"))
	require.NoError(t, err)
	require.NoError(t, store.SaveRule(ctx, devRule(1)))

	run, findings, err := svc.AuditPending(ctx, generic.MustPeriod("2024-07-01", "2024-07-31"))
	require.NoError(t, err)

	assert.Equal(t, 3, run.Checked)
	assert.Equal(t, 2, run.Conflicting)
	assert.Equal(t, 0, run.Failed)
	require.Len(t, findings, 2)

	runs, err := store.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

// =============================================================================
// BUSINESS DAYS / SUMMARY / CALENDAR
// =============================================================================

func TestBusinessDays_HalfDaysAndHolidays(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, store.SaveHoliday(ctx, generic.Holiday{ID: "h1", Date: generic.MustParseDate("2024-07-03"), Name: "Local"}))

	week := generic.MustPeriod("2024-07-01", "2024-07-07")
	full, err := svc.BusinessDays(ctx, week, "st-H")
	require.NoError(t, err)
	assert.Equal(t, "4", full.String())

	half, err := svc.BusinessDays(ctx, week, "st-H1")
	require.NoError(t, err)
	assert.Equal(t, "2", half.String())

	_, err = svc.BusinessDays(ctx, generic.MustPeriod("2024-07-07", "2024-07-01"), "st-H")
	assert.ErrorIs(t, err, generic.ErrInvalidInterval)
}

func TestSummary_UsedPendingRemaining(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sit, _, err := svc.Submit(ctx, vacation("ana", "2024-07-01", "2024-07-05"))
	require.NoError(t, err)
	_, _, err = svc.Approve(ctx, sit.ID, "manager", false)
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("ana", "2024-08-01", "2024-08-02"))
	require.NoError(t, err)
	// sick leave does not deduct vacation
	sick := vacation("ana", "2024-09-02", "2024-09-03")
	sick.SituationTypeID = "st-S"
	_, _, err = svc.Submit(ctx, sick)
	require.NoError(t, err)

	summaries, err := svc.Summary(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	ana := summaries[0]
	assert.Equal(t, generic.EmployeeID("ana"), ana.EmployeeID)
	assert.Equal(t, "22", ana.Entitlement.String())
	assert.Equal(t, "5", ana.Used.String())
	assert.Equal(t, "2", ana.Pending.String())
	assert.Equal(t, "15", ana.Remaining.String())

	carla := summaries[2]
	assert.Equal(t, "11", carla.Entitlement.String())
	assert.Equal(t, "11", carla.Remaining.String())
}

func TestCalendar_DepartmentFilter(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, _, err := svc.Submit(ctx, vacation("ana", "2024-06-29", "2024-07-02"))
	require.NoError(t, err)
	_, _, err = svc.Submit(ctx, vacation("dora", "2024-07-01", "2024-07-01"))
	require.NoError(t, err)

	days, err := svc.Calendar(ctx, 2024, time.July, "dev")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, "2024-07-01", days[0].Date.String())
	assert.Equal(t, "H", days[0].Code)
	assert.Equal(t, "ANA", days[0].Sigla)
	assert.True(t, days[0].Workday)

	all, err := svc.Calendar(ctx, 2024, time.July, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
