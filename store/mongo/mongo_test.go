package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// These tests need a MongoDB server. Set MONGODB_URI to run them, and
// MONGODB_TRANSACTIONS=true when the server is a replica set.
func newStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	logger, _ := logtest.NewNullLogger()
	ctx := context.Background()
	store, err := New(ctx, Options{
		URI:          uri,
		Database:     fmt.Sprintf("absence_test_%d", time.Now().UnixNano()),
		Transactions: os.Getenv("MONGODB_TRANSACTIONS") == "true",
		Logger:       logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Drop(ctx)
		_ = store.Close(ctx)
	})
	return store
}

func TestMongo_SituationsOverlapQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, s := range []absence.Situation{
		{ID: "s1", EmployeeID: "ana", SituationTypeID: "st-H", Period: generic.MustPeriod("2024-07-01", "2024-07-05"), Status: absence.StatusApproved},
		{ID: "s2", EmployeeID: "bruno", SituationTypeID: "st-H", Period: generic.MustPeriod("2024-07-05", "2024-07-06"), Status: absence.StatusPending},
		{ID: "s3", EmployeeID: "carla", SituationTypeID: "st-H", Period: generic.MustPeriod("2024-07-06", "2024-07-09"), Status: absence.StatusPending},
	} {
		s.BusinessDays = generic.NewDaysFromInt(1)
		require.NoError(t, store.CreateSituation(ctx, s))
	}

	window := generic.MustPeriod("2024-07-05", "2024-07-05")
	got, err := store.ListSituations(ctx, absence.SituationFilter{Window: &window, Statuses: absence.ActiveStatuses})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.SituationID("s1"), got[0].ID)
	assert.Equal(t, generic.SituationID("s2"), got[1].ID)

	err = store.CreateSituation(ctx, absence.Situation{ID: "s1", EmployeeID: "ana", Period: window, Status: absence.StatusPending})
	assert.ErrorIs(t, err, generic.ErrDuplicateID)

	_, err = store.GetSituation(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrSituationNotFound)
}

func TestMongo_RuleRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	window := generic.MustPeriod("2024-12-20", "2025-01-02")

	require.NoError(t, store.SaveRule(ctx, absence.ConflictRule{
		ID: "dev", Name: "Dev", MaxAbsent: 2, Priority: 10, Active: true,
		Scope:      conflict.Scope{DepartmentIDs: []string{"dev"}, EmployeeIDs: []generic.EmployeeID{"eva"}},
		Categories: []absence.Category{absence.CategoryVacation},
		SubRules: []absence.ConflictSubRule{
			{ID: "seniors", EmployeeIDs: []generic.EmployeeID{"ana"}, MaxAbsent: 1, Window: &window, Active: true},
		},
	}))

	got, err := store.GetRule(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, got.Scope.DepartmentIDs)
	assert.Equal(t, []generic.EmployeeID{"eva"}, got.Scope.EmployeeIDs)
	require.Len(t, got.SubRules, 1)
	assert.Equal(t, generic.RuleID("dev"), got.SubRules[0].RuleID)
	require.NotNil(t, got.SubRules[0].Window)
	assert.Equal(t, "2024-12-20", got.SubRules[0].Window.Start.String())

	require.NoError(t, store.DeleteRule(ctx, "dev"))
	assert.ErrorIs(t, store.DeleteRule(ctx, "dev"), generic.ErrRuleNotFound)
}

func TestMongo_WithTxRollsBackOnReplicaSet(t *testing.T) {
	store := newStore(t)
	if !store.opts.Transactions {
		t.Skip("transactions disabled")
	}
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx absence.Store) error {
		require.NoError(t, tx.SaveHoliday(ctx, generic.Holiday{ID: "h1", Date: generic.MustParseDate("2024-12-25"), Name: "Christmas"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	holidays, err := store.ListHolidays(ctx)
	require.NoError(t, err)
	assert.Empty(t, holidays)
}

func TestMongo_YearTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	run := absence.YearTransitionRun{
		Year:             2024,
		EmployeesUpdated: 1,
		RanAt:            time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
		CarryOvers: []absence.CarryOver{{
			EmployeeID: "ana", Previous: generic.NewDays(1.5), Entitlement: generic.NewDaysFromInt(22),
			Used: generic.NewDaysFromInt(5), Carried: generic.NewDays(18.5),
		}},
	}
	require.NoError(t, store.SaveYearTransition(ctx, run))
	assert.ErrorIs(t, store.SaveYearTransition(ctx, run), generic.ErrDuplicateID)

	got, err := store.GetYearTransition(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, got.CarryOvers, 1)
	assert.Equal(t, "18.5", got.CarryOvers[0].Carried.String())

	_, err = store.GetYearTransition(ctx, 2025)
	assert.ErrorIs(t, err, generic.ErrYearTransitionNotFound)

	runs, err := store.ListYearTransitions(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
