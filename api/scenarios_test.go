/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Tests that each scenario loads and sets up the expected state:
	- Employees, rules and absences are created
	- Loading twice starts from a clean store
	- The loaded rules reject the overlaps they were written for

These tests double as integration tests of the whole submit path.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
)

func (a *testAPI) loadScenario(id string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenarios_AllLoad(t *testing.T) {
	for id := range scenarioLoaders {
		t.Run(id, func(t *testing.T) {
			api := newTestAPI(t)
			api.loadScenario(id)

			current := decode[ScenarioDTO](t, api.do(http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, id, current.ID)

			ctx := context.Background()
			employees, err := api.handler.Store.ListEmployees(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, employees)
			rules, err := api.handler.Store.ListRules(ctx, true)
			require.NoError(t, err)
			assert.NotEmpty(t, rules)
		})
	}
}

func TestScenarios_ListMatchesLoaders(t *testing.T) {
	api := newTestAPI(t)

	list := decode[[]ScenarioDTO](t, api.do(http.MethodGet, "/api/scenarios", nil))

	require.Len(t, list, len(scenarioLoaders))
	for _, s := range list {
		assert.Contains(t, scenarioLoaders, s.ID)
	}
}

func TestScenarios_UnknownIsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_TeamCoverage(t *testing.T) {
	// GIVEN: Ana's approved July vacation and a one-developer-away rule
	api := newTestAPI(t)
	api.loadScenario("team-coverage")
	year := time.Now().Year()

	approved := decode[[]SituationDTO](t, api.do(http.MethodGet, "/api/situations?status=approved", nil))
	require.Len(t, approved, 2)

	// WHEN: Bruno asks for days inside Ana's week
	rec := api.do(http.MethodPost, "/api/situations",
		vacationRequest("bruno", fmt.Sprintf("%d-07-02", year), fmt.Sprintf("%d-07-03", year)))

	// THEN: The dev-coverage rule rejects it
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	require.Len(t, resp.ConflictCheck.Violations, 1)
	assert.Equal(t, "dev-coverage", resp.ConflictCheck.Violations[0].RuleID)

	// A week with nobody away is fine
	rec = api.do(http.MethodPost, "/api/situations",
		vacationRequest("bruno", fmt.Sprintf("%d-09-09", year), fmt.Sprintf("%d-09-13", year)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestScenario_SeniorSubRule(t *testing.T) {
	// GIVEN: Sara (senior) and Ursula are away in June; two may be away but one senior
	api := newTestAPI(t)
	api.loadScenario("senior-sub-rule")
	year := time.Now().Year()

	// WHEN: Tiago, the other senior, asks for a day Sara is away
	check := decode[ConflictCheckResultDTO](t, api.do(http.MethodPost, "/api/situations/check",
		vacationRequest("tiago", fmt.Sprintf("%d-06-04", year), fmt.Sprintf("%d-06-04", year))))

	// THEN: The senior sub-rule binds
	require.Len(t, check.Violations, 1)
	assert.Equal(t, "platform-seniors", check.Violations[0].SubRuleID)
	assert.Equal(t, 1, check.Violations[0].Threshold)
}

func TestScenario_YearEndFreeze(t *testing.T) {
	api := newTestAPI(t)
	api.loadScenario("year-end-freeze")
	year := time.Now().Year()

	// Olga's November vacation is pending, not approved
	pending := decode[[]SituationDTO](t, api.do(http.MethodGet, "/api/situations?status=pending", nil))
	assert.Len(t, pending, 2)

	// Ops cannot take vacation inside the freeze window
	check := decode[ConflictCheckResultDTO](t, api.do(http.MethodPost, "/api/situations/check",
		vacationRequest("paulo", fmt.Sprintf("%d-12-27", year), fmt.Sprintf("%d-12-30", year))))
	require.True(t, check.HasConflicts)
	assert.Equal(t, "ops-freeze", check.Violations[0].RuleID)
	assert.Equal(t, 0, check.Violations[0].Threshold)

	// Finance is out of scope
	check = decode[ConflictCheckResultDTO](t, api.do(http.MethodPost, "/api/situations/check",
		SituationRequest{EmployeeID: "rita", SituationTypeID: string(typeID(absence.CodeVacation)),
			StartDate: fmt.Sprintf("%d-12-15", year), EndDate: fmt.Sprintf("%d-12-16", year)}))
	assert.True(t, check.Passed)
}

func TestScenario_SickVsVacation(t *testing.T) {
	// GIVEN: Ines on vacation and Joao on sick leave the same week
	api := newTestAPI(t)
	api.loadScenario("sick-vs-vacation")

	// THEN: Both were approved; sick leave does not count for a vacation-only rule
	approved := decode[[]SituationDTO](t, api.do(http.MethodGet, "/api/situations?status=approved", nil))
	assert.Len(t, approved, 2)
}

func TestResetStore(t *testing.T) {
	api := newTestAPI(t)
	api.loadScenario("team-coverage")

	rec := api.do(http.MethodPost, "/api/scenarios/reset", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]EmployeeDTO](t, api.do(http.MethodGet, "/api/employees", nil)))
	assert.NotEmpty(t, decode[[]SituationTypeDTO](t, api.do(http.MethodGet, "/api/situation-types", nil)))
	assert.Equal(t, "null\n", api.do(http.MethodGet, "/api/scenarios/current", nil).Body.String())
}
