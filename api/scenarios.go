/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos. Each scenario creates employees, conflict rules (as JSON,
  through the rule factory) and a few absences that show one feature of
  the conflict checker.

AVAILABLE SCENARIOS:
  team-coverage:   Three developers, at most one away at a time
  senior-sub-rule: Department allows two away, but only one of the seniors
  year-end-freeze: Operations blackout window over the holidays
  sick-vs-vacation: Rule limited to vacation; sick leave never conflicts

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Seed the default situation types and the year's holidays
 3. Create employees
 4. Create rules via factory.RuleFactory.ParseRules
 5. Submit absences through absence.Service (so business days and
    conflict checks run exactly as for real requests)

Dates are placed in the current year so the calendar and summary views
show them without extra parameters.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "team-coverage"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - factory/rule.go: Rule JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "team-coverage",
		Name:        "Team Coverage",
		Description: "Dev team of three with at most one person away; Ana is on vacation in July",
	},
	{
		ID:          "senior-sub-rule",
		Name:        "Senior Sub-Rule",
		Description: "Platform allows two people away, but only one of the two seniors",
	},
	{
		ID:          "year-end-freeze",
		Name:        "Year-End Freeze",
		Description: "Operations cannot take vacation between Dec 20 and Jan 2",
	},
	{
		ID:          "sick-vs-vacation",
		Name:        "Sick Leave vs Vacation",
		Description: "Coverage rule applies to vacation only; sick leave never conflicts",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context, year int) error

var scenarioLoaders = map[string]scenarioLoader{
	"team-coverage":    (*Handler).loadTeamCoverageScenario,
	"senior-sub-rule":  (*Handler).loadSeniorSubRuleScenario,
	"year-end-freeze":  (*Handler).loadYearEndFreezeScenario,
	"sick-vs-vacation": (*Handler).loadSickVsVacationScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		badRequest(w, r, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, fmt.Errorf("reset store: %w", err))
		return
	}

	year := time.Now().Year()
	if err := h.seedCatalogue(ctx, year); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := load(h, ctx, year); err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := SeedSituationTypes(r.Context(), h.Store); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadTeamCoverageScenario(ctx context.Context, year int) error {
	if err := h.saveEmployees(ctx,
		employee("ana", "Ana Silva", "dev", "engineer"),
		employee("bruno", "Bruno Costa", "dev", "engineer"),
		employee("carla", "Carla Reis", "dev", "lead"),
	); err != nil {
		return err
	}
	if err := h.saveRules(ctx, `[{
		"id": "dev-coverage",
		"name": "Dev team coverage",
		"description": "At most one developer away at a time",
		"max_absent": 1,
		"scope": {"department_ids": ["dev"]},
		"categories": ["vacation", "absence"]
	}]`); err != nil {
		return err
	}
	return h.submitAll(ctx, true,
		h.vacation("ana", date(year, time.July, 1), date(year, time.July, 5)),
		h.vacation("carla", date(year, time.August, 12), date(year, time.August, 16)),
	)
}

func (h *Handler) loadSeniorSubRuleScenario(ctx context.Context, year int) error {
	if err := h.saveEmployees(ctx,
		employee("sara", "Sara Lopes", "platform", "senior"),
		employee("tiago", "Tiago Melo", "platform", "senior"),
		employee("ursula", "Ursula Pinto", "platform", "engineer"),
		employee("vasco", "Vasco Dias", "platform", "engineer"),
	); err != nil {
		return err
	}
	if err := h.saveRules(ctx, `[{
		"id": "platform-coverage",
		"name": "Platform coverage",
		"max_absent": 2,
		"priority": 10,
		"scope": {"department_ids": ["platform"]},
		"sub_rules": [{
			"id": "platform-seniors",
			"description": "One senior on call",
			"employee_ids": ["sara", "tiago"],
			"max_absent": 1
		}]
	}]`); err != nil {
		return err
	}
	return h.submitAll(ctx, true,
		h.vacation("sara", date(year, time.June, 3), date(year, time.June, 14)),
		h.vacation("ursula", date(year, time.June, 10), date(year, time.June, 12)),
	)
}

func (h *Handler) loadYearEndFreezeScenario(ctx context.Context, year int) error {
	if err := h.saveEmployees(ctx,
		employee("olga", "Olga Nunes", "ops", "operator"),
		employee("paulo", "Paulo Sousa", "ops", "operator"),
		employee("rita", "Rita Alves", "finance", "analyst"),
	); err != nil {
		return err
	}
	rules := fmt.Sprintf(`[
		{
			"id": "ops-freeze",
			"name": "Operations year-end freeze",
			"max_absent": 0,
			"priority": 1,
			"scope": {"department_ids": ["ops"]},
			"categories": ["vacation"],
			"window": {"start": "%d-12-20", "end": "%d-01-02"}
		},
		{
			"id": "ops-coverage",
			"name": "Operations coverage",
			"max_absent": 1,
			"scope": {"department_ids": ["ops"]}
		}
	]`, year, year+1)
	if err := h.saveRules(ctx, rules); err != nil {
		return err
	}
	return h.submitAll(ctx, false,
		h.vacation("rita", date(year, time.December, 22), date(year, time.December, 31)),
		h.vacation("olga", date(year, time.November, 4), date(year, time.November, 8)),
	)
}

func (h *Handler) loadSickVsVacationScenario(ctx context.Context, year int) error {
	if err := h.saveEmployees(ctx,
		employee("ines", "Ines Faria", "support", "agent"),
		employee("joao", "Joao Lima", "support", "agent"),
	); err != nil {
		return err
	}
	if err := h.saveRules(ctx, `[{
		"id": "support-vacation",
		"name": "Support vacation coverage",
		"max_absent": 1,
		"scope": {"roles": ["agent"]},
		"categories": ["vacation"]
	}]`); err != nil {
		return err
	}
	sick := h.vacation("joao", date(year, time.March, 4), date(year, time.March, 6))
	sick.SituationTypeID = typeID(absence.CodeSickLeave)
	return h.submitAll(ctx, true,
		h.vacation("ines", date(year, time.March, 4), date(year, time.March, 8)),
		sick,
	)
}

// =============================================================================
// HELPERS
// =============================================================================

// SeedSituationTypes stores the default catalogue when the store has none.
func SeedSituationTypes(ctx context.Context, store absence.Store) error {
	existing, err := store.ListSituationTypes(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, t := range absence.DefaultSituationTypes() {
		if err := store.SaveSituationType(ctx, t); err != nil {
			return fmt.Errorf("seed situation type %s: %w", t.Code, err)
		}
	}
	return nil
}

func (h *Handler) seedCatalogue(ctx context.Context, year int) error {
	if err := SeedSituationTypes(ctx, h.Store); err != nil {
		return err
	}
	holidays := []generic.Holiday{
		{ID: "holiday-new-year", Date: date(year, time.January, 1), Name: "New Year's Day", Recurring: true},
		{ID: "holiday-labour", Date: date(year, time.May, 1), Name: "Labour Day", Recurring: true},
		{ID: "holiday-christmas", Date: date(year, time.December, 25), Name: "Christmas Day", Recurring: true},
	}
	for _, hol := range holidays {
		if err := h.Store.SaveHoliday(ctx, hol); err != nil {
			return fmt.Errorf("seed holiday %s: %w", hol.ID, err)
		}
	}
	return nil
}

func (h *Handler) saveEmployees(ctx context.Context, employees ...absence.Employee) error {
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	return nil
}

func (h *Handler) saveRules(ctx context.Context, jsonStr string) error {
	rules, err := h.RuleFactory.ParseRules(jsonStr)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if _, err := h.Service.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// submitAll submits proposals in order. approve also approves each one.
func (h *Handler) submitAll(ctx context.Context, approve bool, proposals ...absence.Proposal) error {
	for _, p := range proposals {
		sit, _, err := h.Service.Submit(ctx, p)
		if err != nil {
			return fmt.Errorf("submit %s %s: %w", p.EmployeeID, p.Period, err)
		}
		if approve {
			if _, _, err := h.Service.Approve(ctx, sit.ID, "scenario", false); err != nil {
				return fmt.Errorf("approve %s: %w", sit.ID, err)
			}
		}
	}
	return nil
}

func (h *Handler) vacation(emp string, start, end generic.TimePoint) absence.Proposal {
	return absence.Proposal{
		EmployeeID:      generic.EmployeeID(emp),
		SituationTypeID: typeID(absence.CodeVacation),
		Period:          generic.Period{Start: start, End: end},
		CreatedBy:       "scenario",
	}
}

func employee(id, name, department, role string) absence.Employee {
	return absence.Employee{
		ID:           generic.EmployeeID(id),
		Sigla:        strings.ToUpper(fmt.Sprintf("%.3s", id)),
		Name:         name,
		Email:        id + "@example.com",
		DepartmentID: department,
		Role:         role,
		ContractType: absence.ContractEmployee,
		Active:       true,
	}
}

// typeID is the id DefaultSituationTypes gives a code.
func typeID(code string) generic.SituationTypeID {
	return generic.SituationTypeID("st-" + code)
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}
