/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Calendar dates are YYYY-MM-DD strings. Timestamps are RFC 3339.

VALIDATION:
  Validation is done in handlers and the absence service, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON doubles as the rule request/response body
*/
package api

import (
	"context"
	"time"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/i18n"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID                  string  `json:"id"`
	Sigla               string  `json:"sigla"`
	Name                string  `json:"name"`
	Email               string  `json:"email,omitempty"`
	DepartmentID        string  `json:"department_id"`
	Role                string  `json:"role,omitempty"`
	ContractType        string  `json:"contract_type"`
	AdmissionDate       string  `json:"admission_date,omitempty"`
	Active              bool    `json:"active"`
	AnnualVacationDays  int     `json:"annual_vacation_days"`
	PreviousYearBalance float64 `json:"previous_year_balance"`
}

// CreateEmployeeRequest is the request to create or replace an employee.
type CreateEmployeeRequest struct {
	ID                  string  `json:"id"`
	Sigla               string  `json:"sigla"`
	Name                string  `json:"name"`
	Email               string  `json:"email"`
	DepartmentID        string  `json:"department_id"`
	Role                string  `json:"role"`
	ContractType        string  `json:"contract_type"`
	AdmissionDate       string  `json:"admission_date"`
	Active              *bool   `json:"active,omitempty"`
	AnnualVacationDays  int     `json:"annual_vacation_days"`
	PreviousYearBalance float64 `json:"previous_year_balance"`
}

func toEmployeeDTO(e absence.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:                  string(e.ID),
		Sigla:               e.Sigla,
		Name:                e.Name,
		Email:               e.Email,
		DepartmentID:        e.DepartmentID,
		Role:                e.Role,
		ContractType:        string(e.ContractType),
		Active:              e.Active,
		AnnualVacationDays:  e.AnnualEntitlement(),
		PreviousYearBalance: e.PreviousYearBalance.Float64(),
	}
	if !e.AdmissionDate.IsZero() {
		dto.AdmissionDate = e.AdmissionDate.String()
	}
	return dto
}

// =============================================================================
// SITUATION TYPES
// =============================================================================

type SituationTypeDTO struct {
	ID              string  `json:"id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Category        string  `json:"category"`
	DeductsVacation bool    `json:"deducts_vacation"`
	DeductionValue  float64 `json:"deduction_value"`
	Active          bool    `json:"active"`
}

func toSituationTypeDTO(t absence.SituationType) SituationTypeDTO {
	value, _ := t.DeductionValue.Float64()
	return SituationTypeDTO{
		ID:              string(t.ID),
		Code:            t.Code,
		Name:            t.Name,
		Description:     t.Description,
		Category:        string(t.Category),
		DeductsVacation: t.DeductsVacation,
		DeductionValue:  value,
		Active:          t.Active,
	}
}

// =============================================================================
// SITUATIONS
// =============================================================================

// SituationDTO represents a recorded absence.
type SituationDTO struct {
	ID              string  `json:"id"`
	EmployeeID      string  `json:"employee_id"`
	SituationTypeID string  `json:"situation_type_id"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	BusinessDays    float64 `json:"business_days"`
	Status          string  `json:"status"`
	Notes           string  `json:"notes,omitempty"`
	CreatedBy       string  `json:"created_by,omitempty"`
	DecidedBy       string  `json:"decided_by,omitempty"`
	DecisionReason  string  `json:"decision_reason,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// SituationRequest is the body of submit, check and update calls.
type SituationRequest struct {
	SituationID     string `json:"situation_id,omitempty"`
	EmployeeID      string `json:"employee_id"`
	SituationTypeID string `json:"situation_type_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	Notes           string `json:"notes,omitempty"`
	CreatedBy       string `json:"created_by,omitempty"`
	ExcludeID       string `json:"exclude_id,omitempty"`
	Force           bool   `json:"force,omitempty"`

	// ForceEligibility and ForceBalance override the waiting-period and
	// remaining-days warnings.
	ForceEligibility bool `json:"force_eligibility,omitempty"`
	ForceBalance     bool `json:"force_balance,omitempty"`
}

// OverlapRequest asks which of an employee's own absences cover a period.
type OverlapRequest struct {
	EmployeeID string `json:"employee_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	ExcludeID  string `json:"exclude_id,omitempty"`
}

// DecisionRequest is the body of approve, reject and cancel.
type DecisionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// SituationResponse pairs a stored situation with the check that let it through.
type SituationResponse struct {
	Situation     SituationDTO            `json:"situation"`
	ConflictCheck *ConflictCheckResultDTO `json:"conflict_check,omitempty"`
}

func toSituationDTO(s absence.Situation) SituationDTO {
	dto := SituationDTO{
		ID:              string(s.ID),
		EmployeeID:      string(s.EmployeeID),
		SituationTypeID: string(s.SituationTypeID),
		StartDate:       s.Period.Start.String(),
		EndDate:         s.Period.End.String(),
		BusinessDays:    s.BusinessDays.Float64(),
		Status:          string(s.Status),
		Notes:           s.Notes,
		CreatedBy:       s.CreatedBy,
		DecidedBy:       s.DecidedBy,
		DecisionReason:  s.DecisionReason,
	}
	if !s.CreatedAt.IsZero() {
		dto.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toSituationDTOs(ss []absence.Situation) []SituationDTO {
	dtos := make([]SituationDTO, len(ss))
	for i, s := range ss {
		dtos[i] = toSituationDTO(s)
	}
	return dtos
}

// =============================================================================
// CONFLICT CHECK RESULT
// =============================================================================

// ConflictCheckResultDTO is returned by the check endpoint and in 409 bodies.
type ConflictCheckResultDTO struct {
	Passed       bool           `json:"passed"`
	HasConflicts bool           `json:"has_conflicts"`
	Violations   []ViolationDTO `json:"violations"`
}

// ViolationDTO is one broken rule. Reason is localised from Accept-Language.
type ViolationDTO struct {
	RuleID             string                  `json:"rule_id"`
	RuleName           string                  `json:"rule_name"`
	RuleDescription    string                  `json:"rule_description,omitempty"`
	Priority           int                     `json:"priority"`
	SubRuleID          string                  `json:"sub_rule_id,omitempty"`
	SubRuleDescription string                  `json:"sub_rule_description,omitempty"`
	Kind               string                  `json:"kind"`
	Concurrency        int                     `json:"concurrency"`
	Threshold          int                     `json:"threshold"`
	Reason             string                  `json:"reason"`
	AbsentEmployees    []string                `json:"absent_employees"`
	Situations         []ConflictingAbsenceDTO `json:"situations"`
}

// ConflictingAbsenceDTO is an existing absence overlapping the candidate.
type ConflictingAbsenceDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Category   string `json:"category"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

func toResultDTO(ctx context.Context, r conflict.Result) ConflictCheckResultDTO {
	dto := ConflictCheckResultDTO{
		Passed:       r.Passed,
		HasConflicts: r.HasConflicts(),
		Violations:   make([]ViolationDTO, 0, len(r.Violations)),
	}
	for _, v := range r.Violations {
		vd := ViolationDTO{
			RuleID:             string(v.RuleID),
			RuleName:           v.RuleName,
			RuleDescription:    v.RuleDescription,
			Priority:           v.Priority,
			SubRuleID:          string(v.SubRuleID),
			SubRuleDescription: v.SubRuleDescription,
			Kind:               string(v.Kind),
			Concurrency:        v.Concurrency,
			Threshold:          v.Threshold,
			Reason:             localizedReason(ctx, v),
			AbsentEmployees:    make([]string, len(v.AbsentEmployees)),
			Situations:         make([]ConflictingAbsenceDTO, len(v.Situations)),
		}
		for i, id := range v.AbsentEmployees {
			vd.AbsentEmployees[i] = string(id)
		}
		for i, s := range v.Situations {
			vd.Situations[i] = ConflictingAbsenceDTO{
				ID:         string(s.ID),
				EmployeeID: string(s.EmployeeID),
				Category:   s.Type,
				StartDate:  s.Period.Start.String(),
				EndDate:    s.Period.End.String(),
			}
		}
		dto.Violations = append(dto.Violations, vd)
	}
	return dto
}

func localizedReason(ctx context.Context, v conflict.Violation) string {
	data := map[string]any{
		"Concurrency": v.Concurrency,
		"Threshold":   v.Threshold,
		"RuleName":    v.RuleName,
	}
	if v.IsSubRule() {
		sub := v.SubRuleDescription
		if sub == "" {
			sub = string(v.SubRuleID)
		}
		data["SubRule"] = sub
		return i18n.T(ctx, i18n.MsgViolationSubRule, data)
	}
	return i18n.T(ctx, i18n.MsgViolationMaxAbsent, data)
}

// =============================================================================
// RULES
// =============================================================================

// RuleDTO is the JSON rule form plus bookkeeping timestamps.
type RuleDTO struct {
	factory.RuleJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func toRuleDTO(f *factory.RuleFactory, r absence.ConflictRule) RuleDTO {
	dto := RuleDTO{RuleJSON: f.ToJSON(r)}
	if !r.CreatedAt.IsZero() {
		dto.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	if !r.UpdatedAt.IsZero() {
		dto.UpdatedAt = r.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// HOLIDAYS, SUMMARY, CALENDAR
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// VacationSummaryDTO is one row of the yearly vacation overview.
type VacationSummaryDTO struct {
	EmployeeID          string  `json:"employee_id"`
	Sigla               string  `json:"sigla"`
	Name                string  `json:"name"`
	Year                int     `json:"year"`
	Entitlement         float64 `json:"entitlement"`
	PreviousYearBalance float64 `json:"previous_year_balance"`
	Used                float64 `json:"used"`
	Pending             float64 `json:"pending"`
	Remaining           float64 `json:"remaining"`
}

func toSummaryDTO(s absence.VacationSummary) VacationSummaryDTO {
	return VacationSummaryDTO{
		EmployeeID:          string(s.EmployeeID),
		Sigla:               s.Sigla,
		Name:                s.Name,
		Year:                s.Year,
		Entitlement:         s.Entitlement.Float64(),
		PreviousYearBalance: s.PreviousYearBalance.Float64(),
		Used:                s.Used.Float64(),
		Pending:             s.Pending.Float64(),
		Remaining:           s.Remaining.Float64(),
	}
}

type CalendarDayDTO struct {
	Date        string `json:"date"`
	EmployeeID  string `json:"employee_id"`
	Sigla       string `json:"sigla"`
	SituationID string `json:"situation_id"`
	Code        string `json:"code"`
	Status      string `json:"status"`
	Workday     bool   `json:"workday"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditRunDTO struct {
	ID          string `json:"id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Checked     int    `json:"checked"`
	Conflicting int    `json:"conflicting"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type AuditFindingDTO struct {
	Situation     SituationDTO           `json:"situation"`
	ConflictCheck ConflictCheckResultDTO `json:"conflict_check"`
}

// RunAuditRequest optionally overrides the audited window.
type RunAuditRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

func toAuditRunDTO(run absence.AuditRun) AuditRunDTO {
	dto := AuditRunDTO{
		ID:          run.ID,
		WindowStart: run.Window.Start.String(),
		WindowEnd:   run.Window.End.String(),
		Checked:     run.Checked,
		Conflicting: run.Conflicting,
		Failed:      run.Failed,
		Error:       run.Error,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
	}
	if !run.CompletedAt.IsZero() {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// YEAR TRANSITION
// =============================================================================

// YearTransitionRequest names the year being opened; zero means the current year.
type YearTransitionRequest struct {
	TargetYear int `json:"target_year,omitempty"`
}

type CarryOverDTO struct {
	EmployeeID  string  `json:"employee_id"`
	Previous    float64 `json:"previous_year_balance"`
	Entitlement float64 `json:"entitlement"`
	Used        float64 `json:"used"`
	Carried     float64 `json:"carried"`
}

type YearTransitionDTO struct {
	Year             int            `json:"year"`
	Status           string         `json:"status"` // completed or skipped
	EmployeesUpdated int            `json:"employees_updated"`
	CarryOvers       []CarryOverDTO `json:"carry_overs"`
	RanAt            string         `json:"ran_at"`
}

func toYearTransitionDTO(run absence.YearTransitionRun, skipped bool) YearTransitionDTO {
	dto := YearTransitionDTO{
		Year:             run.Year,
		Status:           "completed",
		EmployeesUpdated: run.EmployeesUpdated,
		CarryOvers:       make([]CarryOverDTO, len(run.CarryOvers)),
		RanAt:            run.RanAt.Format(time.RFC3339),
	}
	if skipped {
		dto.Status = "skipped"
	}
	for i, c := range run.CarryOvers {
		dto.CarryOvers[i] = CarryOverDTO{
			EmployeeID:  string(c.EmployeeID),
			Previous:    c.Previous.Float64(),
			Entitlement: c.Entitlement.Float64(),
			Used:        c.Used.Float64(),
			Carried:     c.Carried.Float64(),
		}
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error         string                  `json:"error"`
	Details       string                  `json:"details,omitempty"`
	ConflictCheck *ConflictCheckResultDTO `json:"conflict_check,omitempty"`
	Overlapping   []SituationDTO          `json:"overlapping,omitempty"`

	// Set on eligibility and balance warnings.
	EligibleFrom string   `json:"eligible_from,omitempty"`
	Remaining    *float64 `json:"remaining_days,omitempty"`
	Requested    *float64 `json:"requested_days,omitempty"`
}
