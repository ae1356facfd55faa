/*
handlers.go - HTTP API handlers for the absence engine

PURPOSE:
  Exposes employees, absences (situations), conflict rules, holidays and
  reports via REST. Handles HTTP request/response and JSON serialization;
  every decision is delegated to absence.Service.

ENDPOINTS:
  Employees:
    GET    /api/employees                  List employees
    POST   /api/employees                  Create or replace an employee
    GET    /api/employees/{id}             Employee details
    GET    /api/employees/{id}/situations  The employee's absences

  Situations:
    GET    /api/situation-types            Catalogue of absence kinds
    GET    /api/situations                 List (?from=&to=&status=&employee_id=)
    POST   /api/situations                 Submit; 409 with the check on conflict
    POST   /api/situations/check           Dry-run conflict check
    POST   /api/situations/overlap         The employee's own overlapping absences
    PUT    /api/situations/{id}            Edit dates, type or notes
    POST   /api/situations/{id}/approve    Re-check then approve
    POST   /api/situations/{id}/reject     Reject a pending absence
    POST   /api/situations/{id}/cancel     Withdraw a pending or approved absence

  Conflict rules:
    GET    /api/rules                      List (?active=true)
    POST   /api/rules                      Create from RuleJSON
    GET    /api/rules/{id}                 Rule details
    PUT    /api/rules/{id}                 Replace
    DELETE /api/rules/{id}                 Deactivate
    POST   /api/rules/{id}/sub-rules       Attach a sub-rule
    DELETE /api/rules/{id}/sub-rules/{subID}

  Reports and admin:
    GET    /api/holidays?year=             POST /api/holidays
    GET    /api/summary?year=              Vacation used/remaining per employee
    GET    /api/calendar?year=&month=&department=
    GET    /api/audit/runs                 POST /api/audit/run
    GET    /api/year-transition            Carry-over runs, newest first
    POST   /api/year-transition            Carry unused days into a new year

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with:
  - 400: Malformed body, bad dates, invalid rule definitions
  - 404: Employee, situation, type or rule not found
  - 409: Conflict rule violated (body carries conflict_check), employee
         already absent (body carries overlapping), vacation inside the
         admission waiting period (eligible_from), not enough days left
         (remaining_days, requested_days), invalid status change,
         duplicate id
  - 422: Conflicts could not be evaluated (inverted interval, unresolved
         scope); distinct from a violation
  - 500: Internal errors
  Messages are localised from Accept-Language (see server.go).

SECURITY NOTE:
  Currently NO authentication or authorization. Actor names in decision
  bodies are trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/i18n"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service     *absence.Service
	Store       absence.Store
	RuleFactory *factory.RuleFactory
	Logger      logrus.FieldLogger

	// AuditWindowDays is the look-ahead of POST /api/audit/run without a body.
	AuditWindowDays int

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *absence.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = svc.Logger
	}
	return &Handler{
		Service:         svc,
		Store:           svc.Store,
		RuleFactory:     factory.NewRuleFactory(),
		Logger:          logger,
		AuditWindowDays: 90,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), generic.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.DepartmentID == "" {
		badRequest(w, r, "id, name and department_id are required", nil)
		return
	}

	emp := absence.Employee{
		ID:                  generic.EmployeeID(req.ID),
		Sigla:               req.Sigla,
		Name:                req.Name,
		Email:               req.Email,
		DepartmentID:        req.DepartmentID,
		Role:                req.Role,
		ContractType:        absence.ContractEmployee,
		Active:              true,
		AnnualVacationDays:  req.AnnualVacationDays,
		PreviousYearBalance: generic.Days{Value: decimal.NewFromFloat(req.PreviousYearBalance)},
	}
	switch absence.ContractType(req.ContractType) {
	case "", absence.ContractEmployee:
	case absence.ContractFreelancer:
		emp.ContractType = absence.ContractFreelancer
	default:
		badRequest(w, r, fmt.Sprintf("Unknown contract_type %q", req.ContractType), nil)
		return
	}
	if req.Active != nil {
		emp.Active = *req.Active
	}
	if emp.Sigla == "" {
		emp.Sigla = strings.ToUpper(req.ID)
	}
	if req.AdmissionDate != "" {
		d, err := generic.ParseDate(req.AdmissionDate)
		if err != nil {
			badRequest(w, r, "Invalid admission_date format (use YYYY-MM-DD)", err)
			return
		}
		emp.AdmissionDate = d
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Logger.WithField("employee_id", emp.ID).Info("employee saved")
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetEmployeeSituations lists one employee's absences.
func (h *Handler) GetEmployeeSituations(w http.ResponseWriter, r *http.Request) {
	id := generic.EmployeeID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	situations, err := h.Store.ListSituations(r.Context(), absence.SituationFilter{EmployeeID: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSituationDTOs(situations))
}

// =============================================================================
// SITUATION HANDLERS
// =============================================================================

// ListSituationTypes returns the absence catalogue.
func (h *Handler) ListSituationTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListSituationTypes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SituationTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = toSituationTypeDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSituations returns situations filtered by window, status and employee.
func (h *Handler) ListSituations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := absence.SituationFilter{EmployeeID: generic.EmployeeID(q.Get("employee_id"))}

	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			badRequest(w, r, "from and to must be given together", nil)
			return
		}
		window, err := generic.NewPeriod(from, to)
		if err != nil {
			badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		if err := window.Validate(); err != nil {
			badRequest(w, r, "Invalid window", err)
			return
		}
		filter.Window = &window
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := absence.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				badRequest(w, r, "Invalid status", err)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	situations, err := h.Store.ListSituations(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSituationDTOs(situations))
}

// SubmitSituation evaluates and persists a new absence.
// POST /api/situations
func (h *Handler) SubmitSituation(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeProposal(w, r)
	if !ok {
		return
	}
	sit, result, err := h.Service.Submit(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	check := toResultDTO(r.Context(), result)
	writeJSON(w, http.StatusCreated, SituationResponse{Situation: toSituationDTO(*sit), ConflictCheck: &check})
}

// CheckConflicts is the dry-run preview. A violation is a normal 200 response here.
// POST /api/situations/check
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	p, ok := decodeProposal(w, r)
	if !ok {
		return
	}
	result, err := h.Service.CheckConflicts(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(r.Context(), result))
}

// CheckOverlap lists the employee's own absences covering the period.
// POST /api/situations/overlap
func (h *Handler) CheckOverlap(w http.ResponseWriter, r *http.Request) {
	var req OverlapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	period, err := generic.NewPeriod(req.StartDate, req.EndDate)
	if err != nil {
		badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	overlapping, err := h.Service.CheckOverlap(r.Context(), generic.EmployeeID(req.EmployeeID), period, generic.SituationID(req.ExcludeID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_overlap": len(overlapping) > 0,
		"overlapping": toSituationDTOs(overlapping),
	})
}

// UpdateSituation edits an active absence.
// PUT /api/situations/{id}
func (h *Handler) UpdateSituation(w http.ResponseWriter, r *http.Request) {
	var req SituationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	p := absence.Proposal{
		SituationTypeID:  generic.SituationTypeID(req.SituationTypeID),
		Notes:            req.Notes,
		Force:            req.Force,
		ForceEligibility: req.ForceEligibility,
		ForceBalance:     req.ForceBalance,
	}
	if req.StartDate != "" || req.EndDate != "" {
		period, err := generic.NewPeriod(req.StartDate, req.EndDate)
		if err != nil {
			badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		p.Period = period
	}

	sit, result, err := h.Service.Update(r.Context(), generic.SituationID(chi.URLParam(r, "id")), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	check := toResultDTO(r.Context(), result)
	writeJSON(w, http.StatusOK, SituationResponse{Situation: toSituationDTO(*sit), ConflictCheck: &check})
}

// ApproveSituation re-checks and approves.
// POST /api/situations/{id}/approve
func (h *Handler) ApproveSituation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	sit, result, err := h.Service.Approve(r.Context(), generic.SituationID(chi.URLParam(r, "id")), req.Actor, req.Force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	check := toResultDTO(r.Context(), result)
	writeJSON(w, http.StatusOK, SituationResponse{Situation: toSituationDTO(*sit), ConflictCheck: &check})
}

// RejectSituation rejects a pending absence.
// POST /api/situations/{id}/reject
func (h *Handler) RejectSituation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	sit, err := h.Service.Reject(r.Context(), generic.SituationID(chi.URLParam(r, "id")), req.Actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SituationResponse{Situation: toSituationDTO(*sit)})
}

// CancelSituation withdraws an absence.
// POST /api/situations/{id}/cancel
func (h *Handler) CancelSituation(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(w, r)
	if !ok {
		return
	}
	sit, err := h.Service.Cancel(r.Context(), generic.SituationID(chi.URLParam(r, "id")), req.Actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SituationResponse{Situation: toSituationDTO(*sit)})
}

func decodeProposal(w http.ResponseWriter, r *http.Request) (absence.Proposal, bool) {
	var req SituationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return absence.Proposal{}, false
	}
	if req.EmployeeID == "" || req.SituationTypeID == "" {
		badRequest(w, r, "employee_id and situation_type_id are required", nil)
		return absence.Proposal{}, false
	}
	period, err := generic.NewPeriod(req.StartDate, req.EndDate)
	if err != nil {
		badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
		return absence.Proposal{}, false
	}
	return absence.Proposal{
		SituationID:      generic.SituationID(req.SituationID),
		EmployeeID:       generic.EmployeeID(req.EmployeeID),
		SituationTypeID:  generic.SituationTypeID(req.SituationTypeID),
		Period:           period,
		Notes:            req.Notes,
		CreatedBy:        req.CreatedBy,
		ExcludeID:        generic.SituationID(req.ExcludeID),
		Force:            req.Force,
		ForceEligibility: req.ForceEligibility,
		ForceBalance:     req.ForceBalance,
	}, true
}

// decodeDecision tolerates an empty body; the actor defaults to "admin".
func decodeDecision(w http.ResponseWriter, r *http.Request) (DecisionRequest, bool) {
	var req DecisionRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return req, false
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}
	return req, true
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns conflict rules ordered by priority.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	rules, err := h.Store.ListRules(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRuleDTO(h.RuleFactory, rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns one rule with its sub-rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Store.GetRule(r.Context(), generic.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, *rule))
}

// CreateRule stores a rule given as RuleJSON.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	if rj.ID != "" {
		if _, err := h.Store.GetRule(r.Context(), generic.RuleID(rj.ID)); err == nil {
			h.fail(w, r, fmt.Errorf("%w: rule %s", generic.ErrDuplicateID, rj.ID))
			return
		}
	}
	h.saveRule(w, r, rj, http.StatusCreated)
}

// UpdateRule replaces a rule. The path id wins over the body id.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetRule(r.Context(), generic.RuleID(id)); err != nil {
		h.fail(w, r, err)
		return
	}
	var rj factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	rj.ID = id
	h.saveRule(w, r, rj, http.StatusOK)
}

func (h *Handler) saveRule(w http.ResponseWriter, r *http.Request, rj factory.RuleJSON, status int) {
	if rj.ID == "" {
		rj.ID = fmt.Sprintf("rule-%d", time.Now().UnixNano())
	}
	rule, err := h.RuleFactory.FromJSON(rj)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.Service.SaveRule(r.Context(), *rule)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, toRuleDTO(h.RuleFactory, *saved))
}

// DeactivateRule switches a rule off; rules stay for history.
// DELETE /api/rules/{id}
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Service.DeactivateRule(r.Context(), generic.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, *rule))
}

// AddSubRule attaches a sub-rule given as SubRuleJSON.
// POST /api/rules/{id}/sub-rules
func (h *Handler) AddSubRule(w http.ResponseWriter, r *http.Request) {
	ruleID := generic.RuleID(chi.URLParam(r, "id"))
	var sj factory.SubRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&sj); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	current, err := h.Store.GetRule(r.Context(), ruleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.RuleFactory.SubRuleFromJSON(ruleID, current.NextSubRuleIndex(), sj)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.Service.AddSubRule(r.Context(), ruleID, *sub)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(h.RuleFactory, *rule))
}

// RemoveSubRule detaches a sub-rule.
// DELETE /api/rules/{id}/sub-rules/{subID}
func (h *Handler) RemoveSubRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Service.RemoveSubRule(r.Context(),
		generic.RuleID(chi.URLParam(r, "id")),
		generic.SubRuleID(chi.URLParam(r, "subID")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, *rule))
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns holidays, optionally only those falling in ?year=.
// Recurring holidays are always listed.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r, "year", 0)
	if err != nil {
		badRequest(w, r, "Invalid year", err)
		return
	}
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		if year != 0 && !hol.Recurring && hol.Date.Year() != year {
			continue
		}
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Date:      hol.Date.String(),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	if req.Date == "" || req.Name == "" {
		badRequest(w, r, "Date and name are required", nil)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	holiday := generic.Holiday{
		ID:        req.ID,
		Date:      date,
		Name:      req.Name,
		Recurring: req.Recurring,
	}
	if holiday.ID == "" {
		holiday.ID = "holiday-" + date.String()
	}
	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		h.fail(w, r, err)
		return
	}
	req.ID, req.Date = holiday.ID, date.String()
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// REPORTS
// =============================================================================

// GetSummary returns the vacation position of every active employee.
// GET /api/summary?year=
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r, "year", time.Now().Year())
	if err != nil {
		badRequest(w, r, "Invalid year", err)
		return
	}
	rows, err := h.Service.Summary(r.Context(), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]VacationSummaryDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toSummaryDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCalendar returns per-day absences for a month.
// GET /api/calendar?year=&month=&department=
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	year, err := intParam(r, "year", now.Year())
	if err != nil {
		badRequest(w, r, "Invalid year", err)
		return
	}
	month, err := intParam(r, "month", int(now.Month()))
	if err != nil || month < 1 || month > 12 {
		badRequest(w, r, "Invalid month", err)
		return
	}
	days, err := h.Service.Calendar(r.Context(), year, time.Month(month), r.URL.Query().Get("department"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]CalendarDayDTO, len(days))
	for i, d := range days {
		dtos[i] = CalendarDayDTO{
			Date:        d.Date.String(),
			EmployeeID:  string(d.EmployeeID),
			Sigla:       d.Sigla,
			SituationID: string(d.SituationID),
			Code:        d.Code,
			Status:      string(d.Status),
			Workday:     d.Workday,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

// ListAuditRuns returns recent audit runs, newest first.
// GET /api/audit/runs?limit=
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit <= 0 {
		badRequest(w, r, "Invalid limit", err)
		return
	}
	runs, err := h.Store.ListAuditRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunAudit re-evaluates pending situations now.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	var req RunAuditRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}

	window := DefaultAuditWindow(time.Now(), h.AuditWindowDays)
	if req.StartDate != "" || req.EndDate != "" {
		p, err := generic.NewPeriod(req.StartDate, req.EndDate)
		if err != nil {
			badRequest(w, r, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		if err := p.Validate(); err != nil {
			badRequest(w, r, "Invalid window", err)
			return
		}
		window = p
	}

	run, findings, err := h.Service.AuditPending(r.Context(), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]AuditFindingDTO, len(findings))
	for i, f := range findings {
		out[i] = AuditFindingDTO{
			Situation:     toSituationDTO(f.Situation),
			ConflictCheck: toResultDTO(r.Context(), f.Result),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      toAuditRunDTO(run),
		"findings": out,
	})
}

// =============================================================================
// YEAR TRANSITION
// =============================================================================

// RunYearTransition carries unused vacation into a new year. Running it again
// for the same year returns the stored run with status "skipped".
// POST /api/year-transition
func (h *Handler) RunYearTransition(w http.ResponseWriter, r *http.Request) {
	var req YearTransitionRequest
	if err := decodeOptional(r, &req); err != nil {
		badRequest(w, r, "Invalid request body", err)
		return
	}
	year := req.TargetYear
	if year == 0 {
		year = time.Now().Year()
	}
	if year < 1 {
		badRequest(w, r, "Invalid target_year", nil)
		return
	}

	run, skipped, err := h.Service.YearTransition(r.Context(), year)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toYearTransitionDTO(run, skipped))
}

// ListYearTransitions returns every carry-over run, newest year first.
// GET /api/year-transition
func (h *Handler) ListYearTransitions(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListYearTransitions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]YearTransitionDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toYearTransitionDTO(run, false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DefaultAuditWindow spans from today to days ahead.
func DefaultAuditWindow(now time.Time, days int) generic.Period {
	today := generic.FromTime(now)
	return generic.Period{Start: today, End: today.AddDays(days)}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, details string, err error) {
	if err != nil {
		details = details + ": " + err.Error()
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   i18n.T(r.Context(), i18n.MsgErrBadRequest),
		Details: details,
	})
}

// fail maps service and store errors to HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var conflictErr *absence.ConflictError
	if errors.As(err, &conflictErr) {
		check := toResultDTO(ctx, conflictErr.Result)
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         i18n.T(ctx, i18n.MsgErrConflict),
			Details:       err.Error(),
			ConflictCheck: &check,
		})
		return
	}
	var overlapErr *absence.OverlapError
	if errors.As(err, &overlapErr) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:       i18n.T(ctx, i18n.MsgErrSelfOverlap),
			Details:     err.Error(),
			Overlapping: toSituationDTOs(overlapErr.Overlapping),
		})
		return
	}

	var eligibilityErr *absence.EligibilityError
	if errors.As(err, &eligibilityErr) {
		from := eligibilityErr.EligibleFrom.String()
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        i18n.T(ctx, i18n.MsgErrNotEligible, map[string]any{"EligibleFrom": from}),
			Details:      err.Error(),
			EligibleFrom: from,
		})
		return
	}
	var balanceErr *absence.InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		remaining, requested := balanceErr.Remaining.Float64(), balanceErr.Requested.Float64()
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: i18n.T(ctx, i18n.MsgErrInsufficientBalance, map[string]any{
				"Year":      balanceErr.Year,
				"Remaining": balanceErr.Remaining.String(),
				"Requested": balanceErr.Requested.String(),
			}),
			Details:   err.Error(),
			Remaining: &remaining,
			Requested: &requested,
		})
		return
	}

	switch {
	case generic.IsEvaluationError(err):
		msg := i18n.T(ctx, i18n.MsgErrUnresolvedScope)
		if errors.Is(err, generic.ErrInvalidInterval) {
			msg = i18n.T(ctx, i18n.MsgErrInvalidInterval)
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   i18n.T(ctx, i18n.MsgErrEvaluation),
			Details: msg,
		})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, i18n.T(ctx, i18n.MsgErrNotFound), err)
	case errors.Is(err, generic.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, i18n.T(ctx, i18n.MsgErrInvalidTransition), err)
	case errors.Is(err, generic.ErrDuplicateID):
		writeError(w, http.StatusConflict, i18n.T(ctx, i18n.MsgErrBadRequest), err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, i18n.T(ctx, i18n.MsgErrBadRequest), err)
	default:
		h.Logger.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(ctx),
		}).Error("request failed")
		writeError(w, http.StatusInternalServerError, i18n.T(ctx, i18n.MsgErrInternal), nil)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
