package mongo

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// Dates are YYYY-MM-DD strings so range filters compare lexicographically.
// Decimals are strings to keep exact values.

type employeeDoc struct {
	ID                  string    `bson:"_id"`
	Sigla               string    `bson:"sigla"`
	Name                string    `bson:"name"`
	Email               string    `bson:"email,omitempty"`
	DepartmentID        string    `bson:"department_id,omitempty"`
	Role                string    `bson:"role,omitempty"`
	ContractType        string    `bson:"contract_type"`
	AdmissionDate       string    `bson:"admission_date,omitempty"`
	Active              bool      `bson:"active"`
	AnnualVacationDays  int       `bson:"annual_vacation_days"`
	PreviousYearBalance string    `bson:"previous_year_balance"`
	CreatedAt           time.Time `bson:"created_at"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

func toEmployeeDoc(e absence.Employee) employeeDoc {
	d := employeeDoc{
		ID:                  string(e.ID),
		Sigla:               e.Sigla,
		Name:                e.Name,
		Email:               e.Email,
		DepartmentID:        e.DepartmentID,
		Role:                e.Role,
		ContractType:        string(e.ContractType),
		Active:              e.Active,
		AnnualVacationDays:  e.AnnualVacationDays,
		PreviousYearBalance: e.PreviousYearBalance.Value.String(),
		CreatedAt:           e.CreatedAt,
		UpdatedAt:           e.UpdatedAt,
	}
	if !e.AdmissionDate.IsZero() {
		d.AdmissionDate = e.AdmissionDate.String()
	}
	return d
}

func (d employeeDoc) model() absence.Employee {
	e := absence.Employee{
		ID:                  generic.EmployeeID(d.ID),
		Sigla:               d.Sigla,
		Name:                d.Name,
		Email:               d.Email,
		DepartmentID:        d.DepartmentID,
		Role:                d.Role,
		ContractType:        absence.ContractType(d.ContractType),
		Active:              d.Active,
		AnnualVacationDays:  d.AnnualVacationDays,
		PreviousYearBalance: generic.ParseDays(d.PreviousYearBalance),
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
	if d.AdmissionDate != "" {
		e.AdmissionDate, _ = generic.ParseDate(d.AdmissionDate)
	}
	return e
}

type situationTypeDoc struct {
	ID              string `bson:"_id"`
	Code            string `bson:"code"`
	Name            string `bson:"name"`
	Description     string `bson:"description,omitempty"`
	Category        string `bson:"category"`
	DeductsVacation bool   `bson:"deducts_vacation"`
	DeductionValue  string `bson:"deduction_value"`
	Active          bool   `bson:"active"`
}

func toSituationTypeDoc(t absence.SituationType) situationTypeDoc {
	return situationTypeDoc{
		ID:              string(t.ID),
		Code:            t.Code,
		Name:            t.Name,
		Description:     t.Description,
		Category:        string(t.Category),
		DeductsVacation: t.DeductsVacation,
		DeductionValue:  t.DeductionValue.String(),
		Active:          t.Active,
	}
}

func (d situationTypeDoc) model() (absence.SituationType, error) {
	value, err := decimal.NewFromString(d.DeductionValue)
	if err != nil {
		return absence.SituationType{}, err
	}
	return absence.SituationType{
		ID:              generic.SituationTypeID(d.ID),
		Code:            d.Code,
		Name:            d.Name,
		Description:     d.Description,
		Category:        absence.Category(d.Category),
		DeductsVacation: d.DeductsVacation,
		DeductionValue:  value,
		Active:          d.Active,
	}, nil
}

type situationDoc struct {
	ID              string    `bson:"_id"`
	EmployeeID      string    `bson:"employee_id"`
	SituationTypeID string    `bson:"situation_type_id"`
	StartDate       string    `bson:"start_date"`
	EndDate         string    `bson:"end_date"`
	BusinessDays    string    `bson:"business_days"`
	Status          string    `bson:"status"`
	Notes           string    `bson:"notes,omitempty"`
	CreatedBy       string    `bson:"created_by,omitempty"`
	DecidedBy       string    `bson:"decided_by,omitempty"`
	DecisionReason  string    `bson:"decision_reason,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func toSituationDoc(s absence.Situation) situationDoc {
	return situationDoc{
		ID:              string(s.ID),
		EmployeeID:      string(s.EmployeeID),
		SituationTypeID: string(s.SituationTypeID),
		StartDate:       s.Period.Start.String(),
		EndDate:         s.Period.End.String(),
		BusinessDays:    s.BusinessDays.Value.String(),
		Status:          string(s.Status),
		Notes:           s.Notes,
		CreatedBy:       s.CreatedBy,
		DecidedBy:       s.DecidedBy,
		DecisionReason:  s.DecisionReason,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (d situationDoc) model() (absence.Situation, error) {
	period, err := generic.NewPeriod(d.StartDate, d.EndDate)
	if err != nil {
		return absence.Situation{}, err
	}
	return absence.Situation{
		ID:              generic.SituationID(d.ID),
		EmployeeID:      generic.EmployeeID(d.EmployeeID),
		SituationTypeID: generic.SituationTypeID(d.SituationTypeID),
		Period:          period,
		BusinessDays:    generic.ParseDays(d.BusinessDays),
		Status:          absence.Status(d.Status),
		Notes:           d.Notes,
		CreatedBy:       d.CreatedBy,
		DecidedBy:       d.DecidedBy,
		DecisionReason:  d.DecisionReason,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

type windowDoc struct {
	Start string `bson:"start"`
	End   string `bson:"end"`
}

func toWindowDoc(p *generic.Period) *windowDoc {
	if p == nil {
		return nil
	}
	return &windowDoc{Start: p.Start.String(), End: p.End.String()}
}

func (w *windowDoc) model() (*generic.Period, error) {
	if w == nil {
		return nil, nil
	}
	p, err := generic.NewPeriod(w.Start, w.End)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Scope and sub-rules are embedded in the rule document.
type ruleDoc struct {
	ID            string       `bson:"_id"`
	Name          string       `bson:"name"`
	Description   string       `bson:"description,omitempty"`
	MaxAbsent     int          `bson:"max_absent"`
	Priority      int          `bson:"priority"`
	Active        bool         `bson:"active"`
	DepartmentIDs []string     `bson:"department_ids,omitempty"`
	Roles         []string     `bson:"roles,omitempty"`
	EmployeeIDs   []string     `bson:"employee_ids,omitempty"`
	Categories    []string     `bson:"categories,omitempty"`
	Window        *windowDoc   `bson:"window,omitempty"`
	SubRules      []subRuleDoc `bson:"sub_rules,omitempty"`
	CreatedAt     time.Time    `bson:"created_at"`
	UpdatedAt     time.Time    `bson:"updated_at"`
}

type subRuleDoc struct {
	ID          string     `bson:"id"`
	EmployeeIDs []string   `bson:"employee_ids"`
	MaxAbsent   int        `bson:"max_absent"`
	Description string     `bson:"description,omitempty"`
	Window      *windowDoc `bson:"window,omitempty"`
	Active      bool       `bson:"active"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func toRuleDoc(r absence.ConflictRule) ruleDoc {
	d := ruleDoc{
		ID:            string(r.ID),
		Name:          r.Name,
		Description:   r.Description,
		MaxAbsent:     r.MaxAbsent,
		Priority:      r.Priority,
		Active:        r.Active,
		DepartmentIDs: r.Scope.DepartmentIDs,
		Roles:         r.Scope.Roles,
		EmployeeIDs:   employeeStrings(r.Scope.EmployeeIDs),
		Window:        toWindowDoc(r.Window),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	for _, c := range r.Categories {
		d.Categories = append(d.Categories, string(c))
	}
	for _, s := range r.SubRules {
		d.SubRules = append(d.SubRules, subRuleDoc{
			ID:          string(s.ID),
			EmployeeIDs: employeeStrings(s.EmployeeIDs),
			MaxAbsent:   s.MaxAbsent,
			Description: s.Description,
			Window:      toWindowDoc(s.Window),
			Active:      s.Active,
			CreatedAt:   s.CreatedAt,
		})
	}
	return d
}

func (d ruleDoc) model() (absence.ConflictRule, error) {
	window, err := d.Window.model()
	if err != nil {
		return absence.ConflictRule{}, err
	}
	r := absence.ConflictRule{
		ID:          generic.RuleID(d.ID),
		Name:        d.Name,
		Description: d.Description,
		MaxAbsent:   d.MaxAbsent,
		Priority:    d.Priority,
		Active:      d.Active,
		Scope: conflict.Scope{
			DepartmentIDs: d.DepartmentIDs,
			Roles:         d.Roles,
			EmployeeIDs:   employeeIDs(d.EmployeeIDs),
		},
		Window:    window,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, c := range d.Categories {
		r.Categories = append(r.Categories, absence.Category(c))
	}
	for _, s := range d.SubRules {
		sw, err := s.Window.model()
		if err != nil {
			return absence.ConflictRule{}, err
		}
		r.SubRules = append(r.SubRules, absence.ConflictSubRule{
			ID:          generic.SubRuleID(s.ID),
			RuleID:      r.ID,
			EmployeeIDs: employeeIDs(s.EmployeeIDs),
			MaxAbsent:   s.MaxAbsent,
			Description: s.Description,
			Window:      sw,
			Active:      s.Active,
			CreatedAt:   s.CreatedAt,
		})
	}
	return r, nil
}

type holidayDoc struct {
	ID        string `bson:"_id"`
	Date      string `bson:"date"`
	Name      string `bson:"name"`
	Recurring bool   `bson:"recurring"`
}

type auditRunDoc struct {
	ID          string    `bson:"_id"`
	WindowStart string    `bson:"window_start"`
	WindowEnd   string    `bson:"window_end"`
	Checked     int       `bson:"checked"`
	Conflicting int       `bson:"conflicting"`
	Failed      int       `bson:"failed"`
	Error       string    `bson:"error,omitempty"`
	StartedAt   time.Time `bson:"started_at"`
	CompletedAt time.Time `bson:"completed_at"`
}

type carryOverDoc struct {
	EmployeeID  string `bson:"employee_id"`
	Previous    string `bson:"previous"`
	Entitlement string `bson:"entitlement"`
	Used        string `bson:"used"`
	Carried     string `bson:"carried"`
}

type yearTransitionDoc struct {
	Year             int            `bson:"_id"`
	EmployeesUpdated int            `bson:"employees_updated"`
	CarryOvers       []carryOverDoc `bson:"carry_overs"`
	RanAt            time.Time      `bson:"ran_at"`
}

func yearTransitionToDoc(run absence.YearTransitionRun) yearTransitionDoc {
	d := yearTransitionDoc{Year: run.Year, EmployeesUpdated: run.EmployeesUpdated, RanAt: run.RanAt}
	for _, c := range run.CarryOvers {
		d.CarryOvers = append(d.CarryOvers, carryOverDoc{
			EmployeeID:  string(c.EmployeeID),
			Previous:    c.Previous.Value.String(),
			Entitlement: c.Entitlement.Value.String(),
			Used:        c.Used.Value.String(),
			Carried:     c.Carried.Value.String(),
		})
	}
	return d
}

func (d yearTransitionDoc) toRun() absence.YearTransitionRun {
	run := absence.YearTransitionRun{Year: d.Year, EmployeesUpdated: d.EmployeesUpdated, RanAt: d.RanAt}
	for _, c := range d.CarryOvers {
		run.CarryOvers = append(run.CarryOvers, absence.CarryOver{
			EmployeeID:  generic.EmployeeID(c.EmployeeID),
			Previous:    generic.ParseDays(c.Previous),
			Entitlement: generic.ParseDays(c.Entitlement),
			Used:        generic.ParseDays(c.Used),
			Carried:     generic.ParseDays(c.Carried),
		})
	}
	return run
}

func employeeStrings(ids []generic.EmployeeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func employeeIDs(ids []string) []generic.EmployeeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]generic.EmployeeID, len(ids))
	for i, id := range ids {
		out[i] = generic.EmployeeID(id)
	}
	return out
}
