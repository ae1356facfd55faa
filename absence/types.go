// Package absence implements vacation and absence management on top of the
// conflict evaluator: employees, situation types, absence records, conflict
// rule records, and the service that ties them to a Store.
package absence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type ContractType string

const (
	ContractEmployee   ContractType = "contract"
	ContractFreelancer ContractType = "freelancer"
)

// DefaultVacationDays is the yearly entitlement when none is set explicitly.
func (c ContractType) DefaultVacationDays() int {
	if c == ContractFreelancer {
		return 11
	}
	return 22
}

// Employee is an HR record. Sigla is the short code shown in calendars.
type Employee struct {
	ID                  generic.EmployeeID
	Sigla               string
	Name                string
	Email               string
	DepartmentID        string
	Role                string
	ContractType        ContractType
	AdmissionDate       generic.TimePoint
	Active              bool
	AnnualVacationDays  int
	PreviousYearBalance generic.Days
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Member is the directory view used for rule scope resolution.
func (e Employee) Member() conflict.Member {
	return conflict.Member{
		ID:         e.ID,
		Department: e.DepartmentID,
		Role:       e.Role,
		Active:     e.Active,
	}
}

// AnnualEntitlement is the full yearly vacation allowance, falling back to
// the contract default.
func (e Employee) AnnualEntitlement() int {
	if e.AnnualVacationDays > 0 {
		return e.AnnualVacationDays
	}
	return e.ContractType.DefaultVacationDays()
}

// Maximum vacation days earned in the admission year, at two per full month.
const (
	AdmissionYearDaysPerMonth = 2
	AdmissionYearMaxDays      = 20
)

// Entitlement is the vacation allowance for year. Nothing is earned before
// the admission year. In the admission year contract employees earn two days
// per full month worked, capped at 20; the first full month is the admission
// month only when admission falls on the 1st. Freelancers always get the flat
// allowance from their admission year on.
func (e Employee) Entitlement(year int) int {
	if e.AdmissionDate.IsZero() {
		return e.AnnualEntitlement()
	}
	admitted := e.AdmissionDate.Year()
	switch {
	case year < admitted:
		return 0
	case e.ContractType == ContractFreelancer || year > admitted:
		return e.AnnualEntitlement()
	}

	first := generic.StartOfMonth(admitted, e.AdmissionDate.Month())
	if e.AdmissionDate.Day() != 1 {
		// month 13 normalises to January of the next year
		first = generic.StartOfMonth(admitted, e.AdmissionDate.Month()+1)
	}
	if first.Year() > year {
		return 0
	}
	months := int(time.December-first.Month()) + 1
	return min(months*AdmissionYearDaysPerMonth, AdmissionYearMaxDays)
}

// VacationEligibilityMonths is how long a contract employee works before
// taking vacation.
const VacationEligibilityMonths = 6

// EligibleFrom is the first day a contract employee may take vacation. ok is
// false when no waiting period applies.
func (e Employee) EligibleFrom() (date generic.TimePoint, ok bool) {
	if e.ContractType != ContractEmployee || e.AdmissionDate.IsZero() {
		return generic.TimePoint{}, false
	}
	return generic.FromTime(e.AdmissionDate.Time.AddDate(0, VacationEligibilityMonths, 0)), true
}

// =============================================================================
// SITUATION TYPE
// =============================================================================

// Category is the tag conflict rules match on.
type Category string

const (
	CategoryVacation     Category = "vacation"
	CategoryAbsence      Category = "absence"
	CategorySick         Category = "sick"
	CategoryParental     Category = "parental"
	CategoryCompensation Category = "compensation"
	CategoryRemote       Category = "remote"
	CategoryHoliday      Category = "holiday"
	CategoryOther        Category = "other"
)

// SituationType is a kind of absence (full-day vacation, morning off, sick leave...).
type SituationType struct {
	ID              generic.SituationTypeID
	Code            string
	Name            string
	Description     string
	Category        Category
	DeductsVacation bool
	DeductionValue  decimal.Decimal // per business day; 0.5 for half days
	Active          bool
}

// Situation type codes.
const (
	CodeVacation          = "H"
	CodeVacationMorning   = "H1"
	CodeVacationAfternoon = "H2"
	CodeAbsence           = "F"
	CodeAbsenceMorning    = "F1"
	CodeAbsenceAfternoon  = "F2"
	CodeSickLeave         = "S"
	CodeParentalLeave     = "M"
	CodeCompensation      = "L"
	CodeRemoteWork        = "W"
	CodeHoliday           = "B"
	CodeSympathy          = "C"
	CodeOther             = "N"
)

// DefaultSituationTypes is the catalogue seeded into an empty store.
func DefaultSituationTypes() []SituationType {
	half := decimal.NewFromFloat(0.5)
	full := decimal.NewFromInt(1)
	t := func(code, name string, cat Category, deducts bool, value decimal.Decimal) SituationType {
		return SituationType{
			ID:              generic.SituationTypeID("st-" + code),
			Code:            code,
			Name:            name,
			Category:        cat,
			DeductsVacation: deducts,
			DeductionValue:  value,
			Active:          true,
		}
	}
	return []SituationType{
		t(CodeVacation, "Vacation", CategoryVacation, true, full),
		t(CodeVacationMorning, "Vacation (morning)", CategoryVacation, true, half),
		t(CodeVacationAfternoon, "Vacation (afternoon)", CategoryVacation, true, half),
		t(CodeAbsence, "Absence", CategoryAbsence, false, full),
		t(CodeAbsenceMorning, "Absence (morning)", CategoryAbsence, false, half),
		t(CodeAbsenceAfternoon, "Absence (afternoon)", CategoryAbsence, false, half),
		t(CodeSickLeave, "Sick leave", CategorySick, false, full),
		t(CodeParentalLeave, "Parental leave", CategoryParental, false, full),
		t(CodeCompensation, "Compensation day", CategoryCompensation, false, full),
		t(CodeRemoteWork, "Remote work", CategoryRemote, false, full),
		t(CodeHoliday, "Company holiday", CategoryHoliday, false, full),
		t(CodeSympathy, "Bereavement", CategoryOther, false, full),
		t(CodeOther, "Other", CategoryOther, false, full),
	}
}

// =============================================================================
// SITUATION - One recorded absence
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses are the statuses that count toward occupancy.
var ActiveStatuses = []Status{StatusPending, StatusApproved}

// CountsTowardOccupancy is true for pending and approved situations.
func (s Status) CountsTowardOccupancy() bool {
	return s == StatusPending || s == StatusApproved
}

// CanTransitionTo encodes the lifecycle. Situations are never deleted.
//
//	pending  -> approved | rejected | cancelled
//	approved -> cancelled
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected || next == StatusCancelled
	case StatusApproved:
		return next == StatusCancelled
	default:
		return false
	}
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Situation is an employee's absence over a closed date interval.
type Situation struct {
	ID              generic.SituationID
	EmployeeID      generic.EmployeeID
	SituationTypeID generic.SituationTypeID
	Period          generic.Period
	BusinessDays    generic.Days
	Status          Status
	Notes           string
	CreatedBy       string
	DecidedBy       string
	DecisionReason  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ForEvaluation converts the record to the evaluator's view.
func (s Situation) ForEvaluation(category Category) conflict.Situation {
	return conflict.Situation{
		ID:         s.ID,
		EmployeeID: s.EmployeeID,
		Type:       string(category),
		Period:     s.Period,
	}
}

// =============================================================================
// CONFLICT RULES - Stored form
// =============================================================================

// ConflictRule is the stored form of a coverage rule, before scope resolution.
type ConflictRule struct {
	ID          generic.RuleID
	Name        string
	Description string
	MaxAbsent   int
	Priority    int
	Active      bool
	Scope       conflict.Scope
	Categories  []Category // empty applies to every category
	Window      *generic.Period
	SubRules    []ConflictSubRule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConflictSubRule is a stricter limit for some of the rule's members.
type ConflictSubRule struct {
	ID          generic.SubRuleID
	RuleID      generic.RuleID
	EmployeeIDs []generic.EmployeeID
	MaxAbsent   int
	Description string
	Window      *generic.Period
	Active      bool
	CreatedAt   time.Time
}

// DefaultRulePriority is used when a rule doesn't set one.
const DefaultRulePriority = 100

// Validate checks the record can be evaluated.
func (r ConflictRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", generic.ErrInvalidRule)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: rule %s has no name", generic.ErrInvalidRule, r.ID)
	}
	if r.MaxAbsent < 0 {
		return fmt.Errorf("%w: rule %s max_absent must be >= 0", generic.ErrInvalidRule, r.ID)
	}
	if r.Window != nil {
		if err := r.Window.Validate(); err != nil {
			return fmt.Errorf("%w: rule %s window: %v", generic.ErrInvalidRule, r.ID, err)
		}
	}
	seen := make(map[generic.SubRuleID]bool)
	for _, sub := range r.SubRules {
		if sub.ID == "" {
			return fmt.Errorf("%w: rule %s has a sub-rule without id", generic.ErrInvalidRule, r.ID)
		}
		if seen[sub.ID] {
			return fmt.Errorf("%w: rule %s repeats sub-rule %s", generic.ErrInvalidRule, r.ID, sub.ID)
		}
		seen[sub.ID] = true
		if sub.MaxAbsent < 0 {
			return fmt.Errorf("%w: sub-rule %s max_absent must be >= 0", generic.ErrInvalidRule, sub.ID)
		}
		if len(sub.EmployeeIDs) == 0 {
			return fmt.Errorf("%w: sub-rule %s has no employees", generic.ErrInvalidRule, sub.ID)
		}
		if sub.Window != nil {
			if err := sub.Window.Validate(); err != nil {
				return fmt.Errorf("%w: sub-rule %s window: %v", generic.ErrInvalidRule, sub.ID, err)
			}
		}
	}
	return nil
}

// Definition converts the record for scope resolution. Inactive sub-rules are left out.
func (r ConflictRule) Definition() conflict.RuleDefinition {
	categories := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		categories[i] = string(c)
	}
	def := conflict.RuleDefinition{
		Rule: conflict.Rule{
			ID:             r.ID,
			Name:           r.Name,
			Description:    r.Description,
			MaxAbsent:      r.MaxAbsent,
			Priority:       r.Priority,
			SituationTypes: categories,
			Window:         r.Window,
		},
		Scope: r.Scope,
	}
	for _, sub := range r.SubRules {
		if !sub.Active {
			continue
		}
		def.SubRules = append(def.SubRules, conflict.SubRuleDefinition{
			SubRule: conflict.SubRule{
				ID:          sub.ID,
				Description: sub.Description,
				MaxAbsent:   sub.MaxAbsent,
				Window:      sub.Window,
			},
			Scope: conflict.Scope{EmployeeIDs: sub.EmployeeIDs},
		})
	}
	return def
}

// NextSubRuleIndex is one past the highest "<rule>-sub-<n>" suffix in use,
// so generated ids never reuse a number freed by a removal.
func (r ConflictRule) NextSubRuleIndex() int {
	prefix := string(r.ID) + "-sub-"
	next := len(r.SubRules) + 1
	for _, sub := range r.SubRules {
		suffix, found := strings.CutPrefix(string(sub.ID), prefix)
		if !found {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// NextSubRuleID is the generated id for a sub-rule added without one.
func (r ConflictRule) NextSubRuleID() generic.SubRuleID {
	return generic.SubRuleID(fmt.Sprintf("%s-sub-%d", r.ID, r.NextSubRuleIndex()))
}

// SubRule finds a sub-rule by id.
func (r *ConflictRule) SubRule(id generic.SubRuleID) (*ConflictSubRule, bool) {
	for i := range r.SubRules {
		if r.SubRules[i].ID == id {
			return &r.SubRules[i], true
		}
	}
	return nil, false
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

// AuditRun records one background re-evaluation of pending situations.
type AuditRun struct {
	ID          string
	Window      generic.Period
	Checked     int
	Conflicting int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// =============================================================================
// YEAR TRANSITION
// =============================================================================

// MaxCarryOverDays caps the balance carried into the next year.
const MaxCarryOverDays = 20

// CarryOver is one employee's balance moved into a new year.
type CarryOver struct {
	EmployeeID  generic.EmployeeID
	Previous    generic.Days // carried into the closed year
	Entitlement generic.Days
	Used        generic.Days // approved in the closed year
	Carried     generic.Days
}

// YearTransitionRun records the carry-over into Year. There is at most one
// per year.
type YearTransitionRun struct {
	Year             int
	EmployeesUpdated int
	CarryOvers       []CarryOver
	RanAt            time.Time
}
