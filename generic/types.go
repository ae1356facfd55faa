/*
Package generic provides the domain-agnostic primitives of the absence engine.

PURPOSE:
  Calendar days, closed date intervals, holiday calendars and day amounts
  shared by the conflict evaluator, the HR domain and the stores.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: A decimal quantity of days (half days are 0.5)
  - Identifiers: Type-safe ids for employees, rules and situations

DESIGN PRINCIPLES:
  1. Closed intervals: a period includes both its start and end day
  2. Precision: day amounts use decimal.Decimal to avoid float drift
  3. Type Safety: strong typing for ids prevents mixing employees and rules

SEE ALSO:
  - time.go: TimePoint and holiday calendars
  - period.go: Period overlap and intersection
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Decimal day quantities
// =============================================================================

// Days is an amount of days. Half-day situations deduct 0.5.
type Days struct {
	Value decimal.Decimal
}

func NewDays(value float64) Days          { return Days{Value: decimal.NewFromFloat(value)} }
func NewDaysFromInt(value int) Days       { return Days{Value: decimal.NewFromInt(int64(value))} }
func ZeroDays() Days                      { return Days{Value: decimal.Zero} }
func (d Days) Add(o Days) Days            { return Days{Value: d.Value.Add(o.Value)} }
func (d Days) Sub(o Days) Days            { return Days{Value: d.Value.Sub(o.Value)} }
func (d Days) Mul(s decimal.Decimal) Days { return Days{Value: d.Value.Mul(s)} }
func (d Days) IsNegative() bool           { return d.Value.IsNegative() }
func (d Days) IsZero() bool               { return d.Value.IsZero() }
func (d Days) Equal(o Days) bool          { return d.Value.Equal(o.Value) }
func (d Days) String() string             { return d.Value.String() }

// Float64 is for JSON responses; precision loss is acceptable for display.
func (d Days) Float64() float64 {
	f, _ := d.Value.Float64()
	return f
}

// ParseDays parses a decimal string; invalid input yields zero.
func ParseDays(s string) Days {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroDays()
	}
	return Days{Value: v}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type RuleID string
type SubRuleID string
type SituationID string
type SituationTypeID string
