// Package memory provides an in-memory absence.Store for tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	state *state
	inTx  bool
}

type state struct {
	mu   sync.RWMutex
	txMu sync.Mutex // held by WithTx and by writes outside a transaction
	data *data
}

type data struct {
	employees  map[generic.EmployeeID]absence.Employee
	types      map[generic.SituationTypeID]absence.SituationType
	situations map[generic.SituationID]absence.Situation
	rules      map[generic.RuleID]absence.ConflictRule
	holidays   map[string]generic.Holiday
	auditRuns  []absence.AuditRun
	years      map[int]absence.YearTransitionRun
}

func newData() *data {
	return &data{
		employees:  make(map[generic.EmployeeID]absence.Employee),
		types:      make(map[generic.SituationTypeID]absence.SituationType),
		situations: make(map[generic.SituationID]absence.Situation),
		rules:      make(map[generic.RuleID]absence.ConflictRule),
		holidays:   make(map[string]generic.Holiday),
		years:      make(map[int]absence.YearTransitionRun),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.employees {
		c.employees[k] = v
	}
	for k, v := range d.types {
		c.types[k] = v
	}
	for k, v := range d.situations {
		c.situations[k] = v
	}
	for k, v := range d.rules {
		c.rules[k] = cloneRule(v)
	}
	for k, v := range d.holidays {
		c.holidays[k] = v
	}
	c.auditRuns = append([]absence.AuditRun(nil), d.auditRuns...)
	for k, v := range d.years {
		c.years[k] = v
	}
	return c
}

func New() *Memory {
	return &Memory{state: &state{data: newData()}}
}

// write runs fn under the write lock, serialized with transactions.
func (m *Memory) write(fn func(d *data) error) error {
	if !m.inTx {
		m.state.txMu.Lock()
		defer m.state.txMu.Unlock()
	}
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return fn(m.state.data)
}

func (m *Memory) read(fn func(d *data)) {
	m.state.mu.RLock()
	defer m.state.mu.RUnlock()
	fn(m.state.data)
}

// WithTx serializes fn against other transactions and writes; on error the
// data is restored to the state before fn ran.
func (m *Memory) WithTx(ctx context.Context, fn func(absence.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.state.txMu.Lock()
	defer m.state.txMu.Unlock()

	m.state.mu.RLock()
	snapshot := m.state.data.clone()
	m.state.mu.RUnlock()

	if err := fn(&Memory{state: m.state, inTx: true}); err != nil {
		m.state.mu.Lock()
		m.state.data = snapshot
		m.state.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	return m.write(func(d *data) error {
		*d = *newData()
		return nil
	})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e absence.Employee) error {
	return m.write(func(d *data) error {
		d.employees[e.ID] = e
		return nil
	})
}

func (m *Memory) GetEmployee(_ context.Context, id generic.EmployeeID) (*absence.Employee, error) {
	var (
		e  absence.Employee
		ok bool
	)
	m.read(func(d *data) { e, ok = d.employees[id] })
	if !ok {
		return nil, fmt.Errorf("%w: employee %s", generic.ErrEntityNotFound, id)
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]absence.Employee, error) {
	var out []absence.Employee
	m.read(func(d *data) {
		for _, e := range d.employees {
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SITUATION TYPES
// =============================================================================

func (m *Memory) SaveSituationType(_ context.Context, t absence.SituationType) error {
	return m.write(func(d *data) error {
		d.types[t.ID] = t
		return nil
	})
}

func (m *Memory) ListSituationTypes(_ context.Context) ([]absence.SituationType, error) {
	var out []absence.SituationType
	m.read(func(d *data) {
		for _, t := range d.types {
			out = append(out, t)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// =============================================================================
// SITUATIONS
// =============================================================================

func (m *Memory) CreateSituation(_ context.Context, s absence.Situation) error {
	return m.write(func(d *data) error {
		if _, exists := d.situations[s.ID]; exists {
			return fmt.Errorf("%w: situation %s", generic.ErrDuplicateID, s.ID)
		}
		d.situations[s.ID] = s
		return nil
	})
}

func (m *Memory) UpdateSituation(_ context.Context, s absence.Situation) error {
	return m.write(func(d *data) error {
		if _, exists := d.situations[s.ID]; !exists {
			return fmt.Errorf("%w: %s", generic.ErrSituationNotFound, s.ID)
		}
		d.situations[s.ID] = s
		return nil
	})
}

func (m *Memory) GetSituation(_ context.Context, id generic.SituationID) (*absence.Situation, error) {
	var (
		s  absence.Situation
		ok bool
	)
	m.read(func(d *data) { s, ok = d.situations[id] })
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrSituationNotFound, id)
	}
	return &s, nil
}

func (m *Memory) ListSituations(_ context.Context, filter absence.SituationFilter) ([]absence.Situation, error) {
	var out []absence.Situation
	m.read(func(d *data) {
		for _, s := range d.situations {
			if filter.Matches(s) {
				out = append(out, s)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		return a.ID < b.ID
	})
	return out, nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) SaveRule(_ context.Context, r absence.ConflictRule) error {
	return m.write(func(d *data) error {
		d.rules[r.ID] = cloneRule(r)
		return nil
	})
}

func (m *Memory) GetRule(_ context.Context, id generic.RuleID) (*absence.ConflictRule, error) {
	var (
		r  absence.ConflictRule
		ok bool
	)
	m.read(func(d *data) {
		r, ok = d.rules[id]
		r = cloneRule(r)
	})
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
	}
	return &r, nil
}

func (m *Memory) ListRules(_ context.Context, activeOnly bool) ([]absence.ConflictRule, error) {
	var out []absence.ConflictRule
	m.read(func(d *data) {
		for _, r := range d.rules {
			if activeOnly && !r.Active {
				continue
			}
			out = append(out, cloneRule(r))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteRule(_ context.Context, id generic.RuleID) error {
	return m.write(func(d *data) error {
		if _, ok := d.rules[id]; !ok {
			return fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
		}
		delete(d.rules, id)
		return nil
	})
}

func cloneRule(r absence.ConflictRule) absence.ConflictRule {
	r.Scope = conflict.Scope{
		DepartmentIDs: append([]string(nil), r.Scope.DepartmentIDs...),
		Roles:         append([]string(nil), r.Scope.Roles...),
		EmployeeIDs:   append([]generic.EmployeeID(nil), r.Scope.EmployeeIDs...),
	}
	r.Categories = append([]absence.Category(nil), r.Categories...)
	subs := make([]absence.ConflictSubRule, len(r.SubRules))
	for i, s := range r.SubRules {
		s.EmployeeIDs = append([]generic.EmployeeID(nil), s.EmployeeIDs...)
		subs[i] = s
	}
	r.SubRules = subs
	return r
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (m *Memory) SaveHoliday(_ context.Context, h generic.Holiday) error {
	return m.write(func(d *data) error {
		d.holidays[h.ID] = h
		return nil
	})
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	return m.write(func(d *data) error {
		if _, ok := d.holidays[id]; !ok {
			return fmt.Errorf("%w: holiday %s", generic.ErrEntityNotFound, id)
		}
		delete(d.holidays, id)
		return nil
	})
}

func (m *Memory) ListHolidays(_ context.Context) ([]generic.Holiday, error) {
	var out []generic.Holiday
	m.read(func(d *data) {
		for _, h := range d.holidays {
			out = append(out, h)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func (m *Memory) SaveAuditRun(_ context.Context, run absence.AuditRun) error {
	return m.write(func(d *data) error {
		d.auditRuns = append(d.auditRuns, run)
		return nil
	})
}

func (m *Memory) ListAuditRuns(_ context.Context, limit int) ([]absence.AuditRun, error) {
	var out []absence.AuditRun
	m.read(func(d *data) {
		for i := len(d.auditRuns) - 1; i >= 0; i-- {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, d.auditRuns[i])
		}
	})
	return out, nil
}

// =============================================================================
// YEAR TRANSITIONS
// =============================================================================

func (m *Memory) SaveYearTransition(_ context.Context, run absence.YearTransitionRun) error {
	return m.write(func(d *data) error {
		if _, ok := d.years[run.Year]; ok {
			return fmt.Errorf("%w: year transition %d", generic.ErrDuplicateID, run.Year)
		}
		run.CarryOvers = append([]absence.CarryOver(nil), run.CarryOvers...)
		d.years[run.Year] = run
		return nil
	})
}

func (m *Memory) GetYearTransition(_ context.Context, year int) (*absence.YearTransitionRun, error) {
	var (
		run absence.YearTransitionRun
		ok  bool
	)
	m.read(func(d *data) { run, ok = d.years[year] })
	if !ok {
		return nil, fmt.Errorf("%w: %d", generic.ErrYearTransitionNotFound, year)
	}
	return &run, nil
}

func (m *Memory) ListYearTransitions(_ context.Context) ([]absence.YearTransitionRun, error) {
	var out []absence.YearTransitionRun
	m.read(func(d *data) {
		for _, run := range d.years {
			out = append(out, run)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	return out, nil
}

var _ absence.Store = (*Memory)(nil)
