/*
Package sqlite provides a SQLite-backed implementation of absence.Store.

PURPOSE:
  Persists employees, situation types, absences (employee situations),
  conflict rules with their scopes and sub-rules, holidays and audit runs.
  In production the same schema works on PostgreSQL with minor dialect
  changes.

SOFT LIFECYCLE:
  employee_situations rows are never deleted by the service. Rejection and
  cancellation update the status column. Conflict rules may be deleted; their
  scope and sub-rule rows go with them (ON DELETE CASCADE).

KEY TABLES:
  employees:                     HR records (department, role, contract)
  situation_types:               Absence catalogue (H, H1, F, S, ...)
  employee_situations:           Absences with status and business days
  vacation_conflict_rules:       Coverage rules
  vacation_conflict_rule_scope:  (rule, kind, value) scope rows
  vacation_conflict_sub_rules:   Stricter limits for listed employees
  holidays:                      Exact-date and recurring holidays
  conflict_audit_runs:           Background re-evaluation history
  vacation_year_transitions:     One carry-over run per year (JSON details)

DATES:
  Calendar dates are stored as YYYY-MM-DD text so that range predicates
  compare lexicographically. Timestamps are RFC3339. Decimals are text.

OVERLAP QUERY (hot path):
  start_date <= :window_end AND end_date >= :window_start
  served by idx_situations_dates.

CONCURRENCY:
  A sync.RWMutex serializes writers. WithTx holds the write lock for the
  whole transaction, so the conflict check and the insert it guards see the
  same occupancy. The pool is limited to one connection, which also keeps
  ":memory:" databases shared across calls.

USAGE:
  store, err := sqlite.New("./data/absence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := absence.NewService(store, logger)

SEE ALSO:
  - absence/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/mongo: MongoDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/conflict"
	"github.com/warp/absence-engine/generic"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements absence.Store using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	mu *sync.RWMutex

	// inTx marks the transactional view handed to WithTx callbacks; the
	// write lock is already held so locking becomes a no-op.
	inTx bool
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		sigla TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		email TEXT,
		department_id TEXT,
		role TEXT,
		contract_type TEXT NOT NULL DEFAULT 'contract',
		admission_date TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		annual_vacation_days INTEGER NOT NULL DEFAULT 0,
		previous_year_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_department
		ON employees(department_id);

	CREATE TABLE IF NOT EXISTS situation_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		deducts_vacation INTEGER NOT NULL DEFAULT 0,
		deduction_value TEXT NOT NULL DEFAULT '1',
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Absences. Never deleted; status carries the lifecycle.
	CREATE TABLE IF NOT EXISTS employee_situations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		situation_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		business_days TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		notes TEXT,
		created_by TEXT,
		decided_by TEXT,
		decision_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_date <= end_date)
	);

	-- Occupancy lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_situations_dates
		ON employee_situations(start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_situations_employee
		ON employee_situations(employee_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_situations_status
		ON employee_situations(status);

	CREATE TABLE IF NOT EXISTS vacation_conflict_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		max_absent INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 100,
		active INTEGER NOT NULL DEFAULT 1,
		categories_json TEXT NOT NULL DEFAULT '[]',
		window_start TEXT,
		window_end TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- kind is 'department', 'role' or 'employee'
	CREATE TABLE IF NOT EXISTS vacation_conflict_rule_scope (
		rule_id TEXT NOT NULL REFERENCES vacation_conflict_rules(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (rule_id, kind, value)
	);

	CREATE TABLE IF NOT EXISTS vacation_conflict_sub_rules (
		id TEXT NOT NULL,
		rule_id TEXT NOT NULL REFERENCES vacation_conflict_rules(id) ON DELETE CASCADE,
		employee_ids_json TEXT NOT NULL,
		max_absent INTEGER NOT NULL,
		description TEXT,
		window_start TEXT,
		window_end TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		PRIMARY KEY (rule_id, id)
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date
		ON holidays(date);

	CREATE TABLE IF NOT EXISTS conflict_audit_runs (
		id TEXT PRIMARY KEY,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		checked INTEGER NOT NULL,
		conflicting INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vacation_year_transitions (
		year INTEGER PRIMARY KEY,
		employees_updated INTEGER NOT NULL,
		carry_overs TEXT NOT NULL DEFAULT '[]',
		ran_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store absence.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Store{db: s.db, q: sqlTx, mu: s.mu, inTx: true}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// atomic runs fn in the current transaction, or in a new one.
// Callers hold the write lock.
func (s *Store) atomic(ctx context.Context, fn func(q querier) error) error {
	if s.inTx {
		return fn(s.q)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()
	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, sigla, name, email, department_id, role, contract_type, admission_date,
	active, annual_vacation_days, previous_year_balance, created_at, updated_at`

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e absence.Employee) error {
	defer s.lock()()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sigla = excluded.sigla,
			name = excluded.name,
			email = excluded.email,
			department_id = excluded.department_id,
			role = excluded.role,
			contract_type = excluded.contract_type,
			admission_date = excluded.admission_date,
			active = excluded.active,
			annual_vacation_days = excluded.annual_vacation_days,
			previous_year_balance = excluded.previous_year_balance,
			updated_at = excluded.updated_at
	`
	_, err := s.q.ExecContext(ctx, query,
		e.ID, e.Sigla, e.Name, nullString(e.Email), nullString(e.DepartmentID), nullString(e.Role),
		string(e.ContractType), nullDate(e.AdmissionDate), e.Active, e.AnnualVacationDays,
		daysText(e.PreviousYearBalance), formatTime(e.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*absence.Employee, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: employee %s", generic.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmployees returns all employees ordered by id.
func (s *Store) ListEmployees(ctx context.Context) ([]absence.Employee, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []absence.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(sc scanner) (absence.Employee, error) {
	var (
		e                           absence.Employee
		email, dept, role, admitted sql.NullString
		contract, balance           string
		createdAt, updatedAt        string
	)
	err := sc.Scan(&e.ID, &e.Sigla, &e.Name, &email, &dept, &role, &contract, &admitted,
		&e.Active, &e.AnnualVacationDays, &balance, &createdAt, &updatedAt)
	if err != nil {
		return e, err
	}
	e.Email = email.String
	e.DepartmentID = dept.String
	e.Role = role.String
	e.ContractType = absence.ContractType(contract)
	if admitted.Valid {
		e.AdmissionDate, _ = generic.ParseDate(admitted.String)
	}
	e.PreviousYearBalance = generic.ParseDays(balance)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// SITUATION TYPE STORE
// =============================================================================

// SaveSituationType inserts or updates a situation type.
func (s *Store) SaveSituationType(ctx context.Context, t absence.SituationType) error {
	defer s.lock()()

	query := `
		INSERT INTO situation_types (id, code, name, description, category, deducts_vacation, deduction_value, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			deducts_vacation = excluded.deducts_vacation,
			deduction_value = excluded.deduction_value,
			active = excluded.active
	`
	_, err := s.q.ExecContext(ctx, query,
		t.ID, t.Code, t.Name, nullString(t.Description), string(t.Category),
		t.DeductsVacation, t.DeductionValue.String(), t.Active,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: situation type code %s", generic.ErrDuplicateID, t.Code)
		}
		return fmt.Errorf("failed to save situation type: %w", err)
	}
	return nil
}

// ListSituationTypes returns all situation types ordered by code.
func (s *Store) ListSituationTypes(ctx context.Context) ([]absence.SituationType, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, code, name, description, category, deducts_vacation, deduction_value, active
		FROM situation_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []absence.SituationType
	for rows.Next() {
		var (
			t           absence.SituationType
			description sql.NullString
			category    string
			value       string
		)
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &description, &category, &t.DeductsVacation, &value, &t.Active); err != nil {
			return nil, err
		}
		t.Description = description.String
		t.Category = absence.Category(category)
		t.DeductionValue, err = decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("situation type %s deduction value: %w", t.ID, err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// =============================================================================
// SITUATION STORE
// =============================================================================

const situationColumns = `id, employee_id, situation_type_id, start_date, end_date, business_days,
	status, notes, created_by, decided_by, decision_reason, created_at, updated_at`

// CreateSituation inserts a new situation.
func (s *Store) CreateSituation(ctx context.Context, sit absence.Situation) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employee_situations (`+situationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sit.ID, sit.EmployeeID, sit.SituationTypeID,
		sit.Period.Start.String(), sit.Period.End.String(), daysText(sit.BusinessDays),
		string(sit.Status), nullString(sit.Notes), nullString(sit.CreatedBy),
		nullString(sit.DecidedBy), nullString(sit.DecisionReason),
		formatTime(sit.CreatedAt), formatTime(sit.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: situation %s", generic.ErrDuplicateID, sit.ID)
		}
		return fmt.Errorf("failed to create situation: %w", err)
	}
	return nil
}

// UpdateSituation replaces the mutable columns of a situation.
func (s *Store) UpdateSituation(ctx context.Context, sit absence.Situation) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, `
		UPDATE employee_situations SET
			situation_type_id = ?, start_date = ?, end_date = ?, business_days = ?,
			status = ?, notes = ?, decided_by = ?, decision_reason = ?, updated_at = ?
		WHERE id = ?`,
		sit.SituationTypeID, sit.Period.Start.String(), sit.Period.End.String(), daysText(sit.BusinessDays),
		string(sit.Status), nullString(sit.Notes), nullString(sit.DecidedBy), nullString(sit.DecisionReason),
		formatTime(sit.UpdatedAt), sit.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update situation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrSituationNotFound, sit.ID)
	}
	return nil
}

// GetSituation retrieves a situation by ID.
func (s *Store) GetSituation(ctx context.Context, id generic.SituationID) (*absence.Situation, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx, "SELECT "+situationColumns+" FROM employee_situations WHERE id = ?", id)
	sit, err := scanSituation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrSituationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sit, nil
}

// ListSituations returns situations matching filter, ordered by start date, employee and id.
func (s *Store) ListSituations(ctx context.Context, filter absence.SituationFilter) ([]absence.Situation, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeID)
	}
	if filter.Window != nil {
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, filter.Window.End.String(), filter.Window.Start.String())
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}

	query := "SELECT " + situationColumns + " FROM employee_situations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, employee_id, id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list situations: %w", err)
	}
	defer rows.Close()

	var out []absence.Situation
	for rows.Next() {
		sit, err := scanSituation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sit)
	}
	return out, rows.Err()
}

func scanSituation(sc scanner) (absence.Situation, error) {
	var (
		sit                                 absence.Situation
		start, end, days, status            string
		notes, createdBy, decidedBy, reason sql.NullString
		createdAt, updatedAt                string
	)
	err := sc.Scan(&sit.ID, &sit.EmployeeID, &sit.SituationTypeID, &start, &end, &days,
		&status, &notes, &createdBy, &decidedBy, &reason, &createdAt, &updatedAt)
	if err != nil {
		return sit, err
	}
	if sit.Period, err = generic.NewPeriod(start, end); err != nil {
		return sit, fmt.Errorf("situation %s: %w", sit.ID, err)
	}
	sit.BusinessDays = generic.ParseDays(days)
	sit.Status = absence.Status(status)
	sit.Notes = notes.String
	sit.CreatedBy = createdBy.String
	sit.DecidedBy = decidedBy.String
	sit.DecisionReason = reason.String
	sit.CreatedAt = parseTime(createdAt)
	sit.UpdatedAt = parseTime(updatedAt)
	return sit, nil
}

// =============================================================================
// RULE STORE
// =============================================================================

// SaveRule inserts or replaces a rule with its scope rows and sub-rules.
func (s *Store) SaveRule(ctx context.Context, r absence.ConflictRule) error {
	defer s.lock()()

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return err
	}
	windowStart, windowEnd := nullWindow(r.Window)

	return s.atomic(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO vacation_conflict_rules
			(id, name, description, max_absent, priority, active, categories_json, window_start, window_end, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				max_absent = excluded.max_absent,
				priority = excluded.priority,
				active = excluded.active,
				categories_json = excluded.categories_json,
				window_start = excluded.window_start,
				window_end = excluded.window_end,
				updated_at = excluded.updated_at`,
			r.ID, r.Name, nullString(r.Description), r.MaxAbsent, r.Priority, r.Active,
			string(categories), windowStart, windowEnd, formatTime(r.CreatedAt), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to save rule: %w", err)
		}

		// Scope and sub-rules are replaced wholesale.
		if _, err := q.ExecContext(ctx, "DELETE FROM vacation_conflict_rule_scope WHERE rule_id = ?", r.ID); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM vacation_conflict_sub_rules WHERE rule_id = ?", r.ID); err != nil {
			return err
		}

		insertScope := func(kind, value string) error {
			_, err := q.ExecContext(ctx,
				"INSERT OR IGNORE INTO vacation_conflict_rule_scope (rule_id, kind, value) VALUES (?, ?, ?)",
				r.ID, kind, value)
			return err
		}
		for _, d := range r.Scope.DepartmentIDs {
			if err := insertScope(scopeDepartment, d); err != nil {
				return err
			}
		}
		for _, role := range r.Scope.Roles {
			if err := insertScope(scopeRole, role); err != nil {
				return err
			}
		}
		for _, id := range r.Scope.EmployeeIDs {
			if err := insertScope(scopeEmployee, string(id)); err != nil {
				return err
			}
		}

		for _, sub := range r.SubRules {
			ids, err := json.Marshal(sub.EmployeeIDs)
			if err != nil {
				return err
			}
			created := sub.CreatedAt
			if created.IsZero() {
				created = now
			}
			ws, we := nullWindow(sub.Window)
			_, err = q.ExecContext(ctx, `
				INSERT INTO vacation_conflict_sub_rules
				(id, rule_id, employee_ids_json, max_absent, description, window_start, window_end, active, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sub.ID, r.ID, string(ids), sub.MaxAbsent, nullString(sub.Description), ws, we, sub.Active, formatTime(created),
			)
			if err != nil {
				if isUniqueConstraintError(err) {
					return fmt.Errorf("%w: sub-rule %s", generic.ErrDuplicateID, sub.ID)
				}
				return fmt.Errorf("failed to save sub-rule: %w", err)
			}
		}
		return nil
	})
}

const (
	scopeDepartment = "department"
	scopeRole       = "role"
	scopeEmployee   = "employee"
)

// GetRule retrieves a rule with its scope and sub-rules.
func (s *Store) GetRule(ctx context.Context, id generic.RuleID) (*absence.ConflictRule, error) {
	defer s.rlock()()

	rules, err := s.queryRules(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
	}
	return &rules[0], nil
}

// ListRules returns rules ordered by priority then id.
func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]absence.ConflictRule, error) {
	defer s.rlock()()

	if activeOnly {
		return s.queryRules(ctx, "WHERE active = 1")
	}
	return s.queryRules(ctx, "")
}

// DeleteRule removes a rule; scope rows and sub-rules cascade.
func (s *Store) DeleteRule(ctx context.Context, id generic.RuleID) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, "DELETE FROM vacation_conflict_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, where string, args ...any) ([]absence.ConflictRule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, description, max_absent, priority, active, categories_json,
		       window_start, window_end, created_at, updated_at
		FROM vacation_conflict_rules `+where+`
		ORDER BY priority, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	var rules []absence.ConflictRule
	for rows.Next() {
		var (
			r                      absence.ConflictRule
			description            sql.NullString
			categories             string
			windowStart, windowEnd sql.NullString
			createdAt, updatedAt   string
		)
		if err := rows.Scan(&r.ID, &r.Name, &description, &r.MaxAbsent, &r.Priority, &r.Active,
			&categories, &windowStart, &windowEnd, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Description = description.String
		if err := json.Unmarshal([]byte(categories), &r.Categories); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s categories: %w", r.ID, err)
		}
		if r.Window, err = parseWindow(windowStart, windowEnd); err != nil {
			rows.Close()
			return nil, fmt.Errorf("rule %s window: %w", r.ID, err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Single connection: the cursor must be closed before the next query.
	rows.Close()

	for i := range rules {
		if err := s.loadRuleChildren(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (s *Store) loadRuleChildren(ctx context.Context, r *absence.ConflictRule) error {
	rows, err := s.q.QueryContext(ctx,
		"SELECT kind, value FROM vacation_conflict_rule_scope WHERE rule_id = ? ORDER BY kind, value", r.ID)
	if err != nil {
		return err
	}
	scope := conflict.Scope{}
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			rows.Close()
			return err
		}
		switch kind {
		case scopeDepartment:
			scope.DepartmentIDs = append(scope.DepartmentIDs, value)
		case scopeRole:
			scope.Roles = append(scope.Roles, value)
		case scopeEmployee:
			scope.EmployeeIDs = append(scope.EmployeeIDs, generic.EmployeeID(value))
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	r.Scope = scope

	rows, err = s.q.QueryContext(ctx, `
		SELECT id, employee_ids_json, max_absent, description, window_start, window_end, active, created_at
		FROM vacation_conflict_sub_rules WHERE rule_id = ? ORDER BY id`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sub                    absence.ConflictSubRule
			ids                    string
			description            sql.NullString
			windowStart, windowEnd sql.NullString
			createdAt              string
		)
		if err := rows.Scan(&sub.ID, &ids, &sub.MaxAbsent, &description, &windowStart, &windowEnd, &sub.Active, &createdAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(ids), &sub.EmployeeIDs); err != nil {
			return fmt.Errorf("sub-rule %s employees: %w", sub.ID, err)
		}
		if sub.Window, err = parseWindow(windowStart, windowEnd); err != nil {
			return fmt.Errorf("sub-rule %s window: %w", sub.ID, err)
		}
		sub.RuleID = r.ID
		sub.Description = description.String
		sub.CreatedAt = parseTime(createdAt)
		r.SubRules = append(r.SubRules, sub)
	}
	return rows.Err()
}

// =============================================================================
// HOLIDAY STORE
// =============================================================================

// SaveHoliday inserts or updates a holiday.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring`,
		h.ID, h.Date.String(), h.Name, h.Recurring,
	)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: holiday %s", generic.ErrEntityNotFound, id)
	}
	return nil
}

// ListHolidays returns every holiday ordered by date.
func (s *Store) ListHolidays(ctx context.Context) ([]generic.Holiday, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date string
		)
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = generic.ParseDate(date); err != nil {
			return nil, fmt.Errorf("holiday %s: %w", h.ID, err)
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// AUDIT STORE
// =============================================================================

// SaveAuditRun records a finished audit.
func (s *Store) SaveAuditRun(ctx context.Context, run absence.AuditRun) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO conflict_audit_runs
		(id, window_start, window_end, checked, conflicting, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Window.Start.String(), run.Window.End.String(),
		run.Checked, run.Conflicting, run.Failed, nullString(run.Error),
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save audit run: %w", err)
	}
	return nil
}

// ListAuditRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]absence.AuditRun, error) {
	defer s.rlock()()

	query := `
		SELECT id, window_start, window_end, checked, conflicting, failed, error, started_at, completed_at
		FROM conflict_audit_runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []absence.AuditRun
	for rows.Next() {
		var (
			run                    absence.AuditRun
			start, end             string
			runErr                 sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(&run.ID, &start, &end, &run.Checked, &run.Conflicting, &run.Failed,
			&runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		if run.Window, err = generic.NewPeriod(start, end); err != nil {
			return nil, fmt.Errorf("audit run %s: %w", run.ID, err)
		}
		run.Error = runErr.String
		run.StartedAt = parseTime(startedAt)
		run.CompletedAt = parseTime(completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// YEAR TRANSITIONS
// =============================================================================

// SaveYearTransition records a carry-over run. The year is the primary key.
func (s *Store) SaveYearTransition(ctx context.Context, run absence.YearTransitionRun) error {
	defer s.lock()()

	details, err := json.Marshal(run.CarryOvers)
	if err != nil {
		return fmt.Errorf("failed to encode carry-overs: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO vacation_year_transitions (year, employees_updated, carry_overs, ran_at)
		VALUES (?, ?, ?, ?)`,
		run.Year, run.EmployeesUpdated, string(details), formatTime(run.RanAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: year transition %d", generic.ErrDuplicateID, run.Year)
		}
		return fmt.Errorf("failed to save year transition: %w", err)
	}
	return nil
}

const yearTransitionColumns = `year, employees_updated, carry_overs, ran_at`

func (s *Store) GetYearTransition(ctx context.Context, year int) (*absence.YearTransitionRun, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx,
		`SELECT `+yearTransitionColumns+` FROM vacation_year_transitions WHERE year = ?`, year)
	run, err := scanYearTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", generic.ErrYearTransitionNotFound, year)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListYearTransitions returns runs newest year first.
func (s *Store) ListYearTransitions(ctx context.Context) ([]absence.YearTransitionRun, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+yearTransitionColumns+` FROM vacation_year_transitions ORDER BY year DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []absence.YearTransitionRun
	for rows.Next() {
		run, err := scanYearTransition(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanYearTransition(sc scanner) (*absence.YearTransitionRun, error) {
	var (
		run     absence.YearTransitionRun
		details string
		ranAt   string
	)
	if err := sc.Scan(&run.Year, &run.EmployeesUpdated, &details, &ranAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(details), &run.CarryOvers); err != nil {
		return nil, fmt.Errorf("year transition %d: %w", run.Year, err)
	}
	run.RanAt = parseTime(ranAt)
	return &run, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	tables := []string{
		"employee_situations",
		"vacation_conflict_sub_rules",
		"vacation_conflict_rule_scope",
		"vacation_conflict_rules",
		"holidays",
		"conflict_audit_runs",
		"vacation_year_transitions",
		"situation_types",
		"employees",
	}
	return s.atomic(ctx, func(q querier) error {
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func nullWindow(p *generic.Period) (sql.NullString, sql.NullString) {
	if p == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullDate(p.Start), nullDate(p.End)
}

func parseWindow(start, end sql.NullString) (*generic.Period, error) {
	if !start.Valid || !end.Valid {
		return nil, nil
	}
	p, err := generic.NewPeriod(start.String, end.String)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func daysText(d generic.Days) string {
	return d.Value.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ absence.Store = (*Store)(nil)
