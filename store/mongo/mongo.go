/*
Package mongo provides a MongoDB-backed implementation of absence.Store.

COLLECTIONS:
  employees, situation_types, employee_situations,
  vacation_conflict_rules (scope and sub-rules embedded),
  holidays, conflict_audit_runs,
  vacation_year_transitions (keyed by year, carry-overs embedded)

TRANSACTIONS:
  WithTx runs the callback inside a session transaction, which needs a
  replica set. Against a standalone server set Options.Transactions to false:
  WithTx then only serializes callers within this process and writes are not
  rolled back on error.

SEE ALSO:
  - absence/store.go: Interface definitions
  - store/sqlite: SQLite implementation
*/
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
	"go.mongodb.org/mongo-driver/v2/bson"
	driver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	collEmployees      = "employees"
	collSituationTypes = "situation_types"
	collSituations     = "employee_situations"
	collRules          = "vacation_conflict_rules"
	collHolidays       = "holidays"
	collAuditRuns      = "conflict_audit_runs"
	collYears          = "vacation_year_transitions"
)

type Options struct {
	URI          string
	Database     string
	Transactions bool
	Logger       logrus.FieldLogger
}

// Store implements absence.Store on MongoDB.
type Store struct {
	client *driver.Client
	db     *driver.Database
	opts   Options

	mu *sync.Mutex // serializes WithTx within the process

	// session is set on the view handed to WithTx callbacks.
	session *driver.Session
	inTx    bool
}

// New connects, pings and creates indexes.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	client, err := driver.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{client: client, db: client.Database(opts.Database), opts: opts, mu: &sync.Mutex{}}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	opts.Logger.WithFields(logrus.Fields{"database": opts.Database, "transactions": opts.Transactions}).Info("connected to mongodb")
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Tests only.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.coll(collSituations).Indexes().CreateMany(ctx, []driver.IndexModel{
		{Keys: bson.D{{Key: "start_date", Value: 1}, {Key: "end_date", Value: 1}}},
		{Keys: bson.D{{Key: "employee_id", Value: 1}, {Key: "start_date", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create employee_situations indexes: %w", err)
	}
	if _, err := s.coll(collSituationTypes).Indexes().CreateOne(ctx, driver.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create situation_types indexes: %w", err)
	}
	if _, err := s.coll(collRules).Indexes().CreateOne(ctx, driver.IndexModel{
		Keys: bson.D{{Key: "active", Value: 1}, {Key: "priority", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create vacation_conflict_rules indexes: %w", err)
	}
	if _, err := s.coll(collEmployees).Indexes().CreateOne(ctx, driver.IndexModel{
		Keys: bson.D{{Key: "department_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create employees indexes: %w", err)
	}
	return nil
}

func (s *Store) coll(name string) *driver.Collection {
	return s.db.Collection(name)
}

// sctx binds the transaction session to ctx inside WithTx.
func (s *Store) sctx(ctx context.Context) context.Context {
	if s.session != nil {
		return driver.NewSessionContext(ctx, s.session)
	}
	return ctx
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(absence.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &Store{client: s.client, db: s.db, opts: s.opts, mu: s.mu, inTx: true}
	if !s.opts.Transactions {
		return fn(view)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)
	view.session = session

	_, err = session.WithTransaction(ctx, func(context.Context) (any, error) {
		return nil, fn(view)
	})
	return err
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e absence.Employee) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	_, err := s.coll(collEmployees).ReplaceOne(s.sctx(ctx), bson.M{"_id": string(e.ID)}, toEmployeeDoc(e), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*absence.Employee, error) {
	var d employeeDoc
	err := s.coll(collEmployees).FindOne(s.sctx(ctx), bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: employee %s", generic.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find employee: %w", err)
	}
	e := d.model()
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]absence.Employee, error) {
	var docs []employeeDoc
	if err := s.findAll(ctx, collEmployees, bson.M{}, bson.D{{Key: "_id", Value: 1}}, 0, &docs); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	out := make([]absence.Employee, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

// =============================================================================
// SITUATION TYPES
// =============================================================================

func (s *Store) SaveSituationType(ctx context.Context, t absence.SituationType) error {
	_, err := s.coll(collSituationTypes).ReplaceOne(s.sctx(ctx), bson.M{"_id": string(t.ID)}, toSituationTypeDoc(t), options.Replace().SetUpsert(true))
	if driver.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: situation type code %s", generic.ErrDuplicateID, t.Code)
	}
	if err != nil {
		return fmt.Errorf("save situation type: %w", err)
	}
	return nil
}

func (s *Store) ListSituationTypes(ctx context.Context) ([]absence.SituationType, error) {
	var docs []situationTypeDoc
	if err := s.findAll(ctx, collSituationTypes, bson.M{}, bson.D{{Key: "code", Value: 1}}, 0, &docs); err != nil {
		return nil, fmt.Errorf("list situation types: %w", err)
	}
	out := make([]absence.SituationType, 0, len(docs))
	for _, d := range docs {
		t, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("situation type %s: %w", d.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// =============================================================================
// SITUATIONS
// =============================================================================

func (s *Store) CreateSituation(ctx context.Context, sit absence.Situation) error {
	_, err := s.coll(collSituations).InsertOne(s.sctx(ctx), toSituationDoc(sit))
	if driver.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: situation %s", generic.ErrDuplicateID, sit.ID)
	}
	if err != nil {
		return fmt.Errorf("create situation: %w", err)
	}
	return nil
}

func (s *Store) UpdateSituation(ctx context.Context, sit absence.Situation) error {
	res, err := s.coll(collSituations).ReplaceOne(s.sctx(ctx), bson.M{"_id": string(sit.ID)}, toSituationDoc(sit))
	if err != nil {
		return fmt.Errorf("update situation: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", generic.ErrSituationNotFound, sit.ID)
	}
	return nil
}

func (s *Store) GetSituation(ctx context.Context, id generic.SituationID) (*absence.Situation, error) {
	var d situationDoc
	err := s.coll(collSituations).FindOne(s.sctx(ctx), bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", generic.ErrSituationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find situation: %w", err)
	}
	sit, err := d.model()
	if err != nil {
		return nil, fmt.Errorf("situation %s: %w", id, err)
	}
	return &sit, nil
}

func (s *Store) ListSituations(ctx context.Context, filter absence.SituationFilter) ([]absence.Situation, error) {
	q := bson.M{}
	if filter.EmployeeID != "" {
		q["employee_id"] = string(filter.EmployeeID)
	}
	if filter.ExcludeID != "" {
		q["_id"] = bson.M{"$ne": string(filter.ExcludeID)}
	}
	if filter.Window != nil {
		q["start_date"] = bson.M{"$lte": filter.Window.End.String()}
		q["end_date"] = bson.M{"$gte": filter.Window.Start.String()}
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q["status"] = bson.M{"$in": statuses}
	}

	var docs []situationDoc
	sort := bson.D{{Key: "start_date", Value: 1}, {Key: "employee_id", Value: 1}, {Key: "_id", Value: 1}}
	if err := s.findAll(ctx, collSituations, q, sort, 0, &docs); err != nil {
		return nil, fmt.Errorf("list situations: %w", err)
	}
	out := make([]absence.Situation, 0, len(docs))
	for _, d := range docs {
		sit, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("situation %s: %w", d.ID, err)
		}
		out = append(out, sit)
	}
	return out, nil
}

// =============================================================================
// RULES
// =============================================================================

func (s *Store) SaveRule(ctx context.Context, r absence.ConflictRule) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	for i := range r.SubRules {
		if r.SubRules[i].CreatedAt.IsZero() {
			r.SubRules[i].CreatedAt = now
		}
	}
	_, err := s.coll(collRules).ReplaceOne(s.sctx(ctx), bson.M{"_id": string(r.ID)}, toRuleDoc(r), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id generic.RuleID) (*absence.ConflictRule, error) {
	var d ruleDoc
	err := s.coll(collRules).FindOne(s.sctx(ctx), bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find rule: %w", err)
	}
	r, err := d.model()
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListRules(ctx context.Context, activeOnly bool) ([]absence.ConflictRule, error) {
	q := bson.M{}
	if activeOnly {
		q["active"] = true
	}
	var docs []ruleDoc
	if err := s.findAll(ctx, collRules, q, bson.D{{Key: "priority", Value: 1}, {Key: "_id", Value: 1}}, 0, &docs); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]absence.ConflictRule, 0, len(docs))
	for _, d := range docs {
		r, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) DeleteRule(ctx context.Context, id generic.RuleID) error {
	res, err := s.coll(collRules).DeleteOne(s.sctx(ctx), bson.M{"_id": string(id)})
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", generic.ErrRuleNotFound, id)
	}
	return nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	doc := holidayDoc{ID: h.ID, Date: h.Date.String(), Name: h.Name, Recurring: h.Recurring}
	_, err := s.coll(collHolidays).ReplaceOne(s.sctx(ctx), bson.M{"_id": h.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save holiday: %w", err)
	}
	return nil
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	res, err := s.coll(collHolidays).DeleteOne(s.sctx(ctx), bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete holiday: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: holiday %s", generic.ErrEntityNotFound, id)
	}
	return nil
}

func (s *Store) ListHolidays(ctx context.Context) ([]generic.Holiday, error) {
	var docs []holidayDoc
	if err := s.findAll(ctx, collHolidays, bson.M{}, bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}, 0, &docs); err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	out := make([]generic.Holiday, 0, len(docs))
	for _, d := range docs {
		date, err := generic.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday %s: %w", d.ID, err)
		}
		out = append(out, generic.Holiday{ID: d.ID, Date: date, Name: d.Name, Recurring: d.Recurring})
	}
	return out, nil
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

func (s *Store) SaveAuditRun(ctx context.Context, run absence.AuditRun) error {
	doc := auditRunDoc{
		ID:          run.ID,
		WindowStart: run.Window.Start.String(),
		WindowEnd:   run.Window.End.String(),
		Checked:     run.Checked,
		Conflicting: run.Conflicting,
		Failed:      run.Failed,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if _, err := s.coll(collAuditRuns).InsertOne(s.sctx(ctx), doc); err != nil {
		return fmt.Errorf("save audit run: %w", err)
	}
	return nil
}

func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]absence.AuditRun, error) {
	var docs []auditRunDoc
	sort := bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}
	if err := s.findAll(ctx, collAuditRuns, bson.M{}, sort, limit, &docs); err != nil {
		return nil, fmt.Errorf("list audit runs: %w", err)
	}
	out := make([]absence.AuditRun, 0, len(docs))
	for _, d := range docs {
		window, err := generic.NewPeriod(d.WindowStart, d.WindowEnd)
		if err != nil {
			return nil, fmt.Errorf("audit run %s: %w", d.ID, err)
		}
		out = append(out, absence.AuditRun{
			ID:          d.ID,
			Window:      window,
			Checked:     d.Checked,
			Conflicting: d.Conflicting,
			Failed:      d.Failed,
			Error:       d.Error,
			StartedAt:   d.StartedAt,
			CompletedAt: d.CompletedAt,
		})
	}
	return out, nil
}

// =============================================================================
// YEAR TRANSITIONS
// =============================================================================

func (s *Store) SaveYearTransition(ctx context.Context, run absence.YearTransitionRun) error {
	_, err := s.coll(collYears).InsertOne(s.sctx(ctx), yearTransitionToDoc(run))
	if driver.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: year transition %d", generic.ErrDuplicateID, run.Year)
	}
	if err != nil {
		return fmt.Errorf("save year transition: %w", err)
	}
	return nil
}

func (s *Store) GetYearTransition(ctx context.Context, year int) (*absence.YearTransitionRun, error) {
	var d yearTransitionDoc
	err := s.coll(collYears).FindOne(s.sctx(ctx), bson.M{"_id": year}).Decode(&d)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %d", generic.ErrYearTransitionNotFound, year)
	}
	if err != nil {
		return nil, fmt.Errorf("find year transition: %w", err)
	}
	run := d.toRun()
	return &run, nil
}

func (s *Store) ListYearTransitions(ctx context.Context) ([]absence.YearTransitionRun, error) {
	var docs []yearTransitionDoc
	if err := s.findAll(ctx, collYears, bson.M{}, bson.D{{Key: "_id", Value: -1}}, 0, &docs); err != nil {
		return nil, fmt.Errorf("list year transitions: %w", err)
	}
	out := make([]absence.YearTransitionRun, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRun())
	}
	return out, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

func (s *Store) Reset(ctx context.Context) error {
	for _, name := range []string{collSituations, collRules, collHolidays, collAuditRuns, collYears, collSituationTypes, collEmployees} {
		if _, err := s.coll(name).DeleteMany(s.sctx(ctx), bson.M{}); err != nil {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) findAll(ctx context.Context, collection string, filter any, sort bson.D, limit int, out any) error {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.coll(collection).Find(s.sctx(ctx), filter, opts)
	if err != nil {
		return err
	}
	return cursor.All(s.sctx(ctx), out)
}

var _ absence.Store = (*Store)(nil)
