/*
scheduler.go - Background conflict audit

PURPOSE:
  Conflict rules and employee directories change after absences were
  submitted. The scheduler periodically re-evaluates pending absences in
  the upcoming window so managers see which ones would now break a rule
  before approving them.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick calls absence.Service.AuditPending over
    [today, today + WindowDays]; the service records an AuditRun
  - Duration goes to metrics.AuditDurationSeconds
  - When PushGatewayURL is set the registry is pushed after every run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - WindowDays:    Look-ahead of the audit window (default: 90)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewConflictAuditScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual audit)
  - absence/service.go: AuditPending
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/metrics"
)

// ConflictAuditScheduler re-evaluates pending situations on a ticker.
type ConflictAuditScheduler struct {
	Service        *absence.Service
	Logger         logrus.FieldLogger
	CheckInterval  time.Duration
	WindowDays     int
	Enabled        bool
	PushGatewayURL string

	// Now is overridable in tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewConflictAuditScheduler creates a new scheduler.
func NewConflictAuditScheduler(svc *absence.Service, logger logrus.FieldLogger) *ConflictAuditScheduler {
	if logger == nil {
		logger = svc.Logger
	}
	return &ConflictAuditScheduler{
		Service:       svc,
		Logger:        logger.WithField("component", "audit-scheduler"),
		CheckInterval: 1 * time.Hour,
		WindowDays:    90,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *ConflictAuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info("audit scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.WithField("interval", s.CheckInterval.String()).Info("audit scheduler started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *ConflictAuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("audit scheduler stopped")
	}
}

func (s *ConflictAuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow audits immediately (for testing/admin).
func (s *ConflictAuditScheduler) RunNow(ctx context.Context) (absence.AuditRun, error) {
	started := time.Now()
	window := DefaultAuditWindow(s.Now(), s.WindowDays)

	run, findings, err := s.Service.AuditPending(ctx, window)
	metrics.AuditDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		s.Logger.WithError(err).Error("conflict audit failed")
		return run, err
	}
	for _, f := range findings {
		ruleIDs := make([]string, len(f.Result.Violations))
		for i, v := range f.Result.Violations {
			ruleIDs[i] = string(v.RuleID)
		}
		s.Logger.WithFields(logrus.Fields{
			"situation_id": f.Situation.ID,
			"employee_id":  f.Situation.EmployeeID,
			"rule_ids":     ruleIDs,
		}).Warn("pending situation now conflicts")
	}

	if s.PushGatewayURL != "" {
		if err := metrics.Push(s.PushGatewayURL, "absence_engine_audit"); err != nil {
			s.Logger.WithError(err).Warn("could not push metrics")
		}
	}
	return run, nil
}
