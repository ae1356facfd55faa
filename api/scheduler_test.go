package api

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAuditWindow(t *testing.T) {
	w := DefaultAuditWindow(time.Date(2024, time.June, 28, 17, 30, 0, 0, time.UTC), 10)

	assert.Equal(t, "2024-06-28", w.Start.String())
	assert.Equal(t, "2024-07-08", w.End.String())
}

func TestConflictAuditScheduler_RunNow(t *testing.T) {
	// GIVEN: Two overlapping pending vacations and a rule added afterwards
	api := newTestAPI(t)
	for _, id := range []string{"ana", "bruno"} {
		api.do("POST", "/api/employees", CreateEmployeeRequest{ID: id, Name: id, DepartmentID: "dev"})
	}
	api.do("POST", "/api/situations", vacationRequest("ana", "2024-07-01", "2024-07-05"))
	api.do("POST", "/api/situations", vacationRequest("bruno", "2024-07-04", "2024-07-05"))
	api.do("POST", "/api/situations", vacationRequest("bruno", "2024-09-02", "2024-09-03"))
	api.do("POST", "/api/rules", `{"id": "dev", "name": "Dev", "max_absent": 1, "scope": {"department_ids": ["dev"]}}`)

	logger, hook := logtest.NewNullLogger()
	s := NewConflictAuditScheduler(api.handler.Service, logger)
	s.WindowDays = 10
	s.Now = func() time.Time { return time.Date(2024, time.June, 28, 8, 0, 0, 0, time.UTC) }

	// WHEN: The audit runs
	run, err := s.RunNow(context.Background())

	// THEN: Only July is inside the window and both July absences conflict
	require.NoError(t, err)
	assert.Equal(t, 2, run.Checked)
	assert.Equal(t, 2, run.Conflicting)
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, "2024-07-08", run.Window.End.String())

	var warned int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "pending situation now conflicts" {
			warned++
			assert.Equal(t, []string{"dev"}, e.Data["rule_ids"])
		}
	}
	assert.Equal(t, 2, warned)

	runs, err := api.handler.Store.ListAuditRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestConflictAuditScheduler_DisabledDoesNotStart(t *testing.T) {
	api := newTestAPI(t)
	logger, hook := logtest.NewNullLogger()
	s := NewConflictAuditScheduler(api.handler.Service, logger)
	s.Enabled = false

	s.Start()
	s.Stop()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "audit scheduler disabled, not starting", hook.LastEntry().Message)
}

func TestConflictAuditScheduler_StartStop(t *testing.T) {
	api := newTestAPI(t)
	logger, hook := logtest.NewNullLogger()
	s := NewConflictAuditScheduler(api.handler.Service, logger)
	s.CheckInterval = time.Hour

	s.Start()
	s.Stop()

	// The immediate run on start has been recorded
	runs, err := api.handler.Store.ListAuditRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, "audit scheduler stopped", hook.LastEntry().Message)
}
