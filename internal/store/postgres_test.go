package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetReport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, company_name, intake, current_pass, status`).
		WithArgs("nonexistent-report").
		WillReturnError(pgx.ErrNoRows)

	// Unknown ids are (nil, nil), same as GetBenchmark; the orchestrator maps
	// nil to its not-found error.
	r, err := s.GetReport(context.Background(), "nonexistent-report")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_LoadsPassOutputs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, company_name, intake, current_pass, status`).
		WithArgs("rep-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_name", "intake", "current_pass", "status",
			"calculation", "report_data", "in_flight", "error_message", "created_at", "updated_at",
		}).AddRow(
			"rep-1", "Acme Plumbing", []byte(`{"company_name":"Acme Plumbing","documents":[]}`),
			1, "processing", nil, nil, []byte(`{"job_id":"batch-9","pass_id":1,"started_at":"2026-01-02T00:00:00Z"}`),
			"", now, now,
		))
	mock.ExpectQuery(`SELECT output_key, pass_id, data, parse_attempt, completed_at FROM pass_outputs`).
		WithArgs("rep-1").
		WillReturnRows(pgxmock.NewRows([]string{"output_key", "pass_id", "data", "parse_attempt", "completed_at"}).
			AddRow("0", "0", []byte(`{"years":[]}`), 2, now))

	r, err := s.GetReport(context.Background(), "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", r.CompanyName)
	assert.Equal(t, 1, r.CurrentPass)
	require.NotNil(t, r.InFlight)
	assert.Equal(t, "batch-9", r.InFlight.JobID)
	out, ok := r.Output("0")
	require.True(t, ok)
	assert.Equal(t, 2, out.ParseAttempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReportStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE reports SET status`).
		WithArgs("failed", "pass 2 exhausted retries", pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateReportStatus(context.Background(), "missing-id", model.ReportStatusFailed, "pass 2 exhausted retries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReportProgress_ClearsInFlight(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// nil in-flight job writes NULL, releasing the soft lock.
	mock.ExpectExec(`UPDATE reports SET current_pass`).
		WithArgs(2, pgxmock.AnyArg(), pgxmock.AnyArg(), "rep-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateReportProgress(context.Background(), "rep-1", 2, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePassOutput_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(report_id, output_key\) DO UPDATE`).
		WithArgs("rep-1", "5:executive_summary", "5", pgxmock.AnyArg(), 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SavePassOutput(context.Background(), "rep-1", "5:executive_summary", model.PassOutput{
		PassID:       "5",
		Data:         []byte(`{"text":"..."}`),
		ParseAttempt: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeletePassOutputs_NoKeys(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	// No keys means nothing to do; no query should be issued.
	err := s.DeletePassOutputs(context.Background(), "rep-1", nil)
	require.NoError(t, err)
}

func TestPostgresStore_GetBenchmark_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT naics_code, sde_multiple_max`).
		WithArgs("999999").
		WillReturnError(pgx.ErrNoRows)

	b, err := s.GetBenchmark(context.Background(), "999999")
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReports_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, company_name, current_pass, status, error_message`).
		WithArgs("completed", 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "company_name", "current_pass", "status", "error_message", "created_at", "updated_at",
		}).AddRow("rep-1", "Acme Plumbing", 6, "completed", "", now, now))

	reports, err := s.ListReports(context.Background(), ReportFilter{
		Status: model.ReportStatusCompleted,
		Limit:  50,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.ReportStatusCompleted, reports[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
