package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// single-operator use; the server deployment runs on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id            TEXT PRIMARY KEY,
	company_name  TEXT NOT NULL,
	intake        TEXT NOT NULL,
	current_pass  INTEGER NOT NULL DEFAULT -1,
	status        TEXT NOT NULL DEFAULT 'pending',
	calculation   TEXT,
	report_data   TEXT,
	in_flight     TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pass_outputs (
	report_id     TEXT NOT NULL REFERENCES reports(id),
	output_key    TEXT NOT NULL,
	pass_id       TEXT NOT NULL,
	data          TEXT NOT NULL,
	parse_attempt INTEGER NOT NULL DEFAULT 1,
	completed_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (report_id, output_key)
);

CREATE TABLE IF NOT EXISTS benchmarks (
	naics_code          TEXT PRIMARY KEY,
	sde_multiple_max    REAL NOT NULL,
	ebitda_multiple_max REAL NOT NULL,
	source_year         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_company_name ON reports(company_name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReport(ctx context.Context, intake model.Intake) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	intakeJSON, err := json.Marshal(intake)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal intake")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, company_name, intake, current_pass, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, intake.CompanyName, string(intakeJSON), model.NotStarted, string(model.ReportStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}

	return &model.Report{
		ID:          id,
		CompanyName: intake.CompanyName,
		Intake:      intake,
		CurrentPass: model.NotStarted,
		Status:      model.ReportStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_name, intake, current_pass, status, calculation, report_data, in_flight, error_message, created_at, updated_at FROM reports WHERE id = ?`,
		reportID,
	)

	var r model.Report
	var intakeJSON string
	var calcJSON, docJSON, inFlightJSON sql.NullString
	err := row.Scan(&r.ID, &r.CompanyName, &intakeJSON, &r.CurrentPass, &r.Status,
		&calcJSON, &docJSON, &inFlightJSON, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", reportID)
	}

	if err := json.Unmarshal([]byte(intakeJSON), &r.Intake); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal intake")
	}
	if calcJSON.Valid {
		r.Calculation = &model.CalculationOutput{}
		if err := json.Unmarshal([]byte(calcJSON.String), r.Calculation); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal calculation")
		}
	}
	if docJSON.Valid {
		r.ReportData = &model.ReportDocument{}
		if err := json.Unmarshal([]byte(docJSON.String), r.ReportData); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report data")
		}
	}
	if inFlightJSON.Valid {
		r.InFlight = &model.InFlightJob{}
		if err := json.Unmarshal([]byte(inFlightJSON.String), r.InFlight); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal in-flight job")
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT output_key, pass_id, data, parse_attempt, completed_at FROM pass_outputs WHERE report_id = ?`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load pass outputs %s", reportID)
	}
	defer rows.Close()

	outputs := make(map[string]model.PassOutput)
	for rows.Next() {
		var key, data string
		var out model.PassOutput
		if err := rows.Scan(&key, &out.PassID, &data, &out.ParseAttempt, &out.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pass output")
		}
		out.Data = json.RawMessage(data)
		outputs[key] = out
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: pass outputs iterate")
	}
	r.PassOutputs = outputs
	return &r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT id, company_name, current_pass, status, error_message, created_at, updated_at FROM reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CompanyName != "" {
		query += ` AND company_name = ?`
		args = append(args, filter.CompanyName)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.CurrentPass, &r.Status, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMessage, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report status %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) UpdateReportProgress(ctx context.Context, reportID string, currentPass int, inFlight *model.InFlightJob) error {
	var inFlightVal any
	if inFlight != nil {
		b, err := json.Marshal(inFlight)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal in-flight job")
		}
		inFlightVal = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET current_pass = ?, in_flight = ?, updated_at = ? WHERE id = ?`,
		currentPass, inFlightVal, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update report progress %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) SaveCalculation(ctx context.Context, reportID string, calc *model.CalculationOutput) error {
	calcJSON, err := json.Marshal(calc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal calculation")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET calculation = ?, updated_at = ? WHERE id = ?`,
		string(calcJSON), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save calculation %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) SaveReportData(ctx context.Context, reportID string, doc *model.ReportDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report data")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET report_data = ?, updated_at = ? WHERE id = ?`,
		string(docJSON), time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save report data %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) SavePassOutput(ctx context.Context, reportID string, key string, output model.PassOutput) error {
	completedAt := output.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pass_outputs (report_id, output_key, pass_id, data, parse_attempt, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (report_id, output_key) DO UPDATE SET data = excluded.data, parse_attempt = excluded.parse_attempt, completed_at = excluded.completed_at`,
		reportID, key, output.PassID, string(output.Data), output.ParseAttempt, completedAt,
	)
	return eris.Wrapf(err, "sqlite: save pass output %s/%s", reportID, key)
}

func (s *SQLiteStore) DeletePassOutputs(ctx context.Context, reportID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, 0, len(keys)+1)
	args = append(args, reportID)
	for _, k := range keys {
		args = append(args, k)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pass_outputs WHERE report_id = ? AND output_key IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: delete pass outputs %s", reportID)
}

func (s *SQLiteStore) UpsertBenchmarks(ctx context.Context, benchmarks []Benchmark) (int64, error) {
	if len(benchmarks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert benchmarks begin")
	}
	defer tx.Rollback()

	var n int64
	for _, b := range benchmarks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO benchmarks (naics_code, sde_multiple_max, ebitda_multiple_max, source_year)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (naics_code) DO UPDATE SET sde_multiple_max = excluded.sde_multiple_max, ebitda_multiple_max = excluded.ebitda_multiple_max, source_year = excluded.source_year`,
			b.NAICSCode, b.SDEMultipleMax, b.EBITDAMultipleMax, b.SourceYear,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert benchmark %s", b.NAICSCode)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert benchmarks commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetBenchmark(ctx context.Context, naicsCode string) (*Benchmark, error) {
	var b Benchmark
	err := s.db.QueryRowContext(ctx,
		`SELECT naics_code, sde_multiple_max, ebitda_multiple_max, source_year FROM benchmarks WHERE naics_code = ?`,
		naicsCode,
	).Scan(&b.NAICSCode, &b.SDEMultipleMax, &b.EBITDAMultipleMax, &b.SourceYear)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get benchmark %s", naicsCode)
	}
	return &b, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
