package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-pipeline/internal/db"
	"github.com/sells-group/valuation-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_report":    `INSERT INTO reports (id, company_name, intake, current_pass, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_status":    `UPDATE reports SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
	"update_progress":  `UPDATE reports SET current_pass = $1, in_flight = $2, updated_at = $3 WHERE id = $4`,
	"get_report":       `SELECT id, company_name, intake, current_pass, status, calculation, report_data, in_flight, error_message, created_at, updated_at FROM reports WHERE id = $1`,
	"get_pass_outputs": `SELECT output_key, pass_id, data, parse_attempt, completed_at FROM pass_outputs WHERE report_id = $1`,
	"save_pass_output": `INSERT INTO pass_outputs (report_id, output_key, pass_id, data, parse_attempt, completed_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (report_id, output_key) DO UPDATE SET data = $4, parse_attempt = $5, completed_at = $6`,
	"get_benchmark":    `SELECT naics_code, sde_multiple_max, ebitda_multiple_max, source_year FROM benchmarks WHERE naics_code = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., benchmark seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reports (
	id            TEXT PRIMARY KEY,
	company_name  TEXT NOT NULL,
	intake        JSONB NOT NULL,
	current_pass  INTEGER NOT NULL DEFAULT -1,
	status        TEXT NOT NULL DEFAULT 'pending',
	calculation   JSONB,
	report_data   JSONB,
	in_flight     JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_company_name ON reports(company_name);

CREATE TABLE IF NOT EXISTS pass_outputs (
	report_id     TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	output_key    TEXT NOT NULL,
	pass_id       TEXT NOT NULL,
	data          JSONB NOT NULL,
	parse_attempt INTEGER NOT NULL DEFAULT 1,
	completed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (report_id, output_key)
);

CREATE TABLE IF NOT EXISTS benchmarks (
	naics_code          TEXT PRIMARY KEY,
	sde_multiple_max    DOUBLE PRECISION NOT NULL,
	ebitda_multiple_max DOUBLE PRECISION NOT NULL,
	source_year         INTEGER NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, intake model.Intake) (*model.Report, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	intakeJSON, err := json.Marshal(intake)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal intake")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, company_name, intake, current_pass, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, intake.CompanyName, intakeJSON, model.NotStarted, string(model.ReportStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
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

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (*model.Report, error) {
	var r model.Report
	var intakeJSON []byte
	var calcJSON, docJSON, inFlightJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, company_name, intake, current_pass, status, calculation, report_data, in_flight, error_message, created_at, updated_at FROM reports WHERE id = $1`,
		reportID,
	).Scan(&r.ID, &r.CompanyName, &intakeJSON, &r.CurrentPass, &r.Status,
		&calcJSON, &docJSON, &inFlightJSON, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get report %s", reportID)
	}

	if err := json.Unmarshal(intakeJSON, &r.Intake); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal intake")
	}
	if len(calcJSON) > 0 {
		r.Calculation = &model.CalculationOutput{}
		if err := json.Unmarshal(calcJSON, r.Calculation); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal calculation")
		}
	}
	if len(docJSON) > 0 {
		r.ReportData = &model.ReportDocument{}
		if err := json.Unmarshal(docJSON, r.ReportData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report data")
		}
	}
	if len(inFlightJSON) > 0 {
		r.InFlight = &model.InFlightJob{}
		if err := json.Unmarshal(inFlightJSON, r.InFlight); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal in-flight job")
		}
	}

	outputs, err := s.loadPassOutputs(ctx, reportID)
	if err != nil {
		return nil, err
	}
	r.PassOutputs = outputs
	return &r, nil
}

func (s *PostgresStore) loadPassOutputs(ctx context.Context, reportID string) (map[string]model.PassOutput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT output_key, pass_id, data, parse_attempt, completed_at FROM pass_outputs WHERE report_id = $1`,
		reportID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load pass outputs %s", reportID)
	}
	defer rows.Close()

	outputs := make(map[string]model.PassOutput)
	for rows.Next() {
		var key string
		var out model.PassOutput
		var data []byte
		if err := rows.Scan(&key, &out.PassID, &data, &out.ParseAttempt, &out.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pass output")
		}
		out.Data = json.RawMessage(data)
		outputs[key] = out
	}
	return outputs, eris.Wrap(rows.Err(), "postgres: pass outputs iterate")
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error) {
	query := `SELECT id, company_name, current_pass, status, error_message, created_at, updated_at FROM reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CompanyName != "" {
		query += fmt.Sprintf(` AND company_name = $%d`, argIdx)
		args = append(args, filter.CompanyName)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		var r model.Report
		if err := rows.Scan(&r.ID, &r.CompanyName, &r.CurrentPass, &r.Status, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errorMessage, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report status %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", reportID)
	}
	return nil
}

func (s *PostgresStore) UpdateReportProgress(ctx context.Context, reportID string, currentPass int, inFlight *model.InFlightJob) error {
	var inFlightJSON []byte
	if inFlight != nil {
		var err error
		inFlightJSON, err = json.Marshal(inFlight)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal in-flight job")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET current_pass = $1, in_flight = $2, updated_at = $3 WHERE id = $4`,
		currentPass, inFlightJSON, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update report progress %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", reportID)
	}
	return nil
}

func (s *PostgresStore) SaveCalculation(ctx context.Context, reportID string, calc *model.CalculationOutput) error {
	calcJSON, err := json.Marshal(calc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal calculation")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET calculation = $1, updated_at = $2 WHERE id = $3`,
		calcJSON, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save calculation %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", reportID)
	}
	return nil
}

func (s *PostgresStore) SaveReportData(ctx context.Context, reportID string, doc *model.ReportDocument) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report data")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET report_data = $1, updated_at = $2 WHERE id = $3`,
		docJSON, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save report data %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", reportID)
	}
	return nil
}

func (s *PostgresStore) SavePassOutput(ctx context.Context, reportID string, key string, output model.PassOutput) error {
	completedAt := output.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pass_outputs (report_id, output_key, pass_id, data, parse_attempt, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (report_id, output_key) DO UPDATE SET data = $4, parse_attempt = $5, completed_at = $6`,
		reportID, key, output.PassID, []byte(output.Data), output.ParseAttempt, completedAt,
	)
	return eris.Wrapf(err, "postgres: save pass output %s/%s", reportID, key)
}

func (s *PostgresStore) DeletePassOutputs(ctx context.Context, reportID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM pass_outputs WHERE report_id = $1 AND output_key = ANY($2)`,
		reportID, keys,
	)
	return eris.Wrapf(err, "postgres: delete pass outputs %s", reportID)
}

func (s *PostgresStore) UpsertBenchmarks(ctx context.Context, benchmarks []Benchmark) (int64, error) {
	rows := make([][]any, len(benchmarks))
	for i, b := range benchmarks {
		rows[i] = []any{b.NAICSCode, b.SDEMultipleMax, b.EBITDAMultipleMax, b.SourceYear}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "benchmarks",
		Columns:      []string{"naics_code", "sde_multiple_max", "ebitda_multiple_max", "source_year"},
		ConflictKeys: []string{"naics_code"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert benchmarks")
	}
	return n, nil
}

func (s *PostgresStore) GetBenchmark(ctx context.Context, naicsCode string) (*Benchmark, error) {
	var b Benchmark
	err := s.pool.QueryRow(ctx,
		`SELECT naics_code, sde_multiple_max, ebitda_multiple_max, source_year FROM benchmarks WHERE naics_code = $1`,
		naicsCode,
	).Scan(&b.NAICSCode, &b.SDEMultipleMax, &b.EBITDAMultipleMax, &b.SourceYear)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get benchmark %s", naicsCode)
	}
	return &b, nil
}
