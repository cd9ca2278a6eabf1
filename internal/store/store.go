package store

import (
	"context"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

// ReportFilter specifies criteria for listing reports.
type ReportFilter struct {
	Status      model.ReportStatus `json:"status,omitempty"`
	CompanyName string             `json:"company_name,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Offset      int                `json:"offset,omitempty"`
}

// Benchmark is an industry multiple ceiling keyed by NAICS code, used by the
// value gate to flag implausible market-approach output.
type Benchmark struct {
	NAICSCode         string  `json:"naics_code"`
	SDEMultipleMax    float64 `json:"sde_multiple_max"`
	EBITDAMultipleMax float64 `json:"ebitda_multiple_max"`
	SourceYear        int     `json:"source_year"`
}

// Store defines the persistence interface for the valuation pipeline.
// Report mutations are whole-field updates keyed by report ID; pass outputs
// are written once per (report, output key) and overwritten only on re-run.
type Store interface {
	// Reports
	CreateReport(ctx context.Context, intake model.Intake) (*model.Report, error)
	GetReport(ctx context.Context, reportID string) (*model.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.Report, error)
	UpdateReportStatus(ctx context.Context, reportID string, status model.ReportStatus, errorMessage string) error
	UpdateReportProgress(ctx context.Context, reportID string, currentPass int, inFlight *model.InFlightJob) error
	SaveCalculation(ctx context.Context, reportID string, calc *model.CalculationOutput) error
	SaveReportData(ctx context.Context, reportID string, doc *model.ReportDocument) error

	// Pass outputs
	SavePassOutput(ctx context.Context, reportID string, key string, output model.PassOutput) error
	DeletePassOutputs(ctx context.Context, reportID string, keys []string) error

	// Industry benchmarks
	UpsertBenchmarks(ctx context.Context, benchmarks []Benchmark) (int64, error)
	GetBenchmark(ctx context.Context, naicsCode string) (*Benchmark, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
