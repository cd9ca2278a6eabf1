package model

import (
	"encoding/json"
	"time"
)

// ReportStatus represents the lifecycle state of a valuation report.
type ReportStatus string

const (
	ReportStatusPending    ReportStatus = "pending"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
	ReportStatusCancelled  ReportStatus = "cancelled"
)

// NotStarted is the current_pass sentinel for a report whose pipeline has not
// begun; the first Advance call moves it to pass 0.
const NotStarted = -1

// Report is the root aggregate driven by the orchestrator. All mutations go
// through whole-field store updates keyed by ID; the in-flight job acts as a
// soft lock against duplicate pass submission.
type Report struct {
	ID           string                `json:"id"`
	CompanyName  string                `json:"company_name"`
	Intake       Intake                `json:"intake"`
	CurrentPass  int                   `json:"current_pass"`
	Status       ReportStatus          `json:"status"`
	PassOutputs  map[string]PassOutput `json:"pass_outputs,omitempty"`
	Calculation  *CalculationOutput    `json:"calculation_results,omitempty"`
	ReportData   *ReportDocument       `json:"report_data,omitempty"`
	InFlight     *InFlightJob          `json:"in_flight,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Intake is the caller-supplied material a valuation is generated from:
// company identity plus the raw text of the financial documents provided.
type Intake struct {
	CompanyName string           `json:"company_name"`
	NAICSCode   string           `json:"naics_code,omitempty"`
	Documents   []SourceDocument `json:"documents"`
	Notes       string           `json:"notes,omitempty"`
}

// SourceDocument is one uploaded document, already reduced to plain text.
type SourceDocument struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// InFlightJob records the external generation job currently running for a
// pass. Callers that observe a non-nil InFlight only poll, never resubmit.
type InFlightJob struct {
	JobID     string    `json:"job_id"`
	PassID    int       `json:"pass_id"`
	SectionID string    `json:"section_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Output looks up a pass output by its string key ("0".."4" for extraction
// passes, "5:executive_summary" style composite keys for narrative sections).
func (r *Report) Output(key string) (PassOutput, bool) {
	out, ok := r.PassOutputs[key]
	return out, ok
}

// PassOutput is one persisted pass result. Immutable once written; a re-run
// overwrites the entry for that pass key only.
type PassOutput struct {
	PassID       string          `json:"pass_id"`
	Data         json.RawMessage `json:"data"`
	ParseAttempt int             `json:"parse_attempt"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// ReportDocument is the final merged report: narrative sections reconciled
// against calculation-engine figures, with the engine always authoritative.
type ReportDocument struct {
	CompanyName    string                      `json:"company_name"`
	NAICSCode      string                      `json:"naics_code,omitempty"`
	Sections       map[string]NarrativeSection `json:"sections"`
	AssetValue     float64                     `json:"asset_value"`
	IncomeValue    float64                     `json:"income_value"`
	MarketValue    float64                     `json:"market_value"`
	MarketMultiple float64                     `json:"market_multiple"`
	ConcludedValue float64                     `json:"concluded_value"`
	ValueLow       float64                     `json:"value_low"`
	ValueHigh      float64                     `json:"value_high"`
	Corrections    []ReconcileCorrection       `json:"corrections,omitempty"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// NarrativeSection is one keyed text block of the report body.
type NarrativeSection struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	WordTarget int    `json:"word_target,omitempty"`
	WordCount  int    `json:"word_count,omitempty"`
}

// ReconcileCorrection records a narrative figure that drifted from the engine
// value and was replaced during reconciliation.
type ReconcileCorrection struct {
	Field          string  `json:"field"`
	NarrativeValue float64 `json:"narrative_value"`
	EngineValue    float64 `json:"engine_value"`
}

// StatusProjection is the read-only progress view served to UI polls. The
// progress percentage comes from the registry's static lookup table.
type StatusProjection struct {
	ReportID    string       `json:"report_id"`
	Status      ReportStatus `json:"status"`
	Pass        int          `json:"pass"`
	TotalPasses int          `json:"total_passes"`
	Progress    int          `json:"progress"`
	Message     string       `json:"message,omitempty"`
}
