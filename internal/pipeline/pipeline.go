package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/gates"
	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/parser"
	"github.com/sells-group/valuation-pipeline/internal/registry"
	"github.com/sells-group/valuation-pipeline/internal/resilience"
	"github.com/sells-group/valuation-pipeline/internal/store"
	"github.com/sells-group/valuation-pipeline/internal/valuation"
	"github.com/sells-group/valuation-pipeline/pkg/anthropic"
)

// ErrNotFound marks lookups for unknown report ids.
var ErrNotFound = eris.New("pipeline: report not found")

// Config holds the orchestrator's tuning: which model serves each pass kind,
// the poll backoff, and the engine and gate parameters used at finalization.
type Config struct {
	ExtractionModel string
	NarrativeModel  string
	Poll            resilience.PollSchedule
	Valuation       valuation.Config
	Gates           gates.Config
}

// Orchestrator drives reports through the pass table one advance call at a
// time. Dependencies are injected once at construction; there is no package
// state.
type Orchestrator struct {
	store  store.Store
	client anthropic.Client
	reg    *registry.Registry
	cfg    Config
}

// New constructs an orchestrator.
func New(st store.Store, client anthropic.Client, reg *registry.Registry, cfg Config) *Orchestrator {
	return &Orchestrator{store: st, client: client, reg: reg, cfg: cfg}
}

// Create validates intake material and creates a pending report.
func (o *Orchestrator) Create(ctx context.Context, intake model.Intake) (*model.Report, error) {
	if intake.CompanyName == "" {
		return nil, eris.New("pipeline: intake requires a company name")
	}
	if len(intake.Documents) == 0 {
		return nil, eris.New("pipeline: intake requires at least one source document")
	}
	for i, doc := range intake.Documents {
		if doc.Text == "" {
			return nil, eris.Errorf("pipeline: intake document %d (%s) has no text", i, doc.Name)
		}
	}

	r, err := o.store.CreateReport(ctx, intake)
	if err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: report created",
		zap.String("report_id", r.ID),
		zap.String("company", r.CompanyName))
	return r, nil
}

// Advance makes one unit of forward progress on a report: poll the in-flight
// job, or submit the next pass, or finalize. Safe to call repeatedly and
// under concurrent duplicate invocation; the persisted in-flight job id is
// the soft lock.
func (o *Orchestrator) Advance(ctx context.Context, reportID string) (*Result, error) {
	r, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, eris.Wrapf(ErrNotFound, "report %s", reportID)
	}

	switch NextStep(r, o.reg.TotalPasses()) {
	case StepNone:
		return terminalResult(r), nil
	case StepPoll:
		return o.pollInFlight(ctx, r)
	case StepStart:
		return o.startNext(ctx, r)
	default:
		return o.finalize(ctx, r)
	}
}

func terminalResult(r *model.Report) *Result {
	res := &Result{Pass: r.CurrentPass}
	switch r.Status {
	case model.ReportStatusCompleted:
		res.Status = StatusCompleted
	case model.ReportStatusCancelled:
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
	}
	return res
}

// startNext submits the next pass (or the next missing narrative section)
// and persists the in-flight job id before returning.
func (o *Orchestrator) startNext(ctx context.Context, r *model.Report) (*Result, error) {
	next := r.CurrentPass + 1
	pass, ok := o.reg.Pass(next)
	if !ok {
		return nil, eris.Errorf("pipeline: no pass with id %d", next)
	}

	section := ""
	pending := ""
	for _, key := range pass.OutputKeys() {
		if _, done := r.Output(key); !done {
			pending = key
			break
		}
	}
	if pending == "" {
		// Every output for this pass is already persisted (a resumed run):
		// just move the cursor, the next call takes the following pass.
		if err := o.store.UpdateReportProgress(ctx, r.ID, next, nil); err != nil {
			return nil, err
		}
		return &Result{Status: StatusProcessing, Pass: next, PassName: pass.Name}, nil
	}
	if pass.Kind == registry.KindNarrative {
		section = sectionFromKey(pending)
	}

	if r.Status == model.ReportStatusPending {
		if err := o.store.UpdateReportStatus(ctx, r.ID, model.ReportStatusProcessing, ""); err != nil {
			return nil, err
		}
	}

	jobID, err := o.client.StartJob(ctx, o.buildRequest(r, pass, section))
	if err != nil {
		if resilience.IsTransient(err) {
			zap.L().Warn("pipeline: transient submit failure",
				zap.String("report_id", r.ID), zap.Int("pass", next), zap.Error(err))
			return &Result{Status: StatusProcessing, Pass: next, PassName: pass.Name}, nil
		}
		return nil, eris.Wrapf(err, "pipeline: submit pass %d", next)
	}

	inFlight := &model.InFlightJob{
		JobID:     jobID,
		PassID:    next,
		SectionID: section,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.UpdateReportProgress(ctx, r.ID, r.CurrentPass, inFlight); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: pass submitted",
		zap.String("report_id", r.ID),
		zap.Int("pass", next),
		zap.String("section", section),
		zap.String("job_id", jobID))
	return &Result{Status: StatusProcessing, Pass: next, PassName: pass.Name}, nil
}

// pollInFlight polls the stored job under the bounded backoff schedule.
// Exhausting the schedule, and transient poll errors, leave the report
// processing; the next advance call resumes polling.
func (o *Orchestrator) pollInFlight(ctx context.Context, r *model.Report) (*Result, error) {
	job := r.InFlight
	pass, _ := o.reg.Pass(job.PassID)

	var status *anthropic.JobStatus
	for attempt := 0; ; attempt++ {
		st, err := o.client.PollJob(ctx, job.JobID)
		if err != nil {
			if resilience.IsTransient(err) {
				zap.L().Warn("pipeline: transient poll failure",
					zap.String("report_id", r.ID), zap.String("job_id", job.JobID), zap.Error(err))
				return &Result{Status: StatusProcessing, Pass: job.PassID, PassName: pass.Name}, nil
			}
			return nil, eris.Wrapf(err, "pipeline: poll job %s", job.JobID)
		}
		if React(st.State) != ReactionWait {
			status = st
			break
		}
		if o.cfg.Poll.Exhausted(attempt + 1) {
			return &Result{Status: StatusProcessing, Pass: job.PassID, PassName: pass.Name}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.Poll.Delay(attempt)):
		}
	}

	switch React(status.State) {
	case ReactionPersist:
		return o.persistOutput(ctx, r, status)
	case ReactionToolRound:
		return o.toolRound(ctx, r, status)
	default:
		return o.failReport(ctx, r, status)
	}
}

// persistOutput parses a completed job's text, persists the pass output, and
// advances the pass cursor once every output for the pass exists. Persistence
// strictly precedes cursor movement.
func (o *Orchestrator) persistOutput(ctx context.Context, r *model.Report, status *anthropic.JobStatus) (*Result, error) {
	job := r.InFlight
	pass, ok := o.reg.Pass(job.PassID)
	if !ok {
		return nil, eris.Errorf("pipeline: in-flight job for unknown pass %d", job.PassID)
	}

	key := fmt.Sprintf("%d", pass.ID)
	if job.SectionID != "" {
		key = fmt.Sprintf("%d:%s", pass.ID, job.SectionID)
	}

	raw, attempt, err := parser.ParseWithSalvage(status.Text, passSalvageFields(pass)...)
	if err != nil {
		msg := fmt.Sprintf("pass %d output unrecoverable: %s", pass.ID, err)
		return o.failWithMessage(ctx, r, msg)
	}

	out := model.PassOutput{
		PassID:       fmt.Sprintf("%d", pass.ID),
		Data:         raw,
		ParseAttempt: attempt,
		CompletedAt:  time.Now().UTC(),
	}
	if err := o.store.SavePassOutput(ctx, r.ID, key, out); err != nil {
		return nil, err
	}
	if r.PassOutputs == nil {
		r.PassOutputs = make(map[string]model.PassOutput)
	}
	r.PassOutputs[key] = out

	cursor := r.CurrentPass
	if len(registry.MissingOutputs(r, pass.OutputKeys())) == 0 {
		cursor = pass.ID
	}
	if err := o.store.UpdateReportProgress(ctx, r.ID, cursor, nil); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: pass output persisted",
		zap.String("report_id", r.ID),
		zap.String("output_key", key),
		zap.Int("parse_attempt", attempt),
		zap.Int64("output_tokens", status.Usage.OutputTokens))
	return &Result{Status: StatusProcessing, Pass: cursor, PassName: pass.Name}, nil
}

// toolRound answers a requires_action state with results built from stored
// data, then re-polls once. A failed submission is not a report failure: the
// orchestrator returns processing and the next advance retries, giving
// at-least-once submission semantics.
func (o *Orchestrator) toolRound(ctx context.Context, r *model.Report, status *anthropic.JobStatus) (*Result, error) {
	job := r.InFlight
	pass, _ := o.reg.Pass(job.PassID)
	call := status.ToolCall
	if call == nil {
		return &Result{Status: StatusProcessing, Pass: job.PassID, PassName: pass.Name}, nil
	}

	result := o.toolResult(ctx, r, *call)
	newID, err := o.client.SubmitToolResults(ctx, o.buildRequest(r, pass, job.SectionID), *call, result)
	if err != nil {
		zap.L().Warn("pipeline: tool result submission failed, will retry",
			zap.String("report_id", r.ID), zap.String("job_id", job.JobID), zap.Error(err))
		return &Result{Status: StatusProcessing, Pass: job.PassID, PassName: pass.Name}, nil
	}

	follow := &model.InFlightJob{
		JobID:     newID,
		PassID:    job.PassID,
		SectionID: job.SectionID,
		StartedAt: time.Now().UTC(),
	}
	if err := o.store.UpdateReportProgress(ctx, r.ID, r.CurrentPass, follow); err != nil {
		return nil, err
	}
	r.InFlight = follow

	st, err := o.client.PollJob(ctx, newID)
	if err == nil {
		switch React(st.State) {
		case ReactionPersist:
			return o.persistOutput(ctx, r, st)
		case ReactionFail:
			return o.failReport(ctx, r, st)
		}
	}
	return &Result{Status: StatusProcessing, Pass: job.PassID, PassName: pass.Name}, nil
}

// toolResult serves a benchmark lookup from the store. Missing data is
// reported back to the model as text, never as a pipeline error.
func (o *Orchestrator) toolResult(ctx context.Context, r *model.Report, call anthropic.ToolCall) string {
	if call.Name != benchmarkToolName {
		return fmt.Sprintf("unknown tool %q", call.Name)
	}

	var in struct {
		NAICSCode string `json:"naics_code"`
	}
	_ = json.Unmarshal(call.Input, &in)
	code := in.NAICSCode
	if code == "" {
		if ind, err := model.IndustryFrom(r); err == nil {
			code = ind.NAICSCode
		} else {
			code = r.Intake.NAICSCode
		}
	}

	b, err := o.store.GetBenchmark(ctx, code)
	if err != nil || b == nil {
		return fmt.Sprintf("no benchmark data available for NAICS %s", code)
	}
	out, mErr := json.Marshal(b)
	if mErr != nil {
		return fmt.Sprintf("no benchmark data available for NAICS %s", code)
	}
	return string(out)
}

func (o *Orchestrator) failReport(ctx context.Context, r *model.Report, status *anthropic.JobStatus) (*Result, error) {
	msg := status.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("generation job %s ended %s", status.JobID, status.State)
	}
	return o.failWithMessage(ctx, r, msg)
}

func (o *Orchestrator) failWithMessage(ctx context.Context, r *model.Report, msg string) (*Result, error) {
	if err := o.store.UpdateReportProgress(ctx, r.ID, r.CurrentPass, nil); err != nil {
		return nil, err
	}
	if err := o.store.UpdateReportStatus(ctx, r.ID, model.ReportStatusFailed, msg); err != nil {
		return nil, err
	}
	zap.L().Error("pipeline: report failed",
		zap.String("report_id", r.ID),
		zap.String("error", msg))
	return &Result{Status: StatusFailed, Pass: r.CurrentPass}, nil
}

// Cancel cooperatively cancels a report. In-flight jobs are not aborted;
// later advance calls observe the status and no-op.
func (o *Orchestrator) Cancel(ctx context.Context, reportID string) error {
	r, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if r == nil {
		return eris.Wrapf(ErrNotFound, "report %s", reportID)
	}
	switch r.Status {
	case model.ReportStatusCompleted, model.ReportStatusFailed, model.ReportStatusCancelled:
		return eris.Errorf("pipeline: report %s is already %s", reportID, r.Status)
	}
	if err := o.store.UpdateReportStatus(ctx, reportID, model.ReportStatusCancelled, ""); err != nil {
		return err
	}
	zap.L().Info("pipeline: report cancelled", zap.String("report_id", reportID))
	return nil
}

// Status returns the read-only progress projection for UI polling.
func (o *Orchestrator) Status(ctx context.Context, reportID string) (*model.StatusProjection, error) {
	r, err := o.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, eris.Wrapf(ErrNotFound, "report %s", reportID)
	}

	proj := &model.StatusProjection{
		ReportID:    r.ID,
		Status:      r.Status,
		Pass:        r.CurrentPass,
		TotalPasses: o.reg.TotalPasses(),
		Progress:    o.reg.Progress(r.Status, r.CurrentPass),
		Message:     r.ErrorMessage,
	}
	if proj.Message == "" {
		if p, ok := o.reg.Pass(r.CurrentPass + 1); ok && r.Status == model.ReportStatusProcessing {
			proj.Message = p.Name
		}
	}
	return proj, nil
}

// sectionFromKey extracts the section from a composite "5:key" output key.
func sectionFromKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return ""
}
