// Package pipeline orchestrates the valuation passes: a pure decision core
// over report snapshots and polled job states, wrapped in a thin shell that
// does the store and generation-service I/O. Every advance call makes at most
// one unit of forward progress and is safe to repeat.
package pipeline

import (
	"github.com/sells-group/valuation-pipeline/internal/gates"
	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/pkg/anthropic"
)

// Step is the single side effect an advance invocation should perform for a
// given report snapshot.
type Step int

const (
	// StepNone means the report is terminal; advance is a no-op.
	StepNone Step = iota
	// StepPoll means a job is in flight. Observers only poll, never submit a
	// second job; the persisted in-flight id is the soft lock.
	StepPoll
	// StepStart means no job is in flight and passes remain.
	StepStart
	// StepFinalize means every pass output is persisted; run the engine,
	// reconciliation, and the gate chain.
	StepFinalize
)

// NextStep decides the step for a report snapshot. Pure.
func NextStep(r *model.Report, totalPasses int) Step {
	switch r.Status {
	case model.ReportStatusCompleted, model.ReportStatusFailed, model.ReportStatusCancelled:
		return StepNone
	}
	if r.InFlight != nil {
		return StepPoll
	}
	if r.CurrentPass+1 >= totalPasses {
		return StepFinalize
	}
	return StepStart
}

// Reaction is the orchestrator's response to a polled job state.
type Reaction int

const (
	// ReactionWait: the job is still running; report processing and return.
	ReactionWait Reaction = iota
	// ReactionPersist: the job succeeded; parse and persist the output.
	ReactionPersist
	// ReactionToolRound: the service wants structured tool results.
	ReactionToolRound
	// ReactionFail: terminal failure; mark the report failed with the
	// upstream message.
	ReactionFail
)

// React classifies a polled run state. Pure.
func React(state anthropic.RunState) Reaction {
	switch state {
	case anthropic.StateCompleted:
		return ReactionPersist
	case anthropic.StateRequiresAction:
		return ReactionToolRound
	case anthropic.StateFailed, anthropic.StateCancelled, anthropic.StateExpired:
		return ReactionFail
	default:
		return ReactionWait
	}
}

// Status is the outcome of one advance invocation.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Result summarizes one advance invocation for the caller.
type Result struct {
	Status   Status     `json:"status"`
	Pass     int        `json:"pass"`
	PassName string     `json:"pass_name,omitempty"`
	Blocked  *Rejection `json:"blocked,omitempty"`
}

// Rejection is the structured payload returned when finalization is blocked
// by the gate chain or regeneration lacks required pass outputs. It carries
// enough detail to drive a targeted retry of only the implicated pass.
type Rejection struct {
	Success       bool           `json:"success"`
	Gates         []gates.Result `json:"gates,omitempty"`
	MissingPasses []string       `json:"missing_passes,omitempty"`
	Hint          string         `json:"hint"`
}
