package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/pkg/anthropic"
)

func TestNextStep(t *testing.T) {
	inFlight := &model.InFlightJob{JobID: "batch-1", PassID: 0}

	tests := []struct {
		name   string
		report model.Report
		want   Step
	}{
		{"pending fresh", model.Report{Status: model.ReportStatusPending, CurrentPass: model.NotStarted}, StepStart},
		{"processing mid-run", model.Report{Status: model.ReportStatusProcessing, CurrentPass: 2}, StepStart},
		{"in-flight wins over start", model.Report{Status: model.ReportStatusProcessing, CurrentPass: 2, InFlight: inFlight}, StepPoll},
		{"all passes done", model.Report{Status: model.ReportStatusProcessing, CurrentPass: 5}, StepFinalize},
		{"completed", model.Report{Status: model.ReportStatusCompleted, CurrentPass: 5}, StepNone},
		{"failed", model.Report{Status: model.ReportStatusFailed, CurrentPass: 1}, StepNone},
		{"cancelled with in-flight", model.Report{Status: model.ReportStatusCancelled, CurrentPass: 1, InFlight: inFlight}, StepNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStep(&tt.report, 6))
		})
	}
}

func TestReact(t *testing.T) {
	assert.Equal(t, ReactionWait, React(anthropic.StateQueued))
	assert.Equal(t, ReactionWait, React(anthropic.StateInProgress))
	assert.Equal(t, ReactionToolRound, React(anthropic.StateRequiresAction))
	assert.Equal(t, ReactionPersist, React(anthropic.StateCompleted))
	assert.Equal(t, ReactionFail, React(anthropic.StateFailed))
	assert.Equal(t, ReactionFail, React(anthropic.StateCancelled))
	assert.Equal(t, ReactionFail, React(anthropic.StateExpired))
}

func TestSectionFromKey(t *testing.T) {
	assert.Equal(t, "executive_summary", sectionFromKey("5:executive_summary"))
	assert.Equal(t, "", sectionFromKey("3"))
}
