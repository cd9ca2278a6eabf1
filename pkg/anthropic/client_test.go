package anthropic

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-pipeline/internal/resilience"
)

func TestRunStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateInProgress.Terminal())
	assert.False(t, StateRequiresAction.Terminal())
}

func TestFillFromMessageText(t *testing.T) {
	msg := &sdk.Message{
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		},
		Usage: sdk.Usage{InputTokens: 120, OutputTokens: 45},
	}

	status := &JobStatus{JobID: "batch-1"}
	fillFromMessage(status, msg)

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, "first\nsecond", status.Text)
	assert.Nil(t, status.ToolCall)
	assert.Equal(t, int64(120), status.Usage.InputTokens)
	assert.Equal(t, int64(45), status.Usage.OutputTokens)
}

func TestFillFromMessageToolUse(t *testing.T) {
	msg := &sdk.Message{
		StopReason: "tool_use",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "looking up comps"},
			{
				Type:  "tool_use",
				ID:    "toolu_01",
				Name:  "lookup_market_multiples",
				Input: json.RawMessage(`{"naics_code":"722511"}`),
			},
		},
	}

	status := &JobStatus{JobID: "batch-2"}
	fillFromMessage(status, msg)

	assert.Equal(t, StateRequiresAction, status.State)
	require.NotNil(t, status.ToolCall)
	assert.Equal(t, "toolu_01", status.ToolCall.ID)
	assert.Equal(t, "lookup_market_multiples", status.ToolCall.Name)
	assert.JSONEq(t, `{"naics_code":"722511"}`, string(status.ToolCall.Input))
}

func TestFillFromMessageToolUseStopWithoutBlock(t *testing.T) {
	// Defensive: stop_reason says tool_use but no tool_use block came back.
	msg := &sdk.Message{
		StopReason: "tool_use",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "partial output"},
		},
	}

	status := &JobStatus{JobID: "batch-3"}
	fillFromMessage(status, msg)

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, "partial output", status.Text)
}

func TestToParams(t *testing.T) {
	req := GenerationRequest{
		Model:       "claude-sonnet-4-5",
		MaxTokens:   4096,
		Temperature: 0.3,
		System:      "You are a business appraiser.",
		Context:     "Financial statements follow.",
		Tools: []ToolDef{{
			Name:        "record_financials",
			Description: "Record extracted financial statement data",
			Properties: map[string]any{
				"revenue": map[string]any{"type": "number"},
			},
			Required: []string{"revenue"},
		}},
	}

	params := toParams(req, initialMessages(req))

	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), params.Model)
	assert.Equal(t, int64(4096), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "You are a business appraiser.", params.System[0].Text)
	assert.True(t, params.Temperature.Valid())
	assert.Equal(t, 0.3, params.Temperature.Value)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	assert.Equal(t, "record_financials", params.Tools[0].OfTool.Name)
	assert.Equal(t, []string{"revenue"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestToParamsOmitsOptionalFields(t *testing.T) {
	params := toParams(GenerationRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
		Context:   "hello",
	}, initialMessages(GenerationRequest{Context: "hello"}))

	assert.Empty(t, params.System)
	assert.True(t, params.Temperature.Valid())
	assert.Equal(t, 0.0, params.Temperature.Value)
	assert.Empty(t, params.Tools)
}

func apiError(status int) *sdk.Error {
	// The SDK's Error method dereferences both the request and the response.
	return &sdk.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages/batches", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func TestClassifyTagsRetryableStatuses(t *testing.T) {
	for _, status := range []int{429, 500, 503, 504} {
		err := classify("start job", apiError(status))
		assert.True(t, resilience.IsTransient(err), "status %d should be transient", status)
		assert.Contains(t, err.Error(), "anthropic: start job")
	}
}

func TestClassifyLeavesClientErrorsPermanent(t *testing.T) {
	for _, status := range []int{400, 401, 404, 422} {
		err := classify("start job", apiError(status))
		assert.False(t, resilience.IsTransient(err), "status %d should not be transient", status)
	}
}

func TestClassifyWrapsNonAPIErrors(t *testing.T) {
	err := classify("poll job batch-1", errors.New("stream decode failed"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "anthropic: poll job batch-1")
}

func TestClassifySurvivesFurtherWrapping(t *testing.T) {
	err := eris.Wrap(classify("poll job batch-2", apiError(503)), "pipeline: poll")
	assert.True(t, resilience.IsTransient(err))
}
