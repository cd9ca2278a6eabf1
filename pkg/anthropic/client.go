// Package anthropic wraps the generative text service behind a small
// async-job interface: submit a generation, poll its state, optionally answer
// a tool-result request, read the terminal output. The pipeline never talks
// to the SDK directly.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/valuation-pipeline/internal/resilience"
)

// RunState is the observable state of a generation job.
type RunState string

const (
	StateQueued         RunState = "queued"
	StateInProgress     RunState = "in_progress"
	StateRequiresAction RunState = "requires_action"
	StateCompleted      RunState = "completed"
	StateFailed         RunState = "failed"
	StateCancelled      RunState = "cancelled"
	StateExpired        RunState = "expired"
)

// Terminal reports whether a state ends the job.
func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// ToolDef declares a structured-extraction tool the model may call.
type ToolDef struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// GenerationRequest is one pass's generation: a system instruction, the
// assembled user context, and an optional tool schema.
type GenerationRequest struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	System      string
	Context     string
	Tools       []ToolDef
}

// ToolCall is the model's request for structured tool output.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TokenUsage tracks token consumption for budget accounting.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// JobStatus is a snapshot of a generation job.
type JobStatus struct {
	JobID        string
	State        RunState
	Text         string
	ToolCall     *ToolCall
	ErrorMessage string
	Usage        TokenUsage
}

// Client is the generative-service surface the orchestrator depends on.
type Client interface {
	// StartJob submits a generation and returns its external job id.
	StartJob(ctx context.Context, req GenerationRequest) (string, error)

	// PollJob returns the job's current state; terminal states carry the
	// output text or error message.
	PollJob(ctx context.Context, jobID string) (*JobStatus, error)

	// SubmitToolResults answers a requires_action state by continuing the
	// conversation with the given tool result, returning the follow-up job id.
	SubmitToolResults(ctx context.Context, req GenerationRequest, call ToolCall, result string) (string, error)
}

// sdkClient implements Client over the Message Batches API: one request per
// batch, so the batch id doubles as the job id.
type sdkClient struct {
	client  sdk.Client
	limiter *rate.Limiter
}

// NewClient creates a Client backed by the official SDK. Poll calls are rate
// limited so overlapping advance invocations cannot hammer the service.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

// jobCustomID is the fixed custom id for the single request in each batch.
const jobCustomID = "job-0"

// classify wraps an SDK failure, tagging it transient when the HTTP status is
// retryable so callers never depend on error-message text for that decision.
func classify(op string, err error) error {
	wrapped := eris.Wrap(err, "anthropic: "+op)
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(wrapped, apiErr.StatusCode)
	}
	return wrapped
}

func (c *sdkClient) retryCfg(op string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", op)
	return cfg
}

// submitBatch creates a one-request batch under the retry schedule.
func (c *sdkClient) submitBatch(ctx context.Context, op string, params sdk.MessageBatchNewParams) (string, error) {
	batch, err := resilience.DoVal(ctx, c.retryCfg(op), func(ctx context.Context) (*sdk.MessageBatch, error) {
		b, err := c.client.Messages.Batches.New(ctx, params)
		if err != nil {
			return nil, classify(op, err)
		}
		return b, nil
	})
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}

func (c *sdkClient) StartJob(ctx context.Context, req GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "anthropic: rate limit wait")
	}

	return c.submitBatch(ctx, "start job", sdk.MessageBatchNewParams{
		Requests: []sdk.MessageBatchNewParamsRequest{{
			CustomID: jobCustomID,
			Params:   toParams(req, initialMessages(req)),
		}},
	})
}

func (c *sdkClient) PollJob(ctx context.Context, jobID string) (*JobStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limit wait")
	}

	op := fmt.Sprintf("poll job %s", jobID)
	batch, err := resilience.DoVal(ctx, c.retryCfg(op), func(ctx context.Context) (*sdk.MessageBatch, error) {
		b, err := c.client.Messages.Batches.Get(ctx, jobID)
		if err != nil {
			return nil, classify(op, err)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	status := &JobStatus{JobID: jobID}
	switch batch.ProcessingStatus {
	case "in_progress":
		if batch.RequestCounts.Processing > 0 {
			status.State = StateInProgress
		} else {
			status.State = StateQueued
		}
		return status, nil
	case "canceling":
		status.State = StateCancelled
		return status, nil
	case "ended":
		return c.readResult(ctx, jobID)
	default:
		status.State = StateQueued
		return status, nil
	}
}

// readResult streams the single batch result and maps it to a job status.
func (c *sdkClient) readResult(ctx context.Context, jobID string) (*JobStatus, error) {
	stream := c.client.Messages.Batches.ResultsStreaming(ctx, jobID)
	defer stream.Close()

	status := &JobStatus{JobID: jobID, State: StateFailed, ErrorMessage: "no result returned"}
	for stream.Next() {
		item := stream.Current()
		if item.CustomID != jobCustomID {
			continue
		}
		switch item.Result.Type {
		case "succeeded":
			msg := item.Result.Message
			fillFromMessage(status, &msg)
		case "errored":
			status.State = StateFailed
			status.ErrorMessage = item.Result.Error.Error.Message
		case "canceled":
			status.State = StateCancelled
			status.ErrorMessage = "job canceled by service"
		case "expired":
			status.State = StateExpired
			status.ErrorMessage = "job expired before completion"
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(fmt.Sprintf("read job result %s", jobID), err)
	}
	return status, nil
}

func fillFromMessage(status *JobStatus, msg *sdk.Message) {
	status.Usage = TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}

	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "tool_use":
			status.ToolCall = &ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.Input),
			}
		}
	}
	status.Text = text

	if string(msg.StopReason) == "tool_use" && status.ToolCall != nil {
		status.State = StateRequiresAction
		status.ErrorMessage = ""
		return
	}
	status.State = StateCompleted
	status.ErrorMessage = ""
}

func (c *sdkClient) SubmitToolResults(ctx context.Context, req GenerationRequest, call ToolCall, result string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "anthropic: rate limit wait")
	}

	messages := initialMessages(req)
	messages = append(messages,
		sdk.NewAssistantMessage(sdk.ContentBlockParamUnion{
			OfToolUse: &sdk.ToolUseBlockParam{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			},
		}),
		sdk.NewUserMessage(sdk.ContentBlockParamUnion{
			OfToolResult: &sdk.ToolResultBlockParam{
				ToolUseID: call.ID,
				Content: []sdk.ToolResultBlockParamContentUnion{
					{OfText: &sdk.TextBlockParam{Text: result}},
				},
			},
		}),
	)

	return c.submitBatch(ctx, "submit tool results", sdk.MessageBatchNewParams{
		Requests: []sdk.MessageBatchNewParamsRequest{{
			CustomID: jobCustomID,
			Params:   toParams(req, messages),
		}},
	})
}

func initialMessages(req GenerationRequest) []sdk.MessageParam {
	return []sdk.MessageParam{
		sdk.NewUserMessage(sdk.NewTextBlock(req.Context)),
	}
}

func toParams(req GenerationRequest, messages []sdk.MessageParam) sdk.MessageBatchNewParamsRequestParams {
	params := sdk.MessageBatchNewParamsRequestParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	// Zero is a deliberate choice for extraction passes, so always send it.
	params.Temperature = sdk.Float(req.Temperature)
	for _, t := range req.Tools {
		tool := sdk.ToolParam{
			Name: t.Name,
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: t.Properties,
				Required:   t.Required,
			},
		}
		if t.Description != "" {
			tool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: &tool})
	}
	return params
}
