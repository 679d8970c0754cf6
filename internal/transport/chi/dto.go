package chi

import (
	"time"

	"github.com/kailas-cloud/aigov/internal/domain/quota"
	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

type quotaResponse struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	Message   string    `json:"message,omitempty"`
}

func quotaToResponse(res quota.Result, message string) quotaResponse {
	return quotaResponse{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		ResetAt:   res.ResetAt.UTC(),
		Message:   message,
	}
}

// deniedResponse is the 429 body: the decision plus an error code.
type deniedResponse struct {
	Code ErrorCode `json:"code"`
	quotaResponse
}

type generateRequest struct {
	Prompt string         `json:"prompt"`
	Model  string         `json:"model,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type recordUsageRequest struct {
	Feature      string    `json:"feature"`
	Client       string    `json:"client"`
	Unit         string    `json:"unit"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	Model        string    `json:"model"`
	Estimated    bool      `json:"estimated"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r recordUsageRequest) toInput() usageuc.RecordInput {
	return usageuc.RecordInput{
		Feature:      r.Feature,
		Client:       r.Client,
		Unit:         r.Unit,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		Model:        r.Model,
		Estimated:    r.Estimated,
		Status:       domusage.Status(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
}

type eventsResponse struct {
	Items []domusage.Record `json:"items"`
	Total int               `json:"total"`
}

// usageFrame carries the usage object Classify recognises plus the stored record.
type usageFrame struct {
	Usage    domstream.UsageBody `json:"usage"`
	Record   domusage.Record     `json:"record"`
	Recorded bool                `json:"recorded"`
}

type errorFrame struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
