package usage

import (
	"time"
	"unicode/utf8"
)

// Status is the outcome of a streamed call.
type Status string

// Record status constants.
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	return s == StatusSuccess || s == StatusError
}

// Telemetry is token accounting for one call, reported or estimated.
type Telemetry struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Model        string
	Estimated    bool
}

// Add sums token counts. The last non-empty model wins and Estimated is sticky.
func (t *Telemetry) Add(d Telemetry) {
	t.InputTokens += nonNegative(d.InputTokens)
	t.OutputTokens += nonNegative(d.OutputTokens)
	t.TotalTokens += nonNegative(d.TotalTokens)
	if d.Model != "" {
		t.Model = d.Model
	}
	t.Estimated = t.Estimated || d.Estimated
}

// Reported reports whether an upstream supplied a non-zero total.
func (t Telemetry) Reported() bool { return t.TotalTokens > 0 }

// EstimateTokens approximates tokens as ceil(runes/4), minimum 1 for non-empty text.
func EstimateTokens(text string) int64 {
	n := int64(utf8.RuneCountInString(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Estimate derives telemetry from prompt and output text lengths.
func Estimate(prompt, output, model string) Telemetry {
	in := EstimateTokens(prompt)
	out := EstimateTokens(output)
	return Telemetry{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
		Model:        model,
		Estimated:    true,
	}
}

// Record is the write-once accounting entry for one streamed call.
type Record struct {
	ID           string    `json:"id"`
	Feature      string    `json:"feature"`
	Client       string    `json:"client"`
	Unit         string    `json:"unit"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	Model        string    `json:"model,omitempty"`
	Estimated    bool      `json:"estimated"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Telemetry returns the record's token fields.
func (r Record) Telemetry() Telemetry {
	return Telemetry{
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		Model:        r.Model,
		Estimated:    r.Estimated,
	}
}

// Totals are the monotonic counters of a daily rollup.
type Totals struct {
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	LastStatus   Status `json:"last_status,omitempty"`
}

// Daily is the per-scope rollup for one UTC date.
type Daily struct {
	Client   string            `json:"client"`
	Unit     string            `json:"unit"`
	Date     string            `json:"date"`
	Features map[string]Totals `json:"features"`
	Total    Totals            `json:"total"`
}

// DateKey formats t as the UTC date used to key daily rollups.
func DateKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
