package usage

import (
	"strings"

	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
)

// Reconciler accumulates telemetry and text observed during one streamed call.
// It is driven by a single consumer loop and is not safe for concurrent use.
type Reconciler struct {
	prompt  string
	model   string
	tel     domusage.Telemetry
	output  strings.Builder
	content bool
	err     error
}

// NewReconciler starts a reconciler for a call with prompt. model labels
// the record when the upstream does not report one.
func NewReconciler(prompt, model string) *Reconciler {
	return &Reconciler{prompt: prompt, model: model}
}

// Chunk records dispatched text.
func (r *Reconciler) Chunk(text string) {
	r.content = true
	r.output.WriteString(text)
}

// Usage sums one usage frame into the running totals.
func (r *Reconciler) Usage(u domusage.Telemetry) {
	r.content = true
	r.tel.Add(u)
}

// Fail marks the call as failed. The first error wins.
func (r *Reconciler) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the failure recorded by Fail.
func (r *Reconciler) Err() error { return r.err }

// Output returns the concatenated text chunks.
func (r *Reconciler) Output() string { return r.output.String() }

// Handlers tees consumer callbacks into the reconciler before forwarding them to next.
func (r *Reconciler) Handlers(next stream.Handlers) stream.Handlers {
	return stream.Handlers{
		OnChunk: func(text string) {
			r.Chunk(text)
			if next.OnChunk != nil {
				next.OnChunk(text)
			}
		},
		OnUsage: func(u domusage.Telemetry) {
			r.Usage(u)
			if next.OnUsage != nil {
				next.OnUsage(u)
			}
		},
		OnError: func(err error) {
			r.Fail(err)
			if next.OnError != nil {
				next.OnError(err)
			}
		},
		OnComplete: next.OnComplete,
	}
}

// Telemetry returns the final token accounting: the reported totals when the
// upstream sent a non-zero total, else ceil(chars/4) estimates of prompt and
// output. A call that failed before any content arrived counts zero tokens.
func (r *Reconciler) Telemetry() domusage.Telemetry {
	if r.tel.Reported() {
		t := r.tel
		if t.Model == "" {
			t.Model = r.model
		}
		return t
	}
	model := r.tel.Model
	if model == "" {
		model = r.model
	}
	if r.err != nil && !r.content {
		return domusage.Telemetry{Model: model, Estimated: true}
	}
	return domusage.Estimate(r.prompt, r.output.String(), model)
}

// Finalize builds the single record input for this call.
func (r *Reconciler) Finalize(sc scope.Scope, feature string) RecordInput {
	t := r.Telemetry()
	in := RecordInput{
		Feature:      feature,
		Client:       sc.Client(),
		Unit:         sc.Unit(),
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens,
		Model:        t.Model,
		Estimated:    t.Estimated,
		Status:       domusage.StatusSuccess,
	}
	if r.err != nil {
		in.Status = domusage.StatusError
		in.ErrorMessage = r.err.Error()
	}
	return in
}
