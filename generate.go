package aigov

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/aigov/internal/domain/scope"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
)

// GenerateRequest is one governed generation call.
type GenerateRequest struct {
	Client  string
	Unit    string
	Feature string
	Prompt  string
	// Model is forwarded to the upstream. Empty uses the upstream default.
	Model  string
	Params map[string]any
}

// GenerateResult describes a finished call.
type GenerateResult struct {
	// Quota is the status after the call, or the denial.
	Quota QuotaStatus
	// Usage is the recorded accounting entry.
	Usage UsageRecord
	// Recorded is false when the usage entry could not be persisted.
	Recorded bool
	// StreamErr is the upstream failure. The call still counted against the quota.
	StreamErr error
}

// Generate consumes one admission, streams the upstream response to onChunk
// and records the usage of the call. onChunk may be nil.
//
// A denial returns an error wrapping ErrQuotaExceeded and a result whose
// Quota explains it. Upstream failures are reported in StreamErr.
func (c *Client) Generate(
	ctx context.Context, req GenerateRequest, onChunk func(text string),
) (_ GenerateResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("generate", start, err) }()

	if !c.hasUpstream {
		return GenerateResult{}, fmt.Errorf("generate: %w", ErrUpstreamUnavailable)
	}
	sc, err := scope.New(req.Client, req.Unit)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("generate: %w", err)
	}

	out, err := c.featureSvc.Generate(ctx, featureuc.Request{
		Scope:   sc,
		Feature: req.Feature,
		Prompt:  req.Prompt,
		Model:   req.Model,
		Params:  req.Params,
	}, featureuc.Sink{
		OnChunk: onChunk,
	})
	if err != nil {
		return GenerateResult{Quota: quotaFromDomain(out.Quota, out.Message)}, fmt.Errorf("generate: %w", err)
	}

	return GenerateResult{
		Quota:     quotaFromDomain(out.Quota, ""),
		Usage:     usageFromDomain(out.Usage),
		Recorded:  out.Recorded,
		StreamErr: out.StreamErr,
	}, nil
}
