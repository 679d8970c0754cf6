package feature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/domain"
	"github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/logger"
	"github.com/kailas-cloud/aigov/internal/metrics"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
	"github.com/kailas-cloud/aigov/internal/usecase/usage"
)

// Request is one governed generation call.
type Request struct {
	Scope   scope.Scope
	Feature string
	Prompt  string
	Model   string
	Params  map[string]any
}

// Sink receives progress of an admitted call. Both fields are optional.
type Sink struct {
	// OnAdmit fires once, after the quota admitted the call and before streaming.
	OnAdmit func(res quota.Result)
	// OnChunk receives text in arrival order.
	OnChunk func(text string)
}

// Outcome describes a finished call.
type Outcome struct {
	// Admission is the quota decision taken before streaming.
	Admission quota.Result
	// Message explains a denial.
	Message string
	// StreamErr is the upstream failure, if the stream did not end cleanly.
	StreamErr error
	// Usage is the reconciled record. Recorded is false when persisting it failed.
	Usage    domusage.Record
	Recorded bool
	// Quota is the status after the call.
	Quota quota.Result
}

// Service runs the quota, stream, reconcile and record sequence for one call.
type Service struct {
	governor Governor
	streamer Streamer
	recorder UsageRecorder
	now      func() time.Time
}

// New creates a Service.
func New(g Governor, s Streamer, r UsageRecorder) *Service {
	return &Service{
		governor: g,
		streamer: s,
		recorder: r,
		now:      time.Now,
	}
}

// WithClock overrides the time source used for stream duration.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate consumes one quota admission, streams the upstream response into
// sink and records exactly one usage event. A denial returns an error wrapping
// domain.ErrQuotaExceeded together with the decision. Upstream failures are
// reported in Outcome.StreamErr, not as the returned error.
func (s *Service) Generate(ctx context.Context, req Request, sink Sink) (Outcome, error) {
	log := logger.WithScope(logger.FromContext(ctx), req.Scope.Key(), req.Feature)

	res, err := s.governor.Consume(ctx, req.Scope, req.Feature)
	if err != nil {
		return Outcome{}, err //nolint:wrapcheck // already wrapped by the governor
	}
	if !res.Allowed {
		msg := s.governor.DenialMessage(req.Feature, res)
		return Outcome{Admission: res, Message: msg, Quota: res},
			fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, msg)
	}
	if sink.OnAdmit != nil {
		sink.OnAdmit(res)
	}

	rec := usage.NewReconciler(req.Prompt, req.Model)
	started := s.now()
	streamErr := s.streamer.Consume(ctx, stream.Request{
		Feature: req.Feature,
		Prompt:  req.Prompt,
		Model:   req.Model,
		Params:  req.Params,
	}, rec.Handlers(stream.Handlers{OnChunk: sink.OnChunk}))

	input := rec.Finalize(req.Scope, req.Feature)
	metrics.StreamDuration.WithLabelValues(req.Feature, string(input.Status)).
		Observe(s.now().Sub(started).Seconds())
	if streamErr != nil {
		log.Warn("Upstream stream failed", zap.Error(streamErr))
	}

	out := Outcome{Admission: res, StreamErr: streamErr}

	// Recording is best effort and must not fail an already delivered call.
	// It runs detached from cancellation so an aborted client is still accounted.
	out.Usage, err = s.recorder.RecordFeatureUsage(context.WithoutCancel(ctx), input)
	if err != nil {
		log.Error("Usage recording failed", zap.Error(err))
		// storage failures are already counted by the recorder
		if !errors.Is(err, domain.ErrRecording) {
			metrics.UsageRecordingErrorsTotal.WithLabelValues(req.Feature).Inc()
		}
	} else {
		out.Recorded = true
	}

	status, err := s.governor.Status(context.WithoutCancel(ctx), req.Scope, req.Feature)
	if err != nil {
		log.Warn("Quota status refresh failed", zap.Error(err))
		status = res
	}
	out.Quota = status

	return out, nil
}

// Consume takes one admission without calling the upstream.
func (s *Service) Consume(ctx context.Context, sc scope.Scope, feature string) (quota.Result, string, error) {
	res, err := s.governor.Consume(ctx, sc, feature)
	if err != nil {
		return quota.Result{}, "", err //nolint:wrapcheck // already wrapped by the governor
	}
	if !res.Allowed {
		return res, s.governor.DenialMessage(feature, res), nil
	}
	return res, "", nil
}

// Status reports the quota without consuming it.
func (s *Service) Status(ctx context.Context, sc scope.Scope, feature string) (quota.Result, error) {
	return s.governor.Status(ctx, sc, feature) //nolint:wrapcheck // already wrapped by the governor
}
