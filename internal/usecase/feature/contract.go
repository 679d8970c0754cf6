package feature

import (
	"context"

	"github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
	"github.com/kailas-cloud/aigov/internal/usecase/usage"
)

// Governor admits calls against the per-feature quota.
type Governor interface {
	Consume(ctx context.Context, sc scope.Scope, feature string) (quota.Result, error)
	Status(ctx context.Context, sc scope.Scope, feature string) (quota.Result, error)
	DenialMessage(feature string, res quota.Result) string
}

// Streamer drives one upstream stream to completion.
type Streamer interface {
	Consume(ctx context.Context, req stream.Request, h stream.Handlers) error
}

// UsageRecorder persists the record of a finished call.
type UsageRecorder interface {
	RecordFeatureUsage(ctx context.Context, in usage.RecordInput) (domusage.Record, error)
}
