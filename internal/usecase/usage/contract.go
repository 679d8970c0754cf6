package usage

import (
	"context"

	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
)

// Recorder durably stores usage events and daily rollups.
type Recorder interface {
	Append(ctx context.Context, rec domusage.Record) error
	Events(ctx context.Context, client, unit, date string) ([]domusage.Record, error)
	Daily(ctx context.Context, client, unit, date string) (domusage.Daily, error)
}
