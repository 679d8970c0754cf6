package health

import "context"

// DBPinger checks ledger store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker checks the generative upstream.
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) error
}
