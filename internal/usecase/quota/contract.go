package quota

import (
	"context"

	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	repoquota "github.com/kailas-cloud/aigov/internal/repository/quota"
)

// Ledger is the transactional window store.
type Ledger interface {
	Update(ctx context.Context, sc scope.Scope, feature string, fn repoquota.UpdateFunc) error
	Get(ctx context.Context, sc scope.Scope, feature string) (*domquota.Window, error)
}
