package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	"github.com/kailas-cloud/aigov/internal/logger"
	"github.com/kailas-cloud/aigov/internal/metrics"
)

// Governor admits feature calls against per-scope sliding windows.
type Governor struct {
	ledger Ledger
	limits domquota.Limits
	now    func() time.Time
	logger *zap.Logger
}

// New creates a governor.
func New(ledger Ledger, limits domquota.Limits) *Governor {
	return &Governor{
		ledger: ledger,
		limits: limits,
		now:    time.Now,
		logger: zap.NewNop(),
	}
}

// WithClock overrides the time source.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// WithLogger sets the logger used for admission decisions.
func (g *Governor) WithLogger(l *zap.Logger) *Governor {
	g.logger = l
	return g
}

// Consume counts one admission for (sc, feature). A denial is a normal result, not an error.
// The arithmetic runs inside a single ledger transaction; the ledger retries conflicts,
// and only the decision from the attempt that committed is returned.
func (g *Governor) Consume(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, error) {
	if err := scope.ValidateFeature(feature); err != nil {
		return domquota.Result{}, err //nolint:wrapcheck // domain validation error
	}

	limit := g.limits.For(feature)
	now := g.now().UTC()

	var res domquota.Result
	err := g.ledger.Update(ctx, sc, feature, func(stored *domquota.Window) (domquota.Window, bool, error) {
		next, r, write := domquota.Decide(stored, limit, now)
		res = r
		return next, write, nil
	})
	if err != nil {
		return domquota.Result{}, fmt.Errorf("consume quota: %w", err)
	}

	l := logger.WithScope(g.logger, sc.Key(), feature)
	if res.Allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues(feature, "allowed").Inc()
		l.Debug("Quota admitted",
			zap.Int("remaining", res.Remaining),
			zap.Int("limit", res.Limit),
		)
	} else {
		metrics.QuotaDecisionsTotal.WithLabelValues(feature, "denied").Inc()
		l.Info("Quota exceeded",
			zap.Int("limit", res.Limit),
			zap.Time("reset_at", res.ResetAt),
		)
	}
	return res, nil
}

// Status reports the window as the next Consume would see it. It never writes.
func (g *Governor) Status(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, error) {
	if err := scope.ValidateFeature(feature); err != nil {
		return domquota.Result{}, err //nolint:wrapcheck // domain validation error
	}

	w, err := g.ledger.Get(ctx, sc, feature)
	if err != nil {
		return domquota.Result{}, fmt.Errorf("quota status: %w", err)
	}
	return domquota.Peek(w, g.limits.For(feature), g.now().UTC()), nil
}

// DenialMessage renders a user-facing explanation with a human-readable reset time.
func (g *Governor) DenialMessage(feature string, res domquota.Result) string {
	return DenialMessage(feature, res, g.now())
}

// DenialMessage renders a denial relative to now, e.g. "... try again 3 hours from now".
func DenialMessage(feature string, res domquota.Result, now time.Time) string {
	return fmt.Sprintf("%s limit of %d requests per 24h reached; try again %s (%s)",
		feature, res.Limit,
		humanize.RelTime(res.ResetAt, now, "ago", "from now"),
		res.ResetAt.UTC().Format(time.RFC1123),
	)
}
