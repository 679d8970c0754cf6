package aigov

import (
	"context"
	"fmt"
	"time"

	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
)

// QuotaStatus is a quota decision or snapshot for one feature.
type QuotaStatus struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	// Message explains a denial. Empty when Allowed.
	Message string
}

func quotaFromDomain(r domquota.Result, msg string) QuotaStatus {
	return QuotaStatus{
		Allowed:   r.Allowed,
		Remaining: r.Remaining,
		Limit:     r.Limit,
		ResetAt:   r.ResetAt,
		Message:   msg,
	}
}

// Consume takes one admission for feature. A denial is reported through
// QuotaStatus.Allowed, not as an error.
func (c *Client) Consume(ctx context.Context, client, unit, feature string) (_ QuotaStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("quota.consume", start, err) }()

	sc, err := scope.New(client, unit)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("consume: %w", err)
	}
	res, msg, err := c.featureSvc.Consume(ctx, sc, feature)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("consume: %w", err)
	}
	return quotaFromDomain(res, msg), nil
}

// Status reports the quota of feature without consuming it.
func (c *Client) Status(ctx context.Context, client, unit, feature string) (_ QuotaStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("quota.status", start, err) }()

	sc, err := scope.New(client, unit)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("status: %w", err)
	}
	res, err := c.featureSvc.Status(ctx, sc, feature)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("status: %w", err)
	}
	return quotaFromDomain(res, ""), nil
}
