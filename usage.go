package aigov

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

// UsageStatus is the outcome of a recorded call.
type UsageStatus string

// UsageStatus constants.
const (
	UsageSuccess UsageStatus = "success"
	UsageError   UsageStatus = "error"
)

// UsageInput is a usage entry reported by the caller.
type UsageInput struct {
	Client       string
	Unit         string
	Feature      string
	InputTokens  int64
	OutputTokens int64
	// TotalTokens defaults to InputTokens+OutputTokens when zero.
	TotalTokens  int64
	Model        string
	Estimated    bool
	Status       UsageStatus
	ErrorMessage string
}

// UsageRecord is a persisted usage entry.
type UsageRecord struct {
	ID           string
	Client       string
	Unit         string
	Feature      string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Model        string
	Estimated    bool
	Status       UsageStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// UsageTotals are the counters of a daily rollup.
type UsageTotals struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	LastStatus   UsageStatus
}

// DailyUsage is the rollup of one scope for one UTC date.
type DailyUsage struct {
	Client   string
	Unit     string
	Date     string
	Features map[string]UsageTotals
	Total    UsageTotals
}

func usageFromDomain(r domusage.Record) UsageRecord {
	return UsageRecord{
		ID:           r.ID,
		Client:       r.Client,
		Unit:         r.Unit,
		Feature:      r.Feature,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		Model:        r.Model,
		Estimated:    r.Estimated,
		Status:       UsageStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
}

func totalsFromDomain(t domusage.Totals) UsageTotals {
	return UsageTotals{
		Requests:     t.Requests,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens,
		LastStatus:   UsageStatus(t.LastStatus),
	}
}

// RecordUsage persists a usage entry for a call made outside Generate.
func (c *Client) RecordUsage(ctx context.Context, in UsageInput) (_ UsageRecord, err error) {
	start := time.Now()
	defer func() { c.obs.observe("usage.record", start, err) }()

	rec, err := c.usageSvc.RecordFeatureUsage(ctx, usageuc.RecordInput{
		Feature:      in.Feature,
		Client:       in.Client,
		Unit:         in.Unit,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		TotalTokens:  in.TotalTokens,
		Model:        in.Model,
		Estimated:    in.Estimated,
		Status:       domusage.Status(in.Status),
		ErrorMessage: in.ErrorMessage,
	})
	if err != nil {
		return UsageRecord{}, fmt.Errorf("record usage: %w", err)
	}
	return usageFromDomain(rec), nil
}

// DailyUsage returns the rollup of a scope for date (YYYY-MM-DD). An empty date means today (UTC).
func (c *Client) DailyUsage(ctx context.Context, client, unit, date string) (_ DailyUsage, err error) {
	start := time.Now()
	defer func() { c.obs.observe("usage.daily", start, err) }()

	sc, err := scope.New(client, unit)
	if err != nil {
		return DailyUsage{}, fmt.Errorf("daily usage: %w", err)
	}
	d, err := c.usageSvc.DailyReport(ctx, sc, date)
	if err != nil {
		return DailyUsage{}, fmt.Errorf("daily usage: %w", err)
	}

	features := make(map[string]UsageTotals, len(d.Features))
	for name, t := range d.Features {
		features[name] = totalsFromDomain(t)
	}
	return DailyUsage{
		Client:   d.Client,
		Unit:     d.Unit,
		Date:     d.Date,
		Features: features,
		Total:    totalsFromDomain(d.Total),
	}, nil
}

// UsageEvents returns the entries of a scope for date, oldest first.
func (c *Client) UsageEvents(ctx context.Context, client, unit, date string) (_ []UsageRecord, err error) {
	start := time.Now()
	defer func() { c.obs.observe("usage.events", start, err) }()

	sc, err := scope.New(client, unit)
	if err != nil {
		return nil, fmt.Errorf("usage events: %w", err)
	}
	evs, err := c.usageSvc.Events(ctx, sc, date)
	if err != nil {
		return nil, fmt.Errorf("usage events: %w", err)
	}
	out := make([]UsageRecord, 0, len(evs))
	for _, e := range evs {
		out = append(out, usageFromDomain(e))
	}
	return out, nil
}
