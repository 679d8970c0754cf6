package aigov

import (
	"context"

	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
	healthuc "github.com/kailas-cloud/aigov/internal/usecase/health"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

// --- featureUseCase mock ---

type mockFeatureUC struct {
	consumeFn  func(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, string, error)
	statusFn   func(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, error)
	generateFn func(ctx context.Context, req featureuc.Request, sink featureuc.Sink) (featureuc.Outcome, error)
}

func (m *mockFeatureUC) Consume(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, string, error) {
	return m.consumeFn(ctx, sc, feature)
}

func (m *mockFeatureUC) Status(ctx context.Context, sc scope.Scope, feature string) (domquota.Result, error) {
	return m.statusFn(ctx, sc, feature)
}

func (m *mockFeatureUC) Generate(
	ctx context.Context, req featureuc.Request, sink featureuc.Sink,
) (featureuc.Outcome, error) {
	return m.generateFn(ctx, req, sink)
}

// --- usageUseCase mock ---

type mockUsageUC struct {
	recordFn func(ctx context.Context, in usageuc.RecordInput) (domusage.Record, error)
	dailyFn  func(ctx context.Context, sc scope.Scope, date string) (domusage.Daily, error)
	eventsFn func(ctx context.Context, sc scope.Scope, date string) ([]domusage.Record, error)
}

func (m *mockUsageUC) RecordFeatureUsage(ctx context.Context, in usageuc.RecordInput) (domusage.Record, error) {
	return m.recordFn(ctx, in)
}

func (m *mockUsageUC) DailyReport(ctx context.Context, sc scope.Scope, date string) (domusage.Daily, error) {
	return m.dailyFn(ctx, sc, date)
}

func (m *mockUsageUC) Events(ctx context.Context, sc scope.Scope, date string) ([]domusage.Record, error) {
	return m.eventsFn(ctx, sc, date)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(_ context.Context) healthuc.Report { return m.report }

// --- helpers ---

func testClient(featureSvc featureUseCase, usageSvc usageUseCase) *Client {
	return &Client{
		featureSvc:  featureSvc,
		usageSvc:    usageSvc,
		hasUpstream: true,
	}
}
