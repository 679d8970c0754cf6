package aigov

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kailas-cloud/aigov/internal/domain"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
	healthuc "github.com/kailas-cloud/aigov/internal/usecase/health"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

var resetAt = time.Date(2026, 5, 21, 12, 0, 0, 0, time.UTC)

// --- Quota ---

func TestConsume(t *testing.T) {
	mock := &mockFeatureUC{
		consumeFn: func(_ context.Context, sc scope.Scope, feature string) (domquota.Result, string, error) {
			if sc.Key() != "acme:-" || feature != "summary" {
				t.Errorf("scope = %s, feature = %s", sc.Key(), feature)
			}
			return domquota.Result{Allowed: true, Remaining: 4, Limit: 5, ResetAt: resetAt}, "", nil
		},
	}

	st, err := testClient(mock, nil).Consume(context.Background(), "acme", "", "summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Allowed || st.Remaining != 4 || st.Limit != 5 || !st.ResetAt.Equal(resetAt) {
		t.Errorf("status = %+v", st)
	}
}

func TestConsume_DeniedIsNotAnError(t *testing.T) {
	mock := &mockFeatureUC{
		consumeFn: func(_ context.Context, _ scope.Scope, _ string) (domquota.Result, string, error) {
			return domquota.Result{Limit: 5, ResetAt: resetAt}, "limit reached", nil
		},
	}

	st, err := testClient(mock, nil).Consume(context.Background(), "acme", "desk-1", "summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Allowed || st.Message != "limit reached" {
		t.Errorf("status = %+v", st)
	}
}

func TestConsume_InvalidScope(t *testing.T) {
	mock := &mockFeatureUC{
		consumeFn: func(_ context.Context, _ scope.Scope, _ string) (domquota.Result, string, error) {
			t.Fatal("use case called with invalid scope")
			return domquota.Result{}, "", nil
		},
	}

	_, err := testClient(mock, nil).Consume(context.Background(), "bad client", "", "summary")
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestStatus_Error(t *testing.T) {
	mock := &mockFeatureUC{
		statusFn: func(_ context.Context, _ scope.Scope, _ string) (domquota.Result, error) {
			return domquota.Result{}, errors.New("db down")
		},
	}

	if _, err := testClient(mock, nil).Status(context.Background(), "acme", "", "summary"); err == nil {
		t.Fatal("expected error")
	}
}

// --- Generate ---

func TestGenerate(t *testing.T) {
	mock := &mockFeatureUC{
		generateFn: func(_ context.Context, req featureuc.Request, sink featureuc.Sink) (featureuc.Outcome, error) {
			if req.Feature != "summary" || req.Prompt != "hi" || req.Model != "m" {
				t.Errorf("request = %+v", req)
			}
			sink.OnChunk("a")
			sink.OnChunk("b")
			return featureuc.Outcome{
				Usage:    domusage.Record{ID: "evt-1", TotalTokens: 7, Status: domusage.StatusSuccess},
				Recorded: true,
				Quota:    domquota.Result{Allowed: true, Remaining: 2, Limit: 5},
			}, nil
		},
	}

	var got string
	res, err := testClient(mock, nil).Generate(context.Background(), GenerateRequest{
		Client: "acme", Feature: "summary", Prompt: "hi", Model: "m",
	}, func(s string) { got += s })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ab" {
		t.Errorf("chunks = %q", got)
	}
	if !res.Recorded || res.Usage.ID != "evt-1" || res.Usage.Status != UsageSuccess || res.Quota.Remaining != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestGenerate_Denied(t *testing.T) {
	mock := &mockFeatureUC{
		generateFn: func(_ context.Context, _ featureuc.Request, _ featureuc.Sink) (featureuc.Outcome, error) {
			res := domquota.Result{Limit: 1, ResetAt: resetAt}
			return featureuc.Outcome{Admission: res, Message: "try later", Quota: res},
				fmt.Errorf("%w: try later", domain.ErrQuotaExceeded)
		},
	}

	res, err := testClient(mock, nil).Generate(context.Background(),
		GenerateRequest{Client: "acme", Feature: "summary"}, nil)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if res.Quota.Allowed || res.Quota.Message != "try later" || !res.Quota.ResetAt.Equal(resetAt) {
		t.Errorf("quota = %+v", res.Quota)
	}
}

func TestGenerate_NoUpstream(t *testing.T) {
	c := testClient(&mockFeatureUC{}, nil)
	c.hasUpstream = false

	_, err := c.Generate(context.Background(), GenerateRequest{Client: "acme", Feature: "summary"}, nil)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestGenerate_StreamErrorIsReported(t *testing.T) {
	streamErr := domain.NewTransportError(502, "bad gateway")
	mock := &mockFeatureUC{
		generateFn: func(_ context.Context, _ featureuc.Request, _ featureuc.Sink) (featureuc.Outcome, error) {
			return featureuc.Outcome{
				StreamErr: streamErr,
				Usage:     domusage.Record{Status: domusage.StatusError, ErrorMessage: streamErr.Error()},
				Recorded:  true,
			}, nil
		},
	}

	res, err := testClient(mock, nil).Generate(context.Background(),
		GenerateRequest{Client: "acme", Feature: "summary"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(res.StreamErr, ErrTransport) || res.Usage.Status != UsageError {
		t.Errorf("result = %+v", res)
	}
}

// --- Usage ---

func TestRecordUsage(t *testing.T) {
	mock := &mockUsageUC{
		recordFn: func(_ context.Context, in usageuc.RecordInput) (domusage.Record, error) {
			if in.Client != "acme" || in.Feature != "tagging" || in.Status != domusage.StatusSuccess {
				t.Errorf("input = %+v", in)
			}
			return domusage.Record{ID: "evt-9", Client: in.Client, Feature: in.Feature, TotalTokens: 30}, nil
		},
	}

	rec, err := testClient(nil, mock).RecordUsage(context.Background(), UsageInput{
		Client: "acme", Feature: "tagging", InputTokens: 10, OutputTokens: 20, Status: UsageSuccess,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "evt-9" || rec.TotalTokens != 30 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRecordUsage_Error(t *testing.T) {
	mock := &mockUsageUC{
		recordFn: func(_ context.Context, _ usageuc.RecordInput) (domusage.Record, error) {
			return domusage.Record{}, fmt.Errorf("%w: status", domain.ErrInvalidUsage)
		},
	}

	_, err := testClient(nil, mock).RecordUsage(context.Background(), UsageInput{Client: "acme"})
	if !errors.Is(err, ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage, got %v", err)
	}
}

func TestDailyUsage(t *testing.T) {
	mock := &mockUsageUC{
		dailyFn: func(_ context.Context, sc scope.Scope, date string) (domusage.Daily, error) {
			if date != "2026-05-20" {
				t.Errorf("date = %q", date)
			}
			return domusage.Daily{
				Client: sc.Client(), Unit: sc.Unit(), Date: date,
				Features: map[string]domusage.Totals{"summary": {Requests: 2, TotalTokens: 40}},
				Total:    domusage.Totals{Requests: 2, TotalTokens: 40, LastStatus: domusage.StatusError},
			}, nil
		},
	}

	d, err := testClient(nil, mock).DailyUsage(context.Background(), "acme", "desk-1", "2026-05-20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Unit != "desk-1" || d.Features["summary"].TotalTokens != 40 || d.Total.LastStatus != UsageError {
		t.Errorf("daily = %+v", d)
	}
}

func TestUsageEvents(t *testing.T) {
	mock := &mockUsageUC{
		eventsFn: func(_ context.Context, _ scope.Scope, _ string) ([]domusage.Record, error) {
			return []domusage.Record{{ID: "a"}, {ID: "b"}}, nil
		},
	}

	evs, err := testClient(nil, mock).UsageEvents(context.Background(), "acme", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evs) != 2 || evs[0].ID != "a" || evs[1].ID != "b" {
		t.Errorf("events = %+v", evs)
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	c := &Client{healthSvc: &mockHealthUC{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK, "upstream": healthuc.CheckError},
	}}}

	h := c.Health(context.Background())
	if h.Status != "degraded" || h.Checks["upstream"] != "error" || h.Checks["database"] != "ok" {
		t.Errorf("health = %+v", h)
	}
}
