package feature

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/aigov/internal/db/memory"
	"github.com/kailas-cloud/aigov/internal/domain"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	repoquota "github.com/kailas-cloud/aigov/internal/repository/quota"
	repousage "github.com/kailas-cloud/aigov/internal/repository/usage"
	"github.com/kailas-cloud/aigov/internal/usecase/quota"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
	"github.com/kailas-cloud/aigov/internal/usecase/usage"
)

// --- Mocks ---

type scriptedTransport struct {
	status int
	body   string
	calls  int
	got    stream.Request
}

func (s *scriptedTransport) Open(_ context.Context, req stream.Request) (*stream.Response, error) {
	s.calls++
	s.got = req
	return &stream.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordFeatureUsage(_ context.Context, in usage.RecordInput) (domusage.Record, error) {
	f.calls++
	return domusage.Record{Feature: in.Feature}, errors.New("store down")
}

// --- Helpers ---

var fixedNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	transport *scriptedTransport
	usage     *usage.Service
	sc        scope.Scope
}

func newFixture(t *testing.T, limit int, tr *scriptedTransport) fixture {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	store := memory.New()

	gov := quota.New(repoquota.New(store, "t:"), domquota.NewLimits(limit, nil)).WithClock(clock)
	rec := usage.New(repousage.New(store, "t:", 0)).WithClock(clock)
	svc := New(gov, stream.New(tr), rec).WithClock(clock)

	sc, err := scope.New("acme", "desk-3")
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return fixture{svc: svc, transport: tr, usage: rec, sc: sc}
}

const reportedBody = "data: {\"text\":\"Hello \"}\n\n" +
	"data: {\"text\":\"world\"}\n\n" +
	"event: usage\ndata: {\"usage\":{\"inputTokens\":12,\"outputTokens\":3,\"totalTokens\":15,\"model\":\"m-large\"}}\n\n"

// --- Tests ---

func TestGenerate_StreamsAndRecords(t *testing.T) {
	f := newFixture(t, 5, &scriptedTransport{status: 200, body: reportedBody})

	var admitted bool
	var text strings.Builder
	out, err := f.svc.Generate(context.Background(), Request{
		Scope: f.sc, Feature: "summary", Prompt: "say hi", Model: "m-small",
		Params: map[string]any{"temperature": 0.2},
	}, Sink{
		OnAdmit: func(res domquota.Result) {
			admitted = true
			if res.Remaining != 4 {
				t.Errorf("admission remaining = %d", res.Remaining)
			}
		},
		OnChunk: func(s string) {
			if !admitted {
				t.Error("chunk before admission")
			}
			text.WriteString(s)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text.String() != "Hello world" {
		t.Errorf("text = %q", text.String())
	}
	if out.StreamErr != nil {
		t.Errorf("stream error = %v", out.StreamErr)
	}
	if !out.Recorded || out.Usage.TotalTokens != 15 || out.Usage.Estimated || out.Usage.Model != "m-large" {
		t.Errorf("usage = %+v recorded=%v", out.Usage, out.Recorded)
	}
	if out.Quota.Remaining != 4 {
		t.Errorf("quota after = %+v", out.Quota)
	}
	if f.transport.got.Params["temperature"] != 0.2 || f.transport.got.Feature != "summary" {
		t.Errorf("request not forwarded: %+v", f.transport.got)
	}

	d, err := f.usage.DailyReport(context.Background(), f.sc, "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Features["summary"].Requests != 1 || d.Features["summary"].TotalTokens != 15 {
		t.Errorf("daily = %+v", d.Features)
	}
}

func TestGenerate_DeniedSkipsUpstream(t *testing.T) {
	f := newFixture(t, 1, &scriptedTransport{status: 200, body: reportedBody})
	ctx := context.Background()
	req := Request{Scope: f.sc, Feature: "summary", Prompt: "p"}

	if _, err := f.svc.Generate(ctx, req, Sink{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	admitted := false
	out, err := f.svc.Generate(ctx, req, Sink{OnAdmit: func(domquota.Result) { admitted = true }})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if admitted {
		t.Error("OnAdmit fired on denial")
	}
	if f.transport.calls != 1 {
		t.Errorf("upstream called %d times", f.transport.calls)
	}
	if out.Admission.Allowed || out.Admission.Remaining != 0 {
		t.Errorf("admission = %+v", out.Admission)
	}
	if !strings.Contains(out.Message, "1 day from now") {
		t.Errorf("message = %q", out.Message)
	}

	d, _ := f.usage.DailyReport(ctx, f.sc, "")
	if d.Total.Requests != 1 {
		t.Errorf("denied call was recorded: %+v", d.Total)
	}
}

func TestGenerate_UpstreamFailureStillRecords(t *testing.T) {
	f := newFixture(t, 5, &scriptedTransport{status: 429, body: `{"message":"upstream busy"}`})

	out, err := f.svc.Generate(context.Background(), Request{Scope: f.sc, Feature: "summary", Prompt: "p"}, Sink{})
	if err != nil {
		t.Fatalf("upstream failure must not be returned as error: %v", err)
	}
	var te *domain.TransportError
	if !errors.As(out.StreamErr, &te) || te.StatusCode != 429 {
		t.Fatalf("stream error = %v", out.StreamErr)
	}
	if out.Usage.Status != domusage.StatusError || out.Usage.TotalTokens != 0 {
		t.Errorf("usage = %+v", out.Usage)
	}
	if !strings.Contains(out.Usage.ErrorMessage, "upstream busy") {
		t.Errorf("error message = %q", out.Usage.ErrorMessage)
	}
	if out.Quota.Remaining != 4 {
		t.Errorf("admission must stay consumed, remaining = %d", out.Quota.Remaining)
	}
}

func TestGenerate_EstimatesWithoutUsageFrame(t *testing.T) {
	body := "data: " + strings.Repeat("z", 40) + "\n\n"
	f := newFixture(t, 5, &scriptedTransport{status: 200, body: body})

	out, err := f.svc.Generate(context.Background(), Request{Scope: f.sc, Feature: "summary", Prompt: "abcd"}, Sink{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Usage.Estimated || out.Usage.OutputTokens != 10 || out.Usage.InputTokens != 1 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestGenerate_RecordingFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, 5, &scriptedTransport{status: 200, body: reportedBody})
	rec := &failingRecorder{}
	f.svc.recorder = rec

	var got string
	out, err := f.svc.Generate(context.Background(), Request{Scope: f.sc, Feature: "summary", Prompt: "p"},
		Sink{OnChunk: func(s string) { got += s }})
	if err != nil {
		t.Fatalf("recording failure leaked: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("content = %q", got)
	}
	if out.Recorded || rec.calls != 1 {
		t.Errorf("recorded=%v calls=%d", out.Recorded, rec.calls)
	}
}

func TestGenerate_InvalidFeature(t *testing.T) {
	f := newFixture(t, 5, &scriptedTransport{status: 200})
	_, err := f.svc.Generate(context.Background(), Request{Scope: f.sc, Feature: "Bad Feature"}, Sink{})
	if !errors.Is(err, domain.ErrInvalidFeature) {
		t.Fatalf("expected ErrInvalidFeature, got %v", err)
	}
	if f.transport.calls != 0 {
		t.Error("upstream called for invalid feature")
	}
}

func TestConsumeAndStatus(t *testing.T) {
	f := newFixture(t, 1, &scriptedTransport{})
	ctx := context.Background()

	res, msg, err := f.svc.Consume(ctx, f.sc, "tagging")
	if err != nil || !res.Allowed || msg != "" {
		t.Fatalf("first consume = %+v %q %v", res, msg, err)
	}
	res, msg, err = f.svc.Consume(ctx, f.sc, "tagging")
	if err != nil || res.Allowed || msg == "" {
		t.Fatalf("second consume = %+v %q %v", res, msg, err)
	}

	st, err := f.svc.Status(ctx, f.sc, "tagging")
	if err != nil {
		t.Fatal(err)
	}
	if st.Allowed || st.Remaining != 0 || !st.ResetAt.Equal(fixedNow.Add(24*time.Hour)) {
		t.Errorf("status = %+v", st)
	}
}
