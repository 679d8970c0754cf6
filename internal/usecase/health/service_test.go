package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping(_ context.Context) error { return m.err }

type mockUpstreamChecker struct {
	err   error
	block bool
}

func (m *mockUpstreamChecker) HealthCheck(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

// --- Tests ---

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		dbErr    error
		upErr    error
		status   Status
		database CheckResult
		upstream CheckResult
	}{
		{"all healthy", nil, nil, Healthy, CheckOK, CheckOK},
		{"database down", errors.New("conn refused"), nil, Unhealthy, CheckError, CheckOK},
		{"upstream down", nil, errors.New("timeout"), Degraded, CheckOK, CheckError},
		{"both down", errors.New("db down"), errors.New("up down"), Unhealthy, CheckError, CheckError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&mockDBPinger{err: tt.dbErr}, &mockUpstreamChecker{err: tt.upErr})
			r := svc.Check(context.Background())

			if r.Status != tt.status {
				t.Errorf("expected %q, got %q", tt.status, r.Status)
			}
			if r.Checks["database"] != tt.database {
				t.Errorf("expected database %q, got %q", tt.database, r.Checks["database"])
			}
			if r.Checks["upstream"] != tt.upstream {
				t.Errorf("expected upstream %q, got %q", tt.upstream, r.Checks["upstream"])
			}
		})
	}
}

func TestCheck_NilUpstream(t *testing.T) {
	svc := New(&mockDBPinger{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if _, ok := r.Checks["upstream"]; ok {
		t.Error("upstream should not be checked when nil")
	}
}

func TestCheck_TimeoutCountsAsFailure(t *testing.T) {
	svc := New(&mockDBPinger{}, &mockUpstreamChecker{block: true}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())

	if time.Since(start) > time.Second {
		t.Error("check did not honour timeout")
	}
	if r.Status != Degraded || r.Checks["upstream"] != CheckError {
		t.Errorf("got %+v", r)
	}
}
