package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/aigov/internal/db/memory"
	domquota "github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
)

func testScope(t *testing.T) scope.Scope {
	t.Helper()
	sc, err := scope.New("acme", "tower-b")
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return sc
}

func TestUpdate_WritesWindowHash(t *testing.T) {
	s := memory.New()
	repo := New(s, "aigov:")
	sc := testScope(t)
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	err := repo.Update(context.Background(), sc, "report-draft", func(stored *domquota.Window) (domquota.Window, bool, error) {
		if stored != nil {
			t.Errorf("expected no stored window, got %+v", stored)
		}
		return domquota.Window{Limit: 5, Count: 1, StartAt: start}, true, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	m, _ := s.HGetAll(context.Background(), "aigov:quota:acme:tower-b:report-draft")
	if m["limit"] != "5" || m["count"] != "1" {
		t.Errorf("unexpected hash: %v", m)
	}
	if m["window_start_at"] != "1769932800000" {
		t.Errorf("window_start_at = %q", m["window_start_at"])
	}

	got, err := repo.Get(context.Background(), sc, "report-draft")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Count != 1 || !got.StartAt.Equal(start) {
		t.Errorf("unexpected window: %+v", got)
	}
}

func TestUpdate_NoWrite(t *testing.T) {
	s := memory.New()
	repo := New(s, "")
	sc := testScope(t)

	err := repo.Update(context.Background(), sc, "f", func(*domquota.Window) (domquota.Window, bool, error) {
		return domquota.Window{Count: 9}, false, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ok, _ := s.Exists(context.Background(), "quota:acme:tower-b:f"); ok {
		t.Error("write=false must not create the record")
	}
}

func TestUpdate_PropagatesError(t *testing.T) {
	repo := New(memory.New(), "")
	boom := errors.New("boom")

	err := repo.Update(context.Background(), testScope(t), "f", func(*domquota.Window) (domquota.Window, bool, error) {
		return domquota.Window{}, false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestGet_Missing(t *testing.T) {
	w, err := New(memory.New(), "").Get(context.Background(), testScope(t), "f")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil window, got %+v", w)
	}
}

func TestGet_Corrupt(t *testing.T) {
	s := memory.New()
	_ = s.HSet(context.Background(), "quota:acme:tower-b:f", map[string]string{"count": "x", "window_start_at": "1"})

	if _, err := New(s, "").Get(context.Background(), testScope(t), "f"); err == nil {
		t.Fatal("expected parse error")
	}
}
