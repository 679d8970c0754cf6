package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/domain"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
)

// chatRequest mirrors the fields of the chat completion request the tests inspect.
type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func chunk(content string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","model":"gpt-test",`+
		`"choices":[{"index":0,"delta":{"content":%q}}]}`, content)
}

func newTestGenerator(url string) *Generator {
	return NewGenerator(&Config{
		APIKey:       "test-key",
		BaseURL:      url,
		Model:        "gpt-test",
		SystemPrompt: "You are terse.",
		Logger:       zap.NewNop(),
	})
}

func TestGenerator_StreamsTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Errorf("stream options not set: %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "write a haiku" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.MaxTokens != 32 || req.Temperature != 0.5 {
			t.Errorf("params not mapped: max_tokens=%d temperature=%v", req.MaxTokens, req.Temperature)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{chunk("Autumn "), chunk("moon")} {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-test","choices":[],`+
			`"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var text strings.Builder
	var usage domusage.Telemetry
	completed := false
	err := stream.New(newTestGenerator(server.URL)).Consume(context.Background(), stream.Request{
		Feature: "haiku",
		Prompt:  "write a haiku",
		Params:  map[string]any{"max_tokens": float64(32), "temperature": 0.5},
	}, stream.Handlers{
		OnChunk:    func(s string) { text.WriteString(s) },
		OnUsage:    func(u domusage.Telemetry) { usage.Add(u) },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
		OnComplete: func() { completed = true },
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if text.String() != "Autumn moon" {
		t.Errorf("text = %q", text.String())
	}
	if usage.TotalTokens != 13 || usage.InputTokens != 9 || usage.OutputTokens != 4 || usage.Model != "gpt-test" {
		t.Errorf("usage = %+v", usage)
	}
	if !completed {
		t.Error("expected completion")
	}
}

func TestGenerator_APIErrorBecomesTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	err := stream.New(newTestGenerator(server.URL)).Consume(context.Background(),
		stream.Request{Prompt: "x"}, stream.Handlers{})

	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if te.StatusCode != http.StatusBadRequest || te.Message != "model not found" {
		t.Errorf("got status=%d message=%q", te.StatusCode, te.Message)
	}
}

func TestGenerator_DetailErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"capacity exhausted"}`))
	}))
	defer server.Close()

	resp, err := newTestGenerator(server.URL).Open(context.Background(), stream.Request{Prompt: "x"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestGenerator_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	if err := newTestGenerator(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}

func TestStatusResponse_NetworkErrorPassesThrough(t *testing.T) {
	if _, ok := statusResponse(errors.New("dial tcp: refused")); ok {
		t.Error("plain errors must not become responses")
	}
}
