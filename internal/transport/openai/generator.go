package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/metrics"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
)

const provider = "openai"

// Generator streams chat completions from an OpenAI-compatible API and
// re-encodes them as text and usage frames.
type Generator struct {
	client *openai.Client
	model  string
	system string
	user   string
	logger *zap.Logger
}

var _ stream.Transport = (*Generator)(nil)

// Config holds the chat provider settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	User         string
	Logger       *zap.Logger
}

// NewGenerator creates an OpenAI-compatible chat stream transport.
func NewGenerator(cfg *Config) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		user:   cfg.User,
		logger: l,
	}
}

// Open implements stream.Transport. API rejections become a non-success
// response carrying {"message": ...}; network failures are returned as errors.
func (g *Generator) Open(ctx context.Context, req stream.Request) (*stream.Response, error) {
	creq := g.request(req)

	s, err := g.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(provider, creq.Model, "error").Inc()
		if resp, ok := statusResponse(err); ok {
			return resp, nil
		}
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(provider, creq.Model, "success").Inc()

	pr, pw := io.Pipe()
	go g.pump(s, pw)

	return &stream.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       pr,
	}, nil
}

func (g *Generator) request(req stream.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = g.model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if g.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		User:          g.user,
	}
	if v, ok := number(req.Params["temperature"]); ok {
		creq.Temperature = float32(v)
	}
	if v, ok := number(req.Params["top_p"]); ok {
		creq.TopP = float32(v)
	}
	if v, ok := number(req.Params["max_tokens"]); ok && v > 0 {
		creq.MaxTokens = int(v)
	}
	return creq
}

// pump copies deltas into pw until the stream ends or the reader goes away.
func (g *Generator) pump(s *openai.ChatCompletionStream, pw *io.PipeWriter) {
	defer func() { _ = s.Close() }()

	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			_ = pw.Close()
			return
		}
		if err != nil {
			g.logger.Warn("Chat completion stream failed", zap.Error(err))
			_ = pw.CloseWithError(err)
			return
		}

		for _, ch := range resp.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			if err := domstream.WriteText(pw, ch.Delta.Content); err != nil {
				return // reader closed
			}
		}
		if resp.Usage != nil {
			t := domusage.Telemetry{
				InputTokens:  int64(resp.Usage.PromptTokens),
				OutputTokens: int64(resp.Usage.CompletionTokens),
				TotalTokens:  int64(resp.Usage.TotalTokens),
				Model:        resp.Model,
			}
			if err := domstream.WriteUsage(pw, t); err != nil {
				return
			}
		}
	}
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// statusResponse turns an API rejection into a response the consumer reports
// as a transport error with the provider's message.
func statusResponse(err error) (*stream.Response, bool) {
	var (
		status int
		msg    string
	)

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		msg = extractDetail(reqErr.Body)
		if msg == "" {
			msg = strings.TrimSpace(string(reqErr.Body))
		}
	default:
		return nil, false
	}
	if status == 0 {
		return nil, false
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	body, _ := json.Marshal(map[string]string{"message": msg})
	return &stream.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(strings.NewReader(string(body))),
	}, true
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
