// Package httpstream opens generation streams against an HTTP upstream that
// already speaks the frame protocol.
package httpstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
	"github.com/kailas-cloud/aigov/internal/metrics"
	"github.com/kailas-cloud/aigov/internal/usecase/stream"
)

const (
	// DefaultPath is the generation endpoint relative to BaseURL.
	DefaultPath = "/v1/generate"

	provider = "http"
)

// Config holds the upstream settings.
type Config struct {
	BaseURL      string
	Path         string
	APIKey       string
	Model        string
	SystemPrompt string
	// HTTPClient defaults to a client without an overall timeout. The consumer's
	// idle timeout bounds connecting, waiting for headers and every read.
	HTTPClient *http.Client
}

// Transport posts generation requests and returns the raw streamed body.
type Transport struct {
	client   *http.Client
	endpoint string
	baseURL  string
	apiKey   string
	model    string
	system   string
}

var _ stream.Transport = (*Transport)(nil)

// New creates a Transport.
func New(cfg Config) *Transport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Transport{
		client:   client,
		endpoint: base + "/" + strings.TrimLeft(path, "/"),
		baseURL:  base,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		system:   cfg.SystemPrompt,
	}
}

type generateRequest struct {
	Feature string         `json:"feature"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Model   string         `json:"model,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// Open implements stream.Transport. Non-success statuses are returned as a
// response, not an error; only network failures return an error.
func (t *Transport) Open(ctx context.Context, req stream.Request) (*stream.Response, error) {
	model := req.Model
	if model == "" {
		model = t.model
	}
	body, err := json.Marshal(generateRequest{
		Feature: req.Feature,
		Prompt:  req.Prompt,
		System:  t.system,
		Model:   model,
		Params:  req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", domstream.ContentType)
	httpReq.Header.Set("Cache-Control", "no-cache")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return nil, fmt.Errorf("post %s: %w", t.endpoint, err)
	}
	status := "success"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = "error"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(provider, model, status).Inc()
	return &stream.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       resp.Body,
	}, nil
}

// HealthCheck reports the upstream reachable when its base URL answers without a 5xx.
func (t *Transport) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("upstream health: status %d", resp.StatusCode)
	}
	return nil
}
