package chi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/domain"
	"github.com/kailas-cloud/aigov/internal/domain/quota"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
	featureuc "github.com/kailas-cloud/aigov/internal/usecase/feature"
	healthuc "github.com/kailas-cloud/aigov/internal/usecase/health"
	usageuc "github.com/kailas-cloud/aigov/internal/usecase/usage"
)

const maxBodyBytes = 1 << 20

// Server implements the governor HTTP API.
type Server struct {
	features      *featureuc.Service
	usage         *usageuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	features *featureuc.Service,
	usage *usageuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	return &Server{
		features:      features,
		usage:         usage,
		health:        health,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Routes mounts the API on r.
func (s *Server) Routes(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r gochi.Router) {
		r.Post("/usage", s.RecordUsage)
		r.Route("/clients/{client}/units/{unit}", func(r gochi.Router) {
			r.Get("/usage", s.GetDailyUsage)
			r.Get("/usage/events", s.ListUsageEvents)
			r.Route("/features/{feature}", func(r gochi.Router) {
				r.Get("/quota", s.GetQuota)
				r.Post("/quota/consume", s.ConsumeQuota)
				r.Post("/generate", s.Generate)
			})
		})
	})
}

// GetQuota handles GET /v1/clients/{client}/units/{unit}/features/{feature}/quota.
func (s *Server) GetQuota(w http.ResponseWriter, r *http.Request) {
	sc, err := scopeParam(r)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	res, err := s.features.Status(r.Context(), sc, gochi.URLParam(r, "feature"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaToResponse(res, ""))
}

// ConsumeQuota handles POST /v1/clients/{client}/units/{unit}/features/{feature}/quota/consume.
func (s *Server) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	sc, err := scopeParam(r)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	res, msg, err := s.features.Consume(r.Context(), sc, gochi.URLParam(r, "feature"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if !res.Allowed {
		writeDenied(w, res, msg)
		return
	}

	writeJSON(w, http.StatusOK, quotaToResponse(res, ""))
}

// Generate handles POST /v1/clients/{client}/units/{unit}/features/{feature}/generate.
// A denial is a plain 429 JSON reply; an admitted call is an event stream that
// relays text frames and ends with usage and quota frames.
func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	sc, err := scopeParam(r)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "prompt is required")
		return
	}

	sse := newSSEWriter(w, s.logger)
	out, err := s.features.Generate(r.Context(), featureuc.Request{
		Scope:   sc,
		Feature: gochi.URLParam(r, "feature"),
		Prompt:  req.Prompt,
		Model:   req.Model,
		Params:  req.Params,
	}, featureuc.Sink{
		OnAdmit: func(quota.Result) { sse.start() },
		OnChunk: sse.text,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			writeDenied(w, out.Admission, out.Message)
			return
		}
		s.handleDomainError(w, err)
		return
	}

	if out.StreamErr != nil {
		frame := errorFrame{Code: errorCode(out.StreamErr), Message: out.StreamErr.Error()}
		var te *domain.TransportError
		if errors.As(out.StreamErr, &te) {
			frame.Status = te.StatusCode
			if te.Message != "" && te.StatusCode > 0 {
				frame.Message = te.Message
			}
		}
		sse.event(ErrorEvent, frame)
	}
	sse.event(domstream.UsageEvent, usageFrame{
		Usage:    domstream.NewUsageBody(out.Usage.Telemetry()),
		Record:   out.Usage,
		Recorded: out.Recorded,
	})
	sse.event(QuotaEvent, quotaToResponse(out.Quota, ""))
}

// RecordUsage handles POST /v1/usage.
func (s *Server) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rec, err := s.usage.RecordFeatureUsage(r.Context(), req.toInput())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// GetDailyUsage handles GET /v1/clients/{client}/units/{unit}/usage.
func (s *Server) GetDailyUsage(w http.ResponseWriter, r *http.Request) {
	sc, err := scopeParam(r)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	d, err := s.usage.DailyReport(r.Context(), sc, r.URL.Query().Get("date"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// ListUsageEvents handles GET /v1/clients/{client}/units/{unit}/usage/events.
func (s *Server) ListUsageEvents(w http.ResponseWriter, r *http.Request) {
	sc, err := scopeParam(r)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	evs, err := s.usage.Events(r.Context(), sc, r.URL.Query().Get("date"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Items: evs, Total: len(evs)})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func scopeParam(r *http.Request) (scope.Scope, error) {
	return scope.New(gochi.URLParam(r, "client"), gochi.URLParam(r, "unit")) //nolint:wrapcheck // domain validation error
}

// writeDenied replies 429 with the decision and a Retry-After hint.
func writeDenied(w http.ResponseWriter, res quota.Result, message string) {
	if wait := time.Until(res.ResetAt); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	writeJSON(w, http.StatusTooManyRequests, deniedResponse{
		Code:          CodeQuotaExceeded,
		quotaResponse: quotaToResponse(res, message),
	})
}
