package usage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/domain"
	"github.com/kailas-cloud/aigov/internal/domain/scope"
	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
	"github.com/kailas-cloud/aigov/internal/logger"
	"github.com/kailas-cloud/aigov/internal/metrics"
)

// maxErrorMessage bounds the stored error text.
const maxErrorMessage = 1024

// RecordInput is a usage record before it gets an ID and timestamp.
type RecordInput struct {
	Feature      string
	Client       string
	Unit         string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Model        string
	Estimated    bool
	Status       domusage.Status
	ErrorMessage string
	// CreatedAt defaults to now when zero.
	CreatedAt time.Time
}

// Service records and reports feature usage.
type Service struct {
	recorder Recorder
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// New creates a Service.
func New(r Recorder) *Service {
	return &Service{
		recorder: r,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   zap.NewNop(),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	s.logger = l
	return s
}

// RecordFeatureUsage validates and persists one usage record.
// Validation failures wrap domain.ErrInvalidUsage, storage failures wrap domain.ErrRecording.
func (s *Service) RecordFeatureUsage(ctx context.Context, in RecordInput) (domusage.Record, error) {
	rec, err := s.build(in)
	if err != nil {
		return domusage.Record{}, err
	}

	if err := s.recorder.Append(ctx, rec); err != nil {
		metrics.UsageRecordingErrorsTotal.WithLabelValues(rec.Feature).Inc()
		return rec, fmt.Errorf("%w: %w", domain.ErrRecording, err)
	}

	source := "reported"
	if rec.Estimated {
		source = "estimated"
	}
	metrics.UsageTokensTotal.WithLabelValues(rec.Feature, "input", source).Add(float64(rec.InputTokens))
	metrics.UsageTokensTotal.WithLabelValues(rec.Feature, "output", source).Add(float64(rec.OutputTokens))
	metrics.UsageTokensTotal.WithLabelValues(rec.Feature, "total", source).Add(float64(rec.TotalTokens))

	logger.WithScope(s.logger, rec.Client+":"+rec.Unit, rec.Feature).Debug("Usage recorded",
		zap.String("id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int64("total_tokens", rec.TotalTokens),
		zap.Bool("estimated", rec.Estimated),
	)
	return rec, nil
}

func (s *Service) build(in RecordInput) (domusage.Record, error) {
	sc, err := scope.New(in.Client, in.Unit)
	if err != nil {
		return domusage.Record{}, fmt.Errorf("%w: %w", domain.ErrInvalidUsage, err)
	}
	if err := scope.ValidateFeature(in.Feature); err != nil {
		return domusage.Record{}, fmt.Errorf("%w: %w", domain.ErrInvalidUsage, err)
	}
	if !in.Status.IsValid() {
		return domusage.Record{}, fmt.Errorf("%w: status %q", domain.ErrInvalidUsage, in.Status)
	}
	if in.InputTokens < 0 || in.OutputTokens < 0 || in.TotalTokens < 0 {
		return domusage.Record{}, fmt.Errorf("%w: token counts must be non-negative", domain.ErrInvalidUsage)
	}

	total := in.TotalTokens
	if total == 0 {
		total = in.InputTokens + in.OutputTokens
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	msg := in.ErrorMessage
	if in.Status == domusage.StatusSuccess {
		msg = ""
	} else {
		msg = truncate(msg, maxErrorMessage)
	}

	return domusage.Record{
		ID:           s.newID(),
		Feature:      in.Feature,
		Client:       sc.Client(),
		Unit:         sc.Unit(),
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		TotalTokens:  total,
		Model:        in.Model,
		Estimated:    in.Estimated,
		Status:       in.Status,
		ErrorMessage: msg,
		CreatedAt:    created.UTC(),
	}, nil
}

// truncate cuts s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DailyReport returns the rollup of sc for date (YYYY-MM-DD). An empty date means today (UTC).
func (s *Service) DailyReport(ctx context.Context, sc scope.Scope, date string) (domusage.Daily, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return domusage.Daily{}, err
	}
	d, err := s.recorder.Daily(ctx, sc.Client(), sc.Unit(), date)
	if err != nil {
		return domusage.Daily{}, fmt.Errorf("daily usage: %w", err)
	}
	return d, nil
}

// Events returns the records of sc for date, oldest first.
func (s *Service) Events(ctx context.Context, sc scope.Scope, date string) ([]domusage.Record, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}
	evs, err := s.recorder.Events(ctx, sc.Client(), sc.Unit(), date)
	if err != nil {
		return nil, fmt.Errorf("usage events: %w", err)
	}
	return evs, nil
}

func (s *Service) resolveDate(date string) (string, error) {
	if date == "" {
		return domusage.DateKey(s.now()), nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidUsage, date)
	}
	return date, nil
}
