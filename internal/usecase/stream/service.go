package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/aigov/internal/domain"
	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
	"github.com/kailas-cloud/aigov/internal/metrics"
)

const (
	// DefaultIdleTimeout aborts a stream that sends nothing for this long.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultMaxErrorBody bounds how much of a non-success body is read.
	DefaultMaxErrorBody = 64 << 10

	readBufferSize = 4 << 10
)

// Consumer reads an upstream frame stream and dispatches decoded payloads.
// Each Consume call owns its buffer; a Consumer is safe for concurrent use.
type Consumer struct {
	transport    Transport
	idleTimeout  time.Duration
	maxErrorBody int64
	logger       *zap.Logger
}

// New creates a consumer over transport.
func New(t Transport) *Consumer {
	return &Consumer{
		transport:    t,
		idleTimeout:  DefaultIdleTimeout,
		maxErrorBody: DefaultMaxErrorBody,
		logger:       zap.NewNop(),
	}
}

// WithIdleTimeout sets the idle read timeout. Zero or negative disables it.
func (c *Consumer) WithIdleTimeout(d time.Duration) *Consumer {
	c.idleTimeout = d
	return c
}

// WithMaxErrorBody bounds the bytes read from a non-success response.
func (c *Consumer) WithMaxErrorBody(n int64) *Consumer {
	if n > 0 {
		c.maxErrorBody = n
	}
	return c
}

// WithLogger sets the logger for frame-level faults.
func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	c.logger = l
	return c
}

// Consume opens req and drives the read loop until end of stream, failure,
// idle timeout or cancellation of ctx. It returns the error passed to OnError, if any.
func (c *Consumer) Consume(ctx context.Context, req Request, h Handlers) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// The idle timer also bounds Open and the error body read, so an upstream
	// that never answers is aborted like one that stalls mid-stream.
	var idle *time.Timer
	if c.idleTimeout > 0 {
		idle = time.AfterFunc(c.idleTimeout, func() { cancel(domain.ErrStreamIdle) })
		defer idle.Stop()
	}

	resp, err := c.transport.Open(ctx, req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
		return c.fail(h, domain.WrapTransport(err))
	}
	if resp == nil || resp.Body == nil {
		return c.fail(h, domain.WrapTransport(fmt.Errorf("empty response: %w", domain.ErrUpstreamUnavailable)))
	}
	defer func() { _ = resp.Body.Close() }()

	// Closing the body unblocks a pending Read on cancellation or idle expiry.
	stop := context.AfterFunc(ctx, func() { _ = resp.Body.Close() })
	defer stop()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := c.errorMessage(resp)
		if cause := context.Cause(ctx); cause != nil {
			return c.fail(h, domain.WrapTransport(cause))
		}
		return c.fail(h, domain.NewTransportError(resp.StatusCode, msg))
	}

	var sp domstream.Splitter
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if idle != nil {
				idle.Reset(c.idleTimeout)
			}
			sp.Write(buf[:n])
			for {
				block, ok := sp.Next()
				if !ok {
					break
				}
				c.dispatch(block, h)
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) && ctx.Err() == nil {
			if block, ok := sp.Flush(); ok {
				c.dispatch(block, h)
			}
			if h.OnComplete != nil {
				h.OnComplete()
			}
			return nil
		}
		if cause := context.Cause(ctx); cause != nil {
			return c.fail(h, domain.WrapTransport(cause))
		}
		return c.fail(h, domain.WrapTransport(readErr))
	}
}

func (c *Consumer) fail(h Handlers, err error) error {
	if h.OnError != nil {
		h.OnError(err)
	}
	return err
}

// dispatch decodes one frame block and routes its payload. A panic while
// decoding or inside a handler drops only this frame.
func (c *Consumer) dispatch(block string, h Handlers) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamFramesTotal.WithLabelValues("fault").Inc()
			c.logger.Warn("Stream frame dropped after panic",
				zap.Any("panic", r),
				zap.Int("frame_bytes", len(block)),
			)
		}
	}()

	f, ok := domstream.DecodeFrame(block)
	if !ok {
		metrics.StreamFramesTotal.WithLabelValues("dropped").Inc()
		return
	}

	p := domstream.Classify(f)
	metrics.StreamFramesTotal.WithLabelValues(p.Kind.String()).Inc()

	switch p.Kind {
	case domstream.PayloadUsage:
		if h.OnUsage != nil {
			h.OnUsage(p.Usage)
		}
	case domstream.PayloadText, domstream.PayloadRaw:
		if h.OnChunk != nil {
			h.OnChunk(p.Text)
		}
	default:
		// empty data is ignored
	}
}

// errorMessage extracts a message from a non-success body: a JSON "message"
// (top level or under "error"), else the status text.
func (c *Consumer) errorMessage(resp *Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrorBody))

	var parsed struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var s string
		if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
			return s
		}
	}

	if resp.Status != "" {
		return resp.Status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
