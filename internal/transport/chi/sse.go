package chi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	domstream "github.com/kailas-cloud/aigov/internal/domain/stream"
)

// QuotaEvent is the event name of the closing quota frame.
const QuotaEvent = "quota"

// ErrorEvent is the event name of a stream failure frame.
const ErrorEvent = "error"

// sseWriter relays frames to the client and flushes after each one.
// After the first write error the client is gone and further frames are dropped.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	logger  *zap.Logger
	started bool
	broken  bool
}

func newSSEWriter(w http.ResponseWriter, logger *zap.Logger) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), logger: logger}
}

// start commits the event-stream headers and lifts the server write deadline.
func (s *sseWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", domstream.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	_ = s.rc.SetWriteDeadline(time.Time{})
	s.w.WriteHeader(http.StatusOK)
	s.flush()
}

func (s *sseWriter) text(t string) {
	if s.broken {
		return
	}
	s.start()
	s.check(domstream.WriteText(s.w, t))
}

func (s *sseWriter) event(name string, v any) {
	if s.broken {
		return
	}
	s.start()
	s.check(domstream.WriteJSON(s.w, name, v))
}

func (s *sseWriter) check(err error) {
	if err != nil {
		s.broken = true
		s.logger.Debug("Client stream closed", zap.Error(err))
		return
	}
	s.flush()
}

func (s *sseWriter) flush() {
	_ = s.rc.Flush()
}
