package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/aigov/internal/db"
	"github.com/kailas-cloud/aigov/internal/domain"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeQuotaExceeded    ErrorCode = "quota_exceeded"
	CodeUpstreamError    ErrorCode = "upstream_error"
	CodeUpstreamTimeout  ErrorCode = "upstream_timeout"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeInternalError    ErrorCode = "internal_error"
)

type errorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		validationHandler(domain.ErrInvalidScope),
		validationHandler(domain.ErrInvalidFeature),
		validationHandler(domain.ErrInvalidUsage),
		sentinelHandler(domain.ErrQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
		// idle must precede transport: an idle timeout is also a transport error
		sentinelHandler(domain.ErrStreamIdle, http.StatusGatewayTimeout, CodeUpstreamTimeout),
		sentinelHandler(domain.ErrTransport, http.StatusBadGateway, CodeUpstreamError),
		sentinelHandler(domain.ErrUpstreamUnavailable, http.StatusBadGateway, CodeUpstreamError),
		sentinelHandler(db.ErrTxConflict, http.StatusServiceUnavailable, CodeUnavailable),
		sentinelHandler(domain.ErrRecording, http.StatusServiceUnavailable, CodeUnavailable),
	}
}

// sentinelHandler matches a single sentinel and replies with its text only.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// validationHandler matches a caller input error and echoes its detail.
func validationHandler(sentinel error) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return true
	}
}

// errorCode classifies err for stream error frames.
func errorCode(err error) ErrorCode {
	switch {
	case errors.Is(err, domain.ErrStreamIdle):
		return CodeUpstreamTimeout
	case errors.Is(err, domain.ErrTransport):
		return CodeUpstreamError
	default:
		return CodeInternalError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
