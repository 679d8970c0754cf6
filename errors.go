package aigov

import "github.com/kailas-cloud/aigov/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrQuotaExceeded       = domain.ErrQuotaExceeded
	ErrInvalidScope        = domain.ErrInvalidScope
	ErrInvalidFeature      = domain.ErrInvalidFeature
	ErrInvalidUsage        = domain.ErrInvalidUsage
	ErrRecording           = domain.ErrRecording
	ErrTransport           = domain.ErrTransport
	ErrStreamIdle          = domain.ErrStreamIdle
	ErrUpstreamUnavailable = domain.ErrUpstreamUnavailable
)
