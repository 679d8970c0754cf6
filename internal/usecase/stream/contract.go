package stream

import (
	"context"
	"io"

	domusage "github.com/kailas-cloud/aigov/internal/domain/usage"
)

// Request is a generation request sent to an upstream.
type Request struct {
	Feature string
	Prompt  string
	Model   string
	Params  map[string]any
}

// Response is an opened upstream stream. The consumer closes Body.
type Response struct {
	StatusCode int
	Status     string
	Body       io.ReadCloser
}

// Transport opens a streamed request declaring the event-stream content type.
type Transport interface {
	Open(ctx context.Context, req Request) (*Response, error)
}

// Handlers receive decoded frames. OnUsage is optional.
// OnComplete fires only when the stream ended cleanly; after OnError it never fires.
type Handlers struct {
	OnChunk    func(text string)
	OnUsage    func(u domusage.Telemetry)
	OnError    func(err error)
	OnComplete func()
}
