package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kailas-cloud/aigov/internal/domain/usage"
)

// ContentType is the media type of the frame protocol.
const ContentType = "text/event-stream"

// WriteFrame writes f terminated by a blank line. Multi-line data is split
// into several data lines so DecodeFrame restores it.
func WriteFrame(w io.Writer, f Frame) error {
	var b strings.Builder
	if f.Event != "" && f.Event != DefaultEvent {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteJSON marshals v as the data of an event frame.
func WriteJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return WriteFrame(w, Frame{Event: event, Data: string(data)})
}

// WriteText writes a text chunk frame.
func WriteText(w io.Writer, text string) error {
	return WriteJSON(w, DefaultEvent, struct {
		Text string `json:"text"`
	}{text})
}

// UsageBody is the JSON shape of token telemetry inside a usage frame.
type UsageBody struct {
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TotalTokens  int64  `json:"totalTokens"`
	Model        string `json:"model,omitempty"`
	Estimated    bool   `json:"estimated,omitempty"`
}

// NewUsageBody converts telemetry to its wire shape.
func NewUsageBody(t usage.Telemetry) UsageBody {
	return UsageBody{
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens,
		Model:        t.Model,
		Estimated:    t.Estimated,
	}
}

// WriteUsage writes a dedicated usage frame in the wire shape Classify reads.
func WriteUsage(w io.Writer, t usage.Telemetry) error {
	return WriteJSON(w, UsageEvent, struct {
		Usage UsageBody `json:"usage"`
	}{NewUsageBody(t)})
}
