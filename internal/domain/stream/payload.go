package stream

import (
	"encoding/json"
	"math"

	"github.com/kailas-cloud/aigov/internal/domain/usage"
)

// UsageEvent is the event name of a dedicated usage frame.
const UsageEvent = "usage"

// PayloadKind tags what a frame carries.
type PayloadKind int

// Payload kinds.
const (
	// PayloadEmpty is a frame with empty data; it is ignored.
	PayloadEmpty PayloadKind = iota
	// PayloadUsage carries token telemetry.
	PayloadUsage
	// PayloadText is an object with a string "text" field.
	PayloadText
	// PayloadRaw is anything else, relayed as literal text.
	PayloadRaw
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadUsage:
		return "usage"
	case PayloadText:
		return "text"
	case PayloadRaw:
		return "raw"
	default:
		return "empty"
	}
}

// Payload is the tagged decode of one frame's data.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Usage usage.Telemetry
}

var topLevelTokenFields = []string{"inputTokens", "outputTokens", "totalTokens"}

// Classify decides what a frame means. Precedence: a usage event with a usage
// object, then any nested usage object, then top-level token fields, then a
// text field. Everything else, including invalid JSON, falls back to raw text.
func Classify(f Frame) Payload {
	if f.Data == "" {
		return Payload{Kind: PayloadEmpty}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(f.Data), &obj); err != nil || obj == nil {
		return Payload{Kind: PayloadRaw, Text: f.Data}
	}

	if nested, ok := object(obj["usage"]); ok {
		// A dedicated usage event and a nested usage object on any other
		// event both resolve to the nested object, so one branch covers both.
		return Payload{Kind: PayloadUsage, Usage: extractUsage(nested, obj)}
	}

	for _, k := range topLevelTokenFields {
		if _, ok := obj[k]; ok {
			return Payload{Kind: PayloadUsage, Usage: extractUsage(obj, nil)}
		}
	}

	var text string
	if raw, ok := obj["text"]; ok && json.Unmarshal(raw, &text) == nil {
		return Payload{Kind: PayloadText, Text: text}
	}

	return Payload{Kind: PayloadRaw, Text: f.Data}
}

func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// extractUsage reads token fields from m. Model and estimated fall back to
// outer when the usage object does not carry them.
func extractUsage(m, outer map[string]json.RawMessage) usage.Telemetry {
	var t usage.Telemetry
	t.InputTokens, _ = intField(m, "inputTokens", "promptTokens")
	t.OutputTokens, _ = intField(m, "outputTokens", "completionTokens")

	total, ok := intField(m, "totalTokens")
	if !ok {
		total = t.InputTokens + t.OutputTokens
	}
	t.TotalTokens = total

	if s, ok := stringField(m, "model"); ok {
		t.Model = s
	} else if s, ok := stringField(outer, "model"); ok {
		t.Model = s
	}

	if b, ok := boolField(m, "estimated"); ok {
		t.Estimated = b
	} else if b, ok := boolField(outer, "estimated"); ok {
		t.Estimated = b
	}
	return t
}

// intField returns the first present numeric key, clamped to a non-negative int64.
func intField(m map[string]json.RawMessage, keys ...string) (int64, bool) {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch {
		case f <= 0 || math.IsNaN(f):
			return 0, true
		case f >= math.MaxInt64:
			return math.MaxInt64, true
		default:
			return int64(math.Round(f)), true
		}
	}
	return 0, false
}

func stringField(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func boolField(m map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := m[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}
