package stream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kailas-cloud/aigov/internal/domain/usage"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name   string
		block  string
		want   Frame
		wantOK bool
	}{
		{"data only", `data: {"text":"hi"}`, Frame{Event: "message", Data: `{"text":"hi"}`}, true},
		{"named event", "event: usage\ndata: {}", Frame{Event: "usage", Data: "{}"}, true},
		{"blank event name", "event:   \ndata: x", Frame{Event: "message", Data: "x"}, true},
		{"no space after colon", "data:x", Frame{Event: "message", Data: "x"}, true},
		{"data is trimmed", "data:   x  ", Frame{Event: "message", Data: "x"}, true},
		{"multi data lines", "data: a\ndata: b", Frame{Event: "message", Data: "a\nb"}, true},
		{"unknown lines skipped", ": comment\nid: 7\nretry: 10\ndata: y", Frame{Event: "message", Data: "y"}, true},
		{"crlf lines", "event: usage\r\ndata: z\r", Frame{Event: "usage", Data: "z"}, true},
		{"no data dropped", "event: ping", Frame{}, false},
		{"garbage dropped", "\x00\x01 nonsense", Frame{}, false},
		{"empty", "", Frame{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DecodeFrame(tc.block)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("DecodeFrame = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSplitter_ByteByByte(t *testing.T) {
	wire := []byte("data: {\"text\":\"AB\"}\n\ndata: {\"text\":\"Привет\"}\n\n")

	var s Splitter
	var blocks []string
	for i := range wire {
		s.Write(wire[i : i+1])
		for {
			b, ok := s.Next()
			if !ok {
				break
			}
			blocks = append(blocks, b)
		}
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %q", len(blocks), blocks)
	}
	if blocks[0] != `data: {"text":"AB"}` {
		t.Errorf("block 0 = %q", blocks[0])
	}
	if blocks[1] != `data: {"text":"Привет"}` {
		t.Errorf("multi-byte text corrupted: %q", blocks[1])
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered = %d", s.Buffered())
	}
}

func TestSplitter_CRLFAcrossReads(t *testing.T) {
	var s Splitter
	s.Write([]byte("data: a\r"))
	s.Write([]byte("\n\r"))
	s.Write([]byte("\ndata: b"))

	b, ok := s.Next()
	if !ok || b != "data: a" {
		t.Fatalf("Next = %q, %v", b, ok)
	}
	if _, ok := s.Next(); ok {
		t.Fatal("second frame has no boundary yet")
	}
	rest, ok := s.Flush()
	if !ok || rest != "data: b" {
		t.Errorf("Flush = %q, %v", rest, ok)
	}
}

func TestSplitter_LoneCRIsNotABoundary(t *testing.T) {
	var s Splitter
	s.Write([]byte("data: a\r\r"))

	if b, ok := s.Next(); ok {
		t.Fatalf("lone CR must not end a frame, got %q", b)
	}
	rest, ok := s.Flush()
	if !ok || !strings.HasPrefix(rest, "data: a") {
		t.Errorf("Flush = %q, %v", rest, ok)
	}
}

func TestSplitter_FlushBlank(t *testing.T) {
	var s Splitter
	s.Write([]byte("\n \n"))
	if b, ok := s.Flush(); ok {
		t.Errorf("blank remainder must not flush, got %q", b)
	}
}

func TestSplitter_InvalidUTF8(t *testing.T) {
	var s Splitter
	s.Write([]byte("data: \xff\xfe\n\n"))
	b, ok := s.Next()
	if !ok {
		t.Fatal("expected a block")
	}
	if !strings.Contains(b, "\uFFFD") {
		t.Errorf("invalid bytes should become replacement characters: %q", b)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		frame     Frame
		wantKind  PayloadKind
		wantText  string
		wantUsage usage.Telemetry
	}{
		{
			name:     "empty",
			frame:    Frame{Event: "message"},
			wantKind: PayloadEmpty,
		},
		{
			name:     "text chunk",
			frame:    Frame{Event: "message", Data: `{"text":"Hello "}`},
			wantKind: PayloadText,
			wantText: "Hello ",
		},
		{
			name:     "not json",
			frame:    Frame{Event: "message", Data: "{not json"},
			wantKind: PayloadRaw,
			wantText: "{not json",
		},
		{
			name:     "plain string",
			frame:    Frame{Event: "message", Data: "hello there"},
			wantKind: PayloadRaw,
			wantText: "hello there",
		},
		{
			name:     "json array",
			frame:    Frame{Event: "message", Data: `[1,2]`},
			wantKind: PayloadRaw,
			wantText: `[1,2]`,
		},
		{
			name:     "unrecognized object",
			frame:    Frame{Event: "message", Data: `{"delta":"x"}`},
			wantKind: PayloadRaw,
			wantText: `{"delta":"x"}`,
		},
		{
			name:     "non-string text",
			frame:    Frame{Event: "message", Data: `{"text":42}`},
			wantKind: PayloadRaw,
			wantText: `{"text":42}`,
		},
		{
			name:     "usage event",
			frame:    Frame{Event: "usage", Data: `{"usage":{"inputTokens":123,"outputTokens":45,"totalTokens":168,"model":"x"}}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				InputTokens: 123, OutputTokens: 45, TotalTokens: 168, Model: "x",
			},
		},
		{
			name:     "usage aliases",
			frame:    Frame{Event: "usage", Data: `{"usage":{"promptTokens":4,"completionTokens":6}}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				InputTokens: 4, OutputTokens: 6, TotalTokens: 10,
			},
		},
		{
			name:     "primary name beats alias",
			frame:    Frame{Event: "usage", Data: `{"usage":{"inputTokens":1,"promptTokens":99,"totalTokens":1}}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				InputTokens: 1, TotalTokens: 1,
			},
		},
		{
			name:     "nested usage on message event",
			frame:    Frame{Event: "message", Data: `{"usage":{"totalTokens":9},"model":"outer","estimated":true}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				TotalTokens: 9, Model: "outer", Estimated: true,
			},
		},
		{
			name:     "nested object beats top-level fields",
			frame:    Frame{Event: "message", Data: `{"usage":{"totalTokens":3},"totalTokens":100}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				TotalTokens: 3,
			},
		},
		{
			name:     "top-level token fields",
			frame:    Frame{Event: "message", Data: `{"inputTokens":2,"outputTokens":3,"text":"ignored"}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				InputTokens: 2, OutputTokens: 3, TotalTokens: 5,
			},
		},
		{
			name:     "usage event without usage object falls through to text",
			frame:    Frame{Event: "usage", Data: `{"text":"hi"}`},
			wantKind: PayloadText,
			wantText: "hi",
		},
		{
			name:     "negative counts clamp to zero",
			frame:    Frame{Event: "usage", Data: `{"usage":{"inputTokens":-5,"totalTokens":7}}`},
			wantKind: PayloadUsage,
			wantUsage: usage.Telemetry{
				TotalTokens: 7,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := Classify(tc.frame)
			if p.Kind != tc.wantKind {
				t.Fatalf("Kind = %v, want %v", p.Kind, tc.wantKind)
			}
			if p.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", p.Text, tc.wantText)
			}
			if p.Usage != tc.wantUsage {
				t.Errorf("Usage = %+v, want %+v", p.Usage, tc.wantUsage)
			}
		})
	}
}

func TestWriteFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, "line1\nline2"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if err := WriteUsage(&buf, usage.Telemetry{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, Model: "m"}); err != nil {
		t.Fatalf("WriteUsage: %v", err)
	}
	if err := WriteFrame(&buf, Frame{Data: "a\nb"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var s Splitter
	s.Write(buf.Bytes())

	var payloads []Payload
	for {
		block, ok := s.Next()
		if !ok {
			break
		}
		f, ok := DecodeFrame(block)
		if !ok {
			t.Fatalf("undecodable block %q", block)
		}
		payloads = append(payloads, Classify(f))
	}

	if len(payloads) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(payloads))
	}
	if payloads[0].Kind != PayloadText || payloads[0].Text != "line1\nline2" {
		t.Errorf("text payload = %+v", payloads[0])
	}
	if payloads[1].Kind != PayloadUsage || payloads[1].Usage.TotalTokens != 3 || payloads[1].Usage.Model != "m" {
		t.Errorf("usage payload = %+v", payloads[1])
	}
	if payloads[2].Kind != PayloadRaw || payloads[2].Text != "a\nb" {
		t.Errorf("raw payload = %+v", payloads[2])
	}
}
