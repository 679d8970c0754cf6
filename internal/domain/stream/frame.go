// Package stream decodes the server-sent frame protocol used by generative upstreams:
// blank-line separated frames made of optional "event:" and one or more "data:" lines.
package stream

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// DefaultEvent is the event name of a frame without an "event:" line.
const DefaultEvent = "message"

// Frame is one decoded protocol unit.
type Frame struct {
	Event string
	Data  string
}

// DecodeFrame parses one raw block. ok is false when the block has no data line.
// Unrecognized lines are skipped; malformed input never fails.
func DecodeFrame(block string) (f Frame, ok bool) {
	f.Event = DefaultEvent
	var data []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			if name := strings.TrimSpace(line[len("event:"):]); name != "" {
				f.Event = name
			} else {
				f.Event = DefaultEvent
			}
		case strings.HasPrefix(line, "data:"):
			v := line[len("data:"):]
			v = strings.TrimPrefix(v, " ")
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return Frame{}, false
	}
	f.Data = strings.TrimSpace(strings.Join(data, "\n"))
	return f, true
}

var boundary = []byte("\n\n")

// Splitter reassembles frames from arbitrarily split reads. Frame boundaries are
// ASCII, so a multi-byte character cut across reads is rejoined before decoding.
// CRLF line endings are normalised to LF.
type Splitter struct {
	buf []byte
}

// Write appends bytes read from the transport.
func (s *Splitter) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	from := len(s.buf)
	if from > 0 && s.buf[from-1] == '\r' {
		from--
	}
	s.buf = append(s.buf, p...)
	if bytes.IndexByte(s.buf[from:], '\r') >= 0 {
		tail := bytes.ReplaceAll(s.buf[from:], []byte("\r\n"), []byte("\n"))
		s.buf = append(s.buf[:from], tail...)
	}
}

// Next removes and returns the next complete frame block.
func (s *Splitter) Next() (string, bool) {
	i := bytes.Index(s.buf, boundary)
	if i < 0 {
		return "", false
	}
	block := toText(s.buf[:i])
	rest := copy(s.buf, s.buf[i+len(boundary):])
	s.buf = s.buf[:rest]
	return block, true
}

// Flush returns whatever remains buffered at end of stream, if it is not blank.
func (s *Splitter) Flush() (string, bool) {
	block := toText(s.buf)
	s.buf = s.buf[:0]
	if strings.TrimSpace(block) == "" {
		return "", false
	}
	return block, true
}

// Buffered returns the number of bytes awaiting a boundary.
func (s *Splitter) Buffered() int { return len(s.buf) }

func toText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
