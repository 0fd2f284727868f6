// Package sideband scans pane output for control directives embedded
// as OSC escape sequences of the form ESC ] fugue:<cmd> <attrs> BEL
// (or ESC \ as the terminator), and turns each into a structured
// Directive. Plain text matching "<fugue:...>" outside an actual
// escape sequence is never matched - this is load-bearing, not
// incidental: it is what keeps a `grep` over a source tree from being
// weaponized into spawning panes.
//
// Recognizing one application-defined OSC family is a few dozen lines
// against raw bytes; the daemon never renders terminal output, so no
// terminal emulator is involved.
package sideband

import (
	"bytes"
	"strings"
)

const (
	escByte       = 0x1b
	oscIntroducer = ']'
	bel           = 0x07
)

// Directive is one parsed control directive: spawn, input, canvas, or
// control.
type Directive struct {
	Cmd   string
	Attrs map[string]string
}

// Scanner incrementally extracts fugue: OSC directives from a stream
// of PTY output that may split an escape sequence across separate
// reads. The zero value is ready to use.
type Scanner struct {
	buf []byte
}

// Feed scans b (together with any bytes buffered from a prior call)
// for complete "ESC ] fugue:... BEL" or "ESC ] fugue:... ESC \"
// sequences, returning every directive fully recognized. A sequence
// left incomplete at the end of b is retained for the next Feed call.
func (s *Scanner) Feed(b []byte) []Directive {
	s.buf = append(s.buf, b...)
	var out []Directive

	for {
		start := bytes.IndexByte(s.buf, escByte)
		if start < 0 {
			s.buf = nil
			break
		}
		if start+1 >= len(s.buf) {
			s.buf = s.buf[start:]
			break
		}
		if s.buf[start+1] != oscIntroducer {
			s.buf = s.buf[start+1:]
			continue
		}

		rest := s.buf[start+2:]
		belIdx := bytes.IndexByte(rest, bel)
		stIdx := bytes.Index(rest, []byte{escByte, '\\'})

		end, termLen := -1, 0
		switch {
		case belIdx >= 0 && (stIdx < 0 || belIdx < stIdx):
			end, termLen = belIdx, 1
		case stIdx >= 0:
			end, termLen = stIdx, 2
		}
		if end < 0 {
			// Not yet terminated; keep from ESC onward for next Feed.
			s.buf = s.buf[start:]
			break
		}

		if d, ok := parsePayload(rest[:end]); ok {
			out = append(out, d)
		}
		s.buf = rest[end+termLen:]
	}
	return out
}

const cmdPrefix = "fugue:"

// parsePayload parses "fugue:<cmd> key=value key2="value"" into a
// Directive. Attributes are split on whitespace and surrounding quotes
// are trimmed, so a quoted value containing spaces keeps only its first
// word. Payloads not starting with the fugue: prefix (some other
// program's OSC traffic sharing the same pane) are ignored.
func parsePayload(payload []byte) (Directive, bool) {
	s := string(payload)
	if !strings.HasPrefix(s, cmdPrefix) {
		return Directive{}, false
	}
	s = strings.TrimPrefix(s, cmdPrefix)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Directive{}, false
	}
	d := Directive{Cmd: fields[0], Attrs: make(map[string]string)}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		d.Attrs[k] = strings.Trim(v, `"`)
	}
	return d, true
}
