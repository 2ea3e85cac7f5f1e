package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE frames ev as a single Server-Sent Events message and flushes
// it immediately. The framing is fixed: one "data: " line carrying the
// JSON-encoded event, one blank line terminator — byte-for-byte what
// every SSE client expects, and what the downstream proxy must pass
// through unchanged.
func WriteSSE(w io.Writer, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}

// ScanSSE reads one "data: ...\n\n" frame from r and decodes it into an
// Event. It returns io.EOF once the stream is exhausted cleanly, and
// silently skips non-data lines (comments, blank keep-alives) the way a
// tolerant SSE client does.
func ScanSSE(r *bufio.Reader) (Event, error) {
	var payload bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimRight([]byte(line), "\r\n")
			switch {
			case len(trimmed) == 0:
				if payload.Len() > 0 {
					var ev Event
					if jerr := json.Unmarshal(payload.Bytes(), &ev); jerr != nil {
						return Event{}, fmt.Errorf("decode stream event: %w", jerr)
					}
					return ev, nil
				}
				// Blank keep-alive line with no pending payload; keep scanning.
			case bytes.HasPrefix(trimmed, []byte("data:")):
				data := bytes.TrimPrefix(trimmed, []byte("data:"))
				data = bytes.TrimPrefix(data, []byte(" "))
				payload.Write(data)
			default:
				// Comment or unknown field; ignore per the SSE spec.
			}
		}
		if err != nil {
			if err == io.EOF && payload.Len() == 0 {
				return Event{}, io.EOF
			}
			if err == io.EOF {
				var ev Event
				if jerr := json.Unmarshal(payload.Bytes(), &ev); jerr != nil {
					return Event{}, fmt.Errorf("decode stream event: %w", jerr)
				}
				return ev, nil
			}
			return Event{}, err
		}
	}
}
