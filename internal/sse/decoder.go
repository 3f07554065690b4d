// Package sse decodes a server-sent-event byte stream into JSON payloads.
// The decoder is tolerant of arbitrary chunk boundaries and of connections
// closed abruptly by the peer, which some backends use instead of a
// terminating [DONE] line.
package sse

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"syscall"
)

// Decoder reads payloads of type T from r. It is finite, non-restartable
// and owns no retry logic.
type Decoder[T any] struct {
	r       io.Reader
	buf     []byte
	pending string
	done    bool
}

func NewDecoder[T any](r io.Reader) *Decoder[T] {
	return &Decoder[T]{
		r:   r,
		buf: make([]byte, 4096),
	}
}

// Next returns the next decoded payload. It returns io.EOF when the stream
// ends cleanly, including when the peer closes the connection mid-stream.
// JSON errors and other read errors propagate to the caller.
func (d *Decoder[T]) Next() (T, error) {
	var zero T
	if d.done {
		return zero, io.EOF
	}

	for {
		if line, ok := d.takeLine(); ok {
			payload, emit, err := decodeLine[T](line)
			if err != nil {
				d.done = true
				return zero, err
			}
			if emit {
				return payload, nil
			}
			continue
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.pending += string(d.buf[:n])
		}
		if err != nil {
			d.done = true
			if err == io.EOF || closedByPeer(err) {
				return d.flush()
			}
			return zero, err
		}
	}
}

// takeLine pops one complete newline-terminated line from the pending
// buffer. A trailing partial line stays buffered across reads.
func (d *Decoder[T]) takeLine() (string, bool) {
	idx := strings.IndexByte(d.pending, '\n')
	if idx < 0 {
		return "", false
	}
	line := d.pending[:idx]
	d.pending = d.pending[idx+1:]
	return line, true
}

// flush parses whatever non-empty line is still buffered at stream end as
// one final payload.
func (d *Decoder[T]) flush() (T, error) {
	var zero T
	rest := d.pending
	d.pending = ""
	if strings.TrimSpace(rest) == "" {
		return zero, io.EOF
	}
	payload, emit, err := decodeLine[T](rest)
	if err != nil {
		return zero, err
	}
	if !emit {
		return zero, io.EOF
	}
	return payload, nil
}

func decodeLine[T any](line string) (payload T, emit bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return payload, false, nil
	}

	if strings.HasPrefix(trimmed, "data:") {
		trimmed = strings.TrimSpace(trimmed[len("data:"):])
	}

	if strings.HasPrefix(trimmed, "event:") ||
		strings.HasPrefix(trimmed, "id:") ||
		strings.HasPrefix(trimmed, "retry:") {
		return payload, false, nil
	}

	if trimmed == "" || trimmed == "[DONE]" {
		return payload, false, nil
	}

	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return payload, false, err
	}
	return payload, true, nil
}

// closedByPeer reports whether a read error indicates the other side ended
// the connection, which terminates the stream cleanly rather than failing.
func closedByPeer(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed") ||
		strings.Contains(msg, "terminated")
}
