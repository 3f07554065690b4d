package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

type payload struct {
	Response string `json:"response"`
}

// chunkedReader yields the input in fixed-size pieces to exercise reads
// that split lines and multi-byte sequences arbitrarily.
type chunkedReader struct {
	data  string
	size  int
	pos   int
	final error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		if r.final != nil {
			return 0, r.final
		}
		return 0, io.EOF
	}
	end := r.pos + r.size
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func drain(t *testing.T, d *Decoder[payload]) ([]string, error) {
	t.Helper()
	var out []string
	for {
		p, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, p.Response)
	}
}

func TestDecoderBasicStream(t *testing.T) {
	input := "data: {\"response\":\"Hola\"}\n" +
		"data: {\"response\":\"Hola, mundo\"}\n" +
		"data: [DONE]\n"

	d := NewDecoder[payload](strings.NewReader(input))
	got, err := drain(t, d)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	want := []string{"Hola", "Hola, mundo"}
	assertPayloads(t, got, want)
}

func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	input := "data: {\"response\":\"Hola\"}\n" +
		"\n" +
		"data: {\"response\":\"Hola, mundo\"}\n" +
		"data: {\"response\":\"Hola, mundo!\"}\n" +
		"data: [DONE]\n"

	whole := NewDecoder[payload](strings.NewReader(input))
	want, wantErr := drain(t, whole)

	for size := 1; size <= len(input); size++ {
		d := NewDecoder[payload](&chunkedReader{data: input, size: size})
		got, err := drain(t, d)
		if err != wantErr {
			t.Fatalf("chunk size %d: expected %v, got %v", size, wantErr, err)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: expected %d payloads, got %d", size, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("chunk size %d: payload %d = %q, want %q", size, i, got[i], want[i])
			}
		}
	}
}

func TestDecoderDoneVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "done with newline",
			input: "data: {\"response\":\"a\"}\ndata: [DONE]\n",
			want:  []string{"a"},
		},
		{
			name:  "done without trailing newline",
			input: "data: {\"response\":\"a\"}\ndata: [DONE]",
			want:  []string{"a"},
		},
		{
			name:  "bare done without data prefix",
			input: "data: {\"response\":\"a\"}\n[DONE]\n",
			want:  []string{"a"},
		},
		{
			name:  "done only",
			input: "data: [DONE]\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder[payload](strings.NewReader(tt.input))
			got, err := drain(t, d)
			if err != io.EOF {
				t.Fatalf("expected io.EOF, got %v", err)
			}
			assertPayloads(t, got, tt.want)
		})
	}
}

func TestDecoderTrailingPayloadWithoutNewline(t *testing.T) {
	input := "data: {\"response\":\"a\"}\ndata: {\"response\":\"ab\"}"

	d := NewDecoder[payload](strings.NewReader(input))
	got, err := drain(t, d)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	assertPayloads(t, got, []string{"a", "ab"})
}

func TestDecoderDiscardsProtocolFields(t *testing.T) {
	input := "event: message\n" +
		"id: 42\n" +
		"retry: 3000\n" +
		"data: {\"response\":\"a\"}\n"

	d := NewDecoder[payload](strings.NewReader(input))
	got, err := drain(t, d)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	assertPayloads(t, got, []string{"a"})
}

func TestDecoderPeerClosedIsCleanEnd(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unexpected EOF", io.ErrUnexpectedEOF},
		{"connection reset", errors.New("read tcp 127.0.0.1: connection reset by peer")},
		{"closed connection", errors.New("http: read on closed response body")},
		{"terminated", errors.New("stream terminated by other side")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &chunkedReader{data: "data: {\"response\":\"a\"}\n", size: 64, final: tt.err}
			d := NewDecoder[payload](r)
			got, err := drain(t, d)
			if err != io.EOF {
				t.Fatalf("expected clean io.EOF, got %v", err)
			}
			assertPayloads(t, got, []string{"a"})
		})
	}
}

func TestDecoderMalformedJSON(t *testing.T) {
	d := NewDecoder[payload](strings.NewReader("data: {not json}\n"))
	_, err := d.Next()
	if err == nil || err == io.EOF {
		t.Fatalf("expected JSON error, got %v", err)
	}

	// Decoder is done after a protocol error.
	if _, err := d.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after failure, got %v", err)
	}
}

func TestDecoderOtherReadErrorPropagates(t *testing.T) {
	readErr := errors.New("some transport failure")
	d := NewDecoder[payload](&chunkedReader{data: "", size: 1, final: readErr})
	_, err := d.Next()
	if !errors.Is(err, readErr) {
		t.Fatalf("expected %v, got %v", readErr, err)
	}
}

func assertPayloads(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d payloads %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload %d = %q, want %q", i, got[i], want[i])
		}
	}
}
