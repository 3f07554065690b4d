package rag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
	"github.com/surlabs/ilenia-rag-gateway/internal/registry"
)

func newTestRegistry(t *testing.T, endpoints []string, credentials []string, master string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	if err := reg.Initialize(endpoints, credentials, master); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	return reg
}

func TestGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_config" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"modes": []domain.Mode{
				{Language: "es", Domain: "legal"},
				{Language: "eu", Domain: "any"},
			},
		})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	modes, err := client.GetConfig(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(modes) != 2 {
		t.Fatalf("expected 2 modes, got %d", len(modes))
	}
	if modes[0].Language != "es" || modes[0].Domain != "legal" {
		t.Fatalf("unexpected first mode: %+v", modes[0])
	}
}

func TestGetConfigSendsBasicAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"modes": []domain.Mode{}})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, []string{"alice:s3cret"}, srv.URL)
	client := NewClient(reg, ClientOptions{})

	if _, err := client.GetConfig(context.Background(), srv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth == "" {
		t.Fatal("expected Authorization header")
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.SetBasicAuth("alice", "s3cret")
	if gotAuth != req.Header.Get("Authorization") {
		t.Fatalf("Authorization = %q, want basic auth for alice", gotAuth)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuthFailed},
		{"server error", http.StatusInternalServerError, nil},
		{"not found", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
			client := NewClient(reg, ClientOptions{})

			_, err := client.GetConfig(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("expected error")
			}

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}

			var httpErr *domain.HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected HTTPError, got %v", err)
			}
			if httpErr.Status != tt.status {
				t.Fatalf("status = %d, want %d", httpErr.Status, tt.status)
			}
		})
	}
}

func TestGetConfigTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{ConfigTimeout: 20 * time.Millisecond})

	_, err := client.GetConfig(context.Background(), srv.URL)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestConfigure(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/configure" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(domain.Mode{Language: "eu", Domain: "legal"})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	mode, err := client.Configure(context.Background(), ConfigureRequest{
		Prompt:           "zer dio legeak?",
		AvailableConfigs: []domain.Mode{{Language: "eu", Domain: "legal"}},
		Language:         "eu",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mode.Language != "eu" || mode.Domain != "legal" {
		t.Fatalf("unexpected mode: %+v", mode)
	}

	// Hints not provided travel as JSON null, not as empty strings.
	if string(gotBody["language"]) != `"eu"` {
		t.Fatalf("language = %s, want \"eu\"", gotBody["language"])
	}
	if string(gotBody["domain"]) != "null" {
		t.Fatalf("domain = %s, want null", gotBody["domain"])
	}
	if string(gotBody["prompt"]) != `"zer dio legeak?"` {
		t.Fatalf("prompt = %s", gotBody["prompt"])
	}
}

func TestConfigureWithoutMaster(t *testing.T) {
	client := NewClient(registry.New(), ClientOptions{})
	_, err := client.Configure(context.Background(), ConfigureRequest{Prompt: "hola"})
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestPredictDeltaConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"response\":\"Hi\",\"contexts\":null}\n")
		io.WriteString(w, "data: {\"response\":\"Hi there\",\"contexts\":null}\n")
		io.WriteString(w, "data: {\"response\":\"Hi there!\",\"contexts\":[{\"id\":\"1\",\"title\":\"Doc\",\"passage\":\"p\"}]}\n")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	stream, err := client.Predict(context.Background(), srv.URL, PredictRequest{
		Prompt:   "hi",
		Language: "es",
		Domain:   "general",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var deltas []string
	var lastContexts []domain.Citation
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		deltas = append(deltas, chunk.Response)
		if chunk.Contexts != nil {
			lastContexts = chunk.Contexts
		}
	}

	want := []string{"Hi", " there", "!"}
	if len(deltas) != len(want) {
		t.Fatalf("expected deltas %v, got %v", want, deltas)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Fatalf("delta %d = %q, want %q", i, deltas[i], want[i])
		}
	}
	if len(lastContexts) != 1 || lastContexts[0].Title != "Doc" {
		t.Fatalf("unexpected contexts: %+v", lastContexts)
	}
}

func TestPredictSuppressesEmptyChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"response\":\"a\",\"contexts\":null}\n")
		// Same cumulative text, no contexts: nothing new, must be skipped.
		io.WriteString(w, "data: {\"response\":\"a\",\"contexts\":null}\n")
		io.WriteString(w, "data: {\"response\":\"a\",\"contexts\":[]}\n")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	stream, err := client.Predict(context.Background(), srv.URL, PredictRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var chunks []domain.Chunk
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Response != "a" {
		t.Fatalf("first chunk = %+v", chunks[0])
	}
	// Empty-delta chunk with non-nil contexts is forwarded.
	if chunks[1].Response != "" || chunks[1].Contexts == nil {
		t.Fatalf("second chunk = %+v", chunks[1])
	}
}

func TestPredictConnectionCloseEndsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"response\":\"partial\",\"contexts\":null}\n")
		// No [DONE]; the handler returning closes the connection.
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	stream, err := client.Predict(context.Background(), srv.URL, PredictRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.Response != "partial" {
		t.Fatalf("chunk = %+v", chunk)
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on connection close, got %v", err)
	}
}

func TestPredictUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	reg := newTestRegistry(t, []string{srv.URL}, nil, srv.URL)
	client := NewClient(reg, ClientOptions{})

	_, err := client.Predict(context.Background(), srv.URL, PredictRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}
