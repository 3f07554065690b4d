package rag

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

//go:embed scenarios.json
var scenariosJSON []byte

// LocalEndpoint is the sentinel endpoint the discovery service registers
// for mock capabilities; no network call is ever made against it.
const LocalEndpoint = "local"

const (
	mockChunkSize        = 10
	mockChunkDelay       = 30 * time.Millisecond
	mockInitialDelay     = 500 * time.Millisecond
	simulatedFailureRuns = 2
)

type scenario struct {
	Language *string           `json:"language"`
	Domain   *string           `json:"domain"`
	Response string            `json:"response"`
	Contexts []domain.Citation `json:"contexts"`
}

// MockProvider replays canned scenarios chunk by chunk. It satisfies the
// same contract as the real client and can simulate transient predict
// failures to exercise the retry path.
type MockProvider struct {
	mu               sync.Mutex
	scenarios        []scenario
	simulateFailures bool
	predictCalls     int
}

type MockOptions struct {
	SimulateFailures bool
}

func NewMockProvider(opts MockOptions) (*MockProvider, error) {
	var scenarios []scenario
	if err := json.Unmarshal(scenariosJSON, &scenarios); err != nil {
		return nil, fmt.Errorf("parse demo scenarios: %w", err)
	}
	return &MockProvider{
		scenarios:        scenarios,
		simulateFailures: opts.SimulateFailures,
	}, nil
}

func (p *MockProvider) GetConfig(ctx context.Context, endpoint string) ([]domain.Mode, error) {
	seen := make(map[string]bool)
	var modes []domain.Mode
	for _, s := range p.scenarios {
		mode := domain.Mode{Language: orAny(s.Language), Domain: orAny(s.Domain)}
		key := mode.Language + "-" + mode.Domain
		if seen[key] {
			continue
		}
		seen[key] = true
		modes = append(modes, mode)
	}
	return modes, nil
}

func (p *MockProvider) Configure(ctx context.Context, req ConfigureRequest) (domain.Mode, error) {
	mode := domain.Mode{Language: req.Language, Domain: req.Domain}
	if mode.Language == "" {
		mode.Language = "es"
	}
	if mode.Domain == "" {
		mode.Domain = "general"
	}
	return mode, nil
}

func (p *MockProvider) Predict(ctx context.Context, endpoint string, req PredictRequest) (ChunkStream, error) {
	if err := p.maybeFail(); err != nil {
		return nil, err
	}

	match := p.findScenario(req.Language, req.Domain)

	select {
	case <-time.After(mockInitialDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &mockStream{ctx: ctx, scenario: match, text: []rune(match.Response), provider: p}, nil
}

func (p *MockProvider) findScenario(lang, dom string) scenario {
	for _, s := range p.scenarios {
		if matches(s.Language, lang) && matches(s.Domain, dom) {
			return s
		}
	}
	for _, s := range p.scenarios {
		if matches(s.Language, lang) && s.Domain == nil {
			return s
		}
	}
	for _, s := range p.scenarios {
		if s.Language == nil && matches(s.Domain, dom) {
			return s
		}
	}
	return scenario{
		Response: "Mock mode: no matching scenario for this configuration. Returning a generic response.",
		Contexts: []domain.Citation{},
	}
}

func (p *MockProvider) maybeFail() error {
	if !p.simulateFailures {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.predictCalls++
	if p.predictCalls <= simulatedFailureRuns {
		return fmt.Errorf("simulated backend failure (attempt %d/%d)",
			p.predictCalls, simulatedFailureRuns+1)
	}
	return nil
}

func (p *MockProvider) resetFailureCounter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.predictCalls = 0
}

type mockStream struct {
	ctx      context.Context
	scenario scenario
	text     []rune
	provider *MockProvider
	cursor   int
	tailSent bool
}

func (s *mockStream) Next() (domain.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return domain.Chunk{}, err
	}

	text := s.text
	if s.cursor < len(text) {
		if s.cursor > 0 {
			select {
			case <-time.After(mockChunkDelay):
			case <-s.ctx.Done():
				return domain.Chunk{}, s.ctx.Err()
			}
		}
		end := s.cursor + mockChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunk := domain.Chunk{Response: string(text[s.cursor:end])}
		s.cursor = end
		return chunk, nil
	}

	// Contexts arrive in a trailing chunk, mirroring real backend behavior.
	if !s.tailSent {
		s.tailSent = true
		contexts := s.scenario.Contexts
		if contexts == nil {
			contexts = []domain.Citation{}
		}
		return domain.Chunk{Contexts: contexts}, nil
	}

	s.provider.resetFailureCounter()
	return domain.Chunk{}, io.EOF
}

func (s *mockStream) Close() error { return nil }

func orAny(s *string) string {
	if s == nil || *s == "" {
		return "any"
	}
	return *s
}

func matches(field *string, value string) bool {
	return field != nil && *field == value
}
