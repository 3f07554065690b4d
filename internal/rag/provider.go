// Package rag defines the backend provider contract and its two
// implementations: the real HTTP capability client and a mock provider
// used for demos and tests.
package rag

import (
	"context"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

// ChunkStream is a lazy, finite, non-restartable sequence of response
// chunks. Next returns io.EOF when the stream ends cleanly. Chunks carry
// suffix deltas, not cumulative text.
type ChunkStream interface {
	Next() (domain.Chunk, error)
	Close() error
}

type ConfigureRequest struct {
	Prompt           string
	AvailableConfigs []domain.Mode
	Language         string // caller hint, may be empty
	Domain           string // caller hint, may be empty
}

type PredictRequest struct {
	History  []domain.HistoryEntry
	Prompt   string
	Language string
	Domain   string
}

// Provider is the contract every RAG backend implementation satisfies.
type Provider interface {
	// GetConfig fetches the (language, domain) modes a backend serves.
	GetConfig(ctx context.Context, endpoint string) ([]domain.Mode, error)

	// Configure asks the master endpoint to pick a mode from free text.
	Configure(ctx context.Context, req ConfigureRequest) (domain.Mode, error)

	// Predict opens a streaming prediction against one backend.
	Predict(ctx context.Context, endpoint string, req PredictRequest) (ChunkStream, error)
}
