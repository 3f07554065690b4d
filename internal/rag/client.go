package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
	"github.com/surlabs/ilenia-rag-gateway/internal/httputil"
	"github.com/surlabs/ilenia-rag-gateway/internal/registry"
	"github.com/surlabs/ilenia-rag-gateway/internal/sse"
)

// Client talks the ilenia RAG backend protocol: GET /get_config,
// POST /configure on the master, POST /predict streaming SSE.
type Client struct {
	registry      *registry.Registry
	configClient  *http.Client
	predictClient *http.Client
}

type ClientOptions struct {
	ConfigTimeout  time.Duration // default 5s, bounds get_config and configure
	RequestTimeout time.Duration // default 30s, bounds the whole predict call
}

func NewClient(reg *registry.Registry, opts ClientOptions) *Client {
	if opts.ConfigTimeout == 0 {
		opts.ConfigTimeout = 5 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Client{
		registry:      reg,
		configClient:  httputil.ConfigClient(opts.ConfigTimeout),
		predictClient: httputil.PredictClient(opts.RequestTimeout),
	}
}

type configResponse struct {
	Modes []domain.Mode `json:"modes"`
}

func (c *Client) GetConfig(ctx context.Context, endpoint string) ([]domain.Mode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/get_config", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, endpoint)

	resp, err := c.configClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, endpoint)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, endpoint); err != nil {
		return nil, err
	}

	var config configResponse
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode config from %s: %w", endpoint, err)
	}

	slog.Debug("config fetched", "url", endpoint, "modes", len(config.Modes))
	return config.Modes, nil
}

func (c *Client) Configure(ctx context.Context, req ConfigureRequest) (domain.Mode, error) {
	masterURL := c.registry.MasterURL()
	if masterURL == "" {
		return domain.Mode{}, fmt.Errorf("%w: master URL not configured", domain.ErrConfig)
	}

	available := req.AvailableConfigs
	if available == nil {
		available = []domain.Mode{}
	}
	body, err := json.Marshal(struct {
		Prompt           string        `json:"prompt"`
		AvailableConfigs []domain.Mode `json:"available_configs"`
		Language         *string       `json:"language"`
		Domain           *string       `json:"domain"`
	}{
		Prompt:           req.Prompt,
		AvailableConfigs: available,
		Language:         nullable(req.Language),
		Domain:           nullable(req.Domain),
	})
	if err != nil {
		return domain.Mode{}, fmt.Errorf("marshal configure request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, masterURL+"/configure", bytes.NewReader(body))
	if err != nil {
		return domain.Mode{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, masterURL)

	resp, err := c.configClient.Do(httpReq)
	if err != nil {
		return domain.Mode{}, classifyTransportError(err, masterURL)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, masterURL); err != nil {
		return domain.Mode{}, err
	}

	var mode domain.Mode
	if err := json.NewDecoder(resp.Body).Decode(&mode); err != nil {
		return domain.Mode{}, fmt.Errorf("decode configure response: %w", err)
	}

	slog.Info("configuration resolved",
		"master_url", masterURL,
		"language", mode.Language,
		"domain", mode.Domain,
	)
	return mode, nil
}

func (c *Client) Predict(ctx context.Context, endpoint string, req PredictRequest) (ChunkStream, error) {
	history := req.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	body, err := json.Marshal(struct {
		History  []domain.HistoryEntry `json:"history"`
		Prompt   string                `json:"prompt"`
		Language string                `json:"language"`
		Domain   string                `json:"domain"`
	}{
		History:  history,
		Prompt:   req.Prompt,
		Language: req.Language,
		Domain:   req.Domain,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, endpoint)
	httpReq.Header.Set("Accept", "text/event-stream")

	slog.Info("starting predict request",
		"url", endpoint,
		"language", req.Language,
		"domain", req.Domain,
	)

	resp, err := c.predictClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, endpoint)
	}

	if err := classifyStatus(resp, endpoint); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &deltaStream{
		body:    resp.Body,
		decoder: sse.NewDecoder[domain.Chunk](resp.Body),
	}, nil
}

func (c *Client) setHeaders(req *http.Request, endpoint string) {
	for k, v := range c.registry.AuthHeaderFor(endpoint) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
}

// deltaStream converts the backend's cumulative response text into suffix
// deltas. A chunk whose delta is empty and whose contexts are nil is
// suppressed; contexts are forwarded whenever present.
type deltaStream struct {
	body        io.ReadCloser
	decoder     *sse.Decoder[domain.Chunk]
	accumulated string
	closed      bool
}

func (s *deltaStream) Next() (domain.Chunk, error) {
	for {
		chunk, err := s.decoder.Next()
		if err != nil {
			s.Close()
			return domain.Chunk{}, err
		}

		delta := ""
		if len(chunk.Response) > len(s.accumulated) {
			delta = chunk.Response[len(s.accumulated):]
		}
		s.accumulated = chunk.Response

		if delta == "" && chunk.Contexts == nil {
			continue
		}
		return domain.Chunk{Response: delta, Contexts: chunk.Contexts}, nil
	}
}

func (s *deltaStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

func classifyStatus(resp *http.Response, url string) error {
	if resp.StatusCode == http.StatusUnauthorized {
		slog.Error("authentication failed for backend", "url", url)
		return fmt.Errorf("%w: %s", domain.ErrAuthFailed, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.HTTPError{Status: resp.StatusCode, URL: url}
	}
	return nil
}

func classifyTransportError(err error, url string) error {
	if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrTimeout, url, err)
	}
	return fmt.Errorf("request to %s: %w", url, err)
}

func isClientTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
