// Package chat runs a full chat turn: ownership check, persistence,
// configuration resolution, backend selection and the resilient relay of
// the backend's prediction stream to the caller.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/cache"
	"github.com/surlabs/ilenia-rag-gateway/internal/circuitbreaker"
	"github.com/surlabs/ilenia-rag-gateway/internal/discovery"
	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
	"github.com/surlabs/ilenia-rag-gateway/internal/metrics"
	"github.com/surlabs/ilenia-rag-gateway/internal/rag"
	"github.com/surlabs/ilenia-rag-gateway/internal/retry"
	"github.com/surlabs/ilenia-rag-gateway/internal/store"
	"github.com/surlabs/ilenia-rag-gateway/internal/telemetry"
)

const (
	defaultLanguage = "es"
	defaultDomain   = "general"

	resolutionTTL = 10 * time.Minute
)

type SendMessageRequest struct {
	ChatID   string
	UserID   string
	Content  string
	Language string // explicit caller choice, may be empty
	Domain   string // explicit caller choice, may be empty
	Demo     bool
	Title    string // optional optimistic chat title
}

type Options struct {
	RetryConfig   retry.Config
	ResolutionTTL time.Duration
}

// Orchestrator wires the stores, the discovery service and the backend
// providers into the single streaming chat-turn operation.
type Orchestrator struct {
	store         store.ChatStore
	discovery     *discovery.Service
	provider      rag.Provider
	demoProvider  rag.Provider // serves demo turns against the local endpoint
	resolutions   cache.Cache
	breakers      *circuitbreaker.Manager
	retryCfg      retry.Config
	resolutionTTL time.Duration
}

func NewOrchestrator(
	chatStore store.ChatStore,
	disc *discovery.Service,
	provider rag.Provider,
	demoProvider rag.Provider,
	resolutions cache.Cache,
	breakers *circuitbreaker.Manager,
	opts Options,
) *Orchestrator {
	if opts.ResolutionTTL <= 0 {
		opts.ResolutionTTL = resolutionTTL
	}
	return &Orchestrator{
		store:         chatStore,
		discovery:     disc,
		provider:      provider,
		demoProvider:  demoProvider,
		resolutions:   resolutions,
		breakers:      breakers,
		retryCfg:      opts.RetryConfig,
		resolutionTTL: opts.ResolutionTTL,
	}
}

// SendMessage runs one chat turn and streams its progress. The returned
// channel carries status and content events and is closed when the turn
// ends, either after clean completion or after a terminal ERROR event.
// A turn ending in ERROR never persists an assistant message.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendMessageRequest) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent)

	go func() {
		defer close(events)

		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()

		start := time.Now()
		status, mode := o.run(ctx, req, events)
		metrics.RecordChatTurn(status, req.Demo, mode.Language, mode.Domain, time.Since(start).Seconds())
	}()

	return events
}

func (o *Orchestrator) run(ctx context.Context, req SendMessageRequest, events chan<- domain.StreamEvent) (string, domain.Mode) {
	ctx, span := telemetry.StartSpan(ctx, "chat.turn")
	defer span.End()

	log := slog.With("chat_id", req.ChatID, "user_id", req.UserID)

	chat, err := o.store.FindChat(ctx, req.ChatID, req.UserID)
	if err != nil {
		log.Warn("chat lookup failed", "error", err)
		o.fail(ctx, events, "chat not found")
		return "error", domain.Mode{}
	}

	if req.Title != "" && req.Title != chat.Title {
		if err := o.store.UpdateChatTitle(ctx, chat.ID, req.Title); err != nil {
			log.Warn("failed to update chat title", "error", err)
		}
	}

	userMsg, err := o.store.AppendMessage(ctx, chat.ID, domain.RoleUser, req.Content, nil)
	if err != nil {
		log.Error("failed to persist user message", "error", err)
		o.fail(ctx, events, "failed to persist message")
		return "error", domain.Mode{}
	}

	history, err := o.loadHistory(ctx, chat.ID, userMsg.ID)
	if err != nil {
		log.Error("failed to load chat history", "error", err)
		o.fail(ctx, events, "failed to load chat history")
		return "error", domain.Mode{}
	}

	provider := o.provider
	if req.Demo {
		provider = o.demoProvider
	}

	mode, failMsg := o.resolveMode(ctx, provider, req)
	if failMsg != "" {
		o.fail(ctx, events, failMsg)
		return "error", domain.Mode{}
	}
	log = log.With("language", mode.Language, "domain", mode.Domain)

	endpoint := rag.LocalEndpoint
	if !req.Demo {
		var ok bool
		endpoint, ok = o.discovery.FindBackend(mode.Language, mode.Domain)
		if !ok {
			log.Warn("no backend serves requested mode")
			o.fail(ctx, events, domain.ErrNoBackend.Error())
			return "error", mode
		}
	}
	log = log.With("endpoint", endpoint)
	telemetry.AddTurnAttributes(span, req.ChatID, mode.Language, mode.Domain, endpoint)

	stream, ok := o.connect(ctx, events, provider, endpoint, rag.PredictRequest{
		History:  history,
		Prompt:   req.Content,
		Language: mode.Language,
		Domain:   mode.Domain,
	}, req.Demo)
	if !ok {
		return "error", mode
	}

	text, contexts, ok := o.relay(ctx, events, stream)
	if !ok {
		return "error", mode
	}

	if text == "" {
		log.Info("backend produced no text, skipping assistant message")
		return "ok", mode
	}

	if _, err := o.store.AppendMessage(ctx, chat.ID, domain.RoleAssistant, text, toSources(contexts)); err != nil {
		log.Error("failed to persist assistant message", "error", err)
	}

	log.Info("chat turn completed", "response_chars", len(text), "citations", len(contexts))
	return "ok", mode
}

// resolveMode decides the (language, domain) pair for this turn. Demo turns
// and turns with both values set explicitly never touch the master backend.
// A failed automatic resolution is terminal; the turn is never silently
// routed to a default mode. Returns a non-empty failure message on error.
func (o *Orchestrator) resolveMode(ctx context.Context, provider rag.Provider, req SendMessageRequest) (domain.Mode, string) {
	if req.Demo {
		mode := domain.Mode{Language: req.Language, Domain: req.Domain}
		if mode.Language == "" {
			mode.Language = defaultLanguage
		}
		if mode.Domain == "" {
			mode.Domain = defaultDomain
		}
		return mode, ""
	}

	if req.Language != "" && req.Domain != "" {
		return domain.Mode{Language: req.Language, Domain: req.Domain}, ""
	}

	available := concreteModes(o.discovery.Modes())
	key := cache.GenerateKey(req.Content, req.Language, req.Domain, available)

	if o.resolutions != nil {
		if mode, ok := o.resolutions.Get(ctx, key); ok {
			metrics.ResolutionCacheHits.Inc()
			return mode, ""
		}
		metrics.ResolutionCacheMisses.Inc()
	}

	mode, err := provider.Configure(ctx, rag.ConfigureRequest{
		Prompt:           req.Content,
		AvailableConfigs: available,
		Language:         req.Language,
		Domain:           req.Domain,
	})
	if err != nil {
		slog.Error("configuration resolution failed", "error", err)
		return domain.Mode{}, "could not determine language and domain for this message"
	}

	if o.resolutions != nil {
		if err := o.resolutions.Set(ctx, key, mode, o.resolutionTTL); err != nil {
			slog.Warn("failed to cache resolved configuration", "error", err)
		}
	}
	return mode, ""
}

// probedStream is a prediction stream whose first chunk was already pulled
// by the connectivity probe.
type probedStream struct {
	first domain.Chunk
	rest  rag.ChunkStream
}

// connect opens the prediction stream under the retry engine, relaying one
// retrying event per failed attempt. Each attempt pulls the first chunk
// before counting as a success; a stream that ends before producing
// anything is a failed attempt. The per-endpoint circuit breaker is
// consulted before each attempt and fed the outcome.
func (o *Orchestrator) connect(ctx context.Context, events chan<- domain.StreamEvent, provider rag.Provider, endpoint string, req rag.PredictRequest, demo bool) (*probedStream, bool) {
	var breaker *circuitbreaker.Breaker
	if !demo && o.breakers != nil {
		breaker = o.breakers.Get(endpoint)
	}

	op := func(ctx context.Context) (*probedStream, error) {
		if breaker != nil {
			if err := breaker.Allow(ctx); err != nil {
				return nil, err
			}
		}

		stream, err := provider.Predict(ctx, endpoint, req)
		if err != nil {
			if breaker != nil {
				breaker.RecordFailure(ctx)
			}
			return nil, err
		}

		first, err := stream.Next()
		if err != nil {
			stream.Close()
			if breaker != nil {
				breaker.RecordFailure(ctx)
			}
			if errors.Is(err, io.EOF) {
				return nil, domain.ErrEmptyStream
			}
			return nil, err
		}

		if breaker != nil {
			breaker.RecordSuccess(ctx)
		}
		return &probedStream{first: first, rest: stream}, nil
	}

	var probe *probedStream
	for ev := range retry.Run(ctx, o.retryCfg, op) {
		switch ev.Status {
		case retry.StatusRetrying:
			metrics.PredictRetriesTotal.Inc()
			if !emit(ctx, events, domain.StatusEvent(domain.StatusRetrying, ev.Attempt, "retrying backend connection")) {
				return nil, false
			}
		case retry.StatusSuccess:
			probe = ev.Value
			if !emit(ctx, events, domain.StatusEvent(domain.StatusSuccess, ev.Attempt, "")) {
				probe.rest.Close()
				return nil, false
			}
		case retry.StatusError:
			emit(ctx, events, domain.StatusEvent(domain.StatusError, ev.Attempt, errorMessage(ev.Err)))
			return nil, false
		}
	}

	if probe == nil {
		// Context cancelled before a terminal retry event.
		return nil, false
	}
	return probe, true
}

// relay forwards the probed first chunk and every subsequent delta to the
// caller, accumulating the full response text and tracking the latest
// non-nil citation set. A mid-stream failure yields a terminal ERROR and
// reports not-ok so nothing partial is persisted.
func (o *Orchestrator) relay(ctx context.Context, events chan<- domain.StreamEvent, stream *probedStream) (string, []domain.Citation, bool) {
	defer stream.rest.Close()

	var text string
	var contexts []domain.Citation

	chunk := stream.first
	for {
		text += chunk.Response
		if chunk.Contexts != nil {
			contexts = chunk.Contexts
		}
		if !emit(ctx, events, domain.ContentEvent(chunk.Response, chunk.Contexts)) {
			return "", nil, false
		}

		var err error
		chunk, err = stream.rest.Next()
		if errors.Is(err, io.EOF) {
			return text, contexts, true
		}
		if err != nil {
			slog.Error("prediction stream failed mid-relay", "error", err)
			o.fail(ctx, events, fmt.Sprintf("stream interrupted: %v", err))
			return "", nil, false
		}
	}
}

// loadHistory builds the predict history from every persisted message
// except the turn's own prompt, which travels separately.
func (o *Orchestrator) loadHistory(ctx context.Context, chatID, excludeID string) ([]domain.HistoryEntry, error) {
	messages, err := o.store.ListHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}

	history := make([]domain.HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		if msg.ID == excludeID {
			continue
		}
		history = append(history, domain.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}

func (o *Orchestrator) fail(ctx context.Context, events chan<- domain.StreamEvent, message string) {
	emit(ctx, events, domain.StatusEvent(domain.StatusError, 0, message))
}

func emit(ctx context.Context, events chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case events <- ev:
		metrics.RecordStreamEvent(ev.Type)
		return true
	case <-ctx.Done():
		return false
	}
}

// concreteModes drops wildcard entries from the candidate list sent to the
// master. Wildcards are routable but are not valid resolution answers.
func concreteModes(modes []domain.Mode) []domain.Mode {
	out := make([]domain.Mode, 0, len(modes))
	for _, m := range modes {
		if isWildcard(m.Language) || isWildcard(m.Domain) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isWildcard(v string) bool {
	return v == "" || v == "*" || strings.EqualFold(v, "any")
}

func toSources(contexts []domain.Citation) []domain.Source {
	if len(contexts) == 0 {
		return nil
	}
	sources := make([]domain.Source, 0, len(contexts))
	for _, c := range contexts {
		sources = append(sources, domain.Source{Title: c.Title, URL: c.URL})
	}
	return sources
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
