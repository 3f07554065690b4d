// Package discovery maintains the mode → endpoint routing table by polling
// every registered backend for its supported (language, domain) modes.
// Readers get lock-free snapshot consistency: the published map is replaced
// wholesale behind an atomic pointer, never mutated in place.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
	"github.com/surlabs/ilenia-rag-gateway/internal/metrics"
	"github.com/surlabs/ilenia-rag-gateway/internal/notifications"
	"github.com/surlabs/ilenia-rag-gateway/internal/rag"
	"github.com/surlabs/ilenia-rag-gateway/internal/registry"
	"github.com/surlabs/ilenia-rag-gateway/internal/telemetry"
)

const (
	// Label sentinels for wildcard capabilities.
	labelMultilingual  = "Multilingüe"
	labelGeneralDomain = "General"
)

type entry struct {
	mode     domain.Mode // original casing, for display and predict calls
	endpoint string
}

type capabilityMap map[string]entry

type Options struct {
	LocalMode     bool          // serve capabilities from the provider directly, never poll
	RetryAttempts int           // per-endpoint attempts during refresh, default 3
	RetryBackoff  time.Duration // fixed delay between attempts, default 1s
}

type Service struct {
	registry *registry.Registry
	provider rag.Provider
	notifier notifications.Notifier
	opts     Options

	capabilities atomic.Pointer[capabilityMap]

	mu   sync.Mutex
	down map[string]bool // endpoints currently failing discovery
}

func New(reg *registry.Registry, provider rag.Provider, notifier notifications.Notifier, opts Options) *Service {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	s := &Service{
		registry: reg,
		provider: provider,
		notifier: notifier,
		opts:     opts,
		down:     make(map[string]bool),
	}
	empty := make(capabilityMap)
	s.capabilities.Store(&empty)
	return s
}

// Initialize performs the first capability load. In local mode the map is
// built once from the provider under the local sentinel endpoint. In real
// mode one synchronous refresh runs; an empty result is a warning, not an
// error, since polling keeps trying.
func (s *Service) Initialize(ctx context.Context) error {
	slog.Info("initializing discovery service", "local_mode", s.opts.LocalMode)

	if s.opts.LocalMode {
		modes, err := s.provider.GetConfig(ctx, rag.LocalEndpoint)
		if err != nil {
			return fmt.Errorf("load local capabilities: %w", err)
		}
		next := make(capabilityMap)
		for _, mode := range modes {
			next[normalizeKey(mode.Language, mode.Domain)] = entry{mode: mode, endpoint: rag.LocalEndpoint}
		}
		s.capabilities.Store(&next)
		metrics.SetCapabilityCount(len(next))
		slog.Info("local capabilities loaded", "capabilities", keys(next))
		return nil
	}

	s.Refresh(ctx)
	if len(*s.capabilities.Load()) == 0 {
		slog.Warn("initial discovery produced no capabilities")
	}
	return nil
}

// StartPolling schedules Refresh on a fixed interval until ctx is done.
// No-op in local mode. Overlapping refreshes are tolerated: each builds a
// private map and the last completed swap wins.
func (s *Service) StartPolling(ctx context.Context, interval time.Duration) {
	if s.opts.LocalMode {
		slog.Info("discovery polling disabled in local mode")
		return
	}

	slog.Info("starting discovery polling", "interval", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Refresh polls every registered endpoint and atomically publishes a brand
// new capability map. Endpoints that exhaust their retries are skipped and
// logged; they only disappear from routing once a refresh completes without
// them. On key collision across endpoints the later endpoint in
// registration order wins.
func (s *Service) Refresh(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "discovery.refresh")
	defer span.End()

	endpoints := s.registry.EndpointURLs()
	if len(endpoints) == 0 {
		slog.Warn("no endpoints registered for discovery")
		return
	}

	next := make(capabilityMap)
	reachable := 0

	for _, endpoint := range endpoints {
		modes, err := s.fetchWithRetry(ctx, endpoint)
		if err != nil {
			slog.Error("failed to fetch config from backend", "url", endpoint, "error", err)
			metrics.RecordEndpointError(endpoint)
			s.markDown(ctx, endpoint, err)
			continue
		}
		reachable++
		s.markUp(ctx, endpoint)

		for _, mode := range modes {
			key := normalizeKey(mode.Language, mode.Domain)
			if prev, ok := next[key]; ok && prev.endpoint != endpoint {
				slog.Debug("capability key collision, last endpoint wins",
					"key", key, "previous", prev.endpoint, "endpoint", endpoint)
			}
			next[key] = entry{mode: mode, endpoint: endpoint}
		}
	}

	s.capabilities.Store(&next)
	metrics.SetCapabilityCount(len(next))
	telemetry.AddDiscoveryAttributes(span, len(endpoints), len(next))

	if reachable == 0 {
		metrics.RecordDiscoveryRefresh("failed")
	} else {
		metrics.RecordDiscoveryRefresh("ok")
	}

	if len(next) == 0 {
		slog.Warn("discovery refresh produced an empty capability map")
		s.notify(ctx, notifications.Notification{
			Type:    notifications.NotificationDiscoveryEmpty,
			Message: "discovery refresh produced an empty capability map",
		})
	}

	slog.Info("capability map updated", "capabilities", keys(next), "endpoints_reachable", reachable)
}

func (s *Service) fetchWithRetry(ctx context.Context, endpoint string) ([]domain.Mode, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		modes, err := s.provider.GetConfig(ctx, endpoint)
		if err == nil {
			return modes, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < s.opts.RetryAttempts {
			timer := time.NewTimer(s.opts.RetryBackoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// FindBackend resolves the endpoint serving (language, domain). The
// tie-break order is fixed: exact match, then language wildcard, then
// domain wildcard.
func (s *Service) FindBackend(language, dom string) (string, bool) {
	caps := *s.capabilities.Load()

	if e, ok := caps[normalizeKey(language, dom)]; ok {
		return e.endpoint, true
	}
	if e, ok := caps[normalizeKey(language, "")]; ok {
		return e.endpoint, true
	}
	if e, ok := caps[normalizeKey("", dom)]; ok {
		return e.endpoint, true
	}
	return "", false
}

// Modes returns the modes currently routable, original casing preserved.
// Used as the candidate list for configuration resolution.
func (s *Service) Modes() []domain.Mode {
	caps := *s.capabilities.Load()

	out := make([]domain.Mode, 0, len(caps))
	for _, e := range caps {
		out = append(out, e.mode)
	}
	return out
}

// Capabilities flattens the current map into display-ready entries.
// Wildcard language and domain map to fixed sentinel labels.
func (s *Service) Capabilities() []domain.Capability {
	caps := *s.capabilities.Load()

	out := make([]domain.Capability, 0, len(caps))
	for _, e := range caps {
		language := wildcardToEmpty(e.mode.Language)
		dom := wildcardToEmpty(e.mode.Domain)

		langLabel := labelMultilingual
		if language != "" {
			langLabel = strings.ToUpper(language)
		}
		domLabel := labelGeneralDomain
		if dom != "" {
			domLabel = strings.ToUpper(dom[:1]) + dom[1:]
		}

		out = append(out, domain.Capability{
			Language: language,
			Domain:   dom,
			Label:    domLabel + " · " + langLabel,
			Endpoint: e.endpoint,
		})
	}
	return out
}

func (s *Service) markDown(ctx context.Context, endpoint string, err error) {
	s.mu.Lock()
	alreadyDown := s.down[endpoint]
	s.down[endpoint] = true
	s.mu.Unlock()

	if !alreadyDown {
		s.notify(ctx, notifications.Notification{
			Type:     notifications.NotificationBackendDown,
			Endpoint: endpoint,
			Message:  fmt.Sprintf("backend unreachable during discovery: %v", err),
		})
	}
}

func (s *Service) markUp(ctx context.Context, endpoint string) {
	s.mu.Lock()
	wasDown := s.down[endpoint]
	delete(s.down, endpoint)
	s.mu.Unlock()

	if wasDown {
		s.notify(ctx, notifications.Notification{
			Type:     notifications.NotificationBackendUp,
			Endpoint: endpoint,
			Message:  "backend reachable again",
		})
	}
}

func (s *Service) notify(ctx context.Context, n notifications.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		slog.Warn("failed to send notification", "type", n.Type, "error", err)
	}
}

// normalizeKey builds the lookup key "<lang-or-*>-<domain-or-*>". Empty or
// "any" values are wildcards.
func normalizeKey(language, dom string) string {
	l := "*"
	if language != "" && !strings.EqualFold(language, "any") {
		l = strings.ToLower(language)
	}
	d := "*"
	if dom != "" && !strings.EqualFold(dom, "any") {
		d = strings.ToLower(dom)
	}
	return l + "-" + d
}

func wildcardToEmpty(v string) string {
	if v == "" || strings.EqualFold(v, "any") || v == "*" {
		return ""
	}
	return v
}

func keys(m capabilityMap) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
