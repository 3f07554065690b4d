// Package registry holds the static backend endpoint list, per-endpoint
// basic-auth credentials, and the designated master endpoint used for
// configuration resolution. It performs no network calls.
package registry

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

type endpointCredentials struct {
	user     string
	password string
}

// Registry is initialize-once, read-many. Concurrent reads are safe after
// Initialize returns.
type Registry struct {
	mu          sync.RWMutex
	endpoints   []string
	credentials map[string]endpointCredentials
	masterURL   string
	initialized bool
}

func New() *Registry {
	return &Registry{}
}

// Initialize validates and stores the endpoint fleet. Credentials are
// positional: entry i belongs to endpoint i, and may be empty (anonymous
// calls are attempted against that endpoint). A second call after a
// successful one is a no-op. On any validation error no state is mutated.
func (r *Registry) Initialize(endpointURLs, credentialStrings []string, masterURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	if len(endpointURLs) == 0 {
		return fmt.Errorf("%w: endpoint list is empty", domain.ErrConfig)
	}
	if masterURL == "" {
		return fmt.Errorf("%w: master URL is empty", domain.ErrConfig)
	}

	endpoints := make([]string, 0, len(endpointURLs))
	for _, url := range endpointURLs {
		endpoints = append(endpoints, strings.TrimRight(strings.TrimSpace(url), "/"))
	}
	master := strings.TrimRight(strings.TrimSpace(masterURL), "/")

	found := false
	for _, url := range endpoints {
		if url == master {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: master URL %s is not a registered endpoint", domain.ErrConfig, master)
	}

	credentials := make(map[string]endpointCredentials)
	var withCredentials, withoutCredentials []string
	for i, url := range endpoints {
		raw := ""
		if i < len(credentialStrings) {
			raw = strings.TrimSpace(credentialStrings[i])
		}
		if raw == "" {
			withoutCredentials = append(withoutCredentials, url)
			continue
		}

		colon := strings.Index(raw, ":")
		if colon < 0 {
			return fmt.Errorf("%w: credential for %s must be user:password", domain.ErrConfig, url)
		}
		credentials[url] = endpointCredentials{
			user:     raw[:colon],
			password: raw[colon+1:],
		}
		withCredentials = append(withCredentials, url)
	}

	r.endpoints = endpoints
	r.credentials = credentials
	r.masterURL = master
	r.initialized = true

	slog.Info("backend registry initialized",
		"endpoints", len(r.endpoints),
		"master_url", r.masterURL,
		"with_credentials", withCredentials,
		"without_credentials", withoutCredentials,
	)

	return nil
}

// AuthHeaderFor returns a Basic-Auth header map for the exact endpoint URL,
// or an empty map when no credentials are registered. The miss is logged as
// a warning; routing must still be attempted anonymously.
func (r *Registry) AuthHeaderFor(url string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds, ok := r.credentials[url]
	if !ok {
		slog.Warn("no credentials registered for endpoint", "url", url)
		return map[string]string{}
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(creds.user + ":" + creds.password))
	return map[string]string{"Authorization": "Basic " + encoded}
}

func (r *Registry) MasterURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.masterURL
}

func (r *Registry) EndpointURLs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}
