package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/surlabs/ilenia-rag-gateway/internal/api"
	"github.com/surlabs/ilenia-rag-gateway/internal/cache"
	"github.com/surlabs/ilenia-rag-gateway/internal/chat"
	"github.com/surlabs/ilenia-rag-gateway/internal/circuitbreaker"
	"github.com/surlabs/ilenia-rag-gateway/internal/config"
	"github.com/surlabs/ilenia-rag-gateway/internal/crypto"
	"github.com/surlabs/ilenia-rag-gateway/internal/discovery"
	"github.com/surlabs/ilenia-rag-gateway/internal/notifications"
	"github.com/surlabs/ilenia-rag-gateway/internal/rag"
	"github.com/surlabs/ilenia-rag-gateway/internal/ratelimit"
	"github.com/surlabs/ilenia-rag-gateway/internal/registry"
	"github.com/surlabs/ilenia-rag-gateway/internal/retry"
	"github.com/surlabs/ilenia-rag-gateway/internal/secrets"
	"github.com/surlabs/ilenia-rag-gateway/internal/store"
	"github.com/surlabs/ilenia-rag-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting RAG gateway", "addr", cfg.Addr, "provider", cfg.ProviderMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "rag-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	mockProvider, err := rag.NewMockProvider(rag.MockOptions{SimulateFailures: cfg.MockSimulateFailures})
	if err != nil {
		slog.Error("failed to load mock scenarios", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	var provider rag.Provider = mockProvider

	if cfg.ProviderMode == config.ProviderReal {
		credentials, err := resolveCredentials(ctx, cfg)
		if err != nil {
			slog.Error("failed to resolve backend credentials", "error", err)
			os.Exit(1)
		}

		if err := reg.Initialize(cfg.ServerURLs, credentials, cfg.MasterURL); err != nil {
			slog.Error("failed to initialize endpoint registry", "error", err)
			os.Exit(1)
		}

		provider = rag.NewClient(reg, rag.ClientOptions{
			ConfigTimeout:  cfg.ConfigTimeout,
			RequestTimeout: cfg.RequestTimeout,
		})
	} else {
		slog.Info("running with mock backend provider")
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to initialize SNS notifier", "error", err)
			os.Exit(1)
		}
		slog.Info("using SNS notifier", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	disc := discovery.New(reg, provider, notifier, discovery.Options{
		LocalMode:     cfg.ProviderMode != config.ProviderReal,
		RetryAttempts: cfg.RetryMaxAttempts,
		RetryBackoff:  cfg.RetryBaseDelay,
	})
	if err := disc.Initialize(ctx); err != nil {
		slog.Error("failed to initialize discovery", "error", err)
		os.Exit(1)
	}
	disc.StartPolling(ctx, cfg.DiscoveryInterval)

	var checkers []api.HealthChecker

	var chatStore store.ChatStore
	var sessions store.SessionStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		chatStore = pg
		sessions = store.NewPostgresSessionStore(pg.DB())
		checkers = append(checkers, api.NewPostgresHealthChecker(pg.DB()))
		slog.Info("using postgres store")
	} else {
		memStore := store.NewInMemoryStore()
		memSessions := store.NewInMemorySessionStore()
		memSessions.AddSession("local-dev", "local-user")
		chatStore = memStore
		sessions = memSessions
		slog.Info("using in-memory store", "dev_token", "local-dev")
	}

	var rateLimiter ratelimit.RateLimiter
	var resolutions cache.Cache
	if cfg.RedisURL != "" {
		rateLimiter, err = ratelimit.NewRedisRateLimiter(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		resolutions, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis for cache", "error", err)
			os.Exit(1)
		}
		if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
			checkers = append(checkers, api.NewRedisHealthChecker(redis.NewClient(opts)))
		}
		slog.Info("using redis rate limiter and resolution cache")
	} else {
		rateLimiter = ratelimit.NewInMemoryRateLimiter()
		resolutions = cache.NewInMemoryCache()
		slog.Info("using in-memory rate limiter and resolution cache")
	}

	if cfg.ProviderMode == config.ProviderReal {
		checkers = append(checkers, api.NewDiscoveryHealthChecker(disc))
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())

	orchestrator := chat.NewOrchestrator(chatStore, disc, provider, mockProvider, resolutions, breakers, chat.Options{
		RetryConfig: retry.Config{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
		},
	})

	handler := api.NewHandler(api.HandlerConfig{
		Chats:        chatStore,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Discovery:    disc,
		RateLimiter:  rateLimiter,
		RateLimitRPM: cfg.RateLimitRPM,
		Breakers:     breakers,
		HealthCheck: api.HealthCheckConfig{
			Checkers: checkers,
			Timeout:  5 * time.Second,
		},
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses are open-ended
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

// resolveCredentials produces the per-endpoint credential list, fetching it
// from AWS Secrets Manager when RAG_CREDENTIALS_SECRET is set and
// decrypting enc:-prefixed values when an encryption key is configured.
func resolveCredentials(ctx context.Context, cfg *config.Config) ([]string, error) {
	credentials := cfg.CredentialStrings

	if cfg.CredentialsSecret != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		raw, err := sm.GetSecret(ctx, cfg.CredentialsSecret)
		if err != nil {
			return nil, err
		}
		credentials = config.SplitCredentials(raw)
		slog.Info("loaded backend credentials from secrets manager", "secret", cfg.CredentialsSecret)
	}

	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		for i, credential := range credentials {
			plain, err := enc.MaybeDecrypt(credential)
			if err != nil {
				return nil, err
			}
			credentials[i] = plain
		}
	}

	return credentials, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
