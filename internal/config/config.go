package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Backend fleet
	ProviderMode      string // "real" or "mock"
	ServerURLs        []string
	CredentialStrings []string
	MasterURL         string

	ConfigTimeout     time.Duration
	RequestTimeout    time.Duration
	DiscoveryInterval time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration

	MockSimulateFailures bool

	DatabaseURL  string
	RedisURL     string
	RateLimitRPM int

	OTLPEndpoint      string
	AWSRegion         string
	CredentialsSecret string
	SNSTopicARN       string
	EncryptionKey     string

	ShutdownTimeout time.Duration
}

const (
	ProviderReal = "real"
	ProviderMock = "mock"
)

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		ProviderMode:         getEnv("RAG_PROVIDER", ProviderMock),
		ServerURLs:           splitList(getEnv("RAG_SERVERS", "")),
		CredentialStrings:    SplitCredentials(getEnv("RAG_SERVER_CREDENTIALS", "")),
		MasterURL:            getEnv("RAG_MASTER_URL", ""),
		ConfigTimeout:        getDurationEnv("RAG_CONFIG_TIMEOUT", 5*time.Second),
		RequestTimeout:       getDurationEnv("RAG_REQUEST_TIMEOUT", 30*time.Second),
		DiscoveryInterval:    getDurationEnv("RAG_DISCOVERY_INTERVAL", 30*time.Second),
		RetryMaxAttempts:     getIntEnv("RAG_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:       getDurationEnv("RAG_RETRY_BASE_DELAY", time.Second),
		MockSimulateFailures: getEnv("RAG_MOCK_SIMULATE_FAILURES", "false") == "true",
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		RateLimitRPM:         getIntEnv("RATE_LIMIT_RPM", 60),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:            getEnv("AWS_REGION", ""),
		CredentialsSecret:    getEnv("RAG_CREDENTIALS_SECRET", ""),
		SNSTopicARN:          getEnv("SNS_TOPIC_ARN", ""),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		ShutdownTimeout:      getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("5s") and, for compatibility
// with older deployments, bare integers interpreted as seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// SplitCredentials splits a comma-separated credential string, keeping
// empty entries so credentials stay aligned with their endpoint by index.
// Also used on credential strings fetched from a secret store.
func SplitCredentials(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
