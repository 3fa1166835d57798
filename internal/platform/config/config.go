package config

import (
	"os"
	"time"
)

// Server captures process-level configuration for the session service.
type Server struct {
	Addr                string
	ProviderBaseURL     string
	ProviderTimeout     time.Duration
	SessionCacheTTL     time.Duration
	SessionCacheMaxSize int
	SweepInterval       time.Duration
	RefreshInterval     time.Duration
	StorageDir          string
	KafkaBrokers        string
	KafkaGroupID        string
	InvalidationTopics  []string
}

// Defaults. The cache TTL must stay below the access token lifetime
// (~10 minutes at the provider), and the refresh interval must fire
// before the token expires.
var (
	SessionCacheTTL = 5 * time.Minute
	RefreshInterval = 8 * time.Minute
	SweepInterval   = 60 * time.Second
	ProviderTimeout = 10 * time.Second
)

const defaultCacheMaxSize = 256

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("AVANZA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	providerURL := os.Getenv("IDENTITY_PROVIDER_URL")
	if providerURL == "" {
		providerURL = "http://localhost:9090"
	}

	cfg := Server{
		Addr:                addr,
		ProviderBaseURL:     providerURL,
		ProviderTimeout:     durationEnv("IDENTITY_PROVIDER_TIMEOUT", ProviderTimeout),
		SessionCacheTTL:     durationEnv("SESSION_CACHE_TTL", SessionCacheTTL),
		SessionCacheMaxSize: defaultCacheMaxSize,
		SweepInterval:       durationEnv("SESSION_SWEEP_INTERVAL", SweepInterval),
		RefreshInterval:     durationEnv("SESSION_REFRESH_INTERVAL", RefreshInterval),
		StorageDir:          os.Getenv("SESSION_STORAGE_DIR"),
		KafkaBrokers:        os.Getenv("KAFKA_BROKERS"),
		KafkaGroupID:        os.Getenv("KAFKA_GROUP_ID"),
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = os.TempDir()
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "avanza-session"
	}
	cfg.InvalidationTopics = []string{"profiles.changed", "organizations.changed", "reviews.changed"}
	return cfg
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
