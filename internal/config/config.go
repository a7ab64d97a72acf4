package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the gateway reads from the environment.
// It is loaded once in main and handed to components by value; nothing
// else touches process-wide state.
type Config struct {
	Host     string
	Port     string
	Env      string
	LogLevel string
	Version  string

	// APIKeys is the set of bearer secrets accepted from clients.
	APIKeys []string

	UpstreamBaseURL       string
	UpstreamAPIKey        string
	UpstreamSigningSecret string

	ConnectTimeout   time.Duration
	FirstByteTimeout time.Duration
	IdleTimeout      time.Duration

	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	MaxBodyBytes   int64
	MaxUploadBytes int64

	ModelCatalogPath     string
	ModelRefreshInterval time.Duration

	CacheBackend string // "memory" or "redis"
	CacheTTL     time.Duration
	RedisAddr    string
}

// Load reads the configuration from the environment, honoring a .env
// file when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Host:     getenv("HOST", "0.0.0.0"),
		Port:     getenv("PORT", "8080"),
		Env:      getenv("ENV", "production"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Version:  getenv("GATEWAY_VERSION", "v1"),

		APIKeys: splitList(os.Getenv("GATEWAY_API_KEYS")),

		UpstreamBaseURL:       getenv("UPSTREAM_BASE_URL", "https://chat.z.ai"),
		UpstreamAPIKey:        os.Getenv("UPSTREAM_API_KEY"),
		UpstreamSigningSecret: os.Getenv("UPSTREAM_SIGNING_SECRET"),

		ConnectTimeout:   getenvDuration("UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
		FirstByteTimeout: getenvDuration("UPSTREAM_FIRST_BYTE_TIMEOUT", 30*time.Second),
		IdleTimeout:      getenvDuration("UPSTREAM_IDLE_TIMEOUT", 60*time.Second),

		MaxRetries:  getenvInt("UPSTREAM_MAX_RETRIES", 2),
		BaseBackoff: getenvDuration("UPSTREAM_BASE_BACKOFF", 100*time.Millisecond),
		MaxBackoff:  getenvDuration("UPSTREAM_MAX_BACKOFF", 30*time.Second),

		MaxBodyBytes:   getenvInt64("MAX_BODY_BYTES", 2*1024*1024),
		MaxUploadBytes: getenvInt64("MAX_UPLOAD_BYTES", 10*1024*1024),

		ModelCatalogPath:     os.Getenv("MODEL_CATALOG_PATH"),
		ModelRefreshInterval: getenvDuration("MODEL_REFRESH_INTERVAL", 5*time.Minute),

		CacheBackend: getenv("CACHE_BACKEND", "memory"),
		CacheTTL:     getenvDuration("CACHE_TTL", 5*time.Minute),
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if len(c.APIKeys) == 0 {
		return errors.New("GATEWAY_API_KEYS is required")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL is required")
	}
	if c.UpstreamAPIKey == "" {
		return errors.New("UPSTREAM_API_KEY is required")
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"redis\", got %q", c.CacheBackend)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
