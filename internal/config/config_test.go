package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_API_KEYS", "sk-a, sk-b")
	t.Setenv("UPSTREAM_API_KEY", "upstream-token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "sk-a" || cfg.APIKeys[1] != "sk-b" {
		t.Fatalf("api key list not split: %#v", cfg.APIKeys)
	}
	if cfg.UpstreamBaseURL != "https://chat.z.ai" {
		t.Fatalf("unexpected base url: %s", cfg.UpstreamBaseURL)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.FirstByteTimeout != 30*time.Second || cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("timeout defaults wrong: %v %v %v", cfg.ConnectTimeout, cfg.FirstByteTimeout, cfg.IdleTimeout)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("retry default wrong: %d", cfg.MaxRetries)
	}
	if cfg.CacheBackend != "memory" {
		t.Fatalf("cache backend default wrong: %s", cfg.CacheBackend)
	}
	if cfg.MaxUploadBytes != 10*1024*1024 {
		t.Fatalf("upload limit default wrong: %d", cfg.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("UPSTREAM_IDLE_TIMEOUT", "90s")
	t.Setenv("UPSTREAM_MAX_RETRIES", "5")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("idle timeout override lost: %v", cfg.IdleTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("retries override lost: %d", cfg.MaxRetries)
	}
	if cfg.CacheBackend != "redis" || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redis config lost: %s %s", cfg.CacheBackend, cfg.RedisAddr)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing api keys", func(t *testing.T) {
		t.Setenv("GATEWAY_API_KEYS", "")
		t.Setenv("UPSTREAM_API_KEY", "upstream-token")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error without client api keys")
		}
	})

	t.Run("missing upstream key", func(t *testing.T) {
		t.Setenv("GATEWAY_API_KEYS", "sk-a")
		t.Setenv("UPSTREAM_API_KEY", "")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error without upstream credentials")
		}
	})

	t.Run("bad cache backend", func(t *testing.T) {
		setRequired(t)
		t.Setenv("CACHE_BACKEND", "memcached")
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for unsupported cache backend")
		}
	})
}
