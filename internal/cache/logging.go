package cache

import (
	"context"
	"strings"
	"time"

	"glmgate/internal/metrics"
	"glmgate/pkg/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner Store
}

// NewLoggingStore returns a cache that logs and records metrics.
func NewLoggingStore(inner Store) Store {
	return &LoggingStore{inner: inner}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := loggerFromContext(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		// Prometheus: count completion cache hits
		metrics.CacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("hash_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if parts, ok := parseKey(key); ok {
		fields = append(fields,
			zap.String("principal", parts.principal),
			zap.String("model_id", parts.modelID),
			zap.String("version", parts.version),
			zap.String("hash", parts.hash),
		)
	}

	if err != nil {
		logger.Error("completion_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("completion_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := loggerFromContext(ctx)

	fields := []zap.Field{
		zap.String("hash_key", key),
		zap.Float64("latency_ms", latencyMs),
	}

	if parts, ok := parseKey(key); ok {
		fields = append(fields,
			zap.String("principal", parts.principal),
			zap.String("model_id", parts.modelID),
			zap.String("version", parts.version),
			zap.String("hash", parts.hash),
		)
	}

	if err != nil {
		logger.Error("completion_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Info("completion_cache_set", fields...)
	}

	return err
}

func loggerFromContext(ctx context.Context) *zap.Logger {
	if l := logging.FromContext(ctx); l != nil {
		return l
	}
	return logging.L(ctx)
}

// --- helpers for parsing Key.String() ---

type keyParts struct {
	principal string
	modelID   string
	version   string
	hash      string
}

// Expecting: chat:<PRINCIPAL>:<MODEL_ID>:<VERSION>:<HASH>
func parseKey(key string) (keyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "chat" {
		return keyParts{}, false
	}
	return keyParts{
		principal: parts[1],
		modelID:   parts[2],
		version:   parts[3],
		hash:      parts[4],
	}, true
}
