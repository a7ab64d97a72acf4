package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/internal/auth"
	"glmgate/internal/cache"
	"glmgate/internal/registry"
	"glmgate/internal/upstream"
	"glmgate/pkg/logging"
)

// ChatUpstream is the upstream surface the chat endpoint needs.
// *upstream.Client implements it; tests substitute fakes.
type ChatUpstream interface {
	Stream(ctx context.Context, req *upstream.ChatRequest, upstreamID string) (<-chan upstream.StreamResult, error)
	Complete(ctx context.Context, req *upstream.ChatRequest, upstreamID string) (*upstream.ChatResponse, error)
}

// ChatHandler holds dependencies for the /v1/chat/completions endpoint.
type ChatHandler struct {
	Registry *registry.Registry
	Upstream ChatUpstream
	Cache    cache.Store
	CacheTTL time.Duration
	Version  string
}

func NewChatHandler(reg *registry.Registry, up ChatUpstream, c cache.Store, ttl time.Duration, version string) *ChatHandler {
	return &ChatHandler{
		Registry: reg,
		Upstream: up,
		Cache:    c,
		CacheTTL: ttl,
		Version:  version,
	}
}

// ChatCompletion handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req upstream.ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierr.WriteJSON(w, apierr.PayloadTooLarge(maxErr.Limit))
			return
		}
		logger.Warn("invalid request body", zap.Error(err))
		apierr.WriteJSON(w, apierr.Validation("request body is not valid JSON: "+err.Error()))
		return
	}

	if err := req.Validate(); err != nil {
		apierr.WriteJSON(w, err)
		return
	}

	// Model resolution happens before any upstream traffic so unknown
	// models fail fast with 404.
	desc, err := h.Registry.Resolve(req.Model)
	if err != nil {
		logger.Warn("unknown model", zap.String("model", req.Model))
		apierr.WriteJSON(w, err)
		return
	}

	logger = logger.With(
		zap.String("model", desc.PublicID),
		zap.String("upstream_model", desc.UpstreamID),
		zap.Bool("stream", req.Stream),
	)
	ctx = logging.WithLogger(ctx, logger)

	if req.Stream {
		if !desc.SupportsStreaming {
			apierr.WriteJSON(w, apierr.Validation("model "+desc.PublicID+" does not support streaming"))
			return
		}
		h.streamCompletion(ctx, w, logger, &req, desc, start)
		return
	}

	h.completion(ctx, w, logger, &req, desc, start)
}

// completion serves the non-streaming path with a best-effort cache in
// front of the upstream call.
func (h *ChatHandler) completion(ctx context.Context, w http.ResponseWriter, logger *zap.Logger, req *upstream.ChatRequest, desc registry.Descriptor, start time.Time) {
	principal := "anon"
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		principal = p.Fingerprint
	}

	var cacheKey string
	if h.Cache != nil {
		key, err := cache.BuildKey(req, principal, h.Version)
		if err != nil {
			logger.Warn("cache key build failed", zap.Error(err))
		} else {
			cacheKey = key.String()
			if cached, hit, cerr := h.Cache.Get(ctx, cacheKey); cerr != nil {
				// Cache is best-effort; log and treat as miss.
				logger.Warn("cache get failed", zap.Error(cerr))
			} else if hit {
				logger.Info("completion served from cache",
					zap.Duration("duration", time.Since(start)),
				)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(cached)
				return
			}
		}
	}

	resp, err := h.Upstream.Complete(ctx, req, desc.UpstreamID)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away; nothing useful to write.
			logger.Info("completion cancelled", zap.Error(ctx.Err()))
			return
		}
		logger.Error("completion failed", zap.Error(err))
		apierr.WriteJSON(w, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		apierr.WriteJSON(w, apierr.Internal(err))
		return
	}

	if h.Cache != nil && cacheKey != "" {
		if err := h.Cache.Set(ctx, cacheKey, body, h.CacheTTL); err != nil {
			logger.Warn("cache set failed", zap.Error(err))
		}
	}

	logger.Info("completion served",
		zap.Duration("duration", time.Since(start)),
	)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// streamCompletion serves the SSE path. Each chunk is flushed as its
// own data frame; [DONE] is sent only after a clean terminal chunk.
func (h *ChatHandler) streamCompletion(ctx context.Context, w http.ResponseWriter, logger *zap.Logger, req *upstream.ChatRequest, desc registry.Descriptor, start time.Time) {
	results, err := h.Upstream.Stream(ctx, req, desc.UpstreamID)
	if err != nil {
		// Connection-phase failures still map to real HTTP statuses.
		logger.Error("stream open failed", zap.Error(err))
		apierr.WriteJSON(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteJSON(w, apierr.Internal(errNotStreamable))
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks := 0
	errored := false
	for res := range results {
		if res.Err != nil {
			errored = true
			break
		}
		ck := res.Chunk
		if ck == nil {
			continue
		}
		if ck.Error != nil {
			errored = true
		}

		frame, err := json.Marshal(ck)
		if err != nil {
			logger.Error("chunk marshal failed", zap.Error(err))
			errored = true
			break
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
		chunks++
	}

	if ctx.Err() != nil {
		logger.Info("stream cancelled by client",
			zap.Int("chunks", chunks),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}

	if !errored {
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}

	logger.Info("stream finished",
		zap.Int("chunks", chunks),
		zap.Bool("errored", errored),
		zap.Duration("duration", time.Since(start)),
	)
}

var errNotStreamable = errors.New("response writer does not support streaming")
