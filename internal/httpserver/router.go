package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"glmgate/internal/auth"
	"glmgate/internal/handlers"
	"glmgate/internal/metrics"
	"glmgate/internal/middleware"
)

// Options collects the routing knobs main wires in.
type Options struct {
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 2 * 1024 * 1024
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	gate *auth.Gate,
	chatHandler *handlers.ChatHandler,
	modelsHandler *handlers.ModelsHandler,
	filesHandler *handlers.FilesHandler,
	opts Options,
) {
	opts = opts.withDefaults()

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery
	r.Use(middleware.CORS())

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(gate.Middleware)

		// Streaming lives here, so no request timeout on this route.
		// The upstream idle watchdog bounds a stalled stream instead.
		r.With(middleware.MaxBodySize(opts.MaxBodyBytes)).
			Post("/chat/completions", chatHandler.ChatCompletion)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))
			r.Get("/models", modelsHandler.List)
			r.Get("/models/{model}", modelsHandler.Retrieve)
		})

		r.Post("/files", filesHandler.Upload)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
