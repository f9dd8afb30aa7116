package httpadapter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/kirillkom/mditd/internal/config"
	"github.com/kirillkom/mditd/internal/core/ports"
)

// FormatCatalog lists the extensions the converter accepts.
type FormatCatalog interface {
	SupportedExtensions() []string
}

// HealthCheck probes one component without side effects.
type HealthCheck func(ctx context.Context) error

// Options carries optional collaborators. HealthChecks is keyed by component
// name; a nil check reports the component as disabled.
type Options struct {
	Logger         *slog.Logger
	HTTPMetrics    HTTPMetrics
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthCheck
	Workers        int
}

// HTTPMetrics instruments the handler chain.
type HTTPMetrics interface {
	Middleware(next http.Handler) http.Handler
	RecordRejection(reason string)
}

type Router struct {
	cfg     config.Config
	batch   ports.BatchConverter
	outputs ports.OutputBrowser
	history ports.HistoryReader
	formats FormatCatalog

	logger         *slog.Logger
	httpMetrics    HTTPMetrics
	metricsHandler http.Handler
	healthChecks   map[string]HealthCheck
	workers        int
	started        time.Time
}

// NewRouter wires the HTTP surface. history may be nil when no history store is configured.
func NewRouter(
	cfg config.Config,
	batch ports.BatchConverter,
	outputs ports.OutputBrowser,
	history ports.HistoryReader,
	formats FormatCatalog,
	opts Options,
) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Router{
		cfg:            cfg,
		batch:          batch,
		outputs:        outputs,
		history:        history,
		formats:        formats,
		logger:         logger,
		httpMetrics:    opts.HTTPMetrics,
		metricsHandler: opts.MetricsHandler,
		healthChecks:   opts.HealthChecks,
		workers:        opts.Workers,
		started:        time.Now(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /upload", backpressureMiddleware(
		http.HandlerFunc(rt.upload),
		rt.cfg.MaxInflightUploads,
		rt.cfg.BackpressureWait,
		rt.httpMetrics,
	))
	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /formats", rt.listFormats)
	mux.HandleFunc("GET /outputs", rt.listOutputs)
	mux.HandleFunc("GET /history", rt.listHistory)
	mux.HandleFunc("GET /openapi.json", rt.openAPI)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}

	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, rt.httpMetrics)
	handler = recoveryMiddleware(rt.logger, handler)
	if rt.httpMetrics != nil {
		handler = rt.httpMetrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	return rt.cors().Handler(handler)
}

func (rt *Router) cors() *cors.Cors {
	origins := rt.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
	})
}
