package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/mlat-client/internal/stats"
	"github.com/yegors/mlat-client/pkg/logger"
)

// Router builds the HTTP routes
type Router struct {
	handler   *Handler
	stats     *stats.Stats
	websocket http.HandlerFunc // nil disables /ws
	static    http.Handler     // nil disables the static UI
	logger    *logger.Logger
}

// NewRouter creates a new router. ws and staticDir are optional.
func NewRouter(status StatusSource, results ResultSource, st *stats.Stats, ws http.HandlerFunc, staticDir string, log *logger.Logger) *Router {
	r := &Router{
		handler:   NewHandler(status, results, st, log),
		stats:     st,
		websocket: ws,
		logger:    log.Named("router"),
	}
	if staticDir != "" {
		r.static = NewStaticFileHandler(staticDir, log)
	}
	return r
}

// Routes returns the configured handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handler.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(rt.stats.Registry(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.Get("/status", rt.handler.GetStatus)
		r.Get("/aircraft", rt.handler.GetAllAircraft)
		r.Get("/aircraft/{hex}", rt.handler.GetAircraftByHex)
		r.Get("/results", rt.handler.GetResults)
	})

	if rt.websocket != nil {
		r.Get("/ws", rt.websocket)
	}

	if rt.static != nil {
		r.Handle("/*", rt.static)
	}

	rt.logger.Debug("Routes configured",
		logger.Bool("websocket", rt.websocket != nil),
		logger.Bool("static", rt.static != nil))

	return r
}
