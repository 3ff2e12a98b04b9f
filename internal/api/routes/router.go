package routes

import (
	"net/http"

	"github.com/zatekoja/codelookup/internal/api/handlers"
	"github.com/zatekoja/codelookup/internal/api/middleware"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux            *http.ServeMux
	codeHandler    *handlers.CodeHandler
	healthHandler  *handlers.HealthHandler
	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(codeHandler *handlers.CodeHandler, healthHandler *handlers.HealthHandler, allowedOrigins []string, metrics *observability.Metrics) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		codeHandler:    codeHandler,
		healthHandler:  healthHandler,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.healthHandler.Live)
	r.mux.HandleFunc("GET /ready", r.healthHandler.Ready)

	r.mux.HandleFunc("GET /api/codes/search", r.codeHandler.Search)
	r.mux.HandleFunc("GET /api/codes/semantic", r.codeHandler.SemanticSearch)
	r.mux.HandleFunc("GET /api/codes/hybrid", r.codeHandler.HybridSearch)
	r.mux.HandleFunc("GET /api/codes/faceted", r.codeHandler.FacetedSearch)
	r.mux.HandleFunc("POST /api/codes/suggest", r.codeHandler.Suggest)
	r.mux.HandleFunc("GET /api/codes/{system}/{code}", r.codeHandler.GetDetail)

	// Observability sits directly on the mux so it sees the matched route pattern.
	// CORS wraps everything so preflight requests never reach the handlers.
	var handler http.Handler = r.mux
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
