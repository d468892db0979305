// Package api exposes the orchestrator over HTTP and MCP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/kalambet/karmgyan/internal/metrics"
	"github.com/kalambet/karmgyan/internal/orchestrator"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP surface needs. Limiter is optional.
type Deps struct {
	Service        *orchestrator.Service
	Token          string
	AllowedOrigins []string
	Limiter        *RateLimiter
}

// NewHandler returns the full HTTP surface: health and metrics endpoints plus
// the authenticated /api/ai routes, wrapped in CORS.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/ai", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(UserIdentity)
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Handler)
		}

		r.Post("/ask", handleAsk(deps.Service))
		r.Post("/generate-report", handleGenerateReport(deps.Service))
		r.Get("/credits", handleCredits(deps.Service))
		r.Post("/credits/purchase", handlePurchase(deps.Service))
		r.Get("/credit-packages", handleCreditPackages)
		r.Get("/conversations", handleGetConversation(deps.Service))
		r.Delete("/conversations/{id}", handleClearConversation(deps.Service))
		r.Get("/reports", handleListReports(deps.Service))
		r.Get("/reports/{id}", handleGetReport(deps.Service))
	})

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", userHeader},
	})
	return c.Handler(r)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
