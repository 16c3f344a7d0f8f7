package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/plateworks/reelchef/internal/api/middleware"
	"github.com/plateworks/reelchef/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler         http.HandlerFunc
	CreateRecipeHandler   http.HandlerFunc
	GetRecipeHandler      http.HandlerFunc
	ListFramesHandler     http.HandlerFunc
	SearchFramesHandler   http.HandlerFunc
	UploadProgressHandler http.HandlerFunc
	StatusEventsHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited API routes
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/recipes", orNotImplemented(deps.CreateRecipeHandler))
		r.Get("/api/v1/recipes/{recipeID}", orNotImplemented(deps.GetRecipeHandler))

		r.Get("/api/v1/recipes/{recipeID}/frames", orNotImplemented(deps.ListFramesHandler))
		r.Get("/api/v1/recipes/{recipeID}/frames/search", orNotImplemented(deps.SearchFramesHandler))

		r.Get("/api/v1/recipes/{recipeID}/progress", orNotImplemented(deps.UploadProgressHandler))
		r.Get("/api/v1/recipes/{recipeID}/events", orNotImplemented(deps.StatusEventsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
