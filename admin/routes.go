package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API. Routes are rooted at /admin.
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Route("/cluster", func(r chi.Router) {
			r.Get("/view", handlers.handleGetView)
			r.Put("/view", handlers.handleInstallView)
		})

		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/registry", handlers.handleRegistry)
			r.Get("/decision", handlers.handleDecision)
		})

		r.Route("/engine", func(r chi.Router) {
			r.Get("/txn", handlers.handleLastTxn)
			r.Post("/commit", handlers.handleCommit)
		})

		r.Get("/journal/recent", handlers.handleJournal)
	})

	log.Info().Msg("Admin endpoints enabled at /admin/{cluster,reconcile,engine,journal}")
	return r
}
