package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paylinehq/payline/internal/http/auth"
	"github.com/paylinehq/payline/internal/http/intent"
)

func New(intentsV1 *intent.Handler, jwtSecret string) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		if jwtSecret != "" {
			r.Use(auth.Middleware(jwtSecret))
		}

		r.Route("/intents", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			intentsV1.Routes(r)
		})
	})

	return router
}
