package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tasknest/tasknest/internal/api/handlers"
	"github.com/tasknest/tasknest/internal/api/middleware"
	"github.com/tasknest/tasknest/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.NewBearerAuth(cfg.Auth.Tokens)
	r.Use(auth.Middleware)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.GetVersion)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Conversational assistant
		r.Route("/chat", func(r chi.Router) {
			r.Post("/conversation", h.Chat)
			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", h.ListConversations)
				r.Route("/{conversationID}", func(r chi.Router) {
					r.Get("/messages", h.ListConversationMessages)
					r.Delete("/", h.DeleteConversation)
				})
			})
		})

		// Plain task CRUD for non-conversational clients
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Put("/", h.UpdateTask)
				r.Delete("/", h.DeleteTask)
				r.Post("/complete", h.CompleteTask)
			})
		})
	})

	return r
}
