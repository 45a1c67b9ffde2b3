package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"engage/internal/config"
	"engage/internal/domain"
	"engage/internal/security"
	"engage/internal/server/service"
	"engage/internal/server/store"
)

// NewRouter constructs the HTTP router and wires routes, services, and
// middleware.
func NewRouter(
	cfg *config.Config,
	users store.UserRepository,
	topics store.TopicRepository,
	hub *Hub,
	tokenSvc *security.TokenService,
	passwordHasher *security.PasswordHasher,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Services
	authSvc := service.NewAuthService(users, tokenSvc, passwordHasher)
	engageSvc := service.NewEngageService(topics, cfg.PageSize)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc))
			r.Post("/login", handleLogin(authSvc))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc))

			r.Get("/auth/me", handleMe())

			r.Route("/events/{eventID}/topics", func(r chi.Router) {
				r.Get("/", handleListTopics(engageSvc))
				r.Post("/", handleCreateTopic(engageSvc))
			})

			r.Route("/topics/{topicID}", func(r chi.Router) {
				r.Get("/", handleTopicPage(engageSvc))
				r.Post("/items", handleCreateItem(engageSvc, hub))
			})

			r.Route("/items/{itemID}", func(r chi.Router) {
				r.Put("/", handleEditItem(engageSvc, hub))
				r.Delete("/", handleDeleteItem(engageSvc, hub))
				r.Post("/vote", handleMutateItem(engageSvc, hub, domain.OpVote))
				r.Post("/answer", handleMutateItem(engageSvc, hub, domain.OpAnswer))
				r.Post("/react", handleMutateItem(engageSvc, hub, domain.OpReact))
				r.Post("/end", handleEndPoll(engageSvc, hub))
			})
		})
	})

	// WebSocket push endpoint
	r.Get("/ws", MakeWSHandler(hub, tokenSvc, cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
