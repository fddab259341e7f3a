package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/handler"
	mw "github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/ws"
	"go.uber.org/zap"
)

// New creates a Chi router with all display routes wired up.
// Order routes require a kitchen or manager token.
// Health reports each of checks by name.
func New(cfg *config.Config, board handler.Board, hub *ws.Hub, checks map[string]handler.HealthCheck, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	healthHandler := handler.NewHealthHandler(checks, logger.Named("health"))
	healthHandler.RegisterRoutes(r)

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(cfg.StaffPINHash, cfg.JWTSecret, logger.Named("auth"))
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireKitchen)

		orderHandler := handler.NewOrderHandler(board, logger.Named("orders"))
		r.Route("/orders", orderHandler.RegisterRoutes)
	})

	logger.Debug("router initialized")
	return r
}
