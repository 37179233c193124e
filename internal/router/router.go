package router

import (
	"net/http"

	"github.com/comanda-pos/api/internal/cart"
	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/handler"
	mw "github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/notification"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/comanda-pos/api/internal/service"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services are the long-lived components behind the HTTP routes. They are
// built and started by cmd/server.
type Services struct {
	Queries       *database.Queries
	Carts         *cart.Store
	Orders        *service.OrderService
	Sync          *ordersync.Sync
	Notifications *notification.Registry
	Hub           *ws.Hub
	StaffFeed     *ws.StaffFeed
	Limiter       *mw.ClientRateLimiter
	Logger        *zap.Logger
}

// New creates a Chi router with all application routes wired up.
// Customer routes are scoped by client ID, staff routes by JWT role.
func New(cfg *config.Config, s Services) chi.Router {
	r := chi.NewRouter()
	logger := s.Logger

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Instrument(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.ClientIDHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	authHandler := handler.NewAuthHandler(s.Queries, cfg.JWTSecret, logger)
	menuHandler := handler.NewMenuHandler(s.Queries, logger)
	restaurantHandler := handler.NewRestaurantHandler(s.Queries, s.Hub, logger)
	cartHandler := handler.NewCartHandler(s.Carts, s.Queries, logger)
	orderHandler := handler.NewOrderHandler(s.Orders, s.Sync, logger)
	notificationHandler := handler.NewNotificationHandler(s.Notifications, logger)
	userHandler := handler.NewUserHandler(s.Queries, logger)
	reportsHandler := handler.NewReportsHandler(s.Sync, logger)
	wsHandler := ws.NewHandler(s.Hub, s.StaffFeed, s.Notifications, s.Sync, s.Queries, logger)

	// Public routes
	authHandler.RegisterRoutes(r)
	menuHandler.RegisterPublicRoutes(r)
	restaurantHandler.RegisterPublicRoutes(r)
	r.Get("/ws/public", wsHandler.Public)
	r.Get("/ws/clients/{cid}/notifications", wsHandler.Notifications)

	// Customer routes (identified by device client ID)
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireClientID)

		r.Route("/cart", cartHandler.RegisterRoutes)
		orderHandler.RegisterCustomerRoutes(r, s.Limiter.Limit)
		notificationHandler.RegisterRoutes(r)
	})

	// Staff routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleWaiter, enum.UserRoleKitchen))
			orderHandler.RegisterStaffRoutes(r)
			r.Get("/ws/orders", wsHandler.Orders)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin))
			r.Get("/ws/metrics", wsHandler.Metrics)

			r.Route("/admin", func(r chi.Router) {
				r.Route("/users", userHandler.RegisterRoutes)
				menuHandler.RegisterAdminRoutes(r)
				restaurantHandler.RegisterAdminRoutes(r)
				reportsHandler.RegisterRoutes(r)
			})
		})
	})

	logger.Info("router initialized")
	return r
}
