package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// RestaurantStore defines the database methods needed by config handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type RestaurantStore interface {
	GetRestaurantConfig(ctx context.Context) (database.RestaurantConfig, error)
	UpsertRestaurantConfig(ctx context.Context, arg database.RestaurantConfig) (database.RestaurantConfig, error)
}

// Broadcaster pushes an event to a hub room. Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToRoom(room string, event ws.Event)
}

// RestaurantHandler serves the restaurant configuration singleton.
type RestaurantHandler struct {
	store  RestaurantStore
	hub    Broadcaster
	logger *zap.Logger
}

func NewRestaurantHandler(store RestaurantStore, hub Broadcaster, logger *zap.Logger) *RestaurantHandler {
	return &RestaurantHandler{store: store, hub: hub, logger: logger}
}

// RegisterPublicRoutes registers GET /config.
func (h *RestaurantHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/config", h.Get)
}

// RegisterAdminRoutes registers PUT /config; expected to be mounted at /admin.
func (h *RestaurantHandler) RegisterAdminRoutes(r chi.Router) {
	r.Put("/config", h.Update)
}

type restaurantConfigRequest struct {
	Name          string  `json:"name"`
	LogoURL       string  `json:"logo_url"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	DeliveryRange int32   `json:"delivery_range"`
	FontFamily    string  `json:"font_family"`
}

func (h *RestaurantHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetRestaurantConfig(r.Context())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "restaurant is not configured"})
			return
		}
		internalError(w, h.logger, "get restaurant config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Update replaces the configuration and pushes it to every open customer screen.
func (h *RestaurantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req restaurantConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid coordinates"})
		return
	}
	if req.DeliveryRange < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "delivery_range must be >= 0"})
		return
	}

	cfg, err := h.store.UpsertRestaurantConfig(r.Context(), database.RestaurantConfig{
		Name:          req.Name,
		LogoURL:       req.LogoURL,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		DeliveryRange: req.DeliveryRange,
		FontFamily:    req.FontFamily,
	})
	if err != nil {
		internalError(w, h.logger, "update restaurant config", err)
		return
	}

	if ev, err := ws.NewEvent(enum.EventConfigUpdated, cfg); err != nil {
		h.logger.Error("encode config event", zap.Error(err))
	} else {
		h.hub.BroadcastToRoom(enum.RoomPublic, ev)
	}
	writeJSON(w, http.StatusOK, cfg)
}
