package handler

import (
	"context"
	"net/http"

	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/notification"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NotificationSource is satisfied by *notification.Registry.
type NotificationSource interface {
	State(ctx context.Context, clientID string) (notification.State, error)
}

// NotificationHandler reports a customer's active order count.
type NotificationHandler struct {
	source NotificationSource
	logger *zap.Logger
}

func NewNotificationHandler(source NotificationSource, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{source: source, logger: logger}
}

// RegisterRoutes expects to run behind middleware.RequireClientID.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", h.Get)
}

// Get answers with the counter state. A subscription failure is reported in
// the state's error field with the last known count, not as an HTTP error.
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	state, err := h.source.State(r.Context(), clientID)
	if err != nil {
		h.logger.Warn("notification state", zap.String("client_id", clientID), zap.Error(err))
		if state.Error == "" {
			state.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, state)
}
