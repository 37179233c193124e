package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/metrics"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ReportsStore reads the orders a report covers.
// Satisfied by *ordersync.Sync; narrow interface for testability.
type ReportsStore interface {
	Snapshot(ctx context.Context, q ordersync.Query) ([]database.Order, error)
}

// ReportsHandler serves the admin dashboard figures.
type ReportsHandler struct {
	store  ReportsStore
	logger *zap.Logger
	now    func() time.Time
}

func NewReportsHandler(store ReportsStore, logger *zap.Logger) *ReportsHandler {
	return &ReportsHandler{store: store, logger: logger, now: time.Now}
}

// RegisterRoutes registers report endpoints. Expected to be mounted at
// /admin behind RequireRole(admin).
func (h *ReportsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/metrics", h.Metrics)
}

type metricsResponse struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status"`
	metrics.Report
}

// Metrics computes the dashboard over ?start_date=&end_date= (YYYY-MM-DD,
// UTC, inclusive; default last 30 days) and ?status= (default all).
func (h *ReportsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := metrics.ParseFilter(q.Get("start_date"), q.Get("end_date"), q.Get("status"), h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	orders, err := h.store.Snapshot(r.Context(), f.Query())
	if err != nil {
		internalError(w, h.logger, "load report orders", err)
		return
	}

	status := string(f.Status)
	if status == "" {
		status = "all"
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		StartDate: f.From.Format(time.DateOnly),
		EndDate:   f.To.AddDate(0, 0, -1).Format(time.DateOnly),
		Status:    status,
		Report:    metrics.Compute(orders),
	})
}
