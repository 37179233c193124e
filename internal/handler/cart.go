package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/cart"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CartStore is satisfied by *cart.Store.
type CartStore interface {
	Get(ctx context.Context, clientID string) (cart.Cart, error)
	Add(ctx context.Context, clientID string, p cart.Product) (cart.Cart, error)
	Increase(ctx context.Context, clientID, id string) (cart.Cart, error)
	Decrease(ctx context.Context, clientID, id string) (cart.Cart, error)
	Remove(ctx context.Context, clientID, id string) (cart.Cart, error)
	UpdateNote(ctx context.Context, clientID, id, note string) (cart.Cart, error)
	Clear(ctx context.Context, clientID string) error
	LastAdded(clientID string) (time.Time, bool)
}

// ProductLookup resolves cart additions against the menu.
// Satisfied by *database.Queries.
type ProductLookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
}

// CartHandler serves the customer cart. Every route requires a client ID.
type CartHandler struct {
	carts    CartStore
	products ProductLookup
	logger   *zap.Logger
}

func NewCartHandler(carts CartStore, products ProductLookup, logger *zap.Logger) *CartHandler {
	return &CartHandler{carts: carts, products: products, logger: logger}
}

// RegisterRoutes registers cart endpoints. Expected to be mounted at /cart
// behind middleware.RequireClientID.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Get)
	r.Delete("/", h.Clear)
	r.Post("/items", h.AddItem)
	r.Post("/items/{id}/increase", h.Increase)
	r.Post("/items/{id}/decrease", h.Decrease)
	r.Put("/items/{id}/note", h.UpdateNote)
	r.Delete("/items/{id}", h.RemoveItem)
}

// --- Request / Response types ---

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
}

type updateNoteRequest struct {
	Note string `json:"note"`
}

type cartItemResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
	Note     string `json:"note"`
	Subtotal string `json:"subtotal"`
}

type cartResponse struct {
	Items       []cartItemResponse `json:"items"`
	Total       string             `json:"total"`
	LastAddedAt *time.Time         `json:"last_added_at,omitempty"`
}

func (h *CartHandler) toCartResponse(clientID string, c cart.Cart) cartResponse {
	resp := cartResponse{
		Items: make([]cartItemResponse, len(c.Items)),
		Total: c.Total().StringFixed(2),
	}
	for i, it := range c.Items {
		resp.Items[i] = cartItemResponse{
			ID:       it.ID,
			Name:     it.Name,
			Price:    it.Price.StringFixed(2),
			Quantity: it.Quantity,
			Note:     it.Note,
			Subtotal: it.Subtotal().StringFixed(2),
		}
	}
	if t, ok := h.carts.LastAdded(clientID); ok {
		resp.LastAddedAt = &t
	}
	return resp
}

// --- Handlers ---

func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	c, err := h.carts.Get(r.Context(), clientID)
	if err != nil {
		internalError(w, h.logger, "get cart", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(clientID, c))
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	if err := h.carts.Clear(r.Context(), clientID); err != nil {
		internalError(w, h.logger, "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds one unit of an active menu product. Name and price come from
// the catalog, never from the request.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product_id"})
		return
	}

	p, err := h.products.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		internalError(w, h.logger, "get product", err)
		return
	}
	if !p.Active {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "product is not available"})
		return
	}

	c, err := h.carts.Add(r.Context(), clientID, cart.Product{ID: p.ID.String(), Name: p.Name, Price: p.Price})
	if err != nil {
		h.writeCartError(w, "add cart item", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(clientID, c))
}

func (h *CartHandler) Increase(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, "increase cart item", h.carts.Increase)
}

func (h *CartHandler) Decrease(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, "decrease cart item", h.carts.Decrease)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, "remove cart item", h.carts.Remove)
}

func (h *CartHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req updateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.mutateItem(w, r, "update cart note", func(ctx context.Context, clientID, id string) (cart.Cart, error) {
		return h.carts.UpdateNote(ctx, clientID, id, req.Note)
	})
}

// --- Helpers ---

func (h *CartHandler) mutateItem(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, clientID, id string) (cart.Cart, error)) {
	clientID := middleware.ClientIDFromContext(r.Context())
	c, err := fn(r.Context(), clientID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeCartError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toCartResponse(clientID, c))
}

func (h *CartHandler) writeCartError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, cart.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not in cart"})
	case errors.Is(err, cart.ErrInvalidItem):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		internalError(w, h.logger, op, err)
	}
}
