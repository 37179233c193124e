package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MenuStore defines the database methods needed by menu handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuStore interface {
	ListCategories(ctx context.Context) ([]database.Category, error)
	CreateCategory(ctx context.Context, arg database.CreateCategoryParams) (database.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	ListProducts(ctx context.Context, activeOnly bool) ([]database.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	UpdateProduct(ctx context.Context, arg database.UpdateProductParams) (database.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
}

// MenuHandler serves the public menu and the admin catalog.
type MenuHandler struct {
	store  MenuStore
	logger *zap.Logger
}

func NewMenuHandler(store MenuStore, logger *zap.Logger) *MenuHandler {
	return &MenuHandler{store: store, logger: logger}
}

// RegisterPublicRoutes registers GET /menu.
func (h *MenuHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/menu", h.Menu)
}

// RegisterAdminRoutes registers catalog CRUD. Expected to be mounted at
// /admin behind RequireRole(admin).
func (h *MenuHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/categories", h.ListCategories)
	r.Post("/categories", h.CreateCategory)
	r.Delete("/categories/{id}", h.DeleteCategory)

	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Post("/products", h.CreateProduct)
	r.Put("/products/{id}", h.UpdateProduct)
	r.Delete("/products/{id}", h.DeleteProduct)
}

// --- Request / Response types ---

type createCategoryRequest struct {
	Name      string `json:"name"`
	SortOrder int32  `json:"sort_order"`
}

type productRequest struct {
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Price       string `json:"price"`
	Active      *bool  `json:"active"`
}

type categoryResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SortOrder int32     `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type productResponse struct {
	ID          uuid.UUID `json:"id"`
	CategoryID  uuid.UUID `json:"category_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Price       string    `json:"price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type menuSection struct {
	Category categoryResponse  `json:"category"`
	Products []productResponse `json:"products"`
}

func toCategoryResponse(c database.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, SortOrder: c.SortOrder, CreatedAt: c.CreatedAt}
}

func toProductResponse(p database.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		CategoryID:  p.CategoryID,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Price:       p.Price.StringFixed(2),
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// --- Handlers ---

// Menu returns active products grouped by category. Categories without an
// active product are left out.
func (h *MenuHandler) Menu(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		internalError(w, h.logger, "list categories", err)
		return
	}
	products, err := h.store.ListProducts(r.Context(), true)
	if err != nil {
		internalError(w, h.logger, "list products", err)
		return
	}

	byCategory := make(map[uuid.UUID][]productResponse)
	for _, p := range products {
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], toProductResponse(p))
	}

	resp := make([]menuSection, 0, len(categories))
	for _, c := range categories {
		if ps := byCategory[c.ID]; len(ps) > 0 {
			resp = append(resp, menuSection{Category: toCategoryResponse(c), Products: ps})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MenuHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		internalError(w, h.logger, "list categories", err)
		return
	}
	resp := make([]categoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = toCategoryResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MenuHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	c, err := h.store.CreateCategory(r.Context(), database.CreateCategoryParams{Name: req.Name, SortOrder: req.SortOrder})
	if err != nil {
		if isUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "category already exists"})
			return
		}
		internalError(w, h.logger, "create category", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryResponse(c))
}

// DeleteCategory removes the category and, by cascade, its products.
func (h *MenuHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category ID"})
		return
	}
	if err := h.store.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "category not found"})
			return
		}
		internalError(w, h.logger, "delete category", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProducts returns every product, inactive ones included.
func (h *MenuHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context(), false)
	if err != nil {
		internalError(w, h.logger, "list products", err)
		return
	}
	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MenuHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		internalError(w, h.logger, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *MenuHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	categoryID, price, msg := validateProduct(req)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		CategoryID:  categoryID,
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       price,
		Active:      active,
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category_id"})
			return
		}
		internalError(w, h.logger, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// UpdateProduct replaces every field; an omitted "active" keeps the product active.
func (h *MenuHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	categoryID, price, msg := validateProduct(req)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p, err := h.store.UpdateProduct(r.Context(), database.UpdateProductParams{
		ID:          id,
		CategoryID:  categoryID,
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       price,
		Active:      active,
	})
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		case isForeignKeyViolation(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid category_id"})
		default:
			internalError(w, h.logger, "update product", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *MenuHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}
	if err := h.store.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		internalError(w, h.logger, "delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// validateProduct returns a client-facing message when req is invalid.
func validateProduct(req productRequest) (uuid.UUID, decimal.Decimal, string) {
	if req.Name == "" {
		return uuid.Nil, decimal.Zero, "name is required"
	}
	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		return uuid.Nil, decimal.Zero, "invalid category_id"
	}
	if req.Price == "" {
		return uuid.Nil, decimal.Zero, "price is required"
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return uuid.Nil, decimal.Zero, "invalid price"
	}
	if price.IsNegative() {
		return uuid.Nil, decimal.Zero, "price must be >= 0"
	}
	return categoryID, price, ""
}
