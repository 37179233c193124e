package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore defines the database methods needed by user handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type UserStore interface {
	ListUsers(ctx context.Context) ([]database.User, error)
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
}

// UserHandler manages staff accounts.
type UserHandler struct {
	store  UserStore
	logger *zap.Logger
}

func NewUserHandler(store UserStore, logger *zap.Logger) *UserHandler {
	return &UserHandler{store: store, logger: logger}
}

// RegisterRoutes registers user endpoints on the given Chi router.
// Expected to be mounted at /admin/users behind RequireRole(admin).
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
}

// --- Request / Response types ---

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type userDetailResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserDetailResponse(u database.User) userDetailResponse {
	return userDetailResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// --- Handlers ---

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		internalError(w, h.logger, "list users", err)
		return
	}

	resp := make([]userDetailResponse, len(users))
	for i, u := range users {
		resp[i] = toUserDetailResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Email == "" || req.Password == "" || req.FullName == "" || req.Role == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email, password, full_name, and role are required"})
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email format"})
		return
	}
	if !enum.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		internalError(w, h.logger, "hash password", err)
		return
	}

	user, err := h.store.CreateUser(r.Context(), database.CreateUserParams{
		Email:          strings.ToLower(req.Email),
		FullName:       req.FullName,
		HashedPassword: string(hashed),
		Role:           req.Role,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already exists"})
			return
		}
		internalError(w, h.logger, "create user", err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserDetailResponse(user))
}

// --- Helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
