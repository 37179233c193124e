package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/comanda-pos/api/internal/auth"
	"github.com/comanda-pos/api/internal/config"
	"github.com/comanda-pos/api/internal/enum"
	mw "github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/router"
	"github.com/comanda-pos/api/internal/ws"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testSecret = "router-test-secret"

// newTestRouter wires no stores; only requests rejected before a handler runs
// may be sent to it.
func newTestRouter() http.Handler {
	cfg := &config.Config{
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	return router.New(cfg, router.Services{
		Hub:     ws.NewHub(),
		Limiter: mw.NewClientRateLimiter(6),
		Logger:  zap.NewNop(),
	})
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, uuid.New(), role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if body := rr.Body.String(); body != `{"status":"ok"}` {
		t.Errorf("body: got %s", body)
	}
}

func TestRouteGuards(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		role       string
		clientID   string
		wantStatus int
	}{
		{"cart without client id", "GET", "/cart", "", "", http.StatusBadRequest},
		{"notifications without client id", "GET", "/notifications", "", "", http.StatusBadRequest},
		{"submit with invalid client id", "POST", "/orders", "", "not-a-uuid", http.StatusBadRequest},
		{"staff orders without token", "GET", "/orders", "", "", http.StatusUnauthorized},
		{"staff orders ws without token", "GET", "/ws/orders", "", "", http.StatusUnauthorized},
		{"admin without token", "GET", "/admin/users", "", "", http.StatusUnauthorized},
		{"admin as waiter", "GET", "/admin/users", enum.UserRoleWaiter, "", http.StatusForbidden},
		{"metrics as kitchen", "GET", "/admin/metrics", enum.UserRoleKitchen, "", http.StatusForbidden},
		{"metrics ws as waiter", "GET", "/ws/metrics", enum.UserRoleWaiter, "", http.StatusForbidden},
		{"notifications ws with invalid id", "GET", "/ws/clients/nope/notifications", "", "", http.StatusBadRequest},
	}

	router := newTestRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				req.Header.Set("Authorization", "Bearer "+tokenFor(t, tt.role))
			}
			if tt.clientID != "" {
				req.Header.Set(mw.ClientIDHeader, tt.clientID)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status: got %d, want %d; body: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest("OPTIONS", "/cart", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", mw.ClientIDHeader)

	rr := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: got %q", got)
	}
}
