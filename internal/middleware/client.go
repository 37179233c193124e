package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ClientIDHeader identifies a customer device. The device generates the
// UUID once and keeps it in its local storage.
const ClientIDHeader = "X-Client-ID"

const clientIDKey contextKey = "client_id"

// RequireClientID rejects requests without a valid client ID. WebSocket
// upgrades may pass it as the "client_id" query parameter instead.
func RequireClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ClientIDHeader)
		if raw == "" {
			raw = r.URL.Query().Get("client_id")
		}
		if raw == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + ClientIDHeader + " header"})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid client ID"})
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIDFromContext returns the client ID set by RequireClientID.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// WithClientID returns a context carrying clientID, for tests and internal callers.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}
