// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"templr/pkg/api"

	"github.com/google/uuid"
)

// ownerIDKey is the context key for the owner ID.
type ownerIDKey struct{}

// Owner extracts the caller's owner id from the X-Owner-ID header. The header
// is trusted; authentication happens in front of this service.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(api.OwnerHeader)
		if raw == "" {
			writeError(w, "Missing owner id", http.StatusUnauthorized)
			return
		}

		ownerID, err := uuid.Parse(raw)
		if err != nil || ownerID == uuid.Nil {
			writeError(w, "Invalid owner id", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContextWithOwner(r.Context(), ownerID)))
	})
}

// NewContextWithOwner returns a context carrying the owner id.
func NewContextWithOwner(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

// OwnerIDFromContext extracts the owner ID from the context.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ownerIDKey{}).(uuid.UUID)
	return id, ok
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
