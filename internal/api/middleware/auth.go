package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/arkline/escrowd/internal/api/response"
	"github.com/arkline/escrowd/internal/core"
)

type contextKey string

// APIKeyIDKey carries the authenticated key's ID for request logging.
const APIKeyIDKey contextKey = "api_key_id"

// Auth returns a middleware that validates the X-API-Key header against the
// api_keys table. Only the SHA-256 hash of a key is ever stored.
func Auth(db core.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			id, err := lookupKey(r.Context(), db, key)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookupKey resolves a plaintext API key to its ID, rejecting revoked keys.
// It is shared with the WebSocket endpoints, which authenticate via a query
// parameter instead of a header.
func lookupKey(ctx context.Context, db core.DB, key string) (string, error) {
	hash := sha256.Sum256([]byte(key))
	var id string
	err := db.QueryRow(ctx,
		`SELECT id FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`,
		hex.EncodeToString(hash[:]),
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AuthToken validates a key passed outside the normal header, returning the
// key ID. Used by WebSocket upgrades where custom headers are unavailable.
func AuthToken(ctx context.Context, db core.DB, token string) (string, error) {
	return lookupKey(ctx, db, token)
}
