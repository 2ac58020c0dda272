package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/store"
)

// RequireAuth validates the bearer API token and populates AuthContext.
// Tokens are "{userID}.{secret}"; the secret is bcrypt-compared against the
// stored hash so a database leak never yields usable tokens.
func RequireAuth(users *store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			userID, secret, ok := strings.Cut(token, ".")
			if !ok || userID == "" || secret == "" {
				unauthorized(w)
				return
			}

			user, err := users.GetByID(userID)
			if err != nil || user == nil {
				unauthorized(w)
				return
			}
			if bcrypt.CompareHashAndPassword([]byte(user.TokenHash), []byte(secret)) != nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID: user.ID,
				Email:  user.Email,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return v
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid or missing API token"})
}
