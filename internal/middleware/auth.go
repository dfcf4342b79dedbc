// Package middleware содержит HTTP middleware SMM-панели.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// Authenticator разрешает токен сессии в пользователя.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// AuthMiddleware проверяет Bearer-токен сессии и кладёт пользователя в
// контекст запроса. Сессии хранятся на сервере: токен действителен,
// пока сессия не истекла и не отозвана.
type AuthMiddleware struct {
	auth Authenticator
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Middleware отклоняет запросы без действующей сессии.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// GetUserFromContext извлекает пользователя из контекста запроса.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}
