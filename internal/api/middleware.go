package api

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

// AdminTokenHeader - заголовок со статическим токеном админских маршрутов.
const AdminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware пропускает запрос, только если X-Admin-Token совпадает с token.
// Пустой token отключает проверку.
func AdminTokenMiddleware(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if got == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized: Missing "+AdminTokenHeader+" header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.Warn("AdminTokenMiddleware: неверный токен", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				writeJSONError(w, http.StatusForbidden, "Forbidden: Invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
