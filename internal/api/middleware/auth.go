package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"profitguard/pkg/crypto"
	"profitguard/pkg/utils"
)

// BearerAuth - middleware проверки API токена
//
// Назначение:
// Защищает /api/v1 от неавторизованного доступа. Токен передаётся в заголовке
// Authorization: Bearer <token>; WebSocket клиенты браузера заголовок задать
// не могут, поэтому для них допускается query параметр ?token=.
//
// Конфигурация:
// - API_TOKEN_HASH: bcrypt хеш токена (server -hash-token <token>)
// - Пустой хеш отключает проверку (локальное развертывание)
//
// Безопасность:
// - Токен сравнивается с хешем через bcrypt
// - Последний принятый токен кешируется и сверяется constant-time сравнением
// - Пути из publicPaths доступны без токена (health checks, метрики)
func BearerAuth(hash string, publicPaths ...string) func(http.Handler) http.Handler {
	if hash == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	v := &tokenVerifier{hash: hash}
	log := utils.L().WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" || !v.verify(token) {
				log.Debug("unauthorized request",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Bearer realm="profitguard"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","code":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken достаёт токен из заголовка Authorization или ?token=
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// tokenVerifier сверяет токен с bcrypt хешем.
// bcrypt намеренно медленный, поэтому принятый токен запоминается.
type tokenVerifier struct {
	hash string

	mu       sync.RWMutex
	accepted []byte
}

func (v *tokenVerifier) verify(token string) bool {
	v.mu.RLock()
	accepted := v.accepted
	v.mu.RUnlock()
	if accepted != nil && subtle.ConstantTimeCompare(accepted, []byte(token)) == 1 {
		return true
	}

	if crypto.VerifyToken(token, v.hash) != nil {
		return false
	}
	v.mu.Lock()
	v.accepted = []byte(token)
	v.mu.Unlock()
	return true
}
