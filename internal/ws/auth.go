package ws

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/auth"
)

// extractToken extracts JWT token from request.
// Priority: 1. token query parameter, 2. Authorization header
func extractToken(r *http.Request) string {
	// io("url", { query: { token } }) ends up as ?token=xxx on the handshake
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	return ""
}

// WrapWithAuth rejects Socket.IO handshakes that carry no valid JWT
func WrapWithAuth(next http.Handler, logger *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// handshake is a GET to /socket.io/?EIO=4&transport=polling
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/socket.io/") {
			token := extractToken(r)
			if token == "" {
				logger.Warnf("Handshake rejected: no token from %s", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(token)
			if err != nil {
				logger.Warnf("Handshake rejected: invalid token from %s: %v", r.RemoteAddr, err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			logger.Debugf("Handshake accepted: user=%s", claims.Username)
		}

		next.ServeHTTP(w, r)
	})
}
