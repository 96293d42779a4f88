package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"pingme/internal/auth"
)

const principalContextKey = "pingme.principal"

type principal struct {
	ID    string
	Token string
}

// AuthMiddleware resolves a bearer token into a principal. Resolution
// failures leave the request anonymous; handlers that need identity use
// requireAuth.
type AuthMiddleware struct {
	Resolver auth.TokenResolver
	Logger   *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		// Browsers cannot set headers on websocket dials; accept the token
		// as a query parameter there.
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" || m.Resolver == nil {
		c.Next()
		return
	}
	userID, err := m.Resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		if err != auth.ErrInvalidToken && m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		c.Next()
		return
	}
	setPrincipal(c, principal{ID: userID, Token: token})
	c.Next()
}

func setPrincipal(c *gin.Context, p principal) {
	c.Set(principalContextKey, p)
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireAuth(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
