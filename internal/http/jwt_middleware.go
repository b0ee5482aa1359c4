package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devasignhq/contributor-app/internal/service"
)

const authClaimsKey = "auth_claims"

// JWTAuthMiddleware valida el access token y guarda los claims en el contexto.
// Los navegadores no pueden poner headers en un upgrade a websocket, asi que
// en GET tambien se acepta ?access_token=.
func JWTAuthMiddleware(jwtSvc *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSvc == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
			c.Abort()
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		claims, err := jwtSvc.ParseAccessToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	if header == "" && c.Request.Method == http.MethodGet {
		return strings.TrimSpace(c.Query("access_token"))
	}
	return ""
}

// GetAuthClaims obtiene claims de JWT desde el contexto.
func GetAuthClaims(c *gin.Context) (service.Claims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.Claims{}, false
	}
	claims, ok := val.(service.Claims)
	return claims, ok
}
