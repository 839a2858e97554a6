package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyOwnerID is where Middleware stores the authenticated
	// owner id for downstream handlers.
	ContextKeyOwnerID = "owner_id"
	ContextKeyClaims  = "owner_claims"
)

// Middleware authenticates requests to the read-only analytics API
// (spec §6) against a single configured owner's JWT. There is no
// tier, admin, or email-verification concept in a single-owner engine
// — those gates from the teacher's hosted multi-tenant product are
// dropped rather than carried unused.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   ErrUnauthorized.Code,
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(parts[1])
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}

		c.Set(ContextKeyOwnerID, claims.OwnerID)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetOwnerID extracts the authenticated owner id from the Gin context.
func GetOwnerID(c *gin.Context) string {
	if id, exists := c.Get(ContextKeyOwnerID); exists {
		return id.(string)
	}
	return ""
}
