// README: Auth middleware: bearer token verification and caller identity on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bora/internal/infra"
)

const (
	ctxUID   = "caller_uid"
	ctxRole  = "caller_role"
	ctxEmail = "caller_email"
	ctxName  = "caller_name"

	RolePassenger = "passenger"
	RoleDriver    = "driver"
)

// Auth rejects requests without a valid bearer token. Tokens without a role claim
// act as passengers; unknown roles are refused.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		id, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || id == nil || id.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role := strings.ToLower(id.Role)
		switch role {
		case "":
			role = RolePassenger
		case RolePassenger, RoleDriver:
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unsupported role"})
			return
		}

		c.Set(ctxUID, id.UID)
		c.Set(ctxRole, role)
		c.Set(ctxEmail, id.Email)
		c.Set(ctxName, id.Name)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func CallerEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

func CallerName(c *gin.Context) string {
	return c.GetString(ctxName)
}
