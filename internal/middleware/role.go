package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capturekit/server/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles. It must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := roleOf(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// WriteRole lets every authenticated role read and only writers change state.
func WriteRole(writers ...string) gin.HandlerFunc {
	require := RequireRole(writers...)
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			require(c)
		}
	}
}

func roleOf(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserRole)
	if !ok {
		return "", false
	}
	role, _ := v.(string)
	return role, true
}
