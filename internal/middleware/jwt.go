package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/capturekit/server/internal/auth"
	"github.com/capturekit/server/pkg/response"
)

const (
	// ContextUsername is the key for the account name in gin context.
	ContextUsername = "username"
	// ContextUserRole is the key for the account role in gin context.
	ContextUserRole = "user_role"
)

var (
	errNoAuthorization  = errors.New("missing authorization header")
	errBadAuthorization = errors.New("invalid authorization header")
)

// BearerToken extracts the token of an "Authorization: Bearer <token>" header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoAuthorization
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadAuthorization
	}
	return token, nil
}

// JWT rejects requests without a valid bearer token and stores the account claims in
// the gin context for RequireRole and the access log.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// Username returns the authenticated account name, or "" before JWT ran.
func Username(c *gin.Context) string { return c.GetString(ContextUsername) }
