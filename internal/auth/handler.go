package auth

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/capturekit/server/pkg/response"
	"github.com/capturekit/server/pkg/utils"
)

// Account is a configured login. PasswordHash is a bcrypt hash.
type Account struct {
	Username     string
	PasswordHash string
	Role         string
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	accounts map[string]Account
	jwt      *JWTService
	lockout  *Lockout
	logger   *zap.Logger
}

// NewHandler creates an auth handler. lockout may be nil.
func NewHandler(accounts []Account, jwt *JWTService, lockout *Lockout, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		if a.Username == "" || a.PasswordHash == "" {
			continue
		}
		if a.Role == "" {
			a.Role = RoleOperator
		}
		m[a.Username] = a
	}
	return &Handler{accounts: m, jwt: jwt, lockout: lockout, logger: logger}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	locked, wait, err := h.lockout.Locked(ctx, ip)
	if err != nil {
		h.logger.Warn("lockout check failed", zap.String("client_ip", ip), zap.Error(err))
	}
	if locked {
		c.Header("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())))
		response.TooManyRequests(c, "too many failed logins, try again later")
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	acct, ok := h.accounts[req.Username]
	if !ok || !utils.CheckPassword(req.Password, acct.PasswordHash) {
		n, err := h.lockout.Fail(ctx, ip)
		if err != nil {
			h.logger.Warn("lockout update failed", zap.String("client_ip", ip), zap.Error(err))
		}
		h.logger.Info("login failed", zap.String("username", req.Username), zap.String("client_ip", ip), zap.Int64("failures", n))
		response.Unauthorized(c, "invalid username or password")
		return
	}
	if err := h.lockout.Reset(ctx, ip); err != nil {
		h.logger.Warn("lockout reset failed", zap.String("client_ip", ip), zap.Error(err))
	}

	token, expires, err := h.jwt.Generate(acct.Username, acct.Role)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, Username: acct.Username, Role: acct.Role, ExpiresAt: expires})
}
