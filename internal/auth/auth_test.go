package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/server/pkg/response"
	"github.com/capturekit/server/pkg/utils"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, expires, err := svc.Generate("alice", RoleViewer)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleViewer, claims.Role)
	assert.NoError(t, svc.Check(token))
}

func TestJWT_Rejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	other := NewJWTService("other", 1)
	token, _, err := other.Generate("alice", RoleOperator)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, svc.Check("garbage"), ErrInvalidToken)

	expired := NewJWTService("secret", 1)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err = expired.Generate("alice", RoleOperator)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Check(token), ErrInvalidToken)
}

func newLockout(t *testing.T, attempts int) (*Lockout, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLockout(rdb, attempts, time.Minute), mr
}

func TestLockout(t *testing.T) {
	l, mr := newLockout(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		locked, _, err := l.Locked(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d", i)
		n, err := l.Fail(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	locked, wait, err := l.Locked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Greater(t, wait, time.Duration(0))

	locked, _, err = l.Locked(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, locked)

	mr.FastForward(61 * time.Second)
	locked, _, err = l.Locked(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockout_ResetAndDisabled(t *testing.T) {
	l, _ := newLockout(t, 2)
	ctx := context.Background()
	_, err := l.Fail(ctx, "ip")
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx, "ip"))
	n, err := l.Fail(ctx, "ip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var disabled *Lockout
	locked, _, err := disabled.Locked(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, locked)
	_, err = disabled.Fail(ctx, "ip")
	assert.NoError(t, err)
}

func login(r *gin.Engine, user, pass string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(LoginRequest{Username: user, Password: pass})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Login(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := utils.HashPassword("s3cret")
	require.NoError(t, err)
	jwtSvc := NewJWTService("secret", 1)
	l, _ := newLockout(t, 2)

	r := gin.New()
	h := NewHandler([]Account{{Username: "ops", PasswordHash: hash}}, jwtSvc, l, nil)
	r.POST("/auth/login", h.Login)

	w := login(r, "ops", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, RoleOperator, body.Data.Role)
	claims, err := jwtSvc.Validate(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)

	assert.Equal(t, http.StatusUnauthorized, login(r, "ops", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, login(r, "nobody", "s3cret").Code)

	w = login(r, "ops", "s3cret")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	var errBody response.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errBody))
	assert.False(t, errBody.Success)
}

func TestHandler_LoginBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", NewHandler(nil, NewJWTService("s", 1), nil, nil).Login)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
