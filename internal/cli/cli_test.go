package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/server/internal/auth"
	"github.com/capturekit/server/internal/captures"
	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/session"
	"github.com/capturekit/server/pkg/response"
	"github.com/capturekit/server/pkg/utils"
)

// fakeServer answers like the capture server and records what it received.
type fakeServer struct {
	authHeaders []string
	start       captures.StartRequest
	finish      captures.FinishRequest
	deleted     string
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := &fakeServer{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		fs.authHeaders = append(fs.authHeaders, c.GetHeader("Authorization"))
	})
	r.POST("/auth/login", func(c *gin.Context) {
		var req auth.LoginRequest
		_ = c.ShouldBindJSON(&req)
		if req.Password != "secret" {
			response.Unauthorized(c, "invalid username or password")
			return
		}
		response.OK(c, auth.TokenResponse{Token: "tok-123", Username: req.Username, Role: auth.RoleOperator, ExpiresAt: time.Now().Add(time.Hour)})
	})
	r.POST("/api/captures/start", func(c *gin.Context) {
		assert.NoError(t, c.ShouldBindJSON(&fs.start))
		response.Created(c, session.Session{
			ID:     "cap-1",
			State:  session.StateRecording,
			Record: models.VideoRecord{ID: "cap-1", Folder: "shop/cart", Format: models.FormatAVI},
		})
	})
	r.POST("/api/captures/:id/finish", func(c *gin.Context) {
		assert.NoError(t, c.ShouldBindJSON(&fs.finish))
		if c.Param("id") != "cap-1" {
			response.Fail(c, http.StatusConflict, string(session.CodeInvalidSessionState), "no session "+c.Param("id"), nil)
			return
		}
		response.OK(c, models.VideoSummary{ID: "cap-1", Status: fs.finish.Status})
	})
	r.GET("/api/captures", func(c *gin.Context) {
		response.OK(c, []models.VideoSummary{
			{ID: "cap-1", Status: models.StatusPass, Project: "shop", Feature: "cart", CreatedAt: time.Now()},
		})
	})
	r.DELETE("/api/captures/:id", func(c *gin.Context) {
		fs.deleted = c.Param("id")
		response.NoContent(c)
	})
	r.GET("/api/uploads", func(c *gin.Context) {
		response.OK(c, []models.UploadStatus{{ID: "cap-1", State: models.UploadUploading, Total: 200, Transferred: 50}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fs, srv
}

func run(t *testing.T, srv *httptest.Server, tokenFile string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	deps := &Dependencies{Version: "test", Out: &out}
	cmd := NewRootCmd(deps)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token-file", tokenFile}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestLogin_SavesTokenForLaterCommands(t *testing.T) {
	fs, srv := newFakeServer(t)
	tokenFile := filepath.Join(t.TempDir(), "cfg", "token")

	out, err := run(t, srv, tokenFile, "login", "-u", "alice", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")

	tok, err := LoadToken(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	out, err = run(t, srv, tokenFile, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cap-1")
	assert.Contains(t, out, "PASS")
	assert.Equal(t, "Bearer tok-123", fs.authHeaders[len(fs.authHeaders)-1])
}

func TestLogin_WrongPassword(t *testing.T) {
	_, srv := newFakeServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token")

	_, err := run(t, srv, tokenFile, "login", "--password", "nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.NoFileExists(t, tokenFile)
}

func TestStart_SendsFlags(t *testing.T) {
	fs, srv := newFakeServer(t)

	out, err := run(t, srv, filepath.Join(t.TempDir(), "token"),
		"start", "--id", "cap-1", "-p", "shop", "-f", "cart", "--sid", "7",
		"-r", "800x600+10+20", "-m", "browser=firefox")
	require.NoError(t, err)
	assert.Contains(t, out, "Recording cap-1 to shop/cart/cap-1.avi")

	assert.Equal(t, "cap-1", fs.start.ID)
	assert.Equal(t, "shop", fs.start.Project)
	assert.Equal(t, "cart", fs.start.Feature)
	require.NotNil(t, fs.start.SID)
	assert.Equal(t, int64(7), *fs.start.SID)
	require.NotNil(t, fs.start.Region)
	assert.Equal(t, models.Region{X: 10, Y: 20, Width: 800, Height: 600}, *fs.start.Region)
	assert.Equal(t, map[string]string{"browser": "firefox"}, fs.start.Meta)
}

func TestStart_BadRegion(t *testing.T) {
	_, srv := newFakeServer(t)
	_, err := run(t, srv, filepath.Join(t.TempDir(), "token"), "start", "-r", "wide")
	assert.ErrorContains(t, err, "parse region")
}

func TestFinish_ReportsErrorCode(t *testing.T) {
	fs, srv := newFakeServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token")

	out, err := run(t, srv, tokenFile, "finish", "cap-1", "--status", models.StatusFail, "-e", "assertion failed")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved cap-1 (FAIL)")
	assert.Equal(t, "assertion failed", fs.finish.Error)

	_, err = run(t, srv, tokenFile, "finish", "other")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, string(session.CodeInvalidSessionState), apiErr.Code)
}

func TestDeleteAndUploads(t *testing.T) {
	fs, srv := newFakeServer(t)
	tokenFile := filepath.Join(t.TempDir(), "token")

	out, err := run(t, srv, tokenFile, "delete", "cap-1")
	require.NoError(t, err)
	assert.Equal(t, "cap-1", fs.deleted)
	assert.Contains(t, out, "Deleted cap-1")

	out, err = run(t, srv, tokenFile, "uploads")
	require.NoError(t, err)
	assert.Contains(t, out, "uploading")
	assert.Contains(t, out, "25%")
}

func TestHashPassword(t *testing.T) {
	_, srv := newFakeServer(t)
	out, err := run(t, srv, filepath.Join(t.TempDir(), "token"), "hash-password", "s3cret")
	require.NoError(t, err)
	assert.True(t, utils.CheckPassword("s3cret", strings.TrimSpace(out)))
}

func TestLoadToken_Missing(t *testing.T) {
	tok, err := LoadToken(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, tok)
}
