package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"receipts/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initJWTTestConfig() {
	config.GlobalConfig = &config.Config{
		Server: config.ServerConfig{Mode: "debug"},
		JWT:    config.JWTConfig{Secret: "test-jwt-secret-key"},
	}
}

func TestGenerateToken(t *testing.T) {
	initJWTTestConfig()
	defer func() { config.GlobalConfig = nil }()

	InitJWT(config.GlobalConfig)

	token, err := GenerateToken("u-1", "a@example.com", 24*time.Hour)
	require.NoError(t, err)
	assert.Greater(t, len(token), 20)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	// 每个 token 的 jti 不同
	other, _ := GenerateToken("u-1", "a@example.com", 24*time.Hour)
	otherClaims, err := ParseToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)
}

func TestParseToken(t *testing.T) {
	initJWTTestConfig()
	defer func() { config.GlobalConfig = nil }()

	InitJWT(config.GlobalConfig)

	_, err := ParseToken("")
	assert.Error(t, err)
	_, err = ParseToken("not.a.valid.jwt")
	assert.Error(t, err)
	_, err = ParseToken("eyJhbGciOiJmb29iIn0.xxxx.yyyy")
	assert.Error(t, err)

	// 过期
	expired, _ := GenerateToken("u-1", "a@example.com", -time.Minute)
	_, err = ParseToken(expired)
	assert.Error(t, err)

	// 密钥不同
	token, _ := GenerateToken("u-1", "a@example.com", time.Hour)
	jwtSecret = []byte("another-secret")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func newProtectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuth())
	router.GET("/protected", func(c *gin.Context) {
		c.String(200, "id:%s", GetCurrentUserID(c))
	})
	router.GET("/protected/email", func(c *gin.Context) {
		c.String(200, "%s", GetCurrentEmail(c))
	})
	return router
}

func doProtected(router *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	initJWTTestConfig()
	defer func() { config.GlobalConfig = nil }()
	InitJWT(config.GlobalConfig)
	router := newProtectedRouter()

	w := doProtected(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "401")

	assert.Equal(t, http.StatusUnauthorized, doProtected(router, "Basic xyz").Code)
	assert.Equal(t, http.StatusUnauthorized, doProtected(router, "Bearer ").Code)

	token, _ := GenerateToken("u-42", "u42@example.com", time.Hour)
	w = doProtected(router, "Bearer "+token)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "id:u-42", w.Body.String())

	req := httptest.NewRequest("GET", "/protected/email", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "u42@example.com", w.Body.String())
}

func TestJWTAuth_RevokedToken(t *testing.T) {
	initJWTTestConfig()
	defer func() { config.GlobalConfig = nil }()
	InitJWT(config.GlobalConfig)

	SetTokenBlacklist(NewMemoryTokenBlacklist())
	defer SetTokenBlacklist(NewMemoryTokenBlacklist())
	router := newProtectedRouter()

	token, _ := GenerateToken("u-7", "u7@example.com", time.Hour)
	require.Equal(t, 200, doProtected(router, "Bearer "+token).Code)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	require.NoError(t, RevokeToken(context.Background(), claims))

	assert.Equal(t, http.StatusUnauthorized, doProtected(router, "Bearer "+token).Code)

	// 其他 token 不受影响
	fresh, _ := GenerateToken("u-7", "u7@example.com", time.Hour)
	assert.Equal(t, 200, doProtected(router, "Bearer "+fresh).Code)
}

func TestMemoryTokenBlacklist_Expiry(t *testing.T) {
	b := NewMemoryTokenBlacklist()
	ctx := context.Background()

	require.NoError(t, b.Revoke(ctx, "jti-1", 20*time.Millisecond))
	revoked, _ := b.IsRevoked(ctx, "jti-1")
	assert.True(t, revoked)

	time.Sleep(30 * time.Millisecond)
	revoked, _ = b.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)
}

func TestGetCurrentUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetCurrentUserID(c))

	c.Set("userID", "u-99")
	assert.Equal(t, "u-99", GetCurrentUserID(c))
}
