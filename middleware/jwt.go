package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"receipts/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	contextUserIDKey  = "userID"
	contextEmailKey   = "email"
	contextClaimsKey  = "claims"
	bearerTokenPrefix = "Bearer "
)

var jwtSecret []byte

// Claims JWT 声明，ID(jti) 用于注销
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// InitJWT 初始化 JWT 密钥
func InitJWT(cfg *config.Config) {
	jwtSecret = []byte(cfg.JWT.Secret)
}

// GenerateToken 生成 token
func GenerateToken(userID, email string, expire time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseToken 解析并校验 token
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("不支持的签名算法")
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("无效的 token")
	}
	return claims, nil
}

// JWTAuth JWT 认证中间件
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "请先登录")
			return
		}
		if !strings.HasPrefix(authHeader, bearerTokenPrefix) {
			abortUnauthorized(c, "认证格式错误")
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerTokenPrefix))
		if tokenString == "" {
			abortUnauthorized(c, "认证格式错误")
			return
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			abortUnauthorized(c, "登录已过期，请重新登录")
			return
		}
		if revoked, _ := tokenBlacklist.IsRevoked(c.Request.Context(), claims.ID); revoked {
			abortUnauthorized(c, "登录已失效，请重新登录")
			return
		}

		c.Set(contextUserIDKey, claims.UserID)
		c.Set(contextEmailKey, claims.Email)
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
	c.Abort()
}

// GetCurrentUserID 获取当前用户 ID，未登录时返回空字符串
func GetCurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(contextUserIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GetCurrentEmail 获取当前用户邮箱
func GetCurrentEmail(c *gin.Context) string {
	return c.GetString(contextEmailKey)
}

// GetCurrentClaims 获取当前 token 声明
func GetCurrentClaims(c *gin.Context) *Claims {
	if v, ok := c.Get(contextClaimsKey); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
