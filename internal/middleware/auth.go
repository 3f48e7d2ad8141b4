package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"foodrescue/pkg/utils"
)

const (
	// AuthorizationHeader authentication header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix Bearer prefix
	BearerPrefix = "Bearer "
	// UserIDKey user ID key in context
	UserIDKey = "user_id"
	// UserRoleKey user role key in context
	UserRoleKey = "user_role"
)

// Claims JWT claims carried by access tokens
type Claims struct {
	UserID uint64 `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates access tokens
type JWTManager struct {
	secret []byte
	expire time.Duration
	issuer string
}

// NewJWTManager creates a JWT manager
func NewJWTManager(secret string, expire time.Duration, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		expire: expire,
		issuer: issuer,
	}
}

// Generate issues a signed token for the user
func (m *JWTManager) Generate(userID uint64, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and verifies a token
func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Auth authentication middleware
func Auth(manager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "invalid authorization header format")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := manager.Validate(tokenString)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, "invalid token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole restricts a route to one role. Must run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		current, ok := GetUserRole(c)
		if !ok || current != role {
			utils.ErrorResponse(c, http.StatusForbidden, utils.CodeUnauthorized, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID gets the authenticated user ID from context
func GetUserID(c *gin.Context) (uint64, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint64)
	return id, ok
}

// GetUserRole gets the authenticated user role from context
func GetUserRole(c *gin.Context) (string, bool) {
	value, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}
	role, ok := value.(string)
	return role, ok
}
