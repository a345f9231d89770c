// Package middleware guards the operational API. A single admin token,
// verified against a bcrypt hash, exchanges for a short-lived JWT; the
// middleware validates that JWT on every protected route.
package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tradecore/pkg/response"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrBadAdminToken = errors.New("admin token mismatch")
)

// Claims carried by issued tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and validates operational API tokens.
type Authenticator struct {
	secret         []byte
	expire         time.Duration
	adminTokenHash string
}

// NewAuthenticator creates an authenticator. adminTokenHash is the
// bcrypt hash the admin token is checked against.
func NewAuthenticator(secret string, expire time.Duration, adminTokenHash string) *Authenticator {
	return &Authenticator{
		secret:         []byte(secret),
		expire:         expire,
		adminTokenHash: adminTokenHash,
	}
}

// IssueToken verifies the admin token and returns a signed JWT.
func (a *Authenticator) IssueToken(adminToken string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(a.adminTokenHash), []byte(adminToken)); err != nil {
		return "", ErrBadAdminToken
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expire)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses and verifies a JWT produced by IssueToken.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AuthMiddleware creates a JWT authentication middleware
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		if _, err := auth.ValidateToken(parts[1]); err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Next()
	}
}
