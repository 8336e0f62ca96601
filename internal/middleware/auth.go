package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey   = "userID"
	RoleKey     = "role"
	UsernameKey = "username"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity resolved from a bearer token.
type Claims struct {
	UserID   string
	Role     string
	Username string
}

// TokenVerifier resolves a raw bearer token.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier checks HS256 tokens issued by the platform auth service.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier for secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates token. The user id is read from sub, _id or
// id, in that order.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, errors.Wrap(ErrInvalidToken, "verify")
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	for _, key := range []string{"sub", "_id", "id"} {
		if id := claimString(mc[key]); id != "" {
			claims.UserID = id
			break
		}
	}
	if claims.UserID == "" {
		return Claims{}, errors.Wrap(ErrInvalidToken, "missing subject")
	}
	claims.Role = claimString(mc["role"])
	claims.Username = claimString(mc["username"])
	return claims, nil
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%.0f", val)
	}
	return ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the Authorization header and stores the caller
// identity in the gin context.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}
