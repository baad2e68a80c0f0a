package middleware

import (
	"net/http"
	"strings"

	"github.com/causehive/donation-service/common/auth"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	UserContextKey          = "userID"
	AuthorizationContextKey = "authorization"

	accessTokenType = "access"
)

// TokenValidator is satisfied by *auth.TokenParser.
type TokenValidator interface {
	ParseAndValidateToken(tokenStr, expectedType string) (jwt.MapClaims, error)
}

// Identity resolves the caller from the X-User-ID header injected by the API
// gateway, falling back to a Bearer access token. Requests carrying neither
// continue anonymously; a credential that is present but unusable is a 401.
func Identity(tokens TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != "" {
			c.Set(AuthorizationContextKey, header)
		}

		if raw := strings.TrimSpace(c.GetHeader("X-User-ID")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: invalid user id"})
				return
			}
			c.Set(UserContextKey, id)
			c.Next()
			return
		}

		tokenStr, ok := bearerToken(header)
		if !ok || tokens == nil {
			c.Next()
			return
		}

		claims, err := tokens.ParseAndValidateToken(tokenStr, accessTokenType)
		if err != nil {
			logger.Debug("Rejected access token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		id, err := auth.UserID(claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(UserContextKey, id)
		c.Next()
	}
}

// RequireUser rejects requests Identity left anonymous.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided."})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get(UserContextKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// GetAuthorization returns the raw Authorization header so it can be
// forwarded to collaborators.
func GetAuthorization(c *gin.Context) string {
	return c.GetString(AuthorizationContextKey)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
