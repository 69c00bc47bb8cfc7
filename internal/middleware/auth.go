package middleware

import (
	"net/http"
	"strings"

	"voting-oracle/internal/dto"
	"voting-oracle/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextWalletKey is where RequireAuth stores the authenticated wallet.
const ContextWalletKey = "wallet_address"

// AuthMiddleware validates bearer tokens on submission endpoints.
type AuthMiddleware struct {
	logger *logrus.Logger
}

func NewAuthMiddleware(logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{logger: logger}
}

// RequireAuth rejects requests without a valid wallet-bound token.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("request without authorization header")
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeMissingAuthorization,
				"Missing Authorization header. Provide a valid bearer token."))
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeInvalidAuthFormat,
				"Authorization header must be in format: Bearer <token>"))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeInvalidAuthFormat,
				"Token cannot be empty"))
			c.Abort()
			return
		}

		claims, err := handlers.ValidateJWTToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("token validation failed")
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeInvalidAuthFormat,
				"Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ContextWalletKey, claims.WalletAddress)
		c.Next()
	}
}
