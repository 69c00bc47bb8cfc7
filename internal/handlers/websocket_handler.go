package handlers

import (
	"net/http"

	"voting-oracle/internal/dto"
	"voting-oracle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler upgrades authenticated clients onto the status push feed.
type WebSocketHandler struct {
	push   *services.PushService
	logger *logrus.Logger
}

func NewWebSocketHandler(push *services.PushService, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{push: push, logger: logger}
}

// Subscribe handles GET /api/ws. Browsers cannot set headers on WebSocket
// upgrades, so the token is accepted as a query parameter as well.
func (h *WebSocketHandler) Subscribe(c *gin.Context) {
	wallet := c.GetString("wallet_address")
	if wallet == "" {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeMissingAuthorization,
				"Provide a bearer token or token query parameter"))
			return
		}
		claims, err := ValidateJWTToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, dto.NewError(dto.CodeInvalidAuthFormat,
				"Invalid or expired token"))
			return
		}
		wallet = claims.WalletAddress
	}

	h.logger.WithField("wallet", wallet).Debug("websocket subscription requested")
	h.push.HandleWebSocket(c.Writer, c.Request, wallet)
}
