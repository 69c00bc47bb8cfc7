package handlers

import (
	"errors"
	"net/http"

	"voting-oracle/internal/dto"
	"voting-oracle/internal/repository"
	"voting-oracle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StatusHandler serves request lookups and the operational endpoints.
type StatusHandler struct {
	repo   repository.RequestRepository
	stats  *services.StatsService
	logger *logrus.Logger
}

func NewStatusHandler(repo repository.RequestRepository, stats *services.StatsService, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{repo: repo, stats: stats, logger: logger}
}

// Status handles GET /api/verification-status/:requestId. A malformed ID is
// a 400, not a 404: the two cases must stay distinguishable to callers.
// Only the canonical lowercase v4 form is accepted; uuid.Parse alone would
// also admit braced, URN and undashed variants.
func (h *StatusHandler) Status(c *gin.Context) {
	requestID := c.Param("requestId")
	parsed, err := uuid.Parse(requestID)
	if err != nil || parsed.String() != requestID || parsed.Version() != 4 {
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidRequestID,
			"Request ID must be a canonical UUID"))
		return
	}

	request, err := h.repo.Get(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewError(dto.CodeRequestNotFound,
				"No verification request with this ID"))
			return
		}
		h.logger.WithFields(logrus.Fields{"request_id": requestID, "error": err}).Error("status lookup failed")
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalError, "Internal error"))
		return
	}

	c.JSON(http.StatusOK, dto.NewStatusResponse(request))
}

// Stats handles GET /api/stats.
func (h *StatusHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithField("error", err).Error("stats aggregation failed")
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalError, "Internal error"))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health handles GET /api/health. Unhealthy maps to 503 so load balancers
// can act on the status code alone.
func (h *StatusHandler) Health(c *gin.Context) {
	health := h.stats.Health(c.Request.Context())
	code := http.StatusOK
	if health.Status == dto.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}
