package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"voting-oracle/internal/dto"
	"voting-oracle/internal/services"
	"voting-oracle/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// VerificationHandler exposes the submission endpoint.
type VerificationHandler struct {
	ingestion *services.IngestionService
	logger    *logrus.Logger
}

func NewVerificationHandler(ingestion *services.IngestionService, logger *logrus.Logger) *VerificationHandler {
	return &VerificationHandler{ingestion: ingestion, logger: logger}
}

// Verify handles POST /api/verify. Acceptance is 202: processing happens
// asynchronously and the caller polls the status endpoint.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Oversized bodies are a validation failure like any other.
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, dto.NewError(dto.CodePayloadTooLarge,
				"Request body exceeds the size limit"))
			return
		}
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidJSON,
			"Request body is not valid JSON"))
		return
	}

	// The token wallet must match the wallet being verified.
	authedWallet := c.GetString("wallet_address")
	if authedWallet != "" && req.WalletAddress != "" &&
		utils.NormalizeAddress(req.WalletAddress) != authedWallet {
		c.JSON(http.StatusForbidden, dto.NewError(dto.CodeWalletMismatch,
			"Token wallet does not match the submitted wallet address"))
		return
	}

	if req.ElectionID < 0 {
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidElectionID,
			"Election ID must be a positive integer"))
		return
	}

	request, err := h.ingestion.Submit(c.Request.Context(), services.SubmitInput{
		NIK:        req.NIK,
		Name:       req.Name,
		Wallet:     req.WalletAddress,
		ElectionID: uint64(req.ElectionID),
		Source:     "api",
	})
	if err != nil {
		h.respondSubmitError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.VerifyResponse{
		RequestID: request.RequestID,
		Status:    string(request.Status),
	})
}

func (h *VerificationHandler) respondSubmitError(c *gin.Context, err error) {
	var rateLimited *services.RateLimitedError
	if errors.As(err, &rateLimited) {
		c.Header("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, dto.NewError(dto.CodeRateLimitExceeded,
			"Too many submissions for this wallet, slow down"))
		return
	}

	switch {
	case errors.Is(err, services.ErrMissingFields):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeMissingRequiredFields,
			"nik, name and walletAddress are required"))
	case errors.Is(err, services.ErrInvalidNIK):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidNIKFormat,
			"NIK must be exactly 16 digits"))
	case errors.Is(err, services.ErrInvalidWallet):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidWalletAddress,
			"Wallet address is not a valid EVM address"))
	case errors.Is(err, services.ErrInvalidElection):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidElectionID,
			"Election ID must be a positive integer"))
	case errors.Is(err, services.ErrInvalidName):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidName,
			"Name must be between 1 and 100 characters"))
	case errors.Is(err, services.ErrDisallowedChars):
		c.JSON(http.StatusBadRequest, dto.NewError(dto.CodeInvalidCharacters,
			"Name contains disallowed characters"))
	case errors.Is(err, services.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, dto.NewError(dto.CodeDuplicateRequest,
			"An active request already exists for this wallet and election"))
	case errors.Is(err, services.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, dto.NewError(dto.CodeInternalError,
			"Service is shutting down"))
	default:
		h.logger.WithField("error", err).Error("submission failed")
		c.JSON(http.StatusInternalServerError, dto.NewError(dto.CodeInternalError,
			"Internal error"))
	}
}
