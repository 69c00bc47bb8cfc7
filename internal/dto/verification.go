package dto

import (
	"time"

	"voting-oracle/internal/models"
)

// Stable error codes returned to API callers.
const (
	CodeMissingRequiredFields = "MISSING_REQUIRED_FIELDS"
	CodeInvalidNIKFormat      = "INVALID_NIK_FORMAT"
	CodeInvalidWalletAddress  = "INVALID_WALLET_ADDRESS"
	CodeInvalidElectionID     = "INVALID_ELECTION_ID"
	CodeInvalidName           = "INVALID_NAME"
	CodeInvalidCharacters     = "INVALID_CHARACTERS"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeInvalidJSON           = "INVALID_JSON"
	CodeMissingAuthorization  = "MISSING_AUTHORIZATION"
	CodeInvalidAuthFormat     = "INVALID_AUTHORIZATION_FORMAT"
	CodeWalletMismatch        = "WALLET_ADDRESS_MISMATCH"
	CodeDuplicateRequest      = "DUPLICATE_REQUEST"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequestID      = "INVALID_REQUEST_ID_FORMAT"
	CodeRequestNotFound       = "REQUEST_NOT_FOUND"
	CodeInternalError         = "INTERNAL_ERROR"
)

// VerifyRequest is the POST /api/verify payload.
type VerifyRequest struct {
	NIK           string `json:"nik"`
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
	ElectionID    int64  `json:"electionId"`
}

// VerifyResponse is returned with 202 on acceptance.
type VerifyResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error envelope.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Success: false, Code: code, Message: message}
}

// StatusResponse is the lifecycle projection returned by
// GET /api/verification-status/:id. The NIK is always masked.
type StatusResponse struct {
	RequestID     string     `json:"requestId"`
	WalletAddress string     `json:"walletAddress"`
	NIK           string     `json:"nik"`
	Name          string     `json:"name"`
	ElectionID    uint64     `json:"electionId"`
	Status        string     `json:"status"`
	IsValid       *bool      `json:"isValid"`
	Attempts      int        `json:"attempts"`
	TxHash        string     `json:"transactionHash,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// NewStatusResponse projects a stored request for API callers.
func NewStatusResponse(req *models.VerificationRequest) StatusResponse {
	return StatusResponse{
		RequestID:     req.RequestID,
		WalletAddress: req.WalletAddress,
		NIK:           req.MaskedNIK(),
		Name:          req.Name,
		ElectionID:    req.ElectionID,
		Status:        string(req.Status),
		IsValid:       req.IsValid,
		Attempts:      req.Attempts,
		TxHash:        req.TxHash,
		FailureReason: req.FailureReason,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
}

// StatsResponse is the GET /api/stats payload.
type StatsResponse struct {
	Overview    OverviewStats    `json:"overview"`
	Performance PerformanceStats `json:"performance"`
	System      SystemStats      `json:"system"`
}

// OverviewStats aggregate request counters.
type OverviewStats struct {
	TotalRequests      int64 `json:"totalRequests"`
	PendingRequests    int64 `json:"pendingRequests"`
	ProcessingRequests int64 `json:"processingRequests"`
	CompletedRequests  int64 `json:"completedRequests"`
	FailedRequests     int64 `json:"failedRequests"`
}

// PerformanceStats queue depth and recent processing latencies.
type PerformanceStats struct {
	QueueDepth   int64   `json:"queueDepth"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
	SampleCount  int     `json:"sampleCount"`
}

// SystemStats host gauges.
type SystemStats struct {
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Goroutines    int    `json:"goroutines"`
	HeapAllocMB   uint64 `json:"heapAllocMb"`
}

// HealthStatus values for GET /api/health.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthResponse is the GET /api/health payload.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Backlog int64             `json:"backlog"`
}
