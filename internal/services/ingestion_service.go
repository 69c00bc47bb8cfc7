package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"voting-oracle/internal/metrics"
	"voting-oracle/internal/models"
	"voting-oracle/internal/repository"
	"voting-oracle/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Intake rejection errors, mapped to response codes by the handler layer.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidNIK       = errors.New("national ID must be exactly 16 digits")
	ErrInvalidWallet    = errors.New("wallet address is not a valid EVM address")
	ErrInvalidElection  = errors.New("election ID must be a positive integer")
	ErrInvalidName      = errors.New("name is empty or too long")
	ErrDisallowedChars  = errors.New("name contains disallowed characters")
	ErrDuplicateRequest = errors.New("an active request already exists for this wallet and election")
	ErrShuttingDown     = errors.New("service is shutting down")
)

// RateLimitedError carries the wait hint for a 429 response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// SubmitInput is one verification submission, from the API or the chain
// event listener.
type SubmitInput struct {
	NIK        string
	Name       string
	Wallet     string
	ElectionID uint64
	Source     string // "api" or "chain"
}

// IngestionService validates, rate-limits and persists incoming requests.
type IngestionService struct {
	repo      repository.RequestRepository
	limiter   RateLimiter
	logger    *logrus.Logger
	accepting atomic.Bool
}

func NewIngestionService(repo repository.RequestRepository, limiter RateLimiter, logger *logrus.Logger) *IngestionService {
	s := &IngestionService{repo: repo, limiter: limiter, logger: logger}
	s.accepting.Store(true)
	return s
}

// Submit runs the full intake pipeline. Validation happens before rate
// limiting so malformed spam never consumes quota, and the duplicate check
// is delegated to the repository's atomic insert.
func (s *IngestionService) Submit(ctx context.Context, in SubmitInput) (*models.VerificationRequest, error) {
	if !s.accepting.Load() {
		return nil, ErrShuttingDown
	}

	if err := s.validate(in); err != nil {
		metrics.RequestsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	wallet := utils.NormalizeAddress(in.Wallet)

	// The limiter shields the store from API bursts. Chain-observed events
	// already cost gas and must never be dropped on the floor.
	if s.limiter != nil && in.Source != "chain" {
		allowed, retryAfter := s.limiter.Allow(wallet)
		if !allowed {
			metrics.RequestsRejected.WithLabelValues("rate_limit").Inc()
			s.logger.WithFields(logrus.Fields{
				"wallet":      wallet,
				"retry_after": retryAfter,
			}).Warn("submission rate limited")
			return nil, &RateLimitedError{RetryAfter: retryAfter}
		}
	}

	request := &models.VerificationRequest{
		RequestID:     uuid.New().String(),
		WalletAddress: wallet,
		NIK:           in.NIK,
		Name:          in.Name,
		ElectionID:    in.ElectionID,
		Status:        models.RequestStatusPending,
	}

	if err := s.repo.CreateIfAbsent(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			metrics.RequestsRejected.WithLabelValues("duplicate").Inc()
			return nil, ErrDuplicateRequest
		}
		return nil, fmt.Errorf("failed to persist verification request: %w", err)
	}

	metrics.RequestsSubmitted.WithLabelValues(in.Source).Inc()
	s.logger.WithFields(logrus.Fields{
		"request_id":  request.RequestID,
		"wallet":      wallet,
		"election_id": in.ElectionID,
		"source":      in.Source,
	}).Info("verification request accepted")
	return request, nil
}

func (s *IngestionService) validate(in SubmitInput) error {
	if in.NIK == "" || in.Name == "" || in.Wallet == "" {
		return ErrMissingFields
	}
	if !utils.IsValidNIK(in.NIK) {
		return ErrInvalidNIK
	}
	if !utils.IsEvmAddress(in.Wallet) {
		return ErrInvalidWallet
	}
	if in.ElectionID == 0 {
		return ErrInvalidElection
	}
	if !utils.IsValidName(in.Name) {
		return ErrInvalidName
	}
	if utils.HasDisallowedCharacters(in.Name) {
		return ErrDisallowedChars
	}
	return nil
}

// StopAccepting rejects new submissions while in-flight work drains.
func (s *IngestionService) StopAccepting() {
	s.accepting.Store(false)
}
