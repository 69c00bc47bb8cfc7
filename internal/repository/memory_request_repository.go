package repository

import (
	"context"
	"sync"
	"time"

	"voting-oracle/internal/models"
)

// memoryRequestRepository is a mutex-guarded in-memory store implementing the
// same atomicity contract as the postgres repository. Used by tests and by
// deployments that run the oracle without durable storage.
type memoryRequestRepository struct {
	mu       sync.Mutex
	requests map[string]*models.VerificationRequest
	order    []string
}

// NewMemoryRequestRepository creates an in-memory request store.
func NewMemoryRequestRepository() RequestRepository {
	return &memoryRequestRepository{
		requests: make(map[string]*models.VerificationRequest),
	}
}

func (r *memoryRequestRepository) CreateIfAbsent(_ context.Context, req *models.VerificationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.requests {
		if existing.WalletAddress == req.WalletAddress &&
			existing.ElectionID == req.ElectionID &&
			existing.Outstanding() {
			return ErrDuplicateRequest
		}
	}

	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	stored := *req
	r.requests[req.RequestID] = &stored
	r.order = append(r.order, req.RequestID)
	return nil
}

func (r *memoryRequestRepository) Get(_ context.Context, requestID string) (*models.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *memoryRequestRepository) Claim(_ context.Context, requestID string) (*models.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != models.RequestStatusPending {
		return nil, ErrClaimLost
	}

	now := time.Now()
	req.Status = models.RequestStatusProcessing
	req.ClaimedAt = &now
	req.UpdatedAt = now

	copied := *req
	return &copied, nil
}

func (r *memoryRequestRepository) Requeue(_ context.Context, requestID string, attempts int, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != models.RequestStatusProcessing {
		return ErrInvalidTransition
	}

	req.Status = models.RequestStatusPending
	req.Attempts = attempts
	req.NextAttemptAt = nextAttempt
	req.ClaimedAt = nil
	req.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRequestRepository) Complete(_ context.Context, requestID string, isValid bool, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != models.RequestStatusProcessing {
		return ErrInvalidTransition
	}

	req.Status = models.RequestStatusCompleted
	req.IsValid = &isValid
	req.TxHash = txHash
	req.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRequestRepository) Fail(_ context.Context, requestID string, attempts int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != models.RequestStatusProcessing {
		return ErrInvalidTransition
	}

	req.Status = models.RequestStatusFailed
	req.Attempts = attempts
	req.FailureReason = reason
	req.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRequestRepository) NextPending(_ context.Context, now time.Time) (*models.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		req := r.requests[id]
		if req.Status == models.RequestStatusPending && !req.NextAttemptAt.After(now) {
			copied := *req
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryRequestRepository) ReleaseStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released int64
	for _, req := range r.requests {
		if req.Status == models.RequestStatusProcessing &&
			req.ClaimedAt != nil && req.ClaimedAt.Before(cutoff) {
			req.Status = models.RequestStatusPending
			req.ClaimedAt = nil
			req.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (r *memoryRequestRepository) Counts(_ context.Context) (models.RequestCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts models.RequestCounts
	for _, req := range r.requests {
		counts.Total++
		switch req.Status {
		case models.RequestStatusPending:
			counts.Pending++
		case models.RequestStatusProcessing:
			counts.Processing++
		case models.RequestStatusCompleted:
			counts.Completed++
		case models.RequestStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (r *memoryRequestRepository) QueueDepth(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var depth int64
	for _, req := range r.requests {
		if req.Status == models.RequestStatusPending {
			depth++
		}
	}
	return depth, nil
}
