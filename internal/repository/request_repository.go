package repository

import (
	"context"
	"errors"
	"time"

	"voting-oracle/internal/models"
)

var (
	// ErrDuplicateRequest an outstanding request already exists for the
	// same (wallet, election) pair.
	ErrDuplicateRequest = errors.New("duplicate verification request")

	// ErrNotFound no request with the given id exists.
	ErrNotFound = errors.New("verification request not found")

	// ErrClaimLost another worker won the pending->processing transition.
	ErrClaimLost = errors.New("claim lost to another worker")

	// ErrInvalidTransition the status DAG forbids the requested move.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RequestRepository is the single source of truth for verification request
// lifecycle state. All mutations are atomic per request id; CreateIfAbsent is
// additionally atomic per (wallet, election) pair.
type RequestRepository interface {
	// CreateIfAbsent persists a new pending request unless an outstanding
	// (pending/processing) request exists for the same wallet+election pair.
	// A prior terminal request for the pair does not block.
	CreateIfAbsent(ctx context.Context, req *models.VerificationRequest) error

	// Get returns the request by id, or ErrNotFound.
	Get(ctx context.Context, requestID string) (*models.VerificationRequest, error)

	// Claim atomically transitions pending -> processing. Exactly one
	// concurrent caller wins; the rest get ErrClaimLost.
	Claim(ctx context.Context, requestID string) (*models.VerificationRequest, error)

	// Requeue returns a processing request to pending with the given attempt
	// count and backoff eligibility time.
	Requeue(ctx context.Context, requestID string, attempts int, nextAttempt time.Time) error

	// Complete atomically transitions processing -> completed, recording the
	// provider verdict and ledger transaction hash.
	Complete(ctx context.Context, requestID string, isValid bool, txHash string) error

	// Fail atomically transitions processing -> failed with a reason.
	Fail(ctx context.Context, requestID string, attempts int, reason string) error

	// NextPending returns the oldest pending request whose backoff has
	// elapsed, or ErrNotFound when the queue is empty.
	NextPending(ctx context.Context, now time.Time) (*models.VerificationRequest, error)

	// ReleaseStale reverts processing rows claimed before the cutoff back to
	// pending. Used on startup and shutdown so a crashed or stopped instance
	// never strands a request.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)

	// Counts returns aggregate counters by status.
	Counts(ctx context.Context) (models.RequestCounts, error)

	// QueueDepth returns the number of claimable pending requests.
	QueueDepth(ctx context.Context) (int64, error)
}
