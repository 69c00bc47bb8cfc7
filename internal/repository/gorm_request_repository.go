package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voting-oracle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormRequestRepository is the postgres-backed store. Check-then-insert runs
// under a per-(wallet,election) mutex so concurrent submissions for the same
// pair cannot both pass the dedup check; single-row transitions rely on
// conditional UPDATEs and RowsAffected.
type gormRequestRepository struct {
	db *gorm.DB

	pairLocks map[string]*sync.Mutex
	lockMutex sync.RWMutex
}

// NewRequestRepository creates the gorm-backed request store.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &gormRequestRepository{
		db:        db,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// getOrCreatePairLock returns the mutex guarding one (wallet, election) pair.
func (r *gormRequestRepository) getOrCreatePairLock(wallet string, electionID uint64) *sync.Mutex {
	key := fmt.Sprintf("%s:%d", wallet, electionID)

	r.lockMutex.RLock()
	lock, exists := r.pairLocks[key]
	r.lockMutex.RUnlock()

	if exists {
		return lock
	}

	r.lockMutex.Lock()
	defer r.lockMutex.Unlock()

	if lock, exists := r.pairLocks[key]; exists {
		return lock
	}

	lock = &sync.Mutex{}
	r.pairLocks[key] = lock
	return lock
}

func (r *gormRequestRepository) CreateIfAbsent(ctx context.Context, req *models.VerificationRequest) error {
	lock := r.getOrCreatePairLock(req.WalletAddress, req.ElectionID)
	lock.Lock()
	defer lock.Unlock()

	var outstanding int64
	err := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("wallet_address = ? AND election_id = ? AND status IN ?",
			req.WalletAddress, req.ElectionID,
			[]models.RequestStatus{models.RequestStatusPending, models.RequestStatusProcessing}).
		Count(&outstanding).Error
	if err != nil {
		return fmt.Errorf("failed to check outstanding requests: %w", err)
	}
	if outstanding > 0 {
		return ErrDuplicateRequest
	}

	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create verification request: %w", err)
	}
	return nil
}

func (r *gormRequestRepository) Get(ctx context.Context, requestID string) (*models.VerificationRequest, error) {
	var req models.VerificationRequest
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query verification request: %w", err)
	}
	return &req, nil
}

func (r *gormRequestRepository) Claim(ctx context.Context, requestID string) (*models.VerificationRequest, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("request_id = ? AND status = ?", requestID, models.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":     models.RequestStatusProcessing,
			"claimed_at": &now,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrClaimLost
	}
	return r.Get(ctx, requestID)
}

func (r *gormRequestRepository) Requeue(ctx context.Context, requestID string, attempts int, nextAttempt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("request_id = ? AND status = ?", requestID, models.RequestStatusProcessing).
		Updates(map[string]interface{}{
			"status":          models.RequestStatusPending,
			"attempts":        attempts,
			"next_attempt_at": nextAttempt,
			"claimed_at":      nil,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *gormRequestRepository) Complete(ctx context.Context, requestID string, isValid bool, txHash string) error {
	result := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("request_id = ? AND status = ?", requestID, models.RequestStatusProcessing).
		Updates(map[string]interface{}{
			"status":     models.RequestStatusCompleted,
			"is_valid":   isValid,
			"tx_hash":    txHash,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *gormRequestRepository) Fail(ctx context.Context, requestID string, attempts int, reason string) error {
	result := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("request_id = ? AND status = ?", requestID, models.RequestStatusProcessing).
		Updates(map[string]interface{}{
			"status":         models.RequestStatusFailed,
			"attempts":       attempts,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark request failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *gormRequestRepository) NextPending(ctx context.Context, now time.Time) (*models.VerificationRequest, error) {
	var req models.VerificationRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.RequestStatusPending, now).
		Order("created_at ASC").
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		First(&req).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending request: %w", err)
	}
	return &req, nil
}

func (r *gormRequestRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("status = ? AND claimed_at < ?", models.RequestStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     models.RequestStatusPending,
			"claimed_at": nil,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormRequestRepository) Counts(ctx context.Context) (models.RequestCounts, error) {
	var counts models.RequestCounts

	type statusCount struct {
		Status models.RequestStatus
		N      int64
	}
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count requests: %w", err)
	}

	for _, row := range rows {
		counts.Total += row.N
		switch row.Status {
		case models.RequestStatusPending:
			counts.Pending = row.N
		case models.RequestStatusProcessing:
			counts.Processing = row.N
		case models.RequestStatusCompleted:
			counts.Completed = row.N
		case models.RequestStatusFailed:
			counts.Failed = row.N
		}
	}
	return counts, nil
}

func (r *gormRequestRepository) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := r.db.WithContext(ctx).Model(&models.VerificationRequest{}).
		Where("status = ?", models.RequestStatusPending).
		Count(&depth).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return depth, nil
}
