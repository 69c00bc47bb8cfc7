package models

import (
	"time"
)

// RequestStatus verification request lifecycle status.
// Transitions form a strict DAG: pending -> processing -> {completed, failed}.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"    // accepted, waiting for a worker claim
	RequestStatusProcessing RequestStatus = "processing" // claimed by exactly one worker
	RequestStatusCompleted  RequestStatus = "completed"  // verified and recorded on-chain
	RequestStatusFailed     RequestStatus = "failed"     // terminal failure with a reason
)

// IsTerminal reports whether no further transition is permitted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

// CanTransitionTo reports whether the status DAG permits moving to next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusProcessing
	case RequestStatusProcessing:
		return next == RequestStatusCompleted || next == RequestStatusFailed || next == RequestStatusPending
	default:
		return false
	}
}

// VerificationRequest is the central lifecycle entity of the oracle.
// Rows are never deleted; terminal rows are retained for audit.
type VerificationRequest struct {
	RequestID     string        `json:"request_id" gorm:"primaryKey;size:36"`
	WalletAddress string        `json:"wallet_address" gorm:"size:42;not null;index:idx_wallet_election"`
	NIK           string        `json:"-" gorm:"column:nik;size:16;not null"`
	Name          string        `json:"name" gorm:"size:100;not null"`
	ElectionID    uint64        `json:"election_id" gorm:"not null;index:idx_wallet_election"`
	Status        RequestStatus `json:"status" gorm:"size:16;not null;default:pending;index"`
	IsValid       *bool         `json:"is_valid"`
	Attempts      int           `json:"attempts" gorm:"default:0"`
	MaxRetries    int           `json:"-" gorm:"default:3"`
	TxHash        string        `json:"transaction_hash" gorm:"size:66"`
	FailureReason string        `json:"failure_reason,omitempty" gorm:"type:text"`
	NextAttemptAt time.Time     `json:"-" gorm:"index"`
	ClaimedAt     *time.Time    `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// MaskedNIK returns the NIK with the middle digits blanked.
// The raw NIK is used only for the provider call and is never re-exposed.
func (r *VerificationRequest) MaskedNIK() string {
	if len(r.NIK) != 16 {
		return "****"
	}
	return r.NIK[:4] + "**********" + r.NIK[14:]
}

// Outstanding reports whether the request blocks a new submission for the
// same (wallet, election) pair.
func (r *VerificationRequest) Outstanding() bool {
	return !r.Status.IsTerminal()
}

// RequestCounts aggregate counters over the request store.
// Processing rows are counted separately from pending, so
// Completed+Failed+Pending <= Total always holds.
type RequestCounts struct {
	Total      int64 `json:"total_requests"`
	Pending    int64 `json:"pending_requests"`
	Processing int64 `json:"processing_requests"`
	Completed  int64 `json:"completed_requests"`
	Failed     int64 `json:"failed_requests"`
}
