package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"voting-oracle/internal/clients"
	"voting-oracle/internal/config"
	"voting-oracle/internal/models"
)

// scriptedChain implements clients.ChainClient with per-call scripting for
// the submit and confirm paths.
type scriptedChain struct {
	submitErrs     []error
	submitCalls    int
	submitDeadline bool
	confirmErr     error
}

func (s *scriptedChain) SubmitVerification(ctx context.Context, _ string, _ uint64, _ bool) (string, error) {
	s.submitCalls++
	_, s.submitDeadline = ctx.Deadline()
	if s.submitCalls <= len(s.submitErrs) {
		if err := s.submitErrs[s.submitCalls-1]; err != nil {
			return "", err
		}
	}
	return "0xtxhash", nil
}

func (s *scriptedChain) WaitConfirmed(context.Context, string) error { return s.confirmErr }

func (s *scriptedChain) IsVerificationFinalized(context.Context, string, uint64) (bool, error) {
	return false, nil
}

func (s *scriptedChain) ElectionExists(context.Context, uint64) (bool, error) { return true, nil }

func (s *scriptedChain) FilterVerificationRequests(context.Context, uint64, uint64) ([]clients.VerificationRequestedEvent, error) {
	return nil, nil
}

func (s *scriptedChain) LatestBlock(context.Context) (uint64, error) { return 0, nil }

func (s *scriptedChain) Ping(context.Context) error { return nil }

func (s *scriptedChain) SignerAddress() string { return "0xsigner" }

func (s *scriptedChain) SignerBalance(context.Context) (*big.Int, error) { return big.NewInt(0), nil }

func (s *scriptedChain) Close() {}

func writerRequest() *models.VerificationRequest {
	return &models.VerificationRequest{
		RequestID:     "req-1",
		WalletAddress: "0x1234567890abcdef1234567890abcdef12345678",
		ElectionID:    7,
	}
}

func TestCommitSuccess(t *testing.T) {
	chain := &scriptedChain{}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	txHash, err := writer.Commit(context.Background(), writerRequest(), true)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if txHash != "0xtxhash" {
		t.Fatalf("txHash = %s, want 0xtxhash", txHash)
	}
	if chain.submitCalls != 1 {
		t.Fatalf("submit called %d times, want 1", chain.submitCalls)
	}
	if !chain.submitDeadline {
		t.Fatal("submission must run under a deadline")
	}
}

func TestCommitRetriesTransientSubmitError(t *testing.T) {
	chain := &scriptedChain{submitErrs: []error{errors.New("nonce too low")}}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	txHash, err := writer.Commit(context.Background(), writerRequest(), true)
	if err != nil {
		t.Fatalf("commit should succeed on second attempt: %v", err)
	}
	if txHash != "0xtxhash" {
		t.Fatalf("txHash = %s, want 0xtxhash", txHash)
	}
	if chain.submitCalls != 2 {
		t.Fatalf("submit called %d times, want 2", chain.submitCalls)
	}
}

func TestCommitRevertAbortsImmediately(t *testing.T) {
	chain := &scriptedChain{submitErrs: []error{clients.ErrLedgerRevert}}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	_, err := writer.Commit(context.Background(), writerRequest(), true)
	if !errors.Is(err, clients.ErrLedgerRevert) {
		t.Fatalf("got %v, want ErrLedgerRevert", err)
	}
	if chain.submitCalls != 1 {
		t.Fatalf("submit called %d times, want 1 (no retry on revert)", chain.submitCalls)
	}
}

func TestCommitRawRevertMessageAbortsImmediately(t *testing.T) {
	// A node that reports the revert as a plain error string, without the
	// sentinel wrapping, must not be retried either.
	chain := &scriptedChain{submitErrs: []error{errors.New("execution reverted: already finalized")}}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	_, err := writer.Commit(context.Background(), writerRequest(), true)
	if err == nil {
		t.Fatal("expected an error")
	}
	if chain.submitCalls != 1 {
		t.Fatalf("submit called %d times, want 1 (no retry on revert)", chain.submitCalls)
	}
}

func TestCommitCancelledDuringBackoff(t *testing.T) {
	chain := &scriptedChain{submitErrs: []error{errors.New("connection reset"), errors.New("connection reset")}}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := writer.Commit(ctx, writerRequest(), true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
	if chain.submitCalls != 1 {
		t.Fatalf("submit called %d times, want 1 before cancellation", chain.submitCalls)
	}
}

func TestCommitConfirmationRevert(t *testing.T) {
	chain := &scriptedChain{confirmErr: clients.ErrLedgerRevert}
	writer := NewLedgerWriter(chain, config.ChainConfig{ConfirmTimeout: 10}, testLogger())

	txHash, err := writer.Commit(context.Background(), writerRequest(), true)
	if !errors.Is(err, clients.ErrLedgerRevert) {
		t.Fatalf("got %v, want wrapped ErrLedgerRevert", err)
	}
	if txHash != "0xtxhash" {
		t.Fatalf("txHash = %s, want the submitted hash even on failure", txHash)
	}
}
