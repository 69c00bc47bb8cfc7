package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voting-oracle/internal/clients"
	"voting-oracle/internal/config"
	"voting-oracle/internal/metrics"
	"voting-oracle/internal/models"

	"github.com/sirupsen/logrus"
)

// LedgerWriter commits verification outcomes to the election contract and
// waits for confirmation.
type LedgerWriter struct {
	chain          clients.ChainClient
	submitTimeout  time.Duration
	confirmTimeout time.Duration
	submitRetries  int
	logger         *logrus.Logger
}

func NewLedgerWriter(chain clients.ChainClient, cfg config.ChainConfig, logger *logrus.Logger) *LedgerWriter {
	submitTimeout := cfg.SubmitTimeoutDuration()
	if submitTimeout <= 0 {
		submitTimeout = 45 * time.Second
	}
	confirmTimeout := cfg.ConfirmTimeoutDuration()
	if confirmTimeout <= 0 {
		confirmTimeout = 180 * time.Second
	}
	return &LedgerWriter{
		chain:          chain,
		submitTimeout:  submitTimeout,
		confirmTimeout: confirmTimeout,
		submitRetries:  3,
		logger:         logger,
	}
}

// Commit submits recordVerification and blocks until the transaction is
// confirmed. Transient submission errors are retried in place with a short
// backoff; a contract revert aborts immediately since retrying an impossible
// write cannot succeed.
func (w *LedgerWriter) Commit(ctx context.Context, request *models.VerificationRequest, isValid bool) (string, error) {
	var txHash string
	var err error

	backoff := 2 * time.Second
	for attempt := 1; attempt <= w.submitRetries; attempt++ {
		metrics.LedgerWriteAttempts.Inc()
		// Each attempt carries its own deadline: a stalled node must not
		// hold a worker (and the nonce mutex) indefinitely.
		submitCtx, cancel := context.WithTimeout(ctx, w.submitTimeout)
		txHash, err = w.chain.SubmitVerification(submitCtx, request.WalletAddress, request.ElectionID, isValid)
		cancel()
		if err == nil {
			break
		}
		if !clients.IsTransientSubmitError(err) {
			metrics.LedgerWriteFailures.WithLabelValues("revert").Inc()
			return "", err
		}
		metrics.LedgerWriteFailures.WithLabelValues("transient").Inc()
		w.logger.WithFields(logrus.Fields{
			"request_id": request.RequestID,
			"attempt":    attempt,
			"error":      err,
		}).Warn("verification transaction submission failed")

		if attempt == w.submitRetries {
			return "", fmt.Errorf("failed to submit verification after %d attempts: %w", w.submitRetries, err)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	confirmCtx, cancel := context.WithTimeout(ctx, w.confirmTimeout)
	defer cancel()

	start := time.Now()
	if err := w.chain.WaitConfirmed(confirmCtx, txHash); err != nil {
		if errors.Is(err, clients.ErrLedgerRevert) {
			metrics.LedgerWriteFailures.WithLabelValues("revert").Inc()
		} else {
			metrics.LedgerWriteFailures.WithLabelValues("confirm_timeout").Inc()
		}
		return txHash, fmt.Errorf("verification transaction %s not confirmed: %w", txHash, err)
	}
	metrics.LedgerConfirmDuration.Observe(time.Since(start).Seconds())

	w.logger.WithFields(logrus.Fields{
		"request_id": request.RequestID,
		"tx_hash":    txHash,
		"is_valid":   isValid,
		"confirm_ms": time.Since(start).Milliseconds(),
	}).Info("verification recorded on chain")
	return txHash, nil
}
