package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"voting-oracle/internal/clients"
	"voting-oracle/internal/config"
	"voting-oracle/internal/metrics"
	"voting-oracle/internal/models"
	"voting-oracle/internal/repository"

	"github.com/sirupsen/logrus"
)

const (
	retryBaseDelay = 10 * time.Second
	retryMaxDelay  = 10 * time.Minute

	// chainReadTimeout bounds the pre-flight contract reads so a stalled
	// node cannot wedge a worker.
	chainReadTimeout = 15 * time.Second
)

// OutcomeWriter commits a verification outcome to the ledger.
type OutcomeWriter interface {
	Commit(ctx context.Context, request *models.VerificationRequest, isValid bool) (string, error)
}

// FinalityChecker answers contract state questions a worker must settle
// before spending a provider call: does the election exist, and is the pair
// already recorded.
type FinalityChecker interface {
	ElectionExists(ctx context.Context, electionID uint64) (bool, error)
	IsVerificationFinalized(ctx context.Context, wallet string, electionID uint64) (bool, error)
}

// VerifierPool runs a fixed set of workers that claim pending requests,
// call the identity provider and hand the outcome to the ledger writer.
// The repository's conditional claim guarantees each request is processed
// by exactly one worker.
type VerifierPool struct {
	repo     repository.RequestRepository
	verifier clients.Verifier
	writer   OutcomeWriter
	finality FinalityChecker
	cfg      config.OracleConfig
	logger   *logrus.Logger

	// onProcessed receives the end-to-end latency of each terminal request.
	onProcessed func(time.Duration)
	// onStatus receives every request state change for live push.
	onStatus func(*models.VerificationRequest)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewVerifierPool(
	repo repository.RequestRepository,
	verifier clients.Verifier,
	writer OutcomeWriter,
	finality FinalityChecker,
	cfg config.OracleConfig,
	logger *logrus.Logger,
) *VerifierPool {
	return &VerifierPool{
		repo:     repo,
		verifier: verifier,
		writer:   writer,
		finality: finality,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// SetProcessedHook registers a latency observer. Must be called before Start.
func (p *VerifierPool) SetProcessedHook(hook func(time.Duration)) {
	p.onProcessed = hook
}

// SetStatusHook registers a state change observer. Must be called before Start.
func (p *VerifierPool) SetStatusHook(hook func(*models.VerificationRequest)) {
	p.onStatus = hook
}

func (p *VerifierPool) notifyStatus(request *models.VerificationRequest) {
	if p.onStatus != nil {
		p.onStatus(request)
	}
}

// Start recovers requests stranded in processing by a previous crash, then
// launches the workers and the janitor.
func (p *VerifierPool) Start() {
	released, err := p.repo.ReleaseStale(context.Background(), time.Now())
	if err != nil {
		p.logger.WithField("error", err).Error("failed to recover stranded requests")
	} else if released > 0 {
		p.logger.WithField("count", released).Info("recovered stranded requests back to pending")
	}

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	p.wg.Add(1)
	go p.janitorLoop()

	p.logger.WithField("workers", workers).Info("verifier pool started")
}

// Stop signals the workers and waits up to the shutdown grace period for
// in-flight requests to finish.
func (p *VerifierPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.cfg.ShutdownGraceDuration()
	select {
	case <-done:
		p.logger.Info("verifier pool drained")
	case <-time.After(grace):
		p.logger.Warn("verifier pool shutdown grace expired with work in flight")
	}
}

func (p *VerifierPool) workerLoop(id int) {
	defer p.wg.Done()

	log := p.logger.WithField("worker", id)
	interval := p.cfg.PollIntervalDuration()
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			// Drain everything due before sleeping again.
			for p.claimAndProcess(log) {
				select {
				case <-p.stopChan:
					return
				default:
				}
			}
		}
	}
}

// claimAndProcess takes one due request through the pipeline. Returns false
// when the queue is empty so the caller can go back to sleep.
func (p *VerifierPool) claimAndProcess(log *logrus.Entry) bool {
	ctx := context.Background()

	request, err := p.repo.NextPending(ctx, time.Now())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.WithField("error", err).Error("failed to poll pending requests")
		}
		return false
	}

	claimed, err := p.repo.Claim(ctx, request.RequestID)
	if err != nil {
		// Another worker won the claim; not an error.
		if errors.Is(err, repository.ErrClaimLost) {
			return true
		}
		log.WithFields(logrus.Fields{"request_id": request.RequestID, "error": err}).Error("claim failed")
		return false
	}

	p.process(ctx, log, claimed)
	return true
}

func (p *VerifierPool) process(ctx context.Context, log *logrus.Entry, request *models.VerificationRequest) {
	log = log.WithFields(logrus.Fields{
		"request_id":  request.RequestID,
		"wallet":      request.WalletAddress,
		"election_id": request.ElectionID,
	})

	// Outcomes already on chain must not be written twice, and an election
	// the contract does not know cannot be recorded at all.
	if p.finality != nil {
		readCtx, cancel := context.WithTimeout(ctx, chainReadTimeout)
		defer cancel()

		exists, err := p.finality.ElectionExists(readCtx, request.ElectionID)
		if err != nil {
			log.WithField("error", err).Warn("election lookup failed, requeueing")
			p.requeue(ctx, log, request, "election lookup unavailable")
			return
		}
		if !exists {
			p.fail(ctx, log, request, "election does not exist on chain")
			return
		}

		finalized, err := p.finality.IsVerificationFinalized(readCtx, request.WalletAddress, request.ElectionID)
		if err != nil {
			log.WithField("error", err).Warn("on-chain finality check failed, requeueing")
			p.requeue(ctx, log, request, "finality check unavailable")
			return
		}
		if finalized {
			p.fail(ctx, log, request, "verification already finalized on chain")
			return
		}
	}

	verifyTimeout := p.cfg.VerifyTimeoutDuration()
	if verifyTimeout <= 0 {
		verifyTimeout = 30 * time.Second
	}
	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	start := time.Now()
	isValid, err := p.verifier.VerifyIdentity(verifyCtx, request.NIK, request.Name)
	cancel()

	if err != nil {
		metrics.ProviderCallDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		log.WithFields(logrus.Fields{"attempt": request.Attempts + 1, "error": err}).Warn("identity provider call failed")
		p.requeue(ctx, log, request, err.Error())
		return
	}
	metrics.ProviderCallDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	txHash, err := p.writer.Commit(ctx, request, isValid)
	if err != nil {
		if errors.Is(err, clients.ErrLedgerRevert) {
			p.fail(ctx, log, request, "ledger write reverted: "+err.Error())
			return
		}
		// Submission retries are exhausted inside the writer; the request
		// is failed explicitly rather than looped forever.
		p.fail(ctx, log, request, "ledger write failed: "+err.Error())
		return
	}

	if err := p.repo.Complete(ctx, request.RequestID, isValid, txHash); err != nil {
		log.WithField("error", err).Error("failed to mark request completed")
		return
	}
	metrics.RequestsCompleted.WithLabelValues(string(models.RequestStatusCompleted)).Inc()
	if p.onProcessed != nil {
		p.onProcessed(time.Since(request.CreatedAt))
	}
	request.Status = models.RequestStatusCompleted
	request.IsValid = &isValid
	request.TxHash = txHash
	request.UpdatedAt = time.Now()
	p.notifyStatus(request)
	log.WithFields(logrus.Fields{"is_valid": isValid, "tx_hash": txHash}).Info("request completed")
}

// requeue schedules another attempt with exponential backoff, or fails the
// request once the attempt budget is spent.
func (p *VerifierPool) requeue(ctx context.Context, log *logrus.Entry, request *models.VerificationRequest, reason string) {
	attempts := request.Attempts + 1
	maxRetries := p.cfg.MaxRetries
	if request.MaxRetries > 0 {
		maxRetries = request.MaxRetries
	}

	// The budget counts retries, not attempts: attempts may reach
	// maxRetries and still requeue, failing only one past it.
	if attempts > maxRetries {
		p.fail(ctx, log, request, "retries exhausted: "+reason)
		return
	}

	delay := retryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}

	nextAttempt := time.Now().Add(delay)
	if err := p.repo.Requeue(ctx, request.RequestID, attempts, nextAttempt); err != nil {
		log.WithField("error", err).Error("failed to requeue request")
		return
	}
	log.WithFields(logrus.Fields{"attempt": attempts, "next_attempt_in": delay}).Info("request requeued")
}

func (p *VerifierPool) fail(ctx context.Context, log *logrus.Entry, request *models.VerificationRequest, reason string) {
	if err := p.repo.Fail(ctx, request.RequestID, request.Attempts+1, reason); err != nil {
		log.WithField("error", err).Error("failed to mark request failed")
		return
	}
	metrics.RequestsCompleted.WithLabelValues(string(models.RequestStatusFailed)).Inc()
	if p.onProcessed != nil {
		p.onProcessed(time.Since(request.CreatedAt))
	}
	request.Status = models.RequestStatusFailed
	request.Attempts++
	request.FailureReason = reason
	request.UpdatedAt = time.Now()
	p.notifyStatus(request)
	log.WithField("reason", reason).Warn("request failed")
}

// janitorLoop periodically releases stale claims and refreshes the queue
// depth gauge.
func (p *VerifierPool) janitorLoop() {
	defer p.wg.Done()

	interval := p.cfg.StaleClaimDuration() / 2
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			ctx := context.Background()
			cutoff := time.Now().Add(-p.cfg.StaleClaimDuration())
			released, err := p.repo.ReleaseStale(ctx, cutoff)
			if err != nil {
				p.logger.WithField("error", err).Error("stale claim sweep failed")
			} else if released > 0 {
				p.logger.WithField("count", released).Warn("released stale claims")
			}

			depth, err := p.repo.QueueDepth(ctx)
			if err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}
