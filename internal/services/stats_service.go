package services

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"voting-oracle/internal/config"
	"voting-oracle/internal/dto"
	"voting-oracle/internal/repository"

	"github.com/sirupsen/logrus"
)

const latencyWindow = 512

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsService aggregates queue counts, processing latency and dependency
// health for the operational endpoints.
type StatsService struct {
	repo     repository.RequestRepository
	chain    Pinger
	provider Pinger
	db       Pinger
	cfg      config.OracleConfig
	logger   *logrus.Logger

	startedAt time.Time

	mu        sync.Mutex
	latencies []time.Duration
	cursor    int
	filled    bool
}

func NewStatsService(
	repo repository.RequestRepository,
	chain Pinger,
	provider Pinger,
	db Pinger,
	cfg config.OracleConfig,
	logger *logrus.Logger,
) *StatsService {
	return &StatsService{
		repo:      repo,
		chain:     chain,
		provider:  provider,
		db:        db,
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
		latencies: make([]time.Duration, latencyWindow),
	}
}

// RecordLatency stores one end-to-end processing duration in the ring.
func (s *StatsService) RecordLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[s.cursor] = d
	s.cursor = (s.cursor + 1) % latencyWindow
	if s.cursor == 0 {
		s.filled = true
	}
}

// Stats builds the aggregate statistics snapshot.
func (s *StatsService) Stats(ctx context.Context) (*dto.StatsResponse, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, err
	}

	avg, p95, samples := s.latencySummary()

	depth, err := s.repo.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &dto.StatsResponse{
		Overview: dto.OverviewStats{
			TotalRequests:      counts.Total,
			PendingRequests:    counts.Pending,
			ProcessingRequests: counts.Processing,
			CompletedRequests:  counts.Completed,
			FailedRequests:     counts.Failed,
		},
		Performance: dto.PerformanceStats{
			QueueDepth:   depth,
			AvgLatencyMs: float64(avg.Microseconds()) / 1000,
			P95LatencyMs: float64(p95.Microseconds()) / 1000,
			SampleCount:  samples,
		},
		System: dto.SystemStats{
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
			Goroutines:    runtime.NumGoroutine(),
			HeapAllocMB:   mem.HeapAlloc / (1024 * 1024),
		},
	}, nil
}

func (s *StatsService) latencySummary() (avg, p95 time.Duration, samples int) {
	s.mu.Lock()
	n := s.cursor
	if s.filled {
		n = latencyWindow
	}
	sample := make([]time.Duration, n)
	copy(sample, s.latencies[:n])
	s.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}

	var sum time.Duration
	for _, d := range sample {
		sum += d
	}
	sort.Slice(sample, func(i, j int) bool { return sample[i] < sample[j] })

	idx := (n * 95) / 100
	if idx >= n {
		idx = n - 1
	}
	return sum / time.Duration(n), sample[idx], n
}

// Health probes every dependency and rolls the results into a single signal.
// A failed dependency degrades the report; it never errors.
func (s *StatsService) Health(ctx context.Context) *dto.HealthResponse {
	checks := make(map[string]string)
	status := dto.HealthHealthy

	probe := func(name string, p Pinger) {
		if p == nil {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(probeCtx); err != nil {
			checks[name] = "unreachable"
			status = dto.HealthUnhealthy
			s.logger.WithFields(logrus.Fields{"check": name, "error": err}).Warn("health probe failed")
			return
		}
		checks[name] = "ok"
	}

	probe("database", s.db)
	probe("chain", s.chain)
	probe("identity_provider", s.provider)

	var backlog int64
	if depth, err := s.repo.QueueDepth(ctx); err == nil {
		backlog = depth
		if s.cfg.BacklogThreshold > 0 && depth > int64(s.cfg.BacklogThreshold) && status == dto.HealthHealthy {
			status = dto.HealthDegraded
			checks["backlog"] = "above threshold"
		}
	} else {
		checks["backlog"] = "unknown"
		if status == dto.HealthHealthy {
			status = dto.HealthDegraded
		}
	}

	return &dto.HealthResponse{
		Status:  status,
		Checks:  checks,
		Backlog: backlog,
	}
}
