package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"voting-oracle/internal/config"
	"voting-oracle/internal/dto"
	"voting-oracle/internal/models"
	"voting-oracle/internal/repository"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestStatsLatencySummary(t *testing.T) {
	svc := NewStatsService(repository.NewMemoryRequestRepository(), nil, nil, nil, config.OracleConfig{}, testLogger())

	// 100 samples of 1..100ms: avg 50.5ms, p95 picks index 95 (96ms).
	for i := 1; i <= 100; i++ {
		svc.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Performance.SampleCount != 100 {
		t.Fatalf("samples = %d, want 100", stats.Performance.SampleCount)
	}
	if stats.Performance.AvgLatencyMs != 50.5 {
		t.Fatalf("avg = %v, want 50.5", stats.Performance.AvgLatencyMs)
	}
	if stats.Performance.P95LatencyMs != 96 {
		t.Fatalf("p95 = %v, want 96", stats.Performance.P95LatencyMs)
	}
}

func TestStatsLatencyRingWraps(t *testing.T) {
	svc := NewStatsService(repository.NewMemoryRequestRepository(), nil, nil, nil, config.OracleConfig{}, testLogger())

	for i := 0; i < latencyWindow+50; i++ {
		svc.RecordLatency(time.Millisecond)
	}

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Performance.SampleCount != latencyWindow {
		t.Fatalf("samples = %d, want %d after wrap", stats.Performance.SampleCount, latencyWindow)
	}
}

func TestStatsCounts(t *testing.T) {
	repo := repository.NewMemoryRequestRepository()
	ctx := context.Background()

	req := &models.VerificationRequest{
		RequestID:     "req-1",
		WalletAddress: "0xaaa",
		NIK:           "3171012501900001",
		Name:          "Budi Santoso",
		ElectionID:    1,
		Status:        models.RequestStatusPending,
	}
	if err := repo.CreateIfAbsent(ctx, req); err != nil {
		t.Fatal(err)
	}

	svc := NewStatsService(repo, nil, nil, nil, config.OracleConfig{}, testLogger())
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Overview.TotalRequests != 1 || stats.Overview.PendingRequests != 1 {
		t.Fatalf("unexpected overview: %+v", stats.Overview)
	}
	if stats.Performance.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1", stats.Performance.QueueDepth)
	}
}

func TestHealthAllOK(t *testing.T) {
	svc := NewStatsService(repository.NewMemoryRequestRepository(),
		fakePinger{}, fakePinger{}, fakePinger{}, config.OracleConfig{BacklogThreshold: 100}, testLogger())

	health := svc.Health(context.Background())
	if health.Status != dto.HealthHealthy {
		t.Fatalf("status = %s, want healthy", health.Status)
	}
	for _, name := range []string{"database", "chain", "identity_provider"} {
		if health.Checks[name] != "ok" {
			t.Fatalf("check %s = %q, want ok", name, health.Checks[name])
		}
	}
}

func TestHealthUnreachableDependency(t *testing.T) {
	svc := NewStatsService(repository.NewMemoryRequestRepository(),
		fakePinger{}, fakePinger{err: errors.New("connection refused")}, fakePinger{},
		config.OracleConfig{BacklogThreshold: 100}, testLogger())

	health := svc.Health(context.Background())
	if health.Status != dto.HealthUnhealthy {
		t.Fatalf("status = %s, want unhealthy", health.Status)
	}
	if health.Checks["identity_provider"] != "unreachable" {
		t.Fatalf("provider check = %q, want unreachable", health.Checks["identity_provider"])
	}
}

func TestHealthDegradedOnBacklog(t *testing.T) {
	repo := repository.NewMemoryRequestRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		req := &models.VerificationRequest{
			RequestID:     string(rune('a' + i)),
			WalletAddress: "0xaaa" + string(rune('a'+i)),
			NIK:           "3171012501900001",
			Name:          "Budi Santoso",
			ElectionID:    1,
			Status:        models.RequestStatusPending,
		}
		if err := repo.CreateIfAbsent(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewStatsService(repo, fakePinger{}, fakePinger{}, fakePinger{},
		config.OracleConfig{BacklogThreshold: 2}, testLogger())

	health := svc.Health(ctx)
	if health.Status != dto.HealthDegraded {
		t.Fatalf("status = %s, want degraded", health.Status)
	}
	if health.Backlog != 3 {
		t.Fatalf("backlog = %d, want 3", health.Backlog)
	}
	if health.Checks["backlog"] != "above threshold" {
		t.Fatalf("backlog check = %q", health.Checks["backlog"])
	}
}
