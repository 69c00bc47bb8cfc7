package app

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"voting-oracle/internal/clients"
	"voting-oracle/internal/config"
	"voting-oracle/internal/db"
	"voting-oracle/internal/metrics"
	"voting-oracle/internal/repository"
	"voting-oracle/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns construction and lifecycle ordering of every
// collaborator: repositories first, then clients, then services, then the
// background loops.
type ServiceContainer struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	RequestRepo repository.RequestRepository

	ChainClient clients.ChainClient
	Verifier    clients.Verifier
	NATSClient  *clients.NATSClient

	RateLimiter   services.RateLimiter
	Ingestion     *services.IngestionService
	LedgerWriter  *services.LedgerWriter
	VerifierPool  *services.VerifierPool
	EventListener *services.EventListener
	StatsService  *services.StatsService
	PushService   *services.PushService

	monitorStop chan struct{}
	monitorOnce sync.Once
}

var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container once.
func InitializeContainer(gdb *gorm.DB, logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		c := &ServiceContainer{DB: gdb, Logger: logger, monitorStop: make(chan struct{})}

		c.RequestRepo = repository.NewRequestRepository(gdb)

		chainClient, err := clients.NewChainClient(config.AppConfig.Chain, logger)
		if err != nil {
			initErr = fmt.Errorf("failed to initialize chain client: %w", err)
			return
		}
		c.ChainClient = chainClient
		c.Verifier = clients.NewHTTPVerifier(config.AppConfig.Provider, logger)

		c.RateLimiter = services.NewRateLimiter(config.AppConfig.RateLimit)
		c.Ingestion = services.NewIngestionService(c.RequestRepo, c.RateLimiter, logger)
		c.LedgerWriter = services.NewLedgerWriter(c.ChainClient, config.AppConfig.Chain, logger)
		c.PushService = services.NewPushService(logger)

		c.VerifierPool = services.NewVerifierPool(
			c.RequestRepo,
			c.Verifier,
			c.LedgerWriter,
			c.ChainClient,
			config.AppConfig.Oracle,
			logger,
		)

		c.StatsService = services.NewStatsService(
			c.RequestRepo,
			c.ChainClient,
			c.Verifier,
			&db.Pinger{DB: gdb},
			config.AppConfig.Oracle,
			logger,
		)
		c.VerifierPool.SetProcessedHook(c.StatsService.RecordLatency)
		c.VerifierPool.SetStatusHook(c.PushService.BroadcastStatusUpdate)

		source, err := c.buildEventSource()
		if err != nil {
			initErr = err
			return
		}
		c.EventListener = services.NewEventListener(source, c.Ingestion, logger)

		Container = c
	})

	return Container, initErr
}

// buildEventSource picks the configured event source. NATS is used when an
// external chain scanner publishes events; RPC polling needs nothing but a
// node.
func (c *ServiceContainer) buildEventSource() (services.EventSource, error) {
	switch config.AppConfig.Listener.Source {
	case "nats":
		natsClient, err := clients.NewNATSClient(config.AppConfig.NATS, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event source: %w", err)
		}
		c.NATSClient = natsClient
		return services.NewNATSEventSource(natsClient, c.Logger), nil
	case "", "rpc":
		return services.NewRPCEventSource(c.ChainClient, config.AppConfig.Chain, c.Logger), nil
	default:
		return nil, fmt.Errorf("unknown listener source %q", config.AppConfig.Listener.Source)
	}
}

// Start launches the background loops.
func (c *ServiceContainer) Start() {
	c.VerifierPool.Start()
	c.EventListener.Start()
	go c.monitorSignerBalance()
	c.Logger.Info("service container started")
}

// monitorSignerBalance keeps the fee account balance exported so an
// underfunded signer is caught before submissions start failing.
func (c *ServiceContainer) monitorSignerBalance() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	update := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		balance, err := c.ChainClient.SignerBalance(ctx)
		if err != nil {
			c.Logger.WithField("error", err).Warn("failed to read signer balance")
			return
		}
		eth := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(1e18))
		value, _ := eth.Float64()
		metrics.SignerBalance.WithLabelValues(c.ChainClient.SignerAddress()).Set(value)
	}

	update()
	for {
		select {
		case <-c.monitorStop:
			return
		case <-ticker.C:
			update()
		}
	}
}

// Shutdown stops intake first so the pool can drain, then tears the rest
// down in reverse dependency order.
func (c *ServiceContainer) Shutdown(ctx context.Context) {
	c.Ingestion.StopAccepting()
	c.EventListener.Stop()
	c.VerifierPool.Stop()
	c.PushService.Stop()
	c.RateLimiter.Stop()
	c.monitorOnce.Do(func() { close(c.monitorStop) })

	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.ChainClient != nil {
		c.ChainClient.Close()
	}
	c.Logger.Info("service container stopped")
}
