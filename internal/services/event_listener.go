package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"voting-oracle/internal/clients"
	"voting-oracle/internal/config"
	"voting-oracle/internal/metrics"

	"github.com/sirupsen/logrus"
)

// EventSource abstracts where verification request events come from: direct
// RPC log polling or a NATS stream fed by an external chain scanner.
type EventSource interface {
	Run(ctx context.Context, sink func(clients.VerificationRequestedEvent)) error
}

// EventListener drives one EventSource and feeds observed events into the
// ingestion pipeline. The loop restarts the source with backoff on failure;
// the dedup layer makes redelivery after a restart harmless.
type EventListener struct {
	source    EventSource
	ingestion *IngestionService
	logger    *logrus.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEventListener(source EventSource, ingestion *IngestionService, logger *logrus.Logger) *EventListener {
	return &EventListener{source: source, ingestion: ingestion, logger: logger}
}

func (l *EventListener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		backoff := time.Second
		for {
			err := l.source.Run(ctx, l.handleEvent)
			if ctx.Err() != nil {
				return
			}
			metrics.EventListenerErrors.WithLabelValues("source").Inc()
			l.logger.WithFields(logrus.Fields{
				"error":      err,
				"restart_in": backoff,
			}).Error("event source stopped, restarting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
	l.logger.Info("event listener started")
}

func (l *EventListener) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	l.wg.Wait()
}

func (l *EventListener) handleEvent(event clients.VerificationRequestedEvent) {
	metrics.EventsObserved.Inc()

	_, err := l.ingestion.Submit(context.Background(), SubmitInput{
		NIK:        event.NIK,
		Name:       event.Name,
		Wallet:     event.Voter,
		ElectionID: event.ElectionID,
		Source:     "chain",
	})
	if err != nil {
		// Duplicates are expected after restarts and cursor overlap.
		if errors.Is(err, ErrDuplicateRequest) {
			return
		}
		l.logger.WithFields(logrus.Fields{
			"wallet":      event.Voter,
			"election_id": event.ElectionID,
			"tx_hash":     event.TxHash,
			"error":       err,
		}).Warn("observed event rejected at intake")
	}
}

// rpcEventSource polls contract logs over RPC with a persistent-in-memory
// block cursor.
type rpcEventSource struct {
	chain        clients.ChainClient
	startBlock   uint64
	pollInterval time.Duration
	logger       *logrus.Logger
}

func NewRPCEventSource(chain clients.ChainClient, cfg config.ChainConfig, logger *logrus.Logger) EventSource {
	pollInterval := time.Duration(cfg.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &rpcEventSource{
		chain:        chain,
		startBlock:   cfg.StartBlock,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (s *rpcEventSource) Run(ctx context.Context, sink func(clients.VerificationRequestedEvent)) error {
	cursor := s.startBlock
	if cursor == 0 {
		latest, err := s.chain.LatestBlock(ctx)
		if err != nil {
			return err
		}
		cursor = latest
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		latest, err := s.chain.LatestBlock(ctx)
		if err != nil {
			return err
		}
		if latest < cursor {
			continue
		}

		// Bounded range keeps single FilterLogs calls cheap on busy chains.
		to := cursor + 2000
		if to > latest {
			to = latest
		}

		events, err := s.chain.FilterVerificationRequests(ctx, cursor, to)
		if err != nil {
			return err
		}
		for _, event := range events {
			sink(event)
		}
		cursor = to + 1
	}
}

// natsEventSource consumes scanner-published events from NATS.
type natsEventSource struct {
	client *clients.NATSClient
	logger *logrus.Logger
}

func NewNATSEventSource(client *clients.NATSClient, logger *logrus.Logger) EventSource {
	return &natsEventSource{client: client, logger: logger}
}

func (s *natsEventSource) Run(ctx context.Context, sink func(clients.VerificationRequestedEvent)) error {
	err := s.client.SubscribeVerificationRequests(func(msg *clients.VerificationRequestMessage) {
		sink(clients.VerificationRequestedEvent{
			Voter:       msg.Voter,
			ElectionID:  msg.ElectionID,
			NIK:         msg.NIK,
			Name:        msg.Name,
			Timestamp:   msg.Timestamp,
			BlockNumber: msg.Block,
			TxHash:      msg.TxHash,
		})
	})
	if err != nil {
		return err
	}

	// Subscription is push based; block until shutdown.
	<-ctx.Done()
	return ctx.Err()
}
