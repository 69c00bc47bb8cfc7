package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"voting-oracle/internal/config"
	"voting-oracle/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// VerificationRequestMessage is the payload the chain scanner publishes when
// the election contract emits VerificationRequested.
type VerificationRequestMessage struct {
	Voter      string `json:"voter"`
	ElectionID uint64 `json:"electionId"`
	NIK        string `json:"nik"`
	Name       string `json:"name"`
	Timestamp  uint64 `json:"timestamp"`
	TxHash     string `json:"txHash"`
	Block      uint64 `json:"block"`
}

// NATSClient wraps the message-server connection used as an alternative
// event source to direct RPC log polling.
type NATSClient struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *logrus.Logger
}

// NewNATSClient connects to the configured NATS server.
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects != 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithField("error", err).Warn("NATS connection lost")
			metrics.EventSourceConnected.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
			metrics.EventSourceConnected.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "election.*.VerificationRequested"
	}

	metrics.EventSourceConnected.Set(1)
	logger.WithFields(logrus.Fields{"url": cfg.URL, "subject": subject}).Info("connected to NATS")

	return &NATSClient{conn: conn, js: js, subject: subject, logger: logger}, nil
}

// SubscribeVerificationRequests delivers decoded request events to handler.
// Malformed payloads are logged and dropped; they never stall the stream.
func (c *NATSClient) SubscribeVerificationRequests(handler func(*VerificationRequestMessage)) error {
	msgHandler := func(msg *nats.Msg) {
		var event VerificationRequestMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.WithFields(logrus.Fields{
				"subject": msg.Subject,
				"error":   err,
			}).Warn("failed to decode verification request event")
			return
		}
		handler(&event)
		msg.Ack()
	}

	// Core NATS first, JetStream as fallback for durable streams.
	if _, err := c.conn.Subscribe(c.subject, msgHandler); err == nil {
		c.logger.WithField("subject", c.subject).Info("subscribed to verification requests")
		return nil
	}
	if _, err := c.js.Subscribe(c.subject, msgHandler); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.subject, err)
	}
	c.logger.WithField("subject", c.subject).Info("subscribed to verification requests via JetStream")
	return nil
}

// IsConnected reports connection health for the health endpoint.
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains the connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
