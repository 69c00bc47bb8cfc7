package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Chain     ChainConfig     `yaml:"chain"`
	Provider  ProviderConfig  `yaml:"provider"`
	NATS      NATSConfig      `yaml:"nats"`
	Listener  ListenerConfig  `yaml:"listener"`
	Oracle    OracleConfig    `yaml:"oracle"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// ChainConfig ledger connection and submission configuration
type ChainConfig struct {
	Name             string   `yaml:"name"`
	ChainID          int64    `yaml:"chainId"`
	RPCEndpoints     []string `yaml:"rpcEndpoints"`
	ElectionContract string   `yaml:"electionContract"`
	PrivateKey       string   `yaml:"privateKey"` // hex, no 0x prefix
	GasPrice         string   `yaml:"gasPrice"`   // wei; empty = suggest from node
	GasLimit         uint64   `yaml:"gasLimit"`   // 0 = estimate with margin
	SubmitTimeout    int      `yaml:"submitTimeout"`
	ConfirmTimeout   int      `yaml:"confirmTimeout"`
	StartBlock       uint64   `yaml:"startBlock"`
	PollInterval     int      `yaml:"pollInterval"`
}

// ProviderConfig identity verification provider configuration
type ProviderConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	Timeout int    `yaml:"timeout"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
}

// ListenerConfig event listener source selection
type ListenerConfig struct {
	Source string `yaml:"source"` // "rpc" or "nats"
}

// OracleConfig verification pipeline tuning
type OracleConfig struct {
	Workers           int `yaml:"workers"`
	MaxRetries        int `yaml:"maxRetries"`
	VerifyTimeout     int `yaml:"verifyTimeout"`     // seconds
	PollInterval      int `yaml:"pollInterval"`      // milliseconds
	StaleClaimTimeout int `yaml:"staleClaimTimeout"` // seconds
	ShutdownGrace     int `yaml:"shutdownGrace"`     // seconds
	BacklogThreshold  int `yaml:"backlogThreshold"`
}

// RateLimitConfig submission rate limit configuration
type RateLimitConfig struct {
	WindowMs          int `yaml:"windowMs"`
	MaxRequests       int `yaml:"maxRequests"`
	GlobalMaxRequests int `yaml:"globalMaxRequests"`
}

// AuthConfig JWT configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	TokenTTL  int    `yaml:"tokenTTL"` // hours
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	AppConfig = &config
	return nil
}

// overrideFromEnv applies environment variable overrides on top of the file.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if rpc := os.Getenv("CHAIN_RPC_ENDPOINTS"); rpc != "" {
		endpoints := strings.Split(rpc, ",")
		config.Chain.RPCEndpoints = config.Chain.RPCEndpoints[:0]
		for _, e := range endpoints {
			if trimmed := strings.TrimSpace(e); trimmed != "" {
				config.Chain.RPCEndpoints = append(config.Chain.RPCEndpoints, trimmed)
			}
		}
	}
	if contract := os.Getenv("ELECTION_CONTRACT"); contract != "" {
		config.Chain.ElectionContract = contract
	}
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		config.Chain.PrivateKey = key
	}
	if gasPrice := os.Getenv("CHAIN_GAS_PRICE"); gasPrice != "" {
		config.Chain.GasPrice = gasPrice
	}
	if gasLimit := os.Getenv("CHAIN_GAS_LIMIT"); gasLimit != "" {
		if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
			config.Chain.GasLimit = limit
		}
	}

	if providerURL := os.Getenv("PROVIDER_BASE_URL"); providerURL != "" {
		config.Provider.BaseURL = providerURL
	}
	if apiKey := os.Getenv("PROVIDER_API_KEY"); apiKey != "" {
		config.Provider.APIKey = apiKey
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if source := os.Getenv("LISTENER_SOURCE"); source != "" {
		config.Listener.Source = source
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// applyDefaults fills zero values that would otherwise disable the pipeline.
func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = 10 * 1024
	}
	if config.Oracle.Workers == 0 {
		config.Oracle.Workers = 4
	}
	if config.Oracle.MaxRetries == 0 {
		config.Oracle.MaxRetries = 3
	}
	if config.Oracle.VerifyTimeout == 0 {
		config.Oracle.VerifyTimeout = 30
	}
	if config.Oracle.PollInterval == 0 {
		config.Oracle.PollInterval = 500
	}
	if config.Oracle.StaleClaimTimeout == 0 {
		config.Oracle.StaleClaimTimeout = 300
	}
	if config.Oracle.ShutdownGrace == 0 {
		config.Oracle.ShutdownGrace = 15
	}
	if config.Oracle.BacklogThreshold == 0 {
		config.Oracle.BacklogThreshold = 100
	}
	if config.RateLimit.WindowMs == 0 {
		config.RateLimit.WindowMs = 60000
	}
	if config.RateLimit.MaxRequests == 0 {
		config.RateLimit.MaxRequests = 10
	}
	if config.RateLimit.GlobalMaxRequests == 0 {
		config.RateLimit.GlobalMaxRequests = 1000
	}
	if config.Chain.SubmitTimeout == 0 {
		config.Chain.SubmitTimeout = 45
	}
	if config.Chain.ConfirmTimeout == 0 {
		config.Chain.ConfirmTimeout = 180
	}
	if config.Chain.PollInterval == 0 {
		config.Chain.PollInterval = 5
	}
	if config.Provider.Timeout == 0 {
		config.Provider.Timeout = 30
	}
	if config.Listener.Source == "" {
		config.Listener.Source = "rpc"
	}
	if config.Auth.TokenTTL == 0 {
		config.Auth.TokenTTL = 24
	}
}

// VerifyTimeoutDuration returns the provider call timeout as a duration.
func (o OracleConfig) VerifyTimeoutDuration() time.Duration {
	return time.Duration(o.VerifyTimeout) * time.Second
}

// PollIntervalDuration returns the worker poll interval as a duration.
func (o OracleConfig) PollIntervalDuration() time.Duration {
	return time.Duration(o.PollInterval) * time.Millisecond
}

// ShutdownGraceDuration returns the shutdown drain deadline as a duration.
func (o OracleConfig) ShutdownGraceDuration() time.Duration {
	return time.Duration(o.ShutdownGrace) * time.Second
}

// StaleClaimDuration returns the age after which a processing claim is
// considered orphaned by a crashed instance.
func (o OracleConfig) StaleClaimDuration() time.Duration {
	return time.Duration(o.StaleClaimTimeout) * time.Second
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// SubmitTimeoutDuration returns the per-attempt bound on a ledger submission,
// covering nonce fetch, gas negotiation and the send itself.
func (c ChainConfig) SubmitTimeoutDuration() time.Duration {
	return time.Duration(c.SubmitTimeout) * time.Second
}

// ConfirmTimeoutDuration returns the ledger confirmation wait limit.
func (c ChainConfig) ConfirmTimeoutDuration() time.Duration {
	return time.Duration(c.ConfirmTimeout) * time.Second
}

// PollIntervalDuration returns the head/log polling cadence.
func (c ChainConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}
