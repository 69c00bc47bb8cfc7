package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"voting-oracle/internal/config"

	"github.com/sirupsen/logrus"
)

// ErrProviderRejected marks a definitive negative answer from the provider,
// as opposed to a transport failure worth retrying.
var ErrProviderRejected = errors.New("identity provider rejected the record")

// Verifier answers whether a national ID number matches the registered name.
type Verifier interface {
	VerifyIdentity(ctx context.Context, nik, name string) (bool, error)
	Ping(ctx context.Context) error
}

type httpVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPVerifier builds a Verifier against the configured provider endpoint.
func NewHTTPVerifier(cfg config.ProviderConfig, logger *logrus.Logger) Verifier {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpVerifier{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type verifyProviderRequest struct {
	NIK  string `json:"nik"`
	Name string `json:"name"`
}

type verifyProviderResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// VerifyIdentity posts the record to the provider. A definitive true/false
// answer is returned with a nil error; transport failures, timeouts and 5xx
// responses come back as errors so the caller can retry.
func (v *httpVerifier) VerifyIdentity(ctx context.Context, nik, name string) (bool, error) {
	payload, err := json.Marshal(verifyProviderRequest{NIK: nik, Name: name})
	if err != nil {
		return false, fmt.Errorf("failed to encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("X-API-Key", v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("provider call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, fmt.Errorf("failed to read provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var result verifyProviderResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return false, fmt.Errorf("failed to decode provider response: %w", err)
		}
		return result.Valid, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The provider understood the record and says it does not exist.
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		v.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Warn("identity provider rejected request")
		return false, fmt.Errorf("%w: status %d", ErrProviderRejected, resp.StatusCode)
	default:
		return false, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
}

// Ping checks provider reachability for health reporting.
func (v *httpVerifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	if v.apiKey != "" {
		req.Header.Set("X-API-Key", v.apiKey)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("identity provider unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
