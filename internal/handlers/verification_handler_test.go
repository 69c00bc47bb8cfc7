package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voting-oracle/internal/config"
	"voting-oracle/internal/dto"
	"voting-oracle/internal/handlers"
	"voting-oracle/internal/middleware"
	"voting-oracle/internal/models"
	"voting-oracle/internal/repository"
	"voting-oracle/internal/router"
	"voting-oracle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const testWallet = "0x1234567890abcdef1234567890abcdef12345678"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testEnv struct {
	router *gin.Engine
	repo   repository.RequestRepository
	token  string
}

// denyLimiter rejects everything, for the 429 path.
type denyLimiter struct{}

func (denyLimiter) Allow(string) (bool, time.Duration) { return false, 45 * time.Second }
func (denyLimiter) Stop()                              {}

func newTestEnv(t *testing.T, limiter services.RateLimiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{
		Server: config.ServerConfig{MaxBodyBytes: 10 * 1024},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 1},
	}
	t.Cleanup(func() { config.AppConfig = nil })

	logger := testLogger()
	repo := repository.NewMemoryRequestRepository()
	ingestion := services.NewIngestionService(repo, limiter, logger)
	stats := services.NewStatsService(repo, nil, nil, nil, config.OracleConfig{}, logger)
	push := services.NewPushService(logger)

	r := router.SetupRouter(
		handlers.NewVerificationHandler(ingestion, logger),
		handlers.NewStatusHandler(repo, stats, logger),
		handlers.NewWebSocketHandler(push, logger),
		middleware.NewAuthMiddleware(logger),
		logger,
	)

	token, err := handlers.GenerateToken(testWallet)
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}
	return &testEnv{router: r, repo: repo, token: token}
}

func (e *testEnv) postVerify(t *testing.T, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validBody() string {
	return `{"nik":"3171012501900001","name":"Budi Santoso","walletAddress":"` + testWallet + `","electionId":7}`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body not decodable: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestVerifyAccepted(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.postVerify(t, validBody(), env.token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}

	var resp dto.VerifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not decodable: %v", err)
	}
	if resp.RequestID == "" || resp.Status != string(models.RequestStatusPending) {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := env.repo.Get(context.Background(), resp.RequestID); err != nil {
		t.Fatalf("accepted request not persisted: %v", err)
	}
}

func TestVerifyMissingToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.postVerify(t, validBody(), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodeMissingAuthorization {
		t.Fatalf("code = %s, want %s", code, dto.CodeMissingAuthorization)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.postVerify(t, validBody(), "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodeInvalidAuthFormat {
		t.Fatalf("code = %s, want %s", code, dto.CodeInvalidAuthFormat)
	}
}

func TestVerifyWalletMismatch(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"nik":"3171012501900001","name":"Budi Santoso","walletAddress":"0xffffffffffffffffffffffffffffffffffffffff","electionId":7}`
	w := env.postVerify(t, body, env.token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodeWalletMismatch {
		t.Fatalf("code = %s, want %s", code, dto.CodeWalletMismatch)
	}
}

func TestVerifyValidationCodes(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{not json`, dto.CodeInvalidJSON},
		{"missing fields", `{"walletAddress":"` + testWallet + `","electionId":7}`, dto.CodeMissingRequiredFields},
		{"bad nik", `{"nik":"123","name":"Budi Santoso","walletAddress":"` + testWallet + `","electionId":7}`, dto.CodeInvalidNIKFormat},
		{"zero election", `{"nik":"3171012501900001","name":"Budi Santoso","walletAddress":"` + testWallet + `","electionId":0}`, dto.CodeInvalidElectionID},
		{"disallowed chars", `{"nik":"3171012501900001","name":"<b>Budi</b>","walletAddress":"` + testWallet + `","electionId":7}`, dto.CodeInvalidCharacters},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.postVerify(t, tc.body, env.token)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if code := decodeError(t, w).Code; code != tc.wantCode {
				t.Fatalf("code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestVerifyDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.postVerify(t, validBody(), env.token); w.Code != http.StatusAccepted {
		t.Fatalf("first submit: status = %d, want 202", w.Code)
	}

	w := env.postVerify(t, validBody(), env.token)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodeDuplicateRequest {
		t.Fatalf("code = %s, want %s", code, dto.CodeDuplicateRequest)
	}
}

func TestVerifyRateLimited(t *testing.T) {
	env := newTestEnv(t, denyLimiter{})

	w := env.postVerify(t, validBody(), env.token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodeRateLimitExceeded {
		t.Fatalf("code = %s, want %s", code, dto.CodeRateLimitExceeded)
	}
	if w.Header().Get("Retry-After") != "45" {
		t.Fatalf("Retry-After = %q, want 45", w.Header().Get("Retry-After"))
	}
}

func TestVerifyOversizedBody(t *testing.T) {
	env := newTestEnv(t, nil)

	padding := strings.Repeat("a", 11*1024)
	body := `{"nik":"3171012501900001","name":"` + padding + `","walletAddress":"` + testWallet + `","electionId":7}`
	w := env.postVerify(t, body, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeError(t, w).Code; code != dto.CodePayloadTooLarge {
		t.Fatalf("code = %s, want %s", code, dto.CodePayloadTooLarge)
	}
}
