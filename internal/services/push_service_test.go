package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voting-oracle/internal/models"

	"github.com/gorilla/websocket"
)

func dialPushService(t *testing.T, svc *PushService, wallet string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.HandleWebSocket(w, r, wallet)
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return svc.ActiveConnections() == 1 })
	return conn
}

func TestBroadcastStatusUpdateReachesSubscriber(t *testing.T) {
	svc := NewPushService(testLogger())
	conn := dialPushService(t, svc, "0xabc")

	isValid := true
	svc.BroadcastStatusUpdate(&models.VerificationRequest{
		RequestID:     "req-1",
		WalletAddress: "0xabc",
		NIK:           "3171012501900001",
		Name:          "Budi Santoso",
		ElectionID:    7,
		Status:        models.RequestStatusCompleted,
		IsValid:       &isValid,
		TxHash:        "0xtxhash",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("subscriber did not receive the update: %v", err)
	}

	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("push payload not decodable: %v", err)
	}
	if msg.Type != "verification_status_update" || msg.Wallet != "0xabc" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}

	payload, _ := json.Marshal(msg.Data)
	if !strings.Contains(string(payload), `"3171**********01"`) {
		t.Fatalf("pushed NIK not masked: %s", payload)
	}
}

func TestBroadcastSkipsOtherWallets(t *testing.T) {
	svc := NewPushService(testLogger())
	conn := dialPushService(t, svc, "0xabc")

	svc.BroadcastStatusUpdate(&models.VerificationRequest{
		RequestID:     "req-2",
		WalletAddress: "0xother",
		NIK:           "3171012501900001",
		Name:          "Budi Santoso",
		ElectionID:    7,
		Status:        models.RequestStatusCompleted,
	})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("update for another wallet must not be delivered")
	}
}

func TestUnregisterOnClientClose(t *testing.T) {
	svc := NewPushService(testLogger())
	conn := dialPushService(t, svc, "0xabc")

	conn.Close()
	waitFor(t, func() bool { return svc.ActiveConnections() == 0 })
}

func TestStopClosesSubscribers(t *testing.T) {
	svc := NewPushService(testLogger())
	conn := dialPushService(t, svc, "0xabc")

	svc.Stop()

	if svc.ActiveConnections() != 0 {
		t.Fatalf("active connections = %d, want 0 after stop", svc.ActiveConnections())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// Broadcasts after shutdown are dropped, not deadlocked.
	svc.BroadcastStatusUpdate(&models.VerificationRequest{
		RequestID:     "req-3",
		WalletAddress: "0xabc",
		Status:        models.RequestStatusCompleted,
	})
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewPushService(testLogger())
	svc.Stop()
	svc.Stop()
}
