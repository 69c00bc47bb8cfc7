package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"voting-oracle/internal/dto"
	"voting-oracle/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS layer in front of the upgrade.
		return true
	},
}

// Connection is one live subscriber, keyed by the wallet it authenticated as.
type Connection struct {
	ID     string
	Wallet string
	Conn   *websocket.Conn
	Send   chan []byte
}

// PushMessage is the envelope delivered to subscribers.
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Wallet    string      `json:"wallet"`
	Data      interface{} `json:"data"`
}

// PushService fans request status changes out to WebSocket subscribers so
// callers do not have to poll the status endpoint.
type PushService struct {
	connections map[string]*Connection
	walletConns map[string][]*Connection
	hub         chan PushMessage
	register    chan *Connection
	unregister  chan *Connection
	mutex       sync.RWMutex
	logger      *logrus.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPushService(logger *logrus.Logger) *PushService {
	s := &PushService{
		connections: make(map[string]*Connection),
		walletConns: make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *PushService) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopChan:
			return
		case conn := <-s.register:
			s.handleRegister(conn)
		case conn := <-s.unregister:
			s.handleUnregister(conn)
		case message := <-s.hub:
			s.handleBroadcast(message)
		}
	}
}

// Stop terminates the hub loop and closes every live subscriber.
func (s *PushService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, conn := range s.connections {
		close(conn.Send)
		conn.Conn.Close()
	}
	s.connections = make(map[string]*Connection)
	s.walletConns = make(map[string][]*Connection)
}

func (s *PushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connections[conn.ID] = conn
	s.walletConns[conn.Wallet] = append(s.walletConns[conn.Wallet], conn)
	s.logger.WithFields(logrus.Fields{"wallet": conn.Wallet, "conn_id": conn.ID}).Info("status subscriber connected")
}

func (s *PushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.connections[conn.ID]; !ok {
		return
	}
	delete(s.connections, conn.ID)

	conns := s.walletConns[conn.Wallet]
	for i, c := range conns {
		if c.ID == conn.ID {
			s.walletConns[conn.Wallet] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(s.walletConns[conn.Wallet]) == 0 {
		delete(s.walletConns, conn.Wallet)
	}

	close(conn.Send)
	conn.Conn.Close()
	s.logger.WithFields(logrus.Fields{"wallet": conn.Wallet, "conn_id": conn.ID}).Info("status subscriber disconnected")
}

func (s *PushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	conns, ok := s.walletConns[message.Wallet]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.WithField("error", err).Error("failed to marshal push message")
		return
	}

	for _, conn := range conns {
		select {
		case conn.Send <- data:
		default:
			// Slow consumer; the read pump will reap the connection.
			s.logger.WithField("conn_id", conn.ID).Warn("push channel full, dropping message")
		}
	}
}

// BroadcastStatusUpdate pushes the current projection of a request to every
// connection owned by its wallet.
func (s *PushService) BroadcastStatusUpdate(request *models.VerificationRequest) {
	message := PushMessage{
		Type:      "verification_status_update",
		Timestamp: time.Now().Format(time.RFC3339),
		Wallet:    request.WalletAddress,
		Data:      dto.NewStatusResponse(request),
	}
	select {
	case s.hub <- message:
	case <-s.stopChan:
	}
}

// HandleWebSocket upgrades the request and runs the connection pumps until
// the client goes away.
func (s *PushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, wallet string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	connection := &Connection{
		ID:     fmt.Sprintf("conn_%d", time.Now().UnixNano()),
		Wallet: wallet,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}

	select {
	case s.register <- connection:
	case <-s.stopChan:
		conn.Close()
		return
	}
	go s.writePump(connection)
	go s.readPump(connection)
}

func (s *PushService) writePump(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *PushService) readPump(conn *Connection) {
	defer func() {
		select {
		case s.unregister <- conn:
		case <-s.stopChan:
		}
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithFields(logrus.Fields{"conn_id": conn.ID, "error": err}).Warn("websocket read error")
			}
			return
		}
	}
}

// ActiveConnections reports the live subscriber count.
func (s *PushService) ActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}
