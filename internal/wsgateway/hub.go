package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

const maxClientMessageSize = 4096

// Hub pushes committed batches to WebSocket clients
type Hub struct {
	config   config.WSGatewayConfig
	auth     *AuthManager
	registry *ConnectionRegistry
	upgrader websocket.Upgrader

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	latest  *models.ScanBatch
	stats   HubStats
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int64     `json:"connections_active"`
	BatchesReceived   int64     `json:"batches_received"`
	MessagesSent      int64     `json:"messages_sent"`
	MessagesDropped   int64     `json:"messages_dropped"`
	LastBatchID       string    `json:"last_batch_id,omitempty"`
	LastBatchTime     time.Time `json:"last_batch_time,omitempty"`
}

// NewHub creates a new WebSocket hub. A nil auth disables authentication.
func NewHub(cfg config.WSGatewayConfig, auth *AuthManager) *Hub {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}
	if auth == nil {
		auth = NewAuthManager("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:   cfg,
		auth:     auth,
		registry: NewConnectionRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the stale connection monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true

	logger.Info("Starting WebSocket hub",
		logger.Int("max_connections", h.config.MaxConnections),
		logger.Duration("ping_interval", h.config.PingInterval),
	)

	h.wg.Add(1)
	go h.monitorConnections()
	return nil
}

// Stop closes every connection and waits for the pumps to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub")
	h.cancel()
	for _, conn := range h.registry.GetAll() {
		h.Unregister(conn)
	}
	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

// PublishBatch records batch as the latest and broadcasts it
func (h *Hub) PublishBatch(_ context.Context, batch *models.ScanBatch) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}
	batch = batch.Clone()

	h.mu.Lock()
	h.latest = batch
	h.stats.BatchesReceived++
	h.stats.LastBatchID = batch.ID
	h.stats.LastBatchTime = time.Now()
	h.mu.Unlock()

	sent, dropped := 0, 0
	connections := h.registry.GetAll()
	for _, conn := range connections {
		if conn.SendBatch(batch) {
			sent++
		} else {
			dropped++
		}
	}
	h.addMessageStats(sent, dropped)

	logger.Debug("Broadcast batch",
		logger.BatchID(batch.ID),
		logger.Int("rows", len(batch.Rows)),
		logger.Int("sent", sent),
		logger.Int("dropped", dropped),
	)
	return nil
}

// Latest returns the most recent batch pushed through the hub
func (h *Hub) Latest() *models.ScanBatch {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// ServeHTTP authenticates and upgrades a client connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.registry.Count() >= h.config.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", h.config.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.auth.Authenticate(r)
	if err != nil {
		logger.Warn("Rejecting WebSocket connection", logger.ErrorField(err))
		http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", logger.ErrorField(err))
		return
	}

	conn := NewConnection(uuid.New().String(), userID, ws, h.config.SendBuffer)
	h.Register(conn)

	logger.Info("WebSocket connection established",
		logger.String("connection_id", conn.ID),
		logger.String("user_id", userID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}

// Register adds conn, sends it the latest batch and starts its pumps
func (h *Hub) Register(conn *Connection) {
	if h.ctx.Err() != nil {
		conn.Close()
		return
	}
	h.registry.Add(conn)
	logger.WSConnections.Inc()

	h.mu.Lock()
	h.stats.ConnectionsTotal++
	latest := h.latest
	h.mu.Unlock()

	if latest != nil {
		conn.SendBatch(latest)
	}

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// Unregister removes conn and closes it
func (h *Hub) Unregister(conn *Connection) {
	if h.registry.Remove(conn.ID) {
		logger.WSConnections.Dec()
		logger.Debug("Connection unregistered",
			logger.String("connection_id", conn.ID),
			logger.Int("total_connections", h.registry.Count()),
		)
	}
	conn.Close()
}

func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Unregister(conn)

	conn.Conn.SetReadLimit(maxClientMessageSize)
	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		return conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			conn.SendError("invalid_message", "failed to parse message")
			continue
		}
		if err := h.HandleClientMessage(conn, &msg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
			)
		}
	}
}

// monitorConnections removes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			staleThreshold := h.config.ReadTimeout * 2
			now := time.Now()
			for _, conn := range h.registry.GetAll() {
				if idle := now.Sub(conn.GetLastPong()); idle > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.Duration("idle_time", idle),
					)
					h.Unregister(conn)
				}
			}
		}
	}
}

func (h *Hub) addMessageStats(sent, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.MessagesSent += int64(sent)
	h.stats.MessagesDropped += int64(dropped)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := h.stats
	stats.ConnectionsActive = int64(h.registry.Count())
	return stats
}
