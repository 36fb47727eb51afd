package wsgateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohamedkhairy/momentum-screener/internal/models"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// Connection represents a WebSocket connection with a client
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu          sync.RWMutex
	symbols     map[string]bool
	matchesOnly bool
	lastPong    time.Time
	createdAt   time.Time
	closed      bool
	closeOnce   sync.Once
}

// NewConnection creates a new WebSocket connection with a send buffer of size buffer
func NewConnection(id string, userID string, conn *websocket.Conn, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 16
	}
	now := time.Now()
	return &Connection{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		Send:      make(chan []byte, buffer),
		symbols:   make(map[string]bool),
		createdAt: now,
		lastPong:  now,
	}
}

// Subscribe restricts pushed batches to the given symbols
func (c *Connection) Subscribe(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
}

// Unsubscribe removes symbols from the filter; an empty filter receives every row
func (c *Connection) Unsubscribe(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		delete(c.symbols, s)
	}
}

// IsSubscribed checks if rows for symbol are delivered
func (c *Connection) IsSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// SetMatchesOnly limits pushed batches to rows that meet the criteria
func (c *Connection) SetMatchesOnly(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchesOnly = v
}

// View returns the part of batch this connection asked for
func (c *Connection) View(batch *models.ScanBatch) *models.ScanBatch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.symbols) == 0 && !c.matchesOnly {
		return batch
	}

	view := batch.Clone()
	view.Rows = view.Rows[:0:0]
	for _, row := range batch.Rows {
		if len(c.symbols) > 0 && !c.symbols[row.Symbol] {
			continue
		}
		if c.matchesOnly && !row.MatchesCriteria {
			continue
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Close closes the send queue and the socket; safe to call more than once
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.Send)
		c.mu.Unlock()
		c.Conn.Close()
	})
}

// enqueue queues data without blocking; full queues drop the message
func (c *Connection) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		logger.Warn("Dropping message, send queue full",
			logger.String("connection_id", c.ID),
			logger.String("user_id", c.UserID),
		)
		return false
	}
}

// SendMessage marshals msg and queues it
func (c *Connection) SendMessage(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal server message", logger.ErrorField(err))
		return false
	}
	ok := c.enqueue(data)
	outcome := "sent"
	if !ok {
		outcome = "dropped"
	}
	logger.WSMessagesTotal.WithLabelValues(msg.Type, outcome).Inc()
	return ok
}

// SendBatch queues the connection's view of batch
func (c *Connection) SendBatch(batch *models.ScanBatch) bool {
	return c.SendMessage(ServerMessage{Type: MessageTypeBatch, Data: c.View(batch)})
}

// SendError queues an error message
func (c *Connection) SendError(code string, message string) bool {
	return c.SendMessage(ServerMessage{Type: MessageTypeError, Code: code, Message: message})
}
