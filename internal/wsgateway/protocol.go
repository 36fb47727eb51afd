package wsgateway

import (
	"fmt"
	"strings"

	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// Client message types
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeMatchesOnly = "matches_only"
	MessageTypeSnapshot    = "snapshot"
	MessageTypePing        = "ping"
)

// Server message types
const (
	MessageTypeBatch   = "batch"
	MessageTypeSuccess = "success"
	MessageTypePong    = "pong"
	MessageTypeError   = "error"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type    string   `json:"type"`
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Enabled bool     `json:"enabled,omitempty"`
}

// ServerMessage represents a message to the client
type ServerMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (m *ClientMessage) symbols() []string {
	out := make([]string, 0, len(m.Symbols)+1)
	if m.Symbol != "" {
		out = append(out, strings.ToUpper(m.Symbol))
	}
	for _, s := range m.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// HandleClientMessage applies a client message to the connection
func (h *Hub) HandleClientMessage(c *Connection, msg *ClientMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		symbols := msg.symbols()
		if len(symbols) == 0 {
			c.SendError("invalid_request", "symbol or symbols field required")
			return fmt.Errorf("%s without symbols", msg.Type)
		}
		if msg.Type == MessageTypeSubscribe {
			c.Subscribe(symbols...)
		} else {
			c.Unsubscribe(symbols...)
		}
		logger.Debug("Client changed subscriptions",
			logger.String("connection_id", c.ID),
			logger.String("action", msg.Type),
			logger.Strings("symbols", symbols),
		)
		c.SendMessage(ServerMessage{
			Type: MessageTypeSuccess,
			Data: map[string]interface{}{"action": msg.Type, "symbols": symbols},
		})
		return nil

	case MessageTypeMatchesOnly:
		c.SetMatchesOnly(msg.Enabled)
		c.SendMessage(ServerMessage{
			Type: MessageTypeSuccess,
			Data: map[string]interface{}{"action": msg.Type, "enabled": msg.Enabled},
		})
		return nil

	case MessageTypeSnapshot:
		if batch := h.Latest(); batch != nil {
			c.SendBatch(batch)
		} else {
			c.SendError("no_data", "no batch available yet")
		}
		return nil

	case MessageTypePing:
		c.SendMessage(ServerMessage{Type: MessageTypePong})
		return nil

	default:
		c.SendError("unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}
