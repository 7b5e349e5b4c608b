package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tollgrid/smarttoll/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one payment feed connection. An empty subscription set means
// the client receives results for every vehicle.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	initialFilter string
	mu            sync.RWMutex
	vehicles      map[string]bool

	logger *logger.Logger
}

// ClientMessage is a control message sent by the client.
type ClientMessage struct {
	Type      string `json:"type"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

// NewClient creates a feed client. A non-empty vehicleID narrows the feed
// to that vehicle from the first message on.
func NewClient(hub *Hub, conn *websocket.Conn, vehicleID string, log *logger.Logger) *Client {
	vehicles := make(map[string]bool)
	if vehicleID != "" {
		vehicles[vehicleID] = true
	}
	return &Client{
		ID:            uuid.NewString(),
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		initialFilter: vehicleID,
		vehicles:      vehicles,
		logger:        log,
	}
}

// ReadPump pumps control messages from the connection to the client state
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error",
					logger.Err(err),
					logger.String("client_id", c.ID),
				)
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps feed messages from the hub to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same frame
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one control message from the client
func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("unparseable client message",
			logger.Err(err),
			logger.String("client_id", c.ID),
		)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.Subscribe(msg.VehicleID)
	case "unsubscribe":
		c.Unsubscribe(msg.VehicleID)
	case "ping":
		c.SendMessage(Message{Type: "pong"})
	default:
		c.logger.Warn("unknown client message type",
			logger.String("type", msg.Type),
			logger.String("client_id", c.ID),
		)
	}
}

// Subscribe adds a vehicle to the client's filter.
func (c *Client) Subscribe(vehicleID string) {
	if vehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicles[vehicleID] = true
	c.logger.Info("feed client subscribed to vehicle",
		logger.String("client_id", c.ID),
		logger.String("vehicle_id", vehicleID),
	)
}

// Unsubscribe removes a vehicle from the client's filter. Removing the
// last vehicle widens the feed back to all vehicles.
func (c *Client) Unsubscribe(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vehicles, vehicleID)
	c.logger.Info("feed client unsubscribed from vehicle",
		logger.String("client_id", c.ID),
		logger.String("vehicle_id", vehicleID),
	)
}

// WantsVehicle reports whether the client should receive results for the
// vehicle.
func (c *Client) WantsVehicle(vehicleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vehicles) == 0 {
		return true
	}
	return c.vehicles[vehicleID]
}

// SendMessage queues a message for the client, dropping it when the
// buffer is full.
func (c *Client) SendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message",
			logger.Err(err),
			logger.String("client_id", c.ID),
		)
		return
	}

	select {
	case c.Send <- data:
	default:
		c.logger.Warn("client send buffer full",
			logger.String("client_id", c.ID),
		)
	}
}
