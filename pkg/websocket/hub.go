package websocket

import (
	"encoding/json"
	"sync"

	"github.com/tollgrid/smarttoll/pkg/logger"
)

// Hub fans payment results out to connected feed clients. Clients may
// narrow the feed to specific vehicles or take the full stream.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *logger.Logger
}

// Message is the envelope written to feed clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type outbound struct {
	vehicleID string
	payload   []byte
}

// NewHub creates a payment feed hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     log.Named("wshub"),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("feed client connected",
				logger.String("client_id", client.ID),
				logger.String("vehicle_filter", client.initialFilter),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.logger.Info("feed client disconnected",
				logger.String("client_id", client.ID),
			)

		case out := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.WantsVehicle(out.vehicleID) {
					continue
				}
				select {
				case client.Send <- out.payload:
				default:
					// A consumer that cannot keep up is dropped rather
					// than allowed to stall the feed.
					delete(h.clients, client)
					close(client.Send)
					h.logger.Warn("dropping slow feed client",
						logger.String("client_id", client.ID),
					)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastResult queues one payment result for delivery to every client
// watching the vehicle. Delivery is best-effort; the durable record is the
// Kafka topic, not this feed.
func (h *Hub) BroadcastResult(vehicleID string, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal feed message", logger.Err(err))
		return
	}

	select {
	case h.broadcast <- outbound{vehicleID: vehicleID, payload: data}:
	default:
		h.logger.Warn("feed broadcast buffer full, dropping message",
			logger.String("vehicle_id", vehicleID),
		)
	}
}

// ActiveConnections returns the number of connected feed clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
