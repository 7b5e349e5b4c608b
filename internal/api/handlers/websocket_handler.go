package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/websocket"
)

// PaymentFeed handles GET /ws/payments. Upgrades the connection and
// registers it with the hub; an optional vehicle_id query parameter
// narrows the feed to one vehicle.
func (h *Handlers) PaymentFeed(c *gin.Context) {
	upgrader := gorilla.Upgrader{
		ReadBufferSize:  h.opts.WSReadBufferSize,
		WriteBufferSize: h.opts.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins in development
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	client := websocket.NewClient(h.Hub, conn, c.Query("vehicle_id"), h.Logger)
	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
