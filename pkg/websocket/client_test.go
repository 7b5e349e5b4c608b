package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgrid/smarttoll/pkg/logger"
)

func newTestClient(vehicleID string) *Client {
	hub := NewHub(logger.NewNop())
	return NewClient(hub, nil, vehicleID, logger.NewNop())
}

// TestWantsVehicle tests feed filtering semantics
func TestWantsVehicle(t *testing.T) {
	all := newTestClient("")
	assert.True(t, all.WantsVehicle("VEH-1"))
	assert.True(t, all.WantsVehicle("VEH-2"))

	one := newTestClient("VEH-1")
	assert.True(t, one.WantsVehicle("VEH-1"))
	assert.False(t, one.WantsVehicle("VEH-2"))
}

// TestSubscribeUnsubscribe tests filter mutation
func TestSubscribeUnsubscribe(t *testing.T) {
	c := newTestClient("VEH-1")

	c.Subscribe("VEH-2")
	assert.True(t, c.WantsVehicle("VEH-2"))
	assert.False(t, c.WantsVehicle("VEH-3"))

	c.Subscribe("")
	assert.False(t, c.WantsVehicle(""), "empty vehicle id is not a subscription")

	c.Unsubscribe("VEH-1")
	assert.False(t, c.WantsVehicle("VEH-1"))
	assert.True(t, c.WantsVehicle("VEH-2"))

	// Removing the last subscription widens the feed to every vehicle.
	c.Unsubscribe("VEH-2")
	assert.True(t, c.WantsVehicle("VEH-1"))
	assert.True(t, c.WantsVehicle("VEH-3"))
}

// TestHandleMessage tests the client control protocol
func TestHandleMessage(t *testing.T) {
	c := newTestClient("")

	c.handleMessage([]byte(`{"type":"subscribe","vehicle_id":"VEH-9"}`))
	assert.True(t, c.WantsVehicle("VEH-9"))
	assert.False(t, c.WantsVehicle("VEH-1"))

	c.handleMessage([]byte(`{"type":"unsubscribe","vehicle_id":"VEH-9"}`))
	assert.True(t, c.WantsVehicle("VEH-1"), "an empty filter means the full feed")

	c.handleMessage([]byte(`{"type":"ping"}`))
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "pong", msg.Type)
	default:
		t.Fatal("ping did not queue a pong")
	}

	// Garbage and unknown types are ignored without panicking.
	c.handleMessage([]byte(`{{{`))
	c.handleMessage([]byte(`{"type":"mystery"}`))
}

// TestSendMessage_DropsWhenFull tests backpressure on a stalled client
func TestSendMessage_DropsWhenFull(t *testing.T) {
	c := newTestClient("")
	for i := 0; i < cap(c.Send); i++ {
		c.Send <- []byte("x")
	}

	c.SendMessage(Message{Type: "payment_result"})

	assert.Len(t, c.Send, cap(c.Send))
}

// TestNewClient tests construction
func TestNewClient(t *testing.T) {
	a := newTestClient("VEH-1")
	b := newTestClient("VEH-1")

	assert.NotEqual(t, a.ID, b.ID, "client ids are unique")
	assert.Equal(t, "VEH-1", a.initialFilter)
	assert.NotNil(t, a.Send)
}
