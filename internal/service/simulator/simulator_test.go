package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgrid/smarttoll/internal/domain/telemetry"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

// captureFixes records published fixes
type captureFixes struct {
	mu    sync.Mutex
	fixes []*telemetry.GpsFix
}

func (c *captureFixes) PublishFix(_ context.Context, fix *telemetry.GpsFix) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, fix)
	return nil
}

func (c *captureFixes) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fixes)
}

func newTestFleet(config Config, pub Publisher) *Fleet {
	if config.Seed == 0 {
		config.Seed = 1
	}
	return NewFleet(config, pub, logger.NewNop())
}

// TestFixAt_FieldsWithinBounds tests jitter ranges and identifier formats
func TestFixAt_FieldsWithinBounds(t *testing.T) {
	fleet := newTestFleet(Config{Vehicles: 3, Steps: 40, Interval: time.Second}, &captureFixes{})
	now := time.Now()

	for step := 0; step <= 40; step++ {
		fix := fleet.FixAt(step%3, step, now)

		assert.Regexp(t, `^OBU-\d{3}$`, fix.DeviceID)
		assert.Regexp(t, `^SIM-VEH-\d{3}$`, fix.VehicleID)
		assert.Equal(t, now.UnixMilli(), fix.Timestamp)

		assert.GreaterOrEqual(t, fix.Latitude, routeStartLat-0.001)
		assert.LessOrEqual(t, fix.Latitude, routeEndLat+0.001)
		assert.GreaterOrEqual(t, fix.Longitude, routeStartLon-0.001)
		assert.LessOrEqual(t, fix.Longitude, routeEndLon+0.001)

		require.NotNil(t, fix.SpeedKmph)
		assert.GreaterOrEqual(t, *fix.SpeedKmph, 30.0)
		assert.LessOrEqual(t, *fix.SpeedKmph, 75.0)

		require.NotNil(t, fix.Heading)
		assert.GreaterOrEqual(t, *fix.Heading, 85.0)
		assert.LessOrEqual(t, *fix.Heading, 95.0)

		require.NotNil(t, fix.AltitudeMeters)
		assert.GreaterOrEqual(t, *fix.AltitudeMeters, 15.0)
		assert.LessOrEqual(t, *fix.AltitudeMeters, 25.0)

		require.NotNil(t, fix.GpsQuality)
		assert.GreaterOrEqual(t, *fix.GpsQuality, 5)
		assert.LessOrEqual(t, *fix.GpsQuality, 12)
	}
}

// TestFixAt_PassesValidation tests that simulated fixes survive ingest checks
func TestFixAt_PassesValidation(t *testing.T) {
	fleet := newTestFleet(Config{Vehicles: 1, Steps: 40, Interval: time.Second}, &captureFixes{})
	now := time.Now()

	for step := 0; step <= 40; step++ {
		fix := fleet.FixAt(0, step, now)
		assert.NoError(t, fix.Validate(now, 10*time.Minute, time.Minute))
	}
}

// TestRoute_CrossesDemoZone tests that the midpath sits inside the seeded zone
func TestRoute_CrossesDemoZone(t *testing.T) {
	fleet := newTestFleet(Config{Vehicles: 1, Steps: 40, Interval: time.Second}, &captureFixes{})

	inZone := 0
	for step := 0; step <= 40; step++ {
		lat, lon := fleet.position(step)
		if lat > 40.705 && lat < 40.715 && lon > -74.008 && lon < -74.002 {
			inZone++
		}
	}
	assert.Greater(t, inZone, 10, "a good portion of the route must cross the zone")
}

// TestRun_CompletesRoute tests that a non-looping run stops by itself
func TestRun_CompletesRoute(t *testing.T) {
	pub := &captureFixes{}
	fleet := newTestFleet(Config{Vehicles: 2, Steps: 3, Interval: time.Millisecond}, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := fleet.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 8, pub.count(), "2 vehicles x 4 route points")
}

// TestRun_LoopsUntilCancelled tests the looping profile
func TestRun_LoopsUntilCancelled(t *testing.T) {
	pub := &captureFixes{}
	fleet := newTestFleet(Config{Vehicles: 1, Steps: 2, Interval: time.Millisecond, Loop: true}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- fleet.Run(ctx) }()

	// Let it lap the route a few times.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop after cancellation")
	}
	assert.Greater(t, pub.count(), 3, "looping must re-walk the route")
}
