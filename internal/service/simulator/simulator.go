package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/tollgrid/smarttoll/internal/domain/telemetry"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

// The demo route runs east-north-east through the seeded downtown zone
// (lon -74.008..-74.002, lat 40.705..40.715).
const (
	routeStartLat = 40.7000
	routeStartLon = -74.0100
	routeEndLat   = 40.7200
	routeEndLon   = -74.0000
)

// Config tunes the simulated fleet.
type Config struct {
	// Vehicles is the number of on-board units to drive simultaneously.
	Vehicles int

	// Steps splits the route; each vehicle emits Steps+1 fixes per pass.
	Steps int

	// Interval between fixes per vehicle.
	Interval time.Duration

	// Loop restarts the route after the last step instead of stopping.
	Loop bool

	// Seed fixes the jitter sequence; 0 seeds from the clock.
	Seed int64
}

// Publisher sends fixes to the raw GPS topic.
type Publisher interface {
	PublishFix(ctx context.Context, fix *telemetry.GpsFix) error
}

// Fleet simulates on-board units driving the demo route.
type Fleet struct {
	config Config
	pub    Publisher
	log    *logger.Logger
	rng    *rand.Rand
}

// NewFleet creates the simulated fleet.
func NewFleet(config Config, pub Publisher, log *logger.Logger) *Fleet {
	if config.Vehicles <= 0 {
		config.Vehicles = 3
	}
	if config.Steps <= 0 {
		config.Steps = 40
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Fleet{
		config: config,
		pub:    pub,
		log:    log.Named("simulator"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// FixAt builds the simulated sample for one vehicle at one route step.
func (f *Fleet) FixAt(vehicle, step int, now time.Time) *telemetry.GpsFix {
	lat, lon := f.position(step)
	speed := round1(30 + f.rng.Float64()*45)
	heading := round1(85 + f.rng.Float64()*10)
	altitude := round1(15 + f.rng.Float64()*10)
	quality := 5 + f.rng.Intn(8)

	return &telemetry.GpsFix{
		DeviceID:       fmt.Sprintf("OBU-%03d", vehicle+1),
		VehicleID:      fmt.Sprintf("SIM-VEH-%03d", vehicle+1),
		Timestamp:      now.UnixMilli(),
		Latitude:       lat,
		Longitude:      lon,
		SpeedKmph:      &speed,
		Heading:        &heading,
		AltitudeMeters: &altitude,
		GpsQuality:     &quality,
	}
}

// Run walks the fleet along the route, one fix per vehicle per interval.
// Returns nil once the route completes (unless looping), or the context
// error on cancellation.
func (f *Fleet) Run(ctx context.Context) error {
	f.log.Info("simulation started",
		logger.Int("vehicles", f.config.Vehicles),
		logger.Int("steps", f.config.Steps),
		logger.Duration("interval", f.config.Interval),
		logger.Bool("loop", f.config.Loop),
	)

	ticker := time.NewTicker(f.config.Interval)
	defer ticker.Stop()

	step := 0
	for {
		now := time.Now()
		for v := 0; v < f.config.Vehicles; v++ {
			fix := f.FixAt(v, step, now)
			if err := f.pub.PublishFix(ctx, fix); err != nil {
				// The producer already retried; drop this sample and move
				// on, sensor feeds tolerate gaps.
				f.log.Warn("fix publish failed",
					logger.String("vehicle_id", fix.VehicleID),
					logger.Err(err),
				)
			}
		}

		step++
		if step > f.config.Steps {
			if !f.config.Loop {
				f.log.Info("route complete, stopping")
				return nil
			}
			step = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// position interpolates along the route and adds a small GPS wobble.
func (f *Fleet) position(step int) (lat, lon float64) {
	fraction := float64(step) / float64(f.config.Steps)
	lat = routeStartLat + (routeEndLat-routeStartLat)*fraction
	lon = routeStartLon + (routeEndLon-routeStartLon)*fraction
	lat += (f.rng.Float64() - 0.5) * 0.0001
	lon += (f.rng.Float64() - 0.5) * 0.0001
	return round6(lat), round6(lon)
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
