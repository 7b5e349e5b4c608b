package tracker

import (
	"context"
	"fmt"

	"github.com/tollgrid/smarttoll/internal/domain/telemetry"
	"github.com/tollgrid/smarttoll/internal/domain/toll"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/metrics"
)

// Publisher delivers completed toll events downstream.
type Publisher interface {
	PublishTollEvent(ctx context.Context, event *toll.TollEvent) error
}

// Config holds tracker tuning.
type Config struct {
	Currency string
}

// Service runs the per-vehicle zone state machine. It must be driven
// serially per vehicle; partition assignment provides that upstream.
type Service struct {
	states  toll.StateRepository
	zones   toll.GeofenceIndex
	pub     Publisher
	metrics *metrics.ProcessorMetrics
	log     *logger.Logger
	config  Config
}

// NewService creates a zone tracker.
func NewService(states toll.StateRepository, zones toll.GeofenceIndex, pub Publisher, m *metrics.ProcessorMetrics, log *logger.Logger, config Config) *Service {
	if config.Currency == "" {
		config.Currency = "USD"
	}
	return &Service{
		states:  states,
		zones:   zones,
		pub:     pub,
		metrics: m,
		log:     log.Named("tracker"),
		config:  config,
	}
}

// Process advances the vehicle's zone state with one validated fix. A
// returned error is transient: the caller must not commit the offset and
// should retry the same record.
func (s *Service) Process(ctx context.Context, fix *telemetry.GpsFix) error {
	prior, err := s.states.Get(ctx, fix.VehicleID)
	if err != nil {
		return fmt.Errorf("load state for %s: %w", fix.VehicleID, err)
	}
	if prior != nil && !prior.InZone {
		prior = nil
	}

	zone := s.lookupZone(ctx, fix)

	switch {
	case prior == nil && zone == nil:
		return nil
	case prior == nil:
		return s.enterZone(ctx, fix, zone)
	case zone == nil:
		return s.exitZone(ctx, fix, prior)
	case zone.ZoneID == prior.ZoneID:
		return s.advanceInZone(ctx, fix, prior)
	default:
		// Crossed directly from one zone into another: close out the old
		// sojourn at this fix, then open a fresh one.
		if err := s.exitZone(ctx, fix, prior); err != nil {
			return err
		}
		return s.enterZone(ctx, fix, zone)
	}
}

// lookupZone resolves the fix position. Lookup failures degrade to
// "outside": missing a toll beats double-billing on a flaky geofence read.
func (s *Service) lookupZone(ctx context.Context, fix *telemetry.GpsFix) *toll.Zone {
	zone, err := s.zones.Lookup(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		s.metrics.GeofenceErrors.Inc()
		s.log.Warn("geofence lookup failed, treating position as outside",
			logger.String("vehicle_id", fix.VehicleID),
			logger.Err(err),
		)
		return nil
	}
	return zone
}

func (s *Service) enterZone(ctx context.Context, fix *telemetry.GpsFix, zone *toll.Zone) error {
	state := &toll.VehicleState{
		InZone:     true,
		ZoneID:     zone.ZoneID,
		RatePerKm:  zone.RatePerKm,
		EntryTime:  fix.Timestamp,
		DistanceKm: 0,
		Lat:        fix.Latitude,
		Lon:        fix.Longitude,
		LastUpdate: fix.Timestamp,
		DeviceID:   fix.DeviceID,
	}
	if err := s.states.Put(ctx, fix.VehicleID, state); err != nil {
		return fmt.Errorf("store entry state for %s: %w", fix.VehicleID, err)
	}

	s.metrics.ZoneEntries.WithLabelValues(zone.ZoneID).Inc()
	s.log.Info("vehicle entered toll zone",
		logger.String("vehicle_id", fix.VehicleID),
		logger.String("zone_id", zone.ZoneID),
	)
	return nil
}

func (s *Service) advanceInZone(ctx context.Context, fix *telemetry.GpsFix, prior *toll.VehicleState) error {
	prior.DistanceKm += Haversine(prior.Lat, prior.Lon, fix.Latitude, fix.Longitude)
	prior.Lat = fix.Latitude
	prior.Lon = fix.Longitude
	prior.LastUpdate = fix.Timestamp

	if err := s.states.Put(ctx, fix.VehicleID, prior); err != nil {
		return fmt.Errorf("update state for %s: %w", fix.VehicleID, err)
	}
	return nil
}

// exitZone closes out a sojourn. The triggering fix supplies the exit time
// and the final distance segment. The event is published before the state
// is deleted, so a crash between the two re-emits rather than drops.
func (s *Service) exitZone(ctx context.Context, fix *telemetry.GpsFix, prior *toll.VehicleState) error {
	distance := prior.DistanceKm + Haversine(prior.Lat, prior.Lon, fix.Latitude, fix.Longitude)
	event := toll.NewTollEvent(prior, fix.VehicleID, fix.Timestamp, distance, s.config.Currency)

	if err := s.pub.PublishTollEvent(ctx, event); err != nil {
		return fmt.Errorf("publish toll event for %s: %w", fix.VehicleID, err)
	}
	if err := s.states.Delete(ctx, fix.VehicleID); err != nil {
		return fmt.Errorf("clear state for %s: %w", fix.VehicleID, err)
	}

	s.metrics.ZoneExits.WithLabelValues(prior.ZoneID).Inc()
	s.metrics.TollEvents.WithLabelValues(prior.ZoneID).Inc()
	amount, _ := event.TollAmount.Float64()
	s.metrics.TollAmount.WithLabelValues(prior.ZoneID).Observe(amount)

	s.log.Info("toll event published",
		logger.String("vehicle_id", fix.VehicleID),
		logger.String("zone_id", prior.ZoneID),
		logger.String("event_id", event.EventID),
		logger.Float64("distance_km", distance),
		logger.String("toll_amount", event.TollAmount.StringFixed(2)),
	)
	return nil
}
