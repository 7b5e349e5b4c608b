package toll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers on the wire, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Zone is a geofenced toll zone with a per-kilometre rate.
type Zone struct {
	ZoneID    string  `json:"zone_id"`
	ZoneName  string  `json:"zone_name,omitempty"`
	RatePerKm float64 `json:"rate_per_km"`
}

// VehicleState is the per-vehicle traversal state kept in the keyed state
// store while the vehicle is inside a zone. It is created on zone entry,
// mutated on every in-zone fix, and deleted on exit or TTL expiry.
type VehicleState struct {
	InZone     bool    `json:"in_zone"`
	ZoneID     string  `json:"zone_id"`
	RatePerKm  float64 `json:"rate_per_km"`
	EntryTime  int64   `json:"entry_time"` // epoch ms
	DistanceKm float64 `json:"distance_km"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	LastUpdate int64   `json:"last_update"` // epoch ms
	DeviceID   string  `json:"device_id"`
}

// TollEvent announces one completed sojourn through a toll zone.
type TollEvent struct {
	EventID            string          `json:"event_id"`
	VehicleID          string          `json:"vehicle_id"`
	DeviceID           string          `json:"device_id"`
	ZoneID             string          `json:"zone_id"`
	EntryTime          int64           `json:"entry_time"` // epoch ms
	ExitTime           int64           `json:"exit_time"`  // epoch ms
	DistanceKm         float64         `json:"distance_km"`
	RatePerKm          float64         `json:"rate_per_km"`
	TollAmount         decimal.Decimal `json:"toll_amount"`
	Currency           string          `json:"currency"`
	ProcessedTimestamp int64           `json:"processed_timestamp"` // epoch ms
}

// ErrCorruptState marks stored vehicle state that no longer decodes.
var ErrCorruptState = errors.New("corrupt vehicle state")

// StateRepository is the keyed state store holding VehicleState per vehicle.
type StateRepository interface {
	// Get returns the state for a vehicle, or nil when absent.
	Get(ctx context.Context, vehicleID string) (*VehicleState, error)

	// Put stores the state and refreshes its TTL.
	Put(ctx context.Context, vehicleID string, state *VehicleState) error

	// Delete removes the state. Deleting absent state is not an error.
	Delete(ctx context.Context, vehicleID string) error
}

// GeofenceIndex answers point-in-polygon lookups against the zone table.
type GeofenceIndex interface {
	// Lookup returns the zone containing (lat, lon), or nil when outside
	// all zones.
	Lookup(ctx context.Context, lat, lon float64) (*Zone, error)
}

// CalculateAmount computes the toll for a sojourn in decimal arithmetic,
// rounding half-up to two fractional digits. Binary floating-point would
// round 1.5 km at 0.15/km to 0.22; the correct charge is 0.23.
func CalculateAmount(distanceKm, ratePerKm float64) decimal.Decimal {
	distance := decimal.NewFromFloat(distanceKm)
	rate := decimal.NewFromFloat(ratePerKm)
	return distance.Mul(rate).Round(2)
}

// DecodeEvent parses a TollEvent payload from the wire.
func DecodeEvent(payload []byte) (*TollEvent, error) {
	var event TollEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("malformed toll event payload: %w", err)
	}
	return &event, nil
}

// Validate checks the fields a billable event must carry.
func (e *TollEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("missing required field: event_id")
	}
	if e.VehicleID == "" {
		return fmt.Errorf("missing required field: vehicle_id")
	}
	if e.ZoneID == "" {
		return fmt.Errorf("missing required field: zone_id")
	}
	if e.EntryTime <= 0 {
		return fmt.Errorf("missing required field: entry_time")
	}
	if e.ExitTime < e.EntryTime {
		return fmt.Errorf("exit_time precedes entry_time")
	}
	if e.DistanceKm < 0 {
		return fmt.Errorf("distance_km must be non-negative: %f", e.DistanceKm)
	}
	if e.RatePerKm < 0 {
		return fmt.Errorf("rate_per_km must be non-negative: %f", e.RatePerKm)
	}
	if e.TollAmount.IsNegative() {
		return fmt.Errorf("toll_amount must be non-negative: %s", e.TollAmount)
	}
	if len(e.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code: %q", e.Currency)
	}
	return nil
}

// NewTollEvent builds the event emitted when a vehicle leaves a zone. The
// exit fix supplies the exit timestamp; distance is the full accumulated
// sojourn distance including the final segment.
func NewTollEvent(state *VehicleState, vehicleID string, exitTime int64, distanceKm float64, currency string) *TollEvent {
	return &TollEvent{
		EventID:            uuid.NewString(),
		VehicleID:          vehicleID,
		DeviceID:           state.DeviceID,
		ZoneID:             state.ZoneID,
		EntryTime:          state.EntryTime,
		ExitTime:           exitTime,
		DistanceKm:         distanceKm,
		RatePerKm:          state.RatePerKm,
		TollAmount:         CalculateAmount(distanceKm, state.RatePerKm),
		Currency:           currency,
		ProcessedTimestamp: time.Now().UnixMilli(),
	}
}
