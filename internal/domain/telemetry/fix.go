package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GpsFix is a single GPS sample reported by an on-board unit.
type GpsFix struct {
	DeviceID       string   `json:"device_id"`
	VehicleID      string   `json:"vehicle_id"`
	Timestamp      int64    `json:"timestamp"` // epoch milliseconds, UTC
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	SpeedKmph      *float64 `json:"speed_kmph,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	AltitudeMeters *float64 `json:"altitude_meters,omitempty"`
	GpsQuality     *int     `json:"gps_quality,omitempty"`
}

var (
	ErrStaleFix  = errors.New("gps fix timestamp is stale")
	ErrFutureFix = errors.New("gps fix timestamp is in the future")
)

// Decode parses a raw GPS payload into a GpsFix.
func Decode(payload []byte) (*GpsFix, error) {
	var fix GpsFix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return nil, fmt.Errorf("malformed gps payload: %w", err)
	}
	return &fix, nil
}

// Validate checks required fields, coordinate ranges, and the timestamp
// freshness window [now-maxAge, now+maxSkew].
func (f *GpsFix) Validate(now time.Time, maxAge, maxSkew time.Duration) error {
	if f.VehicleID == "" {
		return fmt.Errorf("missing required field: vehicle_id")
	}
	if f.DeviceID == "" {
		return fmt.Errorf("missing required field: device_id")
	}
	if f.Timestamp <= 0 {
		return fmt.Errorf("missing required field: timestamp")
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %f", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %f", f.Longitude)
	}
	if f.SpeedKmph != nil && *f.SpeedKmph < 0 {
		return fmt.Errorf("speed_kmph must be non-negative: %f", *f.SpeedKmph)
	}
	if f.GpsQuality != nil && *f.GpsQuality < 0 {
		return fmt.Errorf("gps_quality must be non-negative: %d", *f.GpsQuality)
	}

	ts := f.Time()
	if ts.Before(now.Add(-maxAge)) {
		return fmt.Errorf("%w: fix is %s old", ErrStaleFix, now.Sub(ts).Round(time.Second))
	}
	if ts.After(now.Add(maxSkew)) {
		return fmt.Errorf("%w: fix is %s ahead", ErrFutureFix, ts.Sub(now).Round(time.Second))
	}
	return nil
}

// Time returns the fix timestamp as a time.Time.
func (f *GpsFix) Time() time.Time {
	return time.UnixMilli(f.Timestamp).UTC()
}
