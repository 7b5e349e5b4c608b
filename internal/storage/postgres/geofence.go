package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tollgrid/smarttoll/internal/domain/toll"
)

// GeofenceIndex resolves coordinates to toll zones via PostGIS containment.
type GeofenceIndex struct {
	db *sql.DB
}

// NewGeofenceIndex creates a geofence index backed by the toll_zones table.
func NewGeofenceIndex(db *sql.DB) *GeofenceIndex {
	return &GeofenceIndex{db: db}
}

// Lookup returns the zone containing the point, or nil when the point is
// outside every zone. Overlapping zones resolve to an arbitrary single
// winner; the LIMIT keeps the answer deterministic per query plan.
func (g *GeofenceIndex) Lookup(ctx context.Context, lat, lon float64) (*toll.Zone, error) {
	const query = `
		SELECT zone_id, zone_name, rate_per_km
		FROM toll_zones
		WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
		LIMIT 1`

	var zone toll.Zone
	// PostGIS points are (lon, lat).
	err := g.db.QueryRowContext(ctx, query, lon, lat).Scan(&zone.ZoneID, &zone.ZoneName, &zone.RatePerKm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("geofence lookup (%.6f, %.6f): %w", lat, lon, err)
	}
	return &zone, nil
}
