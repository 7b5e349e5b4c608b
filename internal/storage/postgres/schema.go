package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureProcessorSchema creates the geofence tables used by the toll
// processor. Safe to run on every startup.
func EnsureProcessorSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS toll_zones (
			zone_id     VARCHAR(64) PRIMARY KEY,
			zone_name   TEXT NOT NULL DEFAULT '',
			rate_per_km NUMERIC(10, 4) NOT NULL,
			geom        geometry(POLYGON, 4326) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_toll_zones_geom
			ON toll_zones USING GIST (geom)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure processor schema: %w", err)
		}
	}
	return nil
}

// EnsureBillingSchema creates the billing transaction table, its indexes
// and the last_updated trigger. Safe to run on every startup.
func EnsureBillingSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS billing_transactions (
			id                     BIGSERIAL PRIMARY KEY,
			toll_event_id          VARCHAR(64) NOT NULL UNIQUE,
			vehicle_id             VARCHAR(64) NOT NULL,
			amount                 NUMERIC(10, 2) NOT NULL,
			currency               VARCHAR(3) NOT NULL,
			status                 VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			transaction_time       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_updated           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			payment_gateway_ref    VARCHAR(128),
			payment_method_details VARCHAR(255),
			error_message          TEXT,
			retry_count            INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_billing_transactions_vehicle_id
			ON billing_transactions (vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_billing_transactions_status
			ON billing_transactions (status)`,
		`CREATE INDEX IF NOT EXISTS idx_billing_transactions_vehicle_status
			ON billing_transactions (vehicle_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_billing_transactions_gateway_ref
			ON billing_transactions (payment_gateway_ref)`,
		`CREATE OR REPLACE FUNCTION update_billing_transactions_last_updated()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.last_updated = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_billing_transactions_last_updated
			ON billing_transactions`,
		`CREATE TRIGGER trg_billing_transactions_last_updated
			BEFORE UPDATE ON billing_transactions
			FOR EACH ROW
			EXECUTE FUNCTION update_billing_transactions_last_updated()`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure billing schema: %w", err)
		}
	}
	return nil
}

// SeedDemoZone inserts the development toll zone used by the simulator
// route. Idempotent; existing rows are left untouched.
func SeedDemoZone(ctx context.Context, db *sql.DB) error {
	const query = `
		INSERT INTO toll_zones (zone_id, zone_name, rate_per_km, geom)
		VALUES (
			'ZoneA',
			'Downtown Core',
			0.15,
			ST_GeomFromText('POLYGON((-74.008 40.705, -74.002 40.705, -74.002 40.715, -74.008 40.715, -74.008 40.705))', 4326)
		)
		ON CONFLICT (zone_id) DO NOTHING`

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("seed demo zone: %w", err)
	}
	return nil
}
